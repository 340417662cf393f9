package expr

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEval(t *testing.T) {
	tests := []struct {
		input string
		want  float64
	}{
		{"5", 5},
		{"1.5e3", 1500},
		{".25", 0.25},
		{"-5", -5},
		{"+5", 5},
		{"1 + 2 * 3", 7},
		{"(1 + 2) * 3", 9},
		{"10 - 4 - 3", 3},
		{"12 / 4 / 3", 1},
		{"7 % 3", 1},
		{"-7 % 3", -1},
		{"2 ^ 3 ^ 2", 512},
		{"-2 ^ 2", -4},
		{"2 ^ -1", 0.5},
		{"(-2) ^ 2", 4},
		{"--3", 3},
		{"sqrt(16) + abs(-2)", 6},
		{"min(4, 2, 9)", 2},
		{"max(4, 2, 9)", 9},
		{"pow(2, 10)", 1024},
		{"mod(10, 4)", 2},
		{"atan2(0, 1)", 0},
		{"round(2.5)", 3},
		{"floor(-1.5) + ceil(1.2)", 0},
		{"log(1000)", 3},
		{"ln(e)", 1},
		{"tau / pi", 2},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			e, err := Parse(tt.input)
			require.NoError(t, err)
			got, err := e.Eval(nil)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-12)
		})
	}
}

func TestEvalBindings(t *testing.T) {
	e := MustParse("sin(pi / 2) * FOO + BAR_2")
	got, err := e.Eval(Bindings{"FOO": 21, "BAR_2": 0.5})
	require.NoError(t, err)
	assert.InDelta(t, 21.5, got, 1e-12)
	assert.Equal(t, []string{"FOO", "BAR_2"}, e.Vars())
}

func TestEvalIsRepeatable(t *testing.T) {
	e := MustParse("x * 2 + y")
	for i := 0; i < 3; i++ {
		got, err := e.Eval(Bindings{"x": float64(i), "y": 1})
		require.NoError(t, err)
		assert.Equal(t, float64(i*2+1), got)
	}
}

func TestConstantsShadowBindings(t *testing.T) {
	e := MustParse("pi")
	got, err := e.Eval(Bindings{"pi": 3})
	require.NoError(t, err)
	assert.Equal(t, math.Pi, got)
	assert.Empty(t, e.Vars())
}

func TestUnbound(t *testing.T) {
	e := MustParse("FOO + BAR")
	_, err := e.Eval(Bindings{"FOO": 1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnbound))

	var ue *UnboundError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, "BAR", ue.Name)

	assert.NoError(t, DryRun(e, "FOO", "BAR"))
	assert.ErrorIs(t, DryRun(e, "FOO"), ErrUnbound)
}

func TestIEEEArithmetic(t *testing.T) {
	got, err := MustParse("1 / 0").Eval(nil)
	require.NoError(t, err)
	assert.True(t, math.IsInf(got, 1))

	got, err = MustParse("0 / 0").Eval(nil)
	require.NoError(t, err)
	assert.True(t, math.IsNaN(got))

	got, err = MustParse("sqrt(x)").Eval(Bindings{"x": -1})
	require.NoError(t, err)
	assert.True(t, math.IsNaN(got))
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		input string
		pos   int
	}{
		{"", 0},
		{"1 +", 3},
		{"(1 + 2", 6},
		{"1 2", 2},
		{"1 + * 2", 4},
		{"foo(1)", 0},
		{"sin(1, 2)", 0},
		{"atan2(1)", 0},
		{"min()", 0},
		{"sin", 0},
		{"1 # 2", 2},
		{"sin(1,)", 6},
		{"1e+", 0},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			_, err := Parse(tt.input)
			require.Error(t, err)
			var pe *ParseError
			require.True(t, errors.As(err, &pe), "got %T", err)
			assert.Equal(t, tt.pos, pe.Pos, pe.Msg)
		})
	}
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "1 2 3 * +", MustParse("1 + 2 * 3").Describe())
	assert.Equal(t, "x neg 2 ^", MustParse("(-x) ^ 2").Describe())
	assert.Equal(t, "a b max/2", MustParse("max(a, b)").Describe())
}

func TestIsReserved(t *testing.T) {
	assert.True(t, IsReserved("sin"))
	assert.True(t, IsReserved("pi"))
	assert.False(t, IsReserved("FOO"))
}

func TestLexer(t *testing.T) {
	l := NewLexer("a1 + 2.5e-3*(b)")
	want := []struct {
		typ TokenType
		lit string
		pos int
	}{
		{IDENT, "a1", 0},
		{PLUS, "+", 3},
		{NUMBER, "2.5e-3", 5},
		{ASTERISK, "*", 11},
		{LPAREN, "(", 12},
		{IDENT, "b", 13},
		{RPAREN, ")", 14},
		{EOF, "", 15},
	}
	for _, w := range want {
		tok := l.NextToken()
		assert.Equal(t, w.typ, tok.Type)
		assert.Equal(t, w.lit, tok.Literal)
		assert.Equal(t, w.pos, tok.Position)
	}
}
