package registry

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/probeplot/probeplot-go/pkg/expr"
	"github.com/probeplot/probeplot-go/pkg/numeric"
	"github.com/probeplot/probeplot-go/pkg/symbol"
)

func TestAddPreservesDiscoveryOrder(t *testing.T) {
	r := New()
	require.NoError(t, r.Add(symbol.Metric{Name: "B", Kind: numeric.KindU8}, 0x10, 1, expr.MustParse("B")))
	require.NoError(t, r.Add(symbol.Setting{Name: "S", Kind: numeric.KindI8, Range: symbol.Range{Start: -1, End: 7}, Step: 2}, 0x20, 1, nil))
	require.NoError(t, r.Add(symbol.Metric{Name: "A", Kind: numeric.KindI32}, 0x14, 4, expr.MustParse("A")))
	require.NoError(t, r.Add(symbol.Graph{Name: "G", Expr: "A + B"}, 0, 0, expr.MustParse("A + B")))

	require.Len(t, r.Metrics(), 2)
	assert.Equal(t, "B", r.Metrics()[0].Name())
	assert.Equal(t, "A", r.Metrics()[1].Name())
	assert.Equal(t, uint64(0x14), r.Metrics()[1].Address)
	assert.Equal(t, []string{"B", "A", "S", "G"}, r.Names())
	assert.Equal(t, []string{"B", "A", "S"}, r.InputNames())
	assert.Equal(t, 4, r.Len())
	assert.Empty(t, r.Duplicates())

	for _, m := range r.Metrics() {
		assert.True(t, math.IsNaN(m.LastValue))
	}
	assert.True(t, math.IsNaN(r.Settings()[0].Value))
	assert.True(t, math.IsNaN(r.Graphs()[0].LastValue))
}

func TestAddRequiresExpression(t *testing.T) {
	r := New()
	assert.ErrorIs(t, r.Add(symbol.Metric{Name: "M"}, 0, 0, nil), ErrMissingExpr)
	assert.ErrorIs(t, r.Add(symbol.Graph{Name: "G", Expr: "1"}, 0, 0, nil), ErrMissingExpr)
	assert.ErrorIs(t, r.Add(nil, 0, 0, nil), ErrUnknownDeclaration)
	assert.Zero(t, r.Len())
}

func TestDuplicatesAreKept(t *testing.T) {
	r := New()
	require.NoError(t, r.Add(symbol.Metric{Name: "X", Kind: numeric.KindU8}, 0x10, 1, expr.MustParse("X")))
	require.NoError(t, r.Add(symbol.Setting{Name: "X", Kind: numeric.KindU8}, 0x11, 1, nil))
	require.NoError(t, r.Add(symbol.Metric{Name: "X", Kind: numeric.KindU8}, 0x12, 1, expr.MustParse("X")))

	assert.Len(t, r.Metrics(), 2)
	assert.Len(t, r.Settings(), 1)
	assert.Equal(t, []Duplicate{
		{Name: "X", First: symbol.TagMetric, Again: symbol.TagSetting},
		{Name: "X", First: symbol.TagMetric, Again: symbol.TagMetric},
	}, r.Duplicates())
}

func TestUpdateChangeDetection(t *testing.T) {
	m := &Metric{LastValue: math.NaN()}

	// The first update always reports StatusNew, even for NaN.
	assert.Equal(t, StatusNew, m.Update(math.NaN()))
	assert.Equal(t, StatusNew, m.Update(math.NaN()))

	assert.Equal(t, StatusNew, m.Update(42))
	assert.Equal(t, StatusSameAsLast, m.Update(42))
	assert.Equal(t, float64(42), m.LastValue)
	assert.Equal(t, StatusNew, m.Update(41))

	g := &Graph{LastValue: math.NaN()}
	assert.Equal(t, StatusNew, g.Update(0))
	assert.Equal(t, StatusSameAsLast, g.Update(0))
}

func TestSettingLookupAndSnapshot(t *testing.T) {
	r := New()
	decl := symbol.Setting{Name: "GAIN", Kind: numeric.KindI8, Range: symbol.Range{Start: -1, End: 7}, Step: 2}
	require.NoError(t, r.Add(decl, 0x20, 1, nil))

	s, ok := r.Setting("GAIN")
	require.True(t, ok)
	s.Update(3)

	_, ok = r.Setting("MISSING")
	assert.False(t, ok)

	snap := r.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, SettingState{Name: "GAIN", Kind: numeric.KindI8, Range: decl.Range, Step: 2, Value: 3}, snap[0])

	// Snapshots are copies.
	snap[0].Value = 99
	assert.Equal(t, float64(3), s.Value)
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "NEW", StatusNew.String())
	assert.Equal(t, "SAME_AS_LAST", StatusSameAsLast.String())
}
