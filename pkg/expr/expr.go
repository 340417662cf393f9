// Package expr parses and evaluates the arithmetic formulas attached to
// metrics and graphs.
//
// A formula is parsed once into a postfix program and evaluated many times
// against an explicit set of bindings:
//
//	e, err := expr.Parse("VOLTAGE * 3.3 / 4096")
//	v, err := e.Eval(expr.Bindings{"VOLTAGE": 2048})
//
// The names pi, e and tau are constants. They are folded when the formula
// is parsed and cannot be overridden by a binding.
package expr

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrUnbound indicates that a formula referenced a name with no binding.
var ErrUnbound = errors.New("unbound variable")

// ParseError describes a syntax error at a byte offset in the formula.
type ParseError struct {
	Pos int
	Msg string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at %d: %s", e.Pos, e.Msg)
}

// UnboundError names the variable that had no binding.
type UnboundError struct {
	Name string
}

func (e *UnboundError) Error() string {
	return fmt.Sprintf("unbound variable %q", e.Name)
}

// Is makes errors.Is(err, ErrUnbound) hold.
func (e *UnboundError) Is(target error) bool {
	return target == ErrUnbound
}

// Bindings maps variable names to values.
type Bindings map[string]float64

type opcode uint8

const (
	opPush opcode = iota
	opLoad
	opNeg
	opAdd
	opSub
	opMul
	opDiv
	opMod
	opPow
	opCall
)

type instr struct {
	op   opcode
	num  float64
	name string
	fn   *function
	argc int
}

// Expr is a compiled formula. It is immutable and safe for concurrent use.
type Expr struct {
	source string
	prog   []instr
	depth  int
	vars   []string
}

// Parse compiles text into an Expr.
func Parse(text string) (*Expr, error) {
	p := NewParser(NewLexer(text))
	prog := p.parseProgram()
	if errs := p.Errors(); len(errs) > 0 {
		return nil, errs[0]
	}

	e := &Expr{source: text, prog: prog}
	seen := make(map[string]bool)
	depth := 0
	for _, in := range prog {
		switch in.op {
		case opPush, opLoad:
			depth++
		case opAdd, opSub, opMul, opDiv, opMod, opPow:
			depth--
		case opCall:
			depth -= in.argc - 1
		}
		if depth > e.depth {
			e.depth = depth
		}
		if in.op == opLoad && !seen[in.name] {
			seen[in.name] = true
			e.vars = append(e.vars, in.name)
		}
	}
	return e, nil
}

// MustParse is like Parse but panics on error. It is intended for tests and
// package-level formulas.
func MustParse(text string) *Expr {
	e, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return e
}

// String returns the formula source.
func (e *Expr) String() string {
	return e.source
}

// Vars returns the variable names the formula references, in order of
// first appearance.
func (e *Expr) Vars() []string {
	return append([]string(nil), e.vars...)
}

// Eval evaluates the formula against b. Arithmetic follows IEEE-754, so
// division by zero yields an infinity or NaN rather than an error.
func (e *Expr) Eval(b Bindings) (float64, error) {
	stack := make([]float64, 0, e.depth)
	for _, in := range e.prog {
		switch in.op {
		case opPush:
			stack = append(stack, in.num)
		case opLoad:
			v, ok := b[in.name]
			if !ok {
				return math.NaN(), &UnboundError{Name: in.name}
			}
			stack = append(stack, v)
		case opNeg:
			stack[len(stack)-1] = -stack[len(stack)-1]
		case opCall:
			base := len(stack) - in.argc
			v := in.fn.call(stack[base:])
			stack = append(stack[:base], v)
		default:
			n := len(stack)
			l, r := stack[n-2], stack[n-1]
			stack = stack[:n-1]
			stack[n-2] = arith(in.op, l, r)
		}
	}
	return stack[0], nil
}

func arith(op opcode, l, r float64) float64 {
	switch op {
	case opAdd:
		return l + r
	case opSub:
		return l - r
	case opMul:
		return l * r
	case opDiv:
		return l / r
	case opMod:
		return math.Mod(l, r)
	case opPow:
		return math.Pow(l, r)
	default:
		return math.NaN()
	}
}

// DryRun evaluates e with every name in names bound to zero. It returns the
// first unbound variable error, if any.
func DryRun(e *Expr, names ...string) error {
	b := make(Bindings, len(names))
	for _, n := range names {
		b[n] = 0
	}
	_, err := e.Eval(b)
	return err
}

// Describe formats the compiled program for debugging.
func (e *Expr) Describe() string {
	var sb strings.Builder
	for i, in := range e.prog {
		if i > 0 {
			sb.WriteByte(' ')
		}
		switch in.op {
		case opPush:
			fmt.Fprintf(&sb, "%g", in.num)
		case opLoad:
			sb.WriteString(in.name)
		case opNeg:
			sb.WriteString("neg")
		case opCall:
			fmt.Fprintf(&sb, "%s/%d", in.fn.name, in.argc)
		default:
			sb.WriteString(opSymbols[in.op])
		}
	}
	return sb.String()
}

var opSymbols = map[opcode]string{
	opAdd: "+",
	opSub: "-",
	opMul: "*",
	opDiv: "/",
	opMod: "%",
	opPow: "^",
}
