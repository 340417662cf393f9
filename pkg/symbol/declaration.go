package symbol

import (
	"fmt"

	"github.com/probeplot/probeplot-go/pkg/numeric"
)

// Tag names the declaration variant in the encoded record.
type Tag string

const (
	TagMetric  Tag = "Metric"
	TagSetting Tag = "Setting"
	TagGraph   Tag = "Graph"
)

// Declaration is a typed description of a live value or display formula
// recovered from a symbol name. It is one of Metric, Setting or Graph.
type Declaration interface {
	// DeclaredName returns the name the firmware gave the declaration.
	DeclaredName() string

	// Tag returns the variant tag.
	Tag() Tag

	isDeclaration()
}

// Origin identifies where a declaration was instantiated.
type Origin struct {
	// Package is the build package that instantiated the declaration.
	Package string

	// CrateName is the compilation unit inside the package.
	CrateName string

	// Disambiguator separates otherwise identical declarations in the same unit.
	Disambiguator uint64
}

// Range is an inclusive numeric interval.
type Range struct {
	Start float64
	End   float64
}

// Contains reports whether x lies within the range.
func (r Range) Contains(x float64) bool {
	return x >= r.Start && x <= r.End
}

// Metric is a read-only live value.
type Metric struct {
	Origin
	Name string
	Kind numeric.Kind

	// Expr transforms the raw value for display. Empty means pass-through.
	Expr string
}

// Setting is a read/write live value with declared operating bounds.
type Setting struct {
	Origin
	Name  string
	Kind  numeric.Kind
	Range Range
	Step  float64
}

// Graph is a host-side formula over metric and setting names.
type Graph struct {
	Origin
	Name string
	Expr string
}

func (m Metric) DeclaredName() string  { return m.Name }
func (s Setting) DeclaredName() string { return s.Name }
func (g Graph) DeclaredName() string   { return g.Name }

func (Metric) Tag() Tag  { return TagMetric }
func (Setting) Tag() Tag { return TagSetting }
func (Graph) Tag() Tag   { return TagGraph }

func (Metric) isDeclaration()  {}
func (Setting) isDeclaration() {}
func (Graph) isDeclaration()   {}

// FormulaOf returns the formula a metric is evaluated with. A metric
// without a formula passes its raw value through under its own name.
func FormulaOf(m Metric) string {
	if m.Expr == "" {
		return m.Name
	}
	return m.Expr
}

// Describe returns a short human-readable description of d.
func Describe(d Declaration) string {
	switch d := d.(type) {
	case Metric:
		return fmt.Sprintf("metric %s: %s = %q", d.Name, d.Kind, FormulaOf(d))
	case Setting:
		return fmt.Sprintf("setting %s: %s in [%g, %g] step %g", d.Name, d.Kind, d.Range.Start, d.Range.End, d.Step)
	case Graph:
		return fmt.Sprintf("graph %s = %q", d.Name, d.Expr)
	default:
		return fmt.Sprintf("unknown declaration %T", d)
	}
}

// Compile-time interface satisfaction checks.
var (
	_ Declaration = Metric{}
	_ Declaration = Setting{}
	_ Declaration = Graph{}
)
