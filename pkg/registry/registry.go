// Package registry holds the declarations recovered from a binary, bound to
// their target addresses, together with the runtime state the live session
// loop keeps for each of them.
package registry

import (
	"errors"
	"fmt"
	"math"

	"github.com/probeplot/probeplot-go/pkg/expr"
	"github.com/probeplot/probeplot-go/pkg/numeric"
	"github.com/probeplot/probeplot-go/pkg/symbol"
)

// Registry errors.
var (
	// ErrMissingExpr indicates a metric or graph added without a compiled formula.
	ErrMissingExpr = errors.New("missing compiled expression")

	// ErrUnknownDeclaration indicates a declaration type the registry cannot hold.
	ErrUnknownDeclaration = errors.New("unknown declaration type")
)

// Status is the result of recording a new value.
type Status uint8

const (
	// StatusSameAsLast means the value equals the previous one and is not emitted.
	StatusSameAsLast Status = iota

	// StatusNew means the value changed and must be emitted.
	StatusNew
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusSameAsLast:
		return "SAME_AS_LAST"
	case StatusNew:
		return "NEW"
	default:
		return "UNKNOWN"
	}
}

// track records v as the latest value. Equality is exact, so NaN never
// equals NaN and the first update after creation always reports StatusNew.
func track(last *float64, v float64) Status {
	if *last == v {
		return StatusSameAsLast
	}
	*last = v
	return StatusNew
}

// Metric is a read-only live value bound to its address.
type Metric struct {
	Decl    symbol.Metric
	Address uint64
	Size    uint64
	Expr    *expr.Expr

	// LastValue is the last emitted transformed value, NaN until the first evaluation.
	LastValue float64
}

// Name returns the declared name.
func (m *Metric) Name() string { return m.Decl.Name }

// Kind returns the storage kind.
func (m *Metric) Kind() numeric.Kind { return m.Decl.Kind }

// Update records v and reports whether it changed.
func (m *Metric) Update(v float64) Status { return track(&m.LastValue, v) }

// Setting is a read/write live value bound to its address.
type Setting struct {
	Decl    symbol.Setting
	Address uint64
	Size    uint64

	// Value is the last value read from the target, NaN until attach.
	Value float64
}

// Name returns the declared name.
func (s *Setting) Name() string { return s.Decl.Name }

// Kind returns the storage kind.
func (s *Setting) Kind() numeric.Kind { return s.Decl.Kind }

// Update records v and reports whether it changed.
func (s *Setting) Update(v float64) Status { return track(&s.Value, v) }

// Graph is a host-side formula over metric and setting names.
type Graph struct {
	Decl symbol.Graph
	Expr *expr.Expr

	// LastValue is the last emitted value, NaN until the first evaluation.
	LastValue float64
}

// Name returns the declared name.
func (g *Graph) Name() string { return g.Decl.Name }

// Update records v and reports whether it changed.
func (g *Graph) Update(v float64) Status { return track(&g.LastValue, v) }

// Duplicate records a declared name seen more than once.
type Duplicate struct {
	Name  string
	First symbol.Tag
	Again symbol.Tag
}

// SettingState is a copy of a setting's presentation data and current value.
type SettingState struct {
	Name  string
	Kind  numeric.Kind
	Range symbol.Range
	Step  float64
	Value float64
}

// Registry owns the resolved entries in symbol-table discovery order.
// It is not safe for concurrent use; the session loop owns it.
type Registry struct {
	metrics  []*Metric
	settings []*Setting
	graphs   []*Graph

	seen       map[string]symbol.Tag
	duplicates []Duplicate
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{seen: make(map[string]symbol.Tag)}
}

// Add appends a resolved declaration. Metrics and graphs require a compiled
// expression; settings ignore e. Graphs have no address or size.
// Duplicate names are kept and recorded.
func (r *Registry) Add(d symbol.Declaration, address, size uint64, e *expr.Expr) error {
	switch d := d.(type) {
	case symbol.Metric:
		if e == nil {
			return fmt.Errorf("add metric %s: %w", d.Name, ErrMissingExpr)
		}
		r.metrics = append(r.metrics, &Metric{
			Decl:      d,
			Address:   address,
			Size:      size,
			Expr:      e,
			LastValue: math.NaN(),
		})
	case symbol.Setting:
		r.settings = append(r.settings, &Setting{
			Decl:    d,
			Address: address,
			Size:    size,
			Value:   math.NaN(),
		})
	case symbol.Graph:
		if e == nil {
			return fmt.Errorf("add graph %s: %w", d.Name, ErrMissingExpr)
		}
		r.graphs = append(r.graphs, &Graph{
			Decl:      d,
			Expr:      e,
			LastValue: math.NaN(),
		})
	default:
		return fmt.Errorf("add %T: %w", d, ErrUnknownDeclaration)
	}

	name := d.DeclaredName()
	if first, ok := r.seen[name]; ok {
		r.duplicates = append(r.duplicates, Duplicate{Name: name, First: first, Again: d.Tag()})
	} else {
		r.seen[name] = d.Tag()
	}
	return nil
}

// Metrics returns the metrics in discovery order.
func (r *Registry) Metrics() []*Metric { return r.metrics }

// Settings returns the settings in discovery order.
func (r *Registry) Settings() []*Setting { return r.settings }

// Graphs returns the graphs in discovery order.
func (r *Registry) Graphs() []*Graph { return r.graphs }

// Duplicates returns every repeated name in the order it was encountered.
func (r *Registry) Duplicates() []Duplicate { return r.duplicates }

// Len returns the total number of entries.
func (r *Registry) Len() int {
	return len(r.metrics) + len(r.settings) + len(r.graphs)
}

// Setting returns the first setting declared under name.
func (r *Registry) Setting(name string) (*Setting, bool) {
	for _, s := range r.settings {
		if s.Decl.Name == name {
			return s, true
		}
	}
	return nil, false
}

// Names returns every declared name in discovery order, metrics first,
// then settings, then graphs.
func (r *Registry) Names() []string {
	names := r.InputNames()
	for _, g := range r.graphs {
		names = append(names, g.Decl.Name)
	}
	return names
}

// InputNames returns the metric and setting names in discovery order.
// These are the only names bound while formulas are evaluated.
func (r *Registry) InputNames() []string {
	names := make([]string, 0, r.Len())
	for _, m := range r.metrics {
		names = append(names, m.Decl.Name)
	}
	for _, s := range r.settings {
		names = append(names, s.Decl.Name)
	}
	return names
}

// Snapshot returns a copy of every setting's state.
func (r *Registry) Snapshot() []SettingState {
	out := make([]SettingState, len(r.settings))
	for i, s := range r.settings {
		out[i] = SettingState{
			Name:  s.Decl.Name,
			Kind:  s.Decl.Kind,
			Range: s.Decl.Range,
			Step:  s.Decl.Step,
			Value: s.Value,
		}
	}
	return out
}
