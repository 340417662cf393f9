// Package scanner recovers declarations from the symbol table of a compiled
// firmware image and binds them to their target addresses.
//
// Scanning is strict: any symbol that carries a declaration tag but does not
// decode, names an unsupported kind, or has a formula that does not compile
// or references the wrong name aborts the scan. Symbols that are not
// declarations at all are skipped.
package scanner

import (
	"bytes"
	"debug/elf"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/probeplot/probeplot-go/pkg/expr"
	"github.com/probeplot/probeplot-go/pkg/registry"
	"github.com/probeplot/probeplot-go/pkg/symbol"
)

// DefaultLogSection is the section holding log frame index symbols.
const DefaultLogSection = ".probe_log"

// Scanner errors.
var (
	// ErrNotELF indicates input that is not an ELF image.
	ErrNotELF = errors.New("not an ELF image")

	// ErrReservedName indicates a metric or setting named after a builtin
	// function or constant, which formulas could never read.
	ErrReservedName = errors.New("name is reserved by the formula language")

	// ErrGraphReference indicates a graph formula that references a graph.
	// Graph values are never bound, so such a formula cannot evaluate.
	ErrGraphReference = errors.New("graph formula references a graph")
)

// Options configures a scan.
type Options struct {
	// LogSection names the section whose symbol addresses are log frame
	// indices. Empty means DefaultLogSection.
	LogSection string

	// Logger receives skipped-symbol and warning messages. Nil discards them.
	Logger *slog.Logger
}

func (o *Options) applyDefaults() {
	if o.LogSection == "" {
		o.LogSection = DefaultLogSection
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
}

// ScanError names the declaration that made a scan fail.
type ScanError struct {
	// Symbol is the raw symbol name.
	Symbol string

	// Declaration describes the declaration, empty if it did not decode.
	Declaration string

	Err error
}

func (e *ScanError) Error() string {
	if e.Declaration != "" {
		return fmt.Sprintf("scan %s: %v", e.Declaration, e.Err)
	}
	return fmt.Sprintf("scan: %v", e.Err)
}

func (e *ScanError) Unwrap() error {
	return e.Err
}

// Result is the outcome of a successful scan.
type Result struct {
	Registry *registry.Registry

	// LogIndices are the addresses of symbols in the log section, sorted.
	LogIndices []uint64

	symbols map[string]uint64
}

// Symbol returns the address of the first symbol named name.
func (r *Result) Symbol(name string) (uint64, bool) {
	addr, ok := r.symbols[name]
	return addr, ok
}

// Scan parses data as an ELF image and scans it.
func Scan(data []byte, opts Options) (*Result, error) {
	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotELF, err)
	}
	defer f.Close()
	return ScanFile(f, opts)
}

// ScanFile scans the symbol table of f in table order.
func ScanFile(f *elf.File, opts Options) (*Result, error) {
	opts.applyDefaults()
	log := opts.Logger

	res := &Result{
		Registry: registry.New(),
		symbols:  make(map[string]uint64),
	}

	syms, err := f.Symbols()
	if errors.Is(err, elf.ErrNoSymbols) {
		log.Warn("image has no symbol table")
		return res, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read symbol table: %w", err)
	}

	var graphs []*expr.Expr
	var graphDecls []symbol.Graph
	logIndices := make(map[uint64]bool)

	for _, sym := range syms {
		if _, ok := res.symbols[sym.Name]; !ok && sym.Name != "" {
			res.symbols[sym.Name] = sym.Value
		}
		if inSection(f, sym, opts.LogSection) {
			logIndices[sym.Value] = true
			continue
		}

		d, err := symbol.Decode(sym.Name)
		if symbol.IsFiltered(err) {
			log.Debug("skip symbol", slog.String("symbol", sym.Name))
			continue
		}
		if err != nil {
			return nil, &ScanError{Symbol: sym.Name, Err: err}
		}

		if err := checkReserved(d); err != nil {
			return nil, &ScanError{Symbol: sym.Name, Declaration: label(d), Err: err}
		}

		switch d := d.(type) {
		case symbol.Metric:
			checkSize(log, d.Name, d.Kind.Width(), sym.Size)
			e, err := compile(symbol.FormulaOf(d), sym.Name, d)
			if err != nil {
				return nil, err
			}
			if err := expr.DryRun(e, d.Name); err != nil {
				return nil, &ScanError{Symbol: sym.Name, Declaration: label(d), Err: err}
			}
			if err := res.Registry.Add(d, sym.Value, sym.Size, e); err != nil {
				return nil, &ScanError{Symbol: sym.Name, Declaration: label(d), Err: err}
			}
		case symbol.Setting:
			checkSize(log, d.Name, d.Kind.Width(), sym.Size)
			if err := res.Registry.Add(d, sym.Value, sym.Size, nil); err != nil {
				return nil, &ScanError{Symbol: sym.Name, Declaration: label(d), Err: err}
			}
		case symbol.Graph:
			e, err := compile(d.Expr, sym.Name, d)
			if err != nil {
				return nil, err
			}
			if err := res.Registry.Add(d, 0, 0, e); err != nil {
				return nil, &ScanError{Symbol: sym.Name, Declaration: label(d), Err: err}
			}
			graphs = append(graphs, e)
			graphDecls = append(graphDecls, d)
		default:
			return nil, &ScanError{Symbol: sym.Name, Err: fmt.Errorf("unexpected declaration %T", d)}
		}
		log.Debug("found declaration", slog.String("declaration", symbol.Describe(d)), slog.Uint64("address", sym.Value))
	}

	// Graphs may reference metrics and settings declared later in the
	// table, so they are checked once every name is known.
	inputs := res.Registry.InputNames()
	for i, e := range graphs {
		if err := checkGraphRefs(e, inputs, graphDecls); err != nil {
			return nil, &ScanError{Declaration: label(graphDecls[i]), Err: err}
		}
		if err := expr.DryRun(e, inputs...); err != nil {
			return nil, &ScanError{Declaration: label(graphDecls[i]), Err: err}
		}
		log.Debug("graph compiled", slog.String("name", graphDecls[i].Name), slog.String("program", e.Describe()))
	}

	for _, dup := range res.Registry.Duplicates() {
		log.Warn("duplicate declaration name",
			slog.String("name", dup.Name),
			slog.String("first", string(dup.First)),
			slog.String("again", string(dup.Again)))
	}

	res.LogIndices = make([]uint64, 0, len(logIndices))
	for idx := range logIndices {
		res.LogIndices = append(res.LogIndices, idx)
	}
	sort.Slice(res.LogIndices, func(i, j int) bool { return res.LogIndices[i] < res.LogIndices[j] })

	log.Info("scan complete",
		slog.Int("metrics", len(res.Registry.Metrics())),
		slog.Int("settings", len(res.Registry.Settings())),
		slog.Int("graphs", len(res.Registry.Graphs())),
		slog.Int("logIndices", len(res.LogIndices)))
	return res, nil
}

func compile(text, sym string, d symbol.Declaration) (*expr.Expr, error) {
	e, err := expr.Parse(text)
	if err != nil {
		return nil, &ScanError{Symbol: sym, Declaration: label(d), Err: fmt.Errorf("formula %q: %w", text, err)}
	}
	return e, nil
}

// checkReserved rejects metrics and settings whose name a formula would
// resolve to a builtin instead of the target value.
func checkReserved(d symbol.Declaration) error {
	if _, ok := d.(symbol.Graph); ok {
		return nil
	}
	if name := d.DeclaredName(); expr.IsReserved(name) {
		return fmt.Errorf("%w: %q", ErrReservedName, name)
	}
	return nil
}

// checkGraphRefs rejects a graph formula naming a graph, unless a metric or
// setting shares that name and is bound in its place.
func checkGraphRefs(e *expr.Expr, inputs []string, graphs []symbol.Graph) error {
	bound := make(map[string]bool, len(inputs))
	for _, n := range inputs {
		bound[n] = true
	}
	for _, v := range e.Vars() {
		if bound[v] {
			continue
		}
		for _, g := range graphs {
			if g.Name == v {
				return fmt.Errorf("%w: %q", ErrGraphReference, v)
			}
		}
	}
	return nil
}

func label(d symbol.Declaration) string {
	return fmt.Sprintf("%s %s", d.Tag(), d.DeclaredName())
}

// checkSize warns when a symbol is smaller than its kind. Size zero means
// the toolchain did not record a size.
func checkSize(log *slog.Logger, name string, width int, size uint64) {
	if size != 0 && size < uint64(width) {
		log.Warn("symbol smaller than its kind",
			slog.String("name", name),
			slog.Int("width", width),
			slog.Uint64("size", size))
	}
}

func inSection(f *elf.File, sym elf.Symbol, name string) bool {
	idx := int(sym.Section)
	if sym.Section >= elf.SHN_LORESERVE || idx <= 0 || idx >= len(f.Sections) {
		return false
	}
	return f.Sections[idx].Name == name
}
