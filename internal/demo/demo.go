// Package demo builds the firmware image used by the simulated target when
// no ELF file is given: a counter stored into two metrics every tick, a
// tunable gain and a graph over both.
package demo

import (
	"fmt"

	"github.com/probeplot/probeplot-go/internal/elftest"
	"github.com/probeplot/probeplot-go/pkg/numeric"
	"github.com/probeplot/probeplot-go/pkg/symbol"
)

// LogIndex is the frame index of the demo's "counter at" log statement.
const LogIndex = 1

// LogFormat is the format string the demo firmware logs with.
const LogFormat = "counter at {=i32}"

var origin = symbol.Origin{Package: "demo", CrateName: "demo", Disambiguator: 1}

// Declarations returns the declarations of the demo firmware with their
// .data offsets.
func Declarations() map[uint32]symbol.Declaration {
	return map[uint32]symbol.Declaration{
		0:  symbol.Metric{Origin: origin, Name: "FOO", Kind: numeric.KindI32},
		4:  symbol.Metric{Origin: origin, Name: "FOO_X4", Kind: numeric.KindI32, Expr: "FOO_X4 * 4"},
		8:  symbol.Setting{Origin: origin, Name: "GAIN", Kind: numeric.KindI8, Range: symbol.Range{Start: -1, End: 7}, Step: 1},
		12: symbol.Metric{Origin: origin, Name: "PHASE", Kind: numeric.KindU16, Expr: "PHASE % 360"},
		16: symbol.Graph{Origin: origin, Name: "WAVE", Expr: "GAIN * sin(FOO / 10)"},
	}
}

// Image returns the demo firmware ELF image.
func Image() ([]byte, error) {
	img := &elftest.Image{
		Data:    make([]byte, 64),
		LogSize: 4,
		Debug: &elftest.DebugInfo{
			Files: []string{"src/main.rs"},
			Variables: []elftest.Variable{
				{Namespace: []string{"demo"}, Name: "COUNTER_LOG", File: 1, Line: 24, Addr: LogIndex},
			},
		},
	}
	img.Symbols = append(img.Symbols, elftest.Symbol{Name: LogFormat, Section: elftest.LogSection, Value: LogIndex})

	decls := Declarations()
	for _, off := range []uint32{0, 4, 8, 12, 16} {
		d := decls[off]
		name, err := symbol.Encode(d)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", d.DeclaredName(), err)
		}
		sym := elftest.Symbol{Name: name, Section: elftest.DataSection}
		switch d := d.(type) {
		case symbol.Metric:
			sym.Value = elftest.DataAddr + off
			sym.Size = uint32(d.Kind.Width())
		case symbol.Setting:
			sym.Value = elftest.DataAddr + off
			sym.Size = uint32(d.Kind.Width())
		case symbol.Graph:
		default:
			return nil, fmt.Errorf("unexpected declaration %T", d)
		}
		img.Symbols = append(img.Symbols, sym)
	}
	return img.Bytes(), nil
}
