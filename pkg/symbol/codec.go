package symbol

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/tidwall/gjson"

	"github.com/probeplot/probeplot-go/pkg/numeric"
)

// Codec errors.
var (
	// ErrNotDeclaration indicates a symbol name that is not a declaration.
	// Scanners skip these silently.
	ErrNotDeclaration = errors.New("not a declaration")

	// ErrMalformedEscape indicates a declaration record with an invalid escape sequence.
	ErrMalformedEscape = errors.New("malformed escape sequence")

	// ErrUnsupportedKind indicates a declaration with an unsupported numeric type.
	ErrUnsupportedKind = numeric.ErrUnsupportedKind

	// ErrInvalidField indicates a declaration with a missing or invalid field.
	ErrInvalidField = errors.New("invalid declaration field")

	// ErrNonFinite indicates a range or step that cannot be encoded.
	ErrNonFinite = errors.New("non-finite number")
)

// reservedRune is escaped in addition to control characters because the
// target linker does not accept it inside symbol names.
const reservedRune = '@'

// toolchainPrefixes are symbol-name prefixes emitted by compilers and
// linkers that never carry declarations.
var toolchainPrefixes = []string{"$", ".", "__", "_ZN", "_R"}

// DecodeError describes why a symbol name could not be decoded.
type DecodeError struct {
	// Symbol is the raw symbol name.
	Symbol string

	// Field names the offending field, if any.
	Field string

	// Err is the underlying sentinel.
	Err error
}

func (e *DecodeError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("decode symbol %s: field %s: %v", abbreviate(e.Symbol), e.Field, e.Err)
	}
	return fmt.Sprintf("decode symbol %s: %v", abbreviate(e.Symbol), e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsFiltered reports whether err means the symbol simply is not a declaration.
func IsFiltered(err error) bool {
	return errors.Is(err, ErrNotDeclaration)
}

// wireRecord mirrors the JSON document carried in a symbol name.
type wireRecord struct {
	Type          string          `json:"type"`
	Package       string          `json:"package"`
	Ty            string          `json:"ty"`
	Name          string          `json:"name"`
	Expr          *string         `json:"expr"`
	Range         *wireRange      `json:"range"`
	StepSize      *float64        `json:"step_size"`
	Disambiguator json.RawMessage `json:"disambiguator"`
	CrateName     string          `json:"crate_name"`
}

type wireRange struct {
	Start *float64 `json:"start"`
	End   *float64 `json:"end"`
}

// Encode renders d as the symbol-name record the code generator emits.
func Encode(d Declaration) (string, error) {
	var b strings.Builder
	switch d := d.(type) {
	case Metric:
		b.WriteString(`{"type":"Metric","package":`)
		writeString(&b, d.Package)
		b.WriteString(`,"ty":`)
		writeString(&b, d.Kind.String())
		b.WriteString(`,"name":`)
		writeString(&b, d.Name)
		if d.Expr != "" {
			b.WriteString(`,"expr":`)
			writeString(&b, d.Expr)
		}
	case Setting:
		for _, v := range []float64{d.Range.Start, d.Range.End, d.Step} {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return "", fmt.Errorf("encode setting %s: %w", d.Name, ErrNonFinite)
			}
		}
		b.WriteString(`{"type":"Setting","package":`)
		writeString(&b, d.Package)
		b.WriteString(`,"ty":`)
		writeString(&b, d.Kind.String())
		b.WriteString(`,"name":`)
		writeString(&b, d.Name)
		b.WriteString(`,"range":{"start":`)
		b.WriteString(formatNumber(d.Range.Start))
		b.WriteString(`,"end":`)
		b.WriteString(formatNumber(d.Range.End))
		b.WriteString(`},"step_size":`)
		b.WriteString(formatNumber(d.Step))
	case Graph:
		b.WriteString(`{"type":"Graph","package":`)
		writeString(&b, d.Package)
		b.WriteString(`,"name":`)
		writeString(&b, d.Name)
		b.WriteString(`,"expr":`)
		writeString(&b, d.Expr)
	default:
		return "", fmt.Errorf("encode: unknown declaration %T", d)
	}

	origin := originOf(d)
	b.WriteString(`,"disambiguator":"`)
	b.WriteString(strconv.FormatUint(origin.Disambiguator, 10))
	b.WriteString(`","crate_name":`)
	writeString(&b, origin.CrateName)
	b.WriteString(`}`)
	return b.String(), nil
}

// Decode recovers a declaration from a symbol name.
//
// Symbol names that are not declarations return an error matching
// ErrNotDeclaration. Records carrying a declaration tag but containing
// invalid escapes, unsupported kinds or invalid fields return the
// corresponding error; those indicate a code-generation mismatch.
func Decode(s string) (Declaration, error) {
	for _, p := range toolchainPrefixes {
		if strings.HasPrefix(s, p) {
			return nil, &DecodeError{Symbol: s, Err: ErrNotDeclaration}
		}
	}
	if !strings.HasPrefix(s, "{") {
		return nil, &DecodeError{Symbol: s, Err: ErrNotDeclaration}
	}

	tag := gjson.Get(s, "type")
	if tag.Type != gjson.String {
		return nil, &DecodeError{Symbol: s, Field: "type", Err: ErrNotDeclaration}
	}
	kindTag := Tag(tag.Str)
	switch kindTag {
	case TagMetric, TagSetting, TagGraph:
	default:
		return nil, &DecodeError{Symbol: s, Field: "type", Err: ErrNotDeclaration}
	}

	if pos, ok := checkEscapes(s); !ok {
		return nil, &DecodeError{
			Symbol: s,
			Err:    fmt.Errorf("%w at offset %d", ErrMalformedEscape, pos),
		}
	}

	var rec wireRecord
	if err := json.Unmarshal([]byte(s), &rec); err != nil {
		return nil, &DecodeError{Symbol: s, Err: fmt.Errorf("%w: %v", ErrNotDeclaration, err)}
	}
	if rec.Type != tag.Str {
		// Repeated or differently cased keys resolve differently per reader.
		return nil, &DecodeError{
			Symbol: s,
			Field:  "type",
			Err:    fmt.Errorf("%w: ambiguous tag %q and %q", ErrInvalidField, tag.Str, rec.Type),
		}
	}
	if rec.Name == "" {
		return nil, &DecodeError{Symbol: s, Field: "name", Err: ErrNotDeclaration}
	}

	disambiguator, err := parseDisambiguator(rec.Disambiguator)
	if err != nil {
		return nil, &DecodeError{Symbol: s, Field: "disambiguator", Err: fmt.Errorf("%w: %v", ErrInvalidField, err)}
	}
	origin := Origin{
		Package:       rec.Package,
		CrateName:     rec.CrateName,
		Disambiguator: disambiguator,
	}

	switch kindTag {
	case TagMetric:
		kind, err := numeric.ParseKind(rec.Ty)
		if err != nil {
			return nil, &DecodeError{Symbol: s, Field: "ty", Err: err}
		}
		m := Metric{Origin: origin, Name: rec.Name, Kind: kind}
		if rec.Expr != nil {
			m.Expr = *rec.Expr
		}
		return m, nil

	case TagSetting:
		kind, err := numeric.ParseKind(rec.Ty)
		if err != nil {
			return nil, &DecodeError{Symbol: s, Field: "ty", Err: err}
		}
		if rec.Range == nil || rec.Range.Start == nil || rec.Range.End == nil {
			return nil, &DecodeError{Symbol: s, Field: "range", Err: ErrInvalidField}
		}
		if *rec.Range.Start > *rec.Range.End {
			return nil, &DecodeError{
				Symbol: s,
				Field:  "range",
				Err:    fmt.Errorf("%w: start %g after end %g", ErrInvalidField, *rec.Range.Start, *rec.Range.End),
			}
		}
		if rec.StepSize == nil {
			return nil, &DecodeError{Symbol: s, Field: "step_size", Err: ErrInvalidField}
		}
		return Setting{
			Origin: origin,
			Name:   rec.Name,
			Kind:   kind,
			Range:  Range{Start: *rec.Range.Start, End: *rec.Range.End},
			Step:   *rec.StepSize,
		}, nil

	case TagGraph:
		if rec.Expr == nil || *rec.Expr == "" {
			return nil, &DecodeError{Symbol: s, Field: "expr", Err: ErrInvalidField}
		}
		return Graph{Origin: origin, Name: rec.Name, Expr: *rec.Expr}, nil

	default:
		return nil, &DecodeError{Symbol: s, Field: "type", Err: ErrNotDeclaration}
	}
}

func originOf(d Declaration) Origin {
	switch d := d.(type) {
	case Metric:
		return d.Origin
	case Setting:
		return d.Origin
	case Graph:
		return d.Origin
	default:
		return Origin{}
	}
}

func parseDisambiguator(raw json.RawMessage) (uint64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, nil
	}
	text := string(raw)
	if strings.HasPrefix(text, `"`) {
		if err := json.Unmarshal(raw, &text); err != nil {
			return 0, err
		}
	}
	return strconv.ParseUint(text, 10, 64)
}

// writeString writes s as a JSON string, escaping backslash, double quote,
// control characters and the linker-reserved rune as \u escapes.
func writeString(b *strings.Builder, s string) {
	b.WriteByte('"')
	for _, r := range s {
		if r == '\\' || r == '"' || r == reservedRune || unicode.IsControl(r) {
			fmt.Fprintf(b, `\u%04x`, r)
			continue
		}
		b.WriteRune(r)
	}
	b.WriteByte('"')
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// checkEscapes validates every backslash sequence in s against JSON rules.
// It returns the offset of the first invalid sequence.
func checkEscapes(s string) (int, bool) {
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' {
			continue
		}
		if i+1 >= len(s) {
			return i, false
		}
		switch s[i+1] {
		case '"', '\\', '/', 'b', 'f', 'n', 'r', 't':
			i++
		case 'u':
			if i+6 > len(s) || !isHex(s[i+2:i+6]) {
				return i, false
			}
			i += 5
		default:
			return i, false
		}
	}
	return 0, true
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F') {
			return false
		}
	}
	return true
}

func abbreviate(s string) string {
	const limit = 96
	if len(s) <= limit {
		return strconv.Quote(s)
	}
	return strconv.Quote(s[:limit]) + "..."
}
