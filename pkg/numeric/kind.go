// Package numeric describes the storage kinds a declaration can have on the
// target and converts between raw target bytes and host float64 values.
//
// Every kind has an explicit decode and encode path. Unsigned kinds
// zero-extend, signed kinds sign-extend and f32 reinterprets the 32-bit
// pattern as IEEE-754 single precision. Target memory is little-endian.
package numeric

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Numeric errors.
var (
	// ErrUnsupportedKind indicates a type tag outside the supported set.
	ErrUnsupportedKind = errors.New("unsupported numeric kind")

	// ErrShortBuffer indicates fewer raw bytes than the kind's width.
	ErrShortBuffer = errors.New("raw value shorter than kind width")
)

// Kind is the storage type of a value in target memory.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindU8
	KindU16
	KindU32
	KindI8
	KindI16
	KindI32
	KindF32
)

// Kinds lists every supported kind in declaration order.
var Kinds = []Kind{KindU8, KindU16, KindU32, KindI8, KindI16, KindI32, KindF32}

// ParseKind maps a type tag ("u8", "i32", "f32", ...) to a Kind.
func ParseKind(tag string) (Kind, error) {
	switch tag {
	case "u8":
		return KindU8, nil
	case "u16":
		return KindU16, nil
	case "u32":
		return KindU32, nil
	case "i8":
		return KindI8, nil
	case "i16":
		return KindI16, nil
	case "i32":
		return KindI32, nil
	case "f32":
		return KindF32, nil
	default:
		return KindInvalid, fmt.Errorf("%w: %q", ErrUnsupportedKind, tag)
	}
}

// String returns the type tag used in encoded symbols.
func (k Kind) String() string {
	switch k {
	case KindU8:
		return "u8"
	case KindU16:
		return "u16"
	case KindU32:
		return "u32"
	case KindI8:
		return "i8"
	case KindI16:
		return "i16"
	case KindI32:
		return "i32"
	case KindF32:
		return "f32"
	default:
		return "invalid"
	}
}

// Valid reports whether k is one of the supported kinds.
func (k Kind) Valid() bool {
	return k >= KindU8 && k <= KindF32
}

// Width returns the size of the kind in bytes, or 0 for an invalid kind.
func (k Kind) Width() int {
	switch k {
	case KindU8, KindI8:
		return 1
	case KindU16, KindI16:
		return 2
	case KindU32, KindI32, KindF32:
		return 4
	default:
		return 0
	}
}

// Signed reports whether the kind is a signed integer.
func (k Kind) Signed() bool {
	return k == KindI8 || k == KindI16 || k == KindI32
}

// Float reports whether the kind is a floating-point kind.
func (k Kind) Float() bool {
	return k == KindF32
}

// Bounds returns the representable range of an integer kind.
// For f32 it returns the largest finite single-precision magnitudes.
func (k Kind) Bounds() (lo, hi float64) {
	switch k {
	case KindU8:
		return 0, math.MaxUint8
	case KindU16:
		return 0, math.MaxUint16
	case KindU32:
		return 0, math.MaxUint32
	case KindI8:
		return math.MinInt8, math.MaxInt8
	case KindI16:
		return math.MinInt16, math.MaxInt16
	case KindI32:
		return math.MinInt32, math.MaxInt32
	case KindF32:
		return -math.MaxFloat32, math.MaxFloat32
	default:
		return 0, 0
	}
}

// Decode converts the first Width() bytes of raw into a float64.
func (k Kind) Decode(raw []byte) (float64, error) {
	if !k.Valid() {
		return 0, fmt.Errorf("%w: %d", ErrUnsupportedKind, k)
	}
	if len(raw) < k.Width() {
		return 0, fmt.Errorf("%w: %s needs %d bytes, got %d", ErrShortBuffer, k, k.Width(), len(raw))
	}

	switch k {
	case KindU8:
		return float64(raw[0]), nil
	case KindU16:
		return float64(binary.LittleEndian.Uint16(raw)), nil
	case KindU32:
		return float64(binary.LittleEndian.Uint32(raw)), nil
	case KindI8:
		return float64(int8(raw[0])), nil
	case KindI16:
		return float64(int16(binary.LittleEndian.Uint16(raw))), nil
	case KindI32:
		return float64(int32(binary.LittleEndian.Uint32(raw))), nil
	default:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(raw))), nil
	}
}

// Encode converts x into the kind's raw little-endian representation.
//
// Integer kinds round half away from zero and saturate at the kind's
// bounds; NaN encodes as zero. f32 stores the bit pattern of float32(x)
// without clamping.
func (k Kind) Encode(x float64) []byte {
	buf := make([]byte, k.Width())
	switch k {
	case KindU8:
		buf[0] = uint8(k.saturate(x))
	case KindU16:
		binary.LittleEndian.PutUint16(buf, uint16(k.saturate(x)))
	case KindU32:
		binary.LittleEndian.PutUint32(buf, uint32(k.saturate(x)))
	case KindI8:
		buf[0] = uint8(int8(k.saturate(x)))
	case KindI16:
		binary.LittleEndian.PutUint16(buf, uint16(int16(k.saturate(x))))
	case KindI32:
		binary.LittleEndian.PutUint32(buf, uint32(int32(k.saturate(x))))
	case KindF32:
		binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(x)))
	}
	return buf
}

// Clamp returns the value Encode would store for x, as a float64.
func (k Kind) Clamp(x float64) float64 {
	if k.Float() {
		return float64(float32(x))
	}
	return float64(k.saturate(x))
}

// saturate rounds x and clamps it into the integer bounds of k.
// The result is exactly representable in int64.
func (k Kind) saturate(x float64) int64 {
	if math.IsNaN(x) {
		return 0
	}
	lo, hi := k.Bounds()
	r := math.Round(x)
	if r < lo {
		r = lo
	}
	if r > hi {
		r = hi
	}
	return int64(r)
}
