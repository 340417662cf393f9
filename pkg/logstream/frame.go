package logstream

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Framing constants.
const (
	// LengthPrefixSize is the size of the big-endian length prefix.
	LengthPrefixSize = 4

	// DefaultMaxFrameSize bounds a single frame payload.
	DefaultMaxFrameSize = 4096
)

// Frame errors.
var (
	// ErrNeedMore means the decoder needs more bytes to produce a frame.
	ErrNeedMore = errors.New("need more data")

	// ErrFrameTooLarge indicates a length prefix above the maximum frame size.
	ErrFrameTooLarge = errors.New("frame too large")

	// ErrFrameEmpty indicates a zero length prefix.
	ErrFrameEmpty = errors.New("frame is empty")

	// ErrFrameInvalid indicates a payload that is not a valid frame.
	ErrFrameInvalid = errors.New("invalid frame payload")

	// ErrInvalidLevel indicates a level outside trace..error.
	ErrInvalidLevel = errors.New("invalid level")
)

// FrameError describes a malformed frame. Decoding continues after it.
type FrameError struct {
	Channel int
	Err     error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("channel %d: malformed frame: %v", e.Channel, e.Err)
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// Frame is one decoded log frame.
type Frame struct {
	// Index identifies the log statement; it keys the location table.
	Index uint64

	Level  Level
	Format string
	Args   []any
}

// wireFrame is the CBOR payload. Level is optional and defaults to info.
type wireFrame struct {
	Index  uint64 `cbor:"1,keyasint"`
	Level  *uint8 `cbor:"2,keyasint,omitempty"`
	Format string `cbor:"3,keyasint"`
	Args   []any  `cbor:"4,keyasint,omitempty"`
}

var (
	frameEncMode cbor.EncMode
	frameDecMode cbor.DecMode
)

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:        cbor.SortCanonical,
		IndefLength: cbor.IndefLengthForbidden,
	}
	frameEncMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create frame CBOR encoder mode: %v", err))
	}

	decOpts := cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyQuiet,
		IndefLength: cbor.IndefLengthAllowed,
	}
	frameDecMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create frame CBOR decoder mode: %v", err))
	}
}

// AppendFrame appends the length-prefixed encoding of f to dst.
// A frame at LevelInfo omits the level field.
func AppendFrame(dst []byte, f Frame) ([]byte, error) {
	if !f.Level.Valid() {
		return dst, fmt.Errorf("%w: %d", ErrInvalidLevel, f.Level)
	}
	w := wireFrame{Index: f.Index, Format: f.Format, Args: f.Args}
	if f.Level != LevelInfo {
		lvl := uint8(f.Level)
		w.Level = &lvl
	}
	payload, err := frameEncMode.Marshal(w)
	if err != nil {
		return dst, fmt.Errorf("encode frame: %w", err)
	}
	var prefix [LengthPrefixSize]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))
	dst = append(dst, prefix[:]...)
	return append(dst, payload...), nil
}

// Decoder incrementally decodes the frames of one channel.
type Decoder struct {
	buf          []byte
	off          int
	maxFrameSize uint32
}

// NewDecoder creates a decoder. maxFrameSize <= 0 means DefaultMaxFrameSize.
func NewDecoder(maxFrameSize int) *Decoder {
	if maxFrameSize <= 0 {
		maxFrameSize = DefaultMaxFrameSize
	}
	return &Decoder{maxFrameSize: uint32(maxFrameSize)}
}

// Feed appends stream bytes. Bytes consumed since the previous Feed are
// dropped first.
func (d *Decoder) Feed(p []byte) {
	if d.off > 0 {
		n := copy(d.buf, d.buf[d.off:])
		d.buf = d.buf[:n]
		d.off = 0
	}
	d.buf = append(d.buf, p...)
}

// Buffered returns the number of bytes not yet consumed.
func (d *Decoder) Buffered() int {
	return len(d.buf) - d.off
}

// Next returns the next complete frame. It returns ErrNeedMore when the
// buffer holds no complete frame, and a *FrameError for a malformed one.
//
// An oversized length prefix cannot be trusted to skip the payload, so the
// whole buffer is discarded and decoding resumes with the next bytes fed.
func (d *Decoder) Next() (Frame, error) {
	pending := d.buf[d.off:]
	if len(pending) < LengthPrefixSize {
		return Frame{}, ErrNeedMore
	}
	n := binary.BigEndian.Uint32(pending)
	switch {
	case n == 0:
		d.consume(LengthPrefixSize)
		return Frame{}, &FrameError{Err: ErrFrameEmpty}
	case n > d.maxFrameSize:
		d.buf, d.off = d.buf[:0], 0
		return Frame{}, &FrameError{Err: fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, n, d.maxFrameSize)}
	case uint32(len(pending)-LengthPrefixSize) < n:
		return Frame{}, ErrNeedMore
	}

	payload := pending[LengthPrefixSize : LengthPrefixSize+int(n)]
	var w wireFrame
	err := frameDecMode.Unmarshal(payload, &w)
	d.consume(LengthPrefixSize + int(n))
	if err != nil {
		return Frame{}, &FrameError{Err: fmt.Errorf("%w: %v", ErrFrameInvalid, err)}
	}

	f := Frame{Index: w.Index, Level: LevelInfo, Format: w.Format, Args: w.Args}
	if w.Level != nil {
		f.Level = Level(*w.Level)
		if !f.Level.Valid() {
			return Frame{}, &FrameError{Err: fmt.Errorf("%w: %d", ErrInvalidLevel, *w.Level)}
		}
	}
	return f, nil
}

func (d *Decoder) consume(n int) {
	d.off += n
	if d.off == len(d.buf) {
		d.buf, d.off = d.buf[:0], 0
	}
}
