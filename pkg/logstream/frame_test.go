package logstream

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustFrame(t *testing.T, f Frame) []byte {
	t.Helper()
	b, err := AppendFrame(nil, f)
	require.NoError(t, err)
	return b
}

func TestFrameRoundTrip(t *testing.T) {
	frames := []Frame{
		{Index: 1, Level: LevelInfo, Format: "boot"},
		{Index: 2, Level: LevelTrace, Format: "tick {=u32}", Args: []any{uint64(7)}},
		{Index: 3, Level: LevelError, Format: "temp {=f32} {=i8}", Args: []any{1.5, int64(-3)}},
	}

	var stream []byte
	for _, f := range frames {
		stream = append(stream, mustFrame(t, f)...)
	}

	d := NewDecoder(0)
	d.Feed(stream)
	for _, want := range frames {
		got, err := d.Next()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := d.Next()
	assert.ErrorIs(t, err, ErrNeedMore)
	assert.Zero(t, d.Buffered())
}

func TestFrameDecoderConsumesInPlace(t *testing.T) {
	one := mustFrame(t, Frame{Index: 4, Level: LevelDebug, Format: "x"})

	var stream []byte
	const count = 1000
	for i := 0; i < count; i++ {
		stream = append(stream, one...)
	}
	// A trailing partial frame stays buffered across Feed calls.
	stream = append(stream, one[:3]...)

	d := NewDecoder(0)
	d.Feed(stream)
	base := &d.buf[0]
	for i := 0; i < count; i++ {
		_, err := d.Next()
		require.NoError(t, err)
		assert.Equal(t, len(stream)-(i+1)*len(one), d.Buffered())
	}
	_, err := d.Next()
	assert.ErrorIs(t, err, ErrNeedMore)
	assert.Same(t, base, &d.buf[0], "frames are consumed without moving the buffer")

	d.Feed(one[3:])
	assert.Zero(t, d.off, "consumed bytes are dropped on feed")
	assert.Len(t, d.buf, len(one))
	f, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, uint64(4), f.Index)
	assert.Zero(t, d.Buffered())
}

func TestFrameLevelDefaultsToInfo(t *testing.T) {
	b := mustFrame(t, Frame{Index: 9, Level: LevelInfo, Format: "x"})
	// The info level is not encoded, so decoding an absent level yields info.
	assert.NotContains(t, string(b[LengthPrefixSize:]), "\x02")

	d := NewDecoder(0)
	d.Feed(b)
	f, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, LevelInfo, f.Level)
}

func TestDecoderIncremental(t *testing.T) {
	b := mustFrame(t, Frame{Index: 5, Level: LevelWarn, Format: "split"})
	d := NewDecoder(0)
	for i := 0; i < len(b)-1; i++ {
		d.Feed(b[i : i+1])
		_, err := d.Next()
		require.ErrorIs(t, err, ErrNeedMore, "byte %d", i)
	}
	d.Feed(b[len(b)-1:])
	f, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, "split", f.Format)
}

func TestDecoderMalformed(t *testing.T) {
	good := mustFrame(t, Frame{Index: 1, Level: LevelInfo, Format: "ok"})

	t.Run("empty frame skips the prefix", func(t *testing.T) {
		d := NewDecoder(0)
		d.Feed([]byte{0, 0, 0, 0})
		d.Feed(good)
		_, err := d.Next()
		var fe *FrameError
		require.True(t, errors.As(err, &fe))
		assert.ErrorIs(t, err, ErrFrameEmpty)

		f, err := d.Next()
		require.NoError(t, err)
		assert.Equal(t, "ok", f.Format)
	})

	t.Run("invalid payload skips the frame", func(t *testing.T) {
		d := NewDecoder(0)
		d.Feed([]byte{0, 0, 0, 2, 0xff, 0xff})
		d.Feed(good)
		_, err := d.Next()
		assert.ErrorIs(t, err, ErrFrameInvalid)

		f, err := d.Next()
		require.NoError(t, err)
		assert.Equal(t, "ok", f.Format)
	})

	t.Run("invalid level skips the frame", func(t *testing.T) {
		bad := mustFrame(t, Frame{Index: 1, Level: LevelError, Format: "bad"})
		// Patch the encoded level (4) to 9. The level value follows its key 0x02.
		for i := LengthPrefixSize; i < len(bad)-1; i++ {
			if bad[i] == 0x02 && bad[i+1] == 0x04 {
				bad[i+1] = 0x09
				break
			}
		}
		d := NewDecoder(0)
		d.Feed(bad)
		d.Feed(good)
		_, err := d.Next()
		assert.ErrorIs(t, err, ErrInvalidLevel)

		f, err := d.Next()
		require.NoError(t, err)
		assert.Equal(t, "ok", f.Format)
	})

	t.Run("oversized frame discards the buffer", func(t *testing.T) {
		d := NewDecoder(16)
		var prefix [4]byte
		binary.BigEndian.PutUint32(prefix[:], 17)
		d.Feed(prefix[:])
		d.Feed(good)
		_, err := d.Next()
		assert.ErrorIs(t, err, ErrFrameTooLarge)
		assert.Zero(t, d.Buffered())

		_, err = d.Next()
		assert.ErrorIs(t, err, ErrNeedMore)

		d.Feed(good)
		f, err := d.Next()
		require.NoError(t, err)
		assert.Equal(t, "ok", f.Format)
	})
}

func TestAppendFrameRejectsInvalidLevel(t *testing.T) {
	_, err := AppendFrame(nil, Frame{Level: Level(5)})
	assert.ErrorIs(t, err, ErrInvalidLevel)
}

func TestRender(t *testing.T) {
	tests := []struct {
		format string
		args   []any
		want   string
	}{
		{"plain", nil, "plain"},
		{"x={}", []any{uint64(3)}, "x=3"},
		{"{=u8} and {=f32}", []any{uint64(1), 2.5}, "1 and 2.5"},
		{"hex {=u16:x} {:#x}", []any{uint64(255), uint64(16)}, "hex ff 0x10"},
		{"bits {=u8:b}", []any{uint64(5)}, "bits 101"},
		{"{{literal}}", nil, "{literal}"},
		{"missing {}", nil, "missing <?>"},
		{"extra", []any{"a", int64(-1)}, "extra a -1"},
		{"open {", nil, "open {"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Render(tt.format, tt.args), tt.format)
	}
}

func TestLevel(t *testing.T) {
	for l := LevelTrace; l <= LevelError; l++ {
		got, err := ParseLevel(l.String())
		require.NoError(t, err)
		assert.Equal(t, l, got)
	}
	_, err := ParseLevel("fatal")
	assert.Error(t, err)
	assert.False(t, Level(5).Valid())
}
