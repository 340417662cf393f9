package rtt

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/probeplot/probeplot-go/pkg/probe"
	"github.com/probeplot/probeplot-go/pkg/probe/sim"
)

const (
	cbAddr  = 0x20000000
	bufAddr = 0x20000100
	bufSize = 16
)

// firmware emulates the target side of one RTT up channel.
type firmware struct {
	t      *testing.T
	target *sim.Target
	wr     uint32
}

func newFirmware(t *testing.T) *firmware {
	target := sim.New(0)
	target.Map(cbAddr, make([]byte, 0x200))

	cb := make([]byte, headerSize+2*descriptorSize)
	copy(cb, "SEGGER RTT")
	binary.LittleEndian.PutUint32(cb[idSize:], 2)   // up channels
	binary.LittleEndian.PutUint32(cb[idSize+4:], 0) // down channels
	d := cb[headerSize:]
	binary.LittleEndian.PutUint32(d[offBuffer:], bufAddr)
	binary.LittleEndian.PutUint32(d[offSize:], bufSize)
	// The second channel has no buffer.
	require.NoError(t, target.Poke(cbAddr, cb))
	return &firmware{t: t, target: target}
}

func (f *firmware) write(p []byte) {
	for _, b := range p {
		require.NoError(f.t, f.target.Poke(bufAddr+uint64(f.wr), []byte{b}))
		f.wr = (f.wr + 1) % bufSize
	}
	var w [4]byte
	binary.LittleEndian.PutUint32(w[:], f.wr)
	require.NoError(f.t, f.target.Poke(cbAddr+headerSize+offWrite, w[:]))
}

func drain(t *testing.T, c *Channels, ch int) []byte {
	var out []byte
	p := make([]byte, 64)
	for {
		n, err := c.ReadChannel(context.Background(), ch, p)
		require.NoError(t, err)
		if n == 0 {
			return out
		}
		out = append(out, p[:n]...)
	}
}

func TestAttach(t *testing.T) {
	fw := newFirmware(t)
	c, err := Attach(context.Background(), fw.target, cbAddr)
	require.NoError(t, err)
	assert.Equal(t, 2, c.NumChannels())

	n, err := c.ReadChannel(context.Background(), 1, make([]byte, 4))
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = c.ReadChannel(context.Background(), 2, make([]byte, 4))
	assert.ErrorIs(t, err, probe.ErrNoChannel)
}

func TestAttachWrongAddress(t *testing.T) {
	fw := newFirmware(t)
	_, err := Attach(context.Background(), fw.target, cbAddr+0x100)
	assert.ErrorIs(t, err, ErrNoControlBlock)
}

func TestReadWraps(t *testing.T) {
	fw := newFirmware(t)
	c, err := Attach(context.Background(), fw.target, cbAddr)
	require.NoError(t, err)

	fw.write([]byte("0123456789"))
	assert.Equal(t, []byte("0123456789"), drain(t, c, 0))

	// Crosses the end of the ring.
	fw.write([]byte("abcdefghij"))
	assert.Equal(t, []byte("abcdefghij"), drain(t, c, 0))
	assert.Empty(t, drain(t, c, 0))
}

func TestReadSmallBuffer(t *testing.T) {
	fw := newFirmware(t)
	c, err := Attach(context.Background(), fw.target, cbAddr)
	require.NoError(t, err)

	fw.write([]byte("hello"))
	p := make([]byte, 2)
	n, err := c.ReadChannel(context.Background(), 0, p)
	require.NoError(t, err)
	assert.Equal(t, "he", string(p[:n]))
	assert.Equal(t, []byte("llo"), drain(t, c, 0))
}

func TestCorruptOffsets(t *testing.T) {
	fw := newFirmware(t)
	c, err := Attach(context.Background(), fw.target, cbAddr)
	require.NoError(t, err)

	var w [4]byte
	binary.LittleEndian.PutUint32(w[:], bufSize+1)
	require.NoError(t, fw.target.Poke(cbAddr+headerSize+offWrite, w[:]))
	_, err = c.ReadChannel(context.Background(), 0, make([]byte, 4))
	assert.ErrorIs(t, err, ErrCorrupt)
}
