// Package rtt reads SEGGER RTT up channels through a probe.Memory. The
// control block is located by its symbol (usually _SEGGER_RTT) and every up
// channel becomes one log channel.
package rtt

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/probeplot/probeplot-go/pkg/probe"
)

// ControlBlockSymbol is the conventional control block symbol name.
const ControlBlockSymbol = "_SEGGER_RTT"

// Control block layout for 32-bit targets.
const (
	idSize         = 16
	headerSize     = idSize + 8
	descriptorSize = 24

	offBuffer = 4
	offSize   = 8
	offWrite  = 12
	offRead   = 16
)

// RTT errors.
var (
	// ErrNoControlBlock indicates memory at the given address is not an RTT control block.
	ErrNoControlBlock = errors.New("rtt control block not found")

	// ErrCorrupt indicates channel offsets outside their buffer.
	ErrCorrupt = errors.New("rtt channel state corrupt")
)

var controlBlockID = []byte("SEGGER RTT")

type upChannel struct {
	desc uint64
	buf  uint64
	size uint32
}

// Channels reads RTT up channels. It implements probe.Channels.
type Channels struct {
	mem probe.Memory
	up  []upChannel
}

// Attach reads the control block at addr and its up channel descriptors.
// Channels without a buffer are kept so channel numbers match the target.
func Attach(ctx context.Context, mem probe.Memory, addr uint64) (*Channels, error) {
	hdr := make([]byte, headerSize)
	if err := mem.ReadMemory(ctx, addr, hdr); err != nil {
		return nil, fmt.Errorf("read rtt control block: %w", err)
	}
	if !bytes.HasPrefix(hdr[:idSize], controlBlockID) {
		return nil, fmt.Errorf("%w at 0x%08x", ErrNoControlBlock, addr)
	}
	numUp := binary.LittleEndian.Uint32(hdr[idSize:])
	if numUp > 32 {
		return nil, fmt.Errorf("%w: %d up channels", ErrCorrupt, numUp)
	}

	c := &Channels{mem: mem}
	if numUp == 0 {
		return c, nil
	}
	descs := make([]byte, int(numUp)*descriptorSize)
	if err := mem.ReadMemory(ctx, addr+headerSize, descs); err != nil {
		return nil, fmt.Errorf("read rtt descriptors: %w", err)
	}
	for i := 0; i < int(numUp); i++ {
		d := descs[i*descriptorSize:]
		c.up = append(c.up, upChannel{
			desc: addr + headerSize + uint64(i*descriptorSize),
			buf:  uint64(binary.LittleEndian.Uint32(d[offBuffer:])),
			size: binary.LittleEndian.Uint32(d[offSize:]),
		})
	}
	return c, nil
}

// NumChannels implements probe.Channels.
func (c *Channels) NumChannels() int {
	return len(c.up)
}

// ReadChannel implements probe.Channels. It reads the contiguous bytes
// available up to the write offset or the end of the ring, then advances the
// read offset on the target.
func (c *Channels) ReadChannel(ctx context.Context, ch int, p []byte) (int, error) {
	if ch < 0 || ch >= len(c.up) {
		return 0, fmt.Errorf("%w: %d", probe.ErrNoChannel, ch)
	}
	up := c.up[ch]
	if up.size == 0 || len(p) == 0 {
		return 0, nil
	}

	var offs [8]byte
	if err := c.mem.ReadMemory(ctx, up.desc+offWrite, offs[:]); err != nil {
		return 0, fmt.Errorf("rtt channel %d: read offsets: %w", ch, err)
	}
	wr := binary.LittleEndian.Uint32(offs[0:])
	rd := binary.LittleEndian.Uint32(offs[4:])
	if wr >= up.size || rd >= up.size {
		return 0, fmt.Errorf("%w: channel %d write %d read %d size %d", ErrCorrupt, ch, wr, rd, up.size)
	}
	if wr == rd {
		return 0, nil
	}

	end := wr
	if wr < rd {
		end = up.size
	}
	n := min(int(end-rd), len(p))
	if err := c.mem.ReadMemory(ctx, up.buf+uint64(rd), p[:n]); err != nil {
		return 0, fmt.Errorf("rtt channel %d: read buffer: %w", ch, err)
	}

	next := (rd + uint32(n)) % up.size
	var word [4]byte
	binary.LittleEndian.PutUint32(word[:], next)
	if err := probe.WriteWord(ctx, c.mem, up.desc+offRead, word[:]); err != nil {
		return 0, fmt.Errorf("rtt channel %d: write read offset: %w", ch, err)
	}
	return n, nil
}

var _ probe.Channels = (*Channels)(nil)
