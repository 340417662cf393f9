// Package probe defines the primitives the host engine needs from a debug
// probe: aligned word access to target memory and byte-stream log channels.
//
// Implementations live in subpackages: sim (in-memory target), gdbremote
// (GDB remote serial protocol client) and rtt (log channels over memory).
package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// Probe errors.
var (
	// ErrUnaligned indicates an access whose address is not a multiple of its width.
	ErrUnaligned = errors.New("unaligned access")

	// ErrWidth indicates an access that is not 1, 2 or 4 bytes wide.
	ErrWidth = errors.New("unsupported access width")

	// ErrNoChannel indicates a channel number outside the target's channels.
	ErrNoChannel = errors.New("no such channel")

	// ErrClosed indicates use of a closed target.
	ErrClosed = errors.New("target closed")
)

// Memory reads and writes target memory. Implementations must complete or
// fail every call within their own timeout.
type Memory interface {
	// ReadMemory fills p with the bytes at addr.
	ReadMemory(ctx context.Context, addr uint64, p []byte) error

	// WriteMemory writes p at addr.
	WriteMemory(ctx context.Context, addr uint64, p []byte) error
}

// Channels reads target log channels.
type Channels interface {
	// NumChannels returns the number of log channels.
	NumChannels() int

	// ReadChannel copies up to len(p) available bytes from channel ch into p
	// and returns the count. It returns 0 and no error when nothing is pending.
	ReadChannel(ctx context.Context, ch int, p []byte) (int, error)
}

// Target is an attached debug target.
type Target interface {
	Memory
	Channels
	io.Closer
}

// CheckAccess validates a single-word access.
func CheckAccess(addr uint64, width int) error {
	switch width {
	case 1, 2, 4:
	default:
		return fmt.Errorf("%w: %d", ErrWidth, width)
	}
	if addr%uint64(width) != 0 {
		return fmt.Errorf("%w: 0x%08x width %d", ErrUnaligned, addr, width)
	}
	return nil
}

// ReadWord reads one aligned word of the given width.
func ReadWord(ctx context.Context, m Memory, addr uint64, width int) ([]byte, error) {
	if err := CheckAccess(addr, width); err != nil {
		return nil, err
	}
	p := make([]byte, width)
	if err := m.ReadMemory(ctx, addr, p); err != nil {
		return nil, err
	}
	return p, nil
}

// WriteWord writes one aligned word.
func WriteWord(ctx context.Context, m Memory, addr uint64, p []byte) error {
	if err := CheckAccess(addr, len(p)); err != nil {
		return err
	}
	return m.WriteMemory(ctx, addr, p)
}

// NoChannels is a Channels with no log channels.
type NoChannels struct{}

func (NoChannels) NumChannels() int { return 0 }

func (NoChannels) ReadChannel(_ context.Context, ch int, _ []byte) (int, error) {
	return 0, fmt.Errorf("%w: %d", ErrNoChannel, ch)
}

// composed joins separately implemented parts into a Target.
type composed struct {
	Memory
	Channels
	closers []io.Closer
}

// Compose builds a Target from a memory primitive and a channel source.
// Close closes the given closers in order and returns the first error.
// A nil ch means no log channels.
func Compose(mem Memory, ch Channels, closers ...io.Closer) Target {
	if ch == nil {
		ch = NoChannels{}
	}
	return &composed{Memory: mem, Channels: ch, closers: closers}
}

func (c *composed) Close() error {
	var first error
	for _, cl := range c.closers {
		if err := cl.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Compile-time interface satisfaction checks.
var (
	_ Channels = NoChannels{}
	_ Target   = (*composed)(nil)
)
