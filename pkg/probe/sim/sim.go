// Package sim provides an in-memory debug target. It backs tests and the
// demo mode of the host tool, where an Animator plays the part of running
// firmware.
package sim

import (
	"context"
	"debug/elf"
	"errors"
	"fmt"
	"sync"

	"github.com/probeplot/probeplot-go/pkg/logstream"
	"github.com/probeplot/probeplot-go/pkg/probe"
)

// ErrUnmapped indicates an access outside every mapped region.
var ErrUnmapped = errors.New("address not mapped")

type region struct {
	base uint64
	data []byte
}

func (r *region) contains(addr uint64, n int) bool {
	return addr >= r.base && addr+uint64(n) <= r.base+uint64(len(r.data))
}

// Stats counts target accesses.
type Stats struct {
	Reads        int
	Writes       int
	ChannelReads int
}

// Target is a simulated target with mapped memory regions and log channels.
// It is safe for concurrent use, so an Animator can run beside a session.
type Target struct {
	mu       sync.Mutex
	regions  []*region
	channels [][]byte
	fault    error
	closed   bool
	stats    Stats
}

// New creates a target with the given number of log channels.
func New(channels int) *Target {
	return &Target{channels: make([][]byte, channels)}
}

// LoadELF creates a target whose memory is initialized from the allocated
// sections of f.
func LoadELF(f *elf.File, channels int) (*Target, error) {
	t := New(channels)
	for _, s := range f.Sections {
		if s.Flags&elf.SHF_ALLOC == 0 || s.Size == 0 {
			continue
		}
		data := make([]byte, s.Size)
		if s.Type != elf.SHT_NOBITS {
			b, err := s.Data()
			if err != nil {
				return nil, fmt.Errorf("load section %s: %w", s.Name, err)
			}
			copy(data, b)
		}
		t.Map(s.Addr, data)
	}
	return t, nil
}

// Map adds a memory region holding a copy of data at base.
func (t *Target) Map(base uint64, data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.regions = append(t.regions, &region{base: base, data: append([]byte(nil), data...)})
}

// InjectFault makes every following probe access fail with err until
// cleared with a nil err.
func (t *Target) InjectFault(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fault = err
}

// Stats returns access counters.
func (t *Target) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

func (t *Target) find(addr uint64, n int) (*region, error) {
	for _, r := range t.regions {
		if r.contains(addr, n) {
			return r, nil
		}
	}
	return nil, fmt.Errorf("%w: 0x%08x+%d", ErrUnmapped, addr, n)
}

func (t *Target) check() error {
	if t.closed {
		return probe.ErrClosed
	}
	return t.fault
}

// ReadMemory implements probe.Memory.
func (t *Target) ReadMemory(ctx context.Context, addr uint64, p []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.check(); err != nil {
		return err
	}
	r, err := t.find(addr, len(p))
	if err != nil {
		return err
	}
	copy(p, r.data[addr-r.base:])
	t.stats.Reads++
	return nil
}

// WriteMemory implements probe.Memory.
func (t *Target) WriteMemory(ctx context.Context, addr uint64, p []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.check(); err != nil {
		return err
	}
	r, err := t.find(addr, len(p))
	if err != nil {
		return err
	}
	copy(r.data[addr-r.base:], p)
	t.stats.Writes++
	return nil
}

// Poke writes memory as the firmware would, bypassing fault injection.
func (t *Target) Poke(addr uint64, p []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, err := t.find(addr, len(p))
	if err != nil {
		return err
	}
	copy(r.data[addr-r.base:], p)
	return nil
}

// Peek reads memory as the firmware would, bypassing fault injection.
func (t *Target) Peek(addr uint64, n int) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, err := t.find(addr, n)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), r.data[addr-r.base:addr-r.base+uint64(n)]...), nil
}

// NumChannels implements probe.Channels.
func (t *Target) NumChannels() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.channels)
}

// ReadChannel implements probe.Channels.
func (t *Target) ReadChannel(ctx context.Context, ch int, p []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.check(); err != nil {
		return 0, err
	}
	if ch < 0 || ch >= len(t.channels) {
		return 0, fmt.Errorf("%w: %d", probe.ErrNoChannel, ch)
	}
	n := copy(p, t.channels[ch])
	t.channels[ch] = t.channels[ch][n:]
	t.stats.ChannelReads++
	return n, nil
}

// WriteChannel appends raw bytes to a log channel.
func (t *Target) WriteChannel(ch int, p []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ch < 0 || ch >= len(t.channels) {
		return fmt.Errorf("%w: %d", probe.ErrNoChannel, ch)
	}
	t.channels[ch] = append(t.channels[ch], p...)
	return nil
}

// Log appends an encoded frame to a log channel.
func (t *Target) Log(ch int, f logstream.Frame) error {
	b, err := logstream.AppendFrame(nil, f)
	if err != nil {
		return err
	}
	return t.WriteChannel(ch, b)
}

// Close implements probe.Target.
func (t *Target) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

var _ probe.Target = (*Target)(nil)
