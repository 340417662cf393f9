package logstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/probeplot/probeplot-go/pkg/probe"
)

// LocationUnavailable is rendered for frames without a source location.
const LocationUnavailable = "<location unavailable>"

// Demux defaults.
const (
	DefaultBufferSize = 1024
	DefaultMaxPasses  = 64
)

// Location is the source position of a log statement.
type Location struct {
	File   string
	Line   int
	Module string
}

func (l Location) String() string {
	if l.Module == "" {
		return fmt.Sprintf("%s:%d", l.File, l.Line)
	}
	return fmt.Sprintf("%s:%d (%s)", l.File, l.Line, l.Module)
}

// Table maps frame indices to source locations.
type Table map[uint64]Location

// Record is one decoded log record.
type Record struct {
	Channel  int
	Index    uint64
	Level    Level
	Text     string
	Location *Location

	// Host marks records produced by the demultiplexer itself rather than
	// by the target, such as warnings about the stream.
	Host bool
}

// Where returns the record's source location or LocationUnavailable.
func (r Record) Where() string {
	if r.Location == nil {
		return LocationUnavailable
	}
	return r.Location.String()
}

func (r Record) String() string {
	if r.Host {
		return fmt.Sprintf("%-5s (host) %s", r.Level, r.Text)
	}
	return fmt.Sprintf("%-5s %s\n└─ %s", r.Level, r.Text, r.Where())
}

// Config configures a Demux.
type Config struct {
	// BufferSize bounds a single channel read. Zero means DefaultBufferSize.
	BufferSize int

	// MaxPasses bounds the read passes of one drain so a channel that never
	// empties cannot stall the session. Zero means DefaultMaxPasses.
	MaxPasses int

	// MaxFrameSize bounds a frame payload. Zero means DefaultMaxFrameSize.
	MaxFrameSize int

	// Locations is the location table built from debug information.
	Locations Table

	// KnownIndices are the frame indices declared in the binary. The
	// location table is usable only if it covers all of them.
	KnownIndices []uint64

	// Logger receives operational messages. Nil discards them.
	Logger *slog.Logger
}

// Demux decodes the log channels of a target. Each channel has its own
// decoder; stream state is never shared between channels.
type Demux struct {
	src      probe.Channels
	decoders []*Decoder
	buf      []byte
	config   Config
	logger   *slog.Logger

	locations Table
	warned    bool
}

// NewDemux creates a demultiplexer over src.
func NewDemux(src probe.Channels, config Config) *Demux {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultBufferSize
	}
	if config.MaxPasses <= 0 {
		config.MaxPasses = DefaultMaxPasses
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	d := &Demux{
		src:    src,
		buf:    make([]byte, config.BufferSize),
		config: config,
		logger: logger,
	}
	for i := 0; i < src.NumChannels(); i++ {
		d.decoders = append(d.decoders, NewDecoder(config.MaxFrameSize))
	}
	if complete(config.Locations, config.KnownIndices) {
		d.locations = config.Locations
	}
	return d
}

func complete(t Table, known []uint64) bool {
	if len(t) == 0 {
		return false
	}
	for _, idx := range known {
		if _, ok := t[idx]; !ok {
			return false
		}
	}
	return true
}

// LocationsAvailable reports whether records carry source locations.
func (d *Demux) LocationsAvailable() bool {
	return d.locations != nil
}

// Drain reads every channel until a full pass reads nothing, then decodes
// every complete frame. Malformed frames become warning records. A channel
// read error is returned together with the records decoded so far.
func (d *Demux) Drain(ctx context.Context) ([]Record, error) {
	var records []Record
	if !d.warned && d.locations == nil {
		d.warned = true
		records = append(records, Record{
			Level: LevelWarn,
			Text:  "location information unavailable or incomplete; frames will show " + LocationUnavailable,
			Host:  true,
		})
	}

	for pass := 0; pass < d.config.MaxPasses; pass++ {
		if err := ctx.Err(); err != nil {
			return records, err
		}
		total := 0
		for ch, dec := range d.decoders {
			n, err := d.src.ReadChannel(ctx, ch, d.buf)
			if err != nil {
				return append(records, d.decodeAll()...), fmt.Errorf("read log channel %d: %w", ch, err)
			}
			if n > 0 {
				dec.Feed(d.buf[:n])
				total += n
			}
		}
		if total == 0 {
			break
		}
		if pass == d.config.MaxPasses-1 {
			d.logger.Debug("log drain pass limit reached", slog.Int("passes", d.config.MaxPasses))
		}
	}

	return append(records, d.decodeAll()...), nil
}

// decodeAll pulls one frame per channel per pass until a pass yields none.
func (d *Demux) decodeAll() []Record {
	var records []Record
	for {
		produced := 0
		for ch, dec := range d.decoders {
			f, err := dec.Next()
			if errors.Is(err, ErrNeedMore) {
				continue
			}
			produced++
			if err != nil {
				var fe *FrameError
				if errors.As(err, &fe) {
					fe.Channel = ch
				}
				d.logger.Debug("malformed log frame", slog.Int("channel", ch), slog.Any("error", err))
				records = append(records, Record{Channel: ch, Level: LevelWarn, Text: err.Error(), Host: true})
				continue
			}
			records = append(records, d.record(ch, f))
		}
		if produced == 0 {
			return records
		}
	}
}

func (d *Demux) record(ch int, f Frame) Record {
	r := Record{
		Channel: ch,
		Index:   f.Index,
		Level:   f.Level,
		Text:    Render(f.Format, f.Args),
	}
	if d.locations != nil {
		if loc, ok := d.locations[f.Index]; ok {
			r.Location = &loc
		}
	}
	return r
}
