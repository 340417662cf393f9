package export

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/probeplot/probeplot-go/pkg/capture"
)

// Default InfluxSink configuration values.
const (
	DefaultBatchSize     = 500
	DefaultFlushInterval = time.Second
	DefaultQueueSize     = 4096
)

// Measurement names written by InfluxSink.
const (
	MeasurementObservation = "observation"
	MeasurementLog         = "log"
	MeasurementWrite       = "setting_write"
)

// ErrSinkClosed indicates Run was called after the sink stopped.
var ErrSinkClosed = errors.New("influx sink closed")

// PointWriter writes points to a time-series store.
// api.WriteAPIBlocking implements it.
type PointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// InfluxConfig configures an InfluxSink.
type InfluxConfig struct {
	// BatchSize is the number of points written per request.
	BatchSize int

	// FlushInterval bounds how long a point waits in a partial batch.
	FlushInterval time.Duration

	// QueueSize is the number of points buffered between Emit and Run.
	// Points arriving at a full queue are dropped and counted.
	QueueSize int

	// Logger receives write failures. Nil discards them.
	Logger *slog.Logger
}

func (c *InfluxConfig) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = DefaultFlushInterval
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
}

// InfluxSink converts events to InfluxDB points and writes them in batches
// from Run. Emit never blocks.
type InfluxSink struct {
	writer PointWriter
	config InfluxConfig
	points chan *write.Point

	dropped atomic.Int64
	failed  atomic.Int64
	closed  atomic.Bool
}

// NewInfluxSink creates a sink writing through w.
func NewInfluxSink(w PointWriter, config InfluxConfig) *InfluxSink {
	config.applyDefaults()
	return &InfluxSink{
		writer: w,
		config: config,
		points: make(chan *write.Point, config.QueueSize),
	}
}

// DialInflux creates a client for the server at url and returns a sink
// writing to bucket. The returned function closes the client.
func DialInflux(url, token, org, bucket string, config InfluxConfig) (*InfluxSink, func()) {
	client := influxdb2.NewClient(url, token)
	return NewInfluxSink(client.WriteAPIBlocking(org, bucket), config), client.Close
}

// Emit queues the points for one event.
func (s *InfluxSink) Emit(event capture.Event) {
	if s.closed.Load() {
		return
	}
	p := toPoint(event)
	if p == nil {
		return
	}
	select {
	case s.points <- p:
	default:
		s.dropped.Add(1)
	}
}

// Dropped returns the number of points discarded at a full queue.
func (s *InfluxSink) Dropped() int64 { return s.dropped.Load() }

// Failed returns the number of points lost to write errors.
func (s *InfluxSink) Failed() int64 { return s.failed.Load() }

// Run writes queued points until ctx ends, then flushes what remains.
func (s *InfluxSink) Run(ctx context.Context) error {
	if s.closed.Load() {
		return ErrSinkClosed
	}
	ticker := time.NewTicker(s.config.FlushInterval)
	defer ticker.Stop()

	batch := make([]*write.Point, 0, s.config.BatchSize)
	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		if err := s.writer.WritePoint(ctx, batch...); err != nil {
			s.failed.Add(int64(len(batch)))
			s.config.Logger.Warn("influx write failed", "points", len(batch), "error", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			s.closed.Store(true)
			for {
				select {
				case p := <-s.points:
					batch = append(batch, p)
					if len(batch) >= s.config.BatchSize {
						flush(context.Background())
					}
				default:
					flush(context.Background())
					return nil
				}
			}
		case p := <-s.points:
			batch = append(batch, p)
			if len(batch) >= s.config.BatchSize {
				flush(ctx)
			}
		case <-ticker.C:
			flush(ctx)
		}
	}
}

func toPoint(event capture.Event) *write.Point {
	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	switch {
	case event.Observation != nil:
		o := event.Observation
		return influxdb2.NewPointWithMeasurement(MeasurementObservation).
			AddTag("session", event.SessionID).
			AddTag("name", o.Name).
			AddTag("source", o.Source.String()).
			AddField("value", o.Value).
			SetTime(ts)
	case event.Log != nil:
		l := event.Log
		p := influxdb2.NewPointWithMeasurement(MeasurementLog).
			AddTag("session", event.SessionID).
			AddTag("channel", strconv.Itoa(l.Channel)).
			AddTag("level", l.Level.String()).
			AddField("text", l.Text).
			AddField("location", l.Record().Where()).
			SetTime(ts)
		if l.Host {
			p.AddTag("host", "true")
		}
		return p
	case event.Write != nil:
		w := event.Write
		return influxdb2.NewPointWithMeasurement(MeasurementWrite).
			AddTag("session", event.SessionID).
			AddTag("name", w.Name).
			AddField("requested", w.Requested).
			AddField("written", w.Written).
			SetTime(ts)
	default:
		return nil
	}
}

var _ capture.Sink = (*InfluxSink)(nil)
