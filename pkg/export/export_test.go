package export

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/probeplot/probeplot-go/pkg/capture"
	"github.com/probeplot/probeplot-go/pkg/logstream"
)

func observation(name string, v float64) capture.Event {
	return capture.Event{
		Timestamp:   time.Unix(1700000000, 0),
		SessionID:   "s-1",
		Category:    capture.CategoryObservation,
		Observation: &capture.ObservationEvent{Name: name, Value: v, Source: capture.SourceMetric},
	}
}

func TestPrometheusSink(t *testing.T) {
	p := NewPrometheusSink()

	p.Emit(observation("FOO", 42))
	p.Emit(observation("FOO", 44))
	p.Emit(capture.Event{Log: &capture.LogEvent{Channel: 0, Level: logstream.LevelWarn}})
	p.Emit(capture.Event{Log: &capture.LogEvent{Channel: 0, Level: logstream.LevelWarn}})
	p.Emit(capture.Event{Write: &capture.WriteEvent{Name: "GAIN"}})
	p.Emit(capture.Event{Error: &capture.ErrorEventData{Phase: "evaluate"}})
	p.Emit(capture.Event{StateChange: &capture.StateChangeEvent{NewState: "ATTACHED"}})
	p.Emit(capture.Event{StateChange: &capture.StateChangeEvent{OldState: "ATTACHED", NewState: "POLLING"}})

	assert.Equal(t, 44.0, testutil.ToFloat64(p.Value.WithLabelValues("FOO", "METRIC")))
	assert.Equal(t, 2.0, testutil.ToFloat64(p.LogRecordsTotal.WithLabelValues("0", "WARN")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.WritesTotal.WithLabelValues("GAIN")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.ErrorsTotal.WithLabelValues("evaluate")))
	assert.Equal(t, 0.0, testutil.ToFloat64(p.State.WithLabelValues("ATTACHED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.State.WithLabelValues("POLLING")))
}

func TestPrometheusHandler(t *testing.T) {
	p := NewPrometheusSink()
	p.Emit(observation("FOO_X4", 84))

	srv := httptest.NewServer(p.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `probeplot_value{name="FOO_X4",source="METRIC"} 84`)
}

type fakeWriter struct {
	mu      sync.Mutex
	batches [][]*write.Point
	err     error
}

func (f *fakeWriter) WritePoint(_ context.Context, points ...*write.Point) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.batches = append(f.batches, append([]*write.Point(nil), points...))
	return nil
}

func (f *fakeWriter) points() []*write.Point {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*write.Point
	for _, b := range f.batches {
		out = append(out, b...)
	}
	return out
}

func TestInfluxSinkBatches(t *testing.T) {
	w := &fakeWriter{}
	sink := NewInfluxSink(w, InfluxConfig{BatchSize: 2, FlushInterval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sink.Run(ctx) }()

	sink.Emit(observation("FOO", 1))
	sink.Emit(observation("FOO", 2))
	sink.Emit(capture.Event{Category: capture.CategoryState, StateChange: &capture.StateChangeEvent{NewState: "POLLING"}})
	sink.Emit(capture.Event{
		SessionID: "s-1",
		Category:  capture.CategoryLog,
		Log: &capture.LogEvent{Channel: 1, Level: logstream.LevelError, Text: "fault",
			File: "main.rs", Line: 9},
	})

	require.Eventually(t, func() bool { return len(w.points()) == 2 }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	points := w.points()
	require.Len(t, points, 3, "state changes are not exported; the partial batch is flushed on shutdown")
	assert.Equal(t, MeasurementObservation, points[0].Name())
	assert.Equal(t, MeasurementLog, points[2].Name())

	line := write.PointToLineProtocol(points[2], time.Nanosecond)
	assert.True(t, strings.HasPrefix(line, "log,"), line)
	for _, tag := range []string{"channel=1", "level=ERROR", "session=s-1"} {
		assert.Contains(t, line, tag)
	}
	assert.Contains(t, line, `text="fault"`)
	assert.Contains(t, line, `location="main.rs:9"`)

	sink.Emit(observation("FOO", 3))
	assert.Len(t, w.points(), 3)
	assert.ErrorIs(t, sink.Run(context.Background()), ErrSinkClosed)
}

func TestInfluxSinkFlushInterval(t *testing.T) {
	w := &fakeWriter{}
	sink := NewInfluxSink(w, InfluxConfig{BatchSize: 100, FlushInterval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sink.Run(ctx)

	sink.Emit(observation("BAR", 7))
	require.Eventually(t, func() bool { return len(w.points()) == 1 }, time.Second, time.Millisecond)
}

func TestInfluxSinkCountsFailuresAndDrops(t *testing.T) {
	w := &fakeWriter{err: errors.New("unauthorized")}
	sink := NewInfluxSink(w, InfluxConfig{BatchSize: 1, QueueSize: 1})

	sink.Emit(observation("A", 1))
	sink.Emit(observation("B", 2))
	assert.Equal(t, int64(1), sink.Dropped())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sink.Run(ctx) }()

	require.Eventually(t, func() bool { return sink.Failed() == 1 }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}
