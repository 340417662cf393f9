package capture

import (
	"sync"
)

// Sink receives telemetry events from a live session.
// Pass NoopSink to discard events.
type Sink interface {
	// Emit records an event. Implementations must be safe for concurrent
	// use and must not block the session for long.
	Emit(event Event)
}

// NoopSink discards all events. It is usable as a zero value.
type NoopSink struct{}

// Emit discards the event.
func (NoopSink) Emit(Event) {}

// MultiSink sends events to several sinks in order.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink creates a MultiSink. Nil sinks are skipped.
func NewMultiSink(sinks ...Sink) *MultiSink {
	m := &MultiSink{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Emit sends the event to all configured sinks.
func (m *MultiSink) Emit(event Event) {
	for _, s := range m.sinks {
		s.Emit(event)
	}
}

// MemorySink keeps every event in memory. It backs tests and the
// interactive console's history.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

// Emit appends the event.
func (m *MemorySink) Emit(event Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
}

// Events returns a copy of the recorded events.
func (m *MemorySink) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

// Observations returns the recorded observation payloads in order.
func (m *MemorySink) Observations() []ObservationEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ObservationEvent
	for _, e := range m.events {
		if e.Observation != nil {
			out = append(out, *e.Observation)
		}
	}
	return out
}

// Reset discards the recorded events.
func (m *MemorySink) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = nil
}

// Compile-time interface satisfaction checks.
var (
	_ Sink = NoopSink{}
	_ Sink = (*MultiSink)(nil)
	_ Sink = (*MemorySink)(nil)
)
