package capture

import (
	"time"

	"github.com/probeplot/probeplot-go/pkg/logstream"
)

// Event is one telemetry event produced by a live session.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// SessionID identifies the live session (UUID).
	SessionID string `cbor:"2,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"3,keyasint"`

	// Type-specific payload (one of these will be set).
	Observation *ObservationEvent `cbor:"4,keyasint,omitempty"`
	Log         *LogEvent         `cbor:"5,keyasint,omitempty"`
	StateChange *StateChangeEvent `cbor:"6,keyasint,omitempty"`
	Write       *WriteEvent       `cbor:"7,keyasint,omitempty"`
	Error       *ErrorEventData   `cbor:"8,keyasint,omitempty"`
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryObservation indicates a changed metric, graph or setting value.
	CategoryObservation Category = 0
	// CategoryLog indicates a decoded log record.
	CategoryLog Category = 1
	// CategoryState indicates a session state change.
	CategoryState Category = 2
	// CategoryWrite indicates a setting written to the target.
	CategoryWrite Category = 3
	// CategoryError indicates a runtime error.
	CategoryError Category = 4
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryObservation:
		return "OBSERVATION"
	case CategoryLog:
		return "LOG"
	case CategoryState:
		return "STATE"
	case CategoryWrite:
		return "WRITE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseCategory parses a category name as returned by String.
func ParseCategory(s string) (Category, bool) {
	for c := CategoryObservation; c <= CategoryError; c++ {
		if c.String() == s {
			return c, true
		}
	}
	return 0, false
}

// Source indicates which kind of entry produced an observation.
type Source uint8

const (
	// SourceMetric is a metric evaluated through its formula.
	SourceMetric Source = 0
	// SourceGraph is a host-side graph formula.
	SourceGraph Source = 1
	// SourceSetting is a setting value read from the target.
	SourceSetting Source = 2
)

// String returns the source name.
func (s Source) String() string {
	switch s {
	case SourceMetric:
		return "METRIC"
	case SourceGraph:
		return "GRAPH"
	case SourceSetting:
		return "SETTING"
	default:
		return "UNKNOWN"
	}
}

// ObservationEvent is a (name, value) pair reported on change.
type ObservationEvent struct {
	Name   string  `cbor:"1,keyasint"`
	Value  float64 `cbor:"2,keyasint"`
	Source Source  `cbor:"3,keyasint"`
}

// LogEvent is a decoded log record.
type LogEvent struct {
	Channel int             `cbor:"1,keyasint"`
	Index   uint64          `cbor:"2,keyasint"`
	Level   logstream.Level `cbor:"3,keyasint"`
	Text    string          `cbor:"4,keyasint"`

	// Source location, empty when unavailable.
	File   string `cbor:"5,keyasint,omitempty"`
	Line   int    `cbor:"6,keyasint,omitempty"`
	Module string `cbor:"7,keyasint,omitempty"`

	// Host marks records produced by the host rather than the target.
	Host bool `cbor:"8,keyasint,omitempty"`
}

// StateChangeEvent captures a session state transition.
type StateChangeEvent struct {
	// OldState is the previous state (may be empty).
	OldState string `cbor:"1,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"2,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"3,keyasint,omitempty"`
}

// WriteEvent captures a setting update written to the target.
type WriteEvent struct {
	Name string `cbor:"1,keyasint"`

	// Requested is the value asked for; Written is the value after
	// rounding and clamping to the setting's kind.
	Requested float64 `cbor:"2,keyasint"`
	Written   float64 `cbor:"3,keyasint"`

	Address uint64 `cbor:"4,keyasint"`
	Raw     []byte `cbor:"5,keyasint,omitempty"`
}

// ErrorEventData captures a runtime error.
type ErrorEventData struct {
	// Phase is the session phase in which the error occurred.
	Phase string `cbor:"1,keyasint"`

	// Entry names the declaration involved, if any.
	Entry string `cbor:"2,keyasint,omitempty"`

	// Message is the error message.
	Message string `cbor:"3,keyasint"`
}

// FromRecord converts a log record to its event payload.
func FromRecord(r logstream.Record) *LogEvent {
	e := &LogEvent{
		Channel: r.Channel,
		Index:   r.Index,
		Level:   r.Level,
		Text:    r.Text,
		Host:    r.Host,
	}
	if r.Location != nil {
		e.File = r.Location.File
		e.Line = r.Location.Line
		e.Module = r.Location.Module
	}
	return e
}

// Record converts the payload back to a log record.
func (e *LogEvent) Record() logstream.Record {
	r := logstream.Record{
		Channel: e.Channel,
		Index:   e.Index,
		Level:   e.Level,
		Text:    e.Text,
		Host:    e.Host,
	}
	if e.File != "" {
		r.Location = &logstream.Location{File: e.File, Line: e.Line, Module: e.Module}
	}
	return r
}
