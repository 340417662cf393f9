package capture

import (
	"context"
	"log/slog"
)

// SlogSink writes events to an slog.Logger. Observations, writes and state
// changes are logged at info, log records at their own level and errors at
// error.
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink creates a SlogSink writing to logger.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	return &SlogSink{logger: logger}
}

// Emit writes the event.
func (s *SlogSink) Emit(event Event) {
	level := slog.LevelInfo
	msg := "telemetry"
	attrs := []slog.Attr{slog.String("category", event.Category.String())}

	switch {
	case event.Observation != nil:
		msg = "observation"
		attrs = append(attrs,
			slog.String("name", event.Observation.Name),
			slog.Float64("value", event.Observation.Value),
			slog.String("source", event.Observation.Source.String()),
		)
	case event.Log != nil:
		msg = event.Log.Text
		level = event.Log.Level.Slog()
		attrs = append(attrs, slog.Int("channel", event.Log.Channel))
		if event.Log.Host {
			attrs = append(attrs, slog.Bool("host", true))
		} else {
			attrs = append(attrs, slog.String("location", event.Log.Record().Where()))
		}
	case event.StateChange != nil:
		msg = "state change"
		attrs = append(attrs,
			slog.String("old_state", event.StateChange.OldState),
			slog.String("new_state", event.StateChange.NewState),
		)
		if event.StateChange.Reason != "" {
			attrs = append(attrs, slog.String("reason", event.StateChange.Reason))
		}
	case event.Write != nil:
		msg = "setting written"
		attrs = append(attrs,
			slog.String("name", event.Write.Name),
			slog.Float64("requested", event.Write.Requested),
			slog.Float64("written", event.Write.Written),
		)
	case event.Error != nil:
		msg = "session error"
		level = slog.LevelError
		attrs = append(attrs,
			slog.String("phase", event.Error.Phase),
			slog.String("error", event.Error.Message),
		)
		if event.Error.Entry != "" {
			attrs = append(attrs, slog.String("entry", event.Error.Entry))
		}
	}

	s.logger.LogAttrs(context.Background(), level, msg, attrs...)
}

var _ Sink = (*SlogSink)(nil)
