package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/probeplot/probeplot-go/pkg/capture"
	"github.com/probeplot/probeplot-go/pkg/expr"
	"github.com/probeplot/probeplot-go/pkg/logstream"
	"github.com/probeplot/probeplot-go/pkg/numeric"
	"github.com/probeplot/probeplot-go/pkg/probe"
	"github.com/probeplot/probeplot-go/pkg/registry"
)

// Default configuration values.
const (
	DefaultInterval  = 10 * time.Millisecond
	DefaultQueueSize = 64
)

// LogSource produces the log records pending on the target.
// *logstream.Demux implements it.
type LogSource interface {
	Drain(ctx context.Context) ([]logstream.Record, error)
}

// Config configures a Session.
type Config struct {
	// Interval is the pause between cycles.
	Interval time.Duration

	// QueueSize is the capacity of the setting update queue.
	QueueSize int

	// SessionID tags emitted events. Empty generates a random UUID.
	SessionID string

	// Logger receives operational messages. Nil discards them.
	Logger *slog.Logger
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() Config {
	return Config{
		Interval:  DefaultInterval,
		QueueSize: DefaultQueueSize,
	}
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.SessionID == "" {
		c.SessionID = uuid.NewString()
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
}

// Update is a foreground request to change a setting.
type Update struct {
	Name  string
	Value float64
}

// Session polls a target's declared values and forwards changes to a sink.
//
// The goroutine calling Attach, Cycle or Run owns the target and the
// registry. Other goroutines interact only through RequestSetting,
// InitialSettings, Stop and State.
type Session struct {
	config Config
	reg    *registry.Registry
	target probe.Target
	logs   LogSource
	sink   capture.Sink
	logger *slog.Logger

	updates  chan Update
	initial  chan []registry.SettingState
	settings map[string]struct{}
	bindings expr.Bindings

	stop atomic.Bool

	mu    sync.RWMutex
	state State
}

// New creates a session over a scanned registry and an attached target.
// logs may be nil when the target has no log channels. Every metric and
// setting address must be aligned to its kind's width.
func New(reg *registry.Registry, target probe.Target, logs LogSource, sink capture.Sink, config Config) (*Session, error) {
	config.applyDefaults()
	if sink == nil {
		sink = capture.NoopSink{}
	}

	settings := make(map[string]struct{}, len(reg.Settings()))
	for _, m := range reg.Metrics() {
		if err := probe.CheckAccess(m.Address, m.Kind().Width()); err != nil {
			return nil, fmt.Errorf("metric %s: %w", m.Name(), err)
		}
	}
	for _, s := range reg.Settings() {
		if err := probe.CheckAccess(s.Address, s.Kind().Width()); err != nil {
			return nil, fmt.Errorf("setting %s: %w", s.Name(), err)
		}
		settings[s.Name()] = struct{}{}
	}

	return &Session{
		config:   config,
		reg:      reg,
		target:   target,
		logs:     logs,
		sink:     sink,
		logger:   config.Logger.With("session", config.SessionID),
		updates:  make(chan Update, config.QueueSize),
		initial:  make(chan []registry.SettingState, 1),
		settings: settings,
		bindings: make(expr.Bindings, reg.Len()),
	}, nil
}

// ID returns the session ID carried by every emitted event.
func (s *Session) ID() string {
	return s.config.SessionID
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// InitialSettings returns the channel on which Attach publishes the setting
// snapshot. Exactly one value is ever sent.
func (s *Session) InitialSettings() <-chan []registry.SettingState {
	return s.initial
}

// RequestSetting queues a setting update for the next write phase.
// It never blocks.
func (s *Session) RequestSetting(name string, value float64) error {
	if _, ok := s.settings[name]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSetting, name)
	}
	select {
	case s.updates <- Update{Name: name, Value: value}:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrQueueFull, name)
	}
}

// Stop asks Run to detach at the next cycle boundary.
func (s *Session) Stop() {
	s.stop.Store(true)
}

// Attach reads every setting once and publishes the snapshot on
// InitialSettings.
func (s *Session) Attach(ctx context.Context) error {
	if st := s.State(); st != StateUninitialized {
		return fmt.Errorf("%w: attach in %s", ErrInvalidState, st)
	}

	for _, st := range s.reg.Settings() {
		v, err := s.readValue(ctx, st.Address, st.Kind())
		if err != nil {
			return s.fault(&PhaseError{Phase: PhaseAttach, Entry: st.Name(), Err: err})
		}
		st.Update(v)
		s.bindings[st.Name()] = v
	}

	s.initial <- s.reg.Snapshot()
	s.setState(StateAttached, "")
	return nil
}

// Cycle runs one write, log, read and evaluate pass.
func (s *Session) Cycle(ctx context.Context) error {
	switch st := s.State(); st {
	case StateAttached:
		s.setState(StatePolling, "")
	case StatePolling:
	default:
		return fmt.Errorf("%w: cycle in %s", ErrInvalidState, st)
	}

	if err := s.writePhase(ctx); err != nil {
		return s.fail(ctx, err)
	}
	if err := s.logPhase(ctx); err != nil {
		return s.fail(ctx, err)
	}
	if err := s.readPhase(ctx); err != nil {
		return s.fail(ctx, err)
	}
	s.evaluatePhase()
	return nil
}

// Run attaches if needed and cycles until ctx ends or Stop is called, then
// detaches. A probe error faults the session and is returned as a
// *PhaseError.
func (s *Session) Run(ctx context.Context) error {
	if s.State() == StateUninitialized {
		if err := s.Attach(ctx); err != nil {
			return err
		}
	}

	timer := time.NewTimer(s.config.Interval)
	defer timer.Stop()

	for {
		if s.stop.Load() {
			s.setState(StateDetached, "stop requested")
			return nil
		}
		if err := s.Cycle(ctx); err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				s.setState(StateDetached, "context done")
				return nil
			}
			return err
		}

		timer.Reset(s.config.Interval)
		select {
		case <-ctx.Done():
			s.setState(StateDetached, "context done")
			return nil
		case <-timer.C:
		}
	}
}

func (s *Session) writePhase(ctx context.Context) error {
	for {
		var u Update
		select {
		case u = <-s.updates:
		default:
			return nil
		}

		st, ok := s.reg.Setting(u.Name)
		if !ok {
			continue
		}
		kind := st.Kind()
		raw := kind.Encode(u.Value)
		written, err := kind.Decode(raw)
		if err != nil {
			return &PhaseError{Phase: PhaseWrite, Entry: u.Name, Err: err}
		}
		if err := probe.WriteWord(ctx, s.target, st.Address, raw); err != nil {
			return &PhaseError{Phase: PhaseWrite, Entry: u.Name, Err: err}
		}

		s.logger.Debug("setting written", "name", u.Name, "requested", u.Value, "written", written)
		s.emit(capture.Event{
			Category: capture.CategoryWrite,
			Write: &capture.WriteEvent{
				Name:      u.Name,
				Requested: u.Value,
				Written:   written,
				Address:   st.Address,
				Raw:       raw,
			},
		})
	}
}

func (s *Session) logPhase(ctx context.Context) error {
	if s.logs == nil {
		return nil
	}
	records, err := s.logs.Drain(ctx)
	for _, r := range records {
		s.emit(capture.Event{Category: capture.CategoryLog, Log: capture.FromRecord(r)})
	}
	if err != nil {
		return &PhaseError{Phase: PhaseLog, Err: err}
	}
	return nil
}

func (s *Session) readPhase(ctx context.Context) error {
	for _, m := range s.reg.Metrics() {
		v, err := s.readValue(ctx, m.Address, m.Kind())
		if err != nil {
			return &PhaseError{Phase: PhaseRead, Entry: m.Name(), Err: err}
		}
		s.bindings[m.Name()] = v
	}
	for _, st := range s.reg.Settings() {
		v, err := s.readValue(ctx, st.Address, st.Kind())
		if err != nil {
			return &PhaseError{Phase: PhaseRead, Entry: st.Name(), Err: err}
		}
		s.bindings[st.Name()] = v
		if st.Update(v) == registry.StatusNew {
			s.observe(st.Name(), v, capture.SourceSetting)
		}
	}
	return nil
}

// evaluatePhase evaluates metrics, then graphs, against the bindings of the
// current cycle. Failures are reported and leave the entry unchanged.
func (s *Session) evaluatePhase() {
	for _, m := range s.reg.Metrics() {
		v, err := m.Expr.Eval(s.bindings)
		if err != nil {
			s.evalError(m.Name(), err)
			continue
		}
		if m.Update(v) == registry.StatusNew {
			s.observe(m.Name(), v, capture.SourceMetric)
		}
	}
	for _, g := range s.reg.Graphs() {
		v, err := g.Expr.Eval(s.bindings)
		if err != nil {
			s.evalError(g.Name(), err)
			continue
		}
		if g.Update(v) == registry.StatusNew {
			s.observe(g.Name(), v, capture.SourceGraph)
		}
	}
}

func (s *Session) readValue(ctx context.Context, addr uint64, kind numeric.Kind) (float64, error) {
	raw, err := probe.ReadWord(ctx, s.target, addr, kind.Width())
	if err != nil {
		return 0, err
	}
	return kind.Decode(raw)
}

func (s *Session) observe(name string, v float64, src capture.Source) {
	s.emit(capture.Event{
		Category:    capture.CategoryObservation,
		Observation: &capture.ObservationEvent{Name: name, Value: v, Source: src},
	})
}

func (s *Session) evalError(name string, err error) {
	s.logger.Warn("evaluation failed", "entry", name, "error", err)
	s.emit(capture.Event{
		Category: capture.CategoryError,
		Error: &capture.ErrorEventData{
			Phase:   PhaseEvaluate.String(),
			Entry:   name,
			Message: err.Error(),
		},
	})
}

// fail faults the session unless err only reports that ctx ended.
func (s *Session) fail(ctx context.Context, err error) error {
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return err
	}
	return s.fault(err)
}

// fault moves the session to FAULTED and reports err.
func (s *Session) fault(err error) error {
	var pe *PhaseError
	if errors.As(err, &pe) {
		s.emit(capture.Event{
			Category: capture.CategoryError,
			Error: &capture.ErrorEventData{
				Phase:   pe.Phase.String(),
				Entry:   pe.Entry,
				Message: pe.Err.Error(),
			},
		})
	}
	s.setState(StateFaulted, err.Error())
	return err
}

func (s *Session) setState(next State, reason string) {
	s.mu.Lock()
	prev := s.state
	s.state = next
	s.mu.Unlock()

	if prev == next {
		return
	}
	if next == StateFaulted {
		s.logger.Error("session state changed", "from", prev, "to", next, "reason", reason)
	} else {
		s.logger.Info("session state changed", "from", prev, "to", next)
	}

	ev := &capture.StateChangeEvent{NewState: next.String(), Reason: reason}
	if prev != StateUninitialized {
		ev.OldState = prev.String()
	}
	s.emit(capture.Event{Category: capture.CategoryState, StateChange: ev})
}

func (s *Session) emit(event capture.Event) {
	event.Timestamp = time.Now()
	event.SessionID = s.config.SessionID
	s.sink.Emit(event)
}
