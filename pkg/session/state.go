package session

import (
	"errors"
	"fmt"
)

// Session errors.
var (
	// ErrUnknownSetting indicates an update request for a name that is not a setting.
	ErrUnknownSetting = errors.New("unknown setting")

	// ErrQueueFull indicates the update queue has no room for another request.
	ErrQueueFull = errors.New("setting update queue full")

	// ErrInvalidState indicates an operation not allowed in the current state.
	ErrInvalidState = errors.New("invalid session state")
)

// State is the lifecycle state of a live session.
type State uint8

const (
	// StateUninitialized is the state before Attach.
	StateUninitialized State = iota

	// StateAttached indicates the settings were read once and handed off.
	StateAttached

	// StatePolling indicates cycles are running.
	StatePolling

	// StateDetached indicates a clean stop.
	StateDetached

	// StateFaulted indicates the session ended on a probe error.
	StateFaulted
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "UNINITIALIZED"
	case StateAttached:
		return "ATTACHED"
	case StatePolling:
		return "POLLING"
	case StateDetached:
		return "DETACHED"
	case StateFaulted:
		return "FAULTED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether no further cycles can run.
func (s State) Terminal() bool {
	return s == StateDetached || s == StateFaulted
}

// Phase names a step of the session.
type Phase uint8

const (
	PhaseAttach Phase = iota
	PhaseWrite
	PhaseLog
	PhaseRead
	PhaseEvaluate
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseAttach:
		return "attach"
	case PhaseWrite:
		return "write"
	case PhaseLog:
		return "log"
	case PhaseRead:
		return "read"
	case PhaseEvaluate:
		return "evaluate"
	default:
		return "unknown"
	}
}

// PhaseError reports the phase and entry in which a session step failed.
type PhaseError struct {
	Phase Phase

	// Entry names the metric or setting involved, empty for the log phase.
	Entry string

	Err error
}

func (e *PhaseError) Error() string {
	if e.Entry == "" {
		return fmt.Sprintf("%s phase: %v", e.Phase, e.Err)
	}
	return fmt.Sprintf("%s phase: %s: %v", e.Phase, e.Entry, e.Err)
}

func (e *PhaseError) Unwrap() error {
	return e.Err
}
