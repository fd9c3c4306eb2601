package run

import (
	"errors"
	"fmt"
	"time"
)

// State tracks a run through its lifecycle. Transitions only ever move
// forward: Pending -> Dispatching -> Polling -> one of the terminal states.
type State int

const (
	StatePending State = iota
	StateDispatching
	StatePolling
	StateSucceeded
	StateFailed
	StateTimedOut
	StateErrored
)

// String returns the string representation of the State value.
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateDispatching:
		return "dispatching"
	case StatePolling:
		return "polling"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateTimedOut:
		return "timed_out"
	case StateErrored:
		return "errored"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Terminal reports whether no further transitions can occur from s.
func (s State) Terminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateTimedOut, StateErrored:
		return true
	}
	return false
}

var (
	// ErrInvalidTransition indicates an attempt to move a descriptor
	// backwards or out of a terminal state.
	ErrInvalidTransition = errors.New("invalid run state transition")

	// ErrHandleImmutable indicates an attempt to overwrite an assigned
	// run handle.
	ErrHandleImmutable = errors.New("run handle is immutable once set")

	// ErrEmptyHandle indicates a transition to polling without a handle.
	ErrEmptyHandle = errors.New("polling requires a non-empty run handle")
)

// Descriptor identifies and tracks one remote test execution: a single
// (scanner, test, provider) triple. A descriptor is owned by exactly one
// polling engine for its whole lifetime, so it carries no locking; the
// coordinator only reads it back after the owning engine has finished.
type Descriptor struct {
	ScannerID string
	TestName  string
	Provider  string

	// Handle is the provider-assigned identifier for the triggered run.
	// Opaque, meaningful only to the provider that issued it.
	Handle string

	State        State
	DispatchedAt time.Time
	CompletedAt  time.Time

	// Duration comes from provider-reported timestamps when the provider
	// exposes them, and falls back to the locally measured span between
	// DispatchedAt and CompletedAt otherwise.
	Duration time.Duration

	// Message carries diagnostics for non-success terminal states.
	Message string

	// RunURL is a provider-supplied deep link to the remote run, when any.
	RunURL string
}

// New returns a pending descriptor for the given triple.
func New(scannerID, testName, providerName string) *Descriptor {
	return &Descriptor{
		ScannerID: scannerID,
		TestName:  testName,
		Provider:  providerName,
		State:     StatePending,
	}
}

// Key identifies the run in logs and reports.
func (d *Descriptor) Key() string {
	return fmt.Sprintf("%s/%s@%s", d.ScannerID, d.TestName, d.Provider)
}

// MarkDispatching moves the descriptor from pending to dispatching and
// stamps the dispatch time.
func (d *Descriptor) MarkDispatching(now time.Time) error {
	if d.State != StatePending {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, d.State, StateDispatching)
	}
	d.State = StateDispatching
	d.DispatchedAt = now
	return nil
}

// MarkPolling records the provider-assigned handle and moves the descriptor
// to polling. The handle is set exactly once.
func (d *Descriptor) MarkPolling(handle string) error {
	if d.State != StateDispatching {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, d.State, StatePolling)
	}
	if handle == "" {
		return ErrEmptyHandle
	}
	if d.Handle != "" && d.Handle != handle {
		return ErrHandleImmutable
	}
	d.Handle = handle
	d.State = StatePolling
	return nil
}

// MarkTerminal moves the descriptor into the given terminal state and stamps
// the completion time. A descriptor already in a terminal state never
// regresses; attempting to re-terminate it is an error.
func (d *Descriptor) MarkTerminal(state State, now time.Time, message string) error {
	if !state.Terminal() {
		return fmt.Errorf("%w: %s is not terminal", ErrInvalidTransition, state)
	}
	if d.State.Terminal() {
		return fmt.Errorf("%w: already terminal in %s", ErrInvalidTransition, d.State)
	}
	d.State = state
	d.CompletedAt = now
	d.Message = message
	if d.Duration == 0 && !d.DispatchedAt.IsZero() && now.After(d.DispatchedAt) {
		d.Duration = now.Sub(d.DispatchedAt)
	}
	return nil
}
