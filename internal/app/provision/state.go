// SPDX-License-Identifier: MPL-2.0

package provision

import (
	"errors"
	"fmt"
)

const (
	// StateValidating checks the request fields that need no host lookup.
	StateValidating State = iota
	// StateResolving computes the gateway, release and user record.
	StateResolving
	// StatePlanning expands the resolved spec into steps.
	StatePlanning
	// StateExecuting runs the steps in order.
	StateExecuting
	// StateDone is terminal: every step succeeded.
	StateDone
	// StateFailed is terminal: a stage or step failed.
	StateFailed
)

const (
	// EventValidated is fired when the request passed validation.
	EventValidated Event = iota
	// EventResolved is fired when every default has been resolved.
	EventResolved
	// EventPlanned is fired when the plan was built and preflight passed.
	EventPlanned
	// EventCompleted is fired after the last step succeeded.
	EventCompleted
	// EventFailed is fired by any failure.
	EventFailed
)

var (
	// ErrInvalidTransition is the sentinel error wrapped by InvalidTransitionError.
	ErrInvalidTransition = errors.New("invalid state transition")

	transitions = map[State]map[Event]State{
		StateValidating: {EventValidated: StateResolving, EventFailed: StateFailed},
		StateResolving:  {EventResolved: StatePlanning, EventFailed: StateFailed},
		StatePlanning:   {EventPlanned: StateExecuting, EventFailed: StateFailed},
		StateExecuting:  {EventCompleted: StateDone, EventFailed: StateFailed},
	}
)

type (
	// State is a stage of a provisioning run.
	State int32

	// Event moves a run from one State to the next.
	Event int32

	// InvalidTransitionError is returned when an event is not accepted in a state.
	InvalidTransitionError struct {
		From  State
		Event Event
	}
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateValidating:
		return "validating"
	case StateResolving:
		return "resolving"
	case StatePlanning:
		return "planning"
	case StateExecuting:
		return "executing"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsTerminal returns true for Done and Failed.
func (s State) IsTerminal() bool {
	return s == StateDone || s == StateFailed
}

// String returns the lower-case event name.
func (e Event) String() string {
	switch e {
	case EventValidated:
		return "validated"
	case EventResolved:
		return "resolved"
	case EventPlanned:
		return "planned"
	case EventCompleted:
		return "completed"
	case EventFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Transition returns the state that follows from after event. Terminal
// states accept no events.
func Transition(from State, event Event) (State, error) {
	next, ok := transitions[from][event]
	if !ok {
		return from, &InvalidTransitionError{From: from, Event: event}
	}
	return next, nil
}

// Error implements the error interface for InvalidTransitionError.
func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("event %q is not valid in state %q", e.Event, e.From)
}

// Unwrap returns ErrInvalidTransition for errors.Is() compatibility.
func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }
