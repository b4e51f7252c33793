// SPDX-License-Identifier: MPL-2.0

package provision

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fnichol/iocage-provision/internal/executor"
	"github.com/fnichol/iocage-provision/internal/plan"
)

const (
	// ClassValidation covers bad input and failed lookups. Nothing has been
	// run on the host yet and the request can be retried once corrected.
	ClassValidation Class = iota + 1
	// ClassPrecondition covers a host that cannot run the plan, such as a
	// missing root privilege. Nothing has been run on the host yet.
	ClassPrecondition
	// ClassExecution covers a failed step. Earlier steps have changed host state.
	ClassExecution
	// ClassInternal covers planner invariant violations.
	ClassInternal
)

var (
	// ErrValidation matches every *Error of ClassValidation.
	ErrValidation = errors.New("validation failed")
	// ErrPrecondition matches every *Error of ClassPrecondition.
	ErrPrecondition = errors.New("precondition failed")
	// ErrExecution matches every *Error of ClassExecution.
	ErrExecution = errors.New("execution failed")
	// ErrInternal matches every *Error of ClassInternal.
	ErrInternal = errors.New("internal error")
)

type (
	// Class is the failure category of an Error.
	Class int

	// Error is returned by Provisioner when a run fails. errors.Is matches
	// both the class sentinel (ErrValidation, ...) and anything in Cause.
	Error struct {
		Class Class
		// Stage is the state the run was in when it failed.
		Stage State
		// Step is the 1-based index of the failed step, or 0 outside execution.
		Step  int
		Total int
		// Outcome is the failed step's outcome when Class is ClassExecution.
		Outcome *executor.StepOutcome
		// Completed lists the steps that succeeded before the failure.
		Completed []executor.StepOutcome
		// Cleanup is the outcome of the destroy step when one was attempted.
		Cleanup *executor.StepOutcome
		Cause   error
	}
)

// String returns the lower-case class name.
func (c Class) String() string {
	switch c {
	case ClassValidation:
		return "validation"
	case ClassPrecondition:
		return "precondition"
	case ClassExecution:
		return "execution"
	case ClassInternal:
		return "internal"
	default:
		return "unknown"
	}
}

func (c Class) sentinel() error {
	switch c {
	case ClassValidation:
		return ErrValidation
	case ClassPrecondition:
		return ErrPrecondition
	case ClassExecution:
		return ErrExecution
	case ClassInternal:
		return ErrInternal
	default:
		return nil
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	var msg strings.Builder
	msg.WriteString(e.Class.sentinel().Error())
	if e.Class == ClassExecution && e.Outcome != nil {
		fmt.Fprintf(&msg, " at step %d of %d (%s)", e.Step, e.Total, e.Outcome.Step.Description)
	} else {
		fmt.Fprintf(&msg, " while %s", e.Stage)
	}
	if e.Cause != nil {
		msg.WriteString(": ")
		msg.WriteString(e.Cause.Error())
	}
	return msg.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is the sentinel of the error's class.
func (e *Error) Is(target error) bool {
	s := e.Class.sentinel()
	return s != nil && target == s
}

// CompletedSteps returns the steps that succeeded before the failure.
func (e *Error) CompletedSteps() []plan.Step {
	steps := make([]plan.Step, len(e.Completed))
	for i, o := range e.Completed {
		steps[i] = o.Step
	}
	return steps
}
