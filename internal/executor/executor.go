// SPDX-License-Identifier: MPL-2.0

package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fnichol/iocage-provision/internal/plan"
)

const (
	// StatusSucceeded means the command exited with status zero.
	StatusSucceeded Status = "succeeded"
	// StatusFailed means the command exited non-zero or could not be started.
	StatusFailed Status = "failed"
)

// ErrCommandFailed is the sentinel error wrapped by CommandFailedError.
var ErrCommandFailed = errors.New("command failed")

type (
	// Status is the result class of a step.
	Status string

	// StepOutcome records what happened when a step ran.
	StepOutcome struct {
		Step       plan.Step     `yaml:"-"`
		Status     Status        `yaml:"status"`
		ExitStatus int           `yaml:"exit_status"`
		Stdout     string        `yaml:"stdout,omitempty"`
		Stderr     string        `yaml:"stderr,omitempty"`
		Duration   time.Duration `yaml:"duration"`
		// Cause is set when the command could not be run at all.
		Cause error `yaml:"-"`
	}

	// CommandFailedError describes a failed step. Stderr is the command's
	// standard error exactly as it was captured.
	CommandFailedError struct {
		Step       plan.Step
		ExitStatus int
		Stderr     string
		Cause      error
	}

	// Option configures an Executor.
	Option func(*Executor)

	// Executor runs plan steps through a Runner.
	Executor struct {
		runner Runner
		logger *slog.Logger
		now    func() time.Time
	}
)

// Succeeded reports whether the step exited with status zero.
func (o StepOutcome) Succeeded() bool { return o.Status == StatusSucceeded }

// Err returns a *CommandFailedError for a failed outcome and nil otherwise.
func (o StepOutcome) Err() error {
	if o.Succeeded() {
		return nil
	}
	return &CommandFailedError{Step: o.Step, ExitStatus: o.ExitStatus, Stderr: o.Stderr, Cause: o.Cause}
}

// Error implements the error interface.
func (e *CommandFailedError) Error() string {
	var msg strings.Builder
	fmt.Fprintf(&msg, "%s failed", e.Step.Description)
	if e.Cause != nil {
		fmt.Fprintf(&msg, ": %v", e.Cause)
	} else {
		fmt.Fprintf(&msg, " with exit status %d", e.ExitStatus)
	}
	if stderr := strings.TrimRight(e.Stderr, "\n"); stderr != "" {
		msg.WriteString(": ")
		msg.WriteString(stderr)
	}
	return msg.String()
}

// Unwrap returns ErrCommandFailed and the start failure, if any.
func (e *CommandFailedError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrCommandFailed}
	}
	return []error{ErrCommandFailed, e.Cause}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		e.logger = logger
	}
}

// WithClock replaces time.Now for duration measurements.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		e.now = now
	}
}

// New creates an Executor around runner.
func New(runner Runner, opts ...Option) *Executor {
	e := &Executor{
		runner: runner,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs step once and blocks until the command exits.
func (e *Executor) Execute(ctx context.Context, step plan.Step) StepOutcome {
	outcome := StepOutcome{Step: step, Status: StatusFailed, ExitStatus: -1}

	if err := step.Validate(); err != nil {
		outcome.Cause = err
		return outcome
	}

	e.logger.Debug("running step", "kind", step.Kind, "command", step.CommandLine())

	start := e.now()
	out, err := e.runner.Run(ctx, Command{Argv: step.Argv, Stdin: step.Stdin})
	outcome.Duration = e.now().Sub(start)
	outcome.Stdout = string(out.Stdout)
	outcome.Stderr = string(out.Stderr)
	outcome.ExitStatus = out.ExitStatus

	switch {
	case err != nil:
		outcome.ExitStatus = -1
		outcome.Cause = err
	case out.ExitStatus == 0:
		outcome.Status = StatusSucceeded
	}

	e.logger.Debug("step finished",
		"kind", step.Kind,
		"status", outcome.Status,
		"exit_status", outcome.ExitStatus,
		"duration", outcome.Duration)

	return outcome
}
