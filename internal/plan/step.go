// SPDX-License-Identifier: MPL-2.0

package plan

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Step kinds, in the order a full plan uses them.
const (
	KindCreateJail           Kind = "create-jail"
	KindSetProperty          Kind = "set-property"
	KindStartJail            Kind = "start-jail"
	KindInstallPackage       Kind = "install-package"
	KindEnableService        Kind = "enable-service"
	KindStartService         Kind = "start-service"
	KindConfigureSudo        Kind = "configure-sudo"
	KindCreateGroup          Kind = "create-group"
	KindCreateUser           Kind = "create-user"
	KindInstallAuthorizedKey Kind = "install-authorized-key"
	// KindDestroyJail is only used for cleanup after a failed run.
	KindDestroyJail Kind = "destroy-jail"
)

var (
	// ErrInvalidStep is the sentinel error wrapped by InvalidStepError.
	ErrInvalidStep = errors.New("invalid step")

	// ErrInvariant is the sentinel error wrapped by InvariantError.
	ErrInvariant = errors.New("plan invariant violated")

	knownKinds = []Kind{
		KindCreateJail, KindSetProperty, KindStartJail, KindInstallPackage,
		KindEnableService, KindStartService, KindConfigureSudo, KindCreateGroup,
		KindCreateUser, KindInstallAuthorizedKey, KindDestroyJail,
	}
)

type (
	// Kind names the sort of provisioning action a Step performs.
	Kind string

	// Step is one provisioning action with a fixed command shape.
	Step struct {
		Kind        Kind     `yaml:"kind"`
		Description string   `yaml:"description"`
		Argv        []string `yaml:"argv,flow"`
		// Stdin is fed to the command; only in-jail steps use it.
		Stdin string `yaml:"stdin,omitempty"`
	}

	// Plan is an ordered list of steps. It is append-only while a Builder
	// fills it and read-only afterwards.
	Plan struct {
		steps []Step
	}

	// InvalidStepError is returned when a Step cannot be executed.
	InvalidStepError struct {
		Step   Step
		Reason string
	}

	// InvariantError reports a condition the planner guarantees never holds.
	// Seeing one is a bug, not an operator mistake.
	InvariantError struct {
		Reason string
		Cause  error
	}
)

// String returns the kind name.
func (k Kind) String() string { return string(k) }

// Validate returns an error if the kind is not known.
func (k Kind) Validate() error {
	if !slices.Contains(knownKinds, k) {
		return &InvalidStepError{Step: Step{Kind: k}, Reason: "unknown kind"}
	}
	return nil
}

// Validate returns an error if the step could not be executed as-is.
func (s Step) Validate() error {
	if err := s.Kind.Validate(); err != nil {
		return err
	}
	if len(s.Argv) == 0 || s.Argv[0] == "" {
		return &InvalidStepError{Step: s, Reason: "empty argument vector"}
	}
	if s.Description == "" {
		return &InvalidStepError{Step: s, Reason: "missing description"}
	}
	return nil
}

// CommandLine renders Argv for log output. It is not meant to be fed to a shell.
func (s Step) CommandLine() string {
	return strings.Join(s.Argv, " ")
}

// Error implements the error interface.
func (e *InvalidStepError) Error() string {
	if e.Step.Description != "" {
		return fmt.Sprintf("invalid %s step %q: %s", e.Step.Kind, e.Step.Description, e.Reason)
	}
	return fmt.Sprintf("invalid %s step: %s", e.Step.Kind, e.Reason)
}

// Unwrap returns ErrInvalidStep for errors.Is() compatibility.
func (e *InvalidStepError) Unwrap() error { return ErrInvalidStep }

// Error implements the error interface.
func (e *InvariantError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("internal error: %s: %v", e.Reason, e.Cause)
	}
	return "internal error: " + e.Reason
}

// Unwrap returns ErrInvariant and the cause, if any.
func (e *InvariantError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrInvariant}
	}
	return []error{ErrInvariant, e.Cause}
}

func (p *Plan) append(s Step) {
	p.steps = append(p.steps, s)
}

// Steps returns a copy of the steps in execution order.
func (p *Plan) Steps() []Step {
	out := make([]Step, len(p.steps))
	for i, s := range p.steps {
		s.Argv = slices.Clone(s.Argv)
		out[i] = s
	}
	return out
}

// Len returns the number of steps.
func (p *Plan) Len() int { return len(p.steps) }

// Kinds returns the kind of every step in order.
func (p *Plan) Kinds() []Kind {
	kinds := make([]Kind, len(p.steps))
	for i, s := range p.steps {
		kinds[i] = s.Kind
	}
	return kinds
}

// MarshalYAML renders the plan as a list of steps.
func (p *Plan) MarshalYAML() (any, error) {
	return struct {
		Steps []Step `yaml:"steps"`
	}{Steps: p.Steps()}, nil
}
