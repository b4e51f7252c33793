// SPDX-License-Identifier: MPL-2.0

// Package jail defines the values that flow through one provisioning run:
// the operator's request, the fully resolved spec and the final summary.
package jail

import (
	"errors"
	"fmt"
	"net/netip"
	"regexp"

	"github.com/fnichol/iocage-provision/internal/hostuser"
	"github.com/fnichol/iocage-provision/internal/release"
)

var (
	// ErrInvalidJailName is the sentinel error wrapped by InvalidNameError.
	ErrInvalidJailName = errors.New("invalid jail name")

	// ErrInvalidRequest is the sentinel error wrapped by InvalidRequestError.
	ErrInvalidRequest = errors.New("invalid provision request")

	// ErrIncompleteSpec is the sentinel error wrapped by IncompleteSpecError.
	ErrIncompleteSpec = errors.New("incomplete jail spec")

	namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)
)

type (
	// Name is an iocage jail name.
	Name string

	// InvalidNameError is returned when a Name is empty or contains
	// characters iocage rejects.
	InvalidNameError struct {
		Value Name
	}

	// Request is what the operator asked for. Empty strings mean "not given".
	Request struct {
		Name    Name
		Address string
		Gateway string
		Release string
		User    string
		SSH     bool
		Thick   bool
	}

	// InvalidRequestError collects field errors of a Request.
	InvalidRequestError struct {
		FieldErrors []error
	}

	// Spec is a fully resolved Request. It is only built once every
	// resolver has succeeded.
	Spec struct {
		Name    Name
		Address netip.Prefix
		Gateway netip.Addr
		Release release.Release
		SSH     bool
		Thick   bool
		// User is nil unless a host account is copied into the jail.
		User *hostuser.Record
	}

	// IncompleteSpecError is returned by Spec.Validate.
	IncompleteSpecError struct {
		Field string
	}

	// Summary describes a provisioned jail.
	Summary struct {
		RunID      string `yaml:"run_id"`
		Name       string `yaml:"name"`
		Address    string `yaml:"address"`
		Gateway    string `yaml:"gateway"`
		Release    string `yaml:"release"`
		SSH        bool   `yaml:"ssh"`
		UserCopied bool   `yaml:"user_copied"`
		User       string `yaml:"user,omitempty"`
		Keys       int    `yaml:"authorized_keys,omitempty"`
	}
)

// String returns the jail name.
func (n Name) String() string { return string(n) }

// Validate returns an error if the name is not usable as an iocage jail name.
func (n Name) Validate() error {
	if !namePattern.MatchString(string(n)) {
		return &InvalidNameError{Value: n}
	}
	return nil
}

// Error implements the error interface.
func (e *InvalidNameError) Error() string {
	if e.Value == "" {
		return "invalid jail name: must not be empty"
	}
	return fmt.Sprintf("invalid jail name %q: use letters, digits, '.', '_' or '-', starting with a letter or digit", e.Value)
}

// Unwrap returns ErrInvalidJailName for errors.Is() compatibility.
func (e *InvalidNameError) Unwrap() error { return ErrInvalidJailName }

// Validate checks the parts of a Request that need no host lookup.
func (r Request) Validate() error {
	var errs []error
	if err := r.Name.Validate(); err != nil {
		errs = append(errs, err)
	}
	if r.Address == "" {
		errs = append(errs, errors.New("address must not be empty"))
	}
	if len(errs) > 0 {
		return &InvalidRequestError{FieldErrors: errs}
	}
	return nil
}

// Error implements the error interface.
func (e *InvalidRequestError) Error() string {
	return errors.Join(e.FieldErrors...).Error()
}

// Unwrap returns the sentinel and every field error.
func (e *InvalidRequestError) Unwrap() []error {
	return append([]error{ErrInvalidRequest}, e.FieldErrors...)
}

// Validate reports the first field a Spec is missing.
func (s Spec) Validate() error {
	switch {
	case s.Name.Validate() != nil:
		return &IncompleteSpecError{Field: "name"}
	case !s.Address.IsValid():
		return &IncompleteSpecError{Field: "address"}
	case !s.Gateway.IsValid():
		return &IncompleteSpecError{Field: "gateway"}
	case s.Release == "":
		return &IncompleteSpecError{Field: "release"}
	case s.User != nil && s.User.Name == "":
		return &IncompleteSpecError{Field: "user"}
	}
	return nil
}

// Error implements the error interface.
func (e *IncompleteSpecError) Error() string {
	return fmt.Sprintf("jail spec has no valid %s", e.Field)
}

// Unwrap returns ErrIncompleteSpec for errors.Is() compatibility.
func (e *IncompleteSpecError) Unwrap() error { return ErrIncompleteSpec }

// Summarize builds the Summary reported after a successful run.
func (s Spec) Summarize(runID string) Summary {
	sum := Summary{
		RunID:   runID,
		Name:    s.Name.String(),
		Address: s.Address.String(),
		Gateway: s.Gateway.String(),
		Release: s.Release.String(),
		SSH:     s.SSH,
	}
	if s.User != nil {
		sum.UserCopied = true
		sum.User = s.User.Name
		sum.Keys = len(s.User.Keys)
	}
	return sum
}
