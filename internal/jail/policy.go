// SPDX-License-Identifier: MPL-2.0

package jail

import (
	"errors"
	"fmt"
)

const (
	// KeepOnFailure leaves a partially provisioned jail in place.
	KeepOnFailure FailurePolicy = "keep"
	// DestroyOnFailure destroys the jail after a failed step, provided the
	// create-jail step had succeeded.
	DestroyOnFailure FailurePolicy = "destroy"
)

// ErrInvalidFailurePolicy is the sentinel error wrapped by InvalidFailurePolicyError.
var ErrInvalidFailurePolicy = errors.New("invalid failure policy")

type (
	// FailurePolicy selects what happens to a jail after an execution failure.
	FailurePolicy string

	// InvalidFailurePolicyError is returned when a FailurePolicy value is not recognized.
	InvalidFailurePolicyError struct {
		Value FailurePolicy
	}
)

// ParseFailurePolicy parses "keep" or "destroy". An empty string is "keep".
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	if s == "" {
		return KeepOnFailure, nil
	}
	f := FailurePolicy(s)
	if valid, errs := f.IsValid(); !valid {
		return "", errs[0]
	}
	return f, nil
}

// String returns the policy name.
func (f FailurePolicy) String() string { return string(f) }

// IsValid returns whether the FailurePolicy is keep or destroy.
func (f FailurePolicy) IsValid() (bool, []error) {
	switch f {
	case KeepOnFailure, DestroyOnFailure:
		return true, nil
	default:
		return false, []error{&InvalidFailurePolicyError{Value: f}}
	}
}

// Error implements the error interface.
func (e *InvalidFailurePolicyError) Error() string {
	return fmt.Sprintf("invalid failure policy %q (valid: keep, destroy)", e.Value)
}

// Unwrap returns ErrInvalidFailurePolicy for errors.Is() compatibility.
func (e *InvalidFailurePolicyError) Unwrap() error { return ErrInvalidFailurePolicy }
