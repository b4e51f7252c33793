// SPDX-License-Identifier: MPL-2.0

// Package types holds small value types shared by the CLI and the provisioning core.
package types

import (
	"errors"
	"fmt"
	"strconv"
)

const (
	// ExitSuccess is returned when a jail was provisioned (or planned) without error.
	ExitSuccess ExitCode = 0
	// ExitFailure covers runtime problems outside the provisioning taxonomy,
	// such as missing root privileges or an unreadable config file.
	ExitFailure ExitCode = 1
	// ExitValidation is returned when input or host lookups were rejected
	// before any external command ran.
	ExitValidation ExitCode = 2
	// ExitExecution is returned when a provisioning step failed after the
	// host state had already started to change.
	ExitExecution ExitCode = 3
	// ExitInternal is returned for invariant violations inside the planner.
	ExitInternal ExitCode = 4
)

// ErrInvalidExitCode is the sentinel error wrapped by InvalidExitCodeError.
var ErrInvalidExitCode = errors.New("invalid exit code")

type (
	// ExitCode represents a process exit status code.
	// Exit codes are in the range 0-255 on POSIX systems.
	// The zero value (0) means success.
	ExitCode int

	// InvalidExitCodeError is returned when an ExitCode is outside the
	// valid range (0-255).
	InvalidExitCodeError struct {
		Value ExitCode
	}
)

// Error implements the error interface.
func (e *InvalidExitCodeError) Error() string {
	return fmt.Sprintf("invalid exit code %d (must be in range 0-255)", e.Value)
}

// Unwrap returns ErrInvalidExitCode so callers can use errors.Is for programmatic detection.
func (e *InvalidExitCodeError) Unwrap() error { return ErrInvalidExitCode }

// Validate returns an error if the ExitCode is outside the valid range (0-255).
func (c ExitCode) Validate() error {
	if c < 0 || c > 255 {
		return &InvalidExitCodeError{Value: c}
	}
	return nil
}

// IsSuccess returns true if the exit code indicates successful execution.
func (c ExitCode) IsSuccess() bool { return c == ExitSuccess }

// String returns the decimal string representation of the ExitCode.
func (c ExitCode) String() string { return strconv.Itoa(int(c)) }
