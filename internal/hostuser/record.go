// SPDX-License-Identifier: MPL-2.0

package hostuser

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownUser is the sentinel error wrapped by UnknownUserError.
	ErrUnknownUser = errors.New("unknown user")

	// ErrGroupResolutionFailed is the sentinel error wrapped by GroupResolutionError.
	ErrGroupResolutionFailed = errors.New("group resolution failed")

	// ErrCredentialReadFailed is the sentinel error wrapped by CredentialReadError.
	ErrCredentialReadFailed = errors.New("credential read failed")
)

type (
	// Group is a named group with its numeric id.
	Group struct {
		Name string `yaml:"name"`
		GID  uint32 `yaml:"gid"`
	}

	// AuthorizedKey is one usable line of an authorized_keys file.
	AuthorizedKey struct {
		// Line is the entry as found on the host, options included.
		Line string `yaml:"-"`
		// Type is the key algorithm, e.g. "ssh-ed25519".
		Type string `yaml:"type"`
		// Comment is the trailing comment, often user@host.
		Comment string `yaml:"comment,omitempty"`
		// Fingerprint is the SHA256 fingerprint in OpenSSH format.
		Fingerprint string `yaml:"fingerprint"`
	}

	// Record is a read-only snapshot of a host account.
	Record struct {
		Name         string          `yaml:"name"`
		UID          uint32          `yaml:"uid"`
		GID          uint32          `yaml:"gid"`
		Home         string          `yaml:"home"`
		Shell        string          `yaml:"shell"`
		PrimaryGroup Group           `yaml:"primary_group"`
		Groups       []Group         `yaml:"groups,omitempty"`
		Keys         []AuthorizedKey `yaml:"keys,omitempty"`
	}

	// UnknownUserError is returned when the account database has no such user.
	UnknownUserError struct {
		Name  string
		Cause error
	}

	// GroupResolutionError is returned when a group id of the account has no name.
	GroupResolutionError struct {
		User  string
		GID   string
		Cause error
	}

	// CredentialReadError is returned when an existing authorized_keys file
	// cannot be read.
	CredentialReadError struct {
		Path  string
		Cause error
	}
)

// Error implements the error interface.
func (e *UnknownUserError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("unknown user %q: %v", e.Name, e.Cause)
	}
	return fmt.Sprintf("unknown user %q", e.Name)
}

// Unwrap returns ErrUnknownUser and, when present, the database error.
func (e *UnknownUserError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrUnknownUser}
	}
	return []error{ErrUnknownUser, e.Cause}
}

// Error implements the error interface.
func (e *GroupResolutionError) Error() string {
	return fmt.Sprintf("cannot resolve group id %s of user %q: %v", e.GID, e.User, e.Cause)
}

// Unwrap returns ErrGroupResolutionFailed and the lookup error.
func (e *GroupResolutionError) Unwrap() []error {
	return []error{ErrGroupResolutionFailed, e.Cause}
}

// Error implements the error interface.
func (e *CredentialReadError) Error() string {
	return fmt.Sprintf("cannot read authorized keys %s: %v", e.Path, e.Cause)
}

// Unwrap returns both the sentinel and the I/O error.
func (e *CredentialReadError) Unwrap() []error {
	return []error{ErrCredentialReadFailed, e.Cause}
}

// GroupNames returns the supplementary group names in lookup order.
func (r *Record) GroupNames() []string {
	names := make([]string, 0, len(r.Groups))
	for _, g := range r.Groups {
		names = append(names, g.Name)
	}
	return names
}
