// SPDX-License-Identifier: MPL-2.0

// Package release determines which base release a new jail is built from.
package release

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// DefaultPattern matches the release labels iocage fetches, such as
// 13.2-RELEASE, 14.0-BETA2 and 14.1-RC1.
const DefaultPattern = `^[0-9]+\.[0-9]+-(RELEASE|BETA[0-9]+|RC[0-9]+)$`

var (
	// ErrInvalidRelease is the sentinel error wrapped by InvalidReleaseError.
	ErrInvalidRelease = errors.New("invalid release")

	// ErrReleaseDetectionFailed is the sentinel error wrapped by DetectionError.
	ErrReleaseDetectionFailed = errors.New("release detection failed")
)

type (
	// Release is a base release label in the form iocage expects.
	Release string

	// HostIdentifier reports the running kernel's release string, as printed
	// by uname -r (for example "13.2-RELEASE-p4").
	HostIdentifier interface {
		HostRelease() (string, error)
	}

	// HostIdentifierFunc adapts a plain function to HostIdentifier.
	HostIdentifierFunc func() (string, error)

	// Option configures a Resolver.
	Option func(*Resolver) error

	// Resolver picks the jail release from an override or the host.
	Resolver struct {
		host    HostIdentifier
		pattern *regexp.Regexp
	}

	// InvalidReleaseError is returned when an explicit release does not look
	// like a release label.
	InvalidReleaseError struct {
		Value   string
		Pattern string
	}

	// DetectionError is returned when no release can be derived from the host.
	DetectionError struct {
		// HostValue is the raw string reported by the host, if any was read.
		HostValue string
		Cause     error
	}
)

// Error implements the error interface.
func (e *InvalidReleaseError) Error() string {
	return fmt.Sprintf("invalid release %q: expected a label such as 13.2-RELEASE (pattern %s)", e.Value, e.Pattern)
}

// Unwrap returns ErrInvalidRelease for errors.Is() compatibility.
func (e *InvalidReleaseError) Unwrap() error { return ErrInvalidRelease }

// Error implements the error interface.
func (e *DetectionError) Error() string {
	switch {
	case e.HostValue == "" && e.Cause != nil:
		return fmt.Sprintf("cannot determine host release: %v", e.Cause)
	case e.Cause != nil:
		return fmt.Sprintf("cannot derive a release from host version %q: %v", e.HostValue, e.Cause)
	default:
		return fmt.Sprintf("cannot derive a release from host version %q", e.HostValue)
	}
}

// Unwrap returns both the sentinel and the underlying cause.
func (e *DetectionError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrReleaseDetectionFailed}
	}
	return []error{ErrReleaseDetectionFailed, e.Cause}
}

// HostRelease implements HostIdentifier.
func (f HostIdentifierFunc) HostRelease() (string, error) { return f() }

// String returns the release label.
func (r Release) String() string { return string(r) }

// WithPattern replaces DefaultPattern with a custom regular expression.
// An empty pattern keeps the default.
func WithPattern(expr string) Option {
	return func(r *Resolver) error {
		if expr == "" {
			return nil
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return fmt.Errorf("compile release pattern %q: %w", expr, err)
		}
		r.pattern = re
		return nil
	}
}

// NewResolver creates a Resolver reading the host release from host.
func NewResolver(host HostIdentifier, opts ...Option) (*Resolver, error) {
	if host == nil {
		return nil, errors.New("release: host identifier must not be nil")
	}
	r := &Resolver{
		host:    host,
		pattern: regexp.MustCompile(DefaultPattern),
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Resolve returns override when it is set and well-formed. Otherwise the
// release is derived from the host's running version.
func (r *Resolver) Resolve(override string) (Release, error) {
	if override != "" {
		if !r.pattern.MatchString(override) {
			return "", &InvalidReleaseError{Value: override, Pattern: r.pattern.String()}
		}
		return Release(override), nil
	}

	raw, err := r.host.HostRelease()
	if err != nil {
		return "", &DetectionError{Cause: err}
	}

	rel, err := Normalize(raw)
	if err != nil {
		return "", err
	}
	if !r.pattern.MatchString(string(rel)) {
		return "", &DetectionError{
			HostValue: raw,
			Cause:     fmt.Errorf("normalized label %q does not match %s", rel, r.pattern),
		}
	}
	return rel, nil
}

// Normalize maps a host version string to the release label iocage fetches.
// Patch levels are dropped and a STABLE branch maps to its RELEASE:
//
//	13.2-RELEASE-p4 -> 13.2-RELEASE
//	14.0-STABLE     -> 14.0-RELEASE
func Normalize(hostVersion string) (Release, error) {
	v := strings.TrimSpace(hostVersion)
	parts := strings.Split(v, "-")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", &DetectionError{HostValue: hostVersion, Cause: errors.New("expected <major>.<minor>-<branch>")}
	}

	branch := parts[1]
	if branch == "STABLE" {
		branch = "RELEASE"
	}
	return Release(parts[0] + "-" + branch), nil
}
