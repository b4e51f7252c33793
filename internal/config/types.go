// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"

	"github.com/fnichol/iocage-provision/internal/hostuser"
	"github.com/fnichol/iocage-provision/internal/jail"
	"github.com/fnichol/iocage-provision/internal/plan"
	"github.com/fnichol/iocage-provision/internal/release"
)

const (
	// LogLevelDebug logs every command and its output.
	LogLevelDebug LogLevel = "debug"
	// LogLevelInfo logs one line per step.
	LogLevelInfo LogLevel = "info"
	// LogLevelWarn logs warnings and errors only.
	LogLevelWarn LogLevel = "warn"
	// LogLevelError logs errors only.
	LogLevelError LogLevel = "error"
)

var (
	// ErrInvalidLogLevel is returned when a LogLevel value is not recognized.
	ErrInvalidLogLevel = errors.New("invalid log level")
	// ErrInvalidConfig is the sentinel error wrapped by InvalidConfigError.
	ErrInvalidConfig = errors.New("invalid config")
)

type (
	// LogLevel is the default log verbosity.
	LogLevel string

	// InvalidLogLevelError is returned when a LogLevel value is not recognized.
	InvalidLogLevelError struct {
		Value LogLevel
	}

	// InvalidConfigError collects the field errors of a Config.
	InvalidConfigError struct {
		FieldErrors []error
	}

	// Config holds the application configuration.
	Config struct {
		// IocagePath is the iocage executable.
		IocagePath string `json:"iocage_path" mapstructure:"iocage_path"`
		// ThickJail creates thick jails unless overridden on the command line.
		ThickJail bool `json:"thick_jail" mapstructure:"thick_jail"`
		// Properties are extra "key=value" iocage properties.
		Properties []string `json:"properties" mapstructure:"properties"`
		// ReleasePattern is the regular expression a release must match.
		ReleasePattern string             `json:"release_pattern" mapstructure:"release_pattern"`
		SSH            SSHConfig          `json:"ssh" mapstructure:"ssh"`
		User           UserConfig         `json:"user" mapstructure:"user"`
		OnFailure      jail.FailurePolicy `json:"on_failure" mapstructure:"on_failure"`
		Log            LogConfig          `json:"log" mapstructure:"log"`
		Metrics        MetricsConfig      `json:"metrics" mapstructure:"metrics"`
	}

	// SSHConfig configures the SSH service installed by --ssh.
	SSHConfig struct {
		// Package is installed with pkg; empty skips installation.
		Package string `json:"package" mapstructure:"package"`
		// Service is the rc.d service name.
		Service string `json:"service" mapstructure:"service"`
	}

	// UserConfig configures how a host user is copied into a jail.
	UserConfig struct {
		Sudo           bool              `json:"sudo" mapstructure:"sudo"`
		ExtraGroups    []string          `json:"extra_groups" mapstructure:"extra_groups"`
		AuthorizedKeys string            `json:"authorized_keys" mapstructure:"authorized_keys"`
		ShellPackages  map[string]string `json:"shell_packages" mapstructure:"shell_packages"`
	}

	// LogConfig configures logging.
	LogConfig struct {
		Level LogLevel `json:"level" mapstructure:"level"`
	}

	// MetricsConfig configures the metrics textfile.
	MetricsConfig struct {
		Textfile string `json:"textfile" mapstructure:"textfile"`
	}
)

// String returns the level name.
func (l LogLevel) String() string { return string(l) }

// IsValid returns whether the LogLevel is one of the defined levels.
func (l LogLevel) IsValid() (bool, []error) {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return true, nil
	default:
		return false, []error{&InvalidLogLevelError{Value: l}}
	}
}

// Error implements the error interface for InvalidLogLevelError.
func (e *InvalidLogLevelError) Error() string {
	return fmt.Sprintf("invalid log level %q (valid: debug, info, warn, error)", e.Value)
}

// Unwrap returns the sentinel error for errors.Is() compatibility.
func (e *InvalidLogLevelError) Unwrap() error { return ErrInvalidLogLevel }

// IsValid checks what the schema cannot see after environment overrides
// have been applied.
func (c Config) IsValid() (bool, []error) {
	var errs []error
	if strings.TrimSpace(c.IocagePath) == "" {
		errs = append(errs, errors.New("iocage_path must not be empty"))
	}
	if _, err := regexp.Compile(c.ReleasePattern); err != nil {
		errs = append(errs, fmt.Errorf("release_pattern: %w", err))
	}
	for i, p := range c.Properties {
		if k, _, ok := strings.Cut(p, "="); !ok || k == "" {
			errs = append(errs, fmt.Errorf("properties[%d]: %q is not key=value", i, p))
		}
	}
	if valid, fieldErrs := c.OnFailure.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if valid, fieldErrs := c.Log.Level.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if len(errs) > 0 {
		return false, []error{&InvalidConfigError{FieldErrors: errs}}
	}
	return true, nil
}

// Error implements the error interface for InvalidConfigError.
func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid config: %v", errors.Join(e.FieldErrors...))
}

// Unwrap returns ErrInvalidConfig and every field error.
func (e *InvalidConfigError) Unwrap() []error {
	return append([]error{ErrInvalidConfig}, e.FieldErrors...)
}

// DefaultConfig returns the default configuration. It is the only source of
// default values; the planner, resolver and lookup are configured from it.
func DefaultConfig() *Config {
	return &Config{
		IocagePath:     plan.DefaultIocagePath,
		ThickJail:      false,
		Properties:     []string{"resolver=none", "boot=on"},
		ReleasePattern: release.DefaultPattern,
		SSH: SSHConfig{
			Package: "openssh-portable",
			Service: "openssh",
		},
		User: UserConfig{
			Sudo:           true,
			ExtraGroups:    []string{"wheel"},
			AuthorizedKeys: hostuser.DefaultAuthorizedKeysFile,
			ShellPackages:  map[string]string{"bash": "bash", "zsh": "zsh", "fish": "fish"},
		},
		OnFailure: jail.KeepOnFailure,
		Log:       LogConfig{Level: LogLevelInfo},
		Metrics:   MetricsConfig{Textfile: ""},
	}
}

// PlanOptions returns the planner options this configuration selects.
func (c *Config) PlanOptions() plan.Options {
	return plan.Options{
		IocagePath:    c.IocagePath,
		Properties:    slices.Clone(c.Properties),
		SSHPackage:    c.SSH.Package,
		SSHService:    c.SSH.Service,
		Sudo:          c.User.Sudo,
		ExtraGroups:   slices.Clone(c.User.ExtraGroups),
		ShellPackages: maps.Clone(c.User.ShellPackages),
	}
}
