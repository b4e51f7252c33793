// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"

	"golang.org/x/term"

	"github.com/fnichol/iocage-provision/internal/app/provision"
	"github.com/fnichol/iocage-provision/internal/config"
	"github.com/fnichol/iocage-provision/internal/executor"
	"github.com/fnichol/iocage-provision/internal/hostuser"
	"github.com/fnichol/iocage-provision/internal/jail"
	"github.com/fnichol/iocage-provision/internal/plan"
	"github.com/fnichol/iocage-provision/internal/release"
)

// errNotRoot is returned by the root preflight check.
var errNotRoot = errors.New("root privileges required")

type (
	// ConfigProvider loads configuration using explicit options.
	ConfigProvider interface {
		Load(ctx context.Context, opts config.LoadOptions) (*config.Config, error)
	}

	// App wires CLI services and host capabilities. It is the composition
	// root of the CLI layer; command handlers get everything through it.
	App struct {
		Config ConfigProvider

		runner     executor.Runner
		host       release.HostIdentifier
		accounts   hostuser.AccountDB
		readFile   hostuser.ReadFileFunc
		euid       func() int
		isTerminal func(w io.Writer) bool
		stdout     io.Writer
		stderr     io.Writer
	}

	// Dependencies defines the injection points for building an App. Nil
	// fields are replaced with production defaults by NewApp.
	Dependencies struct {
		Config ConfigProvider
		// Runner runs external commands. The default runs them with os/exec
		// and streams their output to the debug log.
		Runner executor.Runner
		// Host reports the running release. The default calls uname(2).
		Host release.HostIdentifier
		// Accounts is the host account database.
		Accounts hostuser.AccountDB
		// ReadFile reads authorized_keys files.
		ReadFile hostuser.ReadFileFunc
		// Euid returns the effective user id checked before execution.
		Euid func() int
		// IsTerminal reports whether a writer is an interactive terminal.
		IsTerminal func(w io.Writer) bool
		Stdout     io.Writer
		Stderr     io.Writer
	}

	// runSettings are the per-invocation choices a Provisioner is built from.
	runSettings struct {
		cfg       *config.Config
		policy    jail.FailurePolicy
		logger    *slog.Logger
		observers []provision.Observer
	}
)

// NewApp creates an App with defaults for omitted dependencies.
func NewApp(deps Dependencies) (*App, error) {
	if deps.Stdout == nil {
		deps.Stdout = os.Stdout
	}
	if deps.Stderr == nil {
		deps.Stderr = os.Stderr
	}
	if deps.Config == nil {
		deps.Config = config.NewProvider()
	}
	if deps.Host == nil {
		deps.Host = release.UnameHost{}
	}
	if deps.Euid == nil {
		deps.Euid = os.Geteuid
	}
	if deps.IsTerminal == nil {
		deps.IsTerminal = isTerminal
	}

	return &App{
		Config:     deps.Config,
		runner:     deps.Runner,
		host:       deps.Host,
		accounts:   deps.Accounts,
		readFile:   deps.ReadFile,
		euid:       deps.Euid,
		isTerminal: deps.IsTerminal,
		stdout:     deps.Stdout,
		stderr:     deps.Stderr,
	}, nil
}

// newProvisioner assembles the provisioning core from configuration.
func (a *App) newProvisioner(s runSettings) (*provision.Provisioner, error) {
	cfg := s.cfg

	releases, err := release.NewResolver(a.host, release.WithPattern(cfg.ReleasePattern))
	if err != nil {
		return nil, err
	}

	lookupOpts := []hostuser.Option{
		hostuser.WithAuthorizedKeysFile(cfg.User.AuthorizedKeys),
		hostuser.WithLogger(s.logger),
	}
	if a.accounts != nil {
		lookupOpts = append(lookupOpts, hostuser.WithAccountDB(a.accounts))
	}
	if a.readFile != nil {
		lookupOpts = append(lookupOpts, hostuser.WithReadFile(a.readFile))
	}
	users := hostuser.NewLookup(lookupOpts...)

	planner := plan.NewBuilder(cfg.PlanOptions())

	opts := []provision.Option{
		provision.WithFailurePolicy(s.policy),
		provision.WithLogger(s.logger),
		provision.WithPreflight(a.requireRoot),
	}

	runner := a.runner
	if runner == nil {
		logger := s.logger
		runner = executor.NewExecRunner(executor.WithLineFunc(func(stream, line string) {
			logger.Debug("  "+line, "stream", stream)
		}))
		opts = append(opts, provision.WithPreflight(requireExecutable(cfg.IocagePath)))
	}
	steps := executor.New(runner, executor.WithLogger(s.logger))

	for _, o := range s.observers {
		opts = append(opts, provision.WithObserver(o))
	}

	return provision.New(releases, users, planner, steps, opts...), nil
}

// requireRoot fails unless the process runs with an effective uid of 0.
func (a *App) requireRoot(context.Context) error {
	if euid := a.euid(); euid != 0 {
		return fmt.Errorf("%w (effective uid %d)", errNotRoot, euid)
	}
	return nil
}

// requireExecutable fails when path cannot be found on PATH.
func requireExecutable(path string) provision.PreflightFunc {
	return func(context.Context) error {
		if _, err := exec.LookPath(path); err != nil {
			return err
		}
		return nil
	}
}

// issueStyle picks the glamour style for catalog entries written to w.
func (a *App) issueStyle(w io.Writer) string {
	if a.isTerminal(w) {
		return "dark"
	}
	return "notty"
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
