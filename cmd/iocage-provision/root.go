// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"github.com/fnichol/iocage-provision/internal/issue"
	"github.com/fnichol/iocage-provision/pkg/types"
)

const (
	outputText = "text"
	outputYAML = "yaml"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"
)

// rootOptions holds the flag values of one invocation.
type rootOptions struct {
	configPath       string
	verbosity        int
	gateway          string
	release          string
	user             string
	ssh              bool
	thick            bool
	dryRun           bool
	destroyOnFailure bool
	metricsFile      string
	output           string
}

// NewRootCommand builds the command tree around app.
func NewRootCommand(app *App) *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "iocage-provision [flags] NAME ADDRESS",
		Short: "Create and provision a FreeBSD jail with iocage",
		Long: TitleStyle.Render("iocage-provision") + SubtitleStyle.Render(" - create and provision a FreeBSD jail with iocage") + `

Creates a VNET jail called NAME with the static ADDRESS (CIDR notation),
starts it and optionally enables SSH and copies a host user, with their
groups and authorized SSH keys, into it.

The gateway defaults to the first host address of ADDRESS's network and
the release defaults to the host's running release.

` + SubtitleStyle.Render("Examples:") + `
  iocage-provision ferris 192.168.0.100/24
  iocage-provision -s -u jdoe homebase 10.0.0.25/24
  iocage-provision -g 10.1.0.254 -R 13.2-RELEASE db 10.1.0.10/24
  iocage-provision --dry-run ferris 192.168.0.100/24`,
		Args: func(cmd *cobra.Command, args []string) error {
			if err := cobra.ExactArgs(2)(cmd, args); err != nil {
				return &ExitError{Code: types.ExitValidation, Err: err}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProvision(cmd.Context(), app, opts, args[0], args[1])
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "config file (default is $XDG_CONFIG_HOME/iocage-provision/config.cue)")
	pf.CountVarP(&opts.verbosity, "verbose", "v", "increase log verbosity (repeatable)")

	f := rootCmd.Flags()
	f.StringVarP(&opts.gateway, "gateway", "g", "", "default gateway (default is the first address of the jail's network)")
	f.StringVarP(&opts.release, "release", "R", "", "base release such as 13.2-RELEASE (default is the host's release)")
	f.StringVarP(&opts.user, "user", "u", "", "host user to copy into the jail with groups and SSH keys")
	f.BoolVarP(&opts.ssh, "ssh", "s", false, "install, enable and start an SSH service")
	f.BoolVar(&opts.thick, "thick", false, "create a thick jail")
	f.BoolVar(&opts.dryRun, "dry-run", false, "print the plan as YAML and run nothing")
	f.BoolVar(&opts.destroyOnFailure, "destroy-on-failure", false, "destroy the jail if a step fails after it was created")
	f.StringVar(&opts.metricsFile, "metrics-file", "", "write Prometheus metrics for this run to a textfile")
	f.StringVarP(&opts.output, "output", "o", outputText, "result format: text or yaml")

	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &ExitError{Code: types.ExitValidation, Err: err}
	})

	rootCmd.AddCommand(newConfigCommand(app, opts))

	return rootCmd
}

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// Execute runs the CLI and exits the process with the mapped exit code.
func Execute() {
	os.Exit(int(run(context.Background(), os.Args[1:], Dependencies{})))
}

// run executes the command tree with args and returns the exit code.
func run(ctx context.Context, args []string, deps Dependencies) types.ExitCode {
	app, err := NewApp(deps)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return types.ExitInternal
	}

	rootCmd := NewRootCommand(app)
	rootCmd.SetArgs(args)
	rootCmd.SetOut(app.stdout)
	rootCmd.SetErr(app.stderr)

	if err := fang.Execute(
		ctx,
		rootCmd,
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
		fang.WithErrorHandler(app.handleError),
	); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			if exitErr.Code.Validate() != nil {
				return types.ExitInternal
			}
			return exitErr.Code
		}
		return types.ExitFailure
	}
	return types.ExitSuccess
}

// handleError renders errors that escape a command. Provisioning failures
// carry their own rendering; everything else gets fang's default treatment.
func (a *App) handleError(w io.Writer, styles fang.Styles, err error) {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		renderServiceError(w, svcErr, a.issueStyle(w))
		return
	}
	fang.DefaultErrorHandler(w, styles, err)
}

// formatErrorForDisplay formats an error for user display. ActionableErrors
// use their own Format; verbose adds the full error chain.
func formatErrorForDisplay(err error, verbose bool) string {
	var ae *issue.ActionableError
	if errors.As(err, &ae) {
		return ae.Format(verbose)
	}
	return err.Error()
}
