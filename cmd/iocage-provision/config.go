// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fnichol/iocage-provision/internal/config"
)

// newConfigCommand creates the `iocage-provision config` command tree.
func newConfigCommand(app *App, opts *rootOptions) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage iocage-provision configuration",
		Long: `Manage iocage-provision configuration.

The first file found is used:
  - the --config flag
  - $XDG_CONFIG_HOME/iocage-provision/config.cue (~/.config when unset)
  - ` + config.SystemConfigDir + `/config.cue

Every key can be overridden with an ` + config.EnvPrefix + `_ environment
variable, for example ` + config.EnvPrefix + `_ON_FAILURE=destroy.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return showConfig(cmd.Context(), app, opts)
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show which configuration file is used",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return showConfigPath(app, opts)
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "dump",
		Short: "Output the effective configuration as CUE",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.Config.Load(cmd.Context(), config.LoadOptions{ConfigFilePath: opts.configPath})
			if err != nil {
				return newFailure(err, "", opts.verbosity > 0)
			}
			fmt.Fprint(app.stdout, config.GenerateCUE(cfg))
			return nil
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create the per-user configuration file with defaults",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.CreateDefaultConfig()
			if err != nil {
				return newFailure(err, "", opts.verbosity > 0)
			}
			fmt.Fprintf(app.stdout, "%s Configuration at %s\n", SuccessStyle.Render("✓"), path)
			return nil
		},
	})

	return cfgCmd
}

func showConfig(ctx context.Context, app *App, opts *rootOptions) error {
	w := app.stdout
	cfg, err := app.Config.Load(ctx, config.LoadOptions{ConfigFilePath: opts.configPath})
	if err != nil {
		return newFailure(err, "", opts.verbosity > 0)
	}

	keyStyle := CmdStyle
	valueStyle := SuccessStyle
	kv := func(indent, key, value string) {
		fmt.Fprintf(w, "%s%s: %s\n", indent, keyStyle.Render(key), valueStyle.Render(value))
	}

	fmt.Fprintln(w, TitleStyle.Render("Current Configuration"))
	fmt.Fprintln(w)

	if path, err := config.Locate(config.LoadOptions{ConfigFilePath: opts.configPath}); err == nil && path != "" {
		fmt.Fprintf(w, "%s: %s\n", keyStyle.Render("Config file"), path)
	} else {
		fmt.Fprintf(w, "%s: %s\n", keyStyle.Render("Config file"), SubtitleStyle.Render("(using defaults)"))
	}
	fmt.Fprintln(w)

	kv("", "iocage_path", cfg.IocagePath)
	kv("", "thick_jail", fmt.Sprintf("%v", cfg.ThickJail))
	kv("", "properties", strings.Join(cfg.Properties, " "))
	kv("", "release_pattern", cfg.ReleasePattern)
	kv("", "on_failure", cfg.OnFailure.String())

	fmt.Fprintf(w, "\n%s:\n", keyStyle.Render("ssh"))
	kv("  ", "package", orNone(cfg.SSH.Package))
	kv("  ", "service", cfg.SSH.Service)

	fmt.Fprintf(w, "\n%s:\n", keyStyle.Render("user"))
	kv("  ", "sudo", fmt.Sprintf("%v", cfg.User.Sudo))
	kv("  ", "extra_groups", orNone(strings.Join(cfg.User.ExtraGroups, ",")))
	kv("  ", "authorized_keys", orNone(cfg.User.AuthorizedKeys))

	fmt.Fprintf(w, "\n%s:\n", keyStyle.Render("log"))
	kv("  ", "level", cfg.Log.Level.String())

	fmt.Fprintf(w, "\n%s:\n", keyStyle.Render("metrics"))
	kv("  ", "textfile", orNone(cfg.Metrics.Textfile))

	return nil
}

func showConfigPath(app *App, opts *rootOptions) error {
	cfgDir, err := config.ConfigDir()
	if err != nil {
		return newFailure(err, "", opts.verbosity > 0)
	}
	path, err := config.Locate(config.LoadOptions{ConfigFilePath: opts.configPath})
	if err != nil {
		return newFailure(err, "", opts.verbosity > 0)
	}
	if path == "" {
		path = "(none, using defaults)"
	}

	fmt.Fprintf(app.stdout, "User config file: %s\n", filepath.Join(cfgDir, config.ConfigFileName+"."+config.ConfigFileExt))
	fmt.Fprintf(app.stdout, "System config file: %s\n", filepath.Join(config.SystemConfigDir, config.ConfigFileName+"."+config.ConfigFileExt))
	fmt.Fprintf(app.stdout, "Active config file: %s\n", path)
	return nil
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
