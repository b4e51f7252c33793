// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/viper"

	"github.com/fnichol/iocage-provision/internal/issue"
	"github.com/fnichol/iocage-provision/pkg/cueutil"
)

const (
	// AppName is the application name.
	AppName = "iocage-provision"
	// ConfigFileName is the name of the config file (without extension).
	ConfigFileName = "config"
	// ConfigFileExt is the config file extension.
	ConfigFileExt = "cue"
	// EnvPrefix prefixes environment overrides.
	EnvPrefix = "IOCAGE_PROVISION"
	// SystemConfigDir holds the host-wide config file.
	SystemConfigDir = "/usr/local/etc/" + AppName
)

//go:embed config_schema.cue
var configSchema []byte

// ConfigDir returns the per-user configuration directory,
// $XDG_CONFIG_HOME/iocage-provision or ~/.config/iocage-provision.
//
//nolint:revive // ConfigDir is more descriptive than Dir for external callers
func ConfigDir() (string, error) {
	if configDirOverride != "" {
		return configDirOverride, nil
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, AppName), nil
}

// Locate returns the config file that would be loaded for opts, or "" when
// none exists and defaults apply.
func Locate(opts LoadOptions) (string, error) {
	if opts.ConfigFilePath != "" {
		if !fileExists(opts.ConfigFilePath) {
			return "", configNotFound(opts.ConfigFilePath)
		}
		return opts.ConfigFilePath, nil
	}

	cfgDir, err := configDirWithOverride(opts.ConfigDirPath)
	if err != nil {
		return "", err
	}
	systemDir := SystemConfigDir
	if opts.SystemDirPath != "" {
		systemDir = opts.SystemDirPath
	}

	for _, dir := range []string{cfgDir, systemDir} {
		path := filepath.Join(dir, ConfigFileName+"."+ConfigFileExt)
		if fileExists(path) {
			return path, nil
		}
	}
	return "", nil
}

// loadWithOptions performs option-driven config loading.
func loadWithOptions(ctx context.Context, opts LoadOptions) (*Config, string, error) {
	select {
	case <-ctx.Done():
		return nil, "", fmt.Errorf("load config canceled: %w", ctx.Err())
	default:
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path, err := Locate(opts)
	if err != nil {
		return nil, "", err
	}
	if path != "" {
		if err := loadCUEIntoViper(v, path); err != nil {
			return nil, "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(path).
				WithSuggestion("Check that the file contains valid CUE syntax").
				WithSuggestion("Verify the configuration values match the expected schema").
				WithSuggestion("Use 'iocage-provision config show' to see the default configuration").
				WithIssue(issue.ConfigLoadFailedId).
				Wrap(err).
				BuildError()
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse config: %w", err)
	}

	if valid, errs := cfg.IsValid(); !valid {
		ec := issue.NewErrorContext().
			WithOperation("validate configuration").
			WithSuggestion("Check " + EnvPrefix + "_* environment variables for typos").
			WithIssue(issue.ConfigLoadFailedId)
		if path != "" {
			ec = ec.WithResource(path)
		}
		return nil, "", ec.Wrap(errs[0]).BuildError()
	}

	return &cfg, path, nil
}

func setDefaults(v *viper.Viper) {
	defaults := DefaultConfig()
	v.SetDefault("iocage_path", defaults.IocagePath)
	v.SetDefault("thick_jail", defaults.ThickJail)
	v.SetDefault("properties", defaults.Properties)
	v.SetDefault("release_pattern", defaults.ReleasePattern)
	v.SetDefault("ssh.package", defaults.SSH.Package)
	v.SetDefault("ssh.service", defaults.SSH.Service)
	v.SetDefault("user.sudo", defaults.User.Sudo)
	v.SetDefault("user.extra_groups", defaults.User.ExtraGroups)
	v.SetDefault("user.authorized_keys", defaults.User.AuthorizedKeys)
	v.SetDefault("user.shell_packages", defaults.User.ShellPackages)
	v.SetDefault("on_failure", defaults.OnFailure)
	v.SetDefault("log.level", defaults.Log.Level)
	v.SetDefault("metrics.textfile", defaults.Metrics.Textfile)
}

// configDirWithOverride resolves the configuration directory, honoring
// explicit provider options before platform defaults.
func configDirWithOverride(configDirPath string) (string, error) {
	if configDirPath != "" {
		return configDirPath, nil
	}
	return ConfigDir()
}

// loadCUEIntoViper validates a CUE file against #Config and merges it into
// Viper over the defaults. Fields are optional, so values need not be
// concrete.
func loadCUEIntoViper(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	res, err := cueutil.ParseAndDecode[map[string]any](configSchema, data, "#Config",
		cueutil.WithFilename(path),
		cueutil.WithConcrete(false),
	)
	if err != nil {
		return err
	}

	if err := v.MergeConfigMap(*res.Value); err != nil {
		return fmt.Errorf("failed to merge config: %w", err)
	}
	return nil
}

func configNotFound(path string) error {
	return issue.NewErrorContext().
		WithOperation("load configuration").
		WithResource(path).
		WithSuggestion("Verify the file path is correct").
		WithSuggestion("Check that the file exists and is readable").
		WithSuggestion("Use 'iocage-provision config init' to create a default configuration").
		WithIssue(issue.ConfigLoadFailedId).
		Wrap(fmt.Errorf("config file not found: %s", path)).
		BuildError()
}

// fileExists checks if a file exists and is not a directory
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false
	}
	return err == nil && !info.IsDir()
}

// CreateDefaultConfig writes the default config to the per-user config
// directory unless a file already exists there. It returns the file path.
func CreateDefaultConfig() (string, error) {
	cfgDir, err := ConfigDir()
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(cfgDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	cfgPath := filepath.Join(cfgDir, ConfigFileName+"."+ConfigFileExt)
	if _, err := os.Stat(cfgPath); err == nil {
		return cfgPath, nil
	}

	if err := os.WriteFile(cfgPath, []byte(GenerateCUE(DefaultConfig())), 0o644); err != nil {
		return "", fmt.Errorf("failed to write config file: %w", err)
	}
	return cfgPath, nil
}

// GenerateCUE generates a CUE representation of the configuration.
func GenerateCUE(cfg *Config) string {
	var sb strings.Builder

	sb.WriteString("// iocage-provision configuration file\n\n")

	fmt.Fprintf(&sb, "iocage_path: %q\n", cfg.IocagePath)
	fmt.Fprintf(&sb, "thick_jail: %v\n", cfg.ThickJail)
	sb.WriteString("properties: [")
	for i, p := range cfg.Properties {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%q", p)
	}
	sb.WriteString("]\n")
	fmt.Fprintf(&sb, "release_pattern: %q\n", cfg.ReleasePattern)
	fmt.Fprintf(&sb, "on_failure: %q\n", cfg.OnFailure)

	sb.WriteString("\nssh: {\n")
	fmt.Fprintf(&sb, "\t\"package\": %q\n", cfg.SSH.Package)
	fmt.Fprintf(&sb, "\tservice: %q\n", cfg.SSH.Service)
	sb.WriteString("}\n")

	sb.WriteString("\nuser: {\n")
	fmt.Fprintf(&sb, "\tsudo: %v\n", cfg.User.Sudo)
	sb.WriteString("\textra_groups: [")
	for i, g := range cfg.User.ExtraGroups {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%q", g)
	}
	sb.WriteString("]\n")
	fmt.Fprintf(&sb, "\tauthorized_keys: %q\n", cfg.User.AuthorizedKeys)
	sb.WriteString("\tshell_packages: {\n")
	shells := make([]string, 0, len(cfg.User.ShellPackages))
	for shell := range cfg.User.ShellPackages {
		shells = append(shells, shell)
	}
	slices.Sort(shells)
	for _, shell := range shells {
		fmt.Fprintf(&sb, "\t\t%q: %q\n", shell, cfg.User.ShellPackages[shell])
	}
	sb.WriteString("\t}\n")
	sb.WriteString("}\n")

	sb.WriteString("\nlog: {\n")
	fmt.Fprintf(&sb, "\tlevel: %q\n", cfg.Log.Level)
	sb.WriteString("}\n")

	sb.WriteString("\nmetrics: {\n")
	fmt.Fprintf(&sb, "\ttextfile: %q\n", cfg.Metrics.Textfile)
	sb.WriteString("}\n")

	return sb.String()
}
