// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"strings"
	"testing"

	"github.com/fnichol/iocage-provision/pkg/types"
)

func TestGetVersionString(t *testing.T) {
	// Not parallel: subtests mutate package-level Version/Commit/BuildDate vars.

	t.Run("ldflags version", func(t *testing.T) {
		origVersion, origCommit, origBuildDate := Version, Commit, BuildDate
		t.Cleanup(func() {
			Version, Commit, BuildDate = origVersion, origCommit, origBuildDate
		})

		Version = "v0.3.0"
		Commit = "abc1234"
		BuildDate = "2026-10-01T10:00:00Z"

		want := "v0.3.0 (commit: abc1234, built: 2026-10-01T10:00:00Z)"
		if got := getVersionString(); got != want {
			t.Errorf("getVersionString() = %q, want %q", got, want)
		}
	})

	t.Run("dev build", func(t *testing.T) {
		origVersion := Version
		t.Cleanup(func() { Version = origVersion })

		Version = "dev"
		if got := getVersionString(); got != "dev (built from source)" {
			t.Errorf("getVersionString() = %q", got)
		}
	})
}

func TestRootCommand_Flags(t *testing.T) {
	t.Parallel()

	app, err := NewApp(Dependencies{})
	if err != nil {
		t.Fatal(err)
	}
	root := NewRootCommand(app)

	for _, tt := range []struct{ long, short string }{
		{"gateway", "g"},
		{"release", "R"},
		{"user", "u"},
		{"ssh", "s"},
		{"output", "o"},
		{"thick", ""},
		{"dry-run", ""},
		{"destroy-on-failure", ""},
		{"metrics-file", ""},
	} {
		f := root.Flags().Lookup(tt.long)
		if f == nil {
			t.Errorf("flag --%s not defined", tt.long)
			continue
		}
		if f.Shorthand != tt.short {
			t.Errorf("--%s shorthand = %q, want %q", tt.long, f.Shorthand, tt.short)
		}
	}
	if root.PersistentFlags().Lookup("verbose") == nil || root.PersistentFlags().Lookup("config") == nil {
		t.Error("--verbose and --config must be persistent")
	}
}

func TestRun_UnknownFlag(t *testing.T) {
	c := newCLI(t)
	if code := c.run("--no-such-flag", "ferris", "192.168.0.100/24"); code != types.ExitValidation {
		t.Errorf("exit = %d, want %d", code, types.ExitValidation)
	}
	if len(c.runner.commands) != 0 {
		t.Error("commands ran despite a flag error")
	}
	if !strings.Contains(c.stderr.String(), "no-such-flag") {
		t.Errorf("stderr:\n%s", c.stderr.String())
	}
}
