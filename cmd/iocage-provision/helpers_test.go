// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"testing"

	"golang.org/x/crypto/ssh"

	"github.com/fnichol/iocage-provision/internal/config"
	"github.com/fnichol/iocage-provision/internal/executor"
	"github.com/fnichol/iocage-provision/internal/hostuser"
	"github.com/fnichol/iocage-provision/internal/release"
	"github.com/fnichol/iocage-provision/pkg/types"
)

type (
	// fakeRunner succeeds every command except those whose iocage
	// subcommand is failOn.
	fakeRunner struct {
		failOn     string
		failStderr string
		commands   []executor.Command
	}

	fakeConfig struct {
		cfg *config.Config
		err error
	}

	fakeAccounts struct {
		accounts map[string]hostuser.Account
		groups   map[string]string
		memberOf map[string][]string
	}

	// cli is one in-process invocation.
	cli struct {
		deps   Dependencies
		runner *fakeRunner
		stdout bytes.Buffer
		stderr bytes.Buffer
	}
)

func (r *fakeRunner) Run(_ context.Context, c executor.Command) (executor.Output, error) {
	r.commands = append(r.commands, c)
	if len(c.Argv) > 1 && c.Argv[1] == r.failOn {
		return executor.Output{Stderr: []byte(r.failStderr), ExitStatus: 1}, nil
	}
	return executor.Output{}, nil
}

// subcommands returns the iocage subcommand of every recorded command.
func (r *fakeRunner) subcommands() []string {
	out := make([]string, len(r.commands))
	for i, c := range r.commands {
		out[i] = c.Argv[1]
	}
	return out
}

func (r *fakeRunner) stdinContaining(s string) bool {
	for _, c := range r.commands {
		if strings.Contains(c.Stdin, s) {
			return true
		}
	}
	return false
}

func (f *fakeConfig) Load(context.Context, config.LoadOptions) (*config.Config, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.cfg, nil
}

func (f *fakeAccounts) LookupUser(name string) (hostuser.Account, error) {
	acct, ok := f.accounts[name]
	if !ok {
		return hostuser.Account{}, fmt.Errorf("%w: %s", hostuser.ErrNoSuchUser, name)
	}
	return acct, nil
}

func (f *fakeAccounts) GroupName(gid string) (string, error) {
	name, ok := f.groups[gid]
	if !ok {
		return "", fmt.Errorf("unknown group %s", gid)
	}
	return name, nil
}

func (f *fakeAccounts) GroupIDs(acct hostuser.Account) ([]string, error) {
	return f.memberOf[acct.Name], nil
}

func testAuthorizedKey(t *testing.T, comment string) string {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		t.Fatal(err)
	}
	return strings.TrimSpace(string(ssh.MarshalAuthorizedKey(sshPub))) + " " + comment
}

// newCLI returns an invocation running as root on a 13.2 host, with the
// default configuration and a host account "jdoe" holding one key.
func newCLI(t *testing.T) *cli {
	t.Helper()
	keys := testAuthorizedKey(t, "jdoe@laptop") + "\n"

	c := &cli{runner: &fakeRunner{}}
	c.deps = Dependencies{
		Config: &fakeConfig{cfg: config.DefaultConfig()},
		Runner: c.runner,
		Host: release.HostIdentifierFunc(func() (string, error) {
			return "13.2-RELEASE-p4", nil
		}),
		Accounts: &fakeAccounts{
			accounts: map[string]hostuser.Account{
				"jdoe": {Name: "jdoe", UID: "1001", GID: "1001", Home: "/home/jdoe", Shell: "/usr/local/bin/zsh"},
			},
			groups:   map[string]string{"0": "wheel", "1001": "jdoe"},
			memberOf: map[string][]string{"jdoe": {"1001", "0"}},
		},
		ReadFile: func(name string) ([]byte, error) {
			if name == "/home/jdoe/.ssh/authorized_keys" {
				return []byte(keys), nil
			}
			return nil, fs.ErrNotExist
		},
		Euid:       func() int { return 0 },
		IsTerminal: func(io.Writer) bool { return false },
		Stdout:     &c.stdout,
		Stderr:     &c.stderr,
	}
	return c
}

func (c *cli) run(args ...string) types.ExitCode {
	return run(context.Background(), args, c.deps)
}
