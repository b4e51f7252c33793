// SPDX-License-Identifier: MPL-2.0

package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"slices"
	"strings"
)

type (
	// ExecCommandFunc is the function signature for creating exec.Cmd.
	// This allows injection of mock implementations for testing.
	ExecCommandFunc func(ctx context.Context, name string, arg ...string) *exec.Cmd

	// LineFunc receives one line of live command output. stream is "stdout" or "stderr".
	LineFunc func(stream, line string)

	// Command is one external invocation.
	Command struct {
		Argv  []string
		Stdin string
	}

	// Output is what a finished command produced.
	Output struct {
		Stdout     []byte
		Stderr     []byte
		ExitStatus int
	}

	// Runner starts external commands. A non-zero exit status is reported in
	// Output and is not an error; the error return is reserved for commands
	// that could not be run at all.
	Runner interface {
		Run(ctx context.Context, cmd Command) (Output, error)
	}

	// ExecRunnerOption configures an ExecRunner.
	ExecRunnerOption func(*ExecRunner)

	// ExecRunner runs commands with os/exec.
	ExecRunner struct {
		execCommand     ExecCommandFunc
		cmdEnvOverrides map[string]string
		onLine          LineFunc
	}
)

// WithExecCommand sets a custom exec command function for testing.
func WithExecCommand(fn ExecCommandFunc) ExecRunnerOption {
	return func(r *ExecRunner) {
		r.execCommand = fn
	}
}

// WithCmdEnvOverride adds an environment variable applied to every command.
func WithCmdEnvOverride(key, value string) ExecRunnerOption {
	return func(r *ExecRunner) {
		if r.cmdEnvOverrides == nil {
			r.cmdEnvOverrides = make(map[string]string)
		}
		r.cmdEnvOverrides[key] = value
	}
}

// WithLineFunc streams output lines to fn while commands run.
func WithLineFunc(fn LineFunc) ExecRunnerOption {
	return func(r *ExecRunner) {
		r.onLine = fn
	}
}

// NewExecRunner creates a runner. iocage is a Python program, so
// PYTHONUNBUFFERED=true is set to keep its output flowing line by line.
func NewExecRunner(opts ...ExecRunnerOption) *ExecRunner {
	r := &ExecRunner{
		execCommand:     exec.CommandContext,
		cmdEnvOverrides: map[string]string{"PYTHONUNBUFFERED": "true"},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run implements Runner.
func (r *ExecRunner) Run(ctx context.Context, c Command) (Output, error) {
	if len(c.Argv) == 0 {
		return Output{ExitStatus: -1}, errors.New("empty argument vector")
	}

	cmd := r.execCommand(ctx, c.Argv[0], c.Argv[1:]...)
	r.customizeCmd(cmd)
	if c.Stdin != "" {
		cmd.Stdin = strings.NewReader(c.Stdin)
	}

	var stdout, stderr bytes.Buffer
	var outLines, errLines *lineWriter
	cmd.Stdout, cmd.Stderr = io.Writer(&stdout), io.Writer(&stderr)
	if r.onLine != nil {
		outLines = newLineWriter("stdout", r.onLine)
		errLines = newLineWriter("stderr", r.onLine)
		cmd.Stdout = io.MultiWriter(&stdout, outLines)
		cmd.Stderr = io.MultiWriter(&stderr, errLines)
	}

	err := cmd.Run()
	if outLines != nil {
		outLines.Flush()
		errLines.Flush()
	}

	out := Output{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			out.ExitStatus = exitErr.ExitCode()
			return out, nil
		}
		out.ExitStatus = -1
		return out, fmt.Errorf("run %s: %w", c.Argv[0], err)
	}
	return out, nil
}

// customizeCmd applies the runner's environment overrides on top of the
// inherited environment.
func (r *ExecRunner) customizeCmd(cmd *exec.Cmd) {
	if len(r.cmdEnvOverrides) == 0 {
		return
	}
	env := cmd.Env
	if env == nil {
		env = os.Environ()
	}
	keys := make([]string, 0, len(r.cmdEnvOverrides))
	for k := range r.cmdEnvOverrides {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		env = append(env, k+"="+r.cmdEnvOverrides[k])
	}
	cmd.Env = env
}
