// Package remote runs cluster commands on a host, over SSH or locally.
package remote

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
)

// Executor runs a shell command on a cluster host and returns its standard
// output. Standard error never mixes into it; a failed command carries it
// on ExitError.
type Executor interface {
	Run(ctx context.Context, host, command string) ([]byte, error)
}

// ErrEmptyCommand is returned for a blank command line.
var ErrEmptyCommand = errors.New("empty command")

// ExitError reports a command that ran and exited non-zero. Output holds
// what the command wrote to standard error.
type ExitError struct {
	Host    string
	Command string
	Code    int
	Output  []byte
}

func (e *ExitError) Error() string {
	if len(e.Output) == 0 {
		return fmt.Sprintf("%s: %q exited with code %d", e.Host, e.Command, e.Code)
	}
	return fmt.Sprintf("%s: %q exited with code %d; output: %q", e.Host, e.Command, e.Code, string(e.Output))
}

func (e *ExitError) ExitCode() int { return e.Code }

// ExitCode extracts the exit code from err, or 0 when there is none.
func ExitCode(err error) int {
	type exitCode interface{ ExitCode() int }

	var ec exitCode
	if errors.As(err, &ec) {
		return ec.ExitCode()
	}
	return 0
}

// Cmd abstracts a local process for testing.
type Cmd interface {
	Output() ([]byte, error)
}

// ExecCommandContextFactory creates a Cmd for the given command and arguments.
type ExecCommandContextFactory func(ctx context.Context, name string, arg ...string) Cmd

// ExecCommandContext is overridable for testing purposes.
var ExecCommandContext ExecCommandContextFactory = func(ctx context.Context, name string, arg ...string) Cmd {
	return exec.CommandContext(ctx, name, arg...)
}

// LocalExecutor runs commands through /bin/sh on this machine. It serves
// single-node setups where the console runs on a cluster member.
type LocalExecutor struct {
	Shell string
}

var _ Executor = (*LocalExecutor)(nil)

func (l *LocalExecutor) Run(ctx context.Context, host, command string) ([]byte, error) {
	if command == "" {
		return nil, ErrEmptyCommand
	}
	shell := l.Shell
	if shell == "" {
		shell = "/bin/sh"
	}
	out, err := ExecCommandContext(ctx, shell, "-c", command).Output()
	if err != nil {
		if code := ExitCode(err); code != 0 {
			var stderr []byte
			var xe *exec.ExitError
			if errors.As(err, &xe) {
				stderr = xe.Stderr
			}
			return out, &ExitError{Host: host, Command: command, Code: code, Output: stderr}
		}
		return out, fmt.Errorf("run %q: %w", command, err)
	}
	return out, nil
}
