// Package fake provides scripted executors for tests.
package fake

import (
	"context"
	"os/exec"
	"slices"
	"sync"
	"testing"

	"github.com/rasto/lcmc-sub001/pkg/remote"
)

// ExpectedCmd is one scripted command and its result.
type ExpectedCmd struct {
	Host    string // empty matches any host
	Command string

	ResultOutput []byte
	ResultErr    error
}

func (c *ExpectedCmd) Matches(host, command string) bool {
	return (c.Host == "" || c.Host == host) && c.Command == command
}

// Call records one Run invocation.
type Call struct {
	Host    string
	Command string
}

// Executor replays expected commands in order.
type Executor struct {
	mu    sync.Mutex
	cmds  []*ExpectedCmd
	calls []Call
	i     int
}

var _ remote.Executor = (*Executor)(nil)

func (e *Executor) ExpectCommands(cmds ...*ExpectedCmd) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cmds = append(e.cmds, cmds...)
}

func (e *Executor) Run(_ context.Context, host, command string) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.calls = append(e.calls, Call{Host: host, Command: command})
	if e.i >= len(e.cmds) {
		return nil, &remote.ExitError{Host: host, Command: command, Code: 127}
	}
	cmd := e.cmds[e.i]
	if !cmd.Matches(host, command) {
		return nil, &remote.ExitError{Host: host, Command: command, Code: 127, Output: []byte("unexpected command")}
	}
	e.i++
	return slices.Clone(cmd.ResultOutput), cmd.ResultErr
}

// Calls returns every Run invocation so far.
func (e *Executor) Calls() []Call {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.calls)
}

// Verify fails t unless every expected command ran.
func (e *Executor) Verify(t *testing.T) {
	t.Helper()
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.i != len(e.cmds) {
		t.Errorf("expected %d command executions, got %d", len(e.cmds), e.i)
	}
}

// LocalCmd is a scripted local process.
type LocalCmd struct {
	Name string
	Args []string

	ResultOutput []byte
	ResultErr    error
}

func (c *LocalCmd) Output() ([]byte, error) {
	return c.ResultOutput, c.ResultErr
}

// Exec swaps remote.ExecCommandContext for scripted local processes.
type Exec struct {
	cmds []*LocalCmd
}

func (b *Exec) ExpectCommands(cmds ...*LocalCmd) {
	b.cmds = append(b.cmds, cmds...)
}

func (b *Exec) Setup(t *testing.T) {
	t.Helper()

	tmp := remote.ExecCommandContext
	i := 0

	remote.ExecCommandContext = func(_ context.Context, name string, args ...string) remote.Cmd {
		if len(b.cmds) <= i {
			t.Fatalf("expected %d command executions, got more", len(b.cmds))
		}
		cmd := b.cmds[i]
		if cmd.Name != name || !slices.Equal(cmd.Args, args) {
			t.Fatalf("ExecCommandContext was called with unexpected arguments (call index %d): %s %v", i, name, args)
		}
		i++
		return cmd
	}

	t.Cleanup(func() {
		remote.ExecCommandContext = tmp
		if i != len(b.cmds) {
			t.Errorf("expected %d command executions, got %d", len(b.cmds), i)
		}
	})
}

// ExitErr mimics a process exit status. Stderr is exposed the way
// exec.Cmd.Output reports it.
type ExitErr struct {
	Code   int
	Stderr []byte
}

func (e ExitErr) Error() string { return "ExitErr" }
func (e ExitErr) ExitCode() int { return e.Code }
func (e ExitErr) Unwrap() error { return &exec.ExitError{Stderr: e.Stderr} }
