// Package testutil holds test doubles shared by the package tests.
package testutil

import (
	"context"
	"sync"

	processrunner "github.com/Octogonapus/ProtocolBench/process_runner"
)

// FakeRunner records every command and answers with Handler (exit 0 when Handler is nil).
type FakeRunner struct {
	Handler func(ctx context.Context, cmd *processrunner.Command) *processrunner.Result

	mu    sync.Mutex
	calls []*processrunner.Command
}

func (f *FakeRunner) Run(ctx context.Context, cmd *processrunner.Command) *processrunner.Result {
	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	f.mu.Unlock()

	var res *processrunner.Result
	if f.Handler != nil {
		res = f.Handler(ctx, cmd)
	}
	if res == nil {
		res = &processrunner.Result{}
	}
	if res.Command == "" {
		res.Command = cmd.String()
	}
	return res
}

func (f *FakeRunner) Calls() []*processrunner.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*processrunner.Command{}, f.calls...)
}

// The recorded commands rendered as shell lines.
func (f *FakeRunner) CommandLines() []string {
	out := []string{}
	for _, c := range f.Calls() {
		out = append(out, c.String())
	}
	return out
}

// A failed result with the given exit code and stderr.
func Exit(code int, stderr string) *processrunner.Result {
	return &processrunner.Result{ExitCode: code, Stderr: []byte(stderr)}
}

// A successful result with the given stdout.
func Stdout(out string) *processrunner.Result {
	return &processrunner.Result{Stdout: []byte(out)}
}
