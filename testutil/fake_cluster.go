package testutil

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/Octogonapus/ProtocolBench/cluster"
	processrunner "github.com/Octogonapus/ProtocolBench/process_runner"
)

type ApplyCall struct {
	Environment string
	Instance    string
	Params      map[string]string
}

type ExecCall struct {
	Namespace string
	Pod       string
	Command   string
	Args      []string
}

// FakeCluster records every operation in order. The Func hooks pick the outcome of each
// operation; a nil hook means success.
type FakeCluster struct {
	ApplyFunc    func(environment string, opts *cluster.ApplyOptions) *processrunner.Result
	WaitFunc     func(ctx context.Context, namespace string) cluster.ReadyCondition
	ExecFunc     func(pod, command string, args []string) *processrunner.Result
	TeardownFunc func(namespace string) *processrunner.Result
	CheckErr     error

	mu        sync.Mutex
	events    []string
	applies   []ApplyCall
	execs     []ExecCall
	waits     []string
	teardowns []string
}

func (f *FakeCluster) record(event string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *FakeCluster) ApplyEnvironment(_ context.Context, environment string, opts *cluster.ApplyOptions) *cluster.DeployResult {
	if opts == nil {
		opts = &cluster.ApplyOptions{}
	}
	f.mu.Lock()
	f.applies = append(f.applies, ApplyCall{Environment: environment, Instance: opts.Instance, Params: maps.Clone(opts.Params)})
	f.mu.Unlock()
	event := "apply " + environment
	if opts.Instance != "" {
		event += "/" + opts.Instance
	}
	f.record(event + formatParams(opts.Params))

	res := &processrunner.Result{}
	if f.ApplyFunc != nil {
		res = orSuccess(f.ApplyFunc(environment, opts))
	}
	return &cluster.DeployResult{Environment: environment, Instance: opts.Instance, Process: res}
}

func (f *FakeCluster) WaitAllReady(ctx context.Context, namespace string, _ time.Duration) *cluster.ReadyResult {
	f.mu.Lock()
	f.waits = append(f.waits, namespace)
	f.mu.Unlock()
	f.record("wait " + namespace)

	cond := cluster.Ready
	if f.WaitFunc != nil {
		cond = f.WaitFunc(ctx, namespace)
	}
	return &cluster.ReadyResult{Namespace: namespace, Condition: cond, Attempts: 1, Last: &processrunner.Result{}}
}

func (f *FakeCluster) ExecInPod(_ context.Context, namespace, pod, command string, args ...string) *cluster.ExecResult {
	f.mu.Lock()
	f.execs = append(f.execs, ExecCall{Namespace: namespace, Pod: pod, Command: command, Args: args})
	f.mu.Unlock()
	f.record(fmt.Sprintf("exec %s %s", namespace, pod))

	res := &processrunner.Result{}
	if f.ExecFunc != nil {
		res = orSuccess(f.ExecFunc(pod, command, args))
	}
	return &cluster.ExecResult{Pod: pod, Process: res}
}

func (f *FakeCluster) Teardown(_ context.Context, namespace string, _ time.Duration) *cluster.TeardownResult {
	f.mu.Lock()
	f.teardowns = append(f.teardowns, namespace)
	f.mu.Unlock()
	f.record("teardown " + namespace)

	res := &processrunner.Result{}
	if f.TeardownFunc != nil {
		res = orSuccess(f.TeardownFunc(namespace))
	}
	return &cluster.TeardownResult{Namespace: namespace, Process: res}
}

func (f *FakeCluster) CheckTools(context.Context) error {
	f.record("check")
	return f.CheckErr
}

func (f *FakeCluster) Events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.events...)
}

func (f *FakeCluster) Applies() []ApplyCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ApplyCall{}, f.applies...)
}

func (f *FakeCluster) Execs() []ExecCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ExecCall{}, f.execs...)
}

func (f *FakeCluster) Waits() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.waits...)
}

func (f *FakeCluster) Teardowns() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.teardowns...)
}

func orSuccess(res *processrunner.Result) *processrunner.Result {
	if res == nil {
		return &processrunner.Result{}
	}
	return res
}

func formatParams(params map[string]string) string {
	if len(params) == 0 {
		return ""
	}
	parts := []string{}
	for k, v := range params {
		parts = append(parts, k+"="+v)
	}
	slices.Sort(parts)
	return " " + strings.Join(parts, ",")
}
