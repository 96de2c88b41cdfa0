package cluster

import (
	"context"
	"time"

	processrunner "github.com/Octogonapus/ProtocolBench/process_runner"
)

type ApplyOptions struct {
	// Skip the interactive diff confirmation.
	AutoApprove bool

	// Overrides the environment name so several copies of one environment can run side by side.
	Instance string

	// Top level arguments passed to the environment template.
	Params map[string]string
}

type DeployResult struct {
	Environment string
	Instance    string
	Process     *processrunner.Result
}

func (r *DeployResult) Failed() bool { return r.Process.Failed() }

type ReadyCondition string

const (
	Ready         ReadyCondition = "Ready"
	ReadyTimedOut ReadyCondition = "TimedOut"
	ReadyCanceled ReadyCondition = "Canceled"
)

type ReadyResult struct {
	Namespace string
	Condition ReadyCondition
	Attempts  int
	Elapsed   time.Duration

	// The last wait invocation.
	Last *processrunner.Result
}

func (r *ReadyResult) Failed() bool { return r.Condition != Ready }

type ExecResult struct {
	Pod     string
	Process *processrunner.Result
}

func (r *ExecResult) Failed() bool { return r.Process.Failed() }

type TeardownResult struct {
	Namespace string
	Process   *processrunner.Result
}

func (r *TeardownResult) Failed() bool { return r.Process.Failed() }

// The cluster operations the harness needs. Every operation reports a structured result, none of
// them returns an error for a failed command.
type ClusterClient interface {
	// Renders and applies a named environment.
	ApplyEnvironment(ctx context.Context, environment string, opts *ApplyOptions) *DeployResult

	// Blocks until every pod in the namespace is ready, the timeout elapses or ctx is done.
	WaitAllReady(ctx context.Context, namespace string, timeout time.Duration) *ReadyResult

	// Runs a command inside a pod.
	ExecInPod(ctx context.Context, namespace, pod, command string, args ...string) *ExecResult

	// Deletes every pod in the namespace.
	Teardown(ctx context.Context, namespace string, gracePeriod time.Duration) *TeardownResult

	// Verifies the cluster tools are installed and recent enough.
	CheckTools(ctx context.Context) error
}
