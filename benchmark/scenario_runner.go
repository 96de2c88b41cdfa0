package benchmark

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"time"

	"github.com/Octogonapus/ProtocolBench/cluster"
	processrunner "github.com/Octogonapus/ProtocolBench/process_runner"
	"github.com/Octogonapus/ProtocolBench/report"
	"github.com/Octogonapus/ProtocolBench/util"
)

type State string

const (
	Pending       State = "Pending"
	Deploying     State = "Deploying"
	AwaitingReady State = "AwaitingReady"
	Settling      State = "Settling"
	Triggering    State = "Triggering"
	Observing     State = "Observing"
	TearingDown   State = "TearingDown"
	Done          State = "Done"
	Failed        State = "Failed"
)

// Why a batch failed, and in which state.
type ScenarioError struct {
	Kind  report.Outcome
	State State
	Err   error
}

func (e *ScenarioError) Error() string {
	return fmt.Sprintf("%s while %s: %s", e.Kind, e.State, e.Err)
}

func (e *ScenarioError) Unwrap() error { return e.Err }

type Timing struct {
	// Upper bound on the shared readiness wait.
	ReadyTimeout time.Duration

	// Used when a batch does not set its own.
	SettleDelay       time.Duration
	ObservationWindow time.Duration

	// Upper bound on each trigger command.
	TriggerTimeout time.Duration

	TeardownGracePeriod time.Duration

	// Teardown runs on its own context bounded by this, so it still happens after cancellation.
	TeardownTimeout time.Duration
}

func DefaultTiming() Timing {
	return Timing{
		ReadyTimeout:        10 * time.Minute,
		SettleDelay:         10 * time.Second,
		ObservationWindow:   30 * time.Second,
		TriggerTimeout:      2 * time.Minute,
		TeardownGracePeriod: 0,
		TeardownTimeout:     2 * time.Minute,
	}
}

// Sleeps for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Samples pod resource usage in a namespace until ctx is done.
type PodMonitor interface {
	Monitor(ctx context.Context, namespace string) []*report.PodMeasurements
}

type ScenarioRunnerInput struct {
	Cluster cluster.ClusterClient

	// Runs trigger commands that are not bound to a pod.
	Runner  processrunner.ProcessRunner
	WorkDir string

	Namespace string

	// Pass the namespace to every environment as the "namespace" parameter.
	NamespaceParam bool

	Timing Timing
	Sleep  Sleeper

	// Optional. Runs for the observation window.
	Monitor PodMonitor
}

// Drives batches through deploy, readiness, settle, trigger, observe and teardown.
// Create one with NewScenarioRunner.
type ScenarioRunner interface {
	Run(ctx context.Context, b *Batch) *BatchResult
}

type BatchResult struct {
	Batch     *Batch
	Namespace string
	Outcome   report.Outcome

	// A *ScenarioError when the batch failed.
	Err error

	// A *ScenarioError of kind TeardownError. Kept apart because teardown failures never fail a batch.
	TeardownErr error

	FinalState  State
	Transitions []report.Transition
	StartTime   time.Time
	Duration    time.Duration
	PodUsage    []*report.PodMeasurements
}

func (r *BatchResult) Failed() bool { return r.Outcome.Failed() }

// Reports whether a teardown was issued for the batch.
func (r *BatchResult) TornDown() bool {
	for _, t := range r.Transitions {
		if t.To == string(TearingDown) {
			return true
		}
	}
	return false
}

// One report per scenario in the batch. Scenarios of a batch share its outcome.
func (r *BatchResult) Reports() []*report.ScenarioReport {
	out := make([]*report.ScenarioReport, 0, len(r.Batch.Scenarios))
	for _, s := range r.Batch.Scenarios {
		rep := &report.ScenarioReport{
			ID:          s.ID,
			Benchmark:   r.Batch.Benchmark,
			Environment: s.Environment,
			Batch:       r.Batch.ID,
			Instance:    s.Instance,
			Namespace:   r.Namespace,
			Params:      s.Params,
			Outcome:     r.Outcome,
			FinalState:  string(r.FinalState),
			Transitions: r.Transitions,
			StartTime:   r.StartTime,
			DurationSec: r.Duration.Seconds(),
			PodUsage:    r.PodUsage,
		}
		if r.Err != nil {
			rep.Error = r.Err.Error()
		}
		if r.TeardownErr != nil {
			rep.TeardownError = r.TeardownErr.Error()
		}
		out = append(out, rep)
	}
	return out
}

type scenarioRunner struct {
	input *ScenarioRunnerInput
}

func NewScenarioRunner(input *ScenarioRunnerInput) ScenarioRunner {
	if input.Sleep == nil {
		input.Sleep = util.Sleep
	}
	if input.Namespace == "" {
		input.Namespace = "default"
	}
	return &scenarioRunner{input: input}
}

// Tracks the state of one batch run.
type machine struct {
	batchID     string
	state       State
	transitions []report.Transition
	failure     *ScenarioError
}

func (m *machine) to(s State) {
	slog.Debug("scenario transition", slog.String("batch", m.batchID), slog.String("from", string(m.state)), slog.String("to", string(s)))
	m.transitions = append(m.transitions, report.Transition{From: string(m.state), To: string(s), Time: time.Now()})
	m.state = s
}

func (m *machine) fail(kind report.Outcome, err error) {
	if m.failure == nil {
		m.failure = &ScenarioError{Kind: kind, State: m.state, Err: err}
	}
}

// Marks the batch cancelled when ctx is done. Returns true if it did.
func (m *machine) cancelled(ctx context.Context) bool {
	if ctx.Err() == nil {
		return false
	}
	m.fail(report.Cancelled, ctx.Err())
	return true
}

func (sr *scenarioRunner) Run(ctx context.Context, b *Batch) *BatchResult {
	start := time.Now()
	m := &machine{batchID: b.ID, state: Pending}
	in := sr.input
	slog.Info("starting scenario", slog.String("batch", b.ID), slog.String("scenarios", strings.Join(b.ScenarioIDs(), ",")), slog.String("namespace", in.Namespace))

	res := &BatchResult{Batch: b, Namespace: in.Namespace, StartTime: start}
	attempted := sr.deploy(ctx, m, b)

	if m.failure == nil {
		m.to(AwaitingReady)
		rr := in.Cluster.WaitAllReady(ctx, in.Namespace, in.Timing.ReadyTimeout)
		switch rr.Condition {
		case cluster.Ready:
		case cluster.ReadyCanceled:
			m.fail(report.Cancelled, context.Canceled)
		default:
			err := fmt.Errorf("pods in namespace %s not ready after %s (%d attempts)", in.Namespace, rr.Elapsed.Round(time.Second), rr.Attempts)
			if rr.Last != nil && rr.Last.Failed() {
				slog.Error("waiting for pods failed", slog.String("batch", b.ID), slog.String("command output", rr.Last.CombinedOutput()))
			}
			m.fail(report.ReadinessTimeout, err)
		}
	}

	if m.failure == nil {
		m.to(Settling)
		settle := in.Timing.SettleDelay
		if b.SettleDelay > 0 {
			settle = b.SettleDelay
		}
		if err := in.Sleep(ctx, settle); err != nil {
			m.cancelled(ctx)
		}
	}

	if m.failure == nil {
		m.to(Triggering)
		sr.trigger(ctx, m, b)
	}

	// A missed trigger still gets its observation window so the cluster can be inspected.
	if m.failure == nil || m.failure.Kind == report.TriggerError {
		m.to(Observing)
		window := in.Timing.ObservationWindow
		if b.ObservationWindow > 0 {
			window = b.ObservationWindow
		}
		res.PodUsage = sr.observe(ctx, m, window)
	}

	if attempted {
		m.to(TearingDown)
		res.TeardownErr = sr.teardown(ctx, b)
	}

	if m.failure != nil {
		m.to(Failed)
		res.Outcome = m.failure.Kind
		res.Err = m.failure
	} else {
		m.to(Done)
		res.Outcome = report.Succeeded
	}
	res.FinalState = m.state
	res.Transitions = m.transitions
	res.Duration = time.Since(start)

	if res.Err != nil {
		slog.Info("finished scenario", slog.String("batch", b.ID), slog.String("outcome", string(res.Outcome)), slog.String("error", res.Err.Error()))
	} else {
		slog.Info("finished scenario", slog.String("batch", b.ID), slog.String("outcome", string(res.Outcome)))
	}
	return res
}

// Waits out the observation window, sampling pod usage meanwhile if there is a monitor.
func (sr *scenarioRunner) observe(ctx context.Context, m *machine, window time.Duration) []*report.PodMeasurements {
	var usage []*report.PodMeasurements
	done := make(chan struct{})
	mctx, cancel := context.WithCancel(ctx)
	if sr.input.Monitor != nil {
		go func() {
			defer close(done)
			usage = sr.input.Monitor.Monitor(mctx, sr.input.Namespace)
		}()
	} else {
		close(done)
	}

	if err := sr.input.Sleep(ctx, window); err != nil {
		m.cancelled(ctx)
	}
	cancel()
	<-done
	return usage
}

// Applies every scenario of the batch, stopping at the first failure. Returns whether any apply was
// attempted, since a failed apply may still have created resources.
func (sr *scenarioRunner) deploy(ctx context.Context, m *machine, b *Batch) bool {
	if m.cancelled(ctx) {
		return false
	}
	m.to(Deploying)
	attempted := false
	for _, s := range b.Scenarios {
		if m.cancelled(ctx) {
			break
		}
		attempted = true
		params := maps.Clone(s.Params)
		if sr.input.NamespaceParam {
			if params == nil {
				params = map[string]string{}
			}
			params["namespace"] = sr.input.Namespace
		}
		dr := sr.input.Cluster.ApplyEnvironment(ctx, s.Environment, &cluster.ApplyOptions{AutoApprove: true, Instance: s.Instance, Params: params})
		if dr.Failed() {
			if m.cancelled(ctx) {
				break
			}
			slog.Error("deploying scenario failed", slog.String("scenario", s.ID), slog.String("command output", dr.Process.CombinedOutput()))
			m.fail(report.DeployError, fmt.Errorf("applying environment %s for %s failed: %w", s.Environment, s.ID, dr.Process.Err()))
			break
		}
	}
	return attempted
}

// Runs every trigger command. All of them are attempted even if one fails. Triggers that are not bound
// to a pod get the batch's namespace as $NAMESPACE.
func (sr *scenarioRunner) trigger(ctx context.Context, m *machine, b *Batch) {
	errs := []error{}
	for _, t := range b.Triggers {
		tctx, cancel := sr.triggerContext(ctx)
		var pr *processrunner.Result
		if t.Pod != "" {
			pr = sr.input.Cluster.ExecInPod(tctx, sr.input.Namespace, t.Pod, t.Command, t.Args...).Process
		} else {
			pr = sr.input.Runner.Run(tctx, &processrunner.Command{
				Name: t.Command,
				Args: t.Args,
				Dir:  sr.input.WorkDir,
				Env:  []string{"NAMESPACE=" + sr.input.Namespace},
			})
		}
		cancel()
		if pr.Failed() {
			slog.Error("trigger failed", slog.String("batch", b.ID), slog.String("trigger", t.String()), slog.String("command output", pr.CombinedOutput()))
			errs = append(errs, fmt.Errorf("trigger %q failed: %w", t.String(), pr.Err()))
		}
	}
	if m.cancelled(ctx) {
		return
	}
	if len(errs) > 0 {
		m.fail(report.TriggerError, errors.Join(errs...))
	}
}

func (sr *scenarioRunner) triggerContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if sr.input.Timing.TriggerTimeout > 0 {
		return context.WithTimeout(ctx, sr.input.Timing.TriggerTimeout)
	}
	return context.WithCancel(ctx)
}

func (sr *scenarioRunner) teardown(ctx context.Context, b *Batch) error {
	tctx := context.WithoutCancel(ctx)
	if sr.input.Timing.TeardownTimeout > 0 {
		var cancel context.CancelFunc
		tctx, cancel = context.WithTimeout(tctx, sr.input.Timing.TeardownTimeout)
		defer cancel()
	}

	tr := sr.input.Cluster.Teardown(tctx, sr.input.Namespace, sr.input.Timing.TeardownGracePeriod)
	if tr.Failed() {
		err := &ScenarioError{
			Kind:  report.TeardownError,
			State: TearingDown,
			Err:   fmt.Errorf("deleting pods in namespace %s failed: %w", sr.input.Namespace, tr.Process.Err()),
		}
		slog.Error("teardown failed", slog.String("batch", b.ID), slog.String("error", err.Error()), slog.String("command output", tr.Process.CombinedOutput()))
		return err
	}
	return nil
}
