package sweepcontroller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/alitto/pond"
	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"

	"github.com/Octogonapus/ProtocolBench/benchmark"
	"github.com/Octogonapus/ProtocolBench/cluster"
	processrunner "github.com/Octogonapus/ProtocolBench/process_runner"
	"github.com/Octogonapus/ProtocolBench/report"
	"github.com/Octogonapus/ProtocolBench/topology"
)

type ClusterSweepControllerInput struct {
	Cluster cluster.ClusterClient

	// Runs trigger commands that are not bound to a pod, next to the cluster tools.
	Runner  processrunner.ProcessRunner
	WorkDir string

	// Generates the topology files on this machine.
	Generator *topology.Generator

	// Pushes the topology files to RemoteAssetDir. Nil when the cluster tools run locally.
	Copier processrunner.FileCopier

	// Optional.
	Store ResultsStore

	Timing benchmark.Timing
	Sleep  benchmark.Sleeper

	// Optional. Samples pod usage during every observation window.
	Monitor benchmark.PodMonitor

	// One batch runs at a time in each namespace. More than one namespace runs batches in parallel
	// and passes the namespace to every environment. Defaults to "default".
	Namespaces []string

	// Show a progress bar on stderr.
	Progress bool
}

type plannedBatch struct {
	index int
	batch *benchmark.Batch
}

type batchOutcome struct {
	index  int
	result *benchmark.BatchResult
}

type clusterSweepController struct {
	input      *ClusterSweepControllerInput
	cfg        *SweepConfig
	benchmarks []benchmark.Benchmark
	batches    [][]*benchmark.Batch // per benchmark
	runners    map[string]benchmark.ScenarioRunner

	mu              sync.Mutex
	failedTeardowns map[string]bool
}

func NewClusterSweepController(input *ClusterSweepControllerInput) SweepController {
	if len(input.Namespaces) == 0 {
		input.Namespaces = []string{"default"}
	}
	return &clusterSweepController{input: input, failedTeardowns: map[string]bool{}}
}

func (o *clusterSweepController) AddBenchmark(b benchmark.Benchmark) error {
	for _, existing := range o.benchmarks {
		if existing.GetName() == b.GetName() {
			return fmt.Errorf("a benchmark named %q was already added", b.GetName())
		}
	}
	o.benchmarks = append(o.benchmarks, b)
	return nil
}

func (o *clusterSweepController) SetUp(ctx context.Context, cfg *SweepConfig) error {
	o.cfg = cfg
	if cfg.RunID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		cfg.RunID = id.String()
	}
	if cfg.OnlyFailed && o.input.Store == nil {
		return fmt.Errorf("only running failed scenarios needs a results store")
	}

	if cfg.CheckTools {
		err := o.input.Cluster.CheckTools(ctx)
		if err != nil {
			return fmt.Errorf("checking cluster tools failed: %w", err)
		}
	}

	seen := map[string]bool{}
	sizes := []topology.Size{}
	o.batches = nil
	for _, b := range o.benchmarks {
		batches, err := b.Batches()
		if err != nil {
			return fmt.Errorf("planning benchmark %s failed: %w", b.GetName(), err)
		}
		for _, batch := range batches {
			for _, s := range batch.Scenarios {
				key := b.GetName() + "/" + s.ID
				if seen[key] {
					return fmt.Errorf("scenario %s appears twice in the sweep", key)
				}
				seen[key] = true
			}
		}
		o.batches = append(o.batches, batches)
		sizes = append(sizes, b.Sizes()...)
	}

	sizes = topology.Distinct(sizes)
	if len(sizes) > 0 {
		err := o.prepareTopologies(ctx, sizes)
		if err != nil {
			return err
		}
	}

	parallel := len(o.input.Namespaces) > 1
	o.runners = map[string]benchmark.ScenarioRunner{}
	for _, ns := range o.input.Namespaces {
		if _, ok := o.runners[ns]; ok {
			return fmt.Errorf("namespace %s is listed twice", ns)
		}
		o.runners[ns] = benchmark.NewScenarioRunner(&benchmark.ScenarioRunnerInput{
			Cluster:        o.input.Cluster,
			Runner:         o.input.Runner,
			WorkDir:        o.input.WorkDir,
			Namespace:      ns,
			NamespaceParam: parallel,
			Timing:         o.input.Timing,
			Sleep:          o.input.Sleep,
			Monitor:        o.input.Monitor,
		})
	}

	slog.Info("finished sweep setup", slog.String("run", cfg.RunID), slog.Int("topologies", len(sizes)), slog.Int("benchmarks", len(o.benchmarks)))
	return nil
}

// Generates every missing topology once, writes the index once, then pushes both to the cluster
// tool host if there is one.
func (o *clusterSweepController) prepareTopologies(ctx context.Context, sizes []topology.Size) error {
	gen := o.input.Generator
	if gen == nil {
		return fmt.Errorf("the sweep needs %d topologies but no generator is configured", len(sizes))
	}
	err := gen.EnsureAll(ctx, sizes)
	if err != nil {
		return fmt.Errorf("generating topologies failed: %w", err)
	}
	indexPath, err := topology.WriteIndex(gen.AssetDir(), sizes)
	if err != nil {
		return fmt.Errorf("writing topology index failed: %w", err)
	}

	if o.input.Copier == nil || o.cfg.RemoteAssetDir == "" {
		return nil
	}
	files := []string{indexPath}
	for _, s := range sizes {
		files = append(files, gen.ArtifactPath(s))
	}
	for _, f := range files {
		err := o.copyFile(f, path.Join(o.cfg.RemoteAssetDir, filepath.Base(f)))
		if err != nil {
			return fmt.Errorf("copying %s to the cluster tool host failed: %w", f, err)
		}
	}
	return nil
}

func (o *clusterSweepController) copyFile(local, remote string) error {
	f, err := os.Open(local)
	if err != nil {
		return err
	}
	defer f.Close()
	slog.Debug("copying file", slog.String("from", local), slog.String("to", remote))
	return o.input.Copier.CopyFileTo(f, remote)
}

func (o *clusterSweepController) Run(ctx context.Context) (*report.SweepReport, error) {
	if o.cfg == nil {
		return nil, fmt.Errorf("the sweep was not set up")
	}
	start := time.Now()
	rep := &report.SweepReport{RunID: o.cfg.RunID, StartTime: start}
	for _, b := range o.benchmarks {
		rep.Benchmarks = append(rep.Benchmarks, report.BenchmarkInfo{Name: b.GetName(), Type: b.GetType(), Input: b.GetInput()})
	}

	// every batch in sweep order, with the scenarios that will not run
	all := []*benchmark.Batch{}
	skipped := map[int][]*report.ScenarioReport{}
	jobs := []*plannedBatch{}
	for bi, b := range o.benchmarks {
		var latest map[string]report.Outcome
		if o.cfg.OnlyFailed {
			var err error
			latest, err = o.input.Store.LatestOutcomes(ctx, b.GetName())
			if err != nil {
				return nil, fmt.Errorf("reading previous outcomes failed: %w", err)
			}
		}
		for _, batch := range o.batches[bi] {
			idx := len(all)
			all = append(all, batch)
			kept := batch.Filter(func(s *benchmark.Scenario) bool { return latest[s.ID] != report.Succeeded })
			for _, s := range batch.Scenarios {
				if latest[s.ID] == report.Succeeded {
					skipped[idx] = append(skipped[idx], &report.ScenarioReport{
						ID: s.ID, Benchmark: batch.Benchmark, Environment: s.Environment, Batch: batch.ID,
						Instance: s.Instance, Params: s.Params, Outcome: report.Skipped,
					})
				}
			}
			if kept != nil {
				jobs = append(jobs, &plannedBatch{index: idx, batch: kept})
			}
		}
	}

	slog.Info("starting sweep", slog.String("run", o.cfg.RunID), slog.Int("batches", len(jobs)), slog.Int("namespaces", len(o.input.Namespaces)))
	results := o.runJobs(ctx, jobs)

	for idx, batch := range all {
		byID := map[string]*report.ScenarioReport{}
		for _, s := range skipped[idx] {
			byID[s.ID] = s
		}
		if res := results[idx]; res != nil {
			for _, s := range res.Reports() {
				byID[s.ID] = s
			}
		}
		for _, s := range batch.Scenarios {
			rep.Add(byID[s.ID])
		}
	}
	rep.DurationSec = time.Since(start).Seconds()
	slog.Info("finished sweep", slog.String("run", o.cfg.RunID), slog.Int("succeeded", rep.Succeeded), slog.Int("failed", rep.Failed), slog.Int("skipped", rep.Skipped))
	return rep, nil
}

// Runs the jobs one per namespace at a time and returns their results by sweep index.
func (o *clusterSweepController) runJobs(ctx context.Context, jobs []*plannedBatch) map[int]*benchmark.BatchResult {
	resultCh := make(chan *batchOutcome, len(jobs))

	var bar *progressbar.ProgressBar
	if o.input.Progress {
		bar = progressbar.Default(int64(len(jobs)), "Running scenarios:")
	}

	if len(o.input.Namespaces) == 1 {
		runner := o.runners[o.input.Namespaces[0]]
		for _, job := range jobs {
			o.runBatch(ctx, resultCh, runner, job, bar)
		}
	} else {
		free := make(chan string, len(o.input.Namespaces))
		for _, ns := range o.input.Namespaces {
			free <- ns
		}
		concurrency := len(o.input.Namespaces)
		pool := pond.New(concurrency, 0, pond.MinWorkers(concurrency))
		for _, job := range jobs {
			pool.Submit(func() {
				ns := <-free
				defer func() { free <- ns }()
				o.runBatch(ctx, resultCh, o.runners[ns], job, bar)
			})
		}
		pool.StopAndWait()
	}
	close(resultCh)
	if bar != nil {
		bar.Finish()
	}

	results := map[int]*benchmark.BatchResult{}
	for r := range resultCh {
		results[r.index] = r.result
	}
	return results
}

func (o *clusterSweepController) runBatch(
	ctx context.Context,
	resultCh chan *batchOutcome,
	runner benchmark.ScenarioRunner,
	job *plannedBatch,
	bar *progressbar.ProgressBar,
) {
	if bar != nil {
		defer bar.Add(1)
	}

	res := runner.Run(ctx, job.batch)
	if res.Failed() {
		slog.Error("scenario failed",
			slog.String("batch", job.batch.ID),
			slog.String("benchmark", job.batch.Benchmark),
			slog.String("outcome", string(res.Outcome)),
			slog.String("error", res.Err.Error()),
		)
	}
	if res.TornDown() {
		o.mu.Lock()
		if res.TeardownErr != nil {
			o.failedTeardowns[res.Namespace] = true
		} else {
			delete(o.failedTeardowns, res.Namespace)
		}
		o.mu.Unlock()
	}

	if o.input.Store != nil {
		// outcomes are recorded even when the sweep is being cancelled
		sctx := context.WithoutCancel(ctx)
		for _, s := range res.Reports() {
			err := o.input.Store.RecordScenario(sctx, o.cfg.RunID, s)
			if err != nil {
				slog.Error("failed to record scenario outcome", slog.String("scenario", s.ID), slog.String("error", err.Error()))
			}
		}
	}

	resultCh <- &batchOutcome{index: job.index, result: res}
}

func (o *clusterSweepController) TearDown(ctx context.Context) error {
	if o.cfg == nil || !o.cfg.RetryFailedTeardowns {
		return nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	errs := []error{}
	for _, ns := range o.input.Namespaces {
		if !o.failedTeardowns[ns] {
			continue
		}
		slog.Info("retrying teardown", slog.String("namespace", ns))
		tr := o.input.Cluster.Teardown(ctx, ns, o.input.Timing.TeardownGracePeriod)
		if tr.Failed() {
			slog.Error("teardown failed", slog.String("namespace", ns), slog.String("command output", tr.Process.CombinedOutput()))
			errs = append(errs, fmt.Errorf("deleting pods in namespace %s failed: %w", ns, tr.Process.Err()))
			continue
		}
		delete(o.failedTeardowns, ns)
	}
	return errors.Join(errs...)
}
