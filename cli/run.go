package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/spf13/cobra"

	"github.com/Octogonapus/ProtocolBench/benchmark"
	"github.com/Octogonapus/ProtocolBench/report"
	resultsstore "github.com/Octogonapus/ProtocolBench/results_store"
	sweepcontroller "github.com/Octogonapus/ProtocolBench/sweep_controller"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions

	BenchmarkFiles       []string
	Benchmarks           []string
	OnlyFailed           bool
	Progress             bool
	CheckTools           bool
	RetryFailedTeardowns bool
	RunID                string

	// Overrides for the built-in benchmarks.
	Nodes       []int
	Concurrency []int
	Marker      string
	Trials      int
	BatchSize   int
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run benchmark sweeps",
		Long: fmt.Sprintf(`Run every scenario of the selected benchmarks, one deploy, trigger and teardown
cycle at a time per namespace. A failed scenario is reported and the sweep moves on.

Benchmark files hold a list of {"type": ..., "input": {...}} entries. Types:
%s`, benchmark.ExplainBenchmarks()),
		Example: `  protobench run --benchmark rumor --nodes 6,8 --concurrency 2
  protobench run --benchmark consensus --trials 10 --batch-size 5
  protobench run --benchmark-file sweeps.yaml --only-failed`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSweep(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringArrayVar(&opts.BenchmarkFiles, "benchmark-file", nil, "a JSON or YAML file of benchmark specifications. Can be given multiple times")
	f.StringSliceVar(&opts.Benchmarks, "benchmark", nil, "built-in benchmarks to run: rumor, consensus")
	f.BoolVar(&opts.OnlyFailed, "only-failed", false, "skip scenarios whose latest recorded outcome is success")
	f.BoolVar(&opts.Progress, "progress", false, "show a progress bar")
	f.BoolVar(&opts.CheckTools, "check-tools", true, "verify the tanka and kubectl versions before deploying")
	f.BoolVar(&opts.RetryFailedTeardowns, "retry-failed-teardowns", false, "retry teardown at the end for namespaces whose last teardown failed")
	f.StringVar(&opts.RunID, "run-id", "", "identifies the run in reports. Generated when empty")
	f.IntSliceVar(&opts.Nodes, "nodes", nil, "node counts for the built-in rumor benchmark")
	f.IntSliceVar(&opts.Concurrency, "concurrency", nil, "concurrency factors for the built-in rumor benchmark")
	f.StringVar(&opts.Marker, "marker", "", "rumor payload marker. Generated when empty")
	f.IntVar(&opts.Trials, "trials", 0, "trial count for the built-in consensus benchmark")
	f.IntVar(&opts.BatchSize, "batch-size", 0, "consensus trials deployed together")

	return cmd
}

func runSweep(cmd *cobra.Command, opts *RunOptions) error {
	ctx := cmd.Context()

	benchmarks, err := opts.loadBenchmarks(cmd)
	if err != nil {
		return err
	}
	if len(benchmarks) == 0 {
		return fmt.Errorf("nothing to run: give --benchmark or --benchmark-file")
	}

	var store *resultsstore.Store
	if opts.DB != "" {
		store, err = openStore(opts.DB)
		if err != nil {
			return err
		}
		defer store.Close()
	} else if opts.OnlyFailed {
		return fmt.Errorf("--only-failed needs a results database, set --db")
	}

	runner, copier, err := opts.newToolRunner()
	if err != nil {
		return err
	}

	input := &sweepcontroller.ClusterSweepControllerInput{
		Cluster:    opts.newCluster(runner),
		Runner:     runner,
		Generator:  opts.newGenerator(),
		Copier:     copier,
		Timing:     opts.timing(),
		Monitor:    opts.newMonitor(runner),
		Namespaces: opts.namespaces(),
		Progress:   opts.Progress,
	}
	if !opts.remote() {
		input.WorkDir = opts.WorkDir
	}
	if store != nil {
		input.Store = store
	}
	sc := sweepcontroller.NewClusterSweepController(input)

	for _, b := range benchmarks {
		err = sc.AddBenchmark(b)
		if err != nil {
			return err
		}
	}

	err = sc.SetUp(ctx, &sweepcontroller.SweepConfig{
		RunID:                opts.RunID,
		RemoteAssetDir:       opts.remoteAssetDir(),
		CheckTools:           opts.CheckTools,
		OnlyFailed:           opts.OnlyFailed,
		RetryFailedTeardowns: opts.RetryFailedTeardowns,
	})
	if err != nil {
		return fmt.Errorf("sweep setup failed, nothing was deployed: %w", err)
	}
	defer func() {
		err := sc.TearDown(context.WithoutCancel(ctx))
		if err != nil {
			slog.Error("final teardown failed", slog.String("error", err.Error()))
		}
	}()

	r, err := sc.Run(ctx)
	if err != nil {
		return err
	}

	err = r.Summary(cmd.OutOrStdout())
	if err != nil {
		return err
	}
	err = r.WriteJSON(filepath.Join(opts.ResultDir, r.RunID, "report.json"))
	if err != nil {
		return fmt.Errorf("failed to write the sweep report: %w", err)
	}
	if opts.ReportBucket != "" {
		err = uploadReport(context.WithoutCancel(ctx), opts.RootOptions, r)
		if err != nil {
			slog.Error("failed to upload the sweep report", slog.String("error", err.Error()))
		}
	}

	if ctx.Err() != nil {
		return fmt.Errorf("sweep interrupted: %w", ctx.Err())
	}
	if r.Failed > 0 {
		return fmt.Errorf("%d scenarios failed", r.Failed)
	}
	return nil
}

func (o *RunOptions) loadBenchmarks(cmd *cobra.Command) ([]benchmark.Benchmark, error) {
	benchmarks := []benchmark.Benchmark{}
	for _, bf := range o.BenchmarkFiles {
		bs, err := benchmark.LoadBenchmarkFile(bf)
		if err != nil {
			return nil, err
		}
		benchmarks = append(benchmarks, bs...)
	}
	for _, name := range o.Benchmarks {
		input, err := o.builtinInput(cmd, name)
		if err != nil {
			return nil, err
		}
		b, err := benchmark.NewBenchmark(name, input)
		if err != nil {
			return nil, err
		}
		benchmarks = append(benchmarks, b)
	}
	return benchmarks, nil
}

// The flag overrides for a built-in benchmark. Unset flags keep the benchmark's defaults.
func (o *RunOptions) builtinInput(cmd *cobra.Command, name string) (map[string]any, error) {
	input := map[string]any{}
	f := cmd.Flags()
	if f.Changed("settle-delay") {
		input["SettleDelay"] = o.SettleDelay
	}
	if f.Changed("observation-window") {
		input["ObservationWindow"] = o.ObservationWindow
	}

	switch name {
	case "rumor":
		if f.Changed("nodes") {
			input["Nodes"] = o.Nodes
		}
		if f.Changed("concurrency") {
			input["Concurrency"] = o.Concurrency
		}
		if f.Changed("marker") {
			input["Marker"] = o.Marker
		}
	case "consensus":
		if f.Changed("trials") {
			input["Trials"] = o.Trials
		}
		if f.Changed("batch-size") {
			input["BatchSize"] = o.BatchSize
		}
	default:
		return nil, fmt.Errorf("unknown built-in benchmark %q, must be one of: rumor, consensus", name)
	}
	return input, nil
}

func openStore(path string) (*resultsstore.Store, error) {
	err := os.MkdirAll(filepath.Dir(path), os.ModePerm)
	if err != nil {
		return nil, err
	}
	return resultsstore.Open(path)
}

func uploadReport(ctx context.Context, opts *RootOptions, r *report.SweepReport) error {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithEC2IMDSRegion())
	if err != nil {
		return err
	}
	u := report.NewS3Uploader(&report.S3UploaderInput{
		AwsConfig: cfg,
		Bucket:    opts.ReportBucket,
		Prefix:    opts.ReportPrefix,
	})
	_, err = u.Upload(ctx, r)
	return err
}
