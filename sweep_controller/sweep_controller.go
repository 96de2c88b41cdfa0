package sweepcontroller

import (
	"context"

	"github.com/Octogonapus/ProtocolBench/benchmark"
	"github.com/Octogonapus/ProtocolBench/report"
)

type SweepConfig struct {
	// Identifies the run in reports and the results store. A UUID is generated when empty.
	RunID string

	// Where the cluster tools read the topology files. Empty when they run on this machine.
	RemoteAssetDir string

	// Verify the cluster tool versions before anything is deployed.
	CheckTools bool

	// Skip scenarios whose latest recorded outcome is Succeeded. Needs a results store.
	OnlyFailed bool

	// Retry teardown in TearDown for namespaces whose last teardown failed.
	RetryFailedTeardowns bool
}

// Used to persist scenario outcomes across runs.
type ResultsStore interface {
	RecordScenario(ctx context.Context, runID string, r *report.ScenarioReport) error
	LatestOutcomes(ctx context.Context, benchmark string) (map[string]report.Outcome, error)
}

// Runs every scenario of the added benchmarks against a cluster.
type SweepController interface {
	// Add a benchmark to be ran later.
	AddBenchmark(benchmark.Benchmark) error

	// Check the tools, generate the topologies and write the index. Nothing is deployed if this fails.
	SetUp(ctx context.Context, cfg *SweepConfig) error

	// Run every batch and return a report. A failed scenario never fails the sweep.
	Run(ctx context.Context) (*report.SweepReport, error)

	// Final cleanup after Run.
	TearDown(ctx context.Context) error
}
