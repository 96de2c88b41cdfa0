package consensus

import (
	"fmt"
	"time"

	"github.com/Octogonapus/ProtocolBench/benchmark"
	"github.com/Octogonapus/ProtocolBench/topology"
	"github.com/Octogonapus/ProtocolBench/util"
)

type ConsensusBenchmarkInput struct {
	Name        string
	Environment string

	// Independent instances test0..test{Trials-1}.
	Trials int

	// Instances deployed together before one shared readiness wait and trigger. 0 puts every trial
	// in one batch.
	BatchSize int

	// Run once per batch from the tool working directory after the instances are ready. The batch's
	// namespace is in $NAMESPACE, so parallel sweeps only start their own instances.
	TriggerCommand []string

	SettleDelay       time.Duration
	ObservationWindow time.Duration
}

func DefaultInput() *ConsensusBenchmarkInput {
	return &ConsensusBenchmarkInput{
		Name:              "consensus",
		Environment:       "consensus",
		Trials:            10,
		TriggerCommand:    []string{"sh", "start-consensus-parallel.sh"},
		SettleDelay:       30 * time.Second,
		ObservationWindow: 30 * time.Second,
	}
}

type bmark struct {
	input *ConsensusBenchmarkInput
}

func init() {
	benchmark.RegisterBenchmark("consensus", func(a map[string]any) (benchmark.Benchmark, error) {
		input := DefaultInput()
		err := benchmark.DecodeInput(a, input)
		if err != nil {
			return nil, fmt.Errorf("can't convert input to ConsensusBenchmarkInput: %w", err)
		}
		return NewConsensusBenchmark(input)
	})
}

func NewConsensusBenchmark(input *ConsensusBenchmarkInput) (benchmark.Benchmark, error) {
	if input.Trials <= 0 {
		return nil, fmt.Errorf("consensus benchmark %q needs at least one trial, got %d", input.Name, input.Trials)
	}
	if input.BatchSize < 0 {
		return nil, fmt.Errorf("consensus benchmark %q: batch size must not be negative", input.Name)
	}
	if len(input.TriggerCommand) == 0 {
		return nil, fmt.Errorf("consensus benchmark %q needs a trigger command", input.Name)
	}
	in := *input
	return &bmark{input: &in}, nil
}

func (b *bmark) GetName() string {
	return b.input.Name
}

func (b *bmark) GetType() string {
	return "consensus"
}

func (b *bmark) GetInput() map[string]any {
	return util.StructMap(b.input)
}

func (b *bmark) Sizes() []topology.Size {
	return nil
}

// Trials in ascending order, grouped into batches of BatchSize.
func (b *bmark) Batches() ([]*benchmark.Batch, error) {
	size := b.input.BatchSize
	if size == 0 || size > b.input.Trials {
		size = b.input.Trials
	}

	out := []*benchmark.Batch{}
	for start := 0; start < b.input.Trials; start += size {
		end := min(start+size, b.input.Trials)
		batch := &benchmark.Batch{
			Benchmark:   b.input.Name,
			Environment: b.input.Environment,
			Triggers: []*benchmark.TriggerCommand{{
				Command: b.input.TriggerCommand[0],
				Args:    b.input.TriggerCommand[1:],
			}},
			SettleDelay:       b.input.SettleDelay,
			ObservationWindow: b.input.ObservationWindow,
		}
		for i := start; i < end; i++ {
			id, err := benchmark.ConsensusScenarioID(i)
			if err != nil {
				return nil, err
			}
			batch.Scenarios = append(batch.Scenarios, &benchmark.Scenario{
				ID:          id,
				Benchmark:   b.input.Name,
				Environment: b.input.Environment,
				Instance:    id,
				Trial:       i,
			})
		}
		batch.ID = batch.Scenarios[0].ID
		if len(batch.Scenarios) > 1 {
			batch.ID += ".." + batch.Scenarios[len(batch.Scenarios)-1].ID
		}
		out = append(out, batch)
	}
	return out, nil
}
