package rumor

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Octogonapus/ProtocolBench/benchmark"
	"github.com/Octogonapus/ProtocolBench/topology"
	"github.com/Octogonapus/ProtocolBench/util"
)

type RumorBenchmarkInput struct {
	Name        string
	Environment string

	// Node counts to sweep. Edge counts are derived from them.
	Nodes []int

	// Concurrency factors to sweep for every node count.
	Concurrency []int

	// Identifies this run's rumor. A UUID is generated when empty.
	Marker string

	// The client binary inside the node pods.
	ClientBinary string

	SettleDelay       time.Duration
	ObservationWindow time.Duration
}

func DefaultInput() *RumorBenchmarkInput {
	nodes := []int{}
	for n := 6; n <= 24; n += 2 {
		nodes = append(nodes, n)
	}
	return &RumorBenchmarkInput{
		Name:              "rumor",
		Environment:       "rumor",
		Nodes:             nodes,
		Concurrency:       []int{2, 3},
		ClientBinary:      "/client",
		SettleDelay:       10 * time.Second,
		ObservationWindow: 30 * time.Second,
	}
}

type bmark struct {
	input *RumorBenchmarkInput
}

func init() {
	benchmark.RegisterBenchmark("rumor", func(a map[string]any) (benchmark.Benchmark, error) {
		input := DefaultInput()
		err := benchmark.DecodeInput(a, input)
		if err != nil {
			return nil, fmt.Errorf("can't convert input to RumorBenchmarkInput: %w", err)
		}
		return NewRumorBenchmark(input)
	})
}

func NewRumorBenchmark(input *RumorBenchmarkInput) (benchmark.Benchmark, error) {
	in := *input
	in.Nodes = sortedUnique(input.Nodes)
	in.Concurrency = sortedUnique(input.Concurrency)
	if len(in.Nodes) == 0 || len(in.Concurrency) == 0 {
		return nil, fmt.Errorf("rumor benchmark %q needs at least one node count and one concurrency factor", in.Name)
	}
	if in.Nodes[0] <= 0 {
		return nil, fmt.Errorf("rumor benchmark %q: node counts must be positive, got %d", in.Name, in.Nodes[0])
	}
	if in.Concurrency[0] <= 0 {
		return nil, fmt.Errorf("rumor benchmark %q: concurrency factors must be positive, got %d", in.Name, in.Concurrency[0])
	}
	if in.Marker == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return nil, err
		}
		in.Marker = id.String()
	}
	if strings.ContainsAny(in.Marker, "; \t\n") {
		return nil, fmt.Errorf("rumor marker %q must not contain ';' or whitespace", in.Marker)
	}
	return &bmark{input: &in}, nil
}

// The control message that starts a rumor with the given concurrency.
func Payload(concurrency int, marker string) string {
	return "DISTRIBUTE RUMOR " + strconv.Itoa(concurrency) + ";" + marker
}

func (b *bmark) GetName() string {
	return b.input.Name
}

func (b *bmark) GetType() string {
	return "rumor"
}

func (b *bmark) GetInput() map[string]any {
	return util.StructMap(b.input)
}

func (b *bmark) Sizes() []topology.Size {
	out := []topology.Size{}
	for _, n := range b.input.Nodes {
		out = append(out, topology.SizeForNodes(n))
	}
	return out
}

// One batch per (nodes, concurrency) pair, ascending by node count and then concurrency.
func (b *bmark) Batches() ([]*benchmark.Batch, error) {
	out := []*benchmark.Batch{}
	for _, size := range b.Sizes() {
		for _, c := range b.input.Concurrency {
			id, err := benchmark.RumorScenarioID(size.Nodes, size.Edges, c)
			if err != nil {
				return nil, err
			}
			s := size
			scenario := &benchmark.Scenario{
				ID:          id,
				Benchmark:   b.input.Name,
				Environment: b.input.Environment,
				Params:      map[string]string{"scenario": id},
				Size:        &s,
				Concurrency: c,
			}
			out = append(out, &benchmark.Batch{
				ID:          id,
				Benchmark:   b.input.Name,
				Environment: b.input.Environment,
				Scenarios:   []*benchmark.Scenario{scenario},
				Triggers: []*benchmark.TriggerCommand{{
					Pod:     benchmark.NodePodName(id, 1),
					Command: b.input.ClientBinary,
					Args:    []string{"--type=CONTROL", "--payload=" + Payload(c, b.input.Marker)},
				}},
				SettleDelay:       b.input.SettleDelay,
				ObservationWindow: b.input.ObservationWindow,
			})
		}
	}
	return out, nil
}

func sortedUnique(xs []int) []int {
	out := slices.Clone(xs)
	slices.Sort(out)
	return slices.Compact(out)
}
