package benchmark

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/Octogonapus/ProtocolBench/topology"
)

// One concrete parameter combination of a sweep.
type Scenario struct {
	// Unique within a sweep and stable across reruns.
	ID string

	Benchmark   string
	Environment string

	// Overrides the environment name when several copies of one environment run side by side.
	Instance string

	// Top level arguments for the environment template.
	Params map[string]string

	// The topology the scenario is deployed with. Nil for benchmarks without a topology.
	Size *topology.Size

	Concurrency int
	Trial       int
}

// A command that starts the protocol under test. Runs inside Pod when Pod is set, otherwise on the
// machine running the cluster tools.
type TriggerCommand struct {
	Pod     string
	Command string
	Args    []string
}

func (t *TriggerCommand) String() string {
	s := strings.Join(append([]string{t.Command}, t.Args...), " ")
	if t.Pod != "" {
		return t.Pod + ": " + s
	}
	return s
}

// Scenarios that are deployed back to back and then share one readiness wait, one trigger step and
// one teardown.
type Batch struct {
	ID          string
	Benchmark   string
	Environment string
	Scenarios   []*Scenario
	Triggers    []*TriggerCommand

	// Zero means the runner's default.
	SettleDelay       time.Duration
	ObservationWindow time.Duration
}

func (b *Batch) ScenarioIDs() []string {
	ids := make([]string, 0, len(b.Scenarios))
	for _, s := range b.Scenarios {
		ids = append(ids, s.ID)
	}
	return ids
}

// Keeps only the scenarios keep returns true for. Returns nil when none are left.
func (b *Batch) Filter(keep func(*Scenario) bool) *Batch {
	out := *b
	out.Scenarios = slices.DeleteFunc(slices.Clone(b.Scenarios), func(s *Scenario) bool { return !keep(s) })
	if len(out.Scenarios) == 0 {
		return nil
	}
	return &out
}

type Benchmark interface {
	// A human-friendly name the user can set for this benchmark. Used to label scenarios in reports.
	GetName() string

	// The registered type of this benchmark.
	GetType() string

	// Any input given to this benchmark by the user, after defaults. Included in the sweep report.
	GetInput() map[string]any

	// Every distinct topology size the scenarios need. Empty when the benchmark has no topology.
	Sizes() []topology.Size

	// The batches of the sweep in run order.
	Batches() ([]*Batch, error)
}

type benchmarkType string

type benchmarkFactory func(map[string]any) (Benchmark, error)

var benchmarks map[benchmarkType]benchmarkFactory

// All benchmarks must register themselves at module load time so that deserialization can create a benchmark of that type.
func RegisterBenchmark(btype string, f benchmarkFactory) {
	if benchmarks == nil {
		benchmarks = map[benchmarkType]benchmarkFactory{}
	}
	benchmarks[benchmarkType(btype)] = f
}

// The registered benchmark types, comma separated.
func ExplainBenchmarks() string {
	names := []string{}
	for b := range benchmarks {
		names = append(names, string(b))
	}
	slices.Sort(names)
	return strings.Join(names, ", ")
}

type SerializedBenchmark struct {
	Type  benchmarkType  `json:"type" yaml:"type"`
	Input map[string]any `json:"input" yaml:"input"`
}

type BenchmarkFile []SerializedBenchmark

func DeserializeBenchmark(sb *SerializedBenchmark) (Benchmark, error) {
	return NewBenchmark(string(sb.Type), sb.Input)
}

// Creates a registered benchmark from its type name and input. A nil input gives the defaults.
func NewBenchmark(btype string, input map[string]any) (Benchmark, error) {
	f, ok := benchmarks[benchmarkType(btype)]
	if !ok {
		return nil, fmt.Errorf("unknown benchmark type: %s", btype)
	}
	if input == nil {
		input = map[string]any{}
	}
	return f(input)
}

// Reads a benchmark file. Files ending in .json are decoded as JSON, everything else as YAML.
func LoadBenchmarkFile(path string) ([]Benchmark, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var bf BenchmarkFile
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(buf, &bf)
	} else {
		err = yaml.Unmarshal(buf, &bf)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse benchmark file %s: %w", path, err)
	}

	out := []Benchmark{}
	for i := range bf {
		b, err := DeserializeBenchmark(&bf[i])
		if err != nil {
			return nil, fmt.Errorf("benchmark %d in %s: %w", i, path, err)
		}
		out = append(out, b)
	}
	return out, nil
}

// Decodes a benchmark input map into a typed input struct. Durations may be given as strings like "10s".
func DecodeInput(in map[string]any, out any) error {
	d, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		ZeroFields:       true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return d.Decode(in)
}
