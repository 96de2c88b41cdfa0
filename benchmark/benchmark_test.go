package benchmark

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Octogonapus/ProtocolBench/topology"
)

type fakeInput struct {
	Name  string
	Count int
	Delay time.Duration
}

type fakeBenchmark struct {
	input *fakeInput
}

func (f *fakeBenchmark) GetName() string { return f.input.Name }
func (f *fakeBenchmark) GetType() string { return "fake" }
func (f *fakeBenchmark) GetInput() map[string]any { return map[string]any{"Name": f.input.Name} }
func (f *fakeBenchmark) Sizes() []topology.Size { return nil }
func (f *fakeBenchmark) Batches() ([]*Batch, error) { return nil, nil }

func init() {
	RegisterBenchmark("fake", func(a map[string]any) (Benchmark, error) {
		input := &fakeInput{}
		err := DecodeInput(a, input)
		if err != nil {
			return nil, err
		}
		return &fakeBenchmark{input: input}, nil
	})
}

func TestDecodeInput(t *testing.T) {
	in := &fakeInput{}
	require.NoError(t, DecodeInput(map[string]any{"Name": "x", "count": "3", "Delay": "1m30s"}, in))
	assert.Equal(t, &fakeInput{Name: "x", Count: 3, Delay: 90 * time.Second}, in)

	err := DecodeInput(map[string]any{"Nmae": "typo"}, &fakeInput{})
	assert.Error(t, err)
}

func TestDeserializeUnknownType(t *testing.T) {
	_, err := DeserializeBenchmark(&SerializedBenchmark{Type: "nope"})
	assert.ErrorContains(t, err, "unknown benchmark type: nope")
}

func TestExplainBenchmarks(t *testing.T) {
	assert.Contains(t, ExplainBenchmarks(), "fake")
}

func TestLoadBenchmarkFile(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "sweep.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("- type: fake\n  input:\n    Name: a\n    Count: 2\n- type: fake\n"), 0o644))
	jsonPath := filepath.Join(dir, "sweep.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`[{"type": "fake", "input": {"Name": "b", "Count": 4, "Delay": "5s"}}]`), 0o644))

	bs, err := LoadBenchmarkFile(yamlPath)
	require.NoError(t, err)
	require.Len(t, bs, 2)
	assert.Equal(t, "a", bs[0].GetName())
	assert.Equal(t, 2, bs[0].(*fakeBenchmark).input.Count)
	assert.Equal(t, "", bs[1].GetName())

	bs, err = LoadBenchmarkFile(jsonPath)
	require.NoError(t, err)
	require.Len(t, bs, 1)
	assert.Equal(t, &fakeInput{Name: "b", Count: 4, Delay: 5 * time.Second}, bs[0].(*fakeBenchmark).input)
}

func TestLoadBenchmarkFileErrors(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("- type: nope\n"), 0o644))

	_, err := LoadBenchmarkFile(bad)
	assert.ErrorContains(t, err, "benchmark 0 in")

	_, err = LoadBenchmarkFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestRumorScenarioID(t *testing.T) {
	id, err := RumorScenarioID(6, 9, 2)
	require.NoError(t, err)
	assert.Equal(t, "6-9-2", id)
	assert.Equal(t, "node-6-9-2-1", NodePodName(id, 1))

	for _, bad := range [][3]int{{0, 0, 1}, {-6, 9, 2}, {6, -1, 2}, {6, 9, 0}} {
		_, err := RumorScenarioID(bad[0], bad[1], bad[2])
		assert.Error(t, err, bad)
	}
}

func TestRumorScenarioIDInjective(t *testing.T) {
	seen := map[string][3]int{}
	for n := 1; n <= 40; n++ {
		for m := 0; m <= 60; m++ {
			for c := 1; c <= 12; c++ {
				id, err := RumorScenarioID(n, m, c)
				require.NoError(t, err)
				prev, dup := seen[id]
				require.False(t, dup, "%s produced by %v and %v", id, prev, [3]int{n, m, c})
				seen[id] = [3]int{n, m, c}
			}
		}
	}
}

func TestConsensusScenarioID(t *testing.T) {
	id, err := ConsensusScenarioID(0)
	require.NoError(t, err)
	assert.Equal(t, "test0", id)
	id, _ = ConsensusScenarioID(9)
	assert.Equal(t, "test9", id)

	_, err = ConsensusScenarioID(-1)
	assert.Error(t, err)
}

func TestBatchFilter(t *testing.T) {
	b := consensusBatch(3)
	kept := b.Filter(func(s *Scenario) bool { return s.ID != "test1" })
	require.NotNil(t, kept)
	assert.Equal(t, []string{"test0", "test2"}, kept.ScenarioIDs())
	assert.Len(t, b.Scenarios, 3)

	assert.Nil(t, b.Filter(func(*Scenario) bool { return false }))
}
