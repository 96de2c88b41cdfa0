package rumor

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Octogonapus/ProtocolBench/benchmark"
	"github.com/Octogonapus/ProtocolBench/topology"
)

func TestDefaultSweep(t *testing.T) {
	input := DefaultInput()
	input.Marker = "SOME_MARKER_123456"
	b, err := NewRumorBenchmark(input)
	require.NoError(t, err)

	batches, err := b.Batches()
	require.NoError(t, err)
	require.Len(t, batches, 20)

	first := batches[0]
	assert.Equal(t, "6-9-2", first.ID)
	require.Len(t, first.Scenarios, 1)
	s := first.Scenarios[0]
	assert.Equal(t, "rumor", s.Environment)
	assert.Equal(t, map[string]string{"scenario": "6-9-2"}, s.Params)
	assert.Equal(t, &topology.Size{Nodes: 6, Edges: 9}, s.Size)
	assert.Equal(t, 10*time.Second, first.SettleDelay)
	assert.Equal(t, 30*time.Second, first.ObservationWindow)
	require.Len(t, first.Triggers, 1)
	assert.Equal(t, &benchmark.TriggerCommand{
		Pod:     "node-6-9-2-1",
		Command: "/client",
		Args:    []string{"--type=CONTROL", "--payload=DISTRIBUTE RUMOR 2;SOME_MARKER_123456"},
	}, first.Triggers[0])

	assert.Equal(t, "6-9-3", batches[1].ID)
	assert.Equal(t, "8-12-2", batches[2].ID)
	assert.Equal(t, "24-36-3", batches[19].ID)
}

func TestSizesOnePerNodeCount(t *testing.T) {
	b, err := NewRumorBenchmark(&RumorBenchmarkInput{Nodes: []int{10, 6, 10}, Concurrency: []int{3, 2}, Marker: "m"})
	require.NoError(t, err)
	assert.Equal(t, []topology.Size{{Nodes: 6, Edges: 9}, {Nodes: 10, Edges: 15}}, b.Sizes())

	batches, err := b.Batches()
	require.NoError(t, err)
	ids := []string{}
	for _, batch := range batches {
		ids = append(ids, batch.ID)
	}
	assert.Equal(t, []string{"6-9-2", "6-9-3", "10-15-2", "10-15-3"}, ids)
}

func TestGeneratedMarker(t *testing.T) {
	b, err := NewRumorBenchmark(DefaultInput())
	require.NoError(t, err)

	marker := b.GetInput()["Marker"].(string)
	parsed, err := uuid.Parse(marker)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
}

func TestInvalidInput(t *testing.T) {
	cases := map[string]*RumorBenchmarkInput{
		"no nodes":      {Concurrency: []int{2}},
		"no conc":       {Nodes: []int{6}},
		"zero nodes":    {Nodes: []int{0, 6}, Concurrency: []int{2}},
		"negative conc": {Nodes: []int{6}, Concurrency: []int{-1}},
		"bad marker":    {Nodes: []int{6}, Concurrency: []int{2}, Marker: "a;b"},
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewRumorBenchmark(input)
			assert.Error(t, err)
		})
	}
}

func TestDeserialize(t *testing.T) {
	b, err := benchmark.DeserializeBenchmark(&benchmark.SerializedBenchmark{
		Type:  "rumor",
		Input: map[string]any{"Name": "small", "Nodes": []any{8}, "Marker": "xyz", "SettleDelay": "5s"},
	})
	require.NoError(t, err)
	assert.Equal(t, "small", b.GetName())
	assert.Equal(t, "rumor", b.GetType())

	batches, err := b.Batches()
	require.NoError(t, err)
	require.Len(t, batches, 2)
	assert.Equal(t, "8-12-2", batches[0].ID)
	assert.Equal(t, 5*time.Second, batches[0].SettleDelay)
	assert.Equal(t, "--payload=DISTRIBUTE RUMOR 3;xyz", batches[1].Triggers[0].Args[1])
}
