package consensus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Octogonapus/ProtocolBench/benchmark"
)

func TestDefaultSweepIsOneBatch(t *testing.T) {
	b, err := NewConsensusBenchmark(DefaultInput())
	require.NoError(t, err)
	assert.Empty(t, b.Sizes())

	batches, err := b.Batches()
	require.NoError(t, err)
	require.Len(t, batches, 1)

	batch := batches[0]
	assert.Equal(t, "test0..test9", batch.ID)
	assert.Equal(t, []string{"test0", "test1", "test2", "test3", "test4", "test5", "test6", "test7", "test8", "test9"}, batch.ScenarioIDs())
	for i, s := range batch.Scenarios {
		assert.Equal(t, s.ID, s.Instance)
		assert.Equal(t, i, s.Trial)
		assert.Equal(t, "consensus", s.Environment)
	}
	assert.Equal(t, []*benchmark.TriggerCommand{{Command: "sh", Args: []string{"start-consensus-parallel.sh"}}}, batch.Triggers)
	assert.Equal(t, 30*time.Second, batch.SettleDelay)
}

func TestBatchSize(t *testing.T) {
	input := DefaultInput()
	input.Trials = 5
	input.BatchSize = 2
	b, err := NewConsensusBenchmark(input)
	require.NoError(t, err)

	batches, err := b.Batches()
	require.NoError(t, err)
	ids := []string{}
	for _, batch := range batches {
		ids = append(ids, batch.ID)
	}
	assert.Equal(t, []string{"test0..test1", "test2..test3", "test4"}, ids)
}

func TestInvalidInput(t *testing.T) {
	_, err := NewConsensusBenchmark(&ConsensusBenchmarkInput{Trials: 0, TriggerCommand: []string{"sh"}})
	assert.Error(t, err)
	_, err = NewConsensusBenchmark(&ConsensusBenchmarkInput{Trials: 1})
	assert.Error(t, err)
	_, err = NewConsensusBenchmark(&ConsensusBenchmarkInput{Trials: 1, BatchSize: -1, TriggerCommand: []string{"sh"}})
	assert.Error(t, err)
}

func TestDeserialize(t *testing.T) {
	b, err := benchmark.DeserializeBenchmark(&benchmark.SerializedBenchmark{
		Type:  "consensus",
		Input: map[string]any{"Trials": 3, "BatchSize": 1, "TriggerCommand": []any{"./start.sh", "--fast"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "consensus", b.GetName())

	batches, err := b.Batches()
	require.NoError(t, err)
	require.Len(t, batches, 3)
	assert.Equal(t, "test2", batches[2].ID)
	assert.Equal(t, &benchmark.TriggerCommand{Command: "./start.sh", Args: []string{"--fast"}}, batches[0].Triggers[0])
}
