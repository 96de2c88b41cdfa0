package report

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleReport() *SweepReport {
	r := &SweepReport{RunID: "run-1"}
	r.Add(&ScenarioReport{ID: "6-9-2", Benchmark: "rumor", Outcome: Succeeded})
	r.Add(&ScenarioReport{ID: "6-9-3", Benchmark: "rumor", Outcome: DeployError, Error: "tk apply failed"})
	r.Add(&ScenarioReport{ID: "8-12-2", Benchmark: "rumor", Outcome: Succeeded, TeardownError: "kubectl delete failed"})
	r.Add(&ScenarioReport{ID: "8-12-3", Benchmark: "rumor", Outcome: Skipped})
	return r
}

func TestCounts(t *testing.T) {
	r := sampleReport()
	assert.Equal(t, 2, r.Succeeded)
	assert.Equal(t, 1, r.Failed)
	assert.Equal(t, 1, r.Skipped)
	assert.Equal(t, []string{"6-9-3"}, r.FailedIDs())
}

func TestOutcomeFailed(t *testing.T) {
	assert.False(t, Succeeded.Failed())
	assert.False(t, Skipped.Failed())
	for _, o := range []Outcome{DeployError, ReadinessTimeout, TriggerError, TeardownError, Cancelled} {
		assert.True(t, o.Failed(), string(o))
	}
}

func TestSummary(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, sampleReport().Summary(&buf))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 6)
	assert.Equal(t, []string{"SCENARIO", "BENCHMARK", "OUTCOME", "DETAIL"}, strings.Fields(lines[0]))
	assert.Equal(t, []string{"6-9-2", "rumor", "Succeeded"}, strings.Fields(lines[1]))
	assert.Contains(t, lines[2], "DeployError")
	assert.Contains(t, lines[2], "tk apply failed")
	assert.Contains(t, lines[3], "teardown: kubectl delete failed")
	assert.Equal(t, "2 succeeded, 1 failed, 1 skipped (run run-1)", lines[5])
}

func TestWriteJSON(t *testing.T) {
	p := filepath.Join(t.TempDir(), "results", "report.json")
	require.NoError(t, sampleReport().WriteJSON(p))

	buf, err := os.ReadFile(p)
	require.NoError(t, err)
	var back SweepReport
	require.NoError(t, json.Unmarshal(buf, &back))
	assert.Equal(t, "run-1", back.RunID)
	assert.Len(t, back.Scenarios, 4)
	assert.Equal(t, DeployError, back.Scenarios[1].Outcome)
}

func TestS3Key(t *testing.T) {
	u := NewS3Uploader(&S3UploaderInput{AwsConfig: aws.Config{Region: "us-east-1"}, Bucket: "b", Prefix: "sweeps"})
	assert.Equal(t, "sweeps/run-1/report.json", u.Key(&SweepReport{RunID: "run-1"}))
}
