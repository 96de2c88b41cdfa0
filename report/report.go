package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"
)

// How a scenario ended. Everything except Succeeded and Skipped is a failure kind.
type Outcome string

const (
	Succeeded        Outcome = "Succeeded"
	DeployError      Outcome = "DeployError"
	ReadinessTimeout Outcome = "ReadinessTimeout"
	TriggerError     Outcome = "TriggerError"
	Cancelled        Outcome = "Cancelled"
	Skipped          Outcome = "Skipped"

	// Never a scenario outcome: teardown failures keep the outcome and are reported in
	// ScenarioReport.TeardownError. Used as the kind of the error carrying them.
	TeardownError Outcome = "TeardownError"
)

func (o Outcome) Failed() bool {
	return o != Succeeded && o != Skipped
}

type Measurement[T any] struct {
	Time  int64
	Value T
}

// Resource usage of one pod sampled during the observation window.
type PodMeasurements struct {
	Pod       string
	CPUMilli  []Measurement[int64]
	MemoryMiB []Measurement[int64]
}

type Transition struct {
	From string
	To   string
	Time time.Time
}

type ScenarioReport struct {
	ID          string
	Benchmark   string
	Environment string
	Batch       string // scenarios sharing one deploy/ready/trigger/teardown cycle share a batch
	Instance    string `json:",omitempty"`
	Namespace   string
	Params      map[string]string `json:",omitempty"`

	Outcome       Outcome
	FinalState    string
	Error         string // non-empty iff the scenario failed
	TeardownError string `json:",omitempty"` // teardown failures never fail a scenario

	Transitions []Transition
	StartTime   time.Time
	DurationSec float64

	PodUsage []*PodMeasurements `json:",omitempty"`
}

type BenchmarkInfo struct {
	Name  string
	Type  string
	Input map[string]any
}

type SweepReport struct {
	RunID       string
	StartTime   time.Time
	DurationSec float64
	Benchmarks  []BenchmarkInfo
	Scenarios   []*ScenarioReport
	Succeeded   int
	Failed      int
	Skipped     int
}

func (r *SweepReport) Add(s *ScenarioReport) {
	r.Scenarios = append(r.Scenarios, s)
	switch {
	case s.Outcome == Skipped:
		r.Skipped++
	case s.Outcome.Failed():
		r.Failed++
	default:
		r.Succeeded++
	}
}

func (r *SweepReport) FailedIDs() []string {
	ids := []string{}
	for _, s := range r.Scenarios {
		if s.Outcome.Failed() {
			ids = append(ids, s.ID)
		}
	}
	return ids
}

// Writes a human-readable table of every scenario and its outcome.
func (r *SweepReport) Summary(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SCENARIO\tBENCHMARK\tOUTCOME\tDETAIL")
	for _, s := range r.Scenarios {
		detail := s.Error
		if detail == "" && s.TeardownError != "" {
			detail = "teardown: " + s.TeardownError
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.ID, s.Benchmark, s.Outcome, detail)
	}
	err := tw.Flush()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%d succeeded, %d failed, %d skipped (run %s)\n", r.Succeeded, r.Failed, r.Skipped, r.RunID)
	return err
}

func (r *SweepReport) WriteJSON(path string) error {
	bytes, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	err = os.MkdirAll(filepath.Dir(path), os.ModePerm)
	if err != nil {
		return err
	}
	return os.WriteFile(path, bytes, 0o644)
}
