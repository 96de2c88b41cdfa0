package systemmonitor

import (
	"context"
	"log/slog"
	"slices"
	"time"

	processrunner "github.com/Octogonapus/ProtocolBench/process_runner"
	"github.com/Octogonapus/ProtocolBench/report"
	"github.com/Octogonapus/ProtocolBench/util"
)

type PodMonitorInput struct {
	// Runs kubectl next to the other cluster tools.
	Runner        processrunner.ProcessRunner
	KubectlBinary string
	WorkDir       string

	// Pause between samples. Defaults to 5s.
	Interval time.Duration

	Sleep func(ctx context.Context, d time.Duration) error
}

// Samples CPU and memory of every pod in a namespace with kubectl top. Needs metrics-server in the
// cluster; without it every sample fails and the scenario simply has no usage data.
type PodMonitor struct {
	input *PodMonitorInput
}

func NewPodMonitor(input *PodMonitorInput) *PodMonitor {
	if input.KubectlBinary == "" {
		input.KubectlBinary = "kubectl"
	}
	if input.Interval <= 0 {
		input.Interval = 5 * time.Second
	}
	if input.Sleep == nil {
		input.Sleep = util.Sleep
	}
	return &PodMonitor{input: input}
}

// Samples the namespace until ctx is done and returns the measurements per pod, sorted by pod name.
func (m *PodMonitor) Monitor(ctx context.Context, namespace string) []*report.PodMeasurements {
	byPod := map[string]*report.PodMeasurements{}
	failures := 0

	for {
		samples, err := m.sample(ctx, namespace)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			failures++
			slog.Debug("PodMonitor: sample failed", slog.String("namespace", namespace), slog.String("error", err.Error()))
		}
		for _, s := range samples {
			pm, ok := byPod[s.pod]
			if !ok {
				pm = &report.PodMeasurements{Pod: s.pod}
				byPod[s.pod] = pm
			}
			pm.CPUMilli = append(pm.CPUMilli, report.Measurement[int64]{Time: s.time, Value: s.cpuMilli})
			pm.MemoryMiB = append(pm.MemoryMiB, report.Measurement[int64]{Time: s.time, Value: s.memoryMiB})
		}

		if m.input.Sleep(ctx, m.input.Interval) != nil {
			break
		}
	}
	if failures > 0 {
		slog.Warn("PodMonitor: some samples failed", slog.String("namespace", namespace), slog.Int("failures", failures))
	}

	out := make([]*report.PodMeasurements, 0, len(byPod))
	for _, pm := range byPod {
		out = append(out, pm)
	}
	slices.SortFunc(out, func(a, b *report.PodMeasurements) int {
		if a.Pod < b.Pod {
			return -1
		} else if a.Pod > b.Pod {
			return 1
		}
		return 0
	})
	return out
}

func (m *PodMonitor) sample(ctx context.Context, namespace string) ([]*podSample, error) {
	res := m.input.Runner.Run(ctx, &processrunner.Command{
		Name: m.input.KubectlBinary,
		Args: []string{"top", "pods", "-n", namespace, "--no-headers"},
		Dir:  m.input.WorkDir,
	})
	if res.Failed() {
		return nil, res.Err()
	}
	return parseTopPods(time.Now(), res.Stdout), nil
}
