package systemmonitor

import (
	"strconv"
	"strings"
	"time"
)

type podSample struct {
	pod       string
	time      int64
	cpuMilli  int64
	memoryMiB int64
}

// Parses `kubectl top pods --no-headers` output, e.g. "node-6-9-2-0   5m   12Mi".
// Lines that don't parse are skipped.
func parseTopPods(now time.Time, buf []byte) []*podSample {
	out := []*podSample{}
	for _, line := range strings.Split(string(buf), "\n") {
		parts := strings.Fields(line)
		if len(parts) < 3 {
			continue
		}
		cpu, ok := parseCPUMilli(parts[1])
		if !ok {
			continue
		}
		mem, ok := parseMemoryMiB(parts[2])
		if !ok {
			continue
		}
		out = append(out, &podSample{pod: parts[0], time: now.Unix(), cpuMilli: cpu, memoryMiB: mem})
	}
	return out
}

func parseCPUMilli(s string) (int64, bool) {
	scale := 1000.0
	switch {
	case strings.HasSuffix(s, "n"):
		s, scale = strings.TrimSuffix(s, "n"), 1e-6
	case strings.HasSuffix(s, "u"):
		s, scale = strings.TrimSuffix(s, "u"), 1e-3
	case strings.HasSuffix(s, "m"):
		s, scale = strings.TrimSuffix(s, "m"), 1
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return int64(v * scale), true
}

var memoryUnits = []struct {
	suffix string
	mib    float64
}{
	{"Ki", 1.0 / 1024},
	{"Mi", 1},
	{"Gi", 1024},
	{"Ti", 1024 * 1024},
}

func parseMemoryMiB(s string) (int64, bool) {
	scale := 1.0 / (1024 * 1024) // plain bytes
	for _, u := range memoryUnits {
		if strings.HasSuffix(s, u.suffix) {
			s, scale = strings.TrimSuffix(s, u.suffix), u.mib
			break
		}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return int64(v * scale), true
}
