package cluster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	processrunner "github.com/Octogonapus/ProtocolBench/process_runner"
	"github.com/Octogonapus/ProtocolBench/util"
	"github.com/hashicorp/go-version"
)

const (
	MinKubectlVersion = "1.23.0"
	MinTankaVersion   = "0.20.0"
)

type KubeClusterInput struct {
	Runner processrunner.ProcessRunner

	TankaBinary   string // "tk" by default
	KubectlBinary string // "kubectl" by default

	// Directory holding the tanka project (environments/ and lib/). Applies run from here.
	WorkDir string

	// Pause between readiness checks that fail immediately (e.g. no pods exist yet).
	PollInterval time.Duration

	// Bound on a single apply, exec or delete.
	CommandTimeout time.Duration
}

type kubeCluster struct {
	input *KubeClusterInput
}

// A ClusterClient backed by tanka (tk) for applying environments and kubectl for everything else.
func NewKubeCluster(input *KubeClusterInput) ClusterClient {
	if input.TankaBinary == "" {
		input.TankaBinary = "tk"
	}
	if input.KubectlBinary == "" {
		input.KubectlBinary = "kubectl"
	}
	if input.PollInterval == 0 {
		input.PollInterval = 5 * time.Second
	}
	if input.CommandTimeout == 0 {
		input.CommandTimeout = 10 * time.Minute
	}
	return &kubeCluster{input: input}
}

func (c *kubeCluster) ApplyEnvironment(ctx context.Context, environment string, opts *ApplyOptions) *DeployResult {
	if opts == nil {
		opts = &ApplyOptions{}
	}
	args := []string{"apply", "environments/" + environment}
	keys := make([]string, 0, len(opts.Params))
	for k := range opts.Params {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		args = append(args, "--tla-str", k+"="+opts.Params[k])
	}
	if opts.AutoApprove {
		args = append(args, "--dangerous-auto-approve")
	}
	if opts.Instance != "" {
		args = append(args, "--name="+opts.Instance)
	}

	res := c.input.Runner.Run(ctx, &processrunner.Command{
		Name:    c.input.TankaBinary,
		Args:    args,
		Dir:     c.input.WorkDir,
		Timeout: c.input.CommandTimeout,
	})
	if res.Failed() {
		slog.Error("applying environment failed",
			slog.String("environment", environment),
			slog.String("instance", opts.Instance),
			slog.String("command output", res.CombinedOutput()),
		)
	}
	return &DeployResult{Environment: environment, Instance: opts.Instance, Process: res}
}

func (c *kubeCluster) WaitAllReady(ctx context.Context, namespace string, timeout time.Duration) *ReadyResult {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result := &ReadyResult{Namespace: namespace}
	for {
		deadline, _ := ctx.Deadline()
		remaining := time.Until(deadline)
		if remaining <= 0 || ctx.Err() != nil {
			break
		}

		result.Attempts++
		// kubectl's own timeout fires first, the harness deadline is a backstop
		waitSec := max(int(math.Ceil(remaining.Seconds())), 1)
		result.Last = c.input.Runner.Run(ctx, &processrunner.Command{
			Name: c.input.KubectlBinary,
			Args: []string{
				"wait", "-n", namespace,
				"--for=condition=Ready", "pod", "--all",
				"--timeout=" + strconv.Itoa(waitSec) + "s",
			},
			Timeout: remaining + 5*time.Second,
		})
		if !result.Last.Failed() {
			result.Condition = Ready
			result.Elapsed = time.Since(start)
			slog.Debug("all pods ready", slog.String("namespace", namespace), slog.Int("attempts", result.Attempts))
			return result
		}

		slog.Debug("pods not ready yet",
			slog.String("namespace", namespace),
			slog.Int("attempt", result.Attempts),
			slog.String("command output", strings.TrimSpace(result.Last.CombinedOutput())),
		)

		t := time.NewTimer(c.input.PollInterval)
		select {
		case <-ctx.Done():
			t.Stop()
		case <-t.C:
		}
	}

	result.Elapsed = time.Since(start)
	result.Condition = ReadyTimedOut
	if errors.Is(ctx.Err(), context.Canceled) {
		result.Condition = ReadyCanceled
	}
	slog.Error("pods did not become ready",
		slog.String("namespace", namespace),
		slog.String("condition", string(result.Condition)),
		slog.Duration("elapsed", result.Elapsed),
	)
	return result
}

func (c *kubeCluster) ExecInPod(ctx context.Context, namespace, pod, command string, args ...string) *ExecResult {
	a := []string{"exec", "-n", namespace, pod, "--", command}
	a = append(a, args...)
	res := c.input.Runner.Run(ctx, &processrunner.Command{
		Name:    c.input.KubectlBinary,
		Args:    a,
		Timeout: c.input.CommandTimeout,
	})
	if res.Failed() {
		slog.Error("exec in pod failed", slog.String("pod", pod), slog.String("command output", res.CombinedOutput()))
	} else {
		slog.Debug("exec in pod finished", slog.String("pod", pod), slog.String("output", res.CombinedOutput()))
	}
	return &ExecResult{Pod: pod, Process: res}
}

func (c *kubeCluster) Teardown(ctx context.Context, namespace string, gracePeriod time.Duration) *TeardownResult {
	grace := int(gracePeriod.Seconds())
	args := []string{"delete", "-n", namespace, "pod", "--all", "--grace-period=" + strconv.Itoa(grace)}
	if grace == 0 {
		// kubectl only honours an immediate deletion together with --force
		args = append(args, "--force")
	}
	res := c.input.Runner.Run(ctx, &processrunner.Command{
		Name:    c.input.KubectlBinary,
		Args:    args,
		Timeout: c.input.CommandTimeout,
	})
	if res.Failed() {
		slog.Error("teardown failed", slog.String("namespace", namespace), slog.String("command output", res.CombinedOutput()))
	}
	return &TeardownResult{Namespace: namespace, Process: res}
}

func (c *kubeCluster) CheckTools(ctx context.Context) error {
	res := c.input.Runner.Run(ctx, &processrunner.Command{
		Name:    c.input.KubectlBinary,
		Args:    []string{"version", "--client", "-o", "json"},
		Timeout: time.Minute,
	})
	if res.Failed() {
		return fmt.Errorf("kubectl is not usable: %w", res.Err())
	}
	kubectlVersion, err := ParseKubectlVersion(res.Stdout)
	if err != nil {
		return err
	}
	err = requireVersion("kubectl", kubectlVersion, MinKubectlVersion)
	if err != nil {
		return err
	}

	res = c.input.Runner.Run(ctx, &processrunner.Command{
		Name:    c.input.TankaBinary,
		Args:    []string{"--version"},
		Timeout: time.Minute,
	})
	if res.Failed() {
		return fmt.Errorf("tk is not usable: %w", res.Err())
	}
	tankaVersion, err := ParseTankaVersion(res.CombinedOutput())
	if err != nil {
		return err
	}
	err = requireVersion("tk", tankaVersion, MinTankaVersion)
	if err != nil {
		return err
	}

	slog.Info("cluster tools ok", slog.String("kubectl", kubectlVersion.String()), slog.String("tk", tankaVersion.String()))
	return nil
}

// Parses the output of `kubectl version --client -o json`.
func ParseKubectlVersion(out []byte) (*version.Version, error) {
	var doc struct {
		ClientVersion struct {
			GitVersion string `json:"gitVersion"`
		} `json:"clientVersion"`
	}
	err := json.Unmarshal(out, &doc)
	if err != nil {
		return nil, fmt.Errorf("failed to parse kubectl version output: %w", err)
	}
	return version.NewVersion(doc.ClientVersion.GitVersion)
}

// Parses the output of `tk --version`, e.g. "tk version v0.26.0".
func ParseTankaVersion(out string) (*version.Version, error) {
	line := util.LastNonEmptyLine([]byte(out))
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return nil, fmt.Errorf("empty tk version output")
	}
	return version.NewVersion(parts[len(parts)-1])
}

func requireVersion(tool string, have *version.Version, minimum string) error {
	minVersion := version.Must(version.NewVersion(minimum))
	if have.LessThan(minVersion) {
		return fmt.Errorf("%s %s is too old, need at least %s", tool, have, minVersion)
	}
	return nil
}
