package main

import (
	"fmt"
	"io"
	"log/slog"
	"path"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/ssh"

	"github.com/Octogonapus/ProtocolBench/benchmark"
	_ "github.com/Octogonapus/ProtocolBench/benchmark/consensus"
	_ "github.com/Octogonapus/ProtocolBench/benchmark/rumor"
	"github.com/Octogonapus/ProtocolBench/cluster"
	processrunner "github.com/Octogonapus/ProtocolBench/process_runner"
	systemmonitor "github.com/Octogonapus/ProtocolBench/system_monitor"
	"github.com/Octogonapus/ProtocolBench/topology"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool

	Namespace   string
	Namespaces  []string
	Parallelism int

	WorkDir          string
	AssetDir         string
	GeneratorCommand []string
	TankaBinary      string
	KubectlBinary    string

	ReadyTimeout        time.Duration
	SettleDelay         time.Duration
	ObservationWindow   time.Duration
	PollInterval        time.Duration
	TriggerTimeout      time.Duration
	TeardownGracePeriod time.Duration
	TeardownTimeout     time.Duration
	CommandTimeout      time.Duration
	MonitorInterval     time.Duration

	SSHHost    string
	SSHUser    string
	SSHPort    int
	SSHKey     string
	SSHWorkDir string

	DB           string
	ResultDir    string
	ReportBucket string
	ReportPrefix string

	// Set by tests to run without real cluster tools.
	cluster         cluster.ClusterClient
	toolRunner      processrunner.ProcessRunner
	generatorRunner processrunner.ProcessRunner
}

// NewRootCommand creates the root command for the protobench CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	timing := benchmark.DefaultTiming()

	cmd := &cobra.Command{
		Use:   "protobench",
		Short: "Drive protocol benchmark sweeps on a Kubernetes cluster",
		Long: `Deploys consensus and rumor spreading experiments with tanka, waits for them to
become ready, triggers the protocol, observes it and tears every deployment down again.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			setUpLogging(cmd.ErrOrStderr(), opts.Verbose)
			if opts.Parallelism < 1 {
				return fmt.Errorf("invalid parallelism %d: must be at least 1", opts.Parallelism)
			}
			if len(opts.Namespaces) > 0 && opts.Parallelism > 1 && opts.Parallelism != len(opts.Namespaces) {
				return fmt.Errorf("--parallelism %d does not match the %d given --namespaces", opts.Parallelism, len(opts.Namespaces))
			}
			return nil
		},
	}

	f := cmd.PersistentFlags()
	f.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	f.StringVar(&opts.Namespace, "namespace", "default", "the namespace scenarios are deployed into")
	f.StringSliceVar(&opts.Namespaces, "namespaces", nil, "isolated namespaces to run scenarios in parallel, one scenario per namespace at a time")
	f.IntVar(&opts.Parallelism, "parallelism", 1, "how many scenarios run at once. Above 1 without --namespaces, namespaces <namespace>-1..<namespace>-N are used")
	f.StringVar(&opts.WorkDir, "workdir", ".", "the tanka project directory the cluster tools run in")
	f.StringVar(&opts.AssetDir, "asset-dir", "lib/assets", "where topology files and their index are written, relative to the workdir")
	f.StringSliceVar(&opts.GeneratorCommand, "generator", topology.DefaultGeneratorCommand, "the topology generator command; size flags are appended")
	f.StringVar(&opts.TankaBinary, "tk", "tk", "the tanka binary")
	f.StringVar(&opts.KubectlBinary, "kubectl", "kubectl", "the kubectl binary")

	f.DurationVar(&opts.ReadyTimeout, "ready-timeout", timing.ReadyTimeout, "how long to wait for all pods to become ready")
	f.DurationVar(&opts.SettleDelay, "settle-delay", timing.SettleDelay, "pause between readiness and the trigger; overrides the built-in benchmarks' own value when set")
	f.DurationVar(&opts.ObservationWindow, "observation-window", timing.ObservationWindow, "how long the protocol runs before teardown; overrides the built-in benchmarks' own value when set")
	f.DurationVar(&opts.PollInterval, "poll-interval", 5*time.Second, "pause between readiness checks that fail immediately")
	f.DurationVar(&opts.TriggerTimeout, "trigger-timeout", timing.TriggerTimeout, "bound on each trigger command")
	f.DurationVar(&opts.TeardownGracePeriod, "teardown-grace-period", timing.TeardownGracePeriod, "grace period for deleting pods, 0 forces immediate deletion")
	f.DurationVar(&opts.TeardownTimeout, "teardown-timeout", timing.TeardownTimeout, "bound on teardown, also after cancellation")
	f.DurationVar(&opts.CommandTimeout, "command-timeout", 10*time.Minute, "bound on a single apply, exec or delete")
	f.DurationVar(&opts.MonitorInterval, "monitor-interval", 0, "sample pod CPU and memory with kubectl top at this interval while observing. 0 disables it")

	f.StringVar(&opts.SSHHost, "ssh-host", "", "run the cluster tools on this host over SSH instead of locally")
	f.StringVar(&opts.SSHUser, "ssh-user", "ubuntu", "the SSH user")
	f.IntVar(&opts.SSHPort, "ssh-port", 22, "the SSH port")
	f.StringVar(&opts.SSHKey, "ssh-key", "", "path to the SSH private key")
	f.StringVar(&opts.SSHWorkDir, "ssh-workdir", "", "the tanka project directory on the SSH host")

	f.StringVar(&opts.DB, "db", "results/results.db", "SQLite database of scenario outcomes across runs. Empty disables it")
	f.StringVar(&opts.ResultDir, "result-dir", "results", "where the sweep report is written")
	f.StringVar(&opts.ReportBucket, "report-bucket", "", "also upload the sweep report to this S3 bucket")
	f.StringVar(&opts.ReportPrefix, "report-prefix", "protobench", "key prefix for uploaded reports")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewFailedCommand(opts))
	cmd.AddCommand(NewCheckCommand(opts))

	return cmd
}

func setUpLogging(w io.Writer, verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
}

func (o *RootOptions) timing() benchmark.Timing {
	return benchmark.Timing{
		ReadyTimeout:        o.ReadyTimeout,
		SettleDelay:         o.SettleDelay,
		ObservationWindow:   o.ObservationWindow,
		TriggerTimeout:      o.TriggerTimeout,
		TeardownGracePeriod: o.TeardownGracePeriod,
		TeardownTimeout:     o.TeardownTimeout,
	}
}

func (o *RootOptions) namespaces() []string {
	if len(o.Namespaces) > 0 {
		return o.Namespaces
	}
	if o.Parallelism <= 1 {
		return []string{o.Namespace}
	}
	out := []string{}
	for i := 1; i <= o.Parallelism; i++ {
		out = append(out, o.Namespace+"-"+strconv.Itoa(i))
	}
	return out
}

func (o *RootOptions) remote() bool {
	return o.SSHHost != ""
}

// The asset directory on this machine, where the generator writes.
func (o *RootOptions) localAssetDir() string {
	if filepath.IsAbs(o.AssetDir) {
		return o.AssetDir
	}
	return filepath.Join(o.WorkDir, o.AssetDir)
}

// The asset directory the cluster tools read. Empty when they run on this machine.
func (o *RootOptions) remoteAssetDir() string {
	if !o.remote() {
		return ""
	}
	if path.IsAbs(o.AssetDir) {
		return o.AssetDir
	}
	return path.Join(o.SSHWorkDir, o.AssetDir)
}

// The runner for the cluster tools and, when they run remotely, the copier for their files.
func (o *RootOptions) newToolRunner() (processrunner.ProcessRunner, processrunner.FileCopier, error) {
	if o.toolRunner != nil {
		copier, _ := o.toolRunner.(processrunner.FileCopier)
		return o.toolRunner, copier, nil
	}
	if !o.remote() {
		return processrunner.NewLocalRunner(o.WorkDir), nil, nil
	}
	if o.SSHKey == "" {
		return nil, nil, fmt.Errorf("--ssh-key is required with --ssh-host")
	}
	auth, err := processrunner.PublicKeyAuthFromFile(o.SSHKey)
	if err != nil {
		return nil, nil, err
	}
	r := processrunner.NewSSHRunner(&processrunner.SSHRunnerInput{
		User:    o.SSHUser,
		Host:    o.SSHHost,
		SSHPort: o.SSHPort,
		Auths:   []ssh.AuthMethod{auth},
		Dir:     o.SSHWorkDir,
	})
	return r, r, nil
}

func (o *RootOptions) newCluster(runner processrunner.ProcessRunner) cluster.ClusterClient {
	if o.cluster != nil {
		return o.cluster
	}
	workDir := o.WorkDir
	if o.remote() {
		// the SSH runner changes into its own workdir
		workDir = ""
	}
	return cluster.NewKubeCluster(&cluster.KubeClusterInput{
		Runner:         runner,
		TankaBinary:    o.TankaBinary,
		KubectlBinary:  o.KubectlBinary,
		WorkDir:        workDir,
		PollInterval:   o.PollInterval,
		CommandTimeout: o.CommandTimeout,
	})
}

// Nil when monitoring is off.
func (o *RootOptions) newMonitor(runner processrunner.ProcessRunner) benchmark.PodMonitor {
	if o.MonitorInterval <= 0 {
		return nil
	}
	workDir := o.WorkDir
	if o.remote() {
		workDir = ""
	}
	return systemmonitor.NewPodMonitor(&systemmonitor.PodMonitorInput{
		Runner:        runner,
		KubectlBinary: o.KubectlBinary,
		WorkDir:       workDir,
		Interval:      o.MonitorInterval,
	})
}

func (o *RootOptions) newGenerator() *topology.Generator {
	runner := o.generatorRunner
	if runner == nil {
		runner = processrunner.NewLocalRunner(o.WorkDir)
	}
	return topology.NewGenerator(&topology.GeneratorInput{
		Runner:   runner,
		AssetDir: o.localAssetDir(),
		Command:  o.GeneratorCommand,
	})
}
