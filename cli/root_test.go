package main

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()

	assert.Equal(t, "protobench", cmd.Use)
	assert.True(t, cmd.SilenceUsage)

	for _, name := range []string{"run", "failed", "check"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, sub.Name())
	}
}

func TestRootCommandFlags(t *testing.T) {
	cmd := NewRootCommand()

	for _, name := range []string{
		"verbose", "namespace", "namespaces", "parallelism", "workdir", "asset-dir", "generator",
		"ready-timeout", "settle-delay", "observation-window", "teardown-grace-period",
		"ssh-host", "ssh-key", "db", "result-dir", "report-bucket",
	} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), name)
	}

	v := cmd.PersistentFlags().Lookup("verbose")
	assert.Equal(t, "v", v.Shorthand)
	assert.Equal(t, "lib/assets", cmd.PersistentFlags().Lookup("asset-dir").DefValue)
	assert.Equal(t, "10m0s", cmd.PersistentFlags().Lookup("ready-timeout").DefValue)
}

func TestNamespaces(t *testing.T) {
	tests := []struct {
		name string
		opts RootOptions
		want []string
	}{
		{"single", RootOptions{Namespace: "default", Parallelism: 1}, []string{"default"}},
		{"derived", RootOptions{Namespace: "bench", Parallelism: 3}, []string{"bench-1", "bench-2", "bench-3"}},
		{"explicit", RootOptions{Namespace: "bench", Namespaces: []string{"a", "b"}, Parallelism: 1}, []string{"a", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.opts.namespaces())
		})
	}
}

func TestInvalidParallelism(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"check", "--parallelism", "0"})

	err := cmd.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid parallelism 0")
}

func TestParallelismMustMatchNamespaces(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"check", "--parallelism", "3", "--namespaces", "a,b"})

	err := cmd.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match")
}

func TestTimingFromFlags(t *testing.T) {
	opts := &RootOptions{}
	cmd := newRootCommand(opts)
	require.NoError(t, cmd.PersistentFlags().Parse([]string{"--ready-timeout=1m", "--teardown-grace-period=5s"}))

	timing := opts.timing()
	assert.Equal(t, time.Minute, timing.ReadyTimeout)
	assert.Equal(t, 5*time.Second, timing.TeardownGracePeriod)
	assert.Equal(t, 10*time.Second, timing.SettleDelay)
	assert.Equal(t, 2*time.Minute, timing.TeardownTimeout)
}

func TestAssetDirs(t *testing.T) {
	opts := &RootOptions{WorkDir: "/bench", AssetDir: "lib/assets"}
	assert.Equal(t, "/bench/lib/assets", opts.localAssetDir())
	assert.Equal(t, "", opts.remoteAssetDir())

	opts.SSHHost = "10.0.0.1"
	opts.SSHWorkDir = "/home/ubuntu/bench"
	assert.Equal(t, "/home/ubuntu/bench/lib/assets", opts.remoteAssetDir())
}

func TestSSHNeedsKey(t *testing.T) {
	opts := &RootOptions{SSHHost: "10.0.0.1"}
	_, _, err := opts.newToolRunner()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--ssh-key")
}
