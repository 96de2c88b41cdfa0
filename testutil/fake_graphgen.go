package testutil

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	processrunner "github.com/Octogonapus/ProtocolBench/process_runner"
)

// A runner that behaves like the graph generator: it writes the file named by --graph.
func FakeGraphGenerator(t *testing.T) *FakeRunner {
	return &FakeRunner{
		Handler: func(_ context.Context, cmd *processrunner.Command) *processrunner.Result {
			for _, a := range cmd.Args {
				if p, ok := strings.CutPrefix(a, "--graph="); ok {
					require.NoError(t, os.WriteFile(p, []byte("1 2\n2 3\n"), 0o644))
				}
			}
			return nil
		},
	}
}
