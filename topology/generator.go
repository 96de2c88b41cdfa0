package topology

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	processrunner "github.com/Octogonapus/ProtocolBench/process_runner"
)

// The graph generator of the protocol repo, run from the benchmark directory.
var DefaultGeneratorCommand = []string{"go", "run", "../../cmd/graphgen/main.go"}

type GeneratorInput struct {
	Runner processrunner.ProcessRunner

	// Directory holding the artifacts and the index.
	AssetDir string

	// Program and leading arguments of the external generator. The size flags are appended.
	Command []string

	Timeout time.Duration
}

type Generator struct {
	input *GeneratorInput
}

func NewGenerator(input *GeneratorInput) *Generator {
	if len(input.Command) == 0 {
		input.Command = DefaultGeneratorCommand
	}
	if input.Timeout == 0 {
		input.Timeout = 5 * time.Minute
	}
	// the generator may run in another directory than ours
	if abs, err := filepath.Abs(input.AssetDir); err == nil {
		input.AssetDir = abs
	}
	return &Generator{input: input}
}

func (g *Generator) AssetDir() string {
	return g.input.AssetDir
}

func (g *Generator) ArtifactPath(s Size) string {
	return filepath.Join(g.input.AssetDir, s.ArtifactFileName())
}

// Makes sure the artifact for the size exists. An existing non-empty artifact is never regenerated.
// The generator writes to a partial file that is moved into place only on success, so a failed or
// killed run never leaves an artifact behind. Reports whether the generator was run.
func (g *Generator) Ensure(ctx context.Context, s Size) (bool, error) {
	if err := s.Validate(); err != nil {
		return false, err
	}

	p := g.ArtifactPath(s)
	if artifactExists(p) {
		slog.Debug("topology artifact already exists", slog.String("size", s.Name()), slog.String("path", p))
		return false, nil
	}

	err := os.MkdirAll(g.input.AssetDir, os.ModePerm)
	if err != nil {
		return false, err
	}

	partial := p + ".partial"
	os.Remove(partial)
	defer os.Remove(partial)

	slog.Info("generating topology", slog.Int("nodes", s.Nodes), slog.Int("edges", s.Edges))
	args := append([]string{}, g.input.Command[1:]...)
	args = append(args,
		"--graph="+partial,
		"--m="+strconv.Itoa(s.Edges),
		"--n="+strconv.Itoa(s.Nodes),
		"--create",
	)
	res := g.input.Runner.Run(ctx, &processrunner.Command{
		Name:    g.input.Command[0],
		Args:    args,
		Timeout: g.input.Timeout,
	})
	if res.Failed() {
		slog.Error("topology generation failed", slog.String("size", s.Name()), slog.String("command output", res.CombinedOutput()))
		return true, fmt.Errorf("generating topology %s failed: %w", s.Name(), res.Err())
	}

	// The generator only logs its own failures, so its exit status alone proves nothing
	if !artifactExists(partial) {
		return true, fmt.Errorf("generating topology %s failed: %s was not written", s.Name(), p)
	}
	err = os.Rename(partial, p)
	if err != nil {
		return true, fmt.Errorf("failed to move topology %s into place: %w", s.Name(), err)
	}
	return true, nil
}

// Ensures every size in turn. Stops at the first failure.
func (g *Generator) EnsureAll(ctx context.Context, sizes []Size) error {
	for _, s := range Distinct(sizes) {
		_, err := g.Ensure(ctx, s)
		if err != nil {
			return err
		}
	}
	return nil
}

func artifactExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}
