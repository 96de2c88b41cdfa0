package topology

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	processrunner "github.com/Octogonapus/ProtocolBench/process_runner"
	"github.com/Octogonapus/ProtocolBench/testutil"
)

func TestDeriveEdgeCount(t *testing.T) {
	cases := []struct{ nodes, edges int }{
		{1, 1}, {2, 3}, {6, 9}, {7, 10}, {8, 12}, {10, 15}, {24, 36}, {25, 37},
	}
	for _, c := range cases {
		assert.Equal(t, c.edges, DeriveEdgeCount(c.nodes), "nodes=%d", c.nodes)
	}
	for n := 0; n < 200; n++ {
		assert.Equal(t, n+n/2, DeriveEdgeCount(n))
	}
}

func TestSizeNames(t *testing.T) {
	s := SizeForNodes(6)
	assert.Equal(t, Size{Nodes: 6, Edges: 9}, s)
	assert.Equal(t, "6-9", s.Name())
	assert.Equal(t, "6-9.graph.txt", s.ArtifactFileName())
	assert.Error(t, Size{Nodes: 0, Edges: 0}.Validate())
}

func TestDistinct(t *testing.T) {
	in := []Size{SizeForNodes(10), SizeForNodes(6), SizeForNodes(10), SizeForNodes(8), SizeForNodes(6)}
	assert.Equal(t, []Size{SizeForNodes(6), SizeForNodes(8), SizeForNodes(10)}, Distinct(in))
	// input is not modified
	assert.Equal(t, SizeForNodes(10), in[0])
}

func rumorSweepSizes() []Size {
	sizes := []Size{}
	for n := 6; n <= 24; n += 2 {
		sizes = append(sizes, SizeForNodes(n))
	}
	return sizes
}

func TestRenderIndexGolden(t *testing.T) {
	doc, err := RenderIndex(rumorSweepSizes())
	require.NoError(t, err)

	g := goldie.New(t)
	g.Assert(t, "rumor_sweep_index", doc)
}

func TestRenderIndexReferencesEachArtifactOnce(t *testing.T) {
	sizes := []Size{SizeForNodes(12), SizeForNodes(6), SizeForNodes(12), SizeForNodes(7)}
	doc, err := RenderIndex(sizes)
	require.NoError(t, err)

	text := string(doc)
	assert.Contains(t, text, "'maxN': 12,")
	for _, s := range Distinct(sizes) {
		assert.Equal(t, 1, strings.Count(text, "'./"+s.ArtifactFileName()+"'"), s.Name())
	}
	assert.Equal(t, 3, strings.Count(text, "importstr"))
}

func TestRenderIndexRejectsEmpty(t *testing.T) {
	_, err := RenderIndex(nil)
	require.Error(t, err)
}

func TestWriteIndexFailsOnMissingArtifact(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "6-9.graph.txt"), []byte("1 2\n"), 0o644))

	_, err := WriteIndex(dir, []Size{SizeForNodes(6), SizeForNodes(8)})
	require.Error(t, err)

	var missing *MissingArtifactsError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, []string{filepath.Join(dir, "8-12.graph.txt")}, missing.Paths)

	_, statErr := os.Stat(filepath.Join(dir, IndexFileName))
	assert.True(t, os.IsNotExist(statErr), "no partial index may be written")
}

func TestWriteIndex(t *testing.T) {
	dir := t.TempDir()
	sizes := []Size{SizeForNodes(6), SizeForNodes(8)}
	for _, s := range sizes {
		require.NoError(t, os.WriteFile(filepath.Join(dir, s.ArtifactFileName()), []byte("1 2\n"), 0o644))
	}

	p, err := WriteIndex(dir, sizes)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, IndexFileName), p)

	buf, err := os.ReadFile(p)
	require.NoError(t, err)
	want, err := RenderIndex(sizes)
	require.NoError(t, err)
	assert.Equal(t, string(want), string(buf))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 3, "temp files must not be left behind")
}

func TestGeneratorEnsure(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "assets")
	runner := testutil.FakeGraphGenerator(t)
	g := NewGenerator(&GeneratorInput{Runner: runner, AssetDir: dir})

	generated, err := g.Ensure(context.Background(), SizeForNodes(6))
	require.NoError(t, err)
	assert.True(t, generated)

	require.Len(t, runner.Calls(), 1)
	call := runner.Calls()[0]
	assert.Equal(t, "go", call.Name)
	assert.Equal(t, []string{
		"run", "../../cmd/graphgen/main.go",
		"--graph=" + filepath.Join(dir, "6-9.graph.txt.partial"), "--m=9", "--n=6", "--create",
	}, call.Args)
	assert.FileExists(t, filepath.Join(dir, "6-9.graph.txt"))
	assert.NoFileExists(t, filepath.Join(dir, "6-9.graph.txt.partial"))
}

func TestGeneratorEnsureIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "6-9.graph.txt")
	require.NoError(t, os.WriteFile(existing, []byte("original\n"), 0o644))

	runner := testutil.FakeGraphGenerator(t)
	g := NewGenerator(&GeneratorInput{Runner: runner, AssetDir: dir})

	generated, err := g.Ensure(context.Background(), SizeForNodes(6))
	require.NoError(t, err)
	assert.False(t, generated)
	assert.Empty(t, runner.Calls())

	buf, err := os.ReadFile(existing)
	require.NoError(t, err)
	assert.Equal(t, "original\n", string(buf))
}

func TestGeneratorEnsureAllGeneratesEachSizeOnce(t *testing.T) {
	runner := testutil.FakeGraphGenerator(t)
	g := NewGenerator(&GeneratorInput{Runner: runner, AssetDir: t.TempDir()})

	err := g.EnsureAll(context.Background(), []Size{SizeForNodes(6), SizeForNodes(8), SizeForNodes(6)})
	require.NoError(t, err)
	assert.Len(t, runner.Calls(), 2)

	err = g.EnsureAll(context.Background(), []Size{SizeForNodes(6), SizeForNodes(8)})
	require.NoError(t, err)
	assert.Len(t, runner.Calls(), 2)
}

func TestGeneratorFailure(t *testing.T) {
	runner := &testutil.FakeRunner{
		Handler: func(context.Context, *processrunner.Command) *processrunner.Result {
			return testutil.Exit(1, "build failed")
		},
	}
	g := NewGenerator(&GeneratorInput{Runner: runner, AssetDir: t.TempDir()})

	_, err := g.Ensure(context.Background(), SizeForNodes(6))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "generating topology 6-9 failed")
}

func TestGeneratorSilentFailure(t *testing.T) {
	// exits 0 but writes nothing
	g := NewGenerator(&GeneratorInput{Runner: &testutil.FakeRunner{}, AssetDir: t.TempDir(), Command: []string{"graphgen"}})

	_, err := g.Ensure(context.Background(), SizeForNodes(8))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "was not written")
}

func TestGeneratorFailureLeavesNoArtifact(t *testing.T) {
	dir := t.TempDir()
	calls := 0
	runner := &testutil.FakeRunner{
		Handler: func(_ context.Context, cmd *processrunner.Command) *processrunner.Result {
			calls++
			for _, a := range cmd.Args {
				if p, ok := strings.CutPrefix(a, "--graph="); ok {
					require.NoError(t, os.WriteFile(p, []byte("1 2\n2"), 0o644))
				}
			}
			if calls == 1 {
				return testutil.Exit(1, "killed")
			}
			return nil
		},
	}
	g := NewGenerator(&GeneratorInput{Runner: runner, AssetDir: dir})

	generated, err := g.Ensure(context.Background(), SizeForNodes(6))
	require.Error(t, err)
	assert.True(t, generated)
	assert.NoFileExists(t, filepath.Join(dir, "6-9.graph.txt"))

	_, err = WriteIndex(dir, []Size{SizeForNodes(6)})
	var missing *MissingArtifactsError
	require.ErrorAs(t, err, &missing)

	// the next sweep generates it again
	generated, err = g.Ensure(context.Background(), SizeForNodes(6))
	require.NoError(t, err)
	assert.True(t, generated)
	assert.Equal(t, 2, calls)
	assert.FileExists(t, filepath.Join(dir, "6-9.graph.txt"))
}

func TestGeneratorRelativeAssetDir(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { os.Chdir(wd) })
	require.NoError(t, os.MkdirAll("proj", os.ModePerm))

	// writes a graph to the --graph argument, like the real generator
	script := `for a in "$0" "$@"; do case "$a" in --graph=*) printf '1 2\n' > "${a#--graph=}";; esac; done`
	g := NewGenerator(&GeneratorInput{
		Runner:   processrunner.NewLocalRunner("proj"),
		AssetDir: filepath.Join("proj", "lib", "assets"),
		Command:  []string{"sh", "-c", script},
	})

	generated, err := g.Ensure(context.Background(), SizeForNodes(6))
	require.NoError(t, err)
	assert.True(t, generated)
	assert.FileExists(t, filepath.Join("proj", "lib", "assets", "6-9.graph.txt"))
	assert.NoDirExists(t, filepath.Join("proj", "proj"))
	assert.True(t, filepath.IsAbs(g.AssetDir()))
}
