package build

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Benny93/repograph-go/internal/builder"
	"github.com/Benny93/repograph-go/internal/catalog"
	"github.com/Benny93/repograph-go/internal/contract"
	"github.com/Benny93/repograph-go/internal/graph"
	"github.com/Benny93/repograph-go/internal/storage"
)

const repoTemplate = `{
  "out/%[1]s": [
    {
      "file": {"fileNameBase": "main", "path": "/src/%[1]s/main.py", "extension": "py"},
      "functions": {
        "run": {"min_max_lineno": {"min_lineno": 1, "max_lineno": 2}, "source_code": "def run(): ..."}
      }
    }
  ]
}`

var errExtractorCrashed = errors.New("extractor crashed")

// fakeExtractor writes canned documents into the output directory and
// reads them back the way the real extractor does. Paths starting with
// "broken" fail extraction and paths starting with "empty" produce an
// empty directory listing.
type fakeExtractor struct {
	mu   sync.Mutex
	dirs []string
}

func (f *fakeExtractor) Extract(_ context.Context, inputPath, outputDir string) (*contract.DirectoryInfo, contract.CallGraph, error) {
	f.mu.Lock()
	f.dirs = append(f.dirs, outputDir)
	f.mu.Unlock()

	name := filepath.Base(inputPath)
	var doc string
	switch {
	case strings.HasPrefix(name, "broken"):
		return nil, nil, &ExtractionError{InputPath: inputPath, Err: errExtractorCrashed}
	case strings.HasPrefix(name, "empty"):
		doc = `{}`
	default:
		doc = fmt.Sprintf(repoTemplate, name)
	}
	if err := os.WriteFile(filepath.Join(outputDir, contract.DirectoryInfoFile), []byte(doc), 0o644); err != nil {
		return nil, nil, err
	}
	return ReadOutput(outputDir)
}

func (f *fakeExtractor) outputDirs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.dirs...)
}

type testEnv struct {
	backend   *storage.MemoryBackend
	catalog   *catalog.Catalog
	extractor *fakeExtractor
	service   *Service
}

func setupTestService(t *testing.T, opts ...Option) *testEnv {
	t.Helper()

	cat, err := catalog.Open(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { cat.Close() })

	env := &testEnv{
		backend:   storage.NewMemoryBackend(),
		catalog:   cat,
		extractor: &fakeExtractor{},
	}
	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	env.service = NewService(env.backend, cat, env.extractor, opts...)
	return env
}

func (e *testEnv) repositories(t *testing.T, name string) int {
	t.Helper()
	repos, err := e.backend.GetAllNodesByLabel(context.Background(), name, graph.NodeRepository)
	require.NoError(t, err)
	return len(repos)
}

func TestBuild(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := setupTestService(t)

	res, err := env.service.Build(ctx, Request{
		InputPaths:  []string{"/repos/alpha"},
		GraphName:   "My-Graph",
		DisplayName: "My graph",
		Description: "one repository",
	})
	require.NoError(t, err)
	assert.Equal(t, "my-graph", res.Graph)
	assert.Equal(t, 1, res.Succeeded)
	assert.Zero(t, res.Failed)
	assert.False(t, res.Dropped)
	assert.Equal(t, 1, env.repositories(t, "my-graph"))

	entry, err := env.catalog.Get(ctx, "my-graph")
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusCreated, entry.Status)
	assert.Equal(t, "My graph", entry.DisplayName)
	assert.Equal(t, "one repository", entry.Description)

	for _, dir := range env.extractor.outputDirs() {
		assert.NoDirExists(t, dir)
	}
}

func TestBuildGraphNames(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("Generated", func(t *testing.T) {
		t.Parallel()
		env := setupTestService(t)
		res, err := env.service.Build(ctx, Request{InputPaths: []string{"alpha"}})
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(res.Graph, "g-"))
		_, err = storage.ValidateGraphName(res.Graph)
		assert.NoError(t, err)

		entry, err := env.catalog.Get(ctx, res.Graph)
		require.NoError(t, err)
		assert.Equal(t, res.Graph, entry.DisplayName)
	})

	t.Run("DisplayNameFromGraphName", func(t *testing.T) {
		t.Parallel()
		env := setupTestService(t)
		res, err := env.service.Build(ctx, Request{InputPaths: []string{"alpha"}, GraphName: "Team-Graph"})
		require.NoError(t, err)
		entry, err := env.catalog.Get(ctx, res.Graph)
		require.NoError(t, err)
		assert.Equal(t, "Team-Graph", entry.DisplayName)
	})

	t.Run("Invalid", func(t *testing.T) {
		t.Parallel()
		env := setupTestService(t)
		_, err := env.service.Build(ctx, Request{InputPaths: []string{"alpha"}, GraphName: "1st_graph"})
		var nameErr *storage.InvalidGraphNameError
		assert.True(t, errors.As(err, &nameErr))
		assert.Empty(t, env.extractor.outputDirs())
	})

	t.Run("NoInputs", func(t *testing.T) {
		t.Parallel()
		env := setupTestService(t)
		_, err := env.service.Build(ctx, Request{GraphName: "nothing"})
		assert.Error(t, err)
	})
}

func TestBuildPrune(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := setupTestService(t)
	req := Request{InputPaths: []string{"alpha"}, GraphName: "pruned"}

	_, err := env.service.Build(ctx, req)
	require.NoError(t, err)
	nodes, rels, err := env.backend.Counts(ctx, "pruned")
	require.NoError(t, err)

	t.Run("WithoutPruneAccumulates", func(t *testing.T) {
		_, err := env.service.Build(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, 2, env.repositories(t, "pruned"))
	})

	t.Run("PruneIsIdempotent", func(t *testing.T) {
		req.Prune = true
		for range 2 {
			_, err := env.service.Build(ctx, req)
			require.NoError(t, err)
			n, r, err := env.backend.Counts(ctx, "pruned")
			require.NoError(t, err)
			assert.Equal(t, nodes, n)
			assert.Equal(t, rels, r)
		}
	})
}

func TestBuildPartialFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := setupTestService(t)

	res, err := env.service.Build(ctx, Request{
		InputPaths: []string{"alpha", "broken", "empty"},
		GraphName:  "partial",
	})
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, 2, res.Failed)
	require.Len(t, res.Errors, 2)

	var extractErr *ExtractionError
	assert.True(t, errors.As(err, &extractErr))
	assert.Equal(t, "broken", extractErr.InputPath)
	assert.ErrorIs(t, err, errExtractorCrashed)

	var buildErr *builder.BuildError
	assert.True(t, errors.As(err, &buildErr))

	assert.Equal(t, 1, env.repositories(t, "partial"))
	entry, err := env.catalog.Get(ctx, "partial")
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusCreated, entry.Status)

	for _, dir := range env.extractor.outputDirs() {
		assert.NoDirExists(t, dir)
	}
}

func TestBuildAllFailed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := setupTestService(t)

	res, err := env.service.Build(ctx, Request{InputPaths: []string{"broken"}, GraphName: "doomed"})
	require.Error(t, err)
	assert.True(t, res.Dropped)
	assert.Zero(t, res.Succeeded)

	exists, err := env.backend.HasGraph(ctx, "doomed")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = env.catalog.Get(ctx, "doomed")
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestBuildWorkers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := setupTestService(t, WithWorkers(3))

	paths := []string{"alpha", "beta", "gamma", "delta", "broken-one"}
	res, err := env.service.Build(ctx, Request{InputPaths: paths, GraphName: "parallel"})
	require.Error(t, err)
	assert.Equal(t, 4, res.Succeeded)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 4, env.repositories(t, "parallel"))
	assert.Len(t, env.extractor.outputDirs(), len(paths))
}

func TestBuildWithoutCatalog(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	backend := storage.NewMemoryBackend()
	svc := NewService(backend, nil, &fakeExtractor{}, WithLogger(zaptest.NewLogger(t)))

	res, err := svc.Build(ctx, Request{InputPaths: []string{"alpha"}, GraphName: "bare"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)
}

func TestInspect4py(t *testing.T) {
	t.Parallel()

	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	ctx := context.Background()

	t.Run("WritesOutput", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		script := filepath.Join(dir, "inspect4py")
		body := "#!/bin/sh\n" +
			"cat > \"$4/" + contract.DirectoryInfoFile + "\" <<'EOF'\n" +
			fmt.Sprintf(repoTemplate, "scripted") + "\nEOF\n"
		require.NoError(t, os.WriteFile(script, []byte(body), 0o755))

		x := NewInspect4py(script, []string{"-md"}, 0, zaptest.NewLogger(t))
		info, cg, err := x.Extract(ctx, "/src/scripted", t.TempDir())
		require.NoError(t, err)
		assert.Len(t, info.Directories, 1)
		assert.Nil(t, cg)
	})

	t.Run("NonZeroExit", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		script := filepath.Join(dir, "inspect4py")
		require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\necho boom >&2\nexit 3\n"), 0o755))

		x := NewInspect4py(script, nil, 0, nil)
		_, _, err := x.Extract(ctx, "/src/anything", t.TempDir())
		var extractErr *ExtractionError
		require.True(t, errors.As(err, &extractErr))
		assert.Equal(t, "/src/anything", extractErr.InputPath)
		assert.Contains(t, err.Error(), "boom")
	})

	t.Run("MissingCommand", func(t *testing.T) {
		t.Parallel()
		x := NewInspect4py(filepath.Join(t.TempDir(), "absent"), nil, 0, nil)
		_, _, err := x.Extract(ctx, "/src/anything", t.TempDir())
		var extractErr *ExtractionError
		assert.True(t, errors.As(err, &extractErr))
	})
}
