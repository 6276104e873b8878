package ingestion

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const testDebounce = 100 * time.Millisecond

func setupTestRepo(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		".gitignore":         "*.log\ngenerated/\n",
		"main.py":            "def main(): ...\n",
		"pkg/__init__.py":    "",
		"generated/stubs.py": "",
		".venv/lib/site.py":  "",
	}
	for name, content := range files {
		path := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return root
}

// startWatcher runs a watcher over root and sends on the returned channel
// for every rebuild.
func startWatcher(t *testing.T, root string, rebuild func() error) <-chan struct{} {
	t.Helper()

	w, err := NewWatcher("watched", []string{root}, WithDebounce(testDebounce), WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	calls := make(chan struct{}, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx, func(context.Context) error {
			calls <- struct{}{}
			return rebuild()
		})
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		w.Close()
	})
	return calls
}

func waitRebuild(t *testing.T, calls <-chan struct{}) bool {
	t.Helper()
	select {
	case <-calls:
		return true
	case <-time.After(2 * time.Second):
		return false
	}
}

func TestWatcher(t *testing.T) {
	t.Parallel()

	t.Run("RebuildsOnSourceChange", func(t *testing.T) {
		t.Parallel()
		root := setupTestRepo(t)
		calls := startWatcher(t, root, func() error { return nil })

		require.NoError(t, os.WriteFile(filepath.Join(root, "main.py"), []byte("def main(): pass\n"), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(root, "pkg", "util.py"), []byte(""), 0o644))
		assert.True(t, waitRebuild(t, calls))

		// Both writes fall in one debounce window.
		select {
		case <-calls:
			t.Fatal("changes were not batched")
		case <-time.After(4 * testDebounce):
		}
	})

	t.Run("IgnoresIrrelevantChanges", func(t *testing.T) {
		t.Parallel()
		root := setupTestRepo(t)
		calls := startWatcher(t, root, func() error { return nil })

		require.NoError(t, os.WriteFile(filepath.Join(root, "debug.log"), []byte("x"), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(root, ".venv", "lib", "site.py"), []byte("x"), 0o644))
		assert.False(t, waitRebuild(t, calls))
	})

	t.Run("WatchesNewDirectories", func(t *testing.T) {
		t.Parallel()
		root := setupTestRepo(t)
		calls := startWatcher(t, root, func() error { return nil })

		dir := filepath.Join(root, "newpkg")
		require.NoError(t, os.Mkdir(dir, 0o755))
		time.Sleep(2 * testDebounce)
		require.NoError(t, os.WriteFile(filepath.Join(dir, "mod.py"), []byte(""), 0o644))
		assert.True(t, waitRebuild(t, calls))
	})

	t.Run("SurvivesFailedRebuild", func(t *testing.T) {
		t.Parallel()
		root := setupTestRepo(t)
		var n atomic.Int32
		calls := startWatcher(t, root, func() error {
			n.Add(1)
			return errors.New("extractor missing")
		})

		require.NoError(t, os.WriteFile(filepath.Join(root, "main.py"), []byte("a"), 0o644))
		require.True(t, waitRebuild(t, calls))
		time.Sleep(2 * testDebounce)
		require.NoError(t, os.WriteFile(filepath.Join(root, "main.py"), []byte("b"), 0o644))
		require.True(t, waitRebuild(t, calls))
		assert.EqualValues(t, 2, n.Load())
	})
}

func TestWatchRepos(t *testing.T) {
	t.Parallel()

	t.Run("StopsOnCancel", func(t *testing.T) {
		t.Parallel()
		root := setupTestRepo(t)
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() {
			done <- WatchRepos(ctx, "watched", []string{root}, func(context.Context) error { return nil })
		}()
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("watcher did not stop")
		}
	})

	t.Run("NoRepositories", func(t *testing.T) {
		t.Parallel()
		err := WatchRepos(context.Background(), "watched", nil, nil)
		assert.Error(t, err)
	})

	t.Run("MissingRepository", func(t *testing.T) {
		t.Parallel()
		err := WatchRepos(context.Background(), "watched", []string{filepath.Join(t.TempDir(), "absent")}, nil)
		assert.Error(t, err)
	})
}

func TestIgnoreMatcher(t *testing.T) {
	t.Parallel()

	root := setupTestRepo(t)
	m, err := newIgnoreMatcher(root)
	require.NoError(t, err)

	tests := []struct {
		path  string
		isDir bool
		want  bool
	}{
		{"main.py", false, false},
		{"debug.log", false, true},
		{"generated", true, true},
		{".venv", true, true},
		{"__pycache__", true, true},
		{"pkg/__pycache__", true, true},
		{"pkg/mod.pyc", false, true},
		{"pkg", true, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ignored(m, root, filepath.Join(root, tt.path), tt.isDir), tt.path)
	}
	assert.True(t, ignored(m, root, filepath.Join(filepath.Dir(root), "elsewhere.py"), false))

	dirs, err := watchDirs(root, m)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{root, filepath.Join(root, "pkg")}, dirs)

	t.Run("NoGitignore", func(t *testing.T) {
		patterns, err := loadGitignore(t.TempDir())
		require.NoError(t, err)
		assert.Empty(t, patterns)
	})
}

func TestIsRelevantFile(t *testing.T) {
	t.Parallel()

	for name, want := range map[string]bool{
		"mod.py":           true,
		"README.md":        true,
		"LICENSE":          true,
		"requirements.txt": true,
		"setup.cfg":        true,
		"pyproject.toml":   true,
		"notes.txt":        false,
		"image.png":        false,
		"main.go":          false,
	} {
		assert.Equal(t, want, isRelevantFile(name), name)
	}
}
