package ingestion

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
	"go.uber.org/zap"
)

// DefaultDebounce is how long the watcher waits after the last change
// before rebuilding.
const DefaultDebounce = 2 * time.Second

// RebuildFunc rebuilds a graph from scratch.
type RebuildFunc func(ctx context.Context) error

// WatchOption configures a Watcher.
type WatchOption func(*Watcher)

// WithDebounce overrides DefaultDebounce.
func WithDebounce(d time.Duration) WatchOption {
	return func(w *Watcher) { w.debounce = d }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) WatchOption {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

type watchedRepo struct {
	root    string
	matcher gitignore.Matcher
}

// Watcher observes the repositories a graph was built from.
type Watcher struct {
	graphName string
	repos     []watchedRepo
	fs        *fsnotify.Watcher
	debounce  time.Duration
	logger    *zap.Logger
}

// NewWatcher starts watching every non-ignored directory of the given
// repositories. Call Close when done.
func NewWatcher(graphName string, repoPaths []string, opts ...WatchOption) (*Watcher, error) {
	if len(repoPaths) == 0 {
		return nil, errors.New("no repositories to watch")
	}

	w := &Watcher{graphName: graphName, debounce: DefaultDebounce, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.Named("watch")

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	w.fs = fw

	for _, p := range repoPaths {
		root, err := filepath.Abs(p)
		if err != nil {
			fw.Close()
			return nil, err
		}
		m, err := newIgnoreMatcher(root)
		if err != nil {
			fw.Close()
			return nil, fmt.Errorf("loading ignore patterns of %s: %w", root, err)
		}
		dirs, err := watchDirs(root, m)
		if err != nil {
			fw.Close()
			return nil, fmt.Errorf("setting up watcher: %w", err)
		}
		for _, d := range dirs {
			if err := fw.Add(d); err != nil {
				fw.Close()
				return nil, fmt.Errorf("watching %s: %w", d, err)
			}
		}
		w.repos = append(w.repos, watchedRepo{root: root, matcher: m})
	}

	// Longest root first, so nested repositories win.
	sort.Slice(w.repos, func(i, j int) bool { return len(w.repos[i].root) > len(w.repos[j].root) })
	return w, nil
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.fs.Close()
}

// Run calls rebuild once changes have settled for the debounce interval.
// It blocks until ctx is cancelled. A failing rebuild is logged and does
// not stop the watcher.
func (w *Watcher) Run(ctx context.Context, rebuild RebuildFunc) error {
	changed := make(map[string]bool)
	timer := time.NewTimer(w.debounce)
	timer.Stop()

	w.logger.Info("Watching for changes", zap.String("graph", w.graphName), zap.Int("repositories", len(w.repos)))

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()

		case event, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if !w.handle(event) {
				continue
			}
			changed[event.Name] = true
			timer.Reset(w.debounce)

		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("Watch error", zap.Error(err))

		case <-timer.C:
			if len(changed) == 0 {
				continue
			}
			w.logger.Info("Rebuilding graph", zap.String("graph", w.graphName), zap.Int("changed", len(changed)))
			if err := rebuild(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				w.logger.Error("Rebuild failed", zap.String("graph", w.graphName), zap.Error(err))
			}
			changed = make(map[string]bool)
		}
	}
}

// handle starts watching newly created directories and reports whether the
// event should trigger a rebuild.
func (w *Watcher) handle(event fsnotify.Event) bool {
	if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return false
	}
	repo := w.repoOf(event.Name)
	if repo == nil {
		return false
	}

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if ignored(repo.matcher, repo.root, event.Name, true) {
				return false
			}
			dirs, err := watchDirs(event.Name, repo.matcher)
			if err != nil {
				w.logger.Warn("Cannot watch new directory", zap.String("dir", event.Name), zap.Error(err))
				return false
			}
			for _, d := range dirs {
				if err := w.fs.Add(d); err != nil {
					w.logger.Warn("Cannot watch new directory", zap.String("dir", d), zap.Error(err))
				}
			}
			return false
		}
	}

	// A removed directory can no longer be stat'ed; its contents went with it.
	if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		if filepath.Ext(event.Name) == "" && !ignored(repo.matcher, repo.root, event.Name, true) {
			return true
		}
	}

	return shouldWatchFile(repo, event.Name)
}

func (w *Watcher) repoOf(path string) *watchedRepo {
	for i := range w.repos {
		r := &w.repos[i]
		if path == r.root || strings.HasPrefix(path, r.root+string(filepath.Separator)) {
			return r
		}
	}
	return nil
}

// shouldWatchFile reports whether a change to path should trigger a
// rebuild of the repository.
func shouldWatchFile(repo *watchedRepo, path string) bool {
	if ignored(repo.matcher, repo.root, path, false) {
		return false
	}
	return isRelevantFile(path)
}

// WatchRepos watches repoPaths and calls rebuild whenever they change,
// until ctx is cancelled.
func WatchRepos(ctx context.Context, graphName string, repoPaths []string, rebuild RebuildFunc, opts ...WatchOption) error {
	w, err := NewWatcher(graphName, repoPaths, opts...)
	if err != nil {
		return err
	}
	defer w.Close()

	err = w.Run(ctx, rebuild)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
