// Package ingestion keeps named graphs in step with the repositories they
// were built from.
package ingestion

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
)

// Patterns ignored in every repository, in addition to its .gitignore.
var defaultIgnorePatterns = []string{
	".git/",
	".hg/",
	"node_modules/",
	"__pycache__/",
	".venv/",
	"venv/",
	".tox/",
	".eggs/",
	"*.egg-info/",
	".pytest_cache/",
	".mypy_cache/",
	"build/",
	"dist/",
	"htmlcov/",
	".coverage",
	"*.pyc",
	"*.pyo",
	"*.pyd",
	".DS_Store",
}

// File names outside .py sources that change what a build extracts.
var relevantPrefixes = []string{"readme", "license", "requirements"}

var relevantNames = map[string]bool{
	"setup.py":       true,
	"setup.cfg":      true,
	"pyproject.toml": true,
}

// isRelevantFile reports whether a change to the named file can alter the
// graph built from its repository.
func isRelevantFile(name string) bool {
	lower := strings.ToLower(filepath.Base(name))
	if strings.HasSuffix(lower, ".py") || relevantNames[lower] {
		return true
	}
	for _, p := range relevantPrefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return false
}

// loadGitignore reads the patterns of the .gitignore at the repository
// root. A missing file yields no patterns.
func loadGitignore(repoPath string) ([]gitignore.Pattern, error) {
	content, err := os.ReadFile(filepath.Join(repoPath, ".gitignore"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var patterns []gitignore.Pattern
	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, gitignore.ParsePattern(line, nil))
	}
	return patterns, nil
}

// newIgnoreMatcher combines the default patterns with the repository's
// own .gitignore.
func newIgnoreMatcher(repoPath string) (gitignore.Matcher, error) {
	patterns := make([]gitignore.Pattern, 0, len(defaultIgnorePatterns))
	for _, p := range defaultIgnorePatterns {
		patterns = append(patterns, gitignore.ParsePattern(p, nil))
	}
	own, err := loadGitignore(repoPath)
	if err != nil {
		return nil, err
	}
	return gitignore.NewMatcher(append(patterns, own...)), nil
}

// ignored reports whether path, inside repoPath, is matched by m.
func ignored(m gitignore.Matcher, repoPath, path string, isDir bool) bool {
	rel, err := filepath.Rel(repoPath, path)
	if err != nil || rel == "." {
		return false
	}
	if strings.HasPrefix(rel, "..") {
		return true
	}
	return m.Match(splitPath(rel), isDir)
}

// watchDirs returns repoPath and every directory below it that is not
// ignored.
func watchDirs(repoPath string, m gitignore.Matcher) ([]string, error) {
	var dirs []string
	err := filepath.WalkDir(repoPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if ignored(m, repoPath, path, true) {
			return filepath.SkipDir
		}
		dirs = append(dirs, path)
		return nil
	})
	return dirs, err
}

func splitPath(p string) []string {
	return strings.Split(filepath.ToSlash(p), "/")
}
