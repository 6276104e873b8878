package paths

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripPrefix(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "b/c", StripPrefix("a/b/c"))
	assert.Equal(t, "c", StripPrefix("b/c"))
	assert.Equal(t, ".", StripPrefix("c/"))
	assert.Equal(t, "repo/pkg", StripPrefix("./out/repo/pkg"))
}

func TestName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "c", Name("a/b/c"))
	assert.Equal(t, "c", Name("c/"))
}

func TestParent(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "a/b", Parent("a/b/c"))
	assert.Equal(t, "b", Parent("b/c"))
	assert.Equal(t, ".", Parent("c/"))
}

func TestIsRoot(t *testing.T) {
	t.Parallel()

	assert.True(t, IsRoot("b"))
	assert.True(t, IsRoot("c/"))
	assert.False(t, IsRoot("b/c"))
	assert.False(t, IsRoot("."))
}

func TestRoot(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "a", Root("a/b/c"))
	assert.Equal(t, "a", Root("a"))
}

func TestRelative(t *testing.T) {
	t.Parallel()

	t.Run("UnderBase", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, "repo/pkg", Relative("/tmp/out", "/tmp/out/repo/pkg"))
		assert.Equal(t, ".", Relative("/tmp/out", "/tmp/out/"))
	})

	t.Run("FallsBackToStripPrefix", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, "repo/pkg", Relative("", "out/repo/pkg"))
		assert.Equal(t, "repo/pkg", Relative("/elsewhere", "out/repo/pkg"))
	})
}

func TestDirectoryLessOrdersParentsFirst(t *testing.T) {
	t.Parallel()

	t.Run("Nested", func(t *testing.T) {
		t.Parallel()
		dirs := []string{"out/a/b/c", "out/a", "out/a/b", "out/a/z"}
		sort.Slice(dirs, func(i, j int) bool { return DirectoryLess(dirs[i], dirs[j]) })
		assert.Equal(t, []string{"out/a", "out/a/b", "out/a/z", "out/a/b/c"}, dirs)
	})

	t.Run("RootSortingBelowDot", func(t *testing.T) {
		t.Parallel()
		dirs := []string{"+repo/b", "+repo/a/x", "+repo"}
		sort.Slice(dirs, func(i, j int) bool { return DirectoryLess(dirs[i], dirs[j]) })
		assert.Equal(t, []string{"+repo", "+repo/b", "+repo/a/x"}, dirs)
	})
}

func TestSplitObject(t *testing.T) {
	t.Parallel()

	mod, obj := SplitObject("pkg.mod.func")
	assert.Equal(t, "pkg.mod", mod)
	assert.Equal(t, "func", obj)

	mod, obj = SplitObject("print")
	assert.Equal(t, "", mod)
	assert.Equal(t, "print", obj)

	assert.Equal(t, "func", LastSegment("pkg.mod.func"))
	assert.Equal(t, "a.b", JoinCanonical("", "a", "", "b"))
}
