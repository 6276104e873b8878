package builder

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Benny93/repograph-go/internal/contract"
	"github.com/Benny93/repograph-go/internal/graph"
)

func TestBuildSingleFunctionRepository(t *testing.T) {
	t.Parallel()

	backend, s := runBuild(t, singleFunctionRepo, "")

	assert.Equal(t, "repo", s.result.Repository)
	assert.Equal(t, 1, countLabel(t, backend, graph.NodeRepository))
	assert.Equal(t, 1, countLabel(t, backend, graph.NodeModule))
	assert.Equal(t, 1, countLabel(t, backend, graph.NodeFunction))
	assert.Equal(t, 0, countLabel(t, backend, graph.NodeDocstring))

	nodes, rels, err := backend.Counts(context.Background(), testGraph)
	require.NoError(t, err)
	assert.Equal(t, 3, nodes)
	assert.Equal(t, 2, rels)
	assert.Equal(t, 3, s.result.Nodes)
	assert.Equal(t, 2, s.result.Relationships)

	assert.Equal(t, int64(1), count(t, backend,
		`MATCH (r:Repository)-[:Contains]->(m:Module) RETURN COUNT(m) AS n`, nil))
	assert.Equal(t, int64(1), count(t, backend,
		`MATCH (m:Module)-[:HasFunction]->(f:Function {name: 'foo'}) RETURN COUNT(f) AS n`, nil))

	fns, err := backend.GetAllNodesByLabel(context.Background(), testGraph, graph.NodeFunction)
	require.NoError(t, err)
	fn, err := graph.DecodeNode(fns[0])
	require.NoError(t, err)
	foo := fn.(*graph.Function)
	assert.Equal(t, "main.foo", foo.CanonicalName)
	assert.Equal(t, graph.KindFunction, foo.Type)
	require.NotNil(t, foo.MinLineNumber)
	assert.Equal(t, 1, *foo.MinLineNumber)
	assert.JSONEq(t, `{"type": "FunctionDef"}`, foo.AST)
	assert.False(t, foo.Inferred)
}

func TestModulesKeepExtractionPath(t *testing.T) {
	t.Parallel()

	backend, s := runBuild(t, singleFunctionRepo, "")

	mods, err := backend.GetAllNodesByLabel(context.Background(), testGraph, graph.NodeModule)
	require.NoError(t, err)
	require.Len(t, mods, 1)
	n, err := graph.DecodeNode(mods[0])
	require.NoError(t, err)
	m := n.(*graph.Module)
	assert.Equal(t, "/src/repo/main.py", m.Path)
	assert.Equal(t, "/src/repo", m.ParentPath)
	assert.NotNil(t, s.moduleForFile("/src/repo/main.py"))
}

func TestBuildRejectsEmptyInput(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	backend := setupBackend(t)
	tx, err := backend.Begin(ctx, testGraph)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback(ctx) }()

	t.Run("NilDirectoryInfo", func(t *testing.T) {
		_, err := New().Build(ctx, tx, Input{})
		var buildErr *BuildError
		require.True(t, errors.As(err, &buildErr))
	})

	t.Run("OnlyReservedKeys", func(t *testing.T) {
		in := decodeInput(t, `{"requirements": {"numpy": "1.0"}, "readme_files": {}}`, "")
		_, err := New().Build(ctx, tx, in)
		var buildErr *BuildError
		require.True(t, errors.As(err, &buildErr))
		assert.Contains(t, err.Error(), "directory info is empty")
	})

	t.Run("NothingWritten", func(t *testing.T) {
		require.NoError(t, tx.Commit(ctx))
		has, err := backend.HasNodes(ctx, testGraph)
		require.NoError(t, err)
		assert.False(t, has)
	})
}

func TestBuildPublicEntryPoint(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	backend := setupBackend(t)
	tx, err := backend.Begin(ctx, testGraph)
	require.NoError(t, err)

	var phases []string
	b := New(WithProgress(func(phase string, progress float64) {
		if progress == 0 {
			phases = append(phases, phase)
		}
	}))
	res, err := b.Build(ctx, tx, decodeInput(t, singleFunctionRepo, ""))
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	assert.Equal(t, "repo", res.Repository)
	assert.Equal(t, 3, res.Nodes)
	assert.Equal(t, 0, res.Inferred)
	assert.Equal(t, []string{
		"Parsing repository", "Parsing directories", "Resolving imports",
		"Resolving base classes", "Parsing call graph", "Parsing READMEs",
	}, phases)
}

func TestCanonicalNaming(t *testing.T) {
	t.Parallel()

	backend, s := runBuild(t, packageRepo, "")

	t.Run("Packages", func(t *testing.T) {
		pkg, ok := s.directories["repo/pkg"].(*graph.Package)
		require.True(t, ok)
		assert.Equal(t, "pkg", pkg.CanonicalName)

		sub, ok := s.directories["repo/pkg/sub"].(*graph.Package)
		require.True(t, ok)
		assert.Equal(t, "pkg.sub", sub.CanonicalName)
		assert.Equal(t, "pkg", sub.ParentPackage)

		_, ok = s.directories["repo/scripts"].(*graph.Directory)
		assert.True(t, ok)
	})

	t.Run("Modules", func(t *testing.T) {
		assert.Equal(t, "pkg.core", s.modules["/src/repo/pkg/core.py"].CanonicalName)
		assert.Equal(t, "pkg.sub.util", s.modules["/src/repo/pkg/sub/util.py"].CanonicalName)
		assert.Equal(t, "run", s.modules["/src/repo/scripts/run.py"].CanonicalName)
		assert.Equal(t, "setup", s.modules["/src/repo/setup.py"].CanonicalName)
	})

	t.Run("Idempotent", func(t *testing.T) {
		first := s.canonicalPackageName("repo/pkg/sub")
		assert.Equal(t, "pkg.sub", first)
		assert.Equal(t, first, s.canonicalPackageName("repo/pkg/sub"))
	})

	t.Run("DualKeyLookup", func(t *testing.T) {
		for key, m := range s.modules {
			assert.Same(t, m, s.modules[m.Path], key)
			assert.Same(t, m, s.modules[m.CanonicalName], key)
		}
		assert.Len(t, s.modules, 2*countLabel(t, backend, graph.NodeModule))
	})

	t.Run("Tree", func(t *testing.T) {
		got := pairs(t, backend, `MATCH (p)-[:Contains]->(c) WHERE c.path STARTS WITH 'repo/' RETURN p.name AS parent, c.name AS child`)
		assert.ElementsMatch(t, []string{"repo->pkg", "pkg->sub", "repo->scripts"}, got)
	})
}

func TestRootPackage(t *testing.T) {
	t.Parallel()

	_, s := runBuild(t, rootPackageRepo, "")

	repo, ok := s.directories["repo"].(*graph.Repository)
	require.True(t, ok)
	assert.True(t, repo.IsRootPackage)
	assert.Equal(t, "repo.app", s.modules["/src/repo/app.py"].CanonicalName)
	assert.Equal(t, "repo.pkg", s.directories["repo/pkg"].(*graph.Package).CanonicalName)
	assert.Equal(t, "repo.pkg.__init__", s.modules["/src/repo/pkg/__init__.py"].CanonicalName)
}

func TestDirectoryOrdering(t *testing.T) {
	t.Parallel()

	file := func(dir, name string) string {
		return `[{"file": {"fileNameBase": "` + name + `", "path": "/src/` + dir + `/` + name + `.py", "extension": "py"}}]`
	}

	t.Run("AnyInputOrder", func(t *testing.T) {
		t.Parallel()
		info := `{
			"out/repo/a/b/c": ` + file("repo/a/b/c", "c") + `,
			"out/repo": ` + file("repo", "root") + `,
			"out/repo/a": ` + file("repo/a", "a") + `,
			"out/repo/a/b": ` + file("repo/a/b", "b") + `
		}`
		backend, _ := runBuild(t, info, "")

		assert.Equal(t, 3, countLabel(t, backend, graph.NodeDirectory))
		got := pairs(t, backend, `MATCH (p)-[:Contains]->(c:Directory) RETURN p.name AS parent, c.name AS child`)
		assert.ElementsMatch(t, []string{"repo->a", "a->b", "b->c"}, got)
		assert.Equal(t, int64(3), count(t, backend,
			`MATCH (d:Directory)<-[:Contains]-(p) RETURN COUNT(p) AS n`, nil))
	})

	t.Run("MissingAncestors", func(t *testing.T) {
		t.Parallel()
		info := `{"out/repo/x/y/z": ` + file("repo/x/y/z", "deep") + `}`
		backend, s := runBuild(t, info, "")

		assert.Equal(t, "repo", s.repoName)
		assert.Equal(t, 1, countLabel(t, backend, graph.NodeRepository))
		assert.Equal(t, 3, countLabel(t, backend, graph.NodeDirectory))
		got := pairs(t, backend, `MATCH (p)-[:Contains]->(c:Directory) RETURN p.name AS parent, c.name AS child`)
		assert.ElementsMatch(t, []string{"repo->x", "x->y", "y->z"}, got)
	})

	t.Run("RootNameSortsBelowDot", func(t *testing.T) {
		t.Parallel()
		dirs := contract.OrderedMap[[]contract.FileRecord]{
			{Key: "out/+repo/a"}, {Key: "out/+repo/a/b"}, {Key: "out/+repo"},
		}
		var got []string
		for _, d := range sortedDirectories(dirs, "out") {
			got = append(got, d.path)
		}
		assert.Equal(t, []string{"+repo", "+repo/a", "+repo/a/b"}, got)

		info := `{
			"out/+repo/a": ` + file("+repo/a", "a") + `,
			"out/+repo": ` + file("+repo", "root") + `
		}`
		backend, s := runBuild(t, info, "")
		assert.Equal(t, "+repo", s.repoName)
		assert.Equal(t, 1, countLabel(t, backend, graph.NodeDirectory))
		assert.Equal(t, []string{"+repo->a"},
			pairs(t, backend, `MATCH (p)-[:Contains]->(c:Directory) RETURN p.name AS parent, c.name AS child`))
	})
}

func TestDocstringsAndSignatures(t *testing.T) {
	t.Parallel()

	t.Run("WithoutSummarizer", func(t *testing.T) {
		t.Parallel()
		backend, _ := runBuild(t, docRepo, "")

		assert.Equal(t, 2, countLabel(t, backend, graph.NodeDocstring))
		assert.Equal(t, 2, countLabel(t, backend, graph.NodeDocstringArgument))
		assert.Equal(t, 1, countLabel(t, backend, graph.NodeDocstringReturnValue))
		assert.Equal(t, 1, countLabel(t, backend, graph.NodeDocstringRaises))
		assert.Equal(t, int64(4), count(t, backend,
			`MATCH (d:Docstring)-[:Describes]->(p) RETURN COUNT(p) AS n`, nil))
		assert.Equal(t, int64(1), count(t, backend,
			`MATCH (d:Docstring)-[:Documents]->(c:Class {name: 'Documented'}) RETURN COUNT(d) AS n`, nil))
		assert.Equal(t, int64(0), count(t, backend,
			`MATCH (d:Docstring)-[:Documents]->(c:Class {name: 'Undocumented'}) RETURN COUNT(d) AS n`, nil))
	})

	t.Run("Arguments", func(t *testing.T) {
		t.Parallel()
		backend, _ := runBuild(t, docRepo, "")

		res, err := backend.ExecuteQuery(context.Background(), testGraph,
			`MATCH (f:Function {name: 'documented'})-[:HasArgument]->(a) RETURN a.name AS name, a.type AS type ORDER BY name`, nil)
		require.NoError(t, err)
		require.Len(t, res.Rows, 2)
		assert.Equal(t, "int", res.Rows[0]["type"])
		assert.Equal(t, graph.AnyType, res.Rows[1]["type"])
	})

	t.Run("ReturnValues", func(t *testing.T) {
		t.Parallel()
		backend, _ := runBuild(t, docRepo, "")

		res, err := backend.ExecuteQuery(context.Background(), testGraph,
			`MATCH (f:Function)-[:Returns]->(r) RETURN f.name AS fn, r.name AS name, r.type AS type ORDER BY name`, nil)
		require.NoError(t, err)
		require.Len(t, res.Rows, 3)
		assert.Equal(t, map[string]any{"fn": "documented", "name": "result", "type": "str"}, res.Rows[0])
		assert.Equal(t, graph.AnyType, res.Rows[1]["type"])
		assert.Equal(t, graph.AnyType, res.Rows[2]["type"])
	})

	t.Run("Methods", func(t *testing.T) {
		t.Parallel()
		backend, _ := runBuild(t, docRepo, "")

		res, err := backend.ExecuteQuery(context.Background(), testGraph,
			`MATCH (c:Class)-[:HasMethod]->(f:Function) RETURN f.canonical_name AS name, f.type AS type`, nil)
		require.NoError(t, err)
		require.Len(t, res.Rows, 1)
		assert.Equal(t, "docs.Documented.run", res.Rows[0]["name"])
		assert.Equal(t, string(graph.KindMethod), res.Rows[0]["type"])
	})

	t.Run("WithSummarizer", func(t *testing.T) {
		t.Parallel()
		backend, _ := runBuild(t, docRepo, "", WithSummarizer(fakeSummarizer{}))

		// Every function gets a docstring, classes only when documented.
		assert.Equal(t, 4, countLabel(t, backend, graph.NodeDocstring))
		res, err := backend.ExecuteQuery(context.Background(), testGraph,
			`MATCH (d:Docstring)-[:Documents]->(f:Function {name: 'bare'}) RETURN d.summarization AS summary`, nil)
		require.NoError(t, err)
		require.Len(t, res.Rows, 1)
		assert.Equal(t, "summary of bare", res.Rows[0]["summary"])

		res, err = backend.ExecuteQuery(context.Background(), testGraph,
			`MATCH (d:Docstring)-[:Documents]->(c:Class) RETURN d.summarization AS summary`, nil)
		require.NoError(t, err)
		require.Len(t, res.Rows, 1)
		assert.Nil(t, res.Rows[0]["summary"])
	})

	t.Run("SummarizerFailure", func(t *testing.T) {
		t.Parallel()
		backend, _ := runBuild(t, docRepo, "", WithSummarizer(fakeSummarizer{err: errors.New("model offline")}))

		assert.Equal(t, 4, countLabel(t, backend, graph.NodeDocstring))
	})
}

func TestRepositorySections(t *testing.T) {
	t.Parallel()

	backend, s := runBuild(t, docRepo, "")

	t.Run("SoftwareType", func(t *testing.T) {
		repo := s.directories["repo"].(*graph.Repository)
		assert.Equal(t, graph.SoftwarePackage, repo.Type)
	})

	t.Run("License", func(t *testing.T) {
		res, err := backend.ExecuteQuery(context.Background(), testGraph,
			`MATCH (r:Repository)-[:LicensedBy]->(l:License) RETURN l.license_type AS type, l.confidence AS confidence, l.text AS text`, nil)
		require.NoError(t, err)
		require.Len(t, res.Rows, 1)
		assert.Equal(t, "MIT", res.Rows[0]["type"])
		assert.InDelta(t, 0.95, res.Rows[0]["confidence"], 1e-9)
		assert.Equal(t, "MIT License", res.Rows[0]["text"])
	})

	t.Run("Readmes", func(t *testing.T) {
		assert.Equal(t, 2, countLabel(t, backend, graph.NodeREADME))
		res, err := backend.ExecuteQuery(context.Background(), testGraph,
			`MATCH (r:Repository)-[:Contains]->(m:README) RETURN m.path AS path`, nil)
		require.NoError(t, err)
		require.Len(t, res.Rows, 1)
		assert.Equal(t, "repo/README.md", res.Rows[0]["path"])
	})
}

func TestRequirements(t *testing.T) {
	t.Parallel()

	backend, s := runBuild(t, dependencyRepo, "")

	require.Len(t, s.requirements, 2)
	res, err := backend.ExecuteQuery(context.Background(), testGraph,
		`MATCH (r:Repository)-[q:Requires]->(p:Package) RETURN p.name AS name, q.version AS version, p.external AS external ORDER BY name`, nil)
	require.NoError(t, err)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, map[string]any{"name": "numpy", "version": "==1.26.0", "external": true}, res.Rows[0])
	assert.Equal(t, "requests", res.Rows[1]["name"])
}

func TestPlaceholdersAreNotMerged(t *testing.T) {
	t.Parallel()

	consumer := `{
	  "out/app": [{
	    "file": {"fileNameBase": "main", "path": "/src/app/main.py", "extension": "py"},
	    "dependencies": [{"import": "foo", "from_module": "lib.mod", "type": "external"}]
	  }]
	}`
	library := `{
	  "out/lib": [
	    {"file": {"fileNameBase": "__init__", "path": "/src/lib/__init__.py", "extension": "py"}},
	    {"file": {"fileNameBase": "mod", "path": "/src/lib/mod.py", "extension": "py"},
	     "functions": {"foo": {"min_max_lineno": {"min_lineno": 1, "max_lineno": 2}, "source_code": "def foo(): ..."}}}
	  ]
	}`

	backend := setupBackend(t)
	buildInto(t, backend, consumer, "")
	buildInto(t, backend, library, "")

	res, err := backend.ExecuteQuery(context.Background(), testGraph,
		`MATCH (f:Function) WHERE f.canonical_name = $name RETURN f.inferred AS inferred, f.repository_name AS repo ORDER BY repo`,
		map[string]any{"name": "lib.mod.foo"})
	require.NoError(t, err)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, map[string]any{"inferred": true, "repo": "app"}, res.Rows[0])
	assert.Equal(t, map[string]any{"inferred": false, "repo": "lib"}, res.Rows[1])
}

func TestInvalidRelationshipAborts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	backend := setupBackend(t)
	tx, err := backend.Begin(ctx, testGraph)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback(ctx) }()

	s := New().newState(tx, decodeInput(t, singleFunctionRepo, ""))
	s.repoName = "repo"
	module := &graph.Module{Name: "m", CanonicalName: "m"}
	repo := &graph.Repository{Name: "repo"}

	err = s.contain(ctx, module, repo)
	var invalid *graph.InvalidRelationshipError
	require.True(t, errors.As(err, &invalid))
	assert.Equal(t, graph.NodeModule, invalid.Parent)
	assert.Equal(t, graph.NodeRepository, invalid.Child)

	rel, err := graph.HasMethod(module, &graph.Function{Name: "f"}, s.repoName)
	err = s.link(ctx, rel, err)
	require.True(t, errors.As(err, &invalid))
	assert.Equal(t, graph.RelHasMethod, invalid.Type)
	assert.Zero(t, s.result.Relationships)
}

func TestBuildErrorMessage(t *testing.T) {
	t.Parallel()

	err := error(&BuildError{Reason: "directory info is empty"})
	assert.Equal(t, "repograph build failed: directory info is empty", err.Error())
}
