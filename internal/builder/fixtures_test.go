package builder

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Benny93/repograph-go/internal/contract"
	"github.com/Benny93/repograph-go/internal/graph"
	"github.com/Benny93/repograph-go/internal/storage"
)

const testGraph = "test-graph"

// singleFunctionRepo is a repository whose root holds main.py with foo().
const singleFunctionRepo = `{
  "out/repo": [
    {
      "file": {"fileNameBase": "main", "path": "/src/repo/main.py", "extension": "py"},
      "is_test": false,
      "functions": {
        "foo": {
          "args": [],
          "min_max_lineno": {"min_lineno": 1, "max_lineno": 2},
          "source_code": "def foo():\n    pass\n",
          "ast": {"type": "FunctionDef"}
        }
      }
    }
  ]
}`

// packageRepo has a package tree next to a plain directory.
const packageRepo = `{
  "out/repo/scripts": [
    {"file": {"fileNameBase": "run", "path": "/src/repo/scripts/run.py", "extension": "py"}}
  ],
  "out/repo/pkg/sub": [
    {"file": {"fileNameBase": "__init__", "path": "/src/repo/pkg/sub/__init__.py", "extension": "py"}},
    {"file": {"fileNameBase": "util", "path": "/src/repo/pkg/sub/util.py", "extension": "py"}}
  ],
  "out/repo": [
    {"file": {"fileNameBase": "setup", "path": "/src/repo/setup.py", "extension": "py"}}
  ],
  "out/repo/pkg": [
    {"file": {"fileNameBase": "__init__", "path": "/src/repo/pkg/__init__.py", "extension": "py"}},
    {"file": {"fileNameBase": "core", "path": "/src/repo/pkg/core.py", "extension": "py"}}
  ]
}`

// rootPackageRepo is a repository whose root is itself a package.
const rootPackageRepo = `{
  "out/repo": [
    {"file": {"fileNameBase": "__init__", "path": "/src/repo/__init__.py", "extension": "py"}},
    {"file": {"fileNameBase": "app", "path": "/src/repo/app.py", "extension": "py"}}
  ],
  "out/repo/pkg": [
    {"file": {"fileNameBase": "__init__", "path": "/src/repo/pkg/__init__.py", "extension": "py"}}
  ]
}`

// dependencyRepo exercises every import resolution path.
const dependencyRepo = `{
  "requirements": {"numpy": "==1.26.0", "requests": ">=2"},
  "out/repo": [
    {"file": {"fileNameBase": "setup", "path": "/src/repo/setup.py", "extension": "py"}}
  ],
  "out/repo/pkg": [
    {
      "file": {"fileNameBase": "__init__", "path": "/src/repo/pkg/__init__.py", "extension": "py"},
      "dependencies": [
        {"import": "make_user", "from_module": "pkg.models", "type": "internal"}
      ]
    },
    {
      "file": {"fileNameBase": "api", "path": "/src/repo/pkg/api.py", "extension": "py"},
      "dependencies": [
        {"import": "User", "from_module": "pkg.models", "type": "internal"},
        {"import": "os", "type": "external"},
        {"import": "norm", "from_module": "numpy.linalg", "type": "external"},
        {"import": "Session", "from_module": "requests", "type": "external"},
        {"import": "numpy", "alias": "np", "type": "external"},
        {"import": "make_user", "from_module": "pkg", "type": "internal"}
      ]
    },
    {
      "file": {"fileNameBase": "a", "path": "/src/repo/pkg/a.py", "extension": "py"},
      "dependencies": [
        {"import": "SHARED", "from_module": "pkg.b", "type": "internal"}
      ]
    },
    {
      "file": {"fileNameBase": "b", "path": "/src/repo/pkg/b.py", "extension": "py"},
      "dependencies": [
        {"import": "SHARED", "from_module": "pkg.a", "type": "internal"}
      ]
    },
    {
      "file": {"fileNameBase": "models", "path": "/src/repo/pkg/models.py", "extension": "py"},
      "functions": {
        "make_user": {"min_max_lineno": {"min_lineno": 1, "max_lineno": 3}, "source_code": "def make_user(): ..."}
      },
      "classes": {
        "User": {"min_max_lineno": {"min_lineno": 5, "max_lineno": 9}},
        "Admin": {"min_max_lineno": {"min_lineno": 10, "max_lineno": 12}, "extend": ["User", "Unknown"]}
      }
    }
  ],
  "out/repo/pkg/sub": [
    {"file": {"fileNameBase": "__init__", "path": "/src/repo/pkg/sub/__init__.py", "extension": "py"}},
    {
      "file": {"fileNameBase": "util", "path": "/src/repo/pkg/sub/util.py", "extension": "py"},
      "dependencies": [
        {"import": "User", "from_module": "models", "type": "internal"}
      ]
    }
  ]
}`

// callRepo has a module body and functions that call each other, a
// builtin, an import and an unresolvable value.
const callRepo = `{
  "out/repo": [
    {
      "file": {"fileNameBase": "main", "path": "/src/repo/main.py", "extension": "py"},
      "functions": {
        "main": {"min_max_lineno": {"min_lineno": 1, "max_lineno": 5}, "source_code": "def main(): ..."},
        "helper": {"min_max_lineno": {"min_lineno": 6, "max_lineno": 8}, "source_code": "def helper(): ..."}
      },
      "dependencies": [
        {"import": "load", "from_module": "lib", "type": "internal"}
      ]
    },
    {
      "file": {"fileNameBase": "lib", "path": "/src/repo/lib.py", "extension": "py"},
      "functions": {
        "load": {"min_max_lineno": {"min_lineno": 1, "max_lineno": 2}, "source_code": "def load(): ..."}
      }
    }
  ]
}`

const callRepoCalls = `{
  "out/repo": {
    "/src/repo/main.py": {
      "body": {"local": ["main"]},
      "functions": {
        "main": {"local": ["helper", "print", "print", "lib.load", "value.method"]},
        "helper": {"local": ["len"]}
      }
    },
    "/src/repo/missing.py": {
      "body": {"local": ["print"]}
    }
  }
}`

// docRepo carries docstrings, arguments and return values.
const docRepo = `{
  "license": {"detected_type": [{"MIT": "95.0%"}, {"Apache-2.0": "bad"}], "extracted_text": "MIT License"},
  "readme_files": {"out/repo/README.md": "# repo", "out/repo/nowhere/README.md": "# lost"},
  "software_type": "package",
  "out/repo": [
    {
      "file": {"fileNameBase": "docs", "path": "/src/repo/docs.py", "extension": "py"},
      "functions": {
        "documented": {
          "args": ["a", "b"],
          "annotated_arg_types": {"a": "int"},
          "returns": [["result"]],
          "annotated_return_type": "str",
          "min_max_lineno": {"min_lineno": 1, "max_lineno": 9},
          "source_code": "def documented(a, b): ...",
          "doc": {
            "short_description": "Does a thing.",
            "long_description": "At length.",
            "args": {"a": {"description": "first", "type_name": "int", "is_optional": false}},
            "returns": {"description": "the result", "type_name": "str", "is_generator": false},
            "raises": [{"description": "on error", "type_name": "ValueError"}]
          }
        },
        "bare": {
          "returns": ["x", "y"],
          "min_max_lineno": {"min_lineno": 10, "max_lineno": 12},
          "source_code": "def bare(): ..."
        }
      },
      "classes": {
        "Documented": {
          "min_max_lineno": {"min_lineno": 13, "max_lineno": 20},
          "doc": {"short_description": "A class.", "args": {"x": {"description": "an x"}}},
          "methods": {
            "run": {"args": ["self"], "min_max_lineno": {"min_lineno": 14, "max_lineno": 15}, "source_code": "def run(self): ..."}
          }
        },
        "Undocumented": {"min_max_lineno": {"min_lineno": 21, "max_lineno": 22}}
      }
    }
  ]
}`

type fakeSummarizer struct {
	err error
}

func (f fakeSummarizer) Summarize(_ context.Context, fn *graph.Function) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "summary of " + fn.Name, nil
}

func decodeInput(t *testing.T, directoryInfo, callGraph string) Input {
	t.Helper()
	var info contract.DirectoryInfo
	require.NoError(t, json.Unmarshal([]byte(directoryInfo), &info))
	var cg contract.CallGraph
	if callGraph != "" {
		require.NoError(t, json.Unmarshal([]byte(callGraph), &cg))
	}
	return Input{DirectoryInfo: &info, CallGraph: cg, BasePath: "out"}
}

func setupBackend(t *testing.T) *storage.MemoryBackend {
	t.Helper()
	backend := storage.NewMemoryBackend()
	require.NoError(t, backend.CreateGraph(context.Background(), testGraph))
	return backend
}

// buildInto runs one build against backend and commits it. The build
// state is returned for inspection.
func buildInto(t *testing.T, backend storage.Backend, directoryInfo, callGraph string, opts ...Option) *state {
	t.Helper()
	ctx := context.Background()

	tx, err := backend.Begin(ctx, testGraph)
	require.NoError(t, err)

	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	s := New(opts...).newState(tx, decodeInput(t, directoryInfo, callGraph))
	require.NoError(t, s.build(ctx))
	require.NoError(t, tx.Commit(ctx))
	return s
}

func runBuild(t *testing.T, directoryInfo, callGraph string, opts ...Option) (*storage.MemoryBackend, *state) {
	t.Helper()
	backend := setupBackend(t)
	return backend, buildInto(t, backend, directoryInfo, callGraph, opts...)
}

func countLabel(t *testing.T, backend storage.Backend, label graph.NodeLabel) int {
	t.Helper()
	nodes, err := backend.GetAllNodesByLabel(context.Background(), testGraph, label)
	require.NoError(t, err)
	return len(nodes)
}

// count runs a query returning a single "n" column.
func count(t *testing.T, backend storage.Backend, query string, params map[string]any) int64 {
	t.Helper()
	res, err := backend.ExecuteQuery(context.Background(), testGraph, query, params)
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	n, ok := res.Rows[0]["n"].(int64)
	require.True(t, ok, "count column missing in %v", res.Rows[0])
	return n
}

// pairs returns "parent->child" strings for a query returning parent and
// child columns.
func pairs(t *testing.T, backend storage.Backend, query string) []string {
	t.Helper()
	res, err := backend.ExecuteQuery(context.Background(), testGraph, query, nil)
	require.NoError(t, err)
	out := make([]string, 0, len(res.Rows))
	for _, row := range res.Rows {
		out = append(out, row["parent"].(string)+"->"+row["child"].(string))
	}
	return out
}
