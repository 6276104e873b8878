package cypher

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Benny93/repograph-go/internal/graph"
)

// fixture builds:
//
//	repo -Contains-> pkg -Contains-> mod -HasFunction-> main
//	main -Calls-> helper -Calls-> leaf
func fixture() *graph.PropertyGraph {
	g := graph.NewPropertyGraph()
	node := func(id int64, label graph.NodeLabel, name string, extra map[string]any) {
		props := map[string]any{graph.PropName: name}
		for k, v := range extra {
			props[k] = v
		}
		g.AddNode(&graph.GraphNode{ID: id, Label: label, RepositoryName: "demo", Properties: props})
	}
	node(1, graph.NodeRepository, "demo", nil)
	node(2, graph.NodePackage, "pkg", map[string]any{graph.PropCanonicalName: "pkg"})
	node(3, graph.NodeModule, "mod", map[string]any{graph.PropCanonicalName: "pkg.mod"})
	node(4, graph.NodeFunction, "main", map[string]any{graph.PropCanonicalName: "pkg.mod.main", "min_line_number": int64(1)})
	node(5, graph.NodeFunction, "helper", map[string]any{graph.PropCanonicalName: "pkg.mod.helper", "min_line_number": int64(10)})
	node(6, graph.NodeFunction, "leaf", map[string]any{graph.PropCanonicalName: "pkg.mod.leaf", "min_line_number": int64(20), graph.PropInferred: true})

	rel := func(id int64, typ graph.RelType, src, dst int64, props map[string]any) {
		g.AddRelationship(&graph.GraphRelationship{ID: id, Type: typ, Source: src, Target: dst, RepositoryName: "demo", Properties: props})
	}
	rel(100, graph.RelContains, 1, 2, nil)
	rel(101, graph.RelContains, 2, 3, nil)
	rel(102, graph.RelHasFunction, 3, 4, nil)
	rel(103, graph.RelHasFunction, 3, 5, nil)
	rel(104, graph.RelHasFunction, 3, 6, nil)
	rel(105, graph.RelCalls, 4, 5, nil)
	rel(106, graph.RelCalls, 5, 6, nil)
	return g
}

func run(t *testing.T, query string, params map[string]any) *Result {
	t.Helper()
	res, err := Execute(context.Background(), FromPropertyGraph(fixture()), query, params)
	require.NoError(t, err)
	return res
}

func column(res *Result, col string) []any {
	out := make([]any, 0, len(res.Rows))
	for _, row := range res.Rows {
		out = append(out, row[col])
	}
	return out
}

func TestLex(t *testing.T) {
	t.Parallel()

	t.Run("basic query", func(t *testing.T) {
		t.Parallel()
		tokens, err := Lex(`MATCH (f:Function) WHERE f.name = "Hello" RETURN f.name`)
		require.NoError(t, err)
		want := []TokenType{
			TokMatch, TokLParen, TokIdent, TokColon, TokIdent, TokRParen,
			TokWhere, TokIdent, TokDot, TokIdent, TokEQ, TokString,
			TokReturn, TokIdent, TokDot, TokIdent, TokEOF,
		}
		got := make([]TokenType, 0, len(tokens))
		for _, tok := range tokens {
			got = append(got, tok.Type)
		}
		assert.Equal(t, want, got)
	})

	t.Run("variable length path", func(t *testing.T) {
		t.Parallel()
		tokens, err := Lex(`[:Calls*1..3]`)
		require.NoError(t, err)
		want := []TokenType{TokLBracket, TokColon, TokIdent, TokStar, TokNumber, TokDotDot, TokNumber, TokRBracket, TokEOF}
		require.Len(t, tokens, len(want))
		for i, tok := range tokens {
			assert.Equal(t, want[i], tok.Type, "token %d", i)
		}
	})

	t.Run("operators and parameters", func(t *testing.T) {
		t.Parallel()
		tokens, err := Lex(`a <> $name <= >= =~ <-`)
		require.NoError(t, err)
		want := []TokenType{TokIdent, TokNEQ, TokParam, TokLTE, TokGTE, TokRegex, TokLT, TokDash, TokEOF}
		require.Len(t, tokens, len(want))
		for i, tok := range tokens {
			assert.Equal(t, want[i], tok.Type, "token %d", i)
		}
		assert.Equal(t, "name", tokens[2].Value)
	})

	t.Run("unterminated string", func(t *testing.T) {
		t.Parallel()
		_, err := Lex(`"abc`)
		assert.Error(t, err)
	})

	t.Run("unexpected character", func(t *testing.T) {
		t.Parallel()
		_, err := Lex(`MATCH (n) RETURN n;`)
		assert.Error(t, err)
	})
}

func TestParse(t *testing.T) {
	t.Parallel()

	t.Run("node pattern with inline props", func(t *testing.T) {
		t.Parallel()
		q, err := Parse(`MATCH (f:Function {name: "main", inferred: false}) RETURN f`)
		require.NoError(t, err)
		require.Len(t, q.Match.Pattern.Elements, 1)
		node := q.Match.Pattern.Elements[0].(*NodePattern)
		assert.Equal(t, "f", node.Variable)
		assert.Equal(t, "Function", node.Label)
		assert.Equal(t, Value{Literal: "main"}, node.Props["name"])
		assert.Equal(t, Value{Literal: false}, node.Props["inferred"])
	})

	t.Run("relationship directions", func(t *testing.T) {
		t.Parallel()
		cases := map[string]Direction{
			`MATCH (a)-[:Calls]->(b)`: Outbound,
			`MATCH (a)<-[:Calls]-(b)`: Inbound,
			`MATCH (a)-[:Calls]-(b)`:  Any,
			`MATCH (a)-->(b)`:         Outbound,
		}
		for query, dir := range cases {
			q, err := Parse(query)
			require.NoError(t, err, query)
			rel := q.Match.Pattern.Elements[1].(*RelPattern)
			assert.Equal(t, dir, rel.Direction, query)
		}
	})

	t.Run("hop ranges", func(t *testing.T) {
		t.Parallel()
		cases := map[string][2]int{
			`MATCH (a)-[:Calls*1..3]->(b)`: {1, 3},
			`MATCH (a)-[:Calls*2..]->(b)`:  {2, 0},
			`MATCH (a)-[:Calls*..4]->(b)`:  {1, 4},
			`MATCH (a)-[:Calls*3]->(b)`:    {1, 3},
			`MATCH (a)-[:Calls*]->(b)`:     {1, 0},
			`MATCH (a)-[:Calls]->(b)`:      {1, 1},
		}
		for query, hops := range cases {
			q, err := Parse(query)
			require.NoError(t, err, query)
			rel := q.Match.Pattern.Elements[1].(*RelPattern)
			assert.Equal(t, hops, [2]int{rel.MinHops, rel.MaxHops}, query)
		}
	})

	t.Run("multiple relationship types", func(t *testing.T) {
		t.Parallel()
		q, err := Parse(`MATCH (a)-[r:Contains|HasFunction]->(b) RETURN r`)
		require.NoError(t, err)
		rel := q.Match.Pattern.Elements[1].(*RelPattern)
		assert.Equal(t, "r", rel.Variable)
		assert.Equal(t, []string{"Contains", "HasFunction"}, rel.Types)
	})

	t.Run("keywords as names", func(t *testing.T) {
		t.Parallel()
		q, err := Parse(`MATCH (a:Contains {count: 1})-[:Contains]->(b) WHERE b.order = 2 RETURN b.desc`)
		require.NoError(t, err)
		node := q.Match.Pattern.Elements[0].(*NodePattern)
		assert.Equal(t, "Contains", node.Label)
		assert.Contains(t, node.Props, "count")
		rel := q.Match.Pattern.Elements[1].(*RelPattern)
		assert.Equal(t, []string{"Contains"}, rel.Types)
		require.NotNil(t, q.Where)
	})

	t.Run("where and return", func(t *testing.T) {
		t.Parallel()
		q, err := Parse(`MATCH (f:Function) WHERE NOT f.name STARTS WITH "_" OR f.min_line_number >= -1
			RETURN DISTINCT f.name AS name, COUNT(f) ORDER BY name DESC LIMIT 5`)
		require.NoError(t, err)
		require.NotNil(t, q.Where)
		assert.Equal(t, "OR", q.Where.Operator)
		require.Len(t, q.Where.Conditions, 2)
		assert.True(t, q.Where.Conditions[0].Negate)
		assert.Equal(t, "STARTS WITH", q.Where.Conditions[0].Operator)
		assert.Equal(t, Value{Literal: int64(-1)}, q.Where.Conditions[1].Value)

		require.NotNil(t, q.Return)
		assert.True(t, q.Return.Distinct)
		assert.Equal(t, "name", q.Return.OrderBy)
		assert.Equal(t, "DESC", q.Return.OrderDir)
		assert.Equal(t, 5, q.Return.Limit)
		assert.Equal(t, "name", q.Return.Items[0].Column())
		assert.Equal(t, "COUNT(f)", q.Return.Items[1].Column())
	})

	t.Run("errors", func(t *testing.T) {
		t.Parallel()
		for _, query := range []string{
			`RETURN n`,
			`MATCH n`,
			`MATCH (n) WHERE n = 1`,
			`MATCH (n) RETURN n LIMIT x`,
			`MATCH (a)<-[:Calls]->(b)`,
			`MATCH (n) RETURN n extra`,
		} {
			_, err := Parse(query)
			assert.Error(t, err, query)
		}
	})
}

func TestBuildPlan(t *testing.T) {
	t.Parallel()

	q, err := Parse(`MATCH (m:Module)-[:HasFunction]->(f) WHERE m.name = "mod" AND f.name = "main" RETURN f`)
	require.NoError(t, err)
	plan, err := BuildPlan(q)
	require.NoError(t, err)

	require.Len(t, plan.Steps, 4)
	assert.IsType(t, &ScanNodes{}, plan.Steps[0])
	early := plan.Steps[1].(*FilterWhere)
	assert.Equal(t, "m", early.Conditions[0].Variable)
	assert.IsType(t, &ExpandRelationship{}, plan.Steps[2])
	late := plan.Steps[3].(*FilterWhere)
	assert.Equal(t, "f", late.Conditions[0].Variable)
}

func TestExecute(t *testing.T) {
	t.Parallel()

	t.Run("scan by label", func(t *testing.T) {
		t.Parallel()
		res := run(t, `MATCH (f:Function) RETURN f.name ORDER BY f.name`, nil)
		assert.Equal(t, []string{"f.name"}, res.Columns)
		assert.Equal(t, []any{"helper", "leaf", "main"}, column(res, "f.name"))
	})

	t.Run("inline props and params", func(t *testing.T) {
		t.Parallel()
		res := run(t, `MATCH (f:Function {name: $name}) RETURN f.canonical_name AS cn`, map[string]any{"name": "helper"})
		assert.Equal(t, []any{"pkg.mod.helper"}, column(res, "cn"))
	})

	t.Run("missing param", func(t *testing.T) {
		t.Parallel()
		_, err := Execute(context.Background(), FromPropertyGraph(fixture()), `MATCH (f {name: $name}) RETURN f`, nil)
		assert.ErrorContains(t, err, "$name")
	})

	t.Run("single hop binds relationship", func(t *testing.T) {
		t.Parallel()
		res := run(t, `MATCH (a:Function)-[r:Calls]->(b:Function) RETURN a.name, r.type, b.name ORDER BY a.name`, nil)
		require.Len(t, res.Rows, 2)
		assert.Equal(t, "helper", res.Rows[0]["a.name"])
		assert.Equal(t, "Calls", res.Rows[0]["r.type"])
		assert.Equal(t, "leaf", res.Rows[0]["b.name"])
	})

	t.Run("inbound", func(t *testing.T) {
		t.Parallel()
		res := run(t, `MATCH (f:Function {name: "main"})<-[:HasFunction]-(m) RETURN m.canonical_name`, nil)
		assert.Equal(t, []any{"pkg.mod"}, column(res, "m.canonical_name"))
	})

	t.Run("variable length", func(t *testing.T) {
		t.Parallel()
		res := run(t, `MATCH (f {name: "main"})-[:Calls*1..2]->(g) RETURN g.name ORDER BY g.name`, nil)
		assert.Equal(t, []any{"helper", "leaf"}, column(res, "g.name"))

		res = run(t, `MATCH (f {name: "main"})-[:Calls*2..]->(g) RETURN g.name`, nil)
		assert.Equal(t, []any{"leaf"}, column(res, "g.name"))
	})

	t.Run("any direction", func(t *testing.T) {
		t.Parallel()
		res := run(t, `MATCH (f {name: "helper"})-[:Calls]-(g) RETURN g.name ORDER BY g.name`, nil)
		assert.Equal(t, []any{"leaf", "main"}, column(res, "g.name"))
	})

	t.Run("chain of hops", func(t *testing.T) {
		t.Parallel()
		res := run(t, `MATCH (r:Repository)-[:Contains]->(p)-[:Contains]->(m:Module) RETURN p.name, m.name`, nil)
		require.Len(t, res.Rows, 1)
		assert.Equal(t, "pkg", res.Rows[0]["p.name"])
		assert.Equal(t, "mod", res.Rows[0]["m.name"])
	})

	t.Run("where operators", func(t *testing.T) {
		t.Parallel()
		cases := map[string][]any{
			`MATCH (f:Function) WHERE f.name = "main" RETURN f.name`:                                 {"main"},
			`MATCH (f:Function) WHERE f.name <> "main" RETURN f.name ORDER BY f.name`:                {"helper", "leaf"},
			`MATCH (f:Function) WHERE f.name =~ "h.*" RETURN f.name`:                                 {"helper"},
			`MATCH (f:Function) WHERE f.canonical_name CONTAINS "lea" RETURN f.name`:                 {"leaf"},
			`MATCH (f:Function) WHERE f.name STARTS WITH "ma" RETURN f.name`:                         {"main"},
			`MATCH (f:Function) WHERE f.min_line_number > 5 RETURN f.name ORDER BY f.name`:           {"helper", "leaf"},
			`MATCH (f:Function) WHERE f.min_line_number <= 10 RETURN f.name ORDER BY f.name`:         {"helper", "main"},
			`MATCH (f:Function) WHERE f.inferred = true RETURN f.name`:                               {"leaf"},
			`MATCH (f:Function) WHERE f.name = "main" OR f.name = "leaf" RETURN f.name ORDER BY f.name`: {"leaf", "main"},
			`MATCH (f:Function) WHERE NOT f.name = "main" RETURN f.name ORDER BY f.name`:             {"helper", "leaf"},
		}
		for query, want := range cases {
			res, err := Execute(context.Background(), FromPropertyGraph(fixture()), query, nil)
			require.NoError(t, err, query)
			assert.Equal(t, want, column(res, "f.name"), query)
		}
	})

	t.Run("count aggregation", func(t *testing.T) {
		t.Parallel()
		res := run(t, `MATCH (m:Module)-[:HasFunction]->(f) RETURN m.name AS module, COUNT(f) AS functions`, nil)
		require.Len(t, res.Rows, 1)
		assert.Equal(t, "mod", res.Rows[0]["module"])
		assert.Equal(t, int64(3), res.Rows[0]["functions"])

		res = run(t, `MATCH (n:Class) RETURN COUNT(n)`, nil)
		require.Len(t, res.Rows, 1)
		assert.Equal(t, int64(0), res.Rows[0]["COUNT(n)"])
	})

	t.Run("distinct and limit", func(t *testing.T) {
		t.Parallel()
		res := run(t, `MATCH (m:Module)-[:HasFunction]->(f) RETURN DISTINCT m.name`, nil)
		assert.Len(t, res.Rows, 1)

		res = run(t, `MATCH (f:Function) RETURN f.name ORDER BY f.min_line_number DESC LIMIT 2`, nil)
		assert.Equal(t, []any{"leaf", "helper"}, column(res, "f.name"))
	})

	t.Run("whole node projection", func(t *testing.T) {
		t.Parallel()
		res := run(t, `MATCH (m:Module) RETURN m`, nil)
		require.Len(t, res.Rows, 1)
		m := res.Rows[0]["m"].(map[string]any)
		assert.Equal(t, int64(3), m["id"])
		assert.Equal(t, "Module", m["label"])
		assert.Equal(t, "pkg.mod", m[graph.PropCanonicalName])
	})

	t.Run("default projection", func(t *testing.T) {
		t.Parallel()
		res := run(t, `MATCH (m:Module)-[:HasFunction]->(:Function {name: "main"})`, nil)
		assert.Equal(t, []string{"m"}, res.Columns)
		require.Len(t, res.Rows, 1)
	})

	t.Run("unknown variable in where", func(t *testing.T) {
		t.Parallel()
		_, err := Execute(context.Background(), FromPropertyGraph(fixture()), `MATCH (f) WHERE g.name = "x" RETURN f`, nil)
		assert.Error(t, err)
	})

	t.Run("cancelled context", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := Execute(ctx, FromPropertyGraph(fixture()), `MATCH (f) RETURN f`, nil)
		assert.ErrorIs(t, err, context.Canceled)
	})
}
