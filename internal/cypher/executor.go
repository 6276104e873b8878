package cypher

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/Benny93/repograph-go/internal/graph"
)

const (
	maxResultRows = 200
	// maxUnboundedHops caps variable-length patterns written without an upper bound.
	maxUnboundedHops = 10
)

// Source is the read view of a single graph that queries run against.
type Source interface {
	// Nodes returns all nodes with the label, or every node when label is empty.
	Nodes(ctx context.Context, label graph.NodeLabel) ([]*graph.GraphNode, error)
	// Node returns the node with the id, or nil when it does not exist.
	Node(ctx context.Context, id int64) (*graph.GraphNode, error)
	Outgoing(ctx context.Context, id int64, types []graph.RelType) ([]*graph.GraphRelationship, error)
	Incoming(ctx context.Context, id int64, types []graph.RelType) ([]*graph.GraphRelationship, error)
}

// Result holds the tabular output of a query.
type Result struct {
	Columns []string         `json:"columns"`
	Rows    []map[string]any `json:"rows"`
}

// Execute parses, plans and runs query against src.
func Execute(ctx context.Context, src Source, query string, params map[string]any) (*Result, error) {
	q, err := Parse(query)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	plan, err := BuildPlan(q)
	if err != nil {
		return nil, fmt.Errorf("plan: %w", err)
	}
	e := &executor{src: src, params: params}
	return e.run(ctx, plan)
}

type executor struct {
	src    Source
	params map[string]any
}

// binding maps variable names to matched nodes and relationships.
type binding struct {
	nodes map[string]*graph.GraphNode
	rels  map[string]*graph.GraphRelationship
}

func newBinding() binding {
	return binding{
		nodes: make(map[string]*graph.GraphNode),
		rels:  make(map[string]*graph.GraphRelationship),
	}
}

func (b binding) extend(nodeVar string, n *graph.GraphNode, relVar string, r *graph.GraphRelationship) binding {
	c := newBinding()
	for k, v := range b.nodes {
		c.nodes[k] = v
	}
	for k, v := range b.rels {
		c.rels[k] = v
	}
	c.nodes[nodeVar] = n
	if relVar != "" && r != nil {
		c.rels[relVar] = r
	}
	return c
}

// value resolves a variable's property. ok is false for unbound variables.
func (b binding) value(variable, property string) (any, bool) {
	if n, ok := b.nodes[variable]; ok {
		v, _ := n.Property(property)
		return v, true
	}
	if r, ok := b.rels[variable]; ok {
		v, _ := r.Property(property)
		return v, true
	}
	return nil, false
}

func (e *executor) run(ctx context.Context, plan *Plan) (*Result, error) {
	var bindings []binding
	for i, step := range plan.Steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var err error
		switch s := step.(type) {
		case *ScanNodes:
			bindings, err = e.scan(ctx, s)
		case *ExpandRelationship:
			bindings, err = e.expand(ctx, s, bindings)
		case *FilterWhere:
			bindings, err = e.filter(s, bindings)
		default:
			return nil, fmt.Errorf("unknown step type: %T", step)
		}
		if err != nil {
			return nil, err
		}
		// Aggregation needs every row, so only non-final expansions are capped.
		if _, isExpand := step.(*ExpandRelationship); isExpand && i < len(plan.Steps)-1 && len(bindings) > maxResultRows*50 {
			bindings = bindings[:maxResultRows*50]
		}
	}
	return e.project(bindings, plan.ReturnSpec)
}

func (e *executor) scan(ctx context.Context, s *ScanNodes) ([]binding, error) {
	nodes, err := e.src.Nodes(ctx, graph.NodeLabel(s.Label))
	if err != nil {
		return nil, fmt.Errorf("scan nodes: %w", err)
	}
	var bindings []binding
	for _, n := range nodes {
		ok, err := e.matchesProps(n, s.Props)
		if err != nil {
			return nil, err
		}
		if ok {
			bindings = append(bindings, newBinding().extend(s.Variable, n, "", nil))
		}
	}
	return bindings, nil
}

func (e *executor) expand(ctx context.Context, s *ExpandRelationship, bindings []binding) ([]binding, error) {
	var result []binding
	for _, b := range bindings {
		from, ok := b.nodes[s.FromVar]
		if !ok {
			continue
		}
		hits, err := e.reach(ctx, from.ID, s)
		if err != nil {
			return nil, err
		}
		for _, hit := range hits {
			ok, err := e.acceptTarget(hit.node, s)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			if bound, isBound := b.nodes[s.ToVar]; isBound && bound.ID != hit.node.ID {
				continue
			}
			result = append(result, b.extend(s.ToVar, hit.node, s.RelVar, hit.rel))
		}
	}
	return result, nil
}

type hop struct {
	node  *graph.GraphNode
	rel   *graph.GraphRelationship
	depth int
}

// reach walks breadth first from id and returns every node within the hop
// range. Relationships are only reported for single-hop patterns.
func (e *executor) reach(ctx context.Context, id int64, s *ExpandRelationship) ([]hop, error) {
	maxDepth := s.MaxHops
	if maxDepth == 0 {
		maxDepth = maxUnboundedHops
	}
	single := s.MinHops == 1 && s.MaxHops == 1

	visited := map[int64]bool{id: true}
	frontier := []int64{id}
	var out []hop
	for depth := 1; depth <= maxDepth && len(frontier) > 0; depth++ {
		var next []int64
		for _, cur := range frontier {
			rels, err := e.adjacent(ctx, cur, s)
			if err != nil {
				return nil, err
			}
			for _, r := range rels {
				other := r.Target
				if other == cur {
					other = r.Source
				}
				if s.Direction == Inbound {
					other = r.Source
				}
				if !single && visited[other] {
					continue
				}
				visited[other] = true
				n, err := e.src.Node(ctx, other)
				if err != nil {
					return nil, err
				}
				if n == nil {
					continue
				}
				next = append(next, other)
				if depth >= s.MinHops {
					h := hop{node: n, depth: depth}
					if single {
						h.rel = r
					}
					out = append(out, h)
				}
			}
		}
		frontier = next
	}
	return out, nil
}

func (e *executor) adjacent(ctx context.Context, id int64, s *ExpandRelationship) ([]*graph.GraphRelationship, error) {
	types := make([]graph.RelType, 0, len(s.RelTypes))
	for _, t := range s.RelTypes {
		types = append(types, graph.RelType(t))
	}
	switch s.Direction {
	case Inbound:
		return e.src.Incoming(ctx, id, types)
	case Outbound:
		return e.src.Outgoing(ctx, id, types)
	}
	out, err := e.src.Outgoing(ctx, id, types)
	if err != nil {
		return nil, err
	}
	in, err := e.src.Incoming(ctx, id, types)
	if err != nil {
		return nil, err
	}
	return append(out, in...), nil
}

func (e *executor) acceptTarget(n *graph.GraphNode, s *ExpandRelationship) (bool, error) {
	if s.ToLabel != "" && string(n.Label) != s.ToLabel {
		return false, nil
	}
	return e.matchesProps(n, s.ToProps)
}

func (e *executor) matchesProps(n *graph.GraphNode, props map[string]Value) (bool, error) {
	for key, want := range props {
		expected, err := e.resolve(want)
		if err != nil {
			return false, err
		}
		actual, _ := n.Property(key)
		if !equalValues(actual, expected) {
			return false, nil
		}
	}
	return true, nil
}

func (e *executor) resolve(v Value) (any, error) {
	if v.Param == "" {
		return v.Literal, nil
	}
	p, ok := e.params[v.Param]
	if !ok {
		return nil, fmt.Errorf("missing parameter $%s", v.Param)
	}
	return p, nil
}

func (e *executor) filter(s *FilterWhere, bindings []binding) ([]binding, error) {
	var result []binding
	for _, b := range bindings {
		ok, err := e.evaluate(b, s.Conditions, s.Operator)
		if err != nil {
			return nil, err
		}
		if ok {
			result = append(result, b)
		}
	}
	return result, nil
}

func (e *executor) evaluate(b binding, conditions []Condition, op string) (bool, error) {
	for _, c := range conditions {
		ok, err := e.evaluateCondition(b, c)
		if err != nil {
			return false, err
		}
		if op == "OR" && ok {
			return true, nil
		}
		if op != "OR" && !ok {
			return false, nil
		}
	}
	return op != "OR", nil
}

func (e *executor) evaluateCondition(b binding, c Condition) (bool, error) {
	actual, bound := b.value(c.Variable, c.Property)
	if !bound {
		return false, fmt.Errorf("unknown variable %q", c.Variable)
	}
	expected, err := e.resolve(c.Value)
	if err != nil {
		return false, err
	}
	ok, err := compare(actual, expected, c.Operator)
	if err != nil {
		return false, err
	}
	return ok != c.Negate, nil
}

func compare(actual, expected any, op string) (bool, error) {
	switch op {
	case "=":
		return equalValues(actual, expected), nil
	case "<>":
		return !equalValues(actual, expected), nil
	case "=~":
		s, ok := actual.(string)
		if !ok {
			return false, nil
		}
		re, err := regexp.Compile("^(?:" + fmt.Sprint(expected) + ")$")
		if err != nil {
			return false, fmt.Errorf("regex %q: %w", expected, err)
		}
		return re.MatchString(s), nil
	case "CONTAINS":
		s, ok := actual.(string)
		return ok && strings.Contains(s, fmt.Sprint(expected)), nil
	case "STARTS WITH":
		s, ok := actual.(string)
		return ok && strings.HasPrefix(s, fmt.Sprint(expected)), nil
	case ">", "<", ">=", "<=":
		a, aok := toFloat(actual)
		x, xok := toFloat(expected)
		if !aok || !xok {
			return false, nil
		}
		switch op {
		case ">":
			return a > x, nil
		case "<":
			return a < x, nil
		case ">=":
			return a >= x, nil
		}
		return a <= x, nil
	}
	return false, fmt.Errorf("unsupported operator: %s", op)
}

func equalValues(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if af, ok := toFloat(a); ok {
		bf, ok := toFloat(b)
		return ok && af == bf
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

func (e *executor) project(bindings []binding, ret *ReturnClause) (*Result, error) {
	if ret == nil {
		return defaultProjection(bindings), nil
	}

	cols := make([]string, len(ret.Items))
	hasCount := false
	for i, item := range ret.Items {
		cols[i] = item.Column()
		if item.Func == "COUNT" {
			hasCount = true
		}
	}

	orderCol, projected := "", false
	if ret.OrderBy != "" {
		orderCol, projected = orderColumn(ret, cols)
		if !projected && !hasCount {
			sortBindings(bindings, ret.OrderBy, ret.OrderDir)
		}
	}

	var rows []map[string]any
	if hasCount {
		rows = aggregate(bindings, ret.Items, cols)
	} else {
		seen := make(map[string]bool)
		for _, b := range bindings {
			row := make(map[string]any, len(cols))
			for i, item := range ret.Items {
				row[cols[i]] = projectItem(b, item)
			}
			if ret.Distinct {
				key := rowKey(row, cols)
				if seen[key] {
					continue
				}
				seen[key] = true
			}
			rows = append(rows, row)
		}
	}

	if projected {
		sortRows(rows, orderCol, ret.OrderDir)
	}
	limit := ret.Limit
	if limit <= 0 || limit > maxResultRows {
		limit = maxResultRows
	}
	if len(rows) > limit {
		rows = rows[:limit]
	}
	if rows == nil {
		rows = []map[string]any{}
	}
	return &Result{Columns: cols, Rows: rows}, nil
}

func projectItem(b binding, item ReturnItem) any {
	if item.Property != "" {
		v, _ := b.value(item.Variable, item.Property)
		return v
	}
	if n, ok := b.nodes[item.Variable]; ok {
		return nodeMap(n)
	}
	if r, ok := b.rels[item.Variable]; ok {
		return relMap(r)
	}
	return nil
}

func nodeMap(n *graph.GraphNode) map[string]any {
	m := make(map[string]any, len(n.Properties)+3)
	for k, v := range n.Properties {
		m[k] = v
	}
	m["id"] = n.ID
	m["label"] = string(n.Label)
	m[graph.PropRepositoryName] = n.RepositoryName
	return m
}

func relMap(r *graph.GraphRelationship) map[string]any {
	m := make(map[string]any, len(r.Properties)+4)
	for k, v := range r.Properties {
		m[k] = v
	}
	m["id"] = r.ID
	m["type"] = string(r.Type)
	m["source"] = r.Source
	m["target"] = r.Target
	return m
}

// aggregate groups rows by the non-COUNT items. COUNT(x) counts bindings
// where x is bound.
func aggregate(bindings []binding, items []ReturnItem, cols []string) []map[string]any {
	groups := make(map[string]map[string]any)
	var order []string
	for _, b := range bindings {
		row := make(map[string]any, len(cols))
		var keyParts []string
		for i, item := range items {
			if item.Func == "COUNT" {
				continue
			}
			v := projectItem(b, item)
			row[cols[i]] = v
			keyParts = append(keyParts, fmt.Sprint(v))
		}
		key := strings.Join(keyParts, "\x00")
		g, ok := groups[key]
		if !ok {
			g = row
			for i, item := range items {
				if item.Func == "COUNT" {
					g[cols[i]] = int64(0)
				}
			}
			groups[key] = g
			order = append(order, key)
		}
		for i, item := range items {
			if item.Func != "COUNT" {
				continue
			}
			if _, bound := b.nodes[item.Variable]; bound {
				g[cols[i]] = g[cols[i]].(int64) + 1
			} else if _, bound := b.rels[item.Variable]; bound {
				g[cols[i]] = g[cols[i]].(int64) + 1
			}
		}
	}

	// A pure COUNT over no bindings still yields one row.
	if len(order) == 0 {
		onlyCounts := true
		row := make(map[string]any)
		for i, item := range items {
			if item.Func != "COUNT" {
				onlyCounts = false
				break
			}
			row[cols[i]] = int64(0)
		}
		if onlyCounts {
			return []map[string]any{row}
		}
	}

	rows := make([]map[string]any, 0, len(order))
	for _, key := range order {
		rows = append(rows, groups[key])
	}
	return rows
}

func defaultProjection(bindings []binding) *Result {
	varSet := make(map[string]bool)
	for _, b := range bindings {
		for k := range b.nodes {
			if !strings.HasPrefix(k, "_anon") {
				varSet[k] = true
			}
		}
	}
	cols := make([]string, 0, len(varSet))
	for k := range varSet {
		cols = append(cols, k)
	}
	sort.Strings(cols)

	rows := make([]map[string]any, 0, len(bindings))
	for _, b := range bindings {
		row := make(map[string]any, len(cols))
		for _, c := range cols {
			if n, ok := b.nodes[c]; ok {
				row[c] = nodeMap(n)
			}
		}
		rows = append(rows, row)
		if len(rows) == maxResultRows {
			break
		}
	}
	return &Result{Columns: cols, Rows: rows}
}

// orderColumn maps ORDER BY to a projected column. projected is false when
// the key is a property that is not returned.
func orderColumn(ret *ReturnClause, cols []string) (string, bool) {
	for i, item := range ret.Items {
		if item.Alias == ret.OrderBy || cols[i] == ret.OrderBy {
			return cols[i], true
		}
		if item.Func == "" && item.Property == "" && item.Variable == ret.OrderBy {
			return cols[i], true
		}
	}
	return ret.OrderBy, false
}

func sortBindings(bindings []binding, key, dir string) {
	variable, property, _ := strings.Cut(key, ".")
	sort.SliceStable(bindings, func(i, j int) bool {
		a, _ := bindings[i].value(variable, property)
		b, _ := bindings[j].value(variable, property)
		cmp := compareValues(a, b)
		if dir == "DESC" {
			return cmp > 0
		}
		return cmp < 0
	})
}

func rowKey(row map[string]any, cols []string) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = fmt.Sprint(row[c])
	}
	return strings.Join(parts, "\x00")
}

// sortRows sorts rows by the given column.
func sortRows(rows []map[string]any, col, dir string) {
	sort.SliceStable(rows, func(i, j int) bool {
		cmp := compareValues(rows[i][col], rows[j][col])
		if dir == "DESC" {
			return cmp > 0
		}
		return cmp < 0
	})
}

func compareValues(a, b any) int {
	_, aStr := a.(string)
	_, bStr := b.(string)
	if !aStr && !bStr {
		af, aok := toFloat(a)
		bf, bok := toFloat(b)
		if aok && bok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			}
			return 0
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}
