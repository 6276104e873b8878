package analysis

import (
	"context"
	"sort"

	"github.com/Benny93/repograph-go/internal/graph"
	"github.com/Benny93/repograph-go/internal/storage"
)

// CircularDependencies returns the groups of modules that import each
// other, directly or transitively. An import of a class, function or
// variable counts as an import of the module declaring it. Each group is
// a sorted list of canonical names; groups are sorted by their first name.
func (s *Service) CircularDependencies(ctx context.Context, graphName string) ([][]string, error) {
	modules, err := s.backend.GetAllNodesByLabel(ctx, graphName, graph.NodeModule)
	if err != nil {
		return nil, err
	}

	names := make(map[int64]string, len(modules))
	for _, m := range modules {
		names[m.ID] = m.CanonicalName()
	}

	owners := make(map[int64]int64)
	edges := make(map[int64][]int64, len(modules))
	for _, m := range modules {
		imports, err := s.backend.Neighbours(ctx, graphName, m.ID, graph.RelImports, storage.Outgoing)
		if err != nil {
			return nil, err
		}
		seen := make(map[int64]bool)
		for _, imp := range imports {
			target, err := s.owningModule(ctx, graphName, imp.Node, owners)
			if err != nil {
				return nil, err
			}
			if target == 0 || seen[target] {
				continue
			}
			seen[target] = true
			edges[m.ID] = append(edges[m.ID], target)
		}
	}

	var cycles [][]string
	for _, component := range stronglyConnected(modules, edges) {
		if len(component) == 1 && !selfLoop(edges, component[0]) {
			continue
		}
		group := make([]string, 0, len(component))
		for _, id := range component {
			group = append(group, names[id])
		}
		sort.Strings(group)
		cycles = append(cycles, group)
	}
	sort.Slice(cycles, func(i, j int) bool { return cycles[i][0] < cycles[j][0] })
	return cycles, nil
}

// owningModule returns the ID of the module n belongs to: n itself for a
// module, the declaring module for classes, functions and variables, and 0
// for anything else. Results are memoised in owners.
func (s *Service) owningModule(ctx context.Context, graphName string, n *graph.GraphNode, owners map[int64]int64) (int64, error) {
	switch n.Label {
	case graph.NodeModule:
		return n.ID, nil
	case graph.NodeClass, graph.NodeFunction, graph.NodeVariable:
	default:
		return 0, nil
	}
	if id, ok := owners[n.ID]; ok {
		return id, nil
	}
	owners[n.ID] = 0

	parents, err := s.backend.Neighbours(ctx, graphName, n.ID, "", storage.Incoming)
	if err != nil {
		return 0, err
	}
	var owner int64
	var class *graph.GraphNode
	for _, p := range parents {
		switch p.Relationship.Type {
		case graph.RelContains, graph.RelHasFunction:
			if p.Node.Label == graph.NodeModule && owner == 0 {
				owner = p.Node.ID
			}
		case graph.RelHasMethod:
			class = p.Node
		}
	}
	if owner == 0 && class != nil {
		if owner, err = s.owningModule(ctx, graphName, class, owners); err != nil {
			return 0, err
		}
	}
	owners[n.ID] = owner
	return owner, nil
}

func selfLoop(edges map[int64][]int64, id int64) bool {
	for _, t := range edges[id] {
		if t == id {
			return true
		}
	}
	return false
}

// stronglyConnected runs Tarjan's algorithm iteratively and returns every
// strongly connected component.
func stronglyConnected(nodes []*graph.GraphNode, edges map[int64][]int64) [][]int64 {
	index := make(map[int64]int)
	low := make(map[int64]int)
	onStack := make(map[int64]bool)
	var stack []int64
	var components [][]int64
	next := 0

	type frame struct {
		id   int64
		edge int
	}

	for _, start := range nodes {
		if _, visited := index[start.ID]; visited {
			continue
		}

		work := []frame{{id: start.ID}}
		index[start.ID], low[start.ID] = next, next
		next++
		stack = append(stack, start.ID)
		onStack[start.ID] = true

		for len(work) > 0 {
			top := &work[len(work)-1]
			if top.edge < len(edges[top.id]) {
				w := edges[top.id][top.edge]
				top.edge++
				if _, visited := index[w]; !visited {
					index[w], low[w] = next, next
					next++
					stack = append(stack, w)
					onStack[w] = true
					work = append(work, frame{id: w})
				} else if onStack[w] && index[w] < low[top.id] {
					low[top.id] = index[w]
				}
				continue
			}

			v := top.id
			work = work[:len(work)-1]
			if len(work) > 0 {
				parent := work[len(work)-1].id
				if low[v] < low[parent] {
					low[parent] = low[v]
				}
			}
			if low[v] != index[v] {
				continue
			}

			var component []int64
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				component = append(component, w)
				if w == v {
					break
				}
			}
			components = append(components, component)
		}
	}
	return components
}
