package builder

import (
	"strings"

	"go.uber.org/zap"

	"github.com/Benny93/repograph-go/internal/graph"
	"github.com/Benny93/repograph-go/internal/paths"
)

// symbolNames returns the name and canonical name of a node that can be
// looked up by name.
func symbolNames(n graph.Node) (string, string) {
	switch v := n.(type) {
	case *graph.Module:
		return v.Name, v.CanonicalName
	case *graph.Package:
		return v.Name, v.CanonicalName
	case *graph.Class:
		return v.Name, v.CanonicalName
	case *graph.Function:
		return v.Name, v.CanonicalName
	case *graph.Variable:
		return v.Name, v.CanonicalName
	}
	return "", ""
}

// findByName picks the node a (possibly dotted) name refers to. The
// strategies run in order and the first one with any match wins:
//
//  1. exact canonical name
//  2. exact name
//  3. every dotted segment occurs in the canonical name (relative imports)
//  4. the last segment equals the name
//
// Several matches are logged and the first is returned.
func (s *state) findByName(nodes []graph.Node, name string) graph.Node {
	if name == "" {
		return nil
	}
	parts := strings.Split(name, ".")
	last := paths.LastSegment(name)

	strategies := []func(n, canonical string) bool{
		func(_, canonical string) bool { return canonical == name },
		func(n, _ string) bool { return n == name },
		func(_, canonical string) bool {
			for _, p := range parts {
				if !strings.Contains(canonical, p) {
					return false
				}
			}
			return true
		},
		func(n, _ string) bool { return n == last },
	}

	for _, match := range strategies {
		var found []graph.Node
		for _, node := range nodes {
			if node == nil {
				continue
			}
			n, canonical := symbolNames(node)
			if match(n, canonical) {
				found = append(found, node)
			}
		}
		if len(found) == 0 {
			continue
		}
		if len(found) > 1 {
			s.logger.Warn("More than one result found! Returning first.", zap.String("name", name))
		}
		return found[0]
	}
	return nil
}
