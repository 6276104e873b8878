package analysis

import (
	"context"
	"sort"
	"strings"

	"github.com/Benny93/repograph-go/internal/graph"
	"github.com/Benny93/repograph-go/internal/storage"
)

// UncalledFunctions returns the functions and methods of graphName that
// nothing calls or imports. Entry points are exempt: main, dunder methods,
// test functions and test fixtures are reached by the interpreter or a
// test runner rather than by a call the extractor can see.
func (s *Service) UncalledFunctions(ctx context.Context, graphName string) ([]*graph.GraphNode, error) {
	fns, err := s.backend.GetAllNodesByLabel(ctx, graphName, graph.NodeFunction)
	if err != nil {
		return nil, err
	}

	var out []*graph.GraphNode
	for _, fn := range fns {
		if fn.Inferred() || isEntryPoint(fn.Name()) {
			continue
		}
		incoming, err := s.backend.Neighbours(ctx, graphName, fn.ID, "", storage.Incoming)
		if err != nil {
			return nil, err
		}
		if !referenced(incoming) {
			out = append(out, fn)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CanonicalName() < out[j].CanonicalName()
	})
	return out, nil
}

func referenced(incoming []storage.Neighbour) bool {
	for _, nb := range incoming {
		switch nb.Relationship.Type {
		case graph.RelCalls, graph.RelImports:
			return true
		}
	}
	return false
}

var fixtureNames = map[string]bool{
	"setUp": true, "tearDown": true, "setUpClass": true, "tearDownClass": true,
	"setUpModule": true, "tearDownModule": true,
}

func isEntryPoint(name string) bool {
	switch {
	case name == "main":
		return true
	case strings.HasPrefix(name, "__") && strings.HasSuffix(name, "__"):
		return true
	case strings.HasPrefix(name, "test_") || strings.HasPrefix(name, "Test"):
		return true
	}
	return fixtureNames[name]
}
