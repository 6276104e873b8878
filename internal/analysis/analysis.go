// Package analysis answers read-only questions about a built graph: what it
// contains, who calls what, which dependencies could not be found and
// where modules import each other in a cycle.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/Benny93/repograph-go/internal/graph"
	"github.com/Benny93/repograph-go/internal/storage"
)

// ErrNodeNotFound is returned when a node ID does not exist in the graph.
var ErrNodeNotFound = errors.New("node not found")

// Service runs analyses against one graph store.
type Service struct {
	backend storage.Backend
	logger  *zap.Logger
}

// New creates a Service over backend.
func New(backend storage.Backend, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{backend: backend, logger: logger.Named("analysis")}
}

// GraphSummary gives the size of a graph.
type GraphSummary struct {
	IsEmpty            bool `json:"is_empty"`
	NodesTotal         int  `json:"nodes_total"`
	RelationshipsTotal int  `json:"relationships_total"`
	Repositories       int  `json:"repositories"`
	Packages           int  `json:"packages"`
	Modules            int  `json:"modules"`
	Classes            int  `json:"classes"`
	Functions          int  `json:"functions"`
}

// Summary counts the nodes and relationships of graphName.
func (s *Service) Summary(ctx context.Context, graphName string) (*GraphSummary, error) {
	nodes, rels, err := s.backend.Counts(ctx, graphName)
	if err != nil {
		return nil, err
	}
	sum := &GraphSummary{IsEmpty: nodes == 0, NodesTotal: nodes, RelationshipsTotal: rels}

	for label, dst := range map[graph.NodeLabel]*int{
		graph.NodeRepository: &sum.Repositories,
		graph.NodePackage:    &sum.Packages,
		graph.NodeModule:     &sum.Modules,
		graph.NodeClass:      &sum.Classes,
		graph.NodeFunction:   &sum.Functions,
	} {
		ns, err := s.backend.GetAllNodesByLabel(ctx, graphName, label)
		if err != nil {
			return nil, err
		}
		*dst = len(ns)
	}
	return sum, nil
}

// RepositoryNames lists the repositories built into graphName.
func (s *Service) RepositoryNames(ctx context.Context, graphName string) ([]string, error) {
	repos, err := s.backend.GetAllNodesByLabel(ctx, graphName, graph.NodeRepository)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(repos))
	for _, r := range repos {
		names = append(names, r.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Edge is a relationship between two nodes of a CallGraph.
type Edge struct {
	ID     int64         `json:"id"`
	Type   graph.RelType `json:"type"`
	Source int64         `json:"source"`
	Target int64         `json:"target"`
}

// CallGraph is a node with its direct callers and callees.
type CallGraph struct {
	Nodes []*graph.GraphNode `json:"nodes"`
	Edges []Edge             `json:"edges"`
}

// CallGraph returns the node with ID id together with everything it calls
// and everything calling it.
func (s *Service) CallGraph(ctx context.Context, graphName string, id int64) (*CallGraph, error) {
	root, err := s.backend.GetNode(ctx, graphName, id)
	if err != nil {
		return nil, err
	}
	if root == nil {
		return nil, fmt.Errorf("%w: %d", ErrNodeNotFound, id)
	}

	neighbours, err := s.backend.Neighbours(ctx, graphName, id, graph.RelCalls, storage.Both)
	if err != nil {
		return nil, err
	}

	cg := &CallGraph{Nodes: []*graph.GraphNode{root}}
	seen := map[int64]bool{root.ID: true}
	for _, nb := range neighbours {
		if !seen[nb.Node.ID] {
			seen[nb.Node.ID] = true
			cg.Nodes = append(cg.Nodes, nb.Node)
		}
		r := nb.Relationship
		cg.Edges = append(cg.Edges, Edge{ID: r.ID, Type: r.Type, Source: r.Source, Target: r.Target})
	}
	return cg, nil
}

// missingLabels are the labels a placeholder can carry.
var missingLabels = []graph.NodeLabel{
	graph.NodePackage, graph.NodeModule, graph.NodeClass, graph.NodeFunction, graph.NodeVariable,
}

// MissingDependencies returns the placeholder nodes created for imports
// whose definitions were not part of the build. Builtin functions are
// placeholders too but are not missing, so they are left out.
func (s *Service) MissingDependencies(ctx context.Context, graphName string) ([]*graph.GraphNode, error) {
	var out []*graph.GraphNode
	for _, label := range missingLabels {
		nodes, err := s.backend.GetAllNodesByLabel(ctx, graphName, label)
		if err != nil {
			return nil, err
		}
		for _, n := range nodes {
			if !n.Inferred() {
				continue
			}
			if builtin, _ := n.Properties["builtin"].(bool); builtin {
				continue
			}
			out = append(out, n)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CanonicalName() < out[j].CanonicalName()
	})
	return out, nil
}

// FunctionSummaries maps each generated or written summary to the function
// it documents.
func (s *Service) FunctionSummaries(ctx context.Context, graphName string) (map[string]*graph.Function, error) {
	docs, err := s.backend.GetAllNodesByLabel(ctx, graphName, graph.NodeDocstring)
	if err != nil {
		return nil, err
	}

	out := make(map[string]*graph.Function)
	for _, d := range docs {
		summary, _ := d.Properties["summarization"].(string)
		if summary == "" {
			continue
		}
		targets, err := s.backend.Neighbours(ctx, graphName, d.ID, graph.RelDocuments, storage.Outgoing)
		if err != nil {
			return nil, err
		}
		for _, t := range targets {
			if t.Node.Label != graph.NodeFunction {
				continue
			}
			n, err := graph.DecodeNode(t.Node)
			if err != nil {
				return nil, err
			}
			if prev, ok := out[summary]; ok {
				s.logger.Debug("Summary shared by several functions",
					zap.String("kept", prev.CanonicalName), zap.String("dropped", t.Node.CanonicalName()))
				continue
			}
			out[summary] = n.(*graph.Function)
		}
	}
	return out, nil
}
