package cypher

import (
	"context"

	"github.com/Benny93/repograph-go/internal/graph"
)

type propertyGraphSource struct {
	g *graph.PropertyGraph
}

// FromPropertyGraph exposes an in-memory graph as a query source.
func FromPropertyGraph(g *graph.PropertyGraph) Source {
	return propertyGraphSource{g: g}
}

func (s propertyGraphSource) Nodes(_ context.Context, label graph.NodeLabel) ([]*graph.GraphNode, error) {
	if label == "" {
		return s.g.Nodes(), nil
	}
	return s.g.GetNodesByLabel(label), nil
}

func (s propertyGraphSource) Node(_ context.Context, id int64) (*graph.GraphNode, error) {
	return s.g.GetNode(id), nil
}

func (s propertyGraphSource) Outgoing(_ context.Context, id int64, types []graph.RelType) ([]*graph.GraphRelationship, error) {
	return s.g.GetOutgoing(id, types...), nil
}

func (s propertyGraphSource) Incoming(_ context.Context, id int64, types []graph.RelType) ([]*graph.GraphRelationship, error) {
	return s.g.GetIncoming(id, types...), nil
}
