package graph

import (
	"sort"
	"sync"
)

// PropertyGraph is an in-memory directed property graph of stored nodes
// and relationships, keyed by their store-assigned IDs.
//
// All query methods are backed by secondary indexes so that lookups by
// label, relationship type, or adjacency are O(result) rather than O(graph).
// Results are returned in ascending ID order.
type PropertyGraph struct {
	mu            sync.RWMutex
	nodes         map[int64]*GraphNode
	relationships map[int64]*GraphRelationship

	byLabel   map[NodeLabel]map[int64]*GraphNode
	byRelType map[RelType]map[int64]*GraphRelationship
	outgoing  map[int64]map[int64]*GraphRelationship
	incoming  map[int64]map[int64]*GraphRelationship
}

// NewPropertyGraph creates a new empty graph.
func NewPropertyGraph() *PropertyGraph {
	return &PropertyGraph{
		nodes:         make(map[int64]*GraphNode),
		relationships: make(map[int64]*GraphRelationship),
		byLabel:       make(map[NodeLabel]map[int64]*GraphNode),
		byRelType:     make(map[RelType]map[int64]*GraphRelationship),
		outgoing:      make(map[int64]map[int64]*GraphRelationship),
		incoming:      make(map[int64]map[int64]*GraphRelationship),
	}
}

// NodeCount returns the number of nodes.
func (g *PropertyGraph) NodeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// RelationshipCount returns the number of relationships.
func (g *PropertyGraph) RelationshipCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.relationships)
}

// CountNodesByLabel returns the count of nodes with the given label.
func (g *PropertyGraph) CountNodesByLabel(label NodeLabel) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.byLabel[label])
}

// AddNode adds a node, replacing any existing node with the same ID.
func (g *PropertyGraph) AddNode(node *GraphNode) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if old, ok := g.nodes[node.ID]; ok && old.Label != node.Label {
		delete(g.byLabel[old.Label], node.ID)
	}

	g.nodes[node.ID] = node

	if g.byLabel[node.Label] == nil {
		g.byLabel[node.Label] = make(map[int64]*GraphNode)
	}
	g.byLabel[node.Label][node.ID] = node
}

// GetNode returns the node with the given ID, or nil if it does not exist.
func (g *PropertyGraph) GetNode(id int64) *GraphNode {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nodes[id]
}

// AddRelationship adds a relationship, replacing any existing relationship
// with the same ID.
func (g *PropertyGraph) AddRelationship(rel *GraphRelationship) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if old, ok := g.relationships[rel.ID]; ok {
		delete(g.byRelType[old.Type], rel.ID)
		delete(g.outgoing[old.Source], rel.ID)
		delete(g.incoming[old.Target], rel.ID)
	}

	g.relationships[rel.ID] = rel

	if g.byRelType[rel.Type] == nil {
		g.byRelType[rel.Type] = make(map[int64]*GraphRelationship)
	}
	g.byRelType[rel.Type][rel.ID] = rel

	if g.outgoing[rel.Source] == nil {
		g.outgoing[rel.Source] = make(map[int64]*GraphRelationship)
	}
	g.outgoing[rel.Source][rel.ID] = rel

	if g.incoming[rel.Target] == nil {
		g.incoming[rel.Target] = make(map[int64]*GraphRelationship)
	}
	g.incoming[rel.Target][rel.ID] = rel
}

// Nodes returns all nodes.
func (g *PropertyGraph) Nodes() []*GraphNode {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedNodes(g.nodes)
}

// Relationships returns all relationships.
func (g *PropertyGraph) Relationships() []*GraphRelationship {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedRels(g.relationships)
}

// GetNodesByLabel returns all nodes with the given label.
func (g *PropertyGraph) GetNodesByLabel(label NodeLabel) []*GraphNode {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedNodes(g.byLabel[label])
}

// GetRelationshipsByType returns all relationships with the given type.
func (g *PropertyGraph) GetRelationshipsByType(relType RelType) []*GraphRelationship {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedRels(g.byRelType[relType])
}

// GetOutgoing returns relationships originating from the given node.
// If relTypes are given, only relationships of those types are returned.
func (g *PropertyGraph) GetOutgoing(id int64, relTypes ...RelType) []*GraphRelationship {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return filterRels(g.outgoing[id], relTypes)
}

// GetIncoming returns relationships targeting the given node.
// If relTypes are given, only relationships of those types are returned.
func (g *PropertyGraph) GetIncoming(id int64, relTypes ...RelType) []*GraphRelationship {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return filterRels(g.incoming[id], relTypes)
}

func filterRels(rels map[int64]*GraphRelationship, relTypes []RelType) []*GraphRelationship {
	if len(relTypes) == 0 {
		return sortedRels(rels)
	}
	want := make(map[RelType]bool, len(relTypes))
	for _, t := range relTypes {
		want[t] = true
	}
	filtered := make(map[int64]*GraphRelationship)
	for id, rel := range rels {
		if want[rel.Type] {
			filtered[id] = rel
		}
	}
	return sortedRels(filtered)
}

func sortedNodes(m map[int64]*GraphNode) []*GraphNode {
	out := make([]*GraphNode, 0, len(m))
	for _, n := range m {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func sortedRels(m map[int64]*GraphRelationship) []*GraphRelationship {
	out := make([]*GraphRelationship, 0, len(m))
	for _, r := range m {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
