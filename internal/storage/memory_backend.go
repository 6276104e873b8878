package storage

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/Benny93/repograph-go/internal/cypher"
	"github.com/Benny93/repograph-go/internal/graph"
)

// MemoryBackend keeps every named graph in process memory. It is used by
// tests and by one-shot builds that do not need persistence.
type MemoryBackend struct {
	mu     sync.RWMutex
	graphs map[string]*graph.PropertyGraph
	lastID atomic.Int64
}

// NewMemoryBackend creates a new in-memory storage backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{graphs: make(map[string]*graph.PropertyGraph)}
}

func (m *MemoryBackend) lookup(name string) (*graph.PropertyGraph, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.graphs[name]
	if !ok {
		return nil, ErrGraphNotFound
	}
	return g, nil
}

// CreateGraph implements Backend.
func (m *MemoryBackend) CreateGraph(_ context.Context, name string) error {
	name, err := ValidateGraphName(name)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.graphs[name]; ok {
		return &GraphExistsError{Name: name}
	}
	m.graphs[name] = graph.NewPropertyGraph()
	return nil
}

// DeleteGraph implements Backend.
func (m *MemoryBackend) DeleteGraph(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.graphs[name]; !ok {
		return ErrGraphNotFound
	}
	delete(m.graphs, name)
	return nil
}

// HasGraph implements Backend.
func (m *MemoryBackend) HasGraph(_ context.Context, name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.graphs[name]
	return ok, nil
}

// ListGraphs implements Backend.
func (m *MemoryBackend) ListGraphs(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.graphs))
	for name := range m.graphs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Begin implements Backend.
func (m *MemoryBackend) Begin(_ context.Context, name string) (Transaction, error) {
	g, err := m.lookup(name)
	if err != nil {
		return nil, err
	}
	tx := &memoryTransaction{backend: m, name: name, g: g}
	tx.stage.nextID = func() (int64, error) { return m.lastID.Add(1), nil }
	return tx, nil
}

// Add implements Backend.
func (m *MemoryBackend) Add(ctx context.Context, name string, items ...graph.Entity) error {
	return addAdHoc(ctx, m, name, items)
}

// GetAllNodesByLabel implements Backend.
func (m *MemoryBackend) GetAllNodesByLabel(_ context.Context, name string, label graph.NodeLabel) ([]*graph.GraphNode, error) {
	g, err := m.lookup(name)
	if err != nil {
		return nil, err
	}
	return g.GetNodesByLabel(label), nil
}

// GetNode implements Backend.
func (m *MemoryBackend) GetNode(_ context.Context, name string, id int64) (*graph.GraphNode, error) {
	g, err := m.lookup(name)
	if err != nil {
		return nil, err
	}
	return g.GetNode(id), nil
}

// Neighbours implements Backend.
func (m *MemoryBackend) Neighbours(ctx context.Context, name string, id int64, relType graph.RelType, dir Direction) ([]Neighbour, error) {
	g, err := m.lookup(name)
	if err != nil {
		return nil, err
	}
	return neighbours(ctx, cypher.FromPropertyGraph(g), id, relType, dir)
}

// ExecuteQuery implements Backend.
func (m *MemoryBackend) ExecuteQuery(ctx context.Context, name, query string, params map[string]any) (*cypher.Result, error) {
	g, err := m.lookup(name)
	if err != nil {
		return nil, err
	}
	return cypher.Execute(ctx, cypher.FromPropertyGraph(g), query, params)
}

// HasNodes implements Backend.
func (m *MemoryBackend) HasNodes(_ context.Context, name string) (bool, error) {
	g, err := m.lookup(name)
	if err != nil {
		return false, err
	}
	return g.NodeCount() > 0, nil
}

// Counts implements Backend.
func (m *MemoryBackend) Counts(_ context.Context, name string) (int, int, error) {
	g, err := m.lookup(name)
	if err != nil {
		return 0, 0, err
	}
	return g.NodeCount(), g.RelationshipCount(), nil
}

// Close implements Backend.
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.graphs = make(map[string]*graph.PropertyGraph)
	return nil
}

type memoryTransaction struct {
	backend *MemoryBackend
	name    string
	g       *graph.PropertyGraph
	stage   stager
}

func (t *memoryTransaction) Add(ctx context.Context, items ...graph.Entity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return t.stage.add(items...)
}

func (t *memoryTransaction) Commit(_ context.Context) error {
	if t.stage.closed {
		return ErrTransactionClosed
	}
	// The graph may have been dropped while the transaction was open.
	if _, err := t.backend.lookup(t.name); err != nil {
		t.stage.reset()
		return err
	}
	for _, n := range t.stage.nodes {
		t.g.AddNode(n)
	}
	for _, r := range t.stage.rels {
		t.g.AddRelationship(r)
	}
	t.stage.release()
	return nil
}

func (t *memoryTransaction) Rollback(_ context.Context) error {
	if t.stage.closed {
		return nil
	}
	t.stage.reset()
	return nil
}
