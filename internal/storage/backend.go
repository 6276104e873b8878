// Package storage provides the named-graph persistence layer for Repograph.
//
// It defines the Backend contract that every graph store satisfies, the
// Transaction that scopes one build's writes, and the typed errors surfaced
// to callers. Each named graph is isolated from every other one.
package storage

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/Benny93/repograph-go/internal/cypher"
	"github.com/Benny93/repograph-go/internal/graph"
)

// Direction selects which relationships Neighbours follows.
type Direction int

const (
	Outgoing Direction = iota
	Incoming
	Both
)

// ErrGraphNotFound is returned for operations on a graph that does not exist.
var ErrGraphNotFound = errors.New("graph not found")

// ErrTransactionClosed is returned when a committed or rolled back
// transaction is used again.
var ErrTransactionClosed = errors.New("transaction already closed")

// GraphExistsError is returned by CreateGraph when the name is taken.
type GraphExistsError struct {
	Name string
}

func (e *GraphExistsError) Error() string {
	return fmt.Sprintf("The graph '%s' already exists!", e.Name)
}

// InvalidGraphNameError is returned when a graph name cannot be used.
type InvalidGraphNameError struct {
	Name   string
	Reason string
}

func (e *InvalidGraphNameError) Error() string {
	return fmt.Sprintf("invalid graph name %q: %s", e.Name, e.Reason)
}

var graphNamePattern = regexp.MustCompile(`^[a-z][a-z0-9.-]*$`)

// ValidateGraphName folds name to lower case and checks it is usable as a
// database name. The folded name is returned.
func ValidateGraphName(name string) (string, error) {
	folded := strings.ToLower(strings.TrimSpace(name))
	switch {
	case len(folded) < 3 || len(folded) > 63:
		return "", &InvalidGraphNameError{Name: name, Reason: "must be between 3 and 63 characters"}
	case !graphNamePattern.MatchString(folded):
		return "", &InvalidGraphNameError{Name: name, Reason: "must start with a letter and contain only letters, digits, '.' or '-'"}
	}
	return folded, nil
}

// Neighbour pairs a relationship with the node on its other end.
type Neighbour struct {
	Relationship *graph.GraphRelationship
	Node         *graph.GraphNode
}

// Transaction stages writes against one named graph. Nothing is visible to
// readers until Commit returns.
type Transaction interface {
	// Add stages nodes and relationships. Unbound entities are assigned an
	// ID immediately; a relationship also binds any unbound endpoint.
	Add(ctx context.Context, items ...graph.Entity) error

	// Commit publishes everything staged.
	Commit(ctx context.Context) error

	// Rollback discards everything staged and unbinds staged entities.
	Rollback(ctx context.Context) error
}

// Backend is a store of isolated named graphs.
//
// Implementations must be safe for concurrent use across different graphs.
// Concurrent builds against the same graph are the caller's responsibility.
type Backend interface {
	// CreateGraph provisions a new named graph, or returns *GraphExistsError.
	CreateGraph(ctx context.Context, name string) error

	// DeleteGraph drops a named graph and all its contents.
	DeleteGraph(ctx context.Context, name string) error

	HasGraph(ctx context.Context, name string) (bool, error)
	ListGraphs(ctx context.Context) ([]string, error)

	// Begin opens a transaction scoped to a named graph.
	Begin(ctx context.Context, name string) (Transaction, error)

	// Add stages items in an ad-hoc transaction and commits it.
	Add(ctx context.Context, name string, items ...graph.Entity) error

	GetAllNodesByLabel(ctx context.Context, name string, label graph.NodeLabel) ([]*graph.GraphNode, error)

	// GetNode returns a node by ID, or nil when it does not exist.
	GetNode(ctx context.Context, name string, id int64) (*graph.GraphNode, error)

	// Neighbours returns the relationships of relType touching id, paired
	// with the node on the other end. An empty relType matches every type.
	Neighbours(ctx context.Context, name string, id int64, relType graph.RelType, dir Direction) ([]Neighbour, error)

	// ExecuteQuery runs a read-only Cypher query.
	ExecuteQuery(ctx context.Context, name, query string, params map[string]any) (*cypher.Result, error)

	HasNodes(ctx context.Context, name string) (bool, error)
	Counts(ctx context.Context, name string) (nodes, relationships int, err error)

	// Close releases all resources held by the backend.
	Close() error
}

// addAdHoc runs items through a single-shot transaction on b.
func addAdHoc(ctx context.Context, b Backend, name string, items []graph.Entity) (err error) {
	tx, err := b.Begin(ctx, name)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()
	if err = tx.Add(ctx, items...); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// stager assigns IDs to unbound entities and collects their storage form
// until a transaction commits.
type stager struct {
	nextID func() (int64, error)

	nodes  []*graph.GraphNode
	rels   []*graph.GraphRelationship
	bound  []graph.Entity
	closed bool
}

func (s *stager) add(items ...graph.Entity) error {
	if s.closed {
		return ErrTransactionClosed
	}
	for _, item := range items {
		switch v := item.(type) {
		case nil:
			return errors.New("cannot add a nil entity")
		case graph.Node:
			if err := s.addNode(v); err != nil {
				return err
			}
		case *graph.Relationship:
			if err := s.addRelationship(v); err != nil {
				return err
			}
		default:
			return fmt.Errorf("cannot add entity of type %T", item)
		}
	}
	return nil
}

func (s *stager) addNode(n graph.Node) error {
	if graph.Bound(n) {
		return nil
	}
	id, err := s.nextID()
	if err != nil {
		return fmt.Errorf("allocating node id: %w", err)
	}
	n.SetIdentity(id)
	s.bound = append(s.bound, n)
	s.nodes = append(s.nodes, graph.ToGraphNode(n))
	return nil
}

func (s *stager) addRelationship(r *graph.Relationship) error {
	if r.IsBound() {
		return nil
	}
	if r.Parent == nil || r.Child == nil {
		return fmt.Errorf("relationship %s has a nil endpoint", r.Type)
	}
	if err := s.addNode(r.Parent); err != nil {
		return err
	}
	if err := s.addNode(r.Child); err != nil {
		return err
	}
	id, err := s.nextID()
	if err != nil {
		return fmt.Errorf("allocating relationship id: %w", err)
	}
	r.SetIdentity(id)
	s.bound = append(s.bound, r)
	s.rels = append(s.rels, r.ToGraphRelationship())
	return nil
}

// reset unbinds everything staged and closes the stager.
func (s *stager) reset() {
	for _, e := range s.bound {
		e.Unbind()
	}
	s.release()
}

// release closes the stager, keeping the entities bound.
func (s *stager) release() {
	s.nodes, s.rels, s.bound = nil, nil, nil
	s.closed = true
}

func relTypeList(relType graph.RelType) []graph.RelType {
	if relType == "" {
		return nil
	}
	return []graph.RelType{relType}
}

// neighbours resolves Neighbour pairs through a cypher.Source.
func neighbours(ctx context.Context, src cypher.Source, id int64, relType graph.RelType, dir Direction) ([]Neighbour, error) {
	types := relTypeList(relType)
	var out []Neighbour
	collect := func(rels []*graph.GraphRelationship, incoming bool) error {
		for _, r := range rels {
			other := r.Target
			if incoming {
				other = r.Source
			}
			n, err := src.Node(ctx, other)
			if err != nil {
				return err
			}
			if n != nil {
				out = append(out, Neighbour{Relationship: r, Node: n})
			}
		}
		return nil
	}
	if dir == Outgoing || dir == Both {
		rels, err := src.Outgoing(ctx, id, types)
		if err != nil {
			return nil, err
		}
		if err := collect(rels, false); err != nil {
			return nil, err
		}
	}
	if dir == Incoming || dir == Both {
		rels, err := src.Incoming(ctx, id, types)
		if err != nil {
			return nil, err
		}
		if err := collect(rels, true); err != nil {
			return nil, err
		}
	}
	return out, nil
}
