package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/Benny93/repograph-go/internal/cypher"
	"github.com/Benny93/repograph-go/internal/graph"
)

// Key prefixes. Every value starts with the 8-byte generation of the
// transaction that wrote it; a generation is visible once its commit
// marker exists.
const (
	prefixNode     = "n:" // node data
	prefixRel      = "r:" // relationship data
	prefixLabel    = "l:" // label -> node index
	prefixOutgoing = "o:" // source -> type -> relationship
	prefixIncoming = "i:" // target -> type -> relationship
	prefixCommit   = "g:" // committed generation markers

	keyIDSeq  = "seq:id"
	keyGenSeq = "seq:gen"

	graphsDirName = "graphs"
	genSize       = 8
)

var dataPrefixes = []string{prefixNode, prefixRel, prefixLabel, prefixOutgoing, prefixIncoming}

// BadgerBackend stores each named graph in its own BadgerDB under
// <dir>/graphs/<name>.
type BadgerBackend struct {
	dir    string
	logger *zap.Logger

	mu     sync.Mutex
	graphs map[string]*badgerGraph
}

// NewBadgerBackend creates a backend rooted at dir. Graph databases are
// opened on first use.
func NewBadgerBackend(dir string, logger *zap.Logger) *BadgerBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BadgerBackend{
		dir:    dir,
		logger: logger.Named("badger"),
		graphs: make(map[string]*badgerGraph),
	}
}

func (b *BadgerBackend) graphPath(name string) string {
	return filepath.Join(b.dir, graphsDirName, name)
}

// get returns the open database of a graph, opening it if needed.
func (b *BadgerBackend) get(name string) (*badgerGraph, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if g, ok := b.graphs[name]; ok {
		return g, nil
	}
	info, err := os.Stat(b.graphPath(name))
	if errors.Is(err, os.ErrNotExist) || (err == nil && !info.IsDir()) {
		return nil, ErrGraphNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("stat graph %s: %w", name, err)
	}
	g, err := openBadgerGraph(b.graphPath(name), b.logger.With(zap.String("graph", name)))
	if err != nil {
		return nil, err
	}
	b.graphs[name] = g
	return g, nil
}

// CreateGraph implements Backend.
func (b *BadgerBackend) CreateGraph(_ context.Context, name string) error {
	name, err := ValidateGraphName(name)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := os.MkdirAll(filepath.Join(b.dir, graphsDirName), 0o755); err != nil {
		return fmt.Errorf("creating graphs directory: %w", err)
	}
	path := b.graphPath(name)
	if err := os.Mkdir(path, 0o755); err != nil {
		if errors.Is(err, os.ErrExist) {
			return &GraphExistsError{Name: name}
		}
		return fmt.Errorf("creating graph %s: %w", name, err)
	}

	g, err := openBadgerGraph(path, b.logger.With(zap.String("graph", name)))
	if err != nil {
		_ = os.RemoveAll(path)
		return err
	}
	b.graphs[name] = g
	return nil
}

// DeleteGraph implements Backend.
func (b *BadgerBackend) DeleteGraph(_ context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if g, ok := b.graphs[name]; ok {
		if err := g.close(); err != nil {
			b.logger.Warn("closing graph before delete", zap.String("graph", name), zap.Error(err))
		}
		delete(b.graphs, name)
	}
	path := b.graphPath(name)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return ErrGraphNotFound
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("deleting graph %s: %w", name, err)
	}
	return nil
}

// HasGraph implements Backend.
func (b *BadgerBackend) HasGraph(_ context.Context, name string) (bool, error) {
	info, err := os.Stat(b.graphPath(name))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.IsDir(), nil
}

// ListGraphs implements Backend.
func (b *BadgerBackend) ListGraphs(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(b.dir, graphsDirName))
	if errors.Is(err, os.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing graphs: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Begin implements Backend.
func (b *BadgerBackend) Begin(_ context.Context, name string) (Transaction, error) {
	g, err := b.get(name)
	if err != nil {
		return nil, err
	}
	tx := &badgerTransaction{g: g}
	tx.stage.nextID = g.nextID
	return tx, nil
}

// Add implements Backend.
func (b *BadgerBackend) Add(ctx context.Context, name string, items ...graph.Entity) error {
	return addAdHoc(ctx, b, name, items)
}

// view runs fn against a consistent read snapshot of a graph.
func (b *BadgerBackend) view(name string, fn func(v *badgerView) error) error {
	g, err := b.get(name)
	if err != nil {
		return err
	}
	return g.db.View(func(txn *badger.Txn) error {
		return fn(&badgerView{g: g, txn: txn})
	})
}

// GetAllNodesByLabel implements Backend.
func (b *BadgerBackend) GetAllNodesByLabel(ctx context.Context, name string, label graph.NodeLabel) ([]*graph.GraphNode, error) {
	var nodes []*graph.GraphNode
	err := b.view(name, func(v *badgerView) error {
		var err error
		nodes, err = v.Nodes(ctx, label)
		return err
	})
	return nodes, err
}

// GetNode implements Backend.
func (b *BadgerBackend) GetNode(ctx context.Context, name string, id int64) (*graph.GraphNode, error) {
	var node *graph.GraphNode
	err := b.view(name, func(v *badgerView) error {
		var err error
		node, err = v.Node(ctx, id)
		return err
	})
	return node, err
}

// Neighbours implements Backend.
func (b *BadgerBackend) Neighbours(ctx context.Context, name string, id int64, relType graph.RelType, dir Direction) ([]Neighbour, error) {
	var out []Neighbour
	err := b.view(name, func(v *badgerView) error {
		var err error
		out, err = neighbours(ctx, v, id, relType, dir)
		return err
	})
	return out, err
}

// ExecuteQuery implements Backend.
func (b *BadgerBackend) ExecuteQuery(ctx context.Context, name, query string, params map[string]any) (*cypher.Result, error) {
	var res *cypher.Result
	err := b.view(name, func(v *badgerView) error {
		var err error
		res, err = cypher.Execute(ctx, v, query, params)
		return err
	})
	return res, err
}

// HasNodes implements Backend.
func (b *BadgerBackend) HasNodes(_ context.Context, name string) (bool, error) {
	found := false
	err := b.view(name, func(v *badgerView) error {
		return v.scan(prefixNode, func(_ []byte, _ []byte) (bool, error) {
			found = true
			return false, nil
		})
	})
	return found, err
}

// Counts implements Backend.
func (b *BadgerBackend) Counts(_ context.Context, name string) (int, int, error) {
	var nodes, rels int
	err := b.view(name, func(v *badgerView) error {
		if err := v.scan(prefixNode, func(_, _ []byte) (bool, error) {
			nodes++
			return true, nil
		}); err != nil {
			return err
		}
		return v.scan(prefixRel, func(_, _ []byte) (bool, error) {
			rels++
			return true, nil
		})
	})
	return nodes, rels, err
}

// Close implements Backend.
func (b *BadgerBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var errs []error
	for name, g := range b.graphs {
		if err := g.close(); err != nil {
			errs = append(errs, fmt.Errorf("closing graph %s: %w", name, err))
		}
		delete(b.graphs, name)
	}
	return errors.Join(errs...)
}

// badgerGraph is one open graph database.
type badgerGraph struct {
	db     *badger.DB
	ids    *badger.Sequence
	gens   *badger.Sequence
	logger *zap.Logger

	mu        sync.RWMutex
	committed map[uint64]bool
}

func openBadgerGraph(path string, logger *zap.Logger) (*badgerGraph, error) {
	opts := badger.DefaultOptions(path).
		WithNumCompactors(2).
		WithNumMemtables(5).
		WithLoggingLevel(badger.ERROR) // Suppress INFO/WARNING logs

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger DB: %w", err)
	}
	g := &badgerGraph{db: db, logger: logger, committed: make(map[uint64]bool)}

	if g.ids, err = db.GetSequence([]byte(keyIDSeq), 1000); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("id sequence: %w", err)
	}
	if g.gens, err = db.GetSequence([]byte(keyGenSeq), 10); err != nil {
		_ = g.ids.Release()
		_ = db.Close()
		return nil, fmt.Errorf("generation sequence: %w", err)
	}
	if err := g.loadCommitted(); err != nil {
		_ = g.close()
		return nil, err
	}
	if err := g.collectOrphans(); err != nil {
		_ = g.close()
		return nil, err
	}
	return g, nil
}

func (g *badgerGraph) close() error {
	var errs []error
	if g.ids != nil {
		errs = append(errs, g.ids.Release())
	}
	if g.gens != nil {
		errs = append(errs, g.gens.Release())
	}
	errs = append(errs, g.db.Close())
	return errors.Join(errs...)
}

func (g *badgerGraph) nextID() (int64, error) {
	n, err := g.ids.Next()
	if err != nil {
		return 0, err
	}
	return int64(n) + 1, nil
}

func (g *badgerGraph) isCommitted(gen uint64) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.committed[gen]
}

func (g *badgerGraph) loadCommitted() error {
	return g.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixCommit)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			gen, err := strconv.ParseUint(strings.TrimPrefix(string(it.Item().Key()), prefixCommit), 16, 64)
			if err != nil {
				return fmt.Errorf("corrupt commit marker %q: %w", it.Item().Key(), err)
			}
			g.committed[gen] = true
		}
		return nil
	})
}

// collectOrphans deletes entries of generations that never committed,
// left behind by a commit that failed part way.
func (g *badgerGraph) collectOrphans() error {
	var orphans [][]byte
	err := g.db.View(func(txn *badger.Txn) error {
		for _, prefix := range dataPrefixes {
			opts := badger.DefaultIteratorOptions
			opts.Prefix = []byte(prefix)
			it := txn.NewIterator(opts)
			for it.Rewind(); it.Valid(); it.Next() {
				item := it.Item()
				var gen uint64
				if err := item.Value(func(val []byte) error {
					gen = decodeGen(val)
					return nil
				}); err != nil {
					it.Close()
					return err
				}
				if !g.committed[gen] {
					orphans = append(orphans, item.KeyCopy(nil))
				}
			}
			it.Close()
		}
		return nil
	})
	if err != nil || len(orphans) == 0 {
		return err
	}

	g.logger.Warn("removing entries of uncommitted transactions", zap.Int("keys", len(orphans)))
	wb := g.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range orphans {
		if err := wb.Delete(key); err != nil {
			return fmt.Errorf("deleting orphan: %w", err)
		}
	}
	return wb.Flush()
}

// commit writes staged nodes and relationships under a fresh generation and
// publishes it with a commit marker.
func (g *badgerGraph) commit(nodes []*graph.GraphNode, rels []*graph.GraphRelationship) error {
	n, err := g.gens.Next()
	if err != nil {
		return fmt.Errorf("allocating generation: %w", err)
	}
	gen := n + 1

	wb := g.db.NewWriteBatch()
	defer wb.Cancel()

	for _, node := range nodes {
		data, err := json.Marshal(node)
		if err != nil {
			return fmt.Errorf("marshaling node: %w", err)
		}
		if err := wb.Set(nodeKey(node.ID), stamp(gen, data)); err != nil {
			return fmt.Errorf("setting node: %w", err)
		}
		if err := wb.Set(labelKey(node.Label, node.ID), stamp(gen, nil)); err != nil {
			return fmt.Errorf("setting label index: %w", err)
		}
	}
	for _, rel := range rels {
		data, err := json.Marshal(rel)
		if err != nil {
			return fmt.Errorf("marshaling relationship: %w", err)
		}
		if err := wb.Set(relKey(rel.ID), stamp(gen, data)); err != nil {
			return fmt.Errorf("setting relationship: %w", err)
		}
		if err := wb.Set(adjacencyKey(prefixOutgoing, rel.Source, rel.Type, rel.ID), stamp(gen, nil)); err != nil {
			return fmt.Errorf("setting outgoing index: %w", err)
		}
		if err := wb.Set(adjacencyKey(prefixIncoming, rel.Target, rel.Type, rel.ID), stamp(gen, nil)); err != nil {
			return fmt.Errorf("setting incoming index: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("writing batch: %w", err)
	}

	if err := g.db.Update(func(txn *badger.Txn) error {
		return txn.Set(commitKey(gen), nil)
	}); err != nil {
		return fmt.Errorf("publishing generation: %w", err)
	}

	g.mu.Lock()
	g.committed[gen] = true
	g.mu.Unlock()
	return nil
}

type badgerTransaction struct {
	g     *badgerGraph
	stage stager
}

func (t *badgerTransaction) Add(ctx context.Context, items ...graph.Entity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return t.stage.add(items...)
}

func (t *badgerTransaction) Commit(ctx context.Context) error {
	if t.stage.closed {
		return ErrTransactionClosed
	}
	if err := ctx.Err(); err != nil {
		t.stage.reset()
		return err
	}
	if err := t.g.commit(t.stage.nodes, t.stage.rels); err != nil {
		t.stage.reset()
		return err
	}
	t.stage.release()
	return nil
}

func (t *badgerTransaction) Rollback(_ context.Context) error {
	if !t.stage.closed {
		t.stage.reset()
	}
	return nil
}

// badgerView answers reads within one badger read transaction. It is the
// cypher.Source for ExecuteQuery.
type badgerView struct {
	g   *badgerGraph
	txn *badger.Txn
}

// scan calls fn with the key and payload of every committed entry under
// prefix until fn returns false.
func (v *badgerView) scan(prefix string, fn func(key, payload []byte) (bool, error)) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	it := v.txn.NewIterator(opts)
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if !v.g.isCommitted(decodeGen(val)) {
			continue
		}
		more, err := fn(item.KeyCopy(nil), val[genSize:])
		if err != nil || !more {
			return err
		}
	}
	return nil
}

func (v *badgerView) get(key []byte) ([]byte, error) {
	item, err := v.txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	if len(val) < genSize || !v.g.isCommitted(decodeGen(val)) {
		return nil, nil
	}
	return val[genSize:], nil
}

func (v *badgerView) Nodes(ctx context.Context, label graph.NodeLabel) ([]*graph.GraphNode, error) {
	var nodes []*graph.GraphNode
	if label == "" {
		err := v.scan(prefixNode, func(_, payload []byte) (bool, error) {
			var n graph.GraphNode
			if err := json.Unmarshal(payload, &n); err != nil {
				return false, fmt.Errorf("unmarshaling node: %w", err)
			}
			graph.NormaliseProperties(n.Label, n.Properties)
			nodes = append(nodes, &n)
			return true, nil
		})
		return nodes, err
	}

	prefix := prefixLabel + string(label) + ":"
	err := v.scan(prefix, func(key, _ []byte) (bool, error) {
		id, err := parseID(strings.TrimPrefix(string(key), prefix))
		if err != nil {
			return false, err
		}
		n, err := v.Node(ctx, id)
		if err != nil {
			return false, err
		}
		if n != nil {
			nodes = append(nodes, n)
		}
		return true, nil
	})
	return nodes, err
}

func (v *badgerView) Node(_ context.Context, id int64) (*graph.GraphNode, error) {
	data, err := v.get(nodeKey(id))
	if err != nil || data == nil {
		return nil, err
	}
	var n graph.GraphNode
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("unmarshaling node: %w", err)
	}
	graph.NormaliseProperties(n.Label, n.Properties)
	return &n, nil
}

func (v *badgerView) relationship(id int64) (*graph.GraphRelationship, error) {
	data, err := v.get(relKey(id))
	if err != nil || data == nil {
		return nil, err
	}
	var r graph.GraphRelationship
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("unmarshaling relationship: %w", err)
	}
	graph.NormaliseProperties("", r.Properties)
	return &r, nil
}

func (v *badgerView) Outgoing(ctx context.Context, id int64, types []graph.RelType) ([]*graph.GraphRelationship, error) {
	return v.adjacent(ctx, prefixOutgoing, id, types)
}

func (v *badgerView) Incoming(ctx context.Context, id int64, types []graph.RelType) ([]*graph.GraphRelationship, error) {
	return v.adjacent(ctx, prefixIncoming, id, types)
}

func (v *badgerView) adjacent(_ context.Context, direction string, id int64, types []graph.RelType) ([]*graph.GraphRelationship, error) {
	base := direction + formatID(id) + ":"
	prefixes := []string{base}
	if len(types) > 0 {
		prefixes = prefixes[:0]
		for _, t := range types {
			prefixes = append(prefixes, base+string(t)+":")
		}
	}

	var rels []*graph.GraphRelationship
	for _, prefix := range prefixes {
		err := v.scan(prefix, func(key, _ []byte) (bool, error) {
			k := string(key)
			relID, err := parseID(k[strings.LastIndexByte(k, ':')+1:])
			if err != nil {
				return false, err
			}
			r, err := v.relationship(relID)
			if err != nil {
				return false, err
			}
			if r != nil {
				rels = append(rels, r)
			}
			return true, nil
		})
		if err != nil {
			return nil, err
		}
	}
	sort.Slice(rels, func(i, j int) bool { return rels[i].ID < rels[j].ID })
	return rels, nil
}

func formatID(id int64) string {
	return fmt.Sprintf("%016x", uint64(id))
}

func parseID(s string) (int64, error) {
	n, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt id %q: %w", s, err)
	}
	return int64(n), nil
}

func nodeKey(id int64) []byte {
	return []byte(prefixNode + formatID(id))
}

func relKey(id int64) []byte {
	return []byte(prefixRel + formatID(id))
}

func labelKey(label graph.NodeLabel, id int64) []byte {
	return []byte(prefixLabel + string(label) + ":" + formatID(id))
}

func adjacencyKey(direction string, nodeID int64, relType graph.RelType, relID int64) []byte {
	return []byte(direction + formatID(nodeID) + ":" + string(relType) + ":" + formatID(relID))
}

func commitKey(gen uint64) []byte {
	return []byte(fmt.Sprintf("%s%016x", prefixCommit, gen))
}

func stamp(gen uint64, payload []byte) []byte {
	out := make([]byte, genSize+len(payload))
	binary.BigEndian.PutUint64(out, gen)
	copy(out[genSize:], payload)
	return out
}

func decodeGen(val []byte) uint64 {
	if len(val) < genSize {
		return 0
	}
	return binary.BigEndian.Uint64(val)
}
