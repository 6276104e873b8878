package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/Benny93/repograph-go/internal/cypher"
	"github.com/Benny93/repograph-go/internal/graph"
)

const (
	systemDatabase       = "system"
	defaultDatabase      = "neo4j"
	codeDatabaseExists   = "Neo.ClientError.Database.ExistingDatabaseFound"
	codeDatabaseNotFound = "Neo.ClientError.Database.DatabaseNotFound"
)

// Neo4jBackend maps each named graph onto a Neo4j database. It needs an
// edition that supports multiple databases.
type Neo4jBackend struct {
	driver neo4j.DriverWithContext
	logger *zap.Logger
}

// NewNeo4jBackend connects to uri and verifies the connection.
func NewNeo4jBackend(ctx context.Context, uri, username, password string, logger *zap.Logger) (*Neo4jBackend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("creating neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("connecting to neo4j: %w", err)
	}
	return &Neo4jBackend{driver: driver, logger: logger.Named("neo4j")}, nil
}

func (b *Neo4jBackend) query(ctx context.Context, database, query string, params map[string]any) (*neo4j.EagerResult, error) {
	res, err := neo4j.ExecuteQuery(ctx, b.driver, query, params,
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(database))
	if err != nil {
		if hasCode(err, codeDatabaseNotFound) {
			return nil, ErrGraphNotFound
		}
		return nil, err
	}
	return res, nil
}

func hasCode(err error, code string) bool {
	var neoErr *neo4j.Neo4jError
	return errors.As(err, &neoErr) && neoErr.Code == code
}

// CreateGraph implements Backend.
func (b *Neo4jBackend) CreateGraph(ctx context.Context, name string) error {
	name, err := ValidateGraphName(name)
	if err != nil {
		return err
	}
	if _, err := b.query(ctx, systemDatabase, "CREATE DATABASE $name WAIT", map[string]any{"name": name}); err != nil {
		if hasCode(err, codeDatabaseExists) {
			return &GraphExistsError{Name: name}
		}
		return fmt.Errorf("creating database %s: %w", name, err)
	}
	return nil
}

// DeleteGraph implements Backend.
func (b *Neo4jBackend) DeleteGraph(ctx context.Context, name string) error {
	exists, err := b.HasGraph(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		return ErrGraphNotFound
	}
	if _, err := b.query(ctx, systemDatabase, "DROP DATABASE $name WAIT", map[string]any{"name": name}); err != nil {
		return fmt.Errorf("dropping database %s: %w", name, err)
	}
	return nil
}

// HasGraph implements Backend.
func (b *Neo4jBackend) HasGraph(ctx context.Context, name string) (bool, error) {
	res, err := b.query(ctx, systemDatabase,
		"SHOW DATABASES YIELD name WHERE name = $name RETURN name", map[string]any{"name": name})
	if err != nil {
		return false, fmt.Errorf("listing databases: %w", err)
	}
	return len(res.Records) > 0, nil
}

// ListGraphs implements Backend. The system and default databases are not
// graphs.
func (b *Neo4jBackend) ListGraphs(ctx context.Context) ([]string, error) {
	res, err := b.query(ctx, systemDatabase,
		"SHOW DATABASES YIELD name WHERE NOT name IN $reserved RETURN DISTINCT name ORDER BY name",
		map[string]any{"reserved": []string{systemDatabase, defaultDatabase}})
	if err != nil {
		return nil, fmt.Errorf("listing databases: %w", err)
	}
	names := make([]string, 0, len(res.Records))
	for _, rec := range res.Records {
		if s, ok := rec.Values[0].(string); ok {
			names = append(names, s)
		}
	}
	return names, nil
}

// Begin implements Backend.
func (b *Neo4jBackend) Begin(ctx context.Context, name string) (Transaction, error) {
	session := b.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: name, AccessMode: neo4j.AccessModeWrite})
	tx, err := session.BeginTransaction(ctx)
	if err != nil {
		_ = session.Close(ctx)
		if hasCode(err, codeDatabaseNotFound) {
			return nil, ErrGraphNotFound
		}
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	return &neo4jTransaction{session: session, tx: tx}, nil
}

// Add implements Backend.
func (b *Neo4jBackend) Add(ctx context.Context, name string, items ...graph.Entity) error {
	return addAdHoc(ctx, b, name, items)
}

// GetAllNodesByLabel implements Backend.
func (b *Neo4jBackend) GetAllNodesByLabel(ctx context.Context, name string, label graph.NodeLabel) ([]*graph.GraphNode, error) {
	if err := checkLabel(label); err != nil {
		return nil, err
	}
	res, err := b.query(ctx, name, fmt.Sprintf("MATCH (n:%s) RETURN n ORDER BY id(n)", label), nil)
	if err != nil {
		return nil, err
	}
	nodes := make([]*graph.GraphNode, 0, len(res.Records))
	for _, rec := range res.Records {
		if n, ok := rec.Values[0].(neo4j.Node); ok {
			nodes = append(nodes, fromNeo4jNode(n))
		}
	}
	return nodes, nil
}

// GetNode implements Backend.
func (b *Neo4jBackend) GetNode(ctx context.Context, name string, id int64) (*graph.GraphNode, error) {
	res, err := b.query(ctx, name, "MATCH (n) WHERE id(n) = $id RETURN n", map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	if len(res.Records) == 0 {
		return nil, nil
	}
	n, ok := res.Records[0].Values[0].(neo4j.Node)
	if !ok {
		return nil, nil
	}
	return fromNeo4jNode(n), nil
}

// Neighbours implements Backend.
func (b *Neo4jBackend) Neighbours(ctx context.Context, name string, id int64, relType graph.RelType, dir Direction) ([]Neighbour, error) {
	typeFilter := ""
	params := map[string]any{"id": id}
	if relType != "" {
		typeFilter = " AND type(r) = $type"
		params["type"] = string(relType)
	}

	var patterns []string
	if dir == Outgoing || dir == Both {
		patterns = append(patterns, "MATCH (n)-[r]->(m) WHERE id(n) = $id"+typeFilter+" RETURN r, m ORDER BY id(r)")
	}
	if dir == Incoming || dir == Both {
		patterns = append(patterns, "MATCH (m)-[r]->(n) WHERE id(n) = $id"+typeFilter+" RETURN r, m ORDER BY id(r)")
	}

	var out []Neighbour
	for _, q := range patterns {
		res, err := b.query(ctx, name, q, params)
		if err != nil {
			return nil, err
		}
		for _, rec := range res.Records {
			r, rok := rec.Values[0].(neo4j.Relationship)
			m, mok := rec.Values[1].(neo4j.Node)
			if rok && mok {
				out = append(out, Neighbour{Relationship: fromNeo4jRelationship(r), Node: fromNeo4jNode(m)})
			}
		}
	}
	return out, nil
}

// ExecuteQuery implements Backend. The query runs natively on Neo4j.
func (b *Neo4jBackend) ExecuteQuery(ctx context.Context, name, query string, params map[string]any) (*cypher.Result, error) {
	res, err := b.query(ctx, name, query, params)
	if err != nil {
		return nil, err
	}
	out := &cypher.Result{Columns: res.Keys, Rows: make([]map[string]any, 0, len(res.Records))}
	for _, rec := range res.Records {
		row := make(map[string]any, len(rec.Keys))
		for i, key := range rec.Keys {
			row[key] = fromNeo4jValue(rec.Values[i])
		}
		out.Rows = append(out.Rows, row)
	}
	return out, nil
}

// HasNodes implements Backend.
func (b *Neo4jBackend) HasNodes(ctx context.Context, name string) (bool, error) {
	res, err := b.query(ctx, name, "MATCH (n) RETURN n LIMIT 1", nil)
	if err != nil {
		return false, err
	}
	return len(res.Records) > 0, nil
}

// Counts implements Backend.
func (b *Neo4jBackend) Counts(ctx context.Context, name string) (int, int, error) {
	res, err := b.query(ctx, name,
		"CALL { MATCH (n) RETURN count(n) AS nodes } CALL { MATCH ()-[r]->() RETURN count(r) AS rels } RETURN nodes, rels", nil)
	if err != nil {
		return 0, 0, err
	}
	if len(res.Records) == 0 {
		return 0, 0, nil
	}
	nodes, _ := res.Records[0].Values[0].(int64)
	rels, _ := res.Records[0].Values[1].(int64)
	return int(nodes), int(rels), nil
}

// Close implements Backend.
func (b *Neo4jBackend) Close() error {
	return b.driver.Close(context.Background())
}

type neo4jTransaction struct {
	session neo4j.SessionWithContext
	tx      neo4j.ExplicitTransaction
	bound   []graph.Entity
	closed  bool
}

func (t *neo4jTransaction) Add(ctx context.Context, items ...graph.Entity) error {
	if t.closed {
		return ErrTransactionClosed
	}
	for _, item := range items {
		switch v := item.(type) {
		case graph.Node:
			if err := t.createNode(ctx, v); err != nil {
				return err
			}
		case *graph.Relationship:
			if err := t.createRelationship(ctx, v); err != nil {
				return err
			}
		default:
			return fmt.Errorf("cannot add entity of type %T", item)
		}
	}
	return nil
}

func (t *neo4jTransaction) createNode(ctx context.Context, n graph.Node) error {
	if graph.Bound(n) {
		return nil
	}
	if err := checkLabel(n.Label()); err != nil {
		return err
	}
	props := toNeo4jProps(n.Properties())
	props[graph.PropRepositoryName] = n.Repository()

	id, err := t.single(ctx, fmt.Sprintf("CREATE (n:%s $props) RETURN id(n)", n.Label()), map[string]any{"props": props})
	if err != nil {
		return fmt.Errorf("creating %s node: %w", n.Label(), err)
	}
	n.SetIdentity(id)
	t.bound = append(t.bound, n)
	return nil
}

func (t *neo4jTransaction) createRelationship(ctx context.Context, r *graph.Relationship) error {
	if r.IsBound() {
		return nil
	}
	if r.Parent == nil || r.Child == nil {
		return fmt.Errorf("relationship %s has a nil endpoint", r.Type)
	}
	if err := checkRelType(r.Type); err != nil {
		return err
	}
	if err := t.createNode(ctx, r.Parent); err != nil {
		return err
	}
	if err := t.createNode(ctx, r.Child); err != nil {
		return err
	}
	props := toNeo4jProps(r.Properties)
	props[graph.PropRepositoryName] = r.RepositoryName

	q := fmt.Sprintf("MATCH (a), (b) WHERE id(a) = $a AND id(b) = $b CREATE (a)-[r:%s $props]->(b) RETURN id(r)", r.Type)
	id, err := t.single(ctx, q, map[string]any{"a": r.Parent.Identity(), "b": r.Child.Identity(), "props": props})
	if err != nil {
		return fmt.Errorf("creating %s relationship: %w", r.Type, err)
	}
	r.SetIdentity(id)
	t.bound = append(t.bound, r)
	return nil
}

func (t *neo4jTransaction) single(ctx context.Context, query string, params map[string]any) (int64, error) {
	res, err := t.tx.Run(ctx, query, params)
	if err != nil {
		return 0, err
	}
	rec, err := res.Single(ctx)
	if err != nil {
		return 0, err
	}
	id, ok := rec.Values[0].(int64)
	if !ok {
		return 0, fmt.Errorf("unexpected id type %T", rec.Values[0])
	}
	return id, nil
}

func (t *neo4jTransaction) Commit(ctx context.Context) error {
	if t.closed {
		return ErrTransactionClosed
	}
	t.closed = true
	defer t.session.Close(ctx)
	if err := t.tx.Commit(ctx); err != nil {
		t.unbind()
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (t *neo4jTransaction) Rollback(ctx context.Context) error {
	if t.closed {
		return nil
	}
	t.closed = true
	defer t.session.Close(ctx)
	t.unbind()
	return t.tx.Rollback(ctx)
}

func (t *neo4jTransaction) unbind() {
	for _, e := range t.bound {
		e.Unbind()
	}
	t.bound = nil
}

// Labels and relationship types are interpolated into Cypher, so only the
// closed sets are accepted.
func checkLabel(label graph.NodeLabel) error {
	for _, l := range graph.AllLabels {
		if l == label {
			return nil
		}
	}
	return fmt.Errorf("unknown node label %q", label)
}

func checkRelType(relType graph.RelType) error {
	for _, t := range graph.AllRelTypes {
		if t == relType {
			return nil
		}
	}
	return fmt.Errorf("unknown relationship type %q", relType)
}

// toNeo4jProps drops nil values and encodes nested maps as JSON strings,
// since Neo4j properties hold only primitives and lists of primitives.
func toNeo4jProps(props map[string]any) map[string]any {
	out := make(map[string]any, len(props))
	for k, v := range props {
		switch val := v.(type) {
		case nil:
		case map[string]any, []map[string]any:
			data, err := json.Marshal(val)
			if err == nil {
				out[k] = string(data)
			}
		default:
			out[k] = val
		}
	}
	return out
}

func fromNeo4jNode(n neo4j.Node) *graph.GraphNode {
	gn := &graph.GraphNode{ID: n.Id, Properties: make(map[string]any, len(n.Props))}
	if len(n.Labels) > 0 {
		gn.Label = graph.NodeLabel(n.Labels[0])
	}
	for k, v := range n.Props {
		if k == graph.PropRepositoryName {
			gn.RepositoryName, _ = v.(string)
			continue
		}
		gn.Properties[k] = v
	}
	return gn
}

func fromNeo4jRelationship(r neo4j.Relationship) *graph.GraphRelationship {
	gr := &graph.GraphRelationship{
		ID:         r.Id,
		Type:       graph.RelType(r.Type),
		Source:     r.StartId,
		Target:     r.EndId,
		Properties: make(map[string]any, len(r.Props)),
	}
	for k, v := range r.Props {
		if k == graph.PropRepositoryName {
			gr.RepositoryName, _ = v.(string)
			continue
		}
		gr.Properties[k] = v
	}
	return gr
}

// fromNeo4jValue converts driver entities in query results into the same
// map shape the embedded executor returns.
func fromNeo4jValue(v any) any {
	switch val := v.(type) {
	case neo4j.Node:
		n := fromNeo4jNode(val)
		m := make(map[string]any, len(n.Properties)+3)
		for k, p := range n.Properties {
			m[k] = p
		}
		m["id"] = n.ID
		m["label"] = string(n.Label)
		m[graph.PropRepositoryName] = n.RepositoryName
		return m
	case neo4j.Relationship:
		r := fromNeo4jRelationship(val)
		m := make(map[string]any, len(r.Properties)+4)
		for k, p := range r.Properties {
			m[k] = p
		}
		m["id"] = r.ID
		m["type"] = string(r.Type)
		m["source"] = r.Source
		m["target"] = r.Target
		return m
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = fromNeo4jValue(item)
		}
		return out
	}
	return v
}
