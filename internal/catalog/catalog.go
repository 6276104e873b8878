// Package catalog records the named graphs Repograph has built, independent
// of the graph store, so they can be listed even when a graph is
// unreachable.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when no catalog entry exists for a graph.
var ErrNotFound = errors.New("graph not in catalog")

// Status is the lifecycle state of a catalogued graph.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusCreated Status = "CREATED"
)

// Graph is one catalog entry.
type Graph struct {
	// Name is the storage name of the graph.
	Name string `json:"neo4j_name"`

	// DisplayName is the human-facing name given at build time.
	DisplayName string    `json:"name"`
	Description string    `json:"description"`
	Created     time.Time `json:"created"`
	Status      Status    `json:"status"`
}

// Catalog is the SQLite-backed graph catalog.
type Catalog struct {
	db *sql.DB
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS graphs (
  name         TEXT PRIMARY KEY,
  display_name TEXT NOT NULL,
  description  TEXT NOT NULL DEFAULT '',
  created      TIMESTAMP NOT NULL,
  status       TEXT NOT NULL
);
`

// Open opens or creates the catalog database at path.
func Open(path string) (*Catalog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create catalog dir: %w", err)
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping catalog: %w", err)
	}
	if _, err := db.Exec(schemaDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate catalog: %w", err)
	}
	return &Catalog{db: db}, nil
}

// Close closes the underlying database.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// Register records g as PENDING. Registering an existing name keeps its
// creation time and resets the rest.
func (c *Catalog) Register(ctx context.Context, g Graph) error {
	if g.Created.IsZero() {
		g.Created = time.Now().UTC()
	}
	if g.DisplayName == "" {
		g.DisplayName = g.Name
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO graphs (name, display_name, description, created, status) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET display_name=excluded.display_name,
			description=excluded.description, status=excluded.status`,
		g.Name, g.DisplayName, g.Description, g.Created, StatusPending)
	if err != nil {
		return fmt.Errorf("register graph %s: %w", g.Name, err)
	}
	return nil
}

// Get returns the entry for name, or ErrNotFound.
func (c *Catalog) Get(ctx context.Context, name string) (*Graph, error) {
	row := c.db.QueryRowContext(ctx,
		"SELECT name, display_name, description, created, status FROM graphs WHERE name=?", name)
	g, err := scanGraph(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get graph %s: %w", name, err)
	}
	return g, nil
}

// List returns every entry, oldest first.
func (c *Catalog) List(ctx context.Context) ([]*Graph, error) {
	rows, err := c.db.QueryContext(ctx,
		"SELECT name, display_name, description, created, status FROM graphs ORDER BY created, name")
	if err != nil {
		return nil, fmt.Errorf("list graphs: %w", err)
	}
	defer rows.Close()

	var out []*Graph
	for rows.Next() {
		g, err := scanGraph(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// SetStatus updates the status of name.
func (c *Catalog) SetStatus(ctx context.Context, name string, status Status) error {
	res, err := c.db.ExecContext(ctx, "UPDATE graphs SET status=? WHERE name=?", status, name)
	if err != nil {
		return fmt.Errorf("set status of %s: %w", name, err)
	}
	return expectOne(res)
}

// Delete removes the entry for name.
func (c *Catalog) Delete(ctx context.Context, name string) error {
	res, err := c.db.ExecContext(ctx, "DELETE FROM graphs WHERE name=?", name)
	if err != nil {
		return fmt.Errorf("delete graph %s: %w", name, err)
	}
	return expectOne(res)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanGraph(s scanner) (*Graph, error) {
	var g Graph
	var status string
	if err := s.Scan(&g.Name, &g.DisplayName, &g.Description, &g.Created, &status); err != nil {
		return nil, err
	}
	g.Status = Status(status)
	return &g, nil
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
