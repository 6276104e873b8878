// Package cmd implements the repograph command line.
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/fatih/color"
	"go.uber.org/zap"

	"github.com/Benny93/repograph-go/internal/analysis"
	"github.com/Benny93/repograph-go/internal/build"
	"github.com/Benny93/repograph-go/internal/builder"
	"github.com/Benny93/repograph-go/internal/catalog"
	"github.com/Benny93/repograph-go/internal/config"
	"github.com/Benny93/repograph-go/internal/ingestion"
	"github.com/Benny93/repograph-go/internal/logging"
	"github.com/Benny93/repograph-go/internal/search"
	"github.com/Benny93/repograph-go/internal/storage"
	"github.com/Benny93/repograph-go/internal/summarize"
	"github.com/Benny93/repograph-go/mcp"
)

// Version is set at build time.
var Version = "dev"

// Globals are the flags shared by every command.
type Globals struct {
	Config   string `short:"c" help:"Path to the config file" type:"path"`
	LogLevel string `help:"Log level (debug|info|warn|error)"`
	Backend  string `help:"Graph store (badger|neo4j|memory)"`
	DataDir  string `help:"Directory holding graphs and the catalog" type:"path"`

	out       io.Writer       `kong:"-"`
	extractor build.Extractor `kong:"-"`
}

func (g *Globals) stdout() io.Writer {
	if g.out == nil {
		return os.Stdout
	}
	return g.out
}

// app is everything a command needs once config is loaded.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	backend storage.Backend
	catalog *catalog.Catalog
}

func (g *Globals) open(ctx context.Context) (*app, error) {
	cfg, err := config.Load(g.Config)
	if err != nil {
		return nil, err
	}
	if g.Backend != "" {
		cfg.Backend = g.Backend
	}
	if g.DataDir != "" {
		cfg.DataDir = g.DataDir
		cfg.Catalog.Path = ""
	}
	if g.LogLevel != "" {
		cfg.Log.Level = g.LogLevel
	}
	if cfg.Catalog.Path == "" {
		cfg.Catalog.Path = filepath.Join(cfg.DataDir, "catalog.db")
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return nil, err
	}

	backend, err := storage.Open(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("opening graph store: %w", err)
	}
	cat, err := catalog.Open(cfg.Catalog.Path)
	if err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("opening catalog: %w", err)
	}
	return &app{cfg: cfg, logger: logger, backend: backend, catalog: cat}, nil
}

func (a *app) Close() error {
	_ = a.logger.Sync()
	return errors.Join(a.catalog.Close(), a.backend.Close())
}

// builds wires the build service from config.
func (g *Globals) builds(a *app, workers int, bopts ...builder.Option) *build.Service {
	extractor := g.extractor
	if extractor == nil {
		x := a.cfg.Extractor
		extractor = build.NewInspect4py(x.Command, x.Args, x.Timeout, a.logger)
	}
	if workers < 1 {
		workers = a.cfg.Extractor.Workers
	}

	if a.cfg.Summarizer.URL != "" {
		s := summarize.NewHTTPSummarizer(a.cfg.Summarizer.URL, a.cfg.Summarizer.Timeout, a.logger)
		bopts = append(bopts, builder.WithSummarizer(s))
	}

	return build.NewService(a.backend, a.catalog, extractor,
		build.WithWorkers(workers),
		build.WithLogger(a.logger),
		build.WithBuilderOptions(bopts...),
	)
}

// BuildCmd builds repositories into a named graph.
type BuildCmd struct {
	Paths       []string `arg:"" help:"Repository directories to build" type:"path"`
	Graph       string   `short:"g" help:"Graph name (generated when empty)"`
	Name        string   `help:"Display name of the graph"`
	Description string   `short:"d" help:"Graph description"`
	Prune       bool     `help:"Drop the graph before building"`
	Workers     int      `short:"j" help:"Parallel extractions (default from config)"`
}

// Run executes the build command.
func (c *BuildCmd) Run(g *Globals) error {
	ctx := context.Background()
	a, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	out := g.stdout()
	fmt.Fprintf(out, "Building %d repositories...\n", len(c.Paths))

	// Repositories build concurrently and share the progress line.
	var mu sync.Mutex
	progress := func(phase string, pct float64) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(out, "\r\033[K%s (%.0f%%)", phase, pct*100)
	}

	res, err := g.builds(a, c.Workers, builder.WithProgress(progress)).Build(ctx, build.Request{
		InputPaths:  c.Paths,
		GraphName:   c.Graph,
		DisplayName: c.Name,
		Description: c.Description,
		Prune:       c.Prune,
	})
	fmt.Fprintln(out)
	if res == nil {
		return err
	}

	for _, pe := range res.Errors {
		fmt.Fprintf(out, "  %s %s: %v\n", color.RedString("✗"), pe.InputPath, pe.Err)
	}
	switch {
	case res.Dropped:
		fmt.Fprintf(out, "%s\n", color.RedString("No repository could be built; graph %s was dropped", res.Graph))
	case res.Failed > 0:
		fmt.Fprintf(out, "%s\n", color.YellowString("Built %d of %d repositories into %s", res.Succeeded, res.Succeeded+res.Failed, res.Graph))
	default:
		fmt.Fprintf(out, "%s\n", color.GreenString("✓ Built %d repositories into %s", res.Succeeded, res.Graph))
	}
	return err
}

// ListCmd lists the catalogued graphs.
type ListCmd struct {
	JSON bool `help:"Output as JSON"`
}

// Run executes the list command.
func (c *ListCmd) Run(g *Globals) error {
	ctx := context.Background()
	a, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	graphs, err := a.catalog.List(ctx)
	if err != nil {
		return err
	}

	out := g.stdout()
	if c.JSON {
		fmt.Fprintln(out, toJSON(graphs))
		return nil
	}
	if len(graphs) == 0 {
		fmt.Fprintln(out, "No graphs found")
		return nil
	}

	fmt.Fprintln(out, "Graphs:")
	for _, gr := range graphs {
		fmt.Fprintf(out, "\n  %s\n", gr.Name)
		if gr.DisplayName != gr.Name {
			fmt.Fprintf(out, "    Name:        %s\n", gr.DisplayName)
		}
		if gr.Description != "" {
			fmt.Fprintf(out, "    Description: %s\n", gr.Description)
		}
		fmt.Fprintf(out, "    Status:      %s\n", gr.Status)
		fmt.Fprintf(out, "    Created:     %s\n", gr.Created.Format("2006-01-02 15:04:05"))
	}
	return nil
}

// DeleteCmd deletes a graph and its catalog entry.
type DeleteCmd struct {
	Graph string `arg:"" help:"Graph name"`
	Force bool   `short:"f" help:"Skip confirmation"`

	in io.Reader `kong:"-"`
}

// Run executes the delete command.
func (c *DeleteCmd) Run(g *Globals) error {
	ctx := context.Background()
	a, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	out := g.stdout()
	if !c.Force {
		in := c.in
		if in == nil {
			in = os.Stdin
		}
		fmt.Fprintf(out, "Delete graph %s? [y/N] ", c.Graph)
		var response string
		_, _ = fmt.Fscanln(in, &response)
		if response != "y" && response != "Y" {
			fmt.Fprintln(out, "Aborted")
			return nil
		}
	}

	name, err := storage.ValidateGraphName(c.Graph)
	if err != nil {
		return err
	}
	storeErr := a.backend.DeleteGraph(ctx, name)
	catErr := a.catalog.Delete(ctx, name)
	if errors.Is(storeErr, storage.ErrGraphNotFound) && errors.Is(catErr, catalog.ErrNotFound) {
		return fmt.Errorf("graph %s not found", name)
	}
	if storeErr != nil && !errors.Is(storeErr, storage.ErrGraphNotFound) {
		return storeErr
	}
	if catErr != nil && !errors.Is(catErr, catalog.ErrNotFound) {
		return catErr
	}

	color.New(color.FgGreen).Fprintf(out, "Deleted %s\n", name)
	return nil
}

// QueryCmd runs a Cypher query against a graph.
type QueryCmd struct {
	Graph string `arg:"" help:"Graph name"`
	Query string `arg:"" help:"Cypher query"`
	JSON  bool   `help:"Output as JSON"`
}

// Run executes the query command.
func (c *QueryCmd) Run(g *Globals) error {
	ctx := context.Background()
	a, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	res, err := a.backend.ExecuteQuery(ctx, c.Graph, c.Query, nil)
	if err != nil {
		return err
	}

	out := g.stdout()
	if c.JSON {
		fmt.Fprintln(out, toJSON(res))
		return nil
	}
	if len(res.Rows) == 0 {
		fmt.Fprintln(out, "No rows")
		return nil
	}
	fmt.Fprintln(out, strings.Join(res.Columns, "\t"))
	for _, row := range res.Rows {
		cells := make([]string, len(res.Columns))
		for i, col := range res.Columns {
			cells[i] = cell(row[col])
		}
		fmt.Fprintln(out, strings.Join(cells, "\t"))
	}
	fmt.Fprintf(out, "\n%d rows\n", len(res.Rows))
	return nil
}

// SummaryCmd prints the size of a graph.
type SummaryCmd struct {
	Graph string `arg:"" help:"Graph name"`
	JSON  bool   `help:"Output as JSON"`
}

// Run executes the summary command.
func (c *SummaryCmd) Run(g *Globals) error {
	ctx := context.Background()
	a, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	svc := analysis.New(a.backend, a.logger)
	sum, err := svc.Summary(ctx, c.Graph)
	if err != nil {
		return err
	}

	out := g.stdout()
	if c.JSON {
		fmt.Fprintln(out, toJSON(sum))
		return nil
	}
	repos, err := svc.RepositoryNames(ctx, c.Graph)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Summary of %s\n", c.Graph)
	if sum.IsEmpty {
		fmt.Fprintln(out, "  The graph is empty.")
		return nil
	}
	fmt.Fprintf(out, "  Nodes:          %d\n", sum.NodesTotal)
	fmt.Fprintf(out, "  Relationships:  %d\n", sum.RelationshipsTotal)
	fmt.Fprintf(out, "  Repositories:   %d\n", sum.Repositories)
	fmt.Fprintf(out, "  Packages:       %d\n", sum.Packages)
	fmt.Fprintf(out, "  Modules:        %d\n", sum.Modules)
	fmt.Fprintf(out, "  Classes:        %d\n", sum.Classes)
	fmt.Fprintf(out, "  Functions:      %d\n", sum.Functions)
	if len(repos) > 0 {
		fmt.Fprintf(out, "  Built from:     %s\n", strings.Join(repos, ", "))
	}
	return nil
}

// SearchCmd finds functions by natural language query.
type SearchCmd struct {
	Graph   string `arg:"" help:"Graph name"`
	Query   string `arg:"" help:"Search query"`
	Limit   int    `short:"n" help:"Maximum results" default:"10"`
	Similar bool   `help:"Rank by vector similarity only"`
}

// Run executes the search command.
func (c *SearchCmd) Run(g *Globals) error {
	ctx := context.Background()
	a, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	ix, err := search.Load(ctx, a.backend, c.Graph, a.logger)
	if err != nil {
		return err
	}

	var matches []search.Match
	if c.Similar {
		matches = ix.FindSimilarFunctions(c.Query, c.Limit)
	} else {
		matches = ix.Search(c.Query, c.Limit)
	}

	out := g.stdout()
	if len(matches) == 0 {
		fmt.Fprintf(out, "No results found for %q\n", c.Query)
		return nil
	}
	for i, m := range matches {
		fmt.Fprintf(out, "%d. %s (score: %.3f)\n", i+1, color.CyanString(m.Function.CanonicalName), m.Score)
		if m.Snippet != "" {
			fmt.Fprintf(out, "   %s\n", m.Snippet)
		}
	}
	return nil
}

// MissingCmd lists dependencies no built repository provides.
type MissingCmd struct {
	Graph string `arg:"" help:"Graph name"`
}

// Run executes the missing command.
func (c *MissingCmd) Run(g *Globals) error {
	ctx := context.Background()
	a, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	nodes, err := analysis.New(a.backend, a.logger).MissingDependencies(ctx, c.Graph)
	if err != nil {
		return err
	}

	out := g.stdout()
	if len(nodes) == 0 {
		color.New(color.FgGreen).Fprintln(out, "✓ No missing dependencies")
		return nil
	}
	fmt.Fprintf(out, "Missing dependencies (%d):\n", len(nodes))
	for _, n := range nodes {
		fmt.Fprintf(out, "  %s  %s\n", n.CanonicalName(), color.New(color.Faint).Sprint(n.Label))
	}
	return nil
}

// CyclesCmd lists circular module dependencies.
type CyclesCmd struct {
	Graph string `arg:"" help:"Graph name"`
}

// Run executes the cycles command.
func (c *CyclesCmd) Run(g *Globals) error {
	ctx := context.Background()
	a, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	cycles, err := analysis.New(a.backend, a.logger).CircularDependencies(ctx, c.Graph)
	if err != nil {
		return err
	}

	out := g.stdout()
	if len(cycles) == 0 {
		color.New(color.FgGreen).Fprintln(out, "✓ No circular dependencies")
		return nil
	}
	fmt.Fprintf(out, "Circular dependencies (%d):\n", len(cycles))
	for i, cycle := range cycles {
		fmt.Fprintf(out, "  %d. %s\n", i+1, strings.Join(cycle, " → "))
	}
	return nil
}

// CallGraphCmd shows the callers and callees of a node.
type CallGraphCmd struct {
	Graph  string `arg:"" help:"Graph name"`
	NodeID int64  `arg:"" help:"Node ID"`
	JSON   bool   `help:"Output as JSON"`
}

// Run executes the callgraph command.
func (c *CallGraphCmd) Run(g *Globals) error {
	ctx := context.Background()
	a, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	cg, err := analysis.New(a.backend, a.logger).CallGraph(ctx, c.Graph, c.NodeID)
	if err != nil {
		return err
	}

	out := g.stdout()
	if c.JSON {
		fmt.Fprintln(out, toJSON(cg))
		return nil
	}

	names := make(map[int64]string, len(cg.Nodes))
	for _, n := range cg.Nodes {
		names[n.ID] = n.CanonicalName()
	}
	var callers, callees []string
	for _, e := range cg.Edges {
		switch c.NodeID {
		case e.Target:
			callers = append(callers, names[e.Source])
		case e.Source:
			callees = append(callees, names[e.Target])
		}
	}
	sort.Strings(callers)
	sort.Strings(callees)

	fmt.Fprintf(out, "%s\n", color.CyanString(names[c.NodeID]))
	fmt.Fprintf(out, "\nCallers (%d):\n", len(callers))
	for _, n := range callers {
		fmt.Fprintf(out, "  ← %s\n", n)
	}
	fmt.Fprintf(out, "\nCallees (%d):\n", len(callees))
	for _, n := range callees {
		fmt.Fprintf(out, "  → %s\n", n)
	}
	return nil
}

// UncalledCmd lists functions nothing calls.
type UncalledCmd struct {
	Graph string `arg:"" help:"Graph name"`
}

// Run executes the uncalled command.
func (c *UncalledCmd) Run(g *Globals) error {
	ctx := context.Background()
	a, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	nodes, err := analysis.New(a.backend, a.logger).UncalledFunctions(ctx, c.Graph)
	if err != nil {
		return err
	}

	out := g.stdout()
	if len(nodes) == 0 {
		color.New(color.FgGreen).Fprintln(out, "✓ Every function is called")
		return nil
	}
	fmt.Fprintf(out, "Uncalled functions (%d):\n", len(nodes))
	for _, n := range nodes {
		fmt.Fprintf(out, "  %s\n", n.CanonicalName())
	}
	return nil
}

// ServeCmd starts the MCP server on stdio.
type ServeCmd struct{}

// Run executes the serve command.
func (c *ServeCmd) Run(g *Globals) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	// Nothing may go to stdout: it carries the JSON-RPC stream.
	server := mcp.NewServer(a.backend, a.catalog, g.builds(a, 0), a.logger)
	err = server.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// WatchCmd rebuilds a graph whenever its repositories change.
type WatchCmd struct {
	Paths   []string `arg:"" help:"Repository directories to watch" type:"path"`
	Graph   string   `short:"g" required:"" help:"Graph name"`
	Workers int      `short:"j" help:"Parallel extractions (default from config)"`
}

// Run executes the watch command.
func (c *WatchCmd) Run(g *Globals) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	svc := g.builds(a, c.Workers)
	rebuild := func(ctx context.Context) error {
		res, err := svc.Build(ctx, build.Request{InputPaths: c.Paths, GraphName: c.Graph, Prune: true})
		if res != nil && err == nil {
			a.logger.Info("Graph rebuilt", zap.String("graph", res.Graph), zap.Int("repositories", res.Succeeded))
		}
		return err
	}

	out := g.stdout()
	fmt.Fprintf(out, "Building %s...\n", c.Graph)
	if err := rebuild(ctx); err != nil {
		return err
	}
	fmt.Fprintf(out, "Watching %d repositories (Ctrl+C to stop)\n", len(c.Paths))

	if err := ingestion.WatchRepos(ctx, c.Graph, c.Paths, rebuild, ingestion.WithLogger(a.logger)); err != nil {
		return fmt.Errorf("watch error: %w", err)
	}
	fmt.Fprintln(out, "Watch mode stopped.")
	return nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func toJSON(v any) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}

func cell(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	case bool:
		return strconv.FormatBool(x)
	default:
		b, _ := json.Marshal(x)
		return string(b)
	}
}

// CLI is the root Kong command structure.
type CLI struct {
	Globals

	Version kong.VersionFlag `help:"Show version information"`

	Build     BuildCmd     `cmd:"" help:"Build repositories into a named graph"`
	List      ListCmd      `cmd:"" help:"List graphs"`
	Delete    DeleteCmd    `cmd:"" help:"Delete a graph"`
	Query     QueryCmd     `cmd:"" help:"Run a Cypher query"`
	Summary   SummaryCmd   `cmd:"" help:"Show graph size"`
	Search    SearchCmd    `cmd:"" help:"Search functions by description"`
	Missing   MissingCmd   `cmd:"" help:"List dependencies no built repository provides"`
	Cycles    CyclesCmd    `cmd:"" help:"List circular module dependencies"`
	CallGraph CallGraphCmd `cmd:"" name:"callgraph" help:"Show callers and callees of a node"`
	Uncalled  UncalledCmd  `cmd:"" help:"List functions nothing calls"`
	Serve     ServeCmd     `cmd:"" help:"Start the MCP server (stdio transport)"`
	Watch     WatchCmd     `cmd:"" help:"Rebuild a graph whenever its repositories change"`
}

// NewCLI creates a new CLI instance.
func NewCLI() *CLI {
	return &CLI{}
}

// Execute parses command-line arguments and executes the selected command.
func (c *CLI) Execute(args []string) error {
	parser, err := kong.New(c,
		kong.Name("repograph"),
		kong.Description("Typed property graphs of Python repositories"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact:             true,
			NoExpandSubcommands: true,
		}),
		kong.Vars{
			"version": Version,
		},
	)
	if err != nil {
		return err
	}

	kongCtx, err := parser.Parse(args)
	if err != nil {
		return err
	}
	return kongCtx.Run(&c.Globals)
}
