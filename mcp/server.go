// Package mcp exposes Repograph graphs to MCP clients over stdio.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/Benny93/repograph-go/internal/analysis"
	"github.com/Benny93/repograph-go/internal/build"
	"github.com/Benny93/repograph-go/internal/catalog"
	"github.com/Benny93/repograph-go/internal/graph"
	"github.com/Benny93/repograph-go/internal/search"
	"github.com/Benny93/repograph-go/internal/storage"
)

// Version is reported to clients.
const Version = "0.1.0"

const defaultSearchLimit = 10

// Server is the Repograph MCP server.
type Server struct {
	backend  storage.Backend
	catalog  *catalog.Catalog
	builds   *build.Service
	analysis *analysis.Service
	logger   *zap.Logger
	server   *mcp.Server
}

// Tool describes one MCP tool.
type Tool struct {
	Name        string
	Description string
	InputSchema *jsonschema.Schema
}

// Resource describes one MCP resource.
type Resource struct {
	URI         string
	Name        string
	Description string
	MimeType    string
}

// NewServer creates a server over backend. cat and builds may be nil: graphs
// are then listed from the backend and the build tool is unavailable.
func NewServer(backend storage.Backend, cat *catalog.Catalog, builds *build.Service, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		backend:  backend,
		catalog:  cat,
		builds:   builds,
		analysis: analysis.New(backend, logger),
		logger:   logger.Named("mcp"),
	}
	s.server = mcp.NewServer(&mcp.Implementation{Name: "repograph", Version: Version}, nil)
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer returns the underlying SDK server.
func (s *Server) MCPServer() *mcp.Server {
	return s.server
}

// Run serves over stdin and stdout until the client disconnects or ctx is
// cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

func graphProp() *jsonschema.Schema {
	return &jsonschema.Schema{Type: "string", Description: "Name of the graph"}
}

func objectSchema(props map[string]*jsonschema.Schema, required ...string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "object", Properties: props, Required: required}
}

// ListTools returns every tool the server offers.
func (s *Server) ListTools() []Tool {
	return []Tool{
		{
			Name:        "repograph_list_graphs",
			Description: "List every built graph with its description and build status.",
			InputSchema: objectSchema(map[string]*jsonschema.Schema{}),
		},
		{
			Name:        "repograph_summary",
			Description: "Count the repositories, packages, modules, classes and functions of a graph.",
			InputSchema: objectSchema(map[string]*jsonschema.Schema{"graph": graphProp()}, "graph"),
		},
		{
			Name:        "repograph_query",
			Description: "Run a read-only Cypher query against a graph.",
			InputSchema: objectSchema(map[string]*jsonschema.Schema{
				"graph": graphProp(),
				"query": {Type: "string", Description: "Cypher query"},
			}, "graph", "query"),
		},
		{
			Name:        "repograph_search",
			Description: "Find functions whose names, docstrings or summaries match a free-text description.",
			InputSchema: objectSchema(map[string]*jsonschema.Schema{
				"graph": graphProp(),
				"query": {Type: "string", Description: "What the function does"},
				"limit": {Type: "integer", Description: "Maximum number of results"},
			}, "graph", "query"),
		},
		{
			Name:        "repograph_missing_dependencies",
			Description: "List imports that could not be resolved to anything in the built repositories.",
			InputSchema: objectSchema(map[string]*jsonschema.Schema{"graph": graphProp()}, "graph"),
		},
		{
			Name:        "repograph_cycles",
			Description: "List groups of modules that import each other.",
			InputSchema: objectSchema(map[string]*jsonschema.Schema{"graph": graphProp()}, "graph"),
		},
		{
			Name:        "repograph_call_graph",
			Description: "Show what a function calls and what calls it.",
			InputSchema: objectSchema(map[string]*jsonschema.Schema{
				"graph":   graphProp(),
				"node_id": {Type: "integer", Description: "ID of the function node"},
			}, "graph", "node_id"),
		},
		{
			Name:        "repograph_build",
			Description: "Extract one or more Python repositories and build them into a graph.",
			InputSchema: objectSchema(map[string]*jsonschema.Schema{
				"paths": {
					Type:        "array",
					Items:       &jsonschema.Schema{Type: "string"},
					Description: "Repository directories",
				},
				"graph":       graphProp(),
				"description": {Type: "string", Description: "Description stored in the catalog"},
				"prune":       {Type: "boolean", Description: "Drop the graph before building"},
			}, "paths"),
		},
	}
}

// ListResources returns every resource the server offers.
func (s *Server) ListResources() []Resource {
	return []Resource{
		{
			URI:         "repograph://graphs",
			Name:        "Graphs",
			Description: "Every built graph",
			MimeType:    "text/markdown",
		},
		{
			URI:         "repograph://schema",
			Name:        "Graph Schema",
			Description: "Node labels and the relationships allowed between them",
			MimeType:    "text/markdown",
		},
	}
}

// CallTool runs a tool and returns its markdown output.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	if name == "repograph_list_graphs" {
		return s.handleListGraphs(ctx)
	}
	if name == "repograph_build" {
		return s.handleBuild(ctx, args)
	}

	graphName := stringArg(args, "graph")
	switch name {
	case "repograph_summary", "repograph_query", "repograph_search",
		"repograph_missing_dependencies", "repograph_cycles", "repograph_call_graph":
		if graphName == "" {
			return "", errors.New("graph is required")
		}
	default:
		return "", fmt.Errorf("unknown tool: %s", name)
	}

	switch name {
	case "repograph_summary":
		return s.handleSummary(ctx, graphName)
	case "repograph_query":
		return s.handleQuery(ctx, graphName, stringArg(args, "query"))
	case "repograph_search":
		return s.handleSearch(ctx, graphName, stringArg(args, "query"), intArg(args, "limit", defaultSearchLimit))
	case "repograph_missing_dependencies":
		return s.handleMissing(ctx, graphName)
	case "repograph_cycles":
		return s.handleCycles(ctx, graphName)
	default:
		return s.handleCallGraph(ctx, graphName, int64(intArg(args, "node_id", 0)))
	}
}

// ReadResource returns the markdown content of a resource.
func (s *Server) ReadResource(ctx context.Context, uri string) (string, error) {
	switch uri {
	case "repograph://graphs":
		return s.handleListGraphs(ctx)
	case "repograph://schema":
		return schemaText(), nil
	default:
		return "", fmt.Errorf("unknown resource: %s", uri)
	}
}

func (s *Server) registerTools() {
	for _, tool := range s.ListTools() {
		s.server.AddTool(&mcp.Tool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.InputSchema,
		}, s.toolHandler(tool.Name))
	}
}

func (s *Server) toolHandler(name string) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := map[string]any{}
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
				return errResult("invalid arguments: " + err.Error()), nil
			}
		}
		text, err := s.CallTool(ctx, name, args)
		if err != nil {
			s.logger.Warn("Tool failed", zap.String("tool", name), zap.Error(err))
			return errResult(err.Error()), nil
		}
		return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}, nil
	}
}

func (s *Server) registerResources() {
	for _, res := range s.ListResources() {
		uri := res.URI
		mimeType := res.MimeType
		s.server.AddResource(&mcp.Resource{
			URI:         uri,
			Name:        res.Name,
			Description: res.Description,
			MIMEType:    mimeType,
		}, func(ctx context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
			text, err := s.ReadResource(ctx, uri)
			if err != nil {
				return nil, err
			}
			return &mcp.ReadResourceResult{
				Contents: []*mcp.ResourceContents{{URI: uri, MIMEType: mimeType, Text: text}},
			}, nil
		})
	}
}

// Tool handlers

func (s *Server) handleListGraphs(ctx context.Context) (string, error) {
	var sb strings.Builder
	sb.WriteString("## Graphs\n\n")

	if s.catalog == nil {
		names, err := s.backend.ListGraphs(ctx)
		if err != nil {
			return "", err
		}
		if len(names) == 0 {
			sb.WriteString("No graphs built yet. Run `repograph build` first.\n")
		}
		for _, n := range names {
			fmt.Fprintf(&sb, "- **%s**\n", n)
		}
		return sb.String(), nil
	}

	graphs, err := s.catalog.List(ctx)
	if err != nil {
		return "", err
	}
	if len(graphs) == 0 {
		sb.WriteString("No graphs built yet. Run `repograph build` first.\n")
	}
	for _, g := range graphs {
		fmt.Fprintf(&sb, "- **%s** (%s) %s, created %s\n", g.Name, g.Status, g.DisplayName, g.Created.Format("2006-01-02 15:04"))
		if g.Description != "" {
			fmt.Fprintf(&sb, "  %s\n", g.Description)
		}
	}
	return sb.String(), nil
}

func (s *Server) handleSummary(ctx context.Context, graphName string) (string, error) {
	sum, err := s.analysis.Summary(ctx, graphName)
	if err != nil {
		return "", err
	}
	repos, err := s.analysis.RepositoryNames(ctx, graphName)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Summary of %s\n\n", graphName)
	if sum.IsEmpty {
		sb.WriteString("The graph is empty.\n")
		return sb.String(), nil
	}
	fmt.Fprintf(&sb, "**Nodes:** %d\n", sum.NodesTotal)
	fmt.Fprintf(&sb, "**Relationships:** %d\n\n", sum.RelationshipsTotal)
	fmt.Fprintf(&sb, "- Repositories: %d\n", sum.Repositories)
	fmt.Fprintf(&sb, "- Packages: %d\n", sum.Packages)
	fmt.Fprintf(&sb, "- Modules: %d\n", sum.Modules)
	fmt.Fprintf(&sb, "- Classes: %d\n", sum.Classes)
	fmt.Fprintf(&sb, "- Functions: %d\n", sum.Functions)
	if len(repos) > 0 {
		fmt.Fprintf(&sb, "\nRepositories: %s\n", strings.Join(repos, ", "))
	}
	return sb.String(), nil
}

func (s *Server) handleQuery(ctx context.Context, graphName, query string) (string, error) {
	if query == "" {
		return "No query provided", nil
	}
	res, err := s.backend.ExecuteQuery(ctx, graphName, query, nil)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("## Cypher Query Result\n\n")
	if len(res.Rows) == 0 {
		sb.WriteString("No rows.\n")
		return sb.String(), nil
	}
	fmt.Fprintf(&sb, "| %s |\n", strings.Join(res.Columns, " | "))
	fmt.Fprintf(&sb, "|%s\n", strings.Repeat("---|", len(res.Columns)))
	for _, row := range res.Rows {
		cells := make([]string, len(res.Columns))
		for i, col := range res.Columns {
			cells[i] = formatValue(row[col])
		}
		fmt.Fprintf(&sb, "| %s |\n", strings.Join(cells, " | "))
	}
	fmt.Fprintf(&sb, "\n%d row(s)\n", len(res.Rows))
	return sb.String(), nil
}

func (s *Server) handleSearch(ctx context.Context, graphName, query string, limit int) (string, error) {
	if query == "" {
		return "No query provided", nil
	}
	ix, err := search.Load(ctx, s.backend, graphName, s.logger)
	if err != nil {
		return "", err
	}
	matches := ix.Search(query, limit)
	if len(matches) == 0 {
		return "No results found", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d results for '%s':\n\n", len(matches), query)
	for i, m := range matches {
		fmt.Fprintf(&sb, "%d. **%s** (%s)\n", i+1, m.Function.CanonicalName, m.Function.Type)
		fmt.Fprintf(&sb, "   Score: %.4f\n", m.Score)
		if m.Snippet != "" {
			fmt.Fprintf(&sb, "   %s\n", m.Snippet)
		}
		sb.WriteString("\n")
	}
	sb.WriteString("Next: Use `repograph_call_graph` on a function for its callers and callees.")
	return sb.String(), nil
}

func (s *Server) handleMissing(ctx context.Context, graphName string) (string, error) {
	missing, err := s.analysis.MissingDependencies(ctx, graphName)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("## Missing Dependencies\n\n")
	if len(missing) == 0 {
		sb.WriteString("Every import resolved to a built repository.\n")
		return sb.String(), nil
	}
	fmt.Fprintf(&sb, "Found %d unresolved names:\n\n", len(missing))
	for _, n := range missing {
		fmt.Fprintf(&sb, "- `%s` (%s)\n", n.CanonicalName(), n.Label)
	}
	return sb.String(), nil
}

func (s *Server) handleCycles(ctx context.Context, graphName string) (string, error) {
	cycles, err := s.analysis.CircularDependencies(ctx, graphName)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("## Circular Imports\n\n")
	if len(cycles) == 0 {
		sb.WriteString("No circular imports.\n")
		return sb.String(), nil
	}
	for i, group := range cycles {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, strings.Join(group, ", "))
	}
	return sb.String(), nil
}

func (s *Server) handleCallGraph(ctx context.Context, graphName string, id int64) (string, error) {
	cg, err := s.analysis.CallGraph(ctx, graphName, id)
	if errors.Is(err, analysis.ErrNodeNotFound) {
		return fmt.Sprintf("Node %d not found in %s", id, graphName), nil
	}
	if err != nil {
		return "", err
	}

	root := cg.Nodes[0]
	byID := make(map[int64]*graph.GraphNode, len(cg.Nodes))
	for _, n := range cg.Nodes {
		byID[n.ID] = n
	}

	var callers, callees []string
	for _, e := range cg.Edges {
		if e.Target == root.ID {
			callers = append(callers, describe(byID[e.Source]))
		}
		if e.Source == root.ID {
			callees = append(callees, describe(byID[e.Target]))
		}
	}
	sort.Strings(callers)
	sort.Strings(callees)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Call graph of **%s**\n\n", root.CanonicalName())
	for _, section := range []struct {
		title string
		items []string
	}{{"Callers", callers}, {"Callees", callees}} {
		if len(section.items) == 0 {
			continue
		}
		fmt.Fprintf(&sb, "## %s (%d)\n", section.title, len(section.items))
		for _, item := range section.items {
			fmt.Fprintf(&sb, "- %s\n", item)
		}
		sb.WriteString("\n")
	}
	if len(callers) == 0 && len(callees) == 0 {
		sb.WriteString("No calls found.\n")
	}
	return sb.String(), nil
}

func (s *Server) handleBuild(ctx context.Context, args map[string]any) (string, error) {
	if s.builds == nil {
		return "", errors.New("building is not available on this server")
	}
	paths := stringsArg(args, "paths")
	if len(paths) == 0 {
		return "", errors.New("paths is required")
	}

	res, err := s.builds.Build(ctx, build.Request{
		InputPaths:  paths,
		GraphName:   stringArg(args, "graph"),
		Description: stringArg(args, "description"),
		Prune:       boolArg(args, "prune"),
	})
	if res == nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Build of %s\n\n", res.Graph)
	fmt.Fprintf(&sb, "Built %d of %d repositories.\n", res.Succeeded, len(paths))
	for _, e := range res.Errors {
		fmt.Fprintf(&sb, "- failed: %s\n", e.Error())
	}
	if res.Dropped {
		sb.WriteString("\nEvery repository failed; the graph was removed.\n")
	}
	return sb.String(), nil
}

// Helpers

func schemaText() string {
	var sb strings.Builder
	sb.WriteString("# Repograph Schema\n\n## Node Labels\n\n")
	for _, l := range graph.AllLabels {
		fmt.Fprintf(&sb, "- `%s`\n", l)
	}
	sb.WriteString("\n## Relationships\n\n| Type | Parent | Children |\n|---|---|---|\n")
	for _, rt := range graph.AllRelTypes {
		for _, parent := range graph.AllLabels {
			children := graph.AllowedChildren(rt, parent)
			if len(children) == 0 {
				continue
			}
			names := make([]string, len(children))
			for i, c := range children {
				names[i] = string(c)
			}
			fmt.Fprintf(&sb, "| `%s` | %s | %s |\n", rt, parent, strings.Join(names, ", "))
		}
	}
	return sb.String()
}

func describe(n *graph.GraphNode) string {
	if n == nil {
		return "?"
	}
	s := fmt.Sprintf("%s (id %d)", n.CanonicalName(), n.ID)
	if n.Inferred() {
		s += " [inferred]"
	}
	return s
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case *graph.GraphNode:
		return fmt.Sprintf("(%s %s)", x.Label, x.CanonicalName())
	case *graph.GraphRelationship:
		return fmt.Sprintf("[%s]", x.Type)
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	}
}

func errResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: msg}},
		IsError: true,
	}
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func boolArg(args map[string]any, key string) bool {
	b, _ := args[key].(bool)
	return b
}

// intArg accepts JSON numbers and numeric strings.
func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func stringsArg(args map[string]any, key string) []string {
	raw, _ := args[key].([]any)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}
