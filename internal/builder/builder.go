// Package builder turns the output of the inspect4py extraction tool into
// a typed property graph.
//
// A build runs in ordered phases: the repository and its requirements,
// licenses, the directory tree with every module's classes and functions,
// import resolution, base classes, the call graph, and finally READMEs.
// Later phases resolve names against what earlier phases recorded, so the
// phases never run concurrently. Every write goes through one
// storage.Transaction supplied by the caller.
package builder

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Benny93/repograph-go/internal/contract"
	"github.com/Benny93/repograph-go/internal/graph"
	"github.com/Benny93/repograph-go/internal/storage"
)

// BuildError aborts a build before or while it writes to the graph.
type BuildError struct {
	Reason string
}

func (e *BuildError) Error() string {
	return "repograph build failed: " + e.Reason
}

// Summarizer produces a natural-language summary of a function.
type Summarizer interface {
	Summarize(ctx context.Context, fn *graph.Function) (string, error)
}

// ProgressFunc is called with a phase name and progress (0.0-1.0).
type ProgressFunc func(phase string, progress float64)

// Option configures a Builder.
type Option func(*Builder)

// WithSummarizer enables docstring summarization.
func WithSummarizer(s Summarizer) Option {
	return func(b *Builder) { b.summarizer = s }
}

// WithLogger sets the logger. A nil logger discards output.
func WithLogger(l *zap.Logger) Option {
	return func(b *Builder) {
		if l != nil {
			b.logger = l.Named("builder")
		}
	}
}

// WithProgress registers a progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(b *Builder) { b.progress = fn }
}

// Builder builds repository graphs. It holds configuration only, so one
// Builder may run several builds concurrently as long as each build uses
// its own transaction.
type Builder struct {
	summarizer Summarizer
	logger     *zap.Logger
	progress   ProgressFunc
}

// New creates a Builder.
func New(opts ...Option) *Builder {
	b := &Builder{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Input is everything extracted from one repository.
type Input struct {
	DirectoryInfo *contract.DirectoryInfo
	CallGraph     contract.CallGraph

	// BasePath is the extraction output directory. Directory keys and
	// README paths are made relative to it.
	BasePath string
}

// Result summarises a finished build.
type Result struct {
	Repository    string
	Nodes         int
	Relationships int

	// Inferred counts placeholder nodes created during resolution.
	Inferred int
}

// Build writes the graph for one repository into tx. The caller commits
// or rolls back tx depending on the returned error.
func (b *Builder) Build(ctx context.Context, tx storage.Transaction, in Input) (*Result, error) {
	if in.DirectoryInfo == nil || len(in.DirectoryInfo.Directories) == 0 {
		b.logger.Error("Directory info is empty! Aborting!")
		return nil, &BuildError{Reason: "directory info is empty"}
	}

	s := b.newState(tx, in)
	if err := s.build(ctx); err != nil {
		return nil, err
	}
	return &s.result, nil
}

// pendingImports are the import statements of one module, resolved once
// every module is known.
type pendingImports struct {
	module *graph.Module
	deps   []contract.Dependency
}

// pendingExtends are the base class names of one class.
type pendingExtends struct {
	class  *graph.Class
	module *graph.Module
	bases  []string
}

// state is owned by a single build and discarded afterwards.
type state struct {
	*Builder

	tx       storage.Transaction
	in       Input
	repoName string
	result   Result

	// directories maps a directory path to the Repository, Directory or
	// Package materialised for it.
	directories map[string]graph.Node

	// modules is keyed by both module path and canonical name.
	modules map[string]*graph.Module

	// moduleObjects lists the classes, functions and placeholders a
	// module declares, in declaration order.
	moduleObjects map[*graph.Module][]graph.Node

	// moduleDependencies lists what each module's imports resolved to.
	moduleDependencies map[*graph.Module][]graph.Node

	// moduleImports holds the qualified names each module imports.
	moduleImports map[*graph.Module]map[string]bool

	requirements     map[string]*graph.Package
	inferredPackages map[string]*graph.Package
	builtins         map[string]*graph.Function

	imports []pendingImports
	extends []pendingExtends
}

func (b *Builder) newState(tx storage.Transaction, in Input) *state {
	return &state{
		Builder:            b,
		tx:                 tx,
		in:                 in,
		directories:        make(map[string]graph.Node),
		modules:            make(map[string]*graph.Module),
		moduleObjects:      make(map[*graph.Module][]graph.Node),
		moduleDependencies: make(map[*graph.Module][]graph.Node),
		moduleImports:      make(map[*graph.Module]map[string]bool),
		requirements:       make(map[string]*graph.Package),
		inferredPackages:   make(map[string]*graph.Package),
		builtins:           make(map[string]*graph.Function),
	}
}

func (s *state) build(ctx context.Context) error {
	s.logger.Info("Building Repograph...")
	info := s.in.DirectoryInfo

	s.phase("Parsing repository", 0.0)
	directories := sortedDirectories(info.Directories, s.in.BasePath)
	repo, err := s.parseRepository(ctx, &directories)
	if err != nil {
		return err
	}
	if err := s.parseRequirements(ctx, info.Requirements, repo); err != nil {
		return err
	}
	if err := s.parseLicense(ctx, info.License, repo); err != nil {
		return err
	}

	s.phase("Parsing directories", 0.0)
	for i, dir := range directories {
		if err := s.parseDirectory(ctx, dir, i, len(directories)); err != nil {
			return err
		}
		s.phase("Parsing directories", float64(i+1)/float64(len(directories)))
	}

	s.phase("Resolving imports", 0.0)
	if err := s.resolveDependencies(ctx); err != nil {
		return err
	}

	s.phase("Resolving base classes", 0.0)
	if err := s.resolveExtends(ctx); err != nil {
		return err
	}

	s.phase("Parsing call graph", 0.0)
	if err := s.parseCallGraph(ctx, s.in.CallGraph); err != nil {
		return err
	}

	s.phase("Parsing READMEs", 0.0)
	if err := s.parseReadmes(ctx, info.ReadmeFiles); err != nil {
		return err
	}

	s.phase("Done", 1.0)
	s.logger.Info("Successfully built a Repograph!",
		zap.String("repository", s.repoName),
		zap.Int("nodes", s.result.Nodes),
		zap.Int("relationships", s.result.Relationships),
		zap.Int("inferred", s.result.Inferred))
	return nil
}

func (s *state) phase(name string, progress float64) {
	if progress == 0 {
		s.logger.Info(name + "...")
	}
	if s.progress != nil {
		s.progress(name, progress)
	}
}

// add stages items and counts the nodes that get bound by it.
func (s *state) add(ctx context.Context, items ...graph.Entity) error {
	fresh := make(map[graph.Node]bool)
	for _, item := range items {
		switch v := item.(type) {
		case *graph.Relationship:
			s.result.Relationships++
			for _, n := range []graph.Node{v.Parent, v.Child} {
				if !graph.Bound(n) {
					fresh[n] = true
				}
			}
		case graph.Node:
			if !graph.Bound(v) {
				fresh[v] = true
			}
		}
	}
	if err := s.tx.Add(ctx, items...); err != nil {
		return fmt.Errorf("staging graph items: %w", err)
	}
	for n := range fresh {
		s.result.Nodes++
		if isInferred(n) {
			s.result.Inferred++
		}
	}
	return nil
}

// link stages rel together with any endpoint not staged yet. err is the
// error of the constructor that built rel.
func (s *state) link(ctx context.Context, rel *graph.Relationship, err error) error {
	if err != nil {
		return err
	}
	return s.add(ctx, rel)
}

// contain stages child under parent.
func (s *state) contain(ctx context.Context, parent, child graph.Node) error {
	rel, err := graph.Contains(parent, child, s.repoName)
	return s.link(ctx, rel, err)
}

func isInferred(n graph.Node) bool {
	switch v := n.(type) {
	case *graph.Package:
		return v.Inferred
	case *graph.Module:
		return v.Inferred
	case *graph.Class:
		return v.Inferred
	case *graph.Function:
		return v.Inferred
	case *graph.Variable:
		return v.Inferred
	}
	return false
}
