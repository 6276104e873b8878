// Package build turns repositories on disk into a named graph: it runs the
// extractor on each input path, feeds the output to the builder inside one
// transaction per path and keeps the catalog entry in step.
package build

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Benny93/repograph-go/internal/builder"
	"github.com/Benny93/repograph-go/internal/catalog"
	"github.com/Benny93/repograph-go/internal/storage"
)

// Request describes one build batch.
type Request struct {
	InputPaths []string

	// GraphName is the storage name. When empty a name is generated.
	GraphName string

	// DisplayName is the human-facing name, defaulting to GraphName.
	DisplayName string
	Description string

	// Prune drops and recreates the graph before anything is added.
	Prune bool
}

// PathError is the failure of one input path.
type PathError struct {
	InputPath string
	Err       error
}

func (e *PathError) Error() string {
	return fmt.Sprintf("%s: %v", e.InputPath, e.Err)
}

func (e *PathError) Unwrap() error { return e.Err }

// Result reports how a batch went.
type Result struct {
	Graph     string
	Succeeded int
	Failed    int
	Errors    []*PathError

	// Dropped is set when every path failed and the graph was removed.
	Dropped bool
}

// Option configures a Service.
type Option func(*Service)

// WithWorkers bounds how many extractions run at once.
func WithWorkers(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithBuilderOptions passes options to every builder the service creates.
func WithBuilderOptions(opts ...builder.Option) Option {
	return func(s *Service) { s.builderOpts = append(s.builderOpts, opts...) }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// Service runs build batches.
type Service struct {
	backend     storage.Backend
	catalog     *catalog.Catalog
	extractor   Extractor
	builderOpts []builder.Option
	workers     int
	logger      *zap.Logger

	// writes serialises transactions; extraction runs in parallel.
	writes sync.Mutex
}

// NewService creates a Service. cat may be nil, in which case no catalog
// entries are kept.
func NewService(backend storage.Backend, cat *catalog.Catalog, extractor Extractor, opts ...Option) *Service {
	s := &Service{
		backend:   backend,
		catalog:   cat,
		extractor: extractor,
		workers:   1,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("build")
	return s
}

// GenerateGraphName returns a fresh valid graph name.
func GenerateGraphName() string {
	return "g-" + uuid.NewString()
}

// Build runs a batch. A failing path never stops the others; its error is
// collected in the result, and the returned error joins every path error
// so a single-path caller still sees the failure. When all paths fail the
// graph and its catalog entry are removed.
func (s *Service) Build(ctx context.Context, req Request) (*Result, error) {
	if len(req.InputPaths) == 0 {
		return nil, errors.New("no input paths given")
	}

	name := req.GraphName
	if name == "" {
		name = GenerateGraphName()
	}
	name, err := storage.ValidateGraphName(name)
	if err != nil {
		return nil, err
	}
	res := &Result{Graph: name}

	if s.catalog != nil {
		display := req.DisplayName
		if display == "" {
			display = req.GraphName
		}
		if display == "" {
			display = name
		}
		if err := s.catalog.Register(ctx, catalog.Graph{Name: name, DisplayName: display, Description: req.Description}); err != nil {
			return nil, err
		}
	}

	if err := s.prepare(ctx, name, req.Prune); err != nil {
		return nil, err
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(s.workers)
	for _, path := range req.InputPaths {
		g.Go(func() error {
			err := s.buildPath(ctx, name, path)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				s.logger.Error("Error building repograph", zap.String("input", path), zap.Error(err))
				res.Failed++
				res.Errors = append(res.Errors, &PathError{InputPath: path, Err: err})
				return nil
			}
			res.Succeeded++
			return nil
		})
	}
	_ = g.Wait()

	s.logger.Info("Batch finished",
		zap.String("graph", name),
		zap.Int("succeeded", res.Succeeded),
		zap.Int("failed", res.Failed),
		zap.Int("total", len(req.InputPaths)))

	if err := s.finish(ctx, res); err != nil {
		return res, err
	}
	return res, res.Err()
}

// Err joins the path errors of r, or returns nil.
func (r *Result) Err() error {
	errs := make([]error, 0, len(r.Errors))
	for _, e := range r.Errors {
		errs = append(errs, e)
	}
	return errors.Join(errs...)
}

// prepare makes sure the graph exists, recreating it when pruning.
func (s *Service) prepare(ctx context.Context, name string, prune bool) error {
	exists, err := s.backend.HasGraph(ctx, name)
	if err != nil {
		return err
	}
	if exists && prune {
		s.logger.Info("Pruning existing nodes", zap.String("graph", name))
		if err := s.backend.DeleteGraph(ctx, name); err != nil {
			return fmt.Errorf("pruning graph %s: %w", name, err)
		}
		exists = false
	}
	if !exists {
		if err := s.backend.CreateGraph(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// finish advances or removes the catalog entry once the batch is done.
func (s *Service) finish(ctx context.Context, res *Result) error {
	if res.Succeeded > 0 {
		if s.catalog != nil {
			return s.catalog.SetStatus(ctx, res.Graph, catalog.StatusCreated)
		}
		return nil
	}

	s.logger.Warn("Every input failed, dropping graph", zap.String("graph", res.Graph))
	res.Dropped = true
	if err := s.backend.DeleteGraph(ctx, res.Graph); err != nil && !errors.Is(err, storage.ErrGraphNotFound) {
		return fmt.Errorf("dropping graph %s: %w", res.Graph, err)
	}
	if s.catalog != nil {
		if err := s.catalog.Delete(ctx, res.Graph); err != nil && !errors.Is(err, catalog.ErrNotFound) {
			return err
		}
	}
	return nil
}

// buildPath extracts one repository into a scratch directory and writes it
// to the graph in its own transaction.
func (s *Service) buildPath(ctx context.Context, graphName, inputPath string) (err error) {
	outputDir, err := os.MkdirTemp("", "repograph-*")
	if err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(outputDir); rmErr != nil {
			s.logger.Warn("Cleaning up output directory failed", zap.String("dir", outputDir), zap.Error(rmErr))
		}
	}()

	info, cg, err := s.extractor.Extract(ctx, inputPath, outputDir)
	if err != nil {
		return err
	}

	s.writes.Lock()
	defer s.writes.Unlock()

	tx, err := s.backend.Begin(ctx, graphName)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, storage.ErrTransactionClosed) {
				s.logger.Warn("Rollback failed", zap.String("input", inputPath), zap.Error(rbErr))
			}
		}
	}()

	opts := append([]builder.Option{builder.WithLogger(s.logger)}, s.builderOpts...)
	built, err := builder.New(opts...).Build(ctx, tx, builder.Input{
		DirectoryInfo: info,
		CallGraph:     cg,
		BasePath:      outputDir,
	})
	if err != nil {
		return err
	}

	s.logger.Info("Writing nodes and relationships to graph",
		zap.String("repository", built.Repository),
		zap.Int("nodes", built.Nodes),
		zap.Int("relationships", built.Relationships))
	return tx.Commit(ctx)
}
