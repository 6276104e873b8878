package storage

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Benny93/repograph-go/internal/config"
)

// Open returns the backend selected by cfg.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Backend, error) {
	switch cfg.Backend {
	case config.BackendBadger, "":
		return NewBadgerBackend(cfg.DataDir, logger), nil
	case config.BackendMemory:
		return NewMemoryBackend(), nil
	case config.BackendNeo4j:
		b, err := NewNeo4jBackend(ctx, cfg.Neo4j.URI, cfg.Neo4j.Username, cfg.Neo4j.Password, logger)
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}
