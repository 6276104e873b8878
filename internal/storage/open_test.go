package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Benny93/repograph-go/internal/config"
)

func TestOpen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("Badger", func(t *testing.T) {
		t.Parallel()
		cfg := config.Default()
		cfg.DataDir = t.TempDir()
		b, err := Open(ctx, cfg, zaptest.NewLogger(t))
		require.NoError(t, err)
		defer b.Close()
		assert.IsType(t, &BadgerBackend{}, b)
	})

	t.Run("Memory", func(t *testing.T) {
		t.Parallel()
		cfg := config.Default()
		cfg.Backend = config.BackendMemory
		b, err := Open(ctx, cfg, nil)
		require.NoError(t, err)
		assert.IsType(t, &MemoryBackend{}, b)
	})

	t.Run("Unknown", func(t *testing.T) {
		t.Parallel()
		cfg := config.Default()
		cfg.Backend = "sqlite"
		_, err := Open(ctx, cfg, nil)
		assert.Error(t, err)
	})
}
