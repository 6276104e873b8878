package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("Levels", func(t *testing.T) {
		t.Parallel()
		for level, want := range map[string]zapcore.Level{
			"":      zapcore.InfoLevel,
			"debug": zapcore.DebugLevel,
			"warn":  zapcore.WarnLevel,
			"ERROR": zapcore.ErrorLevel,
		} {
			logger, err := New(level, false)
			require.NoError(t, err, level)
			assert.True(t, logger.Core().Enabled(want), level)
			if want > zapcore.DebugLevel {
				assert.False(t, logger.Core().Enabled(want-1), level)
			}
		}
	})

	t.Run("Development", func(t *testing.T) {
		t.Parallel()
		logger, err := New("debug", true)
		require.NoError(t, err)
		assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))
	})

	t.Run("BadLevel", func(t *testing.T) {
		t.Parallel()
		_, err := New("chatty", false)
		assert.Error(t, err)
	})
}
