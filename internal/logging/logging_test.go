package logging_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rshade/apicache/internal/logging"
)

func TestNewLoggerWithPath(t *testing.T) {
	t.Run("file output", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "apicache.log")
		result := logging.NewLoggerWithPath(logging.Config{
			Level:  "debug",
			Format: logging.FormatJSON,
			Output: logging.OutputFile,
			File:   path,
		})
		t.Cleanup(func() { _ = result.Close() })

		require.True(t, result.UsingFile)
		assert.False(t, result.FallbackUsed)
		assert.Equal(t, path, result.FilePath)
		assert.Equal(t, zerolog.DebugLevel, result.Logger.GetLevel())

		result.Logger.Info().Msg("hello")
		require.NoError(t, result.Close())

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"message":"hello"`)
	})

	t.Run("unwritable file falls back", func(t *testing.T) {
		result := logging.NewLoggerWithPath(logging.Config{
			Output: logging.OutputFile,
			File:   filepath.Join(t.TempDir(), "missing", "dir", "x.log"),
		})
		assert.False(t, result.UsingFile)
		assert.True(t, result.FallbackUsed)
		assert.NotEmpty(t, result.FallbackReason)
		assert.Equal(t, zerolog.InfoLevel, result.Logger.GetLevel())
	})

	t.Run("invalid level defaults to info", func(t *testing.T) {
		logger := logging.NewLogger(logging.Config{Level: "loud"})
		assert.Equal(t, zerolog.InfoLevel, logger.GetLevel())
	})
}

func TestComponentLogger(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)
	componentLogger := logging.ComponentLogger(base, "cache")
	componentLogger.Info().Msg("x")
	assert.Contains(t, buf.String(), `"component":"cache"`)
}

func TestTraceID(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, logging.TraceIDFromContext(ctx))

	generated := logging.GetOrGenerateTraceID(ctx)
	_, err := ulid.ParseStrict(generated)
	require.NoError(t, err)

	ctx = logging.ContextWithTraceID(ctx, "trace-1")
	assert.Equal(t, "trace-1", logging.GetOrGenerateTraceID(ctx))

	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	ctx = logger.WithContext(ctx)
	logging.FromContext(ctx).Info().Msg("traced")
	assert.Contains(t, buf.String(), `"trace_id":"trace-1"`)
}
