package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dvillagrablanco/inmova-app-sub011/internal/config"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	appCfg := config.AppConfig{Name: "sync-engine", Environment: "test", Version: "0.1.0"}

	t.Run("defaults to info on stdout", func(t *testing.T) {
		logger, closer, err := New(config.LoggingConfig{}, appCfg)
		require.NoError(t, err)
		require.NotNil(t, logger)
		assert.Nil(t, closer)
		assert.Equal(t, zerolog.InfoLevel, logger.GetLevel())
	})

	t.Run("honors level", func(t *testing.T) {
		logger, _, err := New(config.LoggingConfig{Level: "DEBUG"}, appCfg)
		require.NoError(t, err)
		assert.Equal(t, zerolog.DebugLevel, logger.GetLevel())
	})

	t.Run("unknown level falls back to info", func(t *testing.T) {
		logger, _, err := New(config.LoggingConfig{Level: "loud"}, appCfg)
		require.NoError(t, err)
		assert.Equal(t, zerolog.InfoLevel, logger.GetLevel())
	})

	t.Run("file output writes and closes", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "sync.log")
		logger, closer, err := New(config.LoggingConfig{Output: "file", FilePath: path}, appCfg)
		require.NoError(t, err)
		require.NotNil(t, closer)

		logger.Info().Str("component", "test").Msg("hello")
		require.NoError(t, closer.Close())

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"app":"sync-engine"`)
		assert.Contains(t, string(data), "hello")
	})

	t.Run("file output requires a path", func(t *testing.T) {
		_, _, err := New(config.LoggingConfig{Output: "file"}, appCfg)
		require.Error(t, err)
	})

	t.Run("console format", func(t *testing.T) {
		logger, _, err := New(config.LoggingConfig{Format: "console"}, appCfg)
		require.NoError(t, err)
		assert.NotNil(t, logger)
	})
}
