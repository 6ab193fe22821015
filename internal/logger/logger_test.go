package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("should write json to the console output", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := New(Config{Level: "info", Console: true, Output: &buf})
		require.NoError(t, err)
		defer logger.Close()

		zl := logger.GetZerolog()
		zl.Info().Str("workerId", "w1").Msg("hello")
		zl.Debug().Msg("hidden")

		assert.Contains(t, buf.String(), `"workerId":"w1"`)
		assert.Contains(t, buf.String(), `"message":"hello"`)
		assert.NotContains(t, buf.String(), "hidden")
	})

	t.Run("should install the global logger", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := New(Config{Level: "debug", Console: true, Output: &buf})
		require.NoError(t, err)
		defer logger.Close()

		log.Debug().Msg("through global")
		assert.Contains(t, buf.String(), "through global")
	})

	t.Run("should fall back to info on an unknown level", func(t *testing.T) {
		logger, err := New(Config{Level: "chatty"})
		require.NoError(t, err)
		defer logger.Close()

		assert.Equal(t, zerolog.InfoLevel, logger.GetZerolog().GetLevel())
	})

	t.Run("should write to a plain file without rotation", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "logs", "test.log")

		logger, err := New(Config{Level: "debug", File: logFile})
		require.NoError(t, err)
		zl := logger.GetZerolog()
		zl.Info().Msg("test message")
		require.NoError(t, logger.Close())

		content, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Contains(t, string(content), "test message")
	})

	t.Run("should write through the rotating writer when a size is set", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "test.log")

		logger, err := New(Config{Level: "info", File: logFile, MaxSize: 1})
		require.NoError(t, err)
		_, ok := logger.sink.(*RotatingWriter)
		assert.True(t, ok)
		require.NoError(t, logger.Close())
	})

	t.Run("should redact secrets", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := New(Config{Level: "info", Console: true, Output: &buf, Redaction: true})
		require.NoError(t, err)
		defer logger.Close()
		assert.NotNil(t, logger.redactor)

		zl := logger.GetZerolog()
		zl.Info().Msg("key sk-ant-REDACTED")

		assert.NotContains(t, buf.String(), "abcdefghijklmnopqrstuvwxyz")
		assert.Contains(t, buf.String(), "[REDACTED]")
	})

	t.Run("should redact configured patterns", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := New(Config{
			Level:          "info",
			Console:        true,
			Output:         &buf,
			Redaction:      true,
			RedactPatterns: []string{`ghp_[A-Za-z0-9]{8,}`},
		})
		require.NoError(t, err)
		defer logger.Close()

		zl := logger.GetZerolog()
		zl.Info().Msg("cloning with ghp_0123456789abcdef")

		assert.NotContains(t, buf.String(), "ghp_0123456789abcdef")
		assert.Contains(t, buf.String(), "[REDACTED]")
	})

	t.Run("should reject an invalid redaction pattern", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "logs", "agentenv.log")

		_, err := New(Config{File: file, Redaction: true, RedactPatterns: []string{"[unclosed"}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid redaction pattern")
		assert.NoFileExists(t, file)
	})

	t.Run("should ignore patterns when redaction is off", func(t *testing.T) {
		logger, err := New(Config{Level: "info", RedactPatterns: []string{"[unclosed"}})
		require.NoError(t, err)
		defer logger.Close()
		assert.Nil(t, logger.redactor)
	})
}

func TestLoggerWith(t *testing.T) {
	logger, err := New(Config{Level: "info"})
	require.NoError(t, err)
	defer logger.Close()

	child := logger.With().Str("component", "test").Logger()
	assert.Equal(t, zerolog.InfoLevel, child.GetLevel())
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.Level)
	assert.False(t, cfg.Console)
	assert.True(t, cfg.Pretty)
	assert.True(t, cfg.Redaction)
	assert.Equal(t, 100, cfg.MaxSize)
	assert.Equal(t, 7, cfg.MaxAge)
	assert.True(t, cfg.Compress)
}
