package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.AI.Profiles = []AIProfile{
		{
			ID:       "test-profile",
			Provider: "anthropic",
			APIKey:   "sk-ant-test123",
		},
	}
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Redaction)
	assert.Equal(t, 3, cfg.Session.MaxInactiveJobs)
	assert.Equal(t, 1000, cfg.Shutdown.DoubleInterruptWindowMs)
	assert.Equal(t, 5, cfg.Shutdown.TimeoutSeconds)
	assert.Equal(t, time.Second, cfg.Shutdown.DoubleInterruptWindow())
	assert.Equal(t, 5*time.Second, cfg.Shutdown.Timeout())
	assert.Equal(t, 25, cfg.Agent.MaxTurns)
	assert.Empty(t, cfg.AI.Profiles)
	assert.Empty(t, cfg.Metrics.Addr)
	assert.False(t, cfg.Tracing.Enabled)
	assert.Equal(t, 1.0, cfg.Tracing.SampleRatio)
}

func TestConfigValidate(t *testing.T) {
	t.Run("should accept a valid config", func(t *testing.T) {
		assert.NoError(t, validConfig().Validate())
	})

	t.Run("should require AI credentials", func(t *testing.T) {
		cfg := DefaultConfig()

		err := cfg.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "no AI credentials")
	})

	t.Run("should reject unknown providers", func(t *testing.T) {
		cfg := validConfig()
		cfg.AI.Profiles[0].Provider = "gemini"

		err := cfg.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "invalid provider")
	})

	t.Run("should reject duplicate profile ids", func(t *testing.T) {
		cfg := validConfig()
		cfg.AI.Profiles = append(cfg.AI.Profiles, cfg.AI.Profiles[0])

		err := cfg.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "duplicate")
	})

	t.Run("should reject a missing api key", func(t *testing.T) {
		cfg := validConfig()
		cfg.AI.Profiles[0].APIKey = ""

		assert.Error(t, cfg.Validate())
	})

	t.Run("should reject non-positive tunables", func(t *testing.T) {
		cfg := validConfig()
		cfg.Session.MaxInactiveJobs = 0
		assert.Error(t, cfg.Validate())

		cfg = validConfig()
		cfg.Shutdown.DoubleInterruptWindowMs = 0
		assert.Error(t, cfg.Validate())

		cfg = validConfig()
		cfg.Shutdown.TimeoutSeconds = -1
		assert.Error(t, cfg.Validate())
	})

	t.Run("should reject a sample ratio outside 0..1", func(t *testing.T) {
		cfg := validConfig()
		cfg.Tracing.SampleRatio = 1.5

		err := cfg.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "sample_ratio")
	})
}

func TestConfigString(t *testing.T) {
	t.Run("should mask api keys", func(t *testing.T) {
		cfg := validConfig()

		out := cfg.String()
		assert.NotContains(t, out, "sk-ant-test123")
		assert.Contains(t, out, "***")
		assert.Equal(t, "sk-ant-test123", cfg.AI.Profiles[0].APIKey)
	})
}
