package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAPIKey(t *testing.T) {
	v := NewValidator()

	t.Run("valid anthropic key", func(t *testing.T) {
		assert.NoError(t, v.ValidateAPIKey("sk-ant-test123", "anthropic"))
	})

	t.Run("invalid anthropic key", func(t *testing.T) {
		assert.Error(t, v.ValidateAPIKey("invalid-key", "anthropic"))
	})

	t.Run("valid openai key", func(t *testing.T) {
		assert.NoError(t, v.ValidateAPIKey("sk-test123", "openai"))
	})

	t.Run("invalid openai key", func(t *testing.T) {
		assert.Error(t, v.ValidateAPIKey("invalid-key", "openai"))
	})

	t.Run("empty key", func(t *testing.T) {
		assert.Error(t, v.ValidateAPIKey("", "anthropic"))
	})
}

func TestValidateRanges(t *testing.T) {
	v := NewValidator()

	tests := []struct {
		name    string
		check   func() error
		wantErr bool
	}{
		{"temperature in range", func() error { return v.ValidateTemperature(0.7) }, false},
		{"temperature too high", func() error { return v.ValidateTemperature(1.5) }, true},
		{"temperature negative", func() error { return v.ValidateTemperature(-0.1) }, true},
		{"max tokens positive", func() error { return v.ValidateMaxTokens(4096) }, false},
		{"max tokens zero", func() error { return v.ValidateMaxTokens(0) }, true},
		{"max tokens too large", func() error { return v.ValidateMaxTokens(500000) }, true},
		{"log level known", func() error { return v.ValidateLogLevel("debug") }, false},
		{"log level unknown", func() error { return v.ValidateLogLevel("verbose") }, true},
		{"metrics addr empty", func() error { return v.ValidateMetricsAddr("") }, false},
		{"metrics addr host port", func() error { return v.ValidateMetricsAddr("127.0.0.1:9090") }, false},
		{"metrics addr missing port", func() error { return v.ValidateMetricsAddr("localhost") }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.check()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateConfig(t *testing.T) {
	v := NewValidator()

	t.Run("should report nothing for a valid config", func(t *testing.T) {
		assert.Empty(t, v.ValidateConfig(validConfig()))
	})

	t.Run("should report every problem", func(t *testing.T) {
		cfg := validConfig()
		cfg.AI.Profiles[0].APIKey = "wrong"
		cfg.AI.Profiles[0].Temperature = 3
		cfg.Session.MaxInactiveJobs = 0
		cfg.Logging.Level = "loud"

		errs := v.ValidateConfig(cfg)
		assert.Len(t, errs, 4)
	})

	t.Run("should report invalid redaction patterns and sample ratios", func(t *testing.T) {
		cfg := validConfig()
		cfg.Logging.RedactPatterns = []string{`token_[a-z]+`, "[unclosed"}
		cfg.Tracing.SampleRatio = -0.5

		errs := v.ValidateConfig(cfg)
		require.Len(t, errs, 2)
		assert.Contains(t, errs[0].Error(), "[unclosed")
		assert.Contains(t, errs[1].Error(), "sample_ratio")
	})
}

func TestValidateRedactPatterns(t *testing.T) {
	v := NewValidator()

	t.Run("should accept compilable patterns", func(t *testing.T) {
		assert.NoError(t, v.ValidateRedactPatterns([]string{`ghp_[A-Za-z0-9]+`, `(?i)token=\S+`}))
	})

	t.Run("should accept no patterns", func(t *testing.T) {
		assert.NoError(t, v.ValidateRedactPatterns(nil))
	})

	t.Run("should name the broken pattern", func(t *testing.T) {
		err := v.ValidateRedactPatterns([]string{"(open"})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "(open")
	})
}

func TestValidateSchema(t *testing.T) {
	t.Run("should accept a well-formed file", func(t *testing.T) {
		data := []byte(`{
			"ai": {"profiles": [{"id": "main", "provider": "openai", "api_key": "sk-x"}]},
			"session": {"max_inactive_jobs": 5},
			"shutdown": {"double_interrupt_window_ms": 500, "timeout_seconds": 10}
		}`)
		assert.NoError(t, ValidateSchema(data))
	})

	t.Run("should reject wrong types", func(t *testing.T) {
		err := ValidateSchema([]byte(`{"session": {"max_inactive_jobs": "three"}}`))
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "max_inactive_jobs")
	})

	t.Run("should reject unknown providers", func(t *testing.T) {
		err := ValidateSchema([]byte(`{"ai": {"profiles": [{"id": "x", "provider": "gemini"}]}}`))
		assert.Error(t, err)
	})

	t.Run("should reject an out of range sample ratio", func(t *testing.T) {
		err := ValidateSchema([]byte(`{"tracing": {"sample_ratio": 2}}`))
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "sample_ratio")
	})

	t.Run("should reject non-string redaction patterns", func(t *testing.T) {
		assert.Error(t, ValidateSchema([]byte(`{"logging": {"redact_patterns": [42]}}`)))
	})

	t.Run("should reject malformed json", func(t *testing.T) {
		assert.Error(t, ValidateSchema([]byte(`{"session": `)))
	})
}
