package config

import (
	"fmt"
	"regexp"
	"strings"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAPIKey validates an API key format
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}

	switch provider {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "openai":
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	}

	return nil
}

// ValidateTemperature validates temperature value
func (v *Validator) ValidateTemperature(temp float64) error {
	if temp < 0 || temp > 1 {
		return fmt.Errorf("temperature must be between 0 and 1, got %f", temp)
	}
	return nil
}

// ValidateMaxTokens validates max tokens value
func (v *Validator) ValidateMaxTokens(tokens int) error {
	if tokens <= 0 {
		return fmt.Errorf("max tokens must be positive, got %d", tokens)
	}
	if tokens > 200000 {
		return fmt.Errorf("max tokens too large (max 200000), got %d", tokens)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateRedactPatterns checks that every custom redaction pattern compiles
func (v *Validator) ValidateRedactPatterns(patterns []string) error {
	for _, pattern := range patterns {
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("invalid logging.redact_patterns entry %q: %w", pattern, err)
		}
	}
	return nil
}

// ValidateMetricsAddr validates the metrics listen address
func (v *Validator) ValidateMetricsAddr(addr string) error {
	if addr == "" {
		return nil // Disabled
	}
	if !strings.Contains(addr, ":") {
		return fmt.Errorf("invalid metrics address: %s (expected host:port)", addr)
	}
	return nil
}

// ValidateConfig performs comprehensive validation and reports every problem
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	for i, profile := range cfg.AI.Profiles {
		if profile.Provider != "" {
			if err := v.ValidateAPIKey(profile.APIKey, profile.Provider); err != nil {
				errors = append(errors, fmt.Errorf("AI profile %d (%s): %w", i, profile.ID, err))
			}
		}
		if profile.Temperature != 0 {
			if err := v.ValidateTemperature(profile.Temperature); err != nil {
				errors = append(errors, fmt.Errorf("AI profile %d (%s): %w", i, profile.ID, err))
			}
		}
		if profile.MaxTokens != 0 {
			if err := v.ValidateMaxTokens(profile.MaxTokens); err != nil {
				errors = append(errors, fmt.Errorf("AI profile %d (%s): %w", i, profile.ID, err))
			}
		}
	}

	if cfg.Agent.MaxTurns < 0 {
		errors = append(errors, fmt.Errorf("agent.max_turns must be >= 0"))
	}
	if cfg.Session.MaxInactiveJobs <= 0 {
		errors = append(errors, fmt.Errorf("session.max_inactive_jobs must be positive"))
	}
	if cfg.Shutdown.DoubleInterruptWindowMs <= 0 {
		errors = append(errors, fmt.Errorf("shutdown.double_interrupt_window_ms must be positive"))
	}
	if cfg.Shutdown.TimeoutSeconds <= 0 {
		errors = append(errors, fmt.Errorf("shutdown.timeout_seconds must be positive"))
	}
	if cfg.History.Limit < 0 {
		errors = append(errors, fmt.Errorf("history.limit must be >= 0"))
	}
	if err := v.ValidateMetricsAddr(cfg.Metrics.Addr); err != nil {
		errors = append(errors, err)
	}

	// Validate logging
	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}
	if err := v.ValidateRedactPatterns(cfg.Logging.RedactPatterns); err != nil {
		errors = append(errors, err)
	}
	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
		errors = append(errors, fmt.Errorf("tracing.sample_ratio must be between 0 and 1"))
	}

	return errors
}
