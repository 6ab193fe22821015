package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Config represents the main agentenv configuration
type Config struct {
	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// AI provider profiles
	AI AIConfig `json:"ai" mapstructure:"ai"`

	// Agent loop defaults
	Agent AgentConfig `json:"agent" mapstructure:"agent"`

	// Job retention
	Session SessionConfig `json:"session" mapstructure:"session"`

	// Interrupt handling and graceful shutdown
	Shutdown ShutdownConfig `json:"shutdown" mapstructure:"shutdown"`

	// Input history
	History HistoryConfig `json:"history" mapstructure:"history"`

	// Prometheus endpoint
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`

	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`

	RedactPatterns []string `json:"redact_patterns,omitempty" mapstructure:"redact_patterns"`
}

// AIConfig holds AI provider configuration
type AIConfig struct {
	Profiles []AIProfile `json:"profiles" mapstructure:"profiles"`
}

// AIProfile represents an AI provider profile
type AIProfile struct {
	ID          string  `json:"id" mapstructure:"id"`
	Provider    string  `json:"provider" mapstructure:"provider"` // anthropic, openai
	APIKey      string  `json:"api_key" mapstructure:"api_key"`
	Model       string  `json:"model" mapstructure:"model"`
	MaxTokens   int     `json:"max_tokens" mapstructure:"max_tokens"`
	Temperature float64 `json:"temperature" mapstructure:"temperature"`
}

// AgentConfig holds defaults for agent-loop tasks
type AgentConfig struct {
	SystemPrompt string `json:"system_prompt" mapstructure:"system_prompt"`
	MaxTurns     int    `json:"max_turns" mapstructure:"max_turns"`
}

// SessionConfig holds job retention settings
type SessionConfig struct {
	MaxInactiveJobs int `json:"max_inactive_jobs" mapstructure:"max_inactive_jobs"`
}

// ShutdownConfig holds interrupt and shutdown settings
type ShutdownConfig struct {
	DoubleInterruptWindowMs int `json:"double_interrupt_window_ms" mapstructure:"double_interrupt_window_ms"`
	TimeoutSeconds          int `json:"timeout_seconds" mapstructure:"timeout_seconds"`
}

// DoubleInterruptWindow returns the window as a duration
func (s ShutdownConfig) DoubleInterruptWindow() time.Duration {
	return time.Duration(s.DoubleInterruptWindowMs) * time.Millisecond
}

// Timeout returns the shutdown wait timeout as a duration
func (s ShutdownConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// HistoryConfig holds input history settings
type HistoryConfig struct {
	Path  string `json:"path" mapstructure:"path"`
	Limit int    `json:"limit" mapstructure:"limit"`
}

// MetricsConfig holds the metrics endpoint settings. An empty address disables it.
type MetricsConfig struct {
	Addr string `json:"addr" mapstructure:"addr"`
}

// TracingConfig holds OpenTelemetry settings
type TracingConfig struct {
	Enabled     bool    `json:"enabled" mapstructure:"enabled"`
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:     "info",
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
		AI: AIConfig{
			Profiles: []AIProfile{},
		},
		Agent: AgentConfig{
			MaxTurns: 25,
		},
		Session: SessionConfig{
			MaxInactiveJobs: 3,
		},
		Shutdown: ShutdownConfig{
			DoubleInterruptWindowMs: 1000,
			TimeoutSeconds:          5,
		},
		History: HistoryConfig{
			Limit: 1000,
		},
		Tracing: TracingConfig{
			SampleRatio: 1,
		},
		DataDir: "",
	}
}

// String returns a JSON representation of the config with API keys masked
func (c *Config) String() string {
	masked := *c
	masked.AI.Profiles = make([]AIProfile, len(c.AI.Profiles))
	for i, p := range c.AI.Profiles {
		if p.APIKey != "" {
			p.APIKey = "***"
		}
		masked.AI.Profiles[i] = p
	}
	data, _ := json.MarshalIndent(&masked, "", "  ")
	return string(data)
}

// Validate checks if the configuration is usable
func (c *Config) Validate() error {
	// Require at least one AI profile
	if len(c.AI.Profiles) == 0 {
		return fmt.Errorf("no AI credentials configured: at least one AI profile is required")
	}

	seen := make(map[string]bool, len(c.AI.Profiles))
	for i, profile := range c.AI.Profiles {
		if profile.ID == "" {
			return fmt.Errorf("AI profile %d: ID is required", i)
		}
		if seen[profile.ID] {
			return fmt.Errorf("AI profile %s: duplicate ID", profile.ID)
		}
		seen[profile.ID] = true
		if profile.Provider == "" {
			return fmt.Errorf("AI profile %s: provider is required", profile.ID)
		}
		if profile.APIKey == "" {
			return fmt.Errorf("AI profile %s: api_key is required", profile.ID)
		}
		if profile.Provider != "anthropic" && profile.Provider != "openai" {
			return fmt.Errorf("AI profile %s: invalid provider %s (must be: anthropic, openai)", profile.ID, profile.Provider)
		}
	}

	if c.Session.MaxInactiveJobs <= 0 {
		return fmt.Errorf("session.max_inactive_jobs must be positive")
	}
	if c.Shutdown.DoubleInterruptWindowMs <= 0 {
		return fmt.Errorf("shutdown.double_interrupt_window_ms must be positive")
	}
	if c.Shutdown.TimeoutSeconds <= 0 {
		return fmt.Errorf("shutdown.timeout_seconds must be positive")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be between 0 and 1")
	}

	return nil
}
