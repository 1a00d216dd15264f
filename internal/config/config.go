// Package config provides configuration loading for decisiond.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for decisiond. It is constructed once at
// startup and passed explicitly to every component; nothing reads it from
// process-wide state.
type Config struct {
	Logging   LoggingConfig   `koanf:"logging"`
	Database  DatabaseConfig  `koanf:"database"`
	Temporal  TemporalConfig  `koanf:"temporal"`
	LLM       LLMConfig       `koanf:"llm"`
	Pipeline  PipelineConfig  `koanf:"pipeline"`
	Watcher   WatcherConfig   `koanf:"watcher"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `koanf:"level"`
	// Format is "json" or "console".
	Format string `koanf:"format"`
}

// DatabaseConfig configures the PostgreSQL connection.
type DatabaseConfig struct {
	// DSN is the pgx connection string. Redacted in logs.
	DSN Secret `koanf:"dsn"`
}

// TemporalConfig configures the durable workflow runtime.
type TemporalConfig struct {
	HostPort  string `koanf:"host_port"`
	Namespace string `koanf:"namespace"`
	TaskQueue string `koanf:"task_queue"`
}

// LLMConfig configures the structured LLM client.
type LLMConfig struct {
	// Provider is "anthropic" or "openai".
	Provider string `koanf:"provider"`
	Model    string `koanf:"model"`
	APIKey   Secret `koanf:"api_key"`
	BaseURL  string `koanf:"base_url"`
	// MaxTokens caps the model's response length.
	MaxTokens int      `koanf:"max_tokens"`
	Timeout   Duration `koanf:"timeout"`
	// RateLimit is requests per second; Burst allows short spikes.
	RateLimit float64 `koanf:"rate_limit"`
	Burst     int     `koanf:"burst"`
	// MaxRetries bounds the client's own retry loop for transient failures.
	MaxRetries int `koanf:"max_retries"`
}

// PipelineConfig holds the extraction pipeline tunables.
type PipelineConfig struct {
	// WindowBuffer is the number of messages included before and after each
	// appearance span when building a phase-2 context window.
	WindowBuffer int `koanf:"window_buffer"`
	// MaxAttempts bounds orchestrator-level retries per step.
	MaxAttempts int `koanf:"max_attempts"`
	// BaseBackoff is the initial backoff between step retries; it doubles
	// per attempt.
	BaseBackoff Duration `koanf:"base_backoff"`
	// ExtractConcurrency bounds parallel candidate extraction. 1 means
	// sequential, which is the safe default.
	ExtractConcurrency int `koanf:"extract_concurrency"`
}

// WatcherConfig configures the local session file watcher.
type WatcherConfig struct {
	// Paths are directories to watch for conversation files. When empty the
	// watcher falls back to the default Claude Code projects directory.
	Paths []string `koanf:"paths"`
	// Debounce coalesces rapid file change events.
	Debounce Duration `koanf:"debounce"`
	// OrgID and WorkspaceID tag every pipeline run triggered by the watcher.
	OrgID       string `koanf:"org_id"`
	WorkspaceID string `koanf:"workspace_id"`
}

// TelemetryConfig configures OTLP metrics export. Disabled by default so a
// missing collector never blocks startup.
type TelemetryConfig struct {
	Enabled        bool   `koanf:"enabled"`
	Endpoint       string `koanf:"endpoint"`
	ServiceName    string `koanf:"service_name"`
	ServiceVersion string `koanf:"service_version"`
	// Insecure skips TLS; the local-collector default.
	Insecure       bool     `koanf:"insecure"`
	ExportInterval Duration `koanf:"export_interval"`
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Temporal.HostPort == "" {
		cfg.Temporal.HostPort = "localhost:7233"
	}
	if cfg.Temporal.Namespace == "" {
		cfg.Temporal.Namespace = "default"
	}
	if cfg.Temporal.TaskQueue == "" {
		cfg.Temporal.TaskQueue = "decisiond-extraction"
	}

	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "anthropic"
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 4096
	}
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = Duration(60 * time.Second)
	}
	if cfg.LLM.RateLimit == 0 {
		cfg.LLM.RateLimit = 50.0 / 60.0 // 50 requests per minute
	}
	if cfg.LLM.Burst == 0 {
		cfg.LLM.Burst = 5
	}
	if cfg.LLM.MaxRetries == 0 {
		cfg.LLM.MaxRetries = 3
	}

	if cfg.Pipeline.WindowBuffer == 0 {
		cfg.Pipeline.WindowBuffer = 2
	}
	if cfg.Pipeline.MaxAttempts == 0 {
		cfg.Pipeline.MaxAttempts = 3
	}
	if cfg.Pipeline.BaseBackoff == 0 {
		cfg.Pipeline.BaseBackoff = Duration(1 * time.Second)
	}
	if cfg.Pipeline.ExtractConcurrency == 0 {
		cfg.Pipeline.ExtractConcurrency = 1
	}

	if cfg.Watcher.Debounce == 0 {
		cfg.Watcher.Debounce = Duration(2 * time.Second)
	}
	if cfg.Watcher.OrgID == "" {
		cfg.Watcher.OrgID = "default"
	}
	if cfg.Watcher.WorkspaceID == "" {
		cfg.Watcher.WorkspaceID = "default"
	}

	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
		cfg.Telemetry.Insecure = true
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "decisiond"
	}
	if cfg.Telemetry.ServiceVersion == "" {
		cfg.Telemetry.ServiceVersion = "0.1.0"
	}
	if cfg.Telemetry.ExportInterval == 0 {
		cfg.Telemetry.ExportInterval = Duration(15 * time.Second)
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging level: %q", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid logging format: %q", c.Logging.Format)
	}

	switch c.LLM.Provider {
	case "anthropic", "openai":
	default:
		return fmt.Errorf("unknown llm provider: %q", c.LLM.Provider)
	}

	if c.Pipeline.WindowBuffer < 0 {
		return fmt.Errorf("pipeline window_buffer cannot be negative: %d", c.Pipeline.WindowBuffer)
	}
	if c.Pipeline.MaxAttempts < 1 {
		return fmt.Errorf("pipeline max_attempts must be at least 1: %d", c.Pipeline.MaxAttempts)
	}
	if c.Pipeline.ExtractConcurrency < 1 {
		return fmt.Errorf("pipeline extract_concurrency must be at least 1: %d", c.Pipeline.ExtractConcurrency)
	}

	return nil
}
