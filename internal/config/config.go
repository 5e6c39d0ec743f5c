// Package config provides configuration loading for penny.
//
// Configuration is layered: built-in defaults, then an optional YAML file,
// then PENNY_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config holds the complete penny configuration.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Engine      EngineConfig      `koanf:"engine"`
	Compression CompressionConfig `koanf:"compression"`
	Artifact    ArtifactConfig    `koanf:"artifact"`
	Store       StoreConfig       `koanf:"store"`
	Gateway     GatewayConfig     `koanf:"gateway"`
	Workflows   WorkflowsConfig   `koanf:"workflows"`
	Events      EventsConfig      `koanf:"events"`
	Inbox       InboxConfig       `koanf:"inbox"`
	Hooks       HooksConfig       `koanf:"hooks"`
	Secrets     SecretsConfig     `koanf:"secrets"`
	Logging     LoggingConfig     `koanf:"logging"`
	Telemetry   TelemetryConfig   `koanf:"telemetry"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// EngineConfig holds the impasse and remediation policy values.
type EngineConfig struct {
	// ConfidenceThreshold is the minimum signal confidence for a verdict.
	ConfidenceThreshold float64 `koanf:"confidence_threshold"`

	// DuplicateThreshold is the word-overlap ratio at which an attempt
	// counts as a near-duplicate of the previous one.
	DuplicateThreshold float64 `koanf:"duplicate_threshold"`

	// RetryCeiling is the automatic attempt count for phases that do not
	// declare max_iterations.
	RetryCeiling int `koanf:"retry_ceiling"`

	// ConflictReloads bounds reload-and-redecide cycles per transition.
	ConflictReloads int `koanf:"conflict_reloads"`
}

// CompressionConfig holds context compression settings.
type CompressionConfig struct {
	// Budget is the token budget for the compressed history.
	Budget int `koanf:"budget"`

	// SummarySentences bounds the decision summary tier.
	SummarySentences int `koanf:"summary_sentences"`
}

// ArtifactConfig holds quadrant bounds.
type ArtifactConfig struct {
	QuadrantMinTokens int `koanf:"quadrant_min_tokens"`
	QuadrantMaxTokens int `koanf:"quadrant_max_tokens"`
}

// StoreConfig selects the task and artifact persistence backend.
type StoreConfig struct {
	// Backend is one of "memory", "file", "sqlite".
	Backend string `koanf:"backend"`
	Path    string `koanf:"path"`
}

// GatewayConfig configures the worker boundary.
type GatewayConfig struct {
	// Mode is "http" or "exec".
	Mode     string   `koanf:"mode"`
	Timeout  Duration `koanf:"timeout"`
	Endpoint string   `koanf:"endpoint"`
	Token    Secret   `koanf:"token"`
	Command  string   `koanf:"command"`
	Args     []string `koanf:"args"`

	// RateLimit is the sustained worker call rate per second (0 disables).
	RateLimit float64 `koanf:"rate_limit"`
	Burst     int     `koanf:"burst"`
}

// WorkflowsConfig points at workflow definition files.
type WorkflowsConfig struct {
	Dir string `koanf:"dir"`
}

// EventsConfig configures NATS event publication.
type EventsConfig struct {
	Enabled       bool   `koanf:"enabled"`
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// InboxConfig configures the escalation answer inbox.
type InboxConfig struct {
	Enabled bool   `koanf:"enabled"`
	Dir     string `koanf:"dir"`
}

// HooksConfig maps engine event types to commands run after the event is
// committed. The event is written to the command's stdin as JSON.
type HooksConfig struct {
	Timeout  Duration            `koanf:"timeout"`
	Commands map[string][]string `koanf:"commands"`
}

// SecretsConfig configures scrubbing of worker output.
type SecretsConfig struct {
	Enabled   bool     `koanf:"enabled"`
	AllowList []string `koanf:"allow_list"`
}

// LoggingConfig holds the logging knobs exposed in the config file.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig holds OpenTelemetry export settings.
type TelemetryConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	Protocol    string  `koanf:"protocol"`
	Insecure    bool    `koanf:"insecure"`
	ServiceName string  `koanf:"service_name"`
	SampleRate  float64 `koanf:"sample_rate"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            9191,
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Engine: EngineConfig{
			ConfidenceThreshold: 0.7,
			DuplicateThreshold:  0.9,
			RetryCeiling:        1,
			ConflictReloads:     3,
		},
		Compression: CompressionConfig{
			Budget:           8000,
			SummarySentences: 3,
		},
		Artifact: ArtifactConfig{
			QuadrantMinTokens: 1,
			QuadrantMaxTokens: 400,
		},
		Store: StoreConfig{
			Backend: "file",
			Path:    "~/.local/share/penny",
		},
		Gateway: GatewayConfig{
			Mode:      "http",
			Timeout:   Duration(5 * time.Minute),
			Endpoint:  "http://127.0.0.1:8088/invoke",
			RateLimit: 2,
			Burst:     1,
		},
		Workflows: WorkflowsConfig{
			Dir: "~/.config/penny/workflows",
		},
		Events: EventsConfig{
			URL:           "nats://127.0.0.1:4222",
			SubjectPrefix: "penny",
		},
		Inbox: InboxConfig{
			Dir: "~/.local/share/penny/inbox",
		},
		Hooks: HooksConfig{
			Timeout: Duration(10 * time.Second),
		},
		Secrets: SecretsConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			Endpoint:    "localhost:4317",
			Protocol:    "grpc",
			Insecure:    true,
			ServiceName: "penny",
			SampleRate:  1.0,
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	if c.Engine.ConfidenceThreshold <= 0 || c.Engine.ConfidenceThreshold > 1 {
		return fmt.Errorf("engine.confidence_threshold must be in (0,1], got %v", c.Engine.ConfidenceThreshold)
	}
	if c.Engine.DuplicateThreshold <= 0 || c.Engine.DuplicateThreshold > 1 {
		return fmt.Errorf("engine.duplicate_threshold must be in (0,1], got %v", c.Engine.DuplicateThreshold)
	}
	if c.Engine.RetryCeiling < 0 {
		return fmt.Errorf("engine.retry_ceiling must be >= 0, got %d", c.Engine.RetryCeiling)
	}
	if c.Engine.ConflictReloads < 1 {
		return fmt.Errorf("engine.conflict_reloads must be >= 1, got %d", c.Engine.ConflictReloads)
	}

	if c.Compression.Budget <= 0 {
		return fmt.Errorf("compression.budget must be positive, got %d", c.Compression.Budget)
	}
	if c.Compression.SummarySentences < 1 {
		return fmt.Errorf("compression.summary_sentences must be >= 1, got %d", c.Compression.SummarySentences)
	}

	if c.Artifact.QuadrantMinTokens < 0 {
		return errors.New("artifact.quadrant_min_tokens must be >= 0")
	}
	if c.Artifact.QuadrantMaxTokens < c.Artifact.QuadrantMinTokens || c.Artifact.QuadrantMaxTokens == 0 {
		return fmt.Errorf("artifact.quadrant_max_tokens must be positive and >= min (%d), got %d",
			c.Artifact.QuadrantMinTokens, c.Artifact.QuadrantMaxTokens)
	}

	switch c.Store.Backend {
	case "memory":
	case "file", "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path required for %s backend", c.Store.Backend)
		}
	default:
		return fmt.Errorf("store.backend must be memory, file or sqlite, got %q", c.Store.Backend)
	}

	if c.Gateway.Timeout <= 0 {
		return errors.New("gateway.timeout must be positive")
	}
	switch c.Gateway.Mode {
	case "http":
		if c.Gateway.Endpoint == "" {
			return errors.New("gateway.endpoint required in http mode")
		}
	case "exec":
		if c.Gateway.Command == "" {
			return errors.New("gateway.command required in exec mode")
		}
	default:
		return fmt.Errorf("gateway.mode must be http or exec, got %q", c.Gateway.Mode)
	}
	if c.Gateway.RateLimit < 0 {
		return errors.New("gateway.rate_limit must be >= 0")
	}

	if c.Events.Enabled && c.Events.URL == "" {
		return errors.New("events.url required when events are enabled")
	}
	if c.Inbox.Enabled && c.Inbox.Dir == "" {
		return errors.New("inbox.dir required when the inbox is enabled")
	}

	if len(c.Hooks.Commands) > 0 && c.Hooks.Timeout <= 0 {
		return errors.New("hooks.timeout must be positive when hooks are configured")
	}
	for event, argv := range c.Hooks.Commands {
		if len(argv) == 0 || argv[0] == "" {
			return fmt.Errorf("hooks.commands.%s: command is empty", event)
		}
	}

	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging.format must be 'json' or 'console', got %q", c.Logging.Format)
	}

	if c.Telemetry.Enabled && c.Telemetry.ServiceName == "" {
		return errors.New("service name required when telemetry is enabled")
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		return fmt.Errorf("telemetry.sample_rate must be in [0,1], got %v", c.Telemetry.SampleRate)
	}

	return nil
}

// ExpandPath replaces a leading ~ with the user's home directory.
func ExpandPath(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
