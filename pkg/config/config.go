// Package config loads neurald configuration from YAML with environment
// variable overrides.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Default configuration values exported for documentation and validation
const (
	DefaultBind              = "127.0.0.1:8750"
	DefaultSnapshotTimeout   = 10 * time.Second
	DefaultActionTimeout     = 30 * time.Second
	DefaultIdempotentRetries = 2
	DefaultMaxSessions       = 64
	DefaultMaxMessageBytes   = 1 << 20
	DefaultInboundRate       = 100.0
	DefaultInboundBurst      = 200
	DefaultMemoryPath        = "neurald.db"
	DefaultLogDir            = "logs"
	DefaultLogLevel          = "info"
)

// Duration wraps time.Duration so YAML accepts "30s"-style strings.
type Duration time.Duration

// Std returns the wrapped standard duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// UnmarshalYAML decodes either a duration string or integer nanoseconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err == nil {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", raw, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var ns int64
	if err := value.Decode(&ns); err != nil {
		return fmt.Errorf("invalid duration value")
	}
	*d = Duration(ns)
	return nil
}

// MarshalYAML emits the duration string form.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// Config is the complete neurald configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Session SessionConfig `yaml:"session"`
	Memory  MemoryConfig  `yaml:"memory"`
	Bus     BusConfig     `yaml:"bus"`
	Logging LoggingConfig `yaml:"logging"`
	Tracing TracingConfig `yaml:"tracing"`
}

// ServerConfig configures the HTTP/WebSocket gateway.
type ServerConfig struct {
	Bind            string  `yaml:"bind"`
	MaxSessions     int     `yaml:"max_sessions"`
	MaxMessageBytes int64   `yaml:"max_message_bytes"`
	InboundRate     float64 `yaml:"inbound_rate"`
	InboundBurst    int     `yaml:"inbound_burst"`
}

// SessionConfig bounds the protocol engine's suspension points.
type SessionConfig struct {
	SnapshotTimeout   Duration `yaml:"snapshot_timeout"`
	ActionTimeout     Duration `yaml:"action_timeout"`
	IdempotentRetries int      `yaml:"idempotent_retries"`
}

// MemoryConfig configures the notes store.
type MemoryConfig struct {
	Path string `yaml:"path"`
}

// BusConfig selects the session event feed backend. An empty NATS URL means
// the in-process bus.
type BusConfig struct {
	NATSURL  string `yaml:"nats_url"`
	NATSName string `yaml:"nats_name"`
}

// LoggingConfig configures the JSONL event log.
type LoggingConfig struct {
	Dir   string `yaml:"dir"`
	Level string `yaml:"level"`
}

// TracingConfig toggles span export to stdout.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
}

// DefaultConfig returns a config populated with defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Bind:            DefaultBind,
			MaxSessions:     DefaultMaxSessions,
			MaxMessageBytes: DefaultMaxMessageBytes,
			InboundRate:     DefaultInboundRate,
			InboundBurst:    DefaultInboundBurst,
		},
		Session: SessionConfig{
			SnapshotTimeout:   Duration(DefaultSnapshotTimeout),
			ActionTimeout:     Duration(DefaultActionTimeout),
			IdempotentRetries: DefaultIdempotentRetries,
		},
		Memory: MemoryConfig{
			Path: DefaultMemoryPath,
		},
		Bus: BusConfig{
			NATSName: "neurald",
		},
		Logging: LoggingConfig{
			Dir:   DefaultLogDir,
			Level: DefaultLogLevel,
		},
	}
}

// Load returns defaults plus environment overrides, without reading a file.
func Load() (*Config, error) {
	cfg := DefaultConfig()
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file path.
func LoadFromPath(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loading config from %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config from %s: %w", path, err)
	}

	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies NEURALD_* environment variable overrides.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("NEURALD_BIND"); v != "" {
		cfg.Server.Bind = v
	}
	if v := os.Getenv("NEURALD_MAX_SESSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.MaxSessions = n
		}
	}
	if v := os.Getenv("NEURALD_SNAPSHOT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Session.SnapshotTimeout = Duration(d)
		}
	}
	if v := os.Getenv("NEURALD_ACTION_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Session.ActionTimeout = Duration(d)
		}
	}
	if v := os.Getenv("NEURALD_IDEMPOTENT_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Session.IdempotentRetries = n
		}
	}
	if v := os.Getenv("NEURALD_MEMORY_PATH"); v != "" {
		cfg.Memory.Path = v
	}
	if v := os.Getenv("NEURALD_NATS_URL"); v != "" {
		cfg.Bus.NATSURL = v
	}
	if v := os.Getenv("NEURALD_LOG_DIR"); v != "" {
		cfg.Logging.Dir = v
	}
	if v := os.Getenv("NEURALD_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("NEURALD_TRACING"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Tracing.Enabled = b
		}
	}
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Server.Bind); err != nil {
		return fmt.Errorf("server.bind %q: %w", c.Server.Bind, err)
	}
	if c.Server.MaxSessions <= 0 {
		return fmt.Errorf("server.max_sessions must be positive, got %d", c.Server.MaxSessions)
	}
	if c.Server.MaxMessageBytes <= 0 {
		return fmt.Errorf("server.max_message_bytes must be positive, got %d", c.Server.MaxMessageBytes)
	}
	if c.Session.SnapshotTimeout <= 0 {
		return fmt.Errorf("session.snapshot_timeout must be positive, got %s", c.Session.SnapshotTimeout)
	}
	if c.Session.ActionTimeout <= 0 {
		return fmt.Errorf("session.action_timeout must be positive, got %s", c.Session.ActionTimeout)
	}
	if c.Session.IdempotentRetries < 0 {
		return fmt.Errorf("session.idempotent_retries must not be negative, got %d", c.Session.IdempotentRetries)
	}
	if c.Memory.Path == "" {
		return fmt.Errorf("memory.path is required")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	return nil
}
