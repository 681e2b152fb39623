package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultBind, cfg.Server.Bind)
	assert.Equal(t, DefaultMaxSessions, cfg.Server.MaxSessions)
	assert.Equal(t, DefaultSnapshotTimeout, cfg.Session.SnapshotTimeout.Std())
	assert.Equal(t, DefaultActionTimeout, cfg.Session.ActionTimeout.Std())
	assert.Equal(t, DefaultIdempotentRetries, cfg.Session.IdempotentRetries)
	assert.Equal(t, DefaultMemoryPath, cfg.Memory.Path)
	assert.Empty(t, cfg.Bus.NATSURL)
	assert.Equal(t, DefaultLogLevel, cfg.Logging.Level)
	assert.False(t, cfg.Tracing.Enabled)
}

func TestLoadFromPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := `
server:
  bind: "0.0.0.0:9000"
  max_sessions: 8
session:
  snapshot_timeout: 5s
  action_timeout: 45s
  idempotent_retries: 1
memory:
  path: "/tmp/notes.db"
bus:
  nats_url: "nats://localhost:4222"
logging:
  level: debug
tracing:
  enabled: true
`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9000", cfg.Server.Bind)
	assert.Equal(t, 8, cfg.Server.MaxSessions)
	assert.Equal(t, 5*time.Second, cfg.Session.SnapshotTimeout.Std())
	assert.Equal(t, 45*time.Second, cfg.Session.ActionTimeout.Std())
	assert.Equal(t, 1, cfg.Session.IdempotentRetries)
	assert.Equal(t, "/tmp/notes.db", cfg.Memory.Path)
	assert.Equal(t, "nats://localhost:4222", cfg.Bus.NATSURL)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Tracing.Enabled)

	// Unset fields keep their defaults.
	assert.Equal(t, int64(DefaultMaxMessageBytes), cfg.Server.MaxMessageBytes)
}

func TestLoadFromPathMissingFile(t *testing.T) {
	_, err := LoadFromPath(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("NEURALD_BIND", "127.0.0.1:7001")
	t.Setenv("NEURALD_ACTION_TIMEOUT", "90s")
	t.Setenv("NEURALD_IDEMPOTENT_RETRIES", "0")
	t.Setenv("NEURALD_LOG_LEVEL", "warn")
	t.Setenv("NEURALD_NATS_URL", "nats://bus:4222")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:7001", cfg.Server.Bind)
	assert.Equal(t, 90*time.Second, cfg.Session.ActionTimeout.Std())
	assert.Equal(t, 0, cfg.Session.IdempotentRetries)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "nats://bus:4222", cfg.Bus.NATSURL)
}

func TestEnvOverridesBeatFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  bind: \"127.0.0.1:6000\"\n"), 0o644))
	t.Setenv("NEURALD_BIND", "127.0.0.1:6001")

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:6001", cfg.Server.Bind)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad bind", func(c *Config) { c.Server.Bind = "no-port" }},
		{"zero max sessions", func(c *Config) { c.Server.MaxSessions = 0 }},
		{"zero snapshot timeout", func(c *Config) { c.Session.SnapshotTimeout = 0 }},
		{"negative retries", func(c *Config) { c.Session.IdempotentRetries = -1 }},
		{"empty memory path", func(c *Config) { c.Memory.Path = "" }},
		{"unknown log level", func(c *Config) { c.Logging.Level = "verbose" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
