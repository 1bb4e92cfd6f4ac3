package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Addr:                  ":3010",
		MaxConnections:        500,
		MaxConnectionsPerAddr: 10,
		MaxAuthAttempts:       3,
		MessagesPerWindow:     30,
		MaxFrameBytes:         10240,
		HeartbeatInterval:     30 * time.Second,
		PongStaleAfter:        90 * time.Second,
		IdleStaleAfter:        120 * time.Second,
		LogLevel:              "info",
		LogFormat:             "json",
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "empty addr",
			mutate:  func(c *Config) { c.Addr = "" },
			wantErr: "AW_ADDR",
		},
		{
			name:    "zero max connections",
			mutate:  func(c *Config) { c.MaxConnections = 0 },
			wantErr: "AW_MAX_CONNECTIONS",
		},
		{
			name:    "per-addr cap above global cap",
			mutate:  func(c *Config) { c.MaxConnectionsPerAddr = 1000 },
			wantErr: "AW_MAX_CONNECTIONS_PER_ADDR",
		},
		{
			name:    "zero auth attempts",
			mutate:  func(c *Config) { c.MaxAuthAttempts = 0 },
			wantErr: "AW_MAX_AUTH_ATTEMPTS",
		},
		{
			name:    "zero message ceiling",
			mutate:  func(c *Config) { c.MessagesPerWindow = 0 },
			wantErr: "AW_MESSAGES_PER_WINDOW",
		},
		{
			name:    "zero frame limit",
			mutate:  func(c *Config) { c.MaxFrameBytes = 0 },
			wantErr: "AW_MAX_FRAME_BYTES",
		},
		{
			name:    "pong staleness inside heartbeat interval",
			mutate:  func(c *Config) { c.PongStaleAfter = 10 * time.Second },
			wantErr: "AW_PONG_STALE_AFTER",
		},
		{
			name:    "idle staleness below pong staleness",
			mutate:  func(c *Config) { c.IdleStaleAfter = 60 * time.Second },
			wantErr: "AW_IDLE_STALE_AFTER",
		},
		{
			name:    "unknown log level",
			mutate:  func(c *Config) { c.LogLevel = "verbose" },
			wantErr: "LOG_LEVEL",
		},
		{
			name:    "unknown log format",
			mutate:  func(c *Config) { c.LogFormat = "xml" },
			wantErr: "LOG_FORMAT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadParsesEnvironment(t *testing.T) {
	t.Setenv("AW_MAX_CONNECTIONS", "42")
	t.Setenv("AW_AUTH_TIMEOUT", "5s")
	t.Setenv("LOG_FORMAT", "pretty")

	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, 42, cfg.MaxConnections)
	assert.Equal(t, 5*time.Second, cfg.AuthTimeout)
	assert.Equal(t, "pretty", cfg.LogFormat)
	assert.Equal(t, ":3010", cfg.Addr)
}
