package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds all server configuration.
// Tags:
//
//	env: Environment variable name
//	envDefault: Default value if not set
type Config struct {
	// Server basics
	Addr        string `env:"AW_ADDR" envDefault:":3010"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`

	// Admission limits
	MaxConnections        int `env:"AW_MAX_CONNECTIONS" envDefault:"500"`
	MaxConnectionsPerAddr int `env:"AW_MAX_CONNECTIONS_PER_ADDR" envDefault:"10"`

	// Authentication
	JWTSecret       string        `env:"AW_JWT_SECRET" envDefault:"dev-secret-change-me"`
	AuthTimeout     time.Duration `env:"AW_AUTH_TIMEOUT" envDefault:"30s"`
	MaxAuthAttempts int           `env:"AW_MAX_AUTH_ATTEMPTS" envDefault:"3"`

	// Message rate limiting (fixed window per connection)
	MessageWindow       time.Duration `env:"AW_MESSAGE_WINDOW" envDefault:"60s"`
	MessagesPerWindow   int           `env:"AW_MESSAGES_PER_WINDOW" envDefault:"30"`
	RateEntryStaleAfter time.Duration `env:"AW_RATE_ENTRY_STALE_AFTER" envDefault:"2m"`

	// Connection-attempt rate limiting (upgrade time, DoS protection)
	ConnRateLimitEnabled     bool    `env:"AW_CONN_RATE_LIMIT_ENABLED" envDefault:"true"`
	ConnRateLimitIPBurst     int     `env:"AW_CONN_RATE_LIMIT_IP_BURST" envDefault:"10"`
	ConnRateLimitIPRate      float64 `env:"AW_CONN_RATE_LIMIT_IP_RATE" envDefault:"1.0"`
	ConnRateLimitGlobalBurst int     `env:"AW_CONN_RATE_LIMIT_GLOBAL_BURST" envDefault:"100"`
	ConnRateLimitGlobalRate  float64 `env:"AW_CONN_RATE_LIMIT_GLOBAL_RATE" envDefault:"25.0"`

	// Heartbeat / staleness
	HeartbeatInterval time.Duration `env:"AW_HEARTBEAT_INTERVAL" envDefault:"30s"`
	PongStaleAfter    time.Duration `env:"AW_PONG_STALE_AFTER" envDefault:"90s"`
	IdleStaleAfter    time.Duration `env:"AW_IDLE_STALE_AFTER" envDefault:"120s"`

	// Framing
	MaxFrameBytes int64 `env:"AW_MAX_FRAME_BYTES" envDefault:"10240"`

	// Request pipeline
	GenerationTimeout time.Duration `env:"AW_GENERATION_TIMEOUT" envDefault:"60s"`
	SynthesisTimeout  time.Duration `env:"AW_SYNTHESIS_TIMEOUT" envDefault:"30s"`

	// Collaborators
	AnthropicAPIKey string `env:"ANTHROPIC_API_KEY"`
	AnthropicModel  string `env:"AW_ANTHROPIC_MODEL" envDefault:"claude-3-5-sonnet-20241022"`
	NATSUrl         string `env:"NATS_URL" envDefault:"nats://localhost:4222"`
	TTSSubject      string `env:"AW_TTS_SUBJECT" envDefault:"tts.synthesize"`

	// HTTP server timeouts
	HTTPReadTimeout  time.Duration `env:"AW_HTTP_READ_TIMEOUT" envDefault:"10s"`
	HTTPWriteTimeout time.Duration `env:"AW_HTTP_WRITE_TIMEOUT" envDefault:"10s"`
	HTTPIdleTimeout  time.Duration `env:"AW_HTTP_IDLE_TIMEOUT" envDefault:"120s"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// Load reads configuration from a .env file and environment variables.
// Priority: ENV vars > .env file > defaults.
func Load(logger *zerolog.Logger) (*Config, error) {
	// .env is a development convenience; production uses real env vars.
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("No .env file found (using environment variables only)")
		}
	} else if logger != nil {
		logger.Info().Msg("Loaded configuration from .env file")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks configuration for errors.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("AW_ADDR is required")
	}
	if c.MaxConnections < 1 {
		return fmt.Errorf("AW_MAX_CONNECTIONS must be > 0, got %d", c.MaxConnections)
	}
	if c.MaxConnectionsPerAddr < 1 {
		return fmt.Errorf("AW_MAX_CONNECTIONS_PER_ADDR must be > 0, got %d", c.MaxConnectionsPerAddr)
	}
	if c.MaxConnectionsPerAddr > c.MaxConnections {
		return fmt.Errorf("AW_MAX_CONNECTIONS_PER_ADDR (%d) must be <= AW_MAX_CONNECTIONS (%d)",
			c.MaxConnectionsPerAddr, c.MaxConnections)
	}
	if c.MaxAuthAttempts < 1 {
		return fmt.Errorf("AW_MAX_AUTH_ATTEMPTS must be > 0, got %d", c.MaxAuthAttempts)
	}
	if c.MessagesPerWindow < 1 {
		return fmt.Errorf("AW_MESSAGES_PER_WINDOW must be > 0, got %d", c.MessagesPerWindow)
	}
	if c.MaxFrameBytes < 1 {
		return fmt.Errorf("AW_MAX_FRAME_BYTES must be > 0, got %d", c.MaxFrameBytes)
	}
	if c.PongStaleAfter <= c.HeartbeatInterval {
		return fmt.Errorf("AW_PONG_STALE_AFTER (%s) must be > AW_HEARTBEAT_INTERVAL (%s)",
			c.PongStaleAfter, c.HeartbeatInterval)
	}
	if c.IdleStaleAfter < c.PongStaleAfter {
		return fmt.Errorf("AW_IDLE_STALE_AFTER (%s) must be >= AW_PONG_STALE_AFTER (%s)",
			c.IdleStaleAfter, c.PongStaleAfter)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of: debug, info, warn, error (got: %s)", c.LogLevel)
	}

	validLogFormats := map[string]bool{"json": true, "pretty": true}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, pretty (got: %s)", c.LogFormat)
	}

	return nil
}

// LogConfig logs the effective configuration with structured fields.
func (c *Config) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("environment", c.Environment).
		Str("addr", c.Addr).
		Int("max_connections", c.MaxConnections).
		Int("max_connections_per_addr", c.MaxConnectionsPerAddr).
		Dur("auth_timeout", c.AuthTimeout).
		Int("max_auth_attempts", c.MaxAuthAttempts).
		Dur("message_window", c.MessageWindow).
		Int("messages_per_window", c.MessagesPerWindow).
		Dur("heartbeat_interval", c.HeartbeatInterval).
		Dur("pong_stale_after", c.PongStaleAfter).
		Dur("idle_stale_after", c.IdleStaleAfter).
		Int64("max_frame_bytes", c.MaxFrameBytes).
		Dur("generation_timeout", c.GenerationTimeout).
		Dur("synthesis_timeout", c.SynthesisTimeout).
		Str("anthropic_model", c.AnthropicModel).
		Str("nats_url", c.NATSUrl).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Msg("Server configuration loaded")
}
