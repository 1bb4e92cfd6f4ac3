package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	_ "go.uber.org/automaxprocs"

	"github.com/voxline/assistant-ws/internal/collab"
	"github.com/voxline/assistant-ws/internal/config"
	"github.com/voxline/assistant-ws/internal/monitoring"
	"github.com/voxline/assistant-ws/internal/session"
	"github.com/voxline/assistant-ws/internal/transport"
)

func main() {
	var (
		debug = flag.Bool("debug", false, "enable debug logging (overrides LOG_LEVEL)")
	)
	flag.Parse()

	bootstrapLogger := monitoring.NewLogger(monitoring.LoggerConfig{Level: "info", Format: "json"})

	cfg, err := config.Load(&bootstrapLogger)
	if err != nil {
		bootstrapLogger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if *debug {
		cfg.LogLevel = "debug"
	}

	logger := monitoring.NewLogger(monitoring.LoggerConfig{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})
	cfg.LogConfig(logger)

	authenticator := collab.NewJWTAuthenticator(cfg.JWTSecret, 24*time.Hour)

	var responder collab.Responder
	if cfg.AnthropicAPIKey != "" {
		responder, err = collab.NewAnthropicResponder(cfg.AnthropicAPIKey, cfg.AnthropicModel)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to create responder")
		}
	} else {
		logger.Warn().Msg("ANTHROPIC_API_KEY not set, using static echo responder")
		responder = &collab.StaticResponder{Prefix: "assistant"}
	}

	var synthesizer collab.Synthesizer
	nc, err := nats.Connect(cfg.NATSUrl,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		logger.Warn().Err(err).Str("nats_url", cfg.NATSUrl).
			Msg("NATS unavailable, speech synthesis disabled")
	} else {
		defer nc.Close()
		synthesizer = collab.NewNATSSynthesizer(nc, cfg.TTSSubject)
	}

	registry := session.NewRegistry(session.Config{
		MaxConnections:        cfg.MaxConnections,
		MaxConnectionsPerAddr: cfg.MaxConnectionsPerAddr,
		AuthTimeout:           cfg.AuthTimeout,
		MaxAuthAttempts:       cfg.MaxAuthAttempts,
		MessageWindow:         cfg.MessageWindow,
		MessagesPerWindow:     cfg.MessagesPerWindow,
		RateEntryStaleAfter:   cfg.RateEntryStaleAfter,
		HeartbeatInterval:     cfg.HeartbeatInterval,
		PongStaleAfter:        cfg.PongStaleAfter,
		IdleStaleAfter:        cfg.IdleStaleAfter,
		MaxFrameBytes:         cfg.MaxFrameBytes,
		GenerationTimeout:     cfg.GenerationTimeout,
		SynthesisTimeout:      cfg.SynthesisTimeout,
	}, logger, authenticator, responder, synthesizer)
	registry.Start()

	server := transport.NewServer(cfg, logger, registry)
	if err := server.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start server")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Shutdown error")
	}
}
