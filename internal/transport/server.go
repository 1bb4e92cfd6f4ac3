package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/voxline/assistant-ws/internal/config"
	"github.com/voxline/assistant-ws/internal/monitoring"
	"github.com/voxline/assistant-ws/internal/session"
)

// Server owns the HTTP surface: the /ws upgrade endpoint, the read pump
// feeding the session dispatcher, and the diagnostic endpoints.
type Server struct {
	cfg      *config.Config
	logger   zerolog.Logger
	registry *session.Registry

	listener    net.Listener
	httpServer  *http.Server
	connLimiter *ConnRateLimiter

	wg           sync.WaitGroup
	shuttingDown int32
}

func NewServer(cfg *config.Config, logger zerolog.Logger, registry *session.Registry) *Server {
	s := &Server{
		cfg:      cfg,
		logger:   logger.With().Str("component", "transport").Logger(),
		registry: registry,
	}

	if cfg.ConnRateLimitEnabled {
		s.connLimiter = NewConnRateLimiter(ConnRateLimiterConfig{
			IPBurst:     cfg.ConnRateLimitIPBurst,
			IPRate:      cfg.ConnRateLimitIPRate,
			GlobalBurst: cfg.ConnRateLimitGlobalBurst,
			GlobalRate:  cfg.ConnRateLimitGlobalRate,
			Logger:      logger,
		})
		s.logger.Info().Msg("Connection-attempt rate limiting enabled")
	}

	return s
}

// Start begins listening and serving. Non-blocking; Shutdown is the
// matching teardown.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.Handle("/metrics", monitoring.MetricsHandler())

	s.httpServer = &http.Server{
		Handler:        mux,
		ReadTimeout:    s.cfg.HTTPReadTimeout,
		WriteTimeout:   s.cfg.HTTPWriteTimeout,
		IdleTimeout:    s.cfg.HTTPIdleTimeout,
		MaxHeaderBytes: 1 << 20,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Server accept loop error")
		}
	}()

	s.logger.Info().Str("addr", s.cfg.Addr).Msg("Server listening")
	return nil
}

// Shutdown stops accepting connections, drains the session registry, and
// waits for the accept loop to exit.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Initiating graceful shutdown")
	atomic.StoreInt32(&s.shuttingDown, 1)

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error().Err(err).Msg("HTTP server shutdown error")
	}

	s.registry.Shutdown()

	if s.connLimiter != nil {
		s.connLimiter.Stop()
	}

	s.wg.Wait()
	s.logger.Info().Msg("Graceful shutdown completed")
	return nil
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	clientIP := clientIP(r)

	if atomic.LoadInt32(&s.shuttingDown) == 1 {
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}

	if s.connLimiter != nil && !s.connLimiter.Allow(clientIP) {
		http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.logger.Debug().
			Err(err).
			Str("client_ip", clientIP).
			Msg("WebSocket upgrade failed")
		return
	}

	rec, err := s.registry.Admit(newWSConn(conn), clientIP)
	if err != nil {
		s.logger.Warn().
			Err(err).
			Str("client_ip", clientIP).
			Msg("Connection rejected at admission")
		// Policy close code keeps the rejection observable to the client.
		body := ws.NewCloseFrameBody(ws.StatusPolicyViolation, "connection limit reached")
		ws.WriteFrame(conn, ws.NewCloseFrame(body))
		conn.Close()
		return
	}

	s.wg.Add(1)
	go s.readPump(rec, conn)
}

// readPump reads frames from the socket for the connection's lifetime and
// feeds them to the session dispatcher. Control pongs refresh the
// heartbeat clock; everything else the dispatcher owns.
func (s *Server) readPump(rec *session.Record, conn net.Conn) {
	defer s.wg.Done()
	defer monitoring.RecoverPanic(s.logger, "read_pump", map[string]any{
		"client_id": rec.ID,
	})

	reason := session.ReasonReadError
	defer func() {
		s.registry.Teardown(rec.ID, reason)
	}()

	// Teardown from any other path closes the socket and unblocks the
	// read below.
	rec.OnTeardown(func() { conn.Close() })

	controlHandler := wsutil.ControlFrameHandler(conn, ws.StateServerSide)
	rd := &wsutil.Reader{
		Source:         conn,
		State:          ws.StateServerSide,
		CheckUTF8:      true,
		OnIntermediate: controlHandler,
	}

	readDeadline := s.cfg.IdleStaleAfter + s.cfg.HeartbeatInterval

	for {
		conn.SetReadDeadline(time.Now().Add(readDeadline))

		hdr, err := rd.NextFrame()
		if err != nil {
			return
		}

		if hdr.OpCode.IsControl() {
			if hdr.OpCode == ws.OpPong {
				s.registry.MarkPong(rec)
			}
			if hdr.OpCode == ws.OpClose {
				reason = session.ReasonClientClosed
			}
			if err := controlHandler(hdr, rd); err != nil {
				return
			}
			continue
		}

		// Read at most one byte past the frame ceiling; the dispatcher
		// rejects the oversize frame, and Discard drops the remainder
		// without decoding it.
		data, err := io.ReadAll(io.LimitReader(rd, s.cfg.MaxFrameBytes+1))
		if err != nil {
			return
		}
		if int64(len(data)) > s.cfg.MaxFrameBytes {
			rd.Discard()
		}

		if hdr.OpCode == ws.OpText {
			s.registry.HandleFrame(rec, data)
		}
	}
}

// clientIP extracts the source address, preferring X-Forwarded-For when a
// load balancer sits in front.
func clientIP(r *http.Request) string {
	forwarded := r.Header.Get("X-Forwarded-For")
	if forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// handleStatus reports operational state: active connections with
// per-connection summaries, rate-limiter table size, and process memory.
// Read-only; used for visibility, not protocol correctness.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	connections := s.registry.Snapshot()

	memory := map[string]any{}
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if info, err := proc.MemoryInfo(); err == nil {
			memory["process_rss_mb"] = float64(info.RSS) / 1024.0 / 1024.0
			memory["process_vms_mb"] = float64(info.VMS) / 1024.0 / 1024.0
		}
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		memory["system_used_percent"] = vm.UsedPercent
	}

	json.NewEncoder(w).Encode(map[string]any{
		"active_connections":  len(connections),
		"connections":         connections,
		"rate_limiter_entries": s.registry.RateTableLen(),
		"memory":              memory,
		"uptime_seconds":      s.registry.Uptime().Seconds(),
	})
}

// handleHealthz is the liveness probe: healthy, degraded near capacity,
// unhealthy over it.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	current := s.registry.Len()
	max := s.cfg.MaxConnections
	capacityPercent := float64(current) / float64(max) * 100

	status := "healthy"
	statusCode := http.StatusOK
	warnings := []string{}

	if current > max {
		status = "unhealthy"
		statusCode = http.StatusServiceUnavailable
	} else if capacityPercent >= 90 {
		status = "degraded"
		warnings = append(warnings, fmt.Sprintf("near capacity (%d/%d)", current, max))
	}

	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]any{
		"status": status,
		"checks": map[string]any{
			"capacity": map[string]any{
				"current":    current,
				"max":        max,
				"percentage": capacityPercent,
			},
		},
		"warnings": warnings,
		"uptime":   s.registry.Uptime().Seconds(),
	})
}
