package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/voxline/assistant-ws/internal/collab"
	"github.com/voxline/assistant-ws/internal/monitoring"
)

// Config holds the session subsystem's limits and timeouts.
type Config struct {
	MaxConnections        int
	MaxConnectionsPerAddr int

	AuthTimeout     time.Duration
	MaxAuthAttempts int

	MessageWindow       time.Duration
	MessagesPerWindow   int
	RateEntryStaleAfter time.Duration

	HeartbeatInterval time.Duration
	PongStaleAfter    time.Duration
	IdleStaleAfter    time.Duration

	MaxFrameBytes int64

	GenerationTimeout time.Duration
	SynthesisTimeout  time.Duration
}

// Teardown reasons. Logged and exported as the reason label on the
// disconnect counter.
const (
	ReasonAuthTimeout         = "auth_timeout"
	ReasonTooManyAuthAttempts = "too_many_auth_attempts"
	ReasonStaleConnection     = "stale_connection"
	ReasonSocketUnavailable   = "socket_unavailable"
	ReasonSendFailed          = "send_failed"
	ReasonRateLimitAbuse      = "rate_limit_abuse"
	ReasonClientClosed        = "client_closed"
	ReasonReadError           = "read_error"
	ReasonServerShutdown      = "server_shutdown"
)

// Admission rejection errors.
var (
	ErrServerFull   = errors.New("admission rejected: server full")
	ErrAddressLimit = errors.New("admission rejected: per-address connection limit reached")
	ErrShuttingDown = errors.New("admission rejected: server shutting down")
)

// Registry is the process-wide index of connection records. It owns the
// source-address index, the rate-limit table, and the lifecycle of every
// per-connection goroutine. All map mutations happen under mu, which is
// never held across a blocking call.
type Registry struct {
	cfg    Config
	logger zerolog.Logger

	authenticator collab.Authenticator
	responder     collab.Responder
	synthesizer   collab.Synthesizer

	mu       sync.Mutex
	records  map[string]*Record
	byAddr   map[string]map[string]struct{}
	tearing  map[string]struct{}
	shutdown bool

	limiter *RateLimiter

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startedAt time.Time
	now       func() time.Time

	// onTeardown is an optional observer invoked after a teardown
	// completes. Set by tests to assert on reasons.
	onTeardown func(id, reason string)
}

func NewRegistry(cfg Config, logger zerolog.Logger, auth collab.Authenticator, responder collab.Responder, synth collab.Synthesizer) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		cfg:           cfg,
		logger:        logger.With().Str("component", "session").Logger(),
		authenticator: auth,
		responder:     responder,
		synthesizer:   synth,
		records:       make(map[string]*Record),
		byAddr:        make(map[string]map[string]struct{}),
		tearing:       make(map[string]struct{}),
		limiter:       NewRateLimiter(cfg.MessageWindow, cfg.MessagesPerWindow, cfg.RateEntryStaleAfter),
		ctx:           ctx,
		cancel:        cancel,
		now:           time.Now,
	}
}

// Start launches the registry's background maintenance. Safe to call
// once; Shutdown is the matching teardown.
func (r *Registry) Start() {
	r.startedAt = r.now()

	r.wg.Add(1)
	go r.purgeLoop()

	r.logger.Info().
		Int("max_connections", r.cfg.MaxConnections).
		Int("max_connections_per_addr", r.cfg.MaxConnectionsPerAddr).
		Msg("Session registry started")
}

// Shutdown tears down every connection with reason server_shutdown,
// stops maintenance goroutines, and waits for them to finish.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	r.shutdown = true
	ids := make([]string, 0, len(r.records))
	for id := range r.records {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	r.logger.Info().
		Int("active_connections", len(ids)).
		Msg("Draining connections for shutdown")

	for _, id := range ids {
		r.Teardown(id, ReasonServerShutdown)
	}

	r.cancel()
	r.wg.Wait()

	r.logger.Info().Msg("Session registry stopped")
}

// purgeLoop drops stale rate-limit entries independently of connection
// teardown to bound memory.
func (r *Registry) purgeLoop() {
	defer r.wg.Done()
	defer monitoring.RecoverPanic(r.logger, "purge_loop", nil)

	interval := r.cfg.RateEntryStaleAfter / 2
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			if removed := r.limiter.Purge(); removed > 0 {
				r.logger.Debug().
					Int("removed", removed).
					Int("remaining", r.limiter.Len()).
					Msg("Purged stale rate-limit entries")
			}
		}
	}
}

// Admit runs admission control and, on acceptance, inserts the record,
// greets the client, and starts the auth-timeout timer and heartbeat
// monitor. The capacity check and the insertion are a single critical
// section: no other admission can interleave between them.
func (r *Registry) Admit(conn Conn, remoteAddr string) (*Record, error) {
	now := r.now()
	id := uuid.NewString()
	rec := newRecord(id, remoteAddr, conn, now)

	r.mu.Lock()
	if r.shutdown {
		r.mu.Unlock()
		monitoring.ConnectionsRejected.WithLabelValues("shutting_down").Inc()
		return nil, ErrShuttingDown
	}
	if len(r.records) >= r.cfg.MaxConnections {
		r.mu.Unlock()
		monitoring.ConnectionsRejected.WithLabelValues("server_full").Inc()
		return nil, ErrServerFull
	}
	if len(r.byAddr[remoteAddr]) >= r.cfg.MaxConnectionsPerAddr {
		r.mu.Unlock()
		monitoring.ConnectionsRejected.WithLabelValues("address_limit").Inc()
		return nil, ErrAddressLimit
	}

	r.records[id] = rec
	set := r.byAddr[remoteAddr]
	if set == nil {
		set = make(map[string]struct{})
		r.byAddr[remoteAddr] = set
	}
	set[id] = struct{}{}
	active := len(r.records)
	r.mu.Unlock()

	monitoring.ConnectionsTotal.Inc()
	monitoring.ConnectionsActive.Set(float64(active))

	rec.advance(StateAwaitingAuth)

	// Auth window opens as soon as the record is awaiting auth.
	rec.mu.Lock()
	rec.authTimer = time.AfterFunc(r.cfg.AuthTimeout, func() {
		if rec.State() == StateAwaitingAuth {
			r.Teardown(id, ReasonAuthTimeout)
		}
	})
	rec.mu.Unlock()

	r.wg.Add(1)
	go r.runHeartbeat(rec)

	r.send(rec, Outbound{Type: TypeConnectionEstablished})
	r.send(rec, Outbound{Type: TypeAuthRequired, Message: "authenticate within the auth window"})

	r.logger.Info().
		Str("client_id", id).
		Str("remote_addr", remoteAddr).
		Int("active_connections", active).
		Msg("Connection admitted")

	return rec, nil
}

// Len returns the number of active connection records.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// AddrLen returns the number of active connections from remoteAddr.
func (r *Registry) AddrLen(remoteAddr string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byAddr[remoteAddr])
}

// RateTableLen exposes the rate-limit table size for diagnostics.
func (r *Registry) RateTableLen() int {
	return r.limiter.Len()
}

// Uptime reports time since Start.
func (r *Registry) Uptime() time.Duration {
	return r.now().Sub(r.startedAt)
}

// ConnectionSummary is the per-connection view on the status endpoint.
type ConnectionSummary struct {
	ID                 string `json:"id"`
	RemoteAddr         string `json:"remote_addr"`
	State              string `json:"state"`
	Authenticated      bool   `json:"authenticated"`
	User               string `json:"user,omitempty"`
	ConnectedAt        string `json:"connected_at"`
	LastActivityAt     string `json:"last_activity_at"`
	InFlightResponseID string `json:"in_flight_response_id,omitempty"`
}

// Snapshot returns a point-in-time summary of all active connections.
func (r *Registry) Snapshot() []ConnectionSummary {
	r.mu.Lock()
	recs := make([]*Record, 0, len(r.records))
	for _, rec := range r.records {
		recs = append(recs, rec)
	}
	r.mu.Unlock()

	out := make([]ConnectionSummary, 0, len(recs))
	for _, rec := range recs {
		rec.mu.Lock()
		summary := ConnectionSummary{
			ID:                 rec.ID,
			RemoteAddr:         rec.RemoteAddr,
			State:              rec.state.String(),
			Authenticated:      rec.state == StateAuthenticated,
			ConnectedAt:        rec.connectedAt.UTC().Format(time.RFC3339),
			LastActivityAt:     rec.lastActivityAt.UTC().Format(time.RFC3339),
			InFlightResponseID: rec.inFlightResponseID,
		}
		if rec.principal != nil {
			summary.User = rec.principal.Name
		}
		rec.mu.Unlock()
		out = append(out, summary)
	}
	return out
}
