package session

import (
	"errors"
	"time"

	"github.com/voxline/assistant-ws/internal/monitoring"
)

// MarkPong records a heartbeat acknowledgement. The transport calls this
// for protocol-level pongs; frame-level pongs arrive via the dispatcher.
func (r *Registry) MarkPong(rec *Record) {
	rec.markPong(r.now())
}

// runHeartbeat probes liveness for one connection until it is destroyed.
// The loop self-cancels through the record's context so no timer outlives
// teardown.
func (r *Registry) runHeartbeat(rec *Record) {
	defer r.wg.Done()
	defer monitoring.RecoverPanic(r.logger, "heartbeat", map[string]any{
		"client_id": rec.ID,
	})

	ticker := time.NewTicker(r.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rec.Context().Done():
			return
		case <-ticker.C:
			if done := r.heartbeatTick(rec); done {
				return
			}
		}
	}
}

// heartbeatTick runs one probe. Reports true when the loop should stop.
func (r *Registry) heartbeatTick(rec *Record) bool {
	if rec.State() >= StateClosing {
		return true
	}

	now := r.now()

	rec.mu.Lock()
	conn := rec.conn
	lastPong := rec.lastPongAt
	lastActivity := rec.lastActivityAt
	rec.mu.Unlock()

	if conn == nil {
		r.Teardown(rec.ID, ReasonSocketUnavailable)
		return true
	}

	if now.Sub(lastPong) > r.cfg.PongStaleAfter || now.Sub(lastActivity) > r.cfg.IdleStaleAfter {
		r.logger.Info().
			Str("client_id", rec.ID).
			Dur("since_last_pong", now.Sub(lastPong)).
			Dur("since_last_activity", now.Sub(lastActivity)).
			Msg("Connection stale")
		r.Teardown(rec.ID, ReasonStaleConnection)
		return true
	}

	if err := r.sendPing(rec); err != nil {
		// A busy send guard means the socket is demonstrably alive; skip
		// this probe rather than failing it.
		if errors.Is(err, ErrSendInProgress) {
			return false
		}
		r.logger.Debug().
			Err(err).
			Str("client_id", rec.ID).
			Msg("Heartbeat ping failed")
		r.Teardown(rec.ID, ReasonSocketUnavailable)
		return true
	}

	return false
}
