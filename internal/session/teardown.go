package session

import (
	"github.com/voxline/assistant-ws/internal/monitoring"
)

// Teardown releases every resource held for the connection id. Idempotent
// and de-duplicated: a concurrent or repeated call for the same id is a
// no-op. Ordering matters — the cancellation token fires before anything
// is released so in-flight awaits observe cancellation while their
// targets still exist.
func (r *Registry) Teardown(id, reason string) {
	r.mu.Lock()
	rec, ok := r.records[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	if _, inProgress := r.tearing[id]; inProgress {
		r.mu.Unlock()
		return
	}
	r.tearing[id] = struct{}{}
	r.mu.Unlock()

	rec.advance(StateClosing)

	// (1) Trigger the cancellation token. Heartbeat loop and any pipeline
	// stage observe this before their resources go away.
	rec.cancel()

	// (2) Stop and clear the per-connection timers.
	rec.mu.Lock()
	if rec.authTimer != nil {
		rec.authTimer.Stop()
		rec.authTimer = nil
	}
	rec.cancelRequest = nil
	rec.inFlightResponseID = ""
	detach := rec.detachFns
	rec.detachFns = nil
	rec.mu.Unlock()

	// (3) Detach everything the transport attached to the socket.
	for _, fn := range detach {
		fn()
	}

	// (4, 5) Remove from the source-address index, the registry, and the
	// rate-limit table.
	r.mu.Lock()
	delete(r.records, id)
	if set := r.byAddr[rec.RemoteAddr]; set != nil {
		delete(set, id)
		if len(set) == 0 {
			delete(r.byAddr, rec.RemoteAddr)
		}
	}
	delete(r.tearing, id)
	active := len(r.records)
	r.mu.Unlock()

	r.limiter.Remove(id)

	// (6) Drop the socket handle and principal references. Closing the
	// socket is best effort; the handle may already be invalid.
	rec.mu.Lock()
	conn := rec.conn
	rec.conn = nil
	rec.principal = nil
	rec.state = StateDestroyed
	rec.mu.Unlock()
	if conn != nil {
		conn.Close()
	}

	monitoring.ConnectionsActive.Set(float64(active))
	monitoring.DisconnectsTotal.WithLabelValues(reason).Inc()

	r.logger.Info().
		Str("client_id", id).
		Str("reason", reason).
		Int("active_connections", active).
		Msg("Connection destroyed")

	if r.onTeardown != nil {
		r.onTeardown(id, reason)
	}
}
