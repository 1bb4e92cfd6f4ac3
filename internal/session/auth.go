package session

import (
	"github.com/voxline/assistant-ws/internal/monitoring"
)

// authenticate validates the credential carried by the first non-control
// frame. Only meaningful while the record is awaiting auth; any other
// state makes this a no-op.
func (r *Registry) authenticate(rec *Record, token string) {
	if rec.State() != StateAwaitingAuth {
		return
	}

	if token == "" {
		r.failAuth(rec, "credential required before any other message")
		return
	}

	principal, err := r.authenticator.Authenticate(rec.Context(), token)

	// The record may have been torn down while the lookup was in flight;
	// a late result must not resurrect it.
	if rec.Context().Err() != nil || rec.State() >= StateClosing {
		return
	}

	if err != nil || principal == nil {
		r.failAuth(rec, "invalid credential")
		return
	}

	rec.mu.Lock()
	if rec.state != StateAwaitingAuth {
		rec.mu.Unlock()
		return
	}
	rec.principal = principal
	rec.state = StateAuthenticated
	if rec.authTimer != nil {
		rec.authTimer.Stop()
		rec.authTimer = nil
	}
	rec.mu.Unlock()

	monitoring.AuthAttempts.WithLabelValues("success").Inc()

	r.logger.Info().
		Str("client_id", rec.ID).
		Str("user_id", principal.ID).
		Str("user", principal.Name).
		Msg("Connection authenticated")

	r.send(rec, Outbound{Type: TypeAuthSuccess, User: principal.Name})
}

// failAuth records one failed attempt, tearing the connection down once
// the attempt budget is spent.
func (r *Registry) failAuth(rec *Record, message string) {
	rec.mu.Lock()
	rec.authAttempts++
	attempts := rec.authAttempts
	rec.mu.Unlock()

	monitoring.AuthAttempts.WithLabelValues("failure").Inc()

	if attempts >= r.cfg.MaxAuthAttempts {
		r.logger.Warn().
			Str("client_id", rec.ID).
			Int("attempts", attempts).
			Msg("Auth attempts exhausted")
		r.Teardown(rec.ID, ReasonTooManyAuthAttempts)
		return
	}

	r.logger.Debug().
		Str("client_id", rec.ID).
		Int("attempts", attempts).
		Int("max_attempts", r.cfg.MaxAuthAttempts).
		Msg("Auth attempt failed")

	r.send(rec, Outbound{
		Type:    TypeAuthFailed,
		Code:    CodeAuthRequired,
		Message: message,
	})
}
