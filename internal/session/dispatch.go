package session

import (
	"encoding/json"
	"fmt"

	"github.com/voxline/assistant-ws/internal/monitoring"
)

// HandleFrame decodes, rate-limits, and routes one inbound frame. Called
// by the transport read pump for every frame in arrival order. Recoverable
// errors are answered in-band; only abuse escalation affects the
// connection's lifetime.
func (r *Registry) HandleFrame(rec *Record, data []byte) {
	// Nothing is dispatched to a record in or entering teardown.
	if rec.State() >= StateClosing {
		return
	}

	monitoring.MessagesReceived.Inc()

	if int64(len(data)) > r.cfg.MaxFrameBytes {
		r.send(rec, errorFrame(CodeFrameTooLarge,
			fmt.Sprintf("frame exceeds %d bytes", r.cfg.MaxFrameBytes)))
		return
	}

	var msg Inbound
	if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
		r.logger.Debug().
			Str("client_id", rec.ID).
			Msg("Client sent malformed frame")
		r.send(rec, errorFrame(CodeParseError, "malformed frame"))
		return
	}

	rec.touchActivity(r.now())

	allowed, escalate := r.limiter.Allow(rec.ID)
	if !allowed {
		monitoring.RateLimitedMessages.Inc()
		if escalate {
			r.logger.Warn().
				Str("client_id", rec.ID).
				Msg("Rate-limit abuse, closing connection")
			r.Teardown(rec.ID, ReasonRateLimitAbuse)
			return
		}
		r.send(rec, errorFrame(CodeRateLimited, "too many messages, slow down"))
		return
	}

	// A credential may arrive on any frame type; consume it while the
	// handshake window is open.
	if msg.AuthToken != "" && rec.State() == StateAwaitingAuth {
		r.authenticate(rec, msg.AuthToken)
	}

	switch msg.Type {
	case TypePing:
		// Control frames bypass the auth gate so the heartbeat stays
		// alive during the handshake window.
		r.send(rec, Outbound{Type: TypeOutPong})
		return
	case TypePong:
		rec.markPong(r.now())
		return
	}

	if rec.State() != StateAuthenticated {
		// Business frame before auth: route to the auth gate, which
		// answers with a rejection when no credential was attached.
		if msg.AuthToken == "" {
			r.authenticate(rec, "")
		}
		return
	}

	switch msg.Type {
	case TypeModelInfo:
		rec.mu.Lock()
		rec.modelInfo = msg.ModelInfo
		rec.mu.Unlock()
		r.send(rec, Outbound{Type: TypeModelInfoReceived})

	case TypeTextInput:
		r.startRequest(rec, msg.Text)

	case TypeInterrupt:
		r.interrupt(rec)

	case TypeConnectionTest:
		r.send(rec, Outbound{Type: TypeConnectionTestResponse, Message: "ok"})

	default:
		r.logger.Debug().
			Str("client_id", rec.ID).
			Str("frame_type", msg.Type).
			Msg("Client sent unknown frame type")
		r.send(rec, errorFrame(CodeUnknownType,
			fmt.Sprintf("unknown frame type %q", msg.Type)))
	}
}
