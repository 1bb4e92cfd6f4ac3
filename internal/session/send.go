package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/voxline/assistant-ws/internal/monitoring"
)

// Time allowed to write a frame to the peer.
const writeWait = 5 * time.Second

// Send path errors.
var (
	// ErrSendInProgress is returned when another write to the same socket
	// is outstanding. The attempt is rejected, not queued, so backpressure
	// stays visible to the caller.
	ErrSendInProgress = errors.New("send_in_progress")

	// ErrSocketGone is returned when the record no longer holds a socket
	// handle.
	ErrSocketGone = errors.New("socket handle gone")
)

// send stamps, encodes, and writes one outbound frame through the send
// guard. A write failure makes the connection unusable and routes through
// the cleanup coordinator.
func (r *Registry) send(rec *Record, frame Outbound) error {
	conn := rec.connHandle()
	if conn == nil {
		return ErrSocketGone
	}

	frame.Timestamp = r.now().UnixMilli()
	frame.ClientID = rec.ID

	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("failed to encode %s frame: %w", frame.Type, err)
	}

	if !rec.sendBusy.CompareAndSwap(false, true) {
		return ErrSendInProgress
	}
	defer rec.sendBusy.Store(false)

	if err := conn.WriteText(data, r.now().Add(writeWait)); err != nil {
		r.logger.Debug().
			Err(err).
			Str("client_id", rec.ID).
			Str("frame_type", frame.Type).
			Msg("Frame write failed")
		go r.Teardown(rec.ID, ReasonSendFailed)
		return fmt.Errorf("write failed: %w", err)
	}

	monitoring.MessagesSent.Inc()
	return nil
}

// sendPing writes a ping control frame through the send guard.
func (r *Registry) sendPing(rec *Record) error {
	conn := rec.connHandle()
	if conn == nil {
		return ErrSocketGone
	}

	if !rec.sendBusy.CompareAndSwap(false, true) {
		return ErrSendInProgress
	}
	defer rec.sendBusy.Store(false)

	if err := conn.WritePing(r.now().Add(writeWait)); err != nil {
		return fmt.Errorf("ping write failed: %w", err)
	}
	return nil
}
