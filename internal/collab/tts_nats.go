package collab

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// NATSSynthesizer implements Synthesizer over NATS request/reply. The
// speech-synthesis worker subscribes on the configured subject, renders
// the text, uploads the audio, and replies with a URL.
type NATSSynthesizer struct {
	nc      *nats.Conn
	subject string
}

type synthesisRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice,omitempty"`
	User  string `json:"user,omitempty"`
}

type synthesisReply struct {
	AudioURL string `json:"audio_url"`
	Error    string `json:"error,omitempty"`
}

func NewNATSSynthesizer(nc *nats.Conn, subject string) *NATSSynthesizer {
	return &NATSSynthesizer{nc: nc, subject: subject}
}

// Synthesize requests audio for the given text and returns the audio URL
// from the worker's reply. The request inherits ctx's deadline.
func (s *NATSSynthesizer) Synthesize(ctx context.Context, text string, principal *Principal) (string, error) {
	req := synthesisRequest{Text: text}
	if principal != nil {
		req.User = principal.ID
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to encode synthesis request: %w", err)
	}

	msg, err := s.nc.RequestWithContext(ctx, s.subject, payload)
	if err != nil {
		return "", fmt.Errorf("synthesis request failed: %w", err)
	}

	var reply synthesisReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return "", fmt.Errorf("failed to decode synthesis reply: %w", err)
	}
	if reply.Error != "" {
		return "", fmt.Errorf("synthesis worker error: %s", reply.Error)
	}
	if reply.AudioURL == "" {
		return "", fmt.Errorf("synthesis worker returned no audio url")
	}

	return reply.AudioURL, nil
}
