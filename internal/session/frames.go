package session

import "encoding/json"

// Inbound frame types (client → server).
const (
	TypePing           = "ping"
	TypePong           = "pong"
	TypeModelInfo      = "model-info"
	TypeTextInput      = "text-input"
	TypeInterrupt      = "interrupt"
	TypeConnectionTest = "connection-test"
)

// Outbound frame types (server → client).
const (
	TypeConnectionEstablished  = "connection-established"
	TypeAuthRequired           = "auth-required"
	TypeAuthSuccess            = "auth-success"
	TypeAuthFailed             = "auth-failed"
	TypeResponseQueued         = "response-queued"
	TypeFullText               = "full-text"
	TypeSynthesisStarted       = "synthesis-started"
	TypeSynthesisComplete      = "synthesis-complete"
	TypeAudioURL               = "audio-url"
	TypeOutInterrupt           = "interrupt"
	TypeOutPong                = "pong"
	TypeError                  = "error"
	TypeConnectionTestResponse = "connection-test-response"
	TypeModelInfoReceived      = "model-info-received"
)

// Error codes carried on error frames.
const (
	CodeRateLimited       = "rate_limited"
	CodeParseError        = "parse_error"
	CodeFrameTooLarge     = "frame_too_large"
	CodeUnknownType       = "unknown_type"
	CodeEmptyText         = "empty_text"
	CodeAuthRequired      = "auth_required"
	CodeGenerationFailed  = "generation_failed"
	CodeGenerationTimeout = "generation_timeout"
	CodeSynthesisFailed   = "synthesis_failed"
	CodeSynthesisTimeout  = "synthesis_timeout"
)

// Inbound is the tagged envelope every client frame must parse into.
// Fields beyond Type are populated per frame type; unknown fields are
// ignored.
type Inbound struct {
	Type      string          `json:"type"`
	AuthToken string          `json:"auth_token,omitempty"`
	Text      string          `json:"text,omitempty"`
	ModelInfo json.RawMessage `json:"model_info,omitempty"`
}

// Outbound is the envelope for every server frame. Timestamp and ClientID
// are stamped by the send path; callers fill Type and the payload fields.
type Outbound struct {
	Type       string          `json:"type"`
	Timestamp  int64           `json:"timestamp"`
	ClientID   string          `json:"client_id"`
	Text       string          `json:"text,omitempty"`
	ResponseID string          `json:"response_id,omitempty"`
	AudioURL   string          `json:"audio_url,omitempty"`
	Code       string          `json:"code,omitempty"`
	Message    string          `json:"message,omitempty"`
	User       string          `json:"user,omitempty"`
	ModelInfo  json.RawMessage `json:"model_info,omitempty"`
}

func errorFrame(code, message string) Outbound {
	return Outbound{Type: TypeError, Code: code, Message: message}
}
