// Package collab defines the narrow interfaces through which the session
// core talks to its external collaborators: credential validation,
// response generation, and speech synthesis. The session subsystem never
// imports a collaborator implementation directly.
package collab

import (
	"context"
	"errors"
)

// Principal is the authenticated identity attached to a connection.
// Immutable once set by the auth gate.
type Principal struct {
	ID           string
	Name         string
	AudioEnabled bool
}

// ErrInvalidCredential is returned by Authenticator implementations when
// a credential is missing, malformed, expired, or unknown.
var ErrInvalidCredential = errors.New("invalid credential")

// Authenticator validates an opaque credential token into a Principal.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*Principal, error)
}

// Responder generates an assistant reply for the given input text.
type Responder interface {
	Generate(ctx context.Context, text string, principal *Principal) (string, error)
}

// Synthesizer converts generated text into audio and returns a reference
// (typically a URL) to the synthesized result.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, principal *Principal) (string, error)
}
