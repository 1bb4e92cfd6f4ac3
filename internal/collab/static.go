package collab

import (
	"context"
	"fmt"
)

// StaticResponder echoes the input back with a fixed prefix. Development
// stand-in for when no model API key is configured; also used by tests.
type StaticResponder struct {
	Prefix string
}

func (r *StaticResponder) Generate(ctx context.Context, text string, principal *Principal) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	prefix := r.Prefix
	if prefix == "" {
		prefix = "echo"
	}
	return fmt.Sprintf("[%s] %s", prefix, text), nil
}
