package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/voxline/assistant-ws/internal/collab"
)

// fakeConn implements Conn and records everything written to it.
type fakeConn struct {
	mu        sync.Mutex
	frames    []Outbound
	pings     int
	closed    bool
	failWrite bool
	writeGate chan struct{} // when set, WriteText blocks until closed
}

func (c *fakeConn) WriteText(data []byte, deadline time.Time) error {
	if c.writeGate != nil {
		<-c.writeGate
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failWrite {
		return errors.New("broken pipe")
	}
	var frame Outbound
	if err := json.Unmarshal(data, &frame); err != nil {
		return err
	}
	c.frames = append(c.frames, frame)
	return nil
}

func (c *fakeConn) WritePing(deadline time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failWrite {
		return errors.New("broken pipe")
	}
	c.pings++
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) sent() []Outbound {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Outbound, len(c.frames))
	copy(out, c.frames)
	return out
}

func (c *fakeConn) sentOfType(frameType string) []Outbound {
	var out []Outbound
	for _, f := range c.sent() {
		if f.Type == frameType {
			out = append(out, f)
		}
	}
	return out
}

func (c *fakeConn) lastFrame() (Outbound, bool) {
	frames := c.sent()
	if len(frames) == 0 {
		return Outbound{}, false
	}
	return frames[len(frames)-1], true
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	c.frames = nil
	c.mu.Unlock()
}

// fakeAuth accepts "validtoken" and "audiotoken"; everything else fails.
type fakeAuth struct{}

func (fakeAuth) Authenticate(ctx context.Context, token string) (*collab.Principal, error) {
	switch token {
	case "validtoken":
		return &collab.Principal{ID: "u1", Name: "viewer"}, nil
	case "audiotoken":
		return &collab.Principal{ID: "u2", Name: "listener", AudioEnabled: true}, nil
	default:
		return nil, collab.ErrInvalidCredential
	}
}

// funcResponder adapts a function to the Responder interface.
type funcResponder func(ctx context.Context, text string, p *collab.Principal) (string, error)

func (f funcResponder) Generate(ctx context.Context, text string, p *collab.Principal) (string, error) {
	return f(ctx, text, p)
}

// funcSynthesizer adapts a function to the Synthesizer interface.
type funcSynthesizer func(ctx context.Context, text string, p *collab.Principal) (string, error)

func (f funcSynthesizer) Synthesize(ctx context.Context, text string, p *collab.Principal) (string, error) {
	return f(ctx, text, p)
}

func echoResponder(ctx context.Context, text string, p *collab.Principal) (string, error) {
	return "re: " + text, nil
}

func testConfig() Config {
	return Config{
		MaxConnections:        50,
		MaxConnectionsPerAddr: 10,
		AuthTimeout:           time.Minute,
		MaxAuthAttempts:       3,
		MessageWindow:         time.Minute,
		MessagesPerWindow:     30,
		RateEntryStaleAfter:   2 * time.Minute,
		HeartbeatInterval:     time.Minute,
		PongStaleAfter:        90 * time.Second,
		IdleStaleAfter:        120 * time.Second,
		MaxFrameBytes:         10240,
		GenerationTimeout:     5 * time.Second,
		SynthesisTimeout:      5 * time.Second,
	}
}

type reasonLog struct {
	mu      sync.Mutex
	reasons map[string]string
}

func (l *reasonLog) record(id, reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.reasons == nil {
		l.reasons = make(map[string]string)
	}
	l.reasons[id] = reason
}

func (l *reasonLog) get(id string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reasons[id]
}

// newTestRegistry builds a registry with fast-test defaults. mutate may
// be nil. The registry is started and torn down with the test.
func newTestRegistry(t *testing.T, mutate func(*Config), responder collab.Responder, synth collab.Synthesizer) (*Registry, *reasonLog) {
	t.Helper()

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	if responder == nil {
		responder = funcResponder(echoResponder)
	}

	reg := NewRegistry(cfg, zerolog.Nop(), fakeAuth{}, responder, synth)
	log := &reasonLog{}
	reg.onTeardown = log.record
	reg.Start()
	t.Cleanup(reg.Shutdown)

	return reg, log
}

func frame(t *testing.T, v map[string]any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	return data
}
