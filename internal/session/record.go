package session

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voxline/assistant-ws/internal/collab"
)

// State is the connection lifecycle state. Transitions are monotonic
// forward; Destroyed is terminal and reachable from every state.
type State int32

const (
	StateConnecting State = iota
	StateAwaitingAuth
	StateAuthenticated
	StateClosing
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAwaitingAuth:
		return "awaiting_auth"
	case StateAuthenticated:
		return "authenticated"
	case StateClosing:
		return "closing"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Conn is the non-owning handle to the transport socket. The record never
// keeps the socket alive on its own and must tolerate the handle becoming
// invalid; every use is preceded by a nil check.
type Conn interface {
	WriteText(data []byte, deadline time.Time) error
	WritePing(deadline time.Time) error
	Close() error
}

// Record holds per-connection state. Field access is serialized by mu;
// the mutex is never held across a blocking call.
type Record struct {
	ID         string
	RemoteAddr string

	mu                 sync.Mutex
	conn               Conn
	state              State
	connectedAt        time.Time
	lastActivityAt     time.Time
	lastPongAt         time.Time
	authAttempts       int
	inFlightResponseID string
	cancelRequest      context.CancelFunc
	principal          *collab.Principal
	modelInfo          json.RawMessage
	authTimer          *time.Timer
	detachFns          []func()

	// sendBusy is the send guard: a second concurrent write attempt is
	// rejected, not queued.
	sendBusy atomic.Bool

	// ctx is cancelled exactly once, at the start of teardown, before any
	// resource is released.
	ctx    context.Context
	cancel context.CancelFunc
}

func newRecord(id, remoteAddr string, conn Conn, now time.Time) *Record {
	ctx, cancel := context.WithCancel(context.Background())
	return &Record{
		ID:             id,
		RemoteAddr:     remoteAddr,
		conn:           conn,
		state:          StateConnecting,
		connectedAt:    now,
		lastActivityAt: now,
		lastPongAt:     now,
		ctx:            ctx,
		cancel:         cancel,
	}
}

// Context returns the record's root context, cancelled at teardown.
func (r *Record) Context() context.Context {
	return r.ctx
}

// State returns the current lifecycle state.
func (r *Record) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// advance moves the state machine forward. Backward transitions are
// rejected; advancing to the current state is a no-op that reports false.
func (r *Record) advance(to State) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if to <= r.state {
		return false
	}
	r.state = to
	return true
}

// Principal returns the authenticated identity, or nil before auth.
func (r *Record) Principal() *collab.Principal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.principal
}

func (r *Record) touchActivity(now time.Time) {
	r.mu.Lock()
	r.lastActivityAt = now
	r.mu.Unlock()
}

func (r *Record) markPong(now time.Time) {
	r.mu.Lock()
	r.lastPongAt = now
	r.lastActivityAt = now
	r.mu.Unlock()
}

// InFlightResponseID returns the id of the currently-processing request,
// or empty when idle.
func (r *Record) InFlightResponseID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inFlightResponseID
}

// OnTeardown registers a detach function run during teardown. Used by the
// transport to release anything it attached to the socket for this
// record.
func (r *Record) OnTeardown(fn func()) {
	r.mu.Lock()
	r.detachFns = append(r.detachFns, fn)
	r.mu.Unlock()
}

// connHandle snapshots the socket handle; nil once torn down.
func (r *Record) connHandle() Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn
}
