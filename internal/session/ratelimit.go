package session

import (
	"sync"
	"time"
)

// blockedWindowsBeforeEscalation is the number of consecutive fully
// blocked windows after which a connection is considered abusive and
// torn down rather than answered with more error frames.
const blockedWindowsBeforeEscalation = 3

// RateLimiter is a fixed-window message counter keyed by connection id.
// Entries have a lifetime independent of the connection record: stale
// entries are purged on a timer to bound memory even if teardown never
// ran for an id.
type RateLimiter struct {
	mu         sync.Mutex
	entries    map[string]*rateEntry
	window     time.Duration
	ceiling    int
	staleAfter time.Duration
	now        func() time.Time
}

type rateEntry struct {
	count           int
	windowStartedAt time.Time
	blocked         bool
	blockedWindows  int // consecutive windows that hit the ceiling
	lastSeenAt      time.Time
}

func NewRateLimiter(window time.Duration, ceiling int, staleAfter time.Duration) *RateLimiter {
	return &RateLimiter{
		entries:    make(map[string]*rateEntry),
		window:     window,
		ceiling:    ceiling,
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

// Allow records one message for id and reports whether it may be
// dispatched. escalate is set when the connection has been blocked for
// blockedWindowsBeforeEscalation consecutive windows and should be torn
// down.
func (l *RateLimiter) Allow(id string) (allowed, escalate bool) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[id]
	if !ok {
		entry = &rateEntry{count: 1, windowStartedAt: now, lastSeenAt: now}
		l.entries[id] = entry
		return true, false
	}

	entry.lastSeenAt = now

	// Window rollover resets the counter whether or not the connection
	// was blocked.
	if now.Sub(entry.windowStartedAt) >= l.window {
		if !entry.blocked {
			entry.blockedWindows = 0
		}
		entry.count = 1
		entry.windowStartedAt = now
		entry.blocked = false
		return true, false
	}

	if entry.blocked {
		return false, false
	}

	entry.count++
	if entry.count > l.ceiling {
		entry.blocked = true
		entry.blockedWindows++
		return false, entry.blockedWindows >= blockedWindowsBeforeEscalation
	}

	return true, false
}

// Remove drops the entry for id. Called by the cleanup coordinator.
func (l *RateLimiter) Remove(id string) {
	l.mu.Lock()
	delete(l.entries, id)
	l.mu.Unlock()
}

// Purge removes entries with no activity for the staleness window and
// returns how many were dropped.
func (l *RateLimiter) Purge() int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for id, entry := range l.entries {
		if now.Sub(entry.lastSeenAt) > l.staleAfter {
			delete(l.entries, id)
			removed++
		}
	}
	return removed
}

// Len returns the current table size, for the diagnostic endpoint.
func (l *RateLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
