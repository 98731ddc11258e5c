// Package ratelimit implements an in-process fixed-window request limiter
// keyed by an arbitrary identifier (operation + caller id).
package ratelimit

import (
	"sync"
	"time"
)

// Config is the per-operation window policy.
type Config struct {
	Window      time.Duration
	MaxRequests int
}

// Result is the outcome of a single Check call. A disallowed result carries
// the time remaining until the window resets; callers surface it as a
// retry-after hint and must not mutate any other state.
type Result struct {
	Allowed   bool
	Remaining int
	ResetIn   time.Duration
}

type entry struct {
	count       int
	windowStart time.Time
	window      time.Duration
}

// Limiter tracks one counter per identifier. Reads and increments of the same
// identifier serialize under a single mutex so concurrent requests cannot
// undercount.
type Limiter struct {
	mu        sync.Mutex
	entries   map[string]*entry
	now       func() time.Time
	lastSweep time.Time
}

func New() *Limiter {
	return NewWithClock(time.Now)
}

// NewWithClock injects the clock, for tests.
func NewWithClock(now func() time.Time) *Limiter {
	return &Limiter{
		entries:   make(map[string]*entry),
		now:       now,
		lastSweep: now(),
	}
}

// Check records one request for identifier under cfg and reports whether it
// is allowed within the current window.
func (l *Limiter) Check(identifier string, cfg Config) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.maybeSweep(now)

	e, ok := l.entries[identifier]
	if !ok || now.Sub(e.windowStart) >= cfg.Window {
		l.entries[identifier] = &entry{count: 1, windowStart: now, window: cfg.Window}
		return Result{Allowed: true, Remaining: cfg.MaxRequests - 1, ResetIn: cfg.Window}
	}

	resetIn := cfg.Window - now.Sub(e.windowStart)
	if e.count >= cfg.MaxRequests {
		return Result{Allowed: false, Remaining: 0, ResetIn: resetIn}
	}

	e.count++
	return Result{Allowed: true, Remaining: cfg.MaxRequests - e.count, ResetIn: resetIn}
}

// Len reports the number of tracked identifiers, for tests and metrics.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

const sweepInterval = time.Minute

// maybeSweep opportunistically reclaims entries whose window ended more than
// one window-length ago. Best effort under the held lock; correctness of
// concurrent checks does not depend on it.
func (l *Limiter) maybeSweep(now time.Time) {
	if now.Sub(l.lastSweep) < sweepInterval {
		return
	}
	l.lastSweep = now
	for id, e := range l.entries {
		if now.Sub(e.windowStart) > 2*e.window {
			delete(l.entries, id)
		}
	}
}
