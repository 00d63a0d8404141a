/*
Package ratelimit provides an injectable fixed-window request limiter.

The limiter is constructed and owned by whoever wires the HTTP server,
never a package-level singleton, so tests can build isolated instances
and servers can run several with different budgets.

Stale windows are evicted lazily on each Allow call and the key space
is capped, so a churn of one-shot client keys cannot grow the map
without bound.
*/
package ratelimit

import (
	"sync"
	"time"
)

// Limiter is the decision surface the HTTP middleware depends on.
type Limiter interface {
	// Allow reports whether the caller identified by key may proceed
	// now, and when the current window resets.
	Allow(key string) (ok bool, retryAfter time.Duration)
}

// window tracks one key's usage inside its current fixed window.
type window struct {
	start time.Time
	count int
}

// FixedWindow allows at most Limit calls per key per Interval.
type FixedWindow struct {
	limit    int
	interval time.Duration
	maxKeys  int
	now      func() time.Time

	mu      sync.Mutex
	windows map[string]*window
}

var _ Limiter = (*FixedWindow)(nil)

// maxTrackedKeys bounds the window map. When exceeded, expired entries
// are evicted; if none are expired the oldest window is dropped.
const maxTrackedKeys = 10_000

// NewFixedWindow creates a limiter allowing limit calls per interval
// per key.
func NewFixedWindow(limit int, interval time.Duration) *FixedWindow {
	return &FixedWindow{
		limit:    limit,
		interval: interval,
		maxKeys:  maxTrackedKeys,
		now:      time.Now,
		windows:  make(map[string]*window),
	}
}

// Allow consumes one slot for key if the window has room.
func (l *FixedWindow) Allow(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= l.interval {
		if !ok && len(l.windows) >= l.maxKeys {
			l.evict(now)
		}
		l.windows[key] = &window{start: now, count: 1}
		return true, 0
	}

	if w.count >= l.limit {
		return false, w.start.Add(l.interval).Sub(now)
	}
	w.count++
	return true, 0
}

// evict removes expired windows; if nothing is expired, the oldest
// window goes so the map never exceeds its cap. Called with mu held.
func (l *FixedWindow) evict(now time.Time) {
	var oldestKey string
	var oldestStart time.Time

	for key, w := range l.windows {
		if now.Sub(w.start) >= l.interval {
			delete(l.windows, key)
			continue
		}
		if oldestKey == "" || w.start.Before(oldestStart) {
			oldestKey = key
			oldestStart = w.start
		}
	}
	if len(l.windows) >= l.maxKeys && oldestKey != "" {
		delete(l.windows, oldestKey)
	}
}

// Unlimited is a Limiter that never rejects. Useful in tests and for
// internal callers.
type Unlimited struct{}

func (Unlimited) Allow(string) (bool, time.Duration) { return true, 0 }
