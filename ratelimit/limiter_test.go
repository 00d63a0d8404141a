package ratelimit

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeClock lets tests move time forward deterministically.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newTestLimiter(limit int, interval time.Duration) (*FixedWindow, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)}
	l := NewFixedWindow(limit, interval)
	l.now = clock.now
	return l, clock
}

func TestFixedWindow_AllowsUpToLimit(t *testing.T) {
	// GIVEN: A budget of 3 per minute
	// WHEN: One key makes 4 calls inside the window
	// THEN: The first 3 pass, the 4th is rejected with a retry hint

	l, _ := newTestLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		ok, _ := l.Allow("vendor-1")
		assert.True(t, ok, "call %d should pass", i+1)
	}

	ok, retryAfter := l.Allow("vendor-1")
	assert.False(t, ok)
	assert.Equal(t, time.Minute, retryAfter)
}

func TestFixedWindow_WindowResets(t *testing.T) {
	// GIVEN: A key that exhausted its window
	// WHEN: The interval elapses
	// THEN: The key gets a fresh budget

	l, clock := newTestLimiter(1, time.Minute)

	ok, _ := l.Allow("vendor-1")
	assert.True(t, ok)
	ok, _ = l.Allow("vendor-1")
	assert.False(t, ok)

	clock.t = clock.t.Add(time.Minute)

	ok, _ = l.Allow("vendor-1")
	assert.True(t, ok, "new window should reset the budget")
}

func TestFixedWindow_KeysAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(1, time.Minute)

	ok, _ := l.Allow("vendor-1")
	assert.True(t, ok)
	ok, _ = l.Allow("vendor-2")
	assert.True(t, ok, "a second key has its own budget")
	ok, _ = l.Allow("vendor-1")
	assert.False(t, ok)
}

func TestFixedWindow_EvictsExpiredKeys(t *testing.T) {
	// GIVEN: A full key map where every window has expired
	// WHEN: A new key arrives
	// THEN: Expired entries are evicted and the new key is admitted

	l, clock := newTestLimiter(1, time.Minute)
	l.maxKeys = 100

	for i := 0; i < 100; i++ {
		ok, _ := l.Allow(fmt.Sprintf("key-%d", i))
		assert.True(t, ok)
	}
	assert.Len(t, l.windows, 100)

	clock.t = clock.t.Add(2 * time.Minute)

	ok, _ := l.Allow("fresh-key")
	assert.True(t, ok)
	assert.Len(t, l.windows, 1, "expired windows should be gone")
}

func TestFixedWindow_CapHoldsUnderLiveChurn(t *testing.T) {
	// GIVEN: A full map of still-live windows
	// WHEN: New keys keep arriving inside the same window
	// THEN: The map never exceeds its cap

	l, _ := newTestLimiter(1, time.Minute)
	l.maxKeys = 50

	for i := 0; i < 200; i++ {
		l.Allow(fmt.Sprintf("burst-%d", i))
	}
	assert.LessOrEqual(t, len(l.windows), 50)
}

func TestUnlimited_NeverRejects(t *testing.T) {
	var l Limiter = Unlimited{}
	for i := 0; i < 1000; i++ {
		ok, _ := l.Allow("anyone")
		assert.True(t, ok)
	}
}
