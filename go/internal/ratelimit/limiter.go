package ratelimit

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultInterval is the minimum gap between accepted mutations of one room
const DefaultInterval = 500 * time.Millisecond

// Clock is the subset of clockwork.Clock the limiter needs.
// In production, use clockwork.NewRealClock(). In tests, a FakeClock.
type Clock interface {
	Now() time.Time
}

// Limiter gates state mutations per room, regardless of how many clients emit them.
type Limiter struct {
	interval time.Duration
	clock    Clock

	mu           sync.Mutex
	lastAccepted map[string]time.Time
}

// NewLimiter creates a limiter. A non-positive interval falls back to DefaultInterval.
func NewLimiter(interval time.Duration, clock Clock) *Limiter {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Limiter{
		interval:     interval,
		clock:        clock,
		lastAccepted: make(map[string]time.Time),
	}
}

// Allow reports whether a mutation for roomCode may be applied now and, if so,
// restarts the room's window.
func (l *Limiter) Allow(roomCode string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	if last, ok := l.lastAccepted[roomCode]; ok && now.Sub(last) < l.interval {
		return false
	}
	l.lastAccepted[roomCode] = now
	return true
}

// Release forgets the room's window. Called once the room has no participants left.
func (l *Limiter) Release(roomCode string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.lastAccepted, roomCode)
}

// Len returns the number of rooms with live throttle state
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.lastAccepted)
}

// Interval returns the configured window
func (l *Limiter) Interval() time.Duration {
	return l.interval
}
