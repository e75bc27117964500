package client

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultThrottleInterval is the minimum gap between local playback actions
const DefaultThrottleInterval = time.Second

// Throttle admits at most one action per interval
type Throttle struct {
	mu       sync.Mutex
	clock    clockwork.Clock
	interval time.Duration
	last     time.Time
	used     bool
}

// NewThrottle creates a throttle. A zero interval uses DefaultThrottleInterval.
func NewThrottle(interval time.Duration, clock clockwork.Clock) *Throttle {
	if interval <= 0 {
		interval = DefaultThrottleInterval
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Throttle{clock: clock, interval: interval}
}

// Allow reports whether an action may run now and, if so, starts a new window
func (t *Throttle) Allow() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	if t.used && now.Sub(t.last) < t.interval {
		return false
	}
	t.last = now
	t.used = true
	return true
}
