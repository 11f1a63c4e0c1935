package otp

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Throttle limits how often a code can be requested for one challenge key.
//
// Each key gets a token bucket with burst 1 that refills once per interval,
// so a second request inside the interval is refused. Buckets live in process
// memory; with several processes behind a load balancer each one throttles
// independently.
type Throttle struct {
	mu       sync.Mutex
	interval time.Duration
	buckets  map[string]*bucket
	now      func() time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewThrottle returns a Throttle. A non-positive interval disables throttling.
func NewThrottle(interval time.Duration) *Throttle {
	return &Throttle{
		interval: interval,
		buckets:  make(map[string]*bucket),
		now:      time.Now,
	}
}

// Allow reports whether a code may be issued for key now, and records the
// attempt when it may.
func (t *Throttle) Allow(key string) bool {
	if t == nil || t.interval <= 0 {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	b, ok := t.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Every(t.interval), 1)}
		t.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

// Prune drops buckets idle for longer than the interval; a fresh bucket
// starts full, so forgetting them changes nothing for the caller.
func (t *Throttle) Prune() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().Add(-t.interval)
	removed := 0
	for key, b := range t.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(t.buckets, key)
			removed++
		}
	}
	return removed
}
