// Circuit breaker guarding broker publishes.

package backbone

import (
	"sync"
	"time"
)

// breaker opens after threshold consecutive failures and stays open for
// cooldown. The first call after cooldown is a single half-open trial whose
// outcome closes or re-opens it. A threshold below one disables it.
type breaker struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration
	failures  int
	openUntil time.Time
	trialing   bool
}

func newBreaker(threshold int, cooldown time.Duration) *breaker {
	return &breaker{threshold: threshold, cooldown: cooldown}
}

func (b *breaker) allow(now time.Time) bool {
	if b.threshold < 1 {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.openUntil.IsZero() {
		return true
	}
	if now.Before(b.openUntil) || b.trialing {
		return false
	}
	b.trialing = true
	return true
}

// success closes the breaker, reporting whether it was open.
func (b *breaker) success() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	wasOpen := !b.openUntil.IsZero()
	b.failures = 0
	b.openUntil = time.Time{}
	b.trialing = false
	return wasOpen
}

// failure records a failed call, reporting whether it tripped the breaker.
func (b *breaker) failure(now time.Time) bool {
	if b.threshold < 1 {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.trialing {
		b.trialing = false
		b.openUntil = now.Add(b.cooldown)
		return true
	}
	b.failures++
	if b.failures >= b.threshold {
		b.failures = 0
		b.openUntil = now.Add(b.cooldown)
		return true
	}
	return false
}

func (b *breaker) state(now time.Time) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch {
	case b.openUntil.IsZero():
		return "closed"
	case now.Before(b.openUntil):
		return "open"
	}
	return "half-open"
}
