package mcp

import (
	"fmt"
	"sync"
	"time"
)

// breaker is a per-server circuit breaker: Closed lets calls through and
// counts consecutive failures; at threshold it opens for cooldown; after
// cooldown it goes HalfOpen and allows one trial call, closing again on
// success or reopening on failure (step 3 of the resilience pipeline, §4.E;
// exact threshold/cooldown/transition semantics verified against §8
// Boundary Scenario 6: threshold=2, cooldown=1s, two failures -> open,
// after 1.1s -> half-open trial succeeds -> closed with failures reset).
type breaker struct {
	mu        sync.Mutex
	state     BreakerState
	threshold int
	cooldown  time.Duration
	failures  int
	openUntil time.Time
}

func newBreaker(threshold int, cooldown time.Duration) *breaker {
	if threshold <= 0 {
		threshold = DefaultBreakerThreshold
	}
	if cooldown <= 0 {
		cooldown = DefaultBreakerCooldown
	}
	return &breaker{state: BreakerClosed, threshold: threshold, cooldown: cooldown}
}

// allowRequest reports whether a call may proceed, transitioning Open ->
// HalfOpen once the cooldown has elapsed.
func (b *breaker) allowRequest() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if time.Now().Before(b.openUntil) {
			return fmt.Errorf("circuit open until %s", b.openUntil.Format(time.RFC3339))
		}
		b.state = BreakerHalfOpen
		return nil
	case BreakerHalfOpen:
		return fmt.Errorf("circuit half-open, trial call in flight")
	default:
		return nil
	}
}

func (b *breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.failures = 0
}

func (b *breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerHalfOpen {
		b.open()
		return
	}
	b.failures++
	if b.failures >= b.threshold {
		b.open()
	}
}

func (b *breaker) open() {
	b.state = BreakerOpen
	b.openUntil = time.Now().Add(b.cooldown)
	b.failures = 0
}
