package mcp

import (
	"sync"
	"time"
)

// limiter is a fixed 60s window request counter, one per server, ported from
// channels.WebhookRateLimiter's single-key shape (step 1 of the resilience
// pipeline, §4.E).
type limiter struct {
	mu          sync.Mutex
	maxPerMin   int
	windowStart time.Time
	count       int
}

func newLimiter(maxPerMin int) *limiter {
	if maxPerMin <= 0 {
		maxPerMin = DefaultRateLimitPerMinute
	}
	return &limiter{maxPerMin: maxPerMin}
}

// allow returns false once the current 60s window's budget is exhausted.
func (l *limiter) allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if l.windowStart.IsZero() || now.Sub(l.windowStart) >= time.Minute {
		l.windowStart = now
		l.count = 1
		return true
	}

	l.count++
	return l.count <= l.maxPerMin
}
