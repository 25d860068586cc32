package session

import (
	"math/rand/v2"
	"time"
)

// ReconnectPolicy controls exponential backoff between reconnect attempts
// and the circuit breaker that stops them.
type ReconnectPolicy struct {
	BaseDelay   time.Duration // first retry delay (default 1s)
	MaxDelay    time.Duration // cap on any single delay (default 60s)
	MaxAttempts int           // consecutive failures before giving up (0 = unlimited)
	// Jitter randomizes each delay by ±25% when true.
	Jitter bool
}

// DefaultReconnectPolicy returns sensible defaults.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		BaseDelay:   time.Second,
		MaxDelay:    60 * time.Second,
		MaxAttempts: 20,
		Jitter:      true,
	}
}

// Exhausted reports whether attempt exceeds the breaker limit.
func (p ReconnectPolicy) Exhausted(attempt int) bool {
	return p.MaxAttempts > 0 && attempt > p.MaxAttempts
}

// Delay returns the wait before reconnect attempt n (1-based).
func (p ReconnectPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return backoff(p.BaseDelay, p.MaxDelay, attempt-1, p.Jitter)
}

// backoff computes delay = min(base * 2^shift, max), optionally ±25% jitter.
func backoff(base, max time.Duration, shift int, jitter bool) time.Duration {
	if base <= 0 {
		return 0
	}
	if shift > 30 {
		shift = 30
	}
	delay := base << uint(shift)
	if delay <= 0 || (max > 0 && delay > max) {
		delay = max
	}

	if jitter {
		quarter := delay / 4
		if quarter > 0 {
			delay += time.Duration(rand.Int64N(int64(quarter*2))) - quarter
		}
	}
	return delay
}
