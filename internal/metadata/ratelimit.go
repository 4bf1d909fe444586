// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metadata

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a token bucket shared by every worker talking to one
// provider. Acquire suspends the calling job, not the process, until a token
// is available. The limiter cannot fail, only delay.
type RateLimiter struct {
	mu       sync.Mutex
	capacity float64
	rate     float64 // tokens per second
	tokens   float64
	last     time.Time

	now func() time.Time
}

// NewRateLimiter creates a bucket with the given capacity that refills at
// perSecond tokens per second. The bucket starts full.
func NewRateLimiter(capacity int, perSecond float64) *RateLimiter {
	if capacity < 1 {
		capacity = 1
	}
	if perSecond <= 0 {
		perSecond = 1
	}
	return &RateLimiter{
		capacity: float64(capacity),
		rate:     perSecond,
		tokens:   float64(capacity),
		now:      time.Now,
		last:     time.Now(),
	}
}

// refill credits tokens for the wall-clock time elapsed since the last refill.
// Callers must hold mu.
func (l *RateLimiter) refill() {
	now := l.now()
	elapsed := now.Sub(l.last).Seconds()
	if elapsed > 0 {
		l.tokens = min(l.capacity, l.tokens+elapsed*l.rate)
		l.last = now
	}
}

// Acquire consumes one token, sleeping until one has accumulated when the
// bucket is empty. Tokens may go negative under contention, which spaces
// queued callers out at the refill rate instead of releasing them all at once.
func (l *RateLimiter) Acquire(ctx context.Context) error {
	l.mu.Lock()
	l.refill()

	if l.tokens >= 1 {
		l.tokens--
		l.mu.Unlock()
		return nil
	}

	wait := time.Duration((1 - l.tokens) / l.rate * float64(time.Second))
	l.tokens--
	l.mu.Unlock()

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// AvailableTokens reports the current token count after an implicit refill,
// for diagnostics. Never negative even when callers are queued.
func (l *RateLimiter) AvailableTokens() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refill()
	return max(0, l.tokens)
}
