// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metadata

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterStartsFull(t *testing.T) {
	l := NewRateLimiter(5, 1)

	start := time.Now()
	for range 5 {
		require.NoError(t, l.Acquire(context.Background()))
	}

	assert.Less(t, time.Since(start), 100*time.Millisecond, "a full bucket must not delay")
	assert.InDelta(t, 0, l.AvailableTokens(), 0.01)
}

func TestRateLimiterDelaysWhenEmpty(t *testing.T) {
	// 100 tokens/s keeps the measured waits short: three callers queued at
	// once on a drained bucket are released at 10ms, 20ms and 30ms
	l := NewRateLimiter(1, 100)

	require.NoError(t, l.Acquire(context.Background()))

	start := time.Now()
	var wg sync.WaitGroup
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, l.Acquire(context.Background()))
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 25*time.Millisecond, "queued callers must be spaced at the refill rate")
	assert.Less(t, elapsed, 500*time.Millisecond)
}

func TestRateLimiterContextCancellation(t *testing.T) {
	l := NewRateLimiter(1, 0.1)
	require.NoError(t, l.Acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := l.Acquire(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 100*time.Millisecond, "cancellation must not wait for a token")
}

func TestRateLimiterRefill(t *testing.T) {
	l := NewRateLimiter(2, 1)

	current := time.Now()
	l.now = func() time.Time { return current }
	l.last = current

	require.NoError(t, l.Acquire(context.Background()))
	require.NoError(t, l.Acquire(context.Background()))
	assert.InDelta(t, 0, l.AvailableTokens(), 0.01)

	current = current.Add(1 * time.Second)
	assert.InDelta(t, 1, l.AvailableTokens(), 0.01)

	// refill never exceeds capacity
	current = current.Add(1 * time.Hour)
	assert.InDelta(t, 2, l.AvailableTokens(), 0.01)
}

func TestRateLimiterTokensNeverReportedNegative(t *testing.T) {
	l := NewRateLimiter(1, 100)

	require.NoError(t, l.Acquire(context.Background()))
	require.NoError(t, l.Acquire(context.Background()))

	assert.GreaterOrEqual(t, l.AvailableTokens(), 0.0)
}
