// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package indexer

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/dredger/internal/metrics"
)

const (
	DefaultBatchSize     = 50
	DefaultFlushInterval = 3 * time.Second
)

// Publisher delivers a batch of documents to the search index, upserting by
// the primary identifier field.
type Publisher interface {
	Publish(ctx context.Context, docs []Document) error
}

type Options struct {
	BatchSize     int
	FlushInterval time.Duration
}

// BatchIndexer accumulates documents and flushes them to the search index
// when the buffer fills or the flush timer fires, whichever comes first.
// The buffer is process-local and not durable: at-least-once delivery is
// guaranteed at the torrent-row level via the dirty flag, not here.
//
// A document re-added while a flush is in flight always waits for the next
// flush; it is never merged into the outgoing publish.
type BatchIndexer struct {
	publisher Publisher
	batchSize int
	interval  time.Duration
	metrics   *metrics.Metrics

	mu       sync.Mutex
	cond     *sync.Cond
	buf      []Document
	timer    *time.Timer
	flushing bool
	closed   bool
}

func NewBatchIndexer(publisher Publisher, m *metrics.Metrics, opts Options) *BatchIndexer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = DefaultFlushInterval
	}

	b := &BatchIndexer{
		publisher: publisher,
		batchSize: opts.BatchSize,
		interval:  opts.FlushInterval,
		metrics:   m,
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Add appends a document to the buffer, flushing immediately when the buffer
// reaches the batch size and otherwise arming the flush timer.
func (b *BatchIndexer) Add(doc Document) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		log.Warn().Str("infoHash", doc.InfoHash).Msg("Indexer closed, dropping document")
		return
	}

	b.buf = append(b.buf, doc)
	full := len(b.buf) >= b.batchSize
	if !full && b.timer == nil {
		b.armTimerLocked()
	}
	b.mu.Unlock()

	if full {
		b.Flush(context.Background())
	}
}

// Flush publishes the buffered documents in a single request. It is a no-op
// when a flush is already in flight or the buffer is empty. On publish
// failure the batch is prepended back onto the buffer and the timer re-armed
// so the documents retry on the next trigger.
func (b *BatchIndexer) Flush(ctx context.Context) {
	b.mu.Lock()
	if b.flushing || len(b.buf) == 0 {
		b.mu.Unlock()
		return
	}
	b.flushing = true
	out := b.buf
	b.buf = nil
	b.stopTimerLocked()
	b.mu.Unlock()

	timer := prometheus.NewTimer(b.metrics.FlushDuration)
	err := b.publisher.Publish(ctx, out)
	timer.ObserveDuration()

	b.mu.Lock()
	b.flushing = false
	if err != nil {
		b.metrics.FlushFailuresTotal.Inc()
		log.Warn().Err(err).Int("docs", len(out)).Msg("Index publish failed, re-buffering batch")
		b.buf = append(out, b.buf...)
	} else {
		b.metrics.IndexedDocsTotal.Add(float64(len(out)))
	}
	if len(b.buf) > 0 && b.timer == nil && !b.closed {
		b.armTimerLocked()
	}
	b.cond.Broadcast()
	b.mu.Unlock()
}

// Close stops the timer, waits for any in-flight flush and performs one final
// synchronous flush so graceful shutdown does not lose buffered documents.
func (b *BatchIndexer) Close(ctx context.Context) error {
	b.mu.Lock()
	b.closed = true
	b.stopTimerLocked()
	for b.flushing {
		b.cond.Wait()
	}
	b.mu.Unlock()

	b.Flush(ctx)

	b.mu.Lock()
	remaining := len(b.buf)
	b.mu.Unlock()

	if remaining > 0 {
		log.Error().Int("docs", remaining).Msg("Documents still buffered at shutdown; they will reappear on the next reindex")
	}
	return nil
}

// callers must hold mu
func (b *BatchIndexer) armTimerLocked() {
	var timer *time.Timer
	timer = time.AfterFunc(b.interval, func() { b.timerFired(timer) })
	b.timer = timer
}

// timerFired handles a fired flush timer. A timer already consumed by a
// size-triggered flush no longer owns the pending flush: it must not clear a
// newer timer's handle or publish an extra batch.
func (b *BatchIndexer) timerFired(timer *time.Timer) {
	b.mu.Lock()
	if b.timer != timer {
		b.mu.Unlock()
		return
	}
	b.timer = nil
	b.mu.Unlock()

	b.Flush(context.Background())
}

// callers must hold mu
func (b *BatchIndexer) stopTimerLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}

// timerArmed reports whether a flush timer is pending, for tests.
func (b *BatchIndexer) timerArmed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.timer != nil
}

// buffered reports the current buffer depth, for tests and diagnostics.
func (b *BatchIndexer) buffered() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf)
}
