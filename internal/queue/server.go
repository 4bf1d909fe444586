// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package queue

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"
)

// WorkerConfig sets the per-queue concurrency limits. Reindex is pinned to a
// single worker so full rebuilds stay single-flight.
type WorkerConfig struct {
	ClassifyConcurrency int
	EnrichConcurrency   int
}

// Handlers holds one handler per queue.
type Handlers struct {
	Classify asynq.Handler
	Enrich   asynq.Handler
	Reindex  asynq.Handler
}

// Workers runs one asynq server per queue. Separate servers give each queue
// its own concurrency limit instead of sharing one weighted pool.
type Workers struct {
	servers []*asynq.Server
}

func NewWorkers(redis asynq.RedisClientOpt, cfg WorkerConfig) *Workers {
	if cfg.ClassifyConcurrency <= 0 {
		cfg.ClassifyConcurrency = 10
	}
	if cfg.EnrichConcurrency <= 0 {
		cfg.EnrichConcurrency = 5
	}

	newServer := func(queueName string, concurrency int) *asynq.Server {
		return asynq.NewServer(redis, asynq.Config{
			Concurrency: concurrency,
			Queues:      map[string]int{queueName: 1},
			Logger:      &zerologAdapter{},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				log.Error().Err(err).Str("type", task.Type()).Msg("Job failed")
			}),
		})
	}

	return &Workers{
		servers: []*asynq.Server{
			newServer(QueueClassify, cfg.ClassifyConcurrency),
			newServer(QueueEnrich, cfg.EnrichConcurrency),
			newServer(QueueReindex, 1),
		},
	}
}

// Start launches every worker pool. Handlers for all task types are
// registered on each server; routing happens via the queue each server drains.
func (w *Workers) Start(handlers Handlers) error {
	mux := asynq.NewServeMux()
	mux.Handle(TypeClassifyTorrent, handlers.Classify)
	mux.Handle(TypeEnrichTorrent, handlers.Enrich)
	mux.Handle(TypeReindexAll, handlers.Reindex)

	for i, srv := range w.servers {
		if err := srv.Start(mux); err != nil {
			for _, started := range w.servers[:i] {
				started.Shutdown()
			}
			return fmt.Errorf("failed to start worker pool: %w", err)
		}
	}
	return nil
}

// Shutdown stops pulling new jobs and waits for in-flight handlers to finish.
func (w *Workers) Shutdown() {
	for _, srv := range w.servers {
		srv.Shutdown()
	}
}

// zerologAdapter bridges asynq's logger interface onto the global zerolog
// logger. asynq logs at debug are noisy, so they map to trace.
type zerologAdapter struct{}

func (l *zerologAdapter) Debug(args ...any) { log.Trace().Msg(fmt.Sprint(args...)) }
func (l *zerologAdapter) Info(args ...any)  { log.Debug().Msg(fmt.Sprint(args...)) }
func (l *zerologAdapter) Warn(args ...any)  { log.Warn().Msg(fmt.Sprint(args...)) }
func (l *zerologAdapter) Error(args ...any) { log.Error().Msg(fmt.Sprint(args...)) }
func (l *zerologAdapter) Fatal(args ...any) { log.Fatal().Msg(fmt.Sprint(args...)) }
