// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	QueueClassify = "classify"
	QueueEnrich   = "enrich"
	QueueReindex  = "reindex"

	TypeClassifyTorrent = "torrent:classify"
	TypeEnrichTorrent   = "torrent:enrich"
	TypeReindexAll      = "index:rebuild"
)

// reindexLockDuration bounds how long a reindex run holds its single-flight
// lock; a second enqueue within the window is rejected as a duplicate.
const reindexLockDuration = time.Hour

// TorrentPayload addresses a single row; both classify and enrich tasks use it.
type TorrentPayload struct {
	InfoHash string `json:"infoHash"`
}

// Client enqueues pipeline jobs. Delivery is at-least-once; every handler is
// idempotent per info-hash to tolerate duplicates.
type Client struct {
	inner *asynq.Client
}

func NewClient(redis asynq.RedisClientOpt) *Client {
	return &Client{inner: asynq.NewClient(redis)}
}

func (c *Client) Close() error {
	return c.inner.Close()
}

// EnqueueClassify schedules classification for one info-hash. The task id is
// derived from the hash so re-enqueueing an already-queued hash collapses
// into the pending task instead of duplicating work.
func (c *Client) EnqueueClassify(ctx context.Context, infoHash string) error {
	payload, err := json.Marshal(TorrentPayload{InfoHash: infoHash})
	if err != nil {
		return errors.Wrap(err, "failed to marshal classify payload")
	}

	task := asynq.NewTask(TypeClassifyTorrent, payload)
	_, err = c.inner.EnqueueContext(ctx, task,
		asynq.Queue(QueueClassify),
		asynq.TaskID("classify:"+infoHash),
		asynq.Timeout(time.Minute),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		log.Debug().Str("infoHash", infoHash).Msg("Classification already queued")
		return nil
	}
	return errors.Wrap(err, "failed to enqueue classification")
}

// EnqueueEnrich schedules enrichment after a short delay so a burst ingest
// does not stampede the metadata providers.
func (c *Client) EnqueueEnrich(ctx context.Context, infoHash string, delay time.Duration) error {
	payload, err := json.Marshal(TorrentPayload{InfoHash: infoHash})
	if err != nil {
		return errors.Wrap(err, "failed to marshal enrich payload")
	}

	task := asynq.NewTask(TypeEnrichTorrent, payload)
	_, err = c.inner.EnqueueContext(ctx, task,
		asynq.Queue(QueueEnrich),
		asynq.TaskID("enrich:"+infoHash),
		asynq.ProcessIn(delay),
		asynq.Timeout(5*time.Minute),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		log.Debug().Str("infoHash", infoHash).Msg("Enrichment already queued")
		return nil
	}
	return errors.Wrap(err, "failed to enqueue enrichment")
}

// EnqueueReindex schedules a full index rebuild. Only one run may exist at a
// time; ErrReindexRunning is returned when the uniqueness lock is held.
func (c *Client) EnqueueReindex(ctx context.Context) error {
	task := asynq.NewTask(TypeReindexAll, nil)
	_, err := c.inner.EnqueueContext(ctx, task,
		asynq.Queue(QueueReindex),
		asynq.Unique(reindexLockDuration),
		asynq.Timeout(reindexLockDuration),
		asynq.MaxRetry(0),
	)
	if errors.Is(err, asynq.ErrDuplicateTask) {
		return ErrReindexRunning
	}
	return errors.Wrap(err, "failed to enqueue reindex")
}

var ErrReindexRunning = errors.New("a reindex is already queued or running")
