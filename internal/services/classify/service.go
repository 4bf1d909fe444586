// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package classify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/dredger/internal/indexer"
	"github.com/autobrr/dredger/internal/metrics"
	"github.com/autobrr/dredger/internal/models"
	"github.com/autobrr/dredger/internal/queue"
	"github.com/autobrr/dredger/internal/release"
)

// EnrichEnqueuer schedules the enrichment stage. Satisfied by *queue.Client.
type EnrichEnqueuer interface {
	EnqueueEnrich(ctx context.Context, infoHash string, delay time.Duration) error
}

// Service is the classify queue handler. It parses the raw tracker title into
// release attributes, pushes the row to the search index and hands enrichable
// content on to the enrichment queue.
type Service struct {
	torrents *models.TorrentStore
	indexer  *indexer.BatchIndexer
	queue    EnrichEnqueuer
	metrics  *metrics.Metrics

	enrichDelay time.Duration
}

func NewService(torrents *models.TorrentStore, idx *indexer.BatchIndexer, q EnrichEnqueuer, m *metrics.Metrics, enrichDelay time.Duration) *Service {
	return &Service{
		torrents:    torrents,
		indexer:     idx,
		queue:       q,
		metrics:     m,
		enrichDelay: enrichDelay,
	}
}

// ProcessTask implements asynq.Handler for torrent:classify tasks.
func (s *Service) ProcessTask(ctx context.Context, task *asynq.Task) error {
	var payload queue.TorrentPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return errors.Wrapf(asynq.SkipRetry, "malformed classify payload: %v", err)
	}

	return s.Classify(ctx, payload.InfoHash)
}

// Classify runs the classification stage for one info-hash. Rows deleted since
// enqueue and rows already classified with nothing new to index are skipped
// without error, so duplicate deliveries stay cheap.
func (s *Service) Classify(ctx context.Context, infoHash string) error {
	t, err := s.torrents.GetByHash(ctx, infoHash)
	if err != nil {
		if errors.Is(err, models.ErrTorrentNotFound) {
			log.Debug().Str("infoHash", infoHash).Msg("Torrent vanished before classification")
			return nil
		}
		return errors.Wrapf(err, "failed to load torrent %s", infoHash)
	}

	if t.Classified() && !t.Dirty {
		log.Trace().Str("infoHash", infoHash).Msg("Already classified and clean, skipping")
		return nil
	}

	rel, err := release.Parse(t.Title)
	if err != nil {
		// unparsable titles stay dirty so the next full reindex still
		// publishes them with their raw attributes
		s.metrics.ClassifyFailedTotal.Inc()
		log.Warn().Str("infoHash", infoHash).Str("title", t.Title).Msg("Release title not parsable")
		return errors.Wrapf(asynq.SkipRetry, "unparsable title %q", t.Title)
	}

	classification := models.Classification{
		Type:       rel.Type,
		Group:      rel.Group,
		Resolution: rel.Resolution,
		Title:      rel.Title,
		Year:       rel.Year,
	}
	if err := s.torrents.SetClassification(ctx, infoHash, classification); err != nil {
		if errors.Is(err, models.ErrTorrentNotFound) {
			return nil
		}
		return errors.Wrapf(err, "failed to store classification for %s", infoHash)
	}

	// update the loaded row in place rather than re-reading it
	t.ReleaseType = &classification.Type
	t.CanonicalTitle = &classification.Title
	if classification.Group != "" {
		t.ReleaseGroup = &classification.Group
	}
	if classification.Resolution != "" {
		t.Resolution = &classification.Resolution
	}
	if classification.Year > 0 {
		t.Year = &classification.Year
	}
	t.Dirty = false

	s.indexer.Add(indexer.FromTorrent(t))
	s.metrics.ClassifiedTotal.Inc()

	if rel.ContentType().Enrichable() && t.EnrichmentID == nil && t.EnrichedAt == nil {
		if err := s.queue.EnqueueEnrich(ctx, infoHash, s.enrichDelay); err != nil {
			log.Error().Err(err).Str("infoHash", infoHash).Msg("Failed to enqueue enrichment")
		}
	}

	log.Debug().
		Str("infoHash", infoHash).
		Str("type", rel.Type).
		Str("title", rel.Title).
		Msg("Classified torrent")

	return nil
}
