// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package enrich

import (
	"context"
	"encoding/json"

	"github.com/hibiken/asynq"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/dredger/internal/domain"
	"github.com/autobrr/dredger/internal/indexer"
	"github.com/autobrr/dredger/internal/metadata"
	"github.com/autobrr/dredger/internal/metrics"
	"github.com/autobrr/dredger/internal/models"
	"github.com/autobrr/dredger/internal/queue"
	"github.com/autobrr/dredger/internal/release"
)

// Finder resolves a classified title against the provider chain. Satisfied by
// *metadata.Registry.
type Finder interface {
	FindWithFallback(ctx context.Context, title string, year *int, contentType domain.ContentType) (*metadata.Match, error)
}

// Service is the enrich queue handler. It resolves classified torrents against
// the metadata provider chain, attaches the canonical enrichment record and
// republishes the enriched document.
type Service struct {
	torrents *models.TorrentStore
	registry Finder
	indexer  *indexer.BatchIndexer
	metrics  *metrics.Metrics
}

func NewService(torrents *models.TorrentStore, registry Finder, idx *indexer.BatchIndexer, m *metrics.Metrics) *Service {
	return &Service{
		torrents: torrents,
		registry: registry,
		indexer:  idx,
		metrics:  m,
	}
}

// ProcessTask implements asynq.Handler for torrent:enrich tasks.
func (s *Service) ProcessTask(ctx context.Context, task *asynq.Task) error {
	var payload queue.TorrentPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return errors.Wrapf(asynq.SkipRetry, "malformed enrich payload: %v", err)
	}

	return s.Enrich(ctx, payload.InfoHash)
}

// Enrich runs the enrichment stage for one info-hash. The stage is idempotent:
// rows already stamped enriched are skipped, and rows that cannot be matched
// are stamped anyway so they never cycle through the queue again.
func (s *Service) Enrich(ctx context.Context, infoHash string) error {
	t, err := s.torrents.GetByHash(ctx, infoHash)
	if err != nil {
		if errors.Is(err, models.ErrTorrentNotFound) {
			log.Debug().Str("infoHash", infoHash).Msg("Torrent vanished before enrichment")
			return nil
		}
		return errors.Wrapf(err, "failed to load torrent %s", infoHash)
	}

	if t.EnrichedAt != nil {
		log.Trace().Str("infoHash", infoHash).Msg("Already enriched, skipping")
		return nil
	}

	if t.CanonicalTitle == nil || !release.ContentTypeOf(deref(t.ReleaseType)).Enrichable() {
		// not enrichable content; stamp it so it stops coming back
		s.metrics.EnrichNoMatchTotal.Inc()
		return s.markWithoutData(ctx, infoHash, "not enrichable")
	}

	contentType := release.ContentTypeOf(*t.ReleaseType)
	match, err := s.registry.FindWithFallback(ctx, *t.CanonicalTitle, t.Year, contentType)
	if err != nil {
		// only context cancellation reaches here; let the task retry
		return err
	}

	if match == nil {
		s.metrics.EnrichNoMatchTotal.Inc()
		log.Debug().
			Str("infoHash", infoHash).
			Str("title", *t.CanonicalTitle).
			Msg("No provider matched, marking enriched without data")
		return s.markWithoutData(ctx, infoHash, "no match")
	}

	record, err := s.torrents.AttachEnrichment(ctx, infoHash, upsertFromMetadata(match))
	if err != nil {
		if errors.Is(err, models.ErrTorrentNotFound) {
			return nil
		}
		return errors.Wrapf(err, "failed to attach enrichment to %s", infoHash)
	}

	t.Enrichment = record
	t.EnrichmentID = &record.ID
	t.Dirty = false
	s.indexer.Add(indexer.FromTorrent(t))

	s.metrics.EnrichedTotal.WithLabelValues(match.Provider).Inc()

	log.Debug().
		Str("infoHash", infoHash).
		Str("provider", match.Provider).
		Str("externalId", match.Metadata.ExternalID).
		Str("title", match.Metadata.Title).
		Msg("Enriched torrent")

	return nil
}

func (s *Service) markWithoutData(ctx context.Context, infoHash, reason string) error {
	if err := s.torrents.MarkEnrichedWithoutData(ctx, infoHash); err != nil {
		return errors.Wrapf(err, "failed to mark %s enriched (%s)", infoHash, reason)
	}
	return nil
}

// upsertFromMetadata maps the accepted provider payload onto the canonical
// record shape keyed by (provider, external id).
func upsertFromMetadata(match *metadata.Match) models.EnrichmentUpsert {
	m := match.Metadata
	return models.EnrichmentUpsert{
		Provider:     match.Provider,
		ExternalID:   m.ExternalID,
		Title:        m.Title,
		Overview:     m.Overview,
		ReleaseDate:  m.ReleaseDate,
		Year:         m.Year,
		Runtime:      m.Runtime,
		Genres:       m.Genres,
		PosterPath:   m.PosterPath,
		BackdropPath: m.BackdropPath,
		SeasonCount:  m.SeasonCount,
		EpisodeCount: m.EpisodeCount,
		Status:       m.Status,
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
