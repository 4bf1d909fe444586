// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package reindex

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/dredger/internal/indexer"
	"github.com/autobrr/dredger/internal/metrics"
	"github.com/autobrr/dredger/internal/models"
	"github.com/autobrr/dredger/internal/release"
)

const progressLogEvery = 50000

// Service is the reindex queue handler. It streams the whole torrent table
// through a large-batch indexer, classifying never-classified rows on the fly,
// and finishes by clearing the dirty flags the stream covered.
type Service struct {
	torrents *models.TorrentStore
	indexer  *indexer.BatchIndexer
	metrics  *metrics.Metrics
}

func NewService(torrents *models.TorrentStore, idx *indexer.BatchIndexer, m *metrics.Metrics) *Service {
	return &Service{
		torrents: torrents,
		indexer:  idx,
		metrics:  m,
	}
}

// ProcessTask implements asynq.Handler for index:rebuild tasks.
func (s *Service) ProcessTask(ctx context.Context, _ *asynq.Task) error {
	return s.Run(ctx)
}

type pendingClassification struct {
	infoHash       string
	classification models.Classification
}

// Run rebuilds the search index from the database. Rows whose raw title never
// parsed are published with their raw attributes rather than skipped; a search
// index missing rows is worse than one with thin documents.
func (s *Service) Run(ctx context.Context) error {
	started := time.Now()
	log.Info().Msg("Starting full reindex")

	rows, err := s.torrents.Stream(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to open torrent stream")
	}
	defer rows.Close()

	// classifications parsed mid-stream are persisted after the cursor is
	// drained; the single sqlite writer connection is held by the cursor
	var pending []pendingClassification

	var total int64
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}

		t, err := rows.Torrent()
		if err != nil {
			return errors.Wrap(err, "failed to scan torrent row")
		}

		if !t.Classified() {
			if c, ok := parseInto(t); ok {
				pending = append(pending, pendingClassification{infoHash: t.InfoHash, classification: c})
			}
		}

		s.indexer.Add(indexer.FromTorrent(t))
		total++
		s.metrics.ReindexRowsTotal.Inc()

		if total%progressLogEvery == 0 {
			log.Info().Int64("rows", total).Msg("Reindex progress")
		}
	}
	if err := rows.Err(); err != nil {
		return errors.Wrap(err, "torrent stream failed")
	}
	rows.Close()

	for _, p := range pending {
		if err := s.torrents.SetClassification(ctx, p.infoHash, p.classification); err != nil {
			log.Warn().Err(err).Str("infoHash", p.infoHash).Msg("Failed to persist inline classification")
		}
	}

	s.indexer.Flush(ctx)

	marked, err := s.torrents.BulkMarkIndexed(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to mark rows indexed")
	}

	log.Info().
		Int64("rows", total).
		Int("classifiedInline", len(pending)).
		Int64("marked", marked).
		Dur("elapsed", time.Since(started)).
		Msg("Full reindex finished")

	return nil
}

// parseInto parses release attributes for a row the classify queue never
// reached and applies them to the in-memory row so the published document
// carries them. Unparsable titles are logged and the row goes out raw.
func parseInto(t *models.Torrent) (models.Classification, bool) {
	rel, err := release.Parse(t.Title)
	if err != nil {
		log.Debug().Str("infoHash", t.InfoHash).Str("title", t.Title).Msg("Title not parsable during reindex")
		return models.Classification{}, false
	}

	c := models.Classification{
		Type:       rel.Type,
		Group:      rel.Group,
		Resolution: rel.Resolution,
		Title:      rel.Title,
		Year:       rel.Year,
	}

	t.ReleaseType = &c.Type
	t.CanonicalTitle = &c.Title
	if c.Group != "" {
		t.ReleaseGroup = &c.Group
	}
	if c.Resolution != "" {
		t.Resolution = &c.Resolution
	}
	if c.Year > 0 {
		t.Year = &c.Year
	}

	return c, true
}
