// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package services_test

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/dredger/internal/database"
	"github.com/autobrr/dredger/internal/domain"
	"github.com/autobrr/dredger/internal/indexer"
	"github.com/autobrr/dredger/internal/metadata"
	"github.com/autobrr/dredger/internal/metrics"
	"github.com/autobrr/dredger/internal/models"
	"github.com/autobrr/dredger/internal/services/classify"
	"github.com/autobrr/dredger/internal/services/enrich"
	"github.com/autobrr/dredger/internal/services/ingest"
)

type capturingPublisher struct {
	mu   sync.Mutex
	docs []indexer.Document
}

func (p *capturingPublisher) Publish(ctx context.Context, docs []indexer.Document) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.docs = append(p.docs, docs...)
	return nil
}

func (p *capturingPublisher) published() []indexer.Document {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]indexer.Document{}, p.docs...)
}

// syncDispatcher runs the queued stages inline instead of through redis, so
// one test can follow a record across the whole pipeline.
type syncDispatcher struct {
	classify *classify.Service
	enrich   *enrich.Service
}

func (d *syncDispatcher) EnqueueClassify(ctx context.Context, infoHash string) error {
	return d.classify.Classify(ctx, infoHash)
}

func (d *syncDispatcher) EnqueueEnrich(ctx context.Context, infoHash string, delay time.Duration) error {
	return d.enrich.Enrich(ctx, infoHash)
}

type catalogueStub struct {
	match *metadata.Match
}

func (c *catalogueStub) FindWithFallback(ctx context.Context, title string, year *int, contentType domain.ContentType) (*metadata.Match, error) {
	return c.match, nil
}

func TestPipelineIngestToSearchDocument(t *testing.T) {
	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	torrents := models.NewTorrentStore(db.Conn())
	m := metrics.NewWith(prometheus.NewRegistry())

	publisher := &capturingPublisher{}
	idx := indexer.NewBatchIndexer(publisher, m, indexer.Options{BatchSize: 1, FlushInterval: time.Hour})

	year := 1999
	finder := &catalogueStub{match: &metadata.Match{
		Provider: "tmdb",
		Priority: 1,
		Metadata: &metadata.Metadata{
			Provider:   "tmdb",
			ExternalID: "603",
			Title:      "The Matrix",
			Overview:   "A computer hacker learns the truth.",
			Year:       &year,
			Genres:     []string{"Action", "Science Fiction"},
		},
	}}

	dispatcher := &syncDispatcher{}
	dispatcher.enrich = enrich.NewService(torrents, finder, idx, m)
	dispatcher.classify = classify.NewService(torrents, idx, dispatcher, m, 0)

	service := ingest.NewService(torrents, models.NewBlacklistStore(db.Conn()), dispatcher, m)

	hash := strings.Repeat("a", 40)
	result, err := service.IngestBatch(context.Background(), "scraper-1", []ingest.ScrapedTorrent{{
		InfoHash: hash,
		Title:    "The.Matrix.1999.1080p.BluRay.x264-GROUP",
		Size:     1 << 30,
		Seeders:  10,
		Source:   ingest.SourceRef{Name: "tracker-a"},
	}})
	require.NoError(t, err)
	require.Equal(t, 1, result.Accepted)

	got, err := torrents.GetByHash(context.Background(), hash)
	require.NoError(t, err)
	assert.True(t, got.Classified())
	assert.False(t, got.Dirty)
	require.NotNil(t, got.EnrichmentID)
	require.NotNil(t, got.EnrichedAt)

	docs := publisher.published()
	require.Len(t, docs, 2, "classification and enrichment each publish the row")
	assert.Nil(t, docs[0].Enrichment, "the classified document precedes enrichment")

	final := docs[1]
	assert.Equal(t, hash, final.InfoHash)
	assert.Equal(t, "The Matrix", final.CanonicalTitle)
	assert.Equal(t, "movie", final.ReleaseType)
	assert.Equal(t, 1999, final.Year)
	assert.Equal(t, []string{"tracker-a"}, final.SourceNames)
	require.NotNil(t, final.Enrichment)
	assert.Equal(t, "tmdb", final.Enrichment.Provider)
	assert.Equal(t, "603", final.Enrichment.ExternalID)
	assert.Equal(t, "The Matrix", final.Enrichment.Title)
	assert.Equal(t, 1999, final.Enrichment.Year)
	assert.Equal(t, []string{"Action", "Science Fiction"}, final.Enrichment.Genres)
}
