// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package reindex

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
	"github.com/autobrr/dredger/internal/indexer"
	"github.com/autobrr/dredger/internal/metrics"
	"github.com/autobrr/dredger/internal/models"
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

func testHash(seed string) string {
	return strings.Repeat(seed, 40)
}

func newTestService(t *testing.T) (*Service, *models.TorrentStore, *capturingPublisher) {
	t.Helper()

	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := models.NewTorrentStore(db.Conn())
	publisher := &capturingPublisher{}
	m := metrics.NewWith(prometheus.NewRegistry())
	idx := indexer.NewBatchIndexer(publisher, m, indexer.Options{BatchSize: 1000, FlushInterval: time.Hour})

	return NewService(store, idx, m), store, publisher
}

func seed(t *testing.T, store *models.TorrentStore, hash, title string) {
	t.Helper()

	_, err := store.UpsertBatch(context.Background(), []models.TorrentUpsert{{
		InfoHash: hash,
		Title:    title,
		Size:     1 << 30,
		Source:   models.Source{Name: "tracker-a"},
	}})
	require.NoError(t, err)
}

func TestRunPublishesEveryRow(t *testing.T) {
	service, store, publisher := newTestService(t)
	ctx := context.Background()

	seed(t, store, testHash("a"), "The.Matrix.1999.1080p.BluRay.x264-GROUP")
	seed(t, store, testHash("b"), "Breaking.Bad.S05E14.720p.WEB-DL-NTb")
	seed(t, store, testHash("c"), "!!!")

	require.NoError(t, service.Run(ctx))

	docs := publisher.published()
	assert.Len(t, docs, 3, "unparsable rows are published raw, not skipped")

	byHash := make(map[string]indexer.Document, len(docs))
	for _, d := range docs {
		byHash[d.InfoHash] = d
	}

	assert.Equal(t, "The Matrix", byHash[testHash("a")].CanonicalTitle, "never-classified rows are classified on the fly")
	assert.Equal(t, "movie", byHash[testHash("a")].ReleaseType)
	assert.Empty(t, byHash[testHash("c")].CanonicalTitle)
}

func TestRunClearsDirtyFlags(t *testing.T) {
	service, store, _ := newTestService(t)
	ctx := context.Background()

	seed(t, store, testHash("d"), "The.Matrix.1999.1080p.BluRay.x264-GROUP")
	seed(t, store, testHash("e"), "!!!")

	require.NoError(t, service.Run(ctx))

	rows, err := store.Stream(ctx)
	require.NoError(t, err)
	defer rows.Close()

	for rows.Next() {
		torrent, err := rows.Torrent()
		require.NoError(t, err)
		assert.False(t, torrent.Dirty, "every streamed row is marked clean after the run")
		assert.NotNil(t, torrent.IndexedAt)
	}
	require.NoError(t, rows.Err())
}

func TestRunPersistsInlineClassification(t *testing.T) {
	service, store, _ := newTestService(t)
	ctx := context.Background()

	hash := testHash("f")
	seed(t, store, hash, "Breaking.Bad.S05E14.720p.WEB-DL-NTb")

	require.NoError(t, service.Run(ctx))

	got, err := store.GetByHash(ctx, hash)
	require.NoError(t, err)
	require.True(t, got.Classified())
	assert.Equal(t, "Breaking Bad", *got.CanonicalTitle)
}

func TestRunCancelledContext(t *testing.T) {
	service, store, _ := newTestService(t)

	seed(t, store, testHash("1"), "Some.Title.2020")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, service.Run(ctx), context.Canceled)
}

func TestRunEmptyStore(t *testing.T) {
	service, _, publisher := newTestService(t)

	require.NoError(t, service.Run(context.Background()))
	assert.Empty(t, publisher.published())
}
