// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models_test

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/dredger/internal/database"
	"github.com/autobrr/dredger/internal/models"
)

func newTestDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func testHash(seed string) string {
	return strings.Repeat(seed, 40/len(seed))
}

func upsertRecord(hash, title string, source models.Source) models.TorrentUpsert {
	return models.TorrentUpsert{
		InfoHash:  hash,
		Title:     title,
		Size:      1 << 30,
		Seeders:   10,
		Leechers:  2,
		MagnetURI: "magnet:?xt=urn:btih:" + hash,
		Source:    source,
	}
}

func TestUpsertBatchInsertAndGet(t *testing.T) {
	db := newTestDB(t)
	store := models.NewTorrentStore(db.Conn())
	ctx := context.Background()

	hash := testHash("a")
	hashes, err := store.UpsertBatch(ctx, []models.TorrentUpsert{
		upsertRecord(hash, "The.Matrix.1999.1080p.BluRay.x264-GROUP", models.Source{Name: "tracker-a", Scraper: "scraper-1"}),
	})
	require.NoError(t, err)
	require.Equal(t, []string{hash}, hashes)

	got, err := store.GetByHash(ctx, hash)
	require.NoError(t, err)

	assert.Equal(t, hash, got.InfoHash)
	assert.Equal(t, "The.Matrix.1999.1080p.BluRay.x264-GROUP", got.Title)
	assert.True(t, got.Dirty, "fresh rows start dirty")
	assert.False(t, got.Classified())
	assert.Nil(t, got.Enrichment)
	require.Len(t, got.Sources, 1)
	assert.Equal(t, "tracker-a", got.Sources[0].Name)
}

func TestUpsertBatchMergesSources(t *testing.T) {
	db := newTestDB(t)
	store := models.NewTorrentStore(db.Conn())
	ctx := context.Background()

	hash := testHash("b")
	sourceA := models.Source{Name: "tracker-a", Scraper: "scraper-1"}
	sourceB := models.Source{Name: "tracker-b", Scraper: "scraper-2"}

	_, err := store.UpsertBatch(ctx, []models.TorrentUpsert{upsertRecord(hash, "Title", sourceA)})
	require.NoError(t, err)

	// re-ingesting the same source must not duplicate it
	_, err = store.UpsertBatch(ctx, []models.TorrentUpsert{upsertRecord(hash, "Title", sourceA)})
	require.NoError(t, err)

	_, err = store.UpsertBatch(ctx, []models.TorrentUpsert{upsertRecord(hash, "Title", sourceB)})
	require.NoError(t, err)

	got, err := store.GetByHash(ctx, hash)
	require.NoError(t, err)

	assert.ElementsMatch(t, []models.Source{sourceA, sourceB}, got.Sources)
}

func TestUpsertBatchPreservesClassification(t *testing.T) {
	db := newTestDB(t)
	store := models.NewTorrentStore(db.Conn())
	ctx := context.Background()

	hash := testHash("c")
	source := models.Source{Name: "tracker-a"}

	_, err := store.UpsertBatch(ctx, []models.TorrentUpsert{upsertRecord(hash, "Show.S01E01.720p-GRP", source)})
	require.NoError(t, err)

	require.NoError(t, store.SetClassification(ctx, hash, models.Classification{
		Type: "episode", Title: "Show", Resolution: "720p", Group: "GRP",
	}))

	// re-ingestion overwrites swarm stats but keeps release attributes
	record := upsertRecord(hash, "Show.S01E01.720p-GRP", source)
	record.Seeders = 99
	_, err = store.UpsertBatch(ctx, []models.TorrentUpsert{record})
	require.NoError(t, err)

	got, err := store.GetByHash(ctx, hash)
	require.NoError(t, err)

	assert.Equal(t, 99, got.Seeders)
	assert.True(t, got.Dirty, "re-ingestion raises the dirty flag")
	require.True(t, got.Classified())
	assert.Equal(t, "Show", *got.CanonicalTitle)
}

func TestGetByHashNotFound(t *testing.T) {
	db := newTestDB(t)
	store := models.NewTorrentStore(db.Conn())

	_, err := store.GetByHash(context.Background(), testHash("d"))
	require.ErrorIs(t, err, models.ErrTorrentNotFound)
}

func TestSetClassification(t *testing.T) {
	db := newTestDB(t)
	store := models.NewTorrentStore(db.Conn())
	ctx := context.Background()

	hash := testHash("e")
	_, err := store.UpsertBatch(ctx, []models.TorrentUpsert{
		upsertRecord(hash, "The.Matrix.1999.1080p.BluRay.x264-GROUP", models.Source{Name: "t"}),
	})
	require.NoError(t, err)

	require.NoError(t, store.SetClassification(ctx, hash, models.Classification{
		Type: "movie", Group: "GROUP", Resolution: "1080p", Title: "The Matrix", Year: 1999,
	}))

	got, err := store.GetByHash(ctx, hash)
	require.NoError(t, err)

	assert.False(t, got.Dirty)
	assert.NotNil(t, got.IndexedAt)
	require.NotNil(t, got.ReleaseType)
	assert.Equal(t, "movie", *got.ReleaseType)
	require.NotNil(t, got.Year)
	assert.Equal(t, 1999, *got.Year)

	err = store.SetClassification(ctx, testHash("f"), models.Classification{Type: "movie", Title: "x"})
	require.ErrorIs(t, err, models.ErrTorrentNotFound)
}

func TestAttachEnrichmentDeduplicatesByExternalID(t *testing.T) {
	db := newTestDB(t)
	store := models.NewTorrentStore(db.Conn())
	enrichments := models.NewEnrichmentStore(db.Conn())
	ctx := context.Background()

	hashA := testHash("1")
	hashB := testHash("2")
	_, err := store.UpsertBatch(ctx, []models.TorrentUpsert{
		upsertRecord(hashA, "The.Matrix.1999.1080p-A", models.Source{Name: "t"}),
		upsertRecord(hashB, "The.Matrix.1999.2160p-B", models.Source{Name: "t"}),
	})
	require.NoError(t, err)

	year := 1999
	rec := models.EnrichmentUpsert{
		Provider:   "tmdb",
		ExternalID: "603",
		Title:      "The Matrix",
		Year:       &year,
		Genres:     []string{"Action"},
	}

	first, err := store.AttachEnrichment(ctx, hashA, rec)
	require.NoError(t, err)
	second, err := store.AttachEnrichment(ctx, hashB, rec)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "two releases of one title share a single record")

	count, err := enrichments.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	got, err := store.GetByHash(ctx, hashB)
	require.NoError(t, err)
	require.NotNil(t, got.Enrichment)
	assert.Equal(t, "The Matrix", got.Enrichment.Title)
	assert.Equal(t, []string{"Action"}, got.Enrichment.Genres)
	assert.NotNil(t, got.EnrichedAt)
	assert.False(t, got.Dirty)
}

func TestMarkEnrichedWithoutData(t *testing.T) {
	db := newTestDB(t)
	store := models.NewTorrentStore(db.Conn())
	ctx := context.Background()

	hash := testHash("3")
	_, err := store.UpsertBatch(ctx, []models.TorrentUpsert{
		upsertRecord(hash, "Obscure.Release-GRP", models.Source{Name: "t"}),
	})
	require.NoError(t, err)

	require.NoError(t, store.MarkEnrichedWithoutData(ctx, hash))

	got, err := store.GetByHash(ctx, hash)
	require.NoError(t, err)
	assert.NotNil(t, got.EnrichedAt)
	assert.Nil(t, got.EnrichmentID)
}

func TestDeleteByHashes(t *testing.T) {
	db := newTestDB(t)
	store := models.NewTorrentStore(db.Conn())
	ctx := context.Background()

	hashA := testHash("4")
	hashB := testHash("5")
	_, err := store.UpsertBatch(ctx, []models.TorrentUpsert{
		upsertRecord(hashA, "A", models.Source{Name: "t"}),
		upsertRecord(hashB, "B", models.Source{Name: "t"}),
	})
	require.NoError(t, err)

	deleted, err := store.DeleteByHashes(ctx, []string{hashA, testHash("6")})
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestStreamAndBulkMarkIndexed(t *testing.T) {
	db := newTestDB(t)
	store := models.NewTorrentStore(db.Conn())
	ctx := context.Background()

	var records []models.TorrentUpsert
	for _, seed := range []string{"7", "8", "9"} {
		records = append(records, upsertRecord(testHash(seed), "Title."+seed, models.Source{Name: "t"}))
	}
	_, err := store.UpsertBatch(ctx, records)
	require.NoError(t, err)

	rows, err := store.Stream(ctx)
	require.NoError(t, err)
	defer rows.Close()

	var streamed int
	for rows.Next() {
		torrent, err := rows.Torrent()
		require.NoError(t, err)
		assert.True(t, torrent.Dirty)
		streamed++
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, 3, streamed)

	marked, err := store.BulkMarkIndexed(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, marked)

	marked, err = store.BulkMarkIndexed(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, marked, "clean rows are not touched again")
}

func TestValidInfoHash(t *testing.T) {
	tests := []struct {
		name string
		hash string
		want bool
	}{
		{name: "valid", hash: testHash("a"), want: true},
		{name: "too short", hash: "abc123", want: false},
		{name: "uppercase rejected", hash: strings.ToUpper(testHash("a")), want: false},
		{name: "non-hex characters", hash: strings.Repeat("z", 40), want: false},
		{name: "empty", hash: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, models.ValidInfoHash(tt.hash))
		})
	}
}
