// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/autobrr/dredger/internal/dbinterface"
)

var ErrEnrichmentNotFound = errors.New("enrichment record not found")

// EnrichmentRecord is the canonical external metadata for one title. At most
// one record exists per (provider, external id); many torrents may point at
// the same record. Records are append-only: the pipeline never mutates or
// deletes them once created.
type EnrichmentRecord struct {
	ID           int64     `json:"id"`
	Provider     string    `json:"provider"`
	ExternalID   string    `json:"externalId"`
	Title        string    `json:"title"`
	Overview     string    `json:"overview"`
	ReleaseDate  string    `json:"releaseDate"`
	Year         *int      `json:"year"`
	Runtime      *int      `json:"runtime"`
	Genres       []string  `json:"genres"`
	PosterPath   string    `json:"posterPath"`
	BackdropPath string    `json:"backdropPath"`
	SeasonCount  *int      `json:"seasonCount"`
	EpisodeCount *int      `json:"episodeCount"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"createdAt"`
}

// EnrichmentUpsert is the provider-agnostic metadata used to create a record
// on first resolution of its external id.
type EnrichmentUpsert struct {
	Provider     string
	ExternalID   string
	Title        string
	Overview     string
	ReleaseDate  string
	Year         *int
	Runtime      *int
	Genres       []string
	PosterPath   string
	BackdropPath string
	SeasonCount  *int
	EpisodeCount *int
	Status       string
}

type EnrichmentStore struct {
	db dbinterface.TxBeginner
}

func NewEnrichmentStore(db dbinterface.TxBeginner) *EnrichmentStore {
	return &EnrichmentStore{db: db}
}

func (s *EnrichmentStore) GetByExternalID(ctx context.Context, provider, externalID string) (*EnrichmentRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, provider, external_id, title, overview, release_date, year, runtime,
			genres, poster_path, backdrop_path, season_count, episode_count, status, created_at
		FROM enrichments WHERE provider = ? AND external_id = ?`, provider, externalID)

	record, err := scanEnrichment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEnrichmentNotFound
		}
		return nil, err
	}
	return record, nil
}

func (s *EnrichmentStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM enrichments").Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// getOrCreateEnrichment looks up the record for rec's external id inside tx
// and creates it when absent. INSERT OR IGNORE keeps the create race-safe
// against a concurrent transaction inserting the same id.
func getOrCreateEnrichment(ctx context.Context, tx dbinterface.Querier, rec EnrichmentUpsert, now time.Time) (*EnrichmentRecord, error) {
	genres := rec.Genres
	if genres == nil {
		genres = []string{}
	}
	genresJSON, err := json.Marshal(genres)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal genres: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO enrichments
			(provider, external_id, title, overview, release_date, year, runtime,
			genres, poster_path, backdrop_path, season_count, episode_count, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Provider, rec.ExternalID, rec.Title, rec.Overview, rec.ReleaseDate,
		rec.Year, rec.Runtime, string(genresJSON), rec.PosterPath, rec.BackdropPath,
		rec.SeasonCount, rec.EpisodeCount, rec.Status, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create enrichment record: %w", err)
	}

	row := tx.QueryRowContext(ctx, `
		SELECT id, provider, external_id, title, overview, release_date, year, runtime,
			genres, poster_path, backdrop_path, season_count, episode_count, status, created_at
		FROM enrichments WHERE provider = ? AND external_id = ?`, rec.Provider, rec.ExternalID)

	return scanEnrichment(row)
}

func scanEnrichment(row rowScanner) (*EnrichmentRecord, error) {
	var (
		r          EnrichmentRecord
		genresJSON string
	)
	err := row.Scan(&r.ID, &r.Provider, &r.ExternalID, &r.Title, &r.Overview, &r.ReleaseDate,
		&r.Year, &r.Runtime, &genresJSON, &r.PosterPath, &r.BackdropPath,
		&r.SeasonCount, &r.EpisodeCount, &r.Status, &r.CreatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(genresJSON), &r.Genres); err != nil {
		return nil, fmt.Errorf("failed to decode genres for enrichment %d: %w", r.ID, err)
	}
	return &r, nil
}

// enrichmentJoinColumns selects the enrichment side of a LEFT JOIN; every
// column is nullable because the join may not match.
const enrichmentJoinColumns = `e.id, e.provider, e.external_id, e.title, e.overview, e.release_date,
	e.year, e.runtime, e.genres, e.poster_path, e.backdrop_path,
	e.season_count, e.episode_count, e.status`

// enrichmentScan collects the nullable join columns and converts them into an
// EnrichmentRecord when the join matched.
type enrichmentScan struct {
	id           sql.NullInt64
	provider     sql.NullString
	externalID   sql.NullString
	title        sql.NullString
	overview     sql.NullString
	releaseDate  sql.NullString
	year         sql.NullInt64
	runtime      sql.NullInt64
	genres       sql.NullString
	posterPath   sql.NullString
	backdropPath sql.NullString
	seasonCount  sql.NullInt64
	episodeCount sql.NullInt64
	status       sql.NullString
}

func (e *enrichmentScan) record() (*EnrichmentRecord, error) {
	if !e.id.Valid {
		return nil, nil
	}

	r := &EnrichmentRecord{
		ID:           e.id.Int64,
		Provider:     e.provider.String,
		ExternalID:   e.externalID.String,
		Title:        e.title.String,
		Overview:     e.overview.String,
		ReleaseDate:  e.releaseDate.String,
		PosterPath:   e.posterPath.String,
		BackdropPath: e.backdropPath.String,
		Status:       e.status.String,
	}

	r.Year = nullableInt(e.year)
	r.Runtime = nullableInt(e.runtime)
	r.SeasonCount = nullableInt(e.seasonCount)
	r.EpisodeCount = nullableInt(e.episodeCount)

	if e.genres.Valid && e.genres.String != "" {
		if err := json.Unmarshal([]byte(e.genres.String), &r.Genres); err != nil {
			return nil, fmt.Errorf("failed to decode genres for enrichment %d: %w", r.ID, err)
		}
	}

	return r, nil
}

func nullableInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}
