// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/autobrr/dredger/internal/dbinterface"
)

var ErrTorrentNotFound = errors.New("torrent not found")

var infoHashRe = regexp.MustCompile(`^[0-9a-f]{40}$`)

// ValidInfoHash reports whether s is a 40-character lowercase hex info-hash.
func ValidInfoHash(s string) bool {
	return infoHashRe.MatchString(s)
}

// Source records where a torrent was seen. Sources are merged as a set on
// re-ingestion, so the struct must stay comparable.
type Source struct {
	Name    string `json:"name"`
	URL     string `json:"url,omitempty"`
	Scraper string `json:"scraper,omitempty"`
}

type TorrentFile struct {
	Path string `json:"path"`
	Size uint64 `json:"size"`
}

type Torrent struct {
	InfoHash  string        `json:"infoHash"`
	Title     string        `json:"title"`
	Size      uint64        `json:"size"`
	Seeders   int           `json:"seeders"`
	Leechers  int           `json:"leechers"`
	MagnetURI string        `json:"magnetUri"`
	Files     []TorrentFile `json:"files"`
	Sources   []Source      `json:"sources"`
	Dirty     bool          `json:"dirty"`

	// Parsed release attributes, nil until classified
	ReleaseType    *string `json:"releaseType"`
	ReleaseGroup   *string `json:"releaseGroup"`
	Resolution     *string `json:"resolution"`
	CanonicalTitle *string `json:"canonicalTitle"`
	Year           *int    `json:"year"`

	EnrichmentID *int64            `json:"enrichmentId"`
	Enrichment   *EnrichmentRecord `json:"enrichment,omitempty"`

	CreatedAt  time.Time  `json:"createdAt"`
	LastSeenAt time.Time  `json:"lastSeenAt"`
	IndexedAt  *time.Time `json:"indexedAt"`
	EnrichedAt *time.Time `json:"enrichedAt"`
}

// Classified reports whether the row carries parsed release attributes.
func (t *Torrent) Classified() bool {
	return t.ReleaseType != nil
}

// TorrentUpsert is one raw scrape record after batch-level validation.
type TorrentUpsert struct {
	InfoHash  string
	Title     string
	Size      uint64
	Seeders   int
	Leechers  int
	MagnetURI string
	Files     []TorrentFile
	Source    Source
}

// Classification holds the attributes produced by the release parser.
type Classification struct {
	Type       string
	Group      string
	Resolution string
	Title      string
	Year       int
}

type TorrentStore struct {
	db  dbinterface.TxBeginner
	now func() time.Time
}

func NewTorrentStore(db dbinterface.TxBeginner) *TorrentStore {
	return &TorrentStore{db: db, now: time.Now}
}

const torrentColumns = `t.info_hash, t.title, t.size, t.seeders, t.leechers, t.magnet_uri,
	t.files, t.sources, t.dirty, t.enrichment_id,
	t.release_type, t.release_group, t.resolution, t.canonical_title, t.year,
	t.created_at, t.last_seen_at, t.indexed_at, t.enriched_at`

// upsert uses 11 bound parameters per row
const upsertParamsPerRow = 11

// UpsertBatch inserts or merges the given records inside a single transaction
// and returns the affected info-hashes. On conflict the source set is unioned,
// seeder/leecher counts are overwritten, the dirty flag is raised and
// last_seen_at refreshed. Prior classification and enrichment are untouched.
func (s *TorrentStore) UpsertBatch(ctx context.Context, records []TorrentUpsert) ([]string, error) {
	if len(records) == 0 {
		return nil, nil
	}

	now := s.now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	hashes := make([]string, 0, len(records))
	for _, r := range records {
		hashes = append(hashes, r.InfoHash)
	}

	existing, err := s.loadSources(ctx, tx, hashes)
	if err != nil {
		return nil, err
	}

	chunkSize := dbinterface.ChunkSize(upsertParamsPerRow)
	for start := 0; start < len(records); start += chunkSize {
		end := min(start+chunkSize, len(records))
		if err := s.upsertChunk(ctx, tx, records[start:end], existing, now); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit batch upsert: %w", err)
	}

	return hashes, nil
}

func (s *TorrentStore) upsertChunk(ctx context.Context, tx dbinterface.Querier, records []TorrentUpsert, existing map[string][]Source, now time.Time) error {
	args := make([]any, 0, len(records)*upsertParamsPerRow)
	for _, r := range records {
		sources := mergeSources(existing[r.InfoHash], r.Source)
		sourcesJSON, err := json.Marshal(sources)
		if err != nil {
			return fmt.Errorf("failed to marshal sources for %s: %w", r.InfoHash, err)
		}
		files := r.Files
		if files == nil {
			files = []TorrentFile{}
		}
		filesJSON, err := json.Marshal(files)
		if err != nil {
			return fmt.Errorf("failed to marshal files for %s: %w", r.InfoHash, err)
		}

		args = append(args, r.InfoHash, r.Title, int64(r.Size), r.Seeders, r.Leechers,
			r.MagnetURI, string(filesJSON), string(sourcesJSON), true, now, now)
	}

	query := fmt.Sprintf(`
		INSERT INTO torrents (info_hash, title, size, seeders, leechers, magnet_uri, files, sources, dirty, created_at, last_seen_at)
		VALUES %s
		ON CONFLICT (info_hash) DO UPDATE SET
			title = excluded.title,
			size = excluded.size,
			seeders = excluded.seeders,
			leechers = excluded.leechers,
			magnet_uri = excluded.magnet_uri,
			files = excluded.files,
			sources = excluded.sources,
			dirty = 1,
			last_seen_at = excluded.last_seen_at`,
		dbinterface.Placeholders(len(records), upsertParamsPerRow))

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to upsert torrents: %w", err)
	}
	return nil
}

func (s *TorrentStore) loadSources(ctx context.Context, tx dbinterface.Querier, hashes []string) (map[string][]Source, error) {
	result := make(map[string][]Source, len(hashes))

	chunkSize := dbinterface.ChunkSize(1)
	for start := 0; start < len(hashes); start += chunkSize {
		end := min(start+chunkSize, len(hashes))
		clause, args := dbinterface.InClause(hashes[start:end])

		rows, err := tx.QueryContext(ctx, "SELECT info_hash, sources FROM torrents WHERE info_hash IN ("+clause+")", args...)
		if err != nil {
			return nil, fmt.Errorf("failed to load existing sources: %w", err)
		}

		for rows.Next() {
			var hash, sourcesJSON string
			if err := rows.Scan(&hash, &sourcesJSON); err != nil {
				rows.Close()
				return nil, err
			}
			var sources []Source
			if err := json.Unmarshal([]byte(sourcesJSON), &sources); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to decode sources for %s: %w", hash, err)
			}
			result[hash] = sources
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}

	return result, nil
}

// mergeSources appends next to the existing set, deduplicated by value.
func mergeSources(existing []Source, next Source) []Source {
	for _, s := range existing {
		if s == next {
			return existing
		}
	}
	return append(existing, next)
}

// GetByHash loads a torrent with its enrichment record joined, if any.
func (s *TorrentStore) GetByHash(ctx context.Context, hash string) (*Torrent, error) {
	query := `SELECT ` + torrentColumns + `, ` + enrichmentJoinColumns + `
		FROM torrents t
		LEFT JOIN enrichments e ON e.id = t.enrichment_id
		WHERE t.info_hash = ?`

	t, err := scanTorrent(s.db.QueryRowContext(ctx, query, hash))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTorrentNotFound
		}
		return nil, err
	}
	return t, nil
}

// SetClassification persists parsed release attributes, clears the dirty flag
// and stamps indexed_at.
func (s *TorrentStore) SetClassification(ctx context.Context, hash string, c Classification) error {
	now := s.now().UTC()

	var year *int
	if c.Year > 0 {
		year = &c.Year
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE torrents
		SET release_type = ?, release_group = ?, resolution = ?, canonical_title = ?, year = ?,
			dirty = 0, indexed_at = ?
		WHERE info_hash = ?`,
		c.Type, nullIfEmpty(c.Group), nullIfEmpty(c.Resolution), c.Title, year, now, hash)
	if err != nil {
		return fmt.Errorf("failed to store classification for %s: %w", hash, err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrTorrentNotFound
	}
	return nil
}

// AttachEnrichment links the torrent to the canonical enrichment record for
// rec's external id, creating that record if it does not exist yet. The lookup,
// create and attach happen in one transaction so concurrent enrichment of two
// torrents matching the same external id cannot produce duplicate records.
func (s *TorrentStore) AttachEnrichment(ctx context.Context, hash string, rec EnrichmentUpsert) (*EnrichmentRecord, error) {
	now := s.now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	record, err := getOrCreateEnrichment(ctx, tx, rec, now)
	if err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE torrents SET enrichment_id = ?, dirty = 0, enriched_at = ? WHERE info_hash = ?`,
		record.ID, now, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to attach enrichment to %s: %w", hash, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, ErrTorrentNotFound
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit enrichment attach: %w", err)
	}

	return record, nil
}

// MarkEnrichedWithoutData stamps enriched_at without attaching a record, so
// rows that can never be enriched stop cycling through the enrichment queue.
func (s *TorrentStore) MarkEnrichedWithoutData(ctx context.Context, hash string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE torrents SET enriched_at = ? WHERE info_hash = ?", s.now().UTC(), hash)
	if err != nil {
		return fmt.Errorf("failed to mark %s enriched without data: %w", hash, err)
	}
	return nil
}

// DeleteByHashes removes rows whose hash landed on the blacklist.
func (s *TorrentStore) DeleteByHashes(ctx context.Context, hashes []string) (int64, error) {
	if len(hashes) == 0 {
		return 0, nil
	}

	var total int64
	chunkSize := dbinterface.ChunkSize(1)
	for start := 0; start < len(hashes); start += chunkSize {
		end := min(start+chunkSize, len(hashes))
		clause, args := dbinterface.InClause(hashes[start:end])

		res, err := s.db.ExecContext(ctx, "DELETE FROM torrents WHERE info_hash IN ("+clause+")", args...)
		if err != nil {
			return total, fmt.Errorf("failed to purge blacklisted torrents: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil {
			total += n
		}
	}
	return total, nil
}

// Count returns the number of stored torrents.
func (s *TorrentStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM torrents").Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// TorrentRows is a server-side cursor over the full torrent table.
type TorrentRows struct {
	rows *sql.Rows
}

func (r *TorrentRows) Next() bool   { return r.rows.Next() }
func (r *TorrentRows) Err() error   { return r.rows.Err() }
func (r *TorrentRows) Close() error { return r.rows.Close() }

func (r *TorrentRows) Torrent() (*Torrent, error) {
	return scanTorrent(r.rows)
}

// Stream opens a cursor over every torrent left-joined with its enrichment.
// Callers must Close it.
func (s *TorrentStore) Stream(ctx context.Context) (*TorrentRows, error) {
	query := `SELECT ` + torrentColumns + `, ` + enrichmentJoinColumns + `
		FROM torrents t
		LEFT JOIN enrichments e ON e.id = t.enrichment_id
		ORDER BY t.info_hash`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to stream torrents: %w", err)
	}
	return &TorrentRows{rows: rows}, nil
}

// BulkMarkIndexed clears the dirty flag and stamps indexed_at on every row
// still dirty or never indexed. Used after a full reindex to catch rows the
// stream snapshot raced with.
func (s *TorrentStore) BulkMarkIndexed(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE torrents SET dirty = 0, indexed_at = ? WHERE dirty = 1 OR indexed_at IS NULL", s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to bulk mark indexed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTorrent(row rowScanner) (*Torrent, error) {
	var (
		t           Torrent
		size        int64
		filesJSON   string
		sourcesJSON string
		e           enrichmentScan
	)

	err := row.Scan(
		&t.InfoHash, &t.Title, &size, &t.Seeders, &t.Leechers, &t.MagnetURI,
		&filesJSON, &sourcesJSON, &t.Dirty, &t.EnrichmentID,
		&t.ReleaseType, &t.ReleaseGroup, &t.Resolution, &t.CanonicalTitle, &t.Year,
		&t.CreatedAt, &t.LastSeenAt, &t.IndexedAt, &t.EnrichedAt,
		&e.id, &e.provider, &e.externalID, &e.title, &e.overview, &e.releaseDate,
		&e.year, &e.runtime, &e.genres, &e.posterPath, &e.backdropPath,
		&e.seasonCount, &e.episodeCount, &e.status,
	)
	if err != nil {
		return nil, err
	}

	t.Size = uint64(size)

	if err := json.Unmarshal([]byte(filesJSON), &t.Files); err != nil {
		return nil, fmt.Errorf("failed to decode files for %s: %w", t.InfoHash, err)
	}
	if err := json.Unmarshal([]byte(sourcesJSON), &t.Sources); err != nil {
		return nil, fmt.Errorf("failed to decode sources for %s: %w", t.InfoHash, err)
	}

	record, err := e.record()
	if err != nil {
		return nil, err
	}
	t.Enrichment = record

	return &t, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
