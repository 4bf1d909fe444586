// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/autobrr/autobrr/pkg/ttlcache"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/autobrr/dredger/internal/metrics"
	"github.com/autobrr/dredger/internal/models"
)

const (
	blacklistCacheTTL = 30 * time.Second

	// enqueueParallelism bounds the classify enqueue fan-out after a large
	// accepted batch
	enqueueParallelism = 8
)

// ValidationError rejects a whole batch; the caller must fix its input
// before retrying.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return "invalid ingest batch: " + e.Msg
}

func (e *ValidationError) Is(target error) bool {
	_, ok := target.(*ValidationError)
	return ok
}

// IngestionError wraps a store failure during the batch transaction. The
// batch either commits fully or not at all, so callers retry the whole batch.
type IngestionError struct {
	Err error
}

func (e *IngestionError) Error() string {
	return "ingestion failed: " + e.Err.Error()
}

func (e *IngestionError) Unwrap() error {
	return e.Err
}

// ScrapedTorrent is one raw record as delivered by a scraper.
type ScrapedTorrent struct {
	InfoHash  string               `json:"infoHash"`
	Title     string               `json:"title"`
	Size      uint64               `json:"size"`
	Seeders   int                  `json:"seeders"`
	Leechers  int                  `json:"leechers"`
	MagnetURI string               `json:"magnetUri"`
	Files     []models.TorrentFile `json:"files"`
	Source    SourceRef            `json:"source"`
}

type SourceRef struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Result summarizes one accepted batch.
type Result struct {
	Accepted   int      `json:"accepted"`
	Dropped    int      `json:"dropped"`
	Purged     int64    `json:"purged"`
	InfoHashes []string `json:"infoHashes"`
}

// Enqueuer schedules downstream classification. Satisfied by *queue.Client.
type Enqueuer interface {
	EnqueueClassify(ctx context.Context, infoHash string) error
}

type blacklistSnapshot struct {
	hashes     map[string]struct{}
	substrings []string
}

// Service validates, filters and upserts scrape batches, then schedules
// classification for every affected row.
type Service struct {
	torrents  *models.TorrentStore
	blacklist *models.BlacklistStore
	queue     Enqueuer
	metrics   *metrics.Metrics

	blacklistCache *ttlcache.Cache[string, blacklistSnapshot]
}

func NewService(torrents *models.TorrentStore, blacklist *models.BlacklistStore, queue Enqueuer, m *metrics.Metrics) *Service {
	cache := ttlcache.New(ttlcache.Options[string, blacklistSnapshot]{}.
		SetDefaultTTL(blacklistCacheTTL))

	return &Service{
		torrents:       torrents,
		blacklist:      blacklist,
		queue:          queue,
		metrics:        m,
		blacklistCache: cache,
	}
}

// IngestBatch processes one scrape batch: dedupe by info-hash (last write
// wins), drop blacklisted records, purge blacklisted hashes that already made
// it into the store, upsert the survivors in one transaction and enqueue
// classification for every affected hash.
func (s *Service) IngestBatch(ctx context.Context, scraper string, batch []ScrapedTorrent) (*Result, error) {
	scraper = strings.TrimSpace(scraper)
	if scraper == "" {
		s.metrics.BatchesRejectedTotal.Inc()
		return nil, &ValidationError{Msg: "scraper identifier is required"}
	}
	if len(batch) == 0 {
		s.metrics.BatchesRejectedTotal.Inc()
		return nil, &ValidationError{Msg: "batch is empty"}
	}

	records, err := s.normalize(scraper, batch)
	if err != nil {
		s.metrics.BatchesRejectedTotal.Inc()
		return nil, err
	}

	snapshot, err := s.blacklistSets(ctx)
	if err != nil {
		return nil, &IngestionError{Err: err}
	}

	survivors, blocked := partition(records, snapshot)

	result := &Result{Dropped: len(records) - len(survivors)}

	if len(blocked) > 0 {
		purged, err := s.torrents.DeleteByHashes(ctx, blocked)
		if err != nil {
			return nil, &IngestionError{Err: err}
		}
		result.Purged = purged
	}

	if len(survivors) > 0 {
		hashes, err := s.torrents.UpsertBatch(ctx, survivors)
		if err != nil {
			return nil, &IngestionError{Err: err}
		}
		result.Accepted = len(hashes)
		result.InfoHashes = hashes
	}

	s.metrics.IngestedTotal.Add(float64(result.Accepted))
	s.metrics.BlacklistDroppedTotal.Add(float64(result.Dropped))

	// enqueue after the transaction committed; a failed enqueue leaves the
	// row dirty and the next reindex picks it up
	g := errgroup.Group{}
	g.SetLimit(enqueueParallelism)
	for _, hash := range result.InfoHashes {
		g.Go(func() error {
			if err := s.queue.EnqueueClassify(ctx, hash); err != nil {
				log.Error().Err(err).Str("infoHash", hash).Msg("Failed to enqueue classification")
			}
			return nil
		})
	}
	g.Wait()

	log.Debug().
		Str("scraper", scraper).
		Int("accepted", result.Accepted).
		Int("dropped", result.Dropped).
		Int64("purged", result.Purged).
		Msg("Ingested batch")

	return result, nil
}

// normalize validates hashes, stamps the scraper onto each source and
// deduplicates the batch by info-hash, keeping the last occurrence.
func (s *Service) normalize(scraper string, batch []ScrapedTorrent) ([]models.TorrentUpsert, error) {
	byHash := make(map[string]int, len(batch))
	records := make([]models.TorrentUpsert, 0, len(batch))

	for i, raw := range batch {
		hash := strings.ToLower(strings.TrimSpace(raw.InfoHash))
		if !models.ValidInfoHash(hash) {
			return nil, &ValidationError{Msg: fmt.Sprintf("record %d: malformed info-hash %q", i, raw.InfoHash)}
		}
		if strings.TrimSpace(raw.Title) == "" {
			return nil, &ValidationError{Msg: fmt.Sprintf("record %d: title is required", i)}
		}

		record := models.TorrentUpsert{
			InfoHash:  hash,
			Title:     raw.Title,
			Size:      raw.Size,
			Seeders:   raw.Seeders,
			Leechers:  raw.Leechers,
			MagnetURI: raw.MagnetURI,
			Files:     raw.Files,
			Source: models.Source{
				Name:    raw.Source.Name,
				URL:     raw.Source.URL,
				Scraper: scraper,
			},
		}
		if record.Source.Name == "" {
			record.Source.Name = scraper
		}

		if idx, seen := byHash[hash]; seen {
			records[idx] = record
			continue
		}
		byHash[hash] = len(records)
		records = append(records, record)
	}

	return records, nil
}

func (s *Service) blacklistSets(ctx context.Context) (blacklistSnapshot, error) {
	if cached, ok := s.blacklistCache.Get("blacklist"); ok {
		return cached, nil
	}

	hashes, err := s.blacklist.Hashes(ctx)
	if err != nil {
		return blacklistSnapshot{}, err
	}
	substrings, err := s.blacklist.TrackerSubstrings(ctx)
	if err != nil {
		return blacklistSnapshot{}, err
	}

	snapshot := blacklistSnapshot{hashes: hashes, substrings: substrings}
	s.blacklistCache.Set("blacklist", snapshot, ttlcache.DefaultTTL)
	return snapshot, nil
}

// partition splits records into survivors and blocked hashes.
func partition(records []models.TorrentUpsert, snapshot blacklistSnapshot) ([]models.TorrentUpsert, []string) {
	survivors := make([]models.TorrentUpsert, 0, len(records))
	var blocked []string

	for _, r := range records {
		if blacklisted(r, snapshot) {
			blocked = append(blocked, r.InfoHash)
			continue
		}
		survivors = append(survivors, r)
	}
	return survivors, blocked
}

func blacklisted(r models.TorrentUpsert, snapshot blacklistSnapshot) bool {
	if _, ok := snapshot.hashes[r.InfoHash]; ok {
		return true
	}
	for _, sub := range snapshot.substrings {
		if sub == "" {
			continue
		}
		if strings.Contains(r.Source.URL, sub) {
			return true
		}
	}
	return false
}
