// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package indexer

import (
	"context"
	"time"

	"github.com/avast/retry-go"
	"github.com/meilisearch/meilisearch-go"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// MeiliPublisher publishes documents to one Meilisearch index, upserting by
// info-hash. Transient publish failures are retried a few times here; anything
// that still fails is re-buffered by the BatchIndexer.
type MeiliPublisher struct {
	client    *meilisearch.Client
	indexName string
}

func NewMeiliPublisher(host, apiKey, indexName string) *MeiliPublisher {
	client := meilisearch.NewClient(meilisearch.ClientConfig{
		Host:   host,
		APIKey: apiKey,
	})

	return &MeiliPublisher{
		client:    client,
		indexName: indexName,
	}
}

// EnsureIndex configures the index attributes used for filtering and sorting.
// Safe to call on every startup; Meilisearch treats it as an upsert.
func (p *MeiliPublisher) EnsureIndex(ctx context.Context) error {
	settings := &meilisearch.Settings{
		SearchableAttributes: []string{
			"title", "canonicalTitle", "enrichment.title", "enrichment.overview",
		},
		FilterableAttributes: []string{
			"releaseType", "resolution", "year", "sourceNames",
			"enrichment.genres", "enrichment.provider",
		},
		SortableAttributes: []string{
			"seeders", "lastSeenAt", "createdAt", "year",
		},
	}

	if _, err := p.client.Index(p.indexName).UpdateSettings(settings); err != nil {
		return errors.Wrapf(err, "failed to configure index %s", p.indexName)
	}

	log.Debug().Str("index", p.indexName).Msg("Search index settings applied")
	return nil
}

func (p *MeiliPublisher) Publish(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	err := retry.Do(
		func() error {
			_, err := p.client.Index(p.indexName).AddDocuments(docs, "infoHash")
			return err
		},
		retry.Attempts(3),
		retry.Delay(500*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return ctx.Err() == nil
		}),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to publish %d documents to index %s", len(docs), p.indexName)
	}
	return nil
}

// Search passes a query through to the index. This is the seam the API layer
// consumes; the pipeline itself only writes.
func (p *MeiliPublisher) Search(query string, req *meilisearch.SearchRequest) (*meilisearch.SearchResponse, error) {
	res, err := p.client.Index(p.indexName).Search(query, req)
	if err != nil {
		return nil, errors.Wrapf(err, "search failed on index %s", p.indexName)
	}
	return res, nil
}
