// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Metrics aggregates the pipeline counters shared across stages.
type Metrics struct {
	IngestedTotal         prometheus.Counter
	BlacklistDroppedTotal prometheus.Counter
	BatchesRejectedTotal  prometheus.Counter

	ClassifiedTotal     prometheus.Counter
	ClassifyFailedTotal prometheus.Counter

	EnrichedTotal      *prometheus.CounterVec
	EnrichNoMatchTotal prometheus.Counter

	IndexedDocsTotal   prometheus.Counter
	FlushFailuresTotal prometheus.Counter
	FlushDuration      prometheus.Histogram

	ReindexRowsTotal prometheus.Counter
}

// New registers the pipeline metrics on the default registerer.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers the pipeline metrics on reg. Tests pass a private
// registry so repeated construction does not panic on double registration.
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		IngestedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "dredger_ingested_torrents_total",
			Help: "Total number of torrent records upserted by ingestion",
		}),
		BlacklistDroppedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "dredger_blacklist_dropped_total",
			Help: "Total number of scrape records dropped by the blacklist filter",
		}),
		BatchesRejectedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "dredger_ingest_batches_rejected_total",
			Help: "Total number of ingestion batches rejected by validation",
		}),
		ClassifiedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "dredger_classified_torrents_total",
			Help: "Total number of torrents successfully classified",
		}),
		ClassifyFailedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "dredger_classify_failures_total",
			Help: "Total number of raw titles the release parser could not handle",
		}),
		EnrichedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dredger_enriched_torrents_total",
			Help: "Total number of torrents enriched, by winning provider",
		}, []string{"provider"}),
		EnrichNoMatchTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "dredger_enrich_no_match_total",
			Help: "Total number of torrents marked processed without enrichment data",
		}),
		IndexedDocsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "dredger_indexed_documents_total",
			Help: "Total number of documents published to the search index",
		}),
		FlushFailuresTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "dredger_index_flush_failures_total",
			Help: "Total number of failed index publish attempts",
		}),
		FlushDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "dredger_index_flush_duration_seconds",
			Help:    "Time spent publishing a batch to the search index",
			Buckets: prometheus.DefBuckets,
		}),
		ReindexRowsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "dredger_reindex_rows_total",
			Help: "Total number of rows streamed by full reindex runs",
		}),
	}
}

// Server exposes /metrics on its own listener, away from any other surface.
type Server struct {
	srv *http.Server
}

func NewServer(host string, port int) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	return &Server{
		srv: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", host, port),
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
}

func (s *Server) Start() {
	go func() {
		log.Info().Str("addr", s.srv.Addr).Msg("Starting metrics server")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Metrics server failed")
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
