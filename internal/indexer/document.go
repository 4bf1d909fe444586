// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package indexer

import (
	"strconv"

	"github.com/autobrr/dredger/internal/models"
)

// Document is the shape published to the search index, keyed by info-hash.
// Size is serialized as a string because torrent sizes can exceed the safe
// integer range of JSON consumers.
type Document struct {
	InfoHash       string   `json:"infoHash"`
	Title          string   `json:"title"`
	CanonicalTitle string   `json:"canonicalTitle,omitempty"`
	Size           string   `json:"size"`
	Seeders        int      `json:"seeders"`
	Leechers       int      `json:"leechers"`
	MagnetURI      string   `json:"magnetUri,omitempty"`
	ReleaseType    string   `json:"releaseType,omitempty"`
	ReleaseGroup   string   `json:"releaseGroup,omitempty"`
	Resolution     string   `json:"resolution,omitempty"`
	Year           int      `json:"year,omitempty"`
	SourceNames    []string `json:"sourceNames"`
	CreatedAt      int64    `json:"createdAt"`
	LastSeenAt     int64    `json:"lastSeenAt"`

	Enrichment *EnrichmentDoc `json:"enrichment,omitempty"`
}

// EnrichmentDoc flattens the enrichment record under the document's
// enrichment namespace, series fields included.
type EnrichmentDoc struct {
	Provider     string   `json:"provider"`
	ExternalID   string   `json:"externalId"`
	Title        string   `json:"title"`
	Overview     string   `json:"overview,omitempty"`
	ReleaseDate  string   `json:"releaseDate,omitempty"`
	Year         int      `json:"year,omitempty"`
	Runtime      int      `json:"runtime,omitempty"`
	Genres       []string `json:"genres,omitempty"`
	PosterPath   string   `json:"posterPath,omitempty"`
	BackdropPath string   `json:"backdropPath,omitempty"`
	SeasonCount  int      `json:"seasonCount,omitempty"`
	EpisodeCount int      `json:"episodeCount,omitempty"`
	Status       string   `json:"status,omitempty"`
}

// FromTorrent flattens a stored torrent (and its joined enrichment, when
// present) into the indexable document shape.
func FromTorrent(t *models.Torrent) Document {
	doc := Document{
		InfoHash:    t.InfoHash,
		Title:       t.Title,
		Size:        strconv.FormatUint(t.Size, 10),
		Seeders:     t.Seeders,
		Leechers:    t.Leechers,
		MagnetURI:   t.MagnetURI,
		SourceNames: sourceNames(t.Sources),
		CreatedAt:   t.CreatedAt.Unix(),
		LastSeenAt:  t.LastSeenAt.Unix(),
	}

	doc.CanonicalTitle = deref(t.CanonicalTitle)
	doc.ReleaseType = deref(t.ReleaseType)
	doc.ReleaseGroup = deref(t.ReleaseGroup)
	doc.Resolution = deref(t.Resolution)
	if t.Year != nil {
		doc.Year = *t.Year
	}

	if t.Enrichment != nil {
		doc.Enrichment = fromEnrichment(t.Enrichment)
	}

	return doc
}

func fromEnrichment(e *models.EnrichmentRecord) *EnrichmentDoc {
	doc := &EnrichmentDoc{
		Provider:     e.Provider,
		ExternalID:   e.ExternalID,
		Title:        e.Title,
		Overview:     e.Overview,
		ReleaseDate:  e.ReleaseDate,
		Genres:       e.Genres,
		PosterPath:   e.PosterPath,
		BackdropPath: e.BackdropPath,
		Status:       e.Status,
	}

	if e.Year != nil {
		doc.Year = *e.Year
	}
	if e.Runtime != nil {
		doc.Runtime = *e.Runtime
	}
	if e.SeasonCount != nil {
		doc.SeasonCount = *e.SeasonCount
	}
	if e.EpisodeCount != nil {
		doc.EpisodeCount = *e.EpisodeCount
	}

	return doc
}

// sourceNames derives the list of distinct scraper names from the source set.
func sourceNames(sources []models.Source) []string {
	names := make([]string, 0, len(sources))
	seen := make(map[string]struct{}, len(sources))
	for _, s := range sources {
		if _, ok := seen[s.Name]; ok {
			continue
		}
		seen[s.Name] = struct{}{}
		names = append(names, s.Name)
	}
	return names
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
