// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metadata

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/xrash/smetrics"

	"github.com/autobrr/dredger/internal/domain"
)

// similarityThreshold is the acceptance gate on Jaro-Winkler similarity
// between the query title and a candidate's best title variant. Candidates
// below it are rejected rather than guessed at.
const similarityThreshold = 0.8

type AssetKind string

const (
	AssetPoster   AssetKind = "poster"
	AssetBackdrop AssetKind = "backdrop"
)

// Metadata is the provider-agnostic shape every catalogue maps into.
type Metadata struct {
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

	// Series fields, nil for movies
	SeasonCount  *int
	EpisodeCount *int

	Status string
}

// Provider resolves a title against one external catalogue.
//
// Find returns (nil, nil) when no candidate clears the similarity gate; that
// is a legitimate outcome, not an error. Network and HTTP failures surface as
// *ProviderError.
type Provider interface {
	Name() string
	SupportedTypes() []domain.ContentType
	Find(ctx context.Context, title string, year *int, contentType domain.ContentType) (*Metadata, error)
	AssetURL(path string, kind AssetKind) (string, error)
}

// ProviderError wraps a network or HTTP failure from one catalogue. The
// registry catches it and moves on to the next provider.
type ProviderError struct {
	Provider string
	Op       string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

func (e *ProviderError) Is(target error) bool {
	_, ok := target.(*ProviderError)
	return ok
}

// ConfigurationError reports a provider that is missing required settings,
// e.g. an unset asset base URL.
type ConfigurationError struct {
	Provider string
	Msg      string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("provider %s: %s", e.Provider, e.Msg)
}

func (e *ConfigurationError) Is(target error) bool {
	_, ok := target.(*ConfigurationError)
	return ok
}

// titleSimilarity computes case-insensitive Jaro-Winkler similarity in [0,1].
func titleSimilarity(a, b string) float64 {
	return smetrics.JaroWinkler(strings.ToLower(a), strings.ToLower(b), 0.7, 4)
}

// bestSimilarity returns the highest similarity between the query and any of
// the candidate's title variants. Empty variants are skipped.
func bestSimilarity(query string, variants ...string) float64 {
	best := 0.0
	for _, v := range variants {
		if v == "" {
			continue
		}
		if s := titleSimilarity(query, v); s > best {
			best = s
		}
	}
	return best
}

var markupRe = regexp.MustCompile(`<[^>]*>`)

// stripMarkup removes HTML tags and normalizes the line breaks some
// catalogues embed in overview text.
func stripMarkup(s string) string {
	s = strings.ReplaceAll(s, "<br>", "\n")
	s = strings.ReplaceAll(s, "<br/>", "\n")
	s = strings.ReplaceAll(s, "<br />", "\n")
	s = markupRe.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// splitDate decomposes an ISO date (YYYY-MM-DD) into the date itself and the
// year. Partial or malformed dates yield a nil year.
func splitDate(date string) (string, *int) {
	if len(date) < 4 {
		return date, nil
	}
	var year int
	if _, err := fmt.Sscanf(date[:4], "%d", &year); err != nil || year == 0 {
		return date, nil
	}
	return date, &year
}
