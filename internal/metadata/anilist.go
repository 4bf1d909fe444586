// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metadata

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/dredger/internal/buildinfo"
	"github.com/autobrr/dredger/internal/domain"
)

// anilistQuery fetches the single best match in one round trip; AniList
// returns full details on the search result, so no follow-up call is needed.
const anilistQuery = `query ($search: String, $seasonYear: Int, $formats: [MediaFormat]) {
  Media(search: $search, seasonYear: $seasonYear, format_in: $formats, type: ANIME) {
    id
    title { romaji english native }
    description
    startDate { year month day }
    duration
    episodes
    genres
    coverImage { extraLarge }
    bannerImage
    status
  }
}`

// AniListClient resolves anime titles against the AniList catalogue.
type AniListClient struct {
	url        string
	httpClient *http.Client
}

type AniListConfig struct {
	URL     string
	Timeout time.Duration
}

func NewAniListClient(cfg AniListConfig) *AniListClient {
	if cfg.URL == "" {
		cfg.URL = "https://graphql.anilist.co"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &AniListClient{
		url:        cfg.URL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *AniListClient) Name() string {
	return "anilist"
}

func (c *AniListClient) SupportedTypes() []domain.ContentType {
	return []domain.ContentType{domain.ContentTypeAnime, domain.ContentTypeTV, domain.ContentTypeMovie}
}

type anilistMedia struct {
	ID    int64 `json:"id"`
	Title struct {
		Romaji  string `json:"romaji"`
		English string `json:"english"`
		Native  string `json:"native"`
	} `json:"title"`
	Description string `json:"description"`
	StartDate   struct {
		Year  int `json:"year"`
		Month int `json:"month"`
		Day   int `json:"day"`
	} `json:"startDate"`
	Duration   int      `json:"duration"`
	Episodes   int      `json:"episodes"`
	Genres     []string `json:"genres"`
	CoverImage struct {
		ExtraLarge string `json:"extraLarge"`
	} `json:"coverImage"`
	BannerImage string `json:"bannerImage"`
	Status      string `json:"status"`
}

type anilistResponse struct {
	Data struct {
		Media *anilistMedia `json:"Media"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
		Status  int    `json:"status"`
	} `json:"errors"`
}

func (c *AniListClient) Find(ctx context.Context, title string, year *int, contentType domain.ContentType) (*Metadata, error) {
	variables := map[string]any{
		"search": title,
	}
	if year != nil {
		variables["seasonYear"] = *year
	}
	if contentType == domain.ContentTypeMovie {
		variables["formats"] = []string{"MOVIE"}
	} else {
		variables["formats"] = []string{"TV", "TV_SHORT", "OVA", "ONA", "SPECIAL"}
	}

	body, err := json.Marshal(map[string]any{
		"query":     anilistQuery,
		"variables": variables,
	})
	if err != nil {
		return nil, &ProviderError{Provider: c.Name(), Op: "marshal query", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, &ProviderError{Provider: c.Name(), Op: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", buildinfo.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &ProviderError{Provider: c.Name(), Op: "POST", Err: err}
	}
	defer resp.Body.Close()

	// AniList reports "no match" as a GraphQL 404 error with HTTP 404
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &ProviderError{Provider: c.Name(), Op: "POST", Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	var result anilistResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &ProviderError{Provider: c.Name(), Op: "decode response", Err: err}
	}

	media := result.Data.Media
	if media == nil {
		return nil, nil
	}

	similarity := bestSimilarity(title, media.Title.Romaji, media.Title.English, media.Title.Native)
	if similarity < similarityThreshold {
		log.Debug().
			Str("provider", c.Name()).
			Str("query", title).
			Float64("similarity", similarity).
			Msg("Rejecting candidate below similarity threshold")
		return nil, nil
	}

	return c.mapMedia(media), nil
}

func (c *AniListClient) mapMedia(media *anilistMedia) *Metadata {
	m := &Metadata{
		Provider:     c.Name(),
		ExternalID:   strconv.FormatInt(media.ID, 10),
		Title:        media.Title.Romaji,
		Overview:     stripMarkup(media.Description),
		Genres:       media.Genres,
		PosterPath:   media.CoverImage.ExtraLarge,
		BackdropPath: media.BannerImage,
		Status:       media.Status,
	}

	if media.Title.English != "" {
		m.Title = media.Title.English
	}

	if media.StartDate.Year > 0 {
		year := media.StartDate.Year
		m.Year = &year
		if media.StartDate.Month > 0 && media.StartDate.Day > 0 {
			m.ReleaseDate = fmt.Sprintf("%04d-%02d-%02d", year, media.StartDate.Month, media.StartDate.Day)
		} else {
			m.ReleaseDate = fmt.Sprintf("%04d", year)
		}
	}

	if media.Duration > 0 {
		runtime := media.Duration
		m.Runtime = &runtime
	}
	if media.Episodes > 0 {
		episodes := media.Episodes
		m.EpisodeCount = &episodes
	}

	return m
}

// AssetURL is a pass-through: AniList returns fully-qualified image URLs.
func (c *AniListClient) AssetURL(path string, kind AssetKind) (string, error) {
	return path, nil
}
