// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/dredger/internal/buildinfo"
	"github.com/autobrr/dredger/internal/domain"
)

const (
	tmdbPosterSize   = "w500"
	tmdbBackdropSize = "w1280"
)

// TMDBClient resolves movies and TV shows against the TMDB catalogue. Every
// outbound call goes through the shared rate limiter first.
type TMDBClient struct {
	apiKey       string
	baseURL      string
	imageBaseURL string
	limiter      *RateLimiter
	httpClient   *http.Client
}

type TMDBConfig struct {
	APIKey       string
	BaseURL      string
	ImageBaseURL string
	Limiter      *RateLimiter
	Timeout      time.Duration
}

func NewTMDBClient(cfg TMDBConfig) *TMDBClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.themoviedb.org/3"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Limiter == nil {
		cfg.Limiter = NewRateLimiter(10, 4)
	}

	return &TMDBClient{
		apiKey:       cfg.APIKey,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		imageBaseURL: strings.TrimRight(cfg.ImageBaseURL, "/"),
		limiter:      cfg.Limiter,
		httpClient:   &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *TMDBClient) Name() string {
	return "tmdb"
}

func (c *TMDBClient) SupportedTypes() []domain.ContentType {
	return []domain.ContentType{domain.ContentTypeMovie, domain.ContentTypeTV}
}

type tmdbSearchResult struct {
	ID            int64  `json:"id"`
	Title         string `json:"title"`
	Name          string `json:"name"`
	OriginalTitle string `json:"original_title"`
	OriginalName  string `json:"original_name"`
}

type tmdbSearchResponse struct {
	Results []tmdbSearchResult `json:"results"`
}

type tmdbDetails struct {
	ID             int64  `json:"id"`
	Title          string `json:"title"`
	Name           string `json:"name"`
	Overview       string `json:"overview"`
	ReleaseDate    string `json:"release_date"`
	FirstAirDate   string `json:"first_air_date"`
	Runtime        int    `json:"runtime"`
	EpisodeRunTime []int  `json:"episode_run_time"`
	Genres         []struct {
		Name string `json:"name"`
	} `json:"genres"`
	PosterPath       string `json:"poster_path"`
	BackdropPath     string `json:"backdrop_path"`
	NumberOfSeasons  int    `json:"number_of_seasons"`
	NumberOfEpisodes int    `json:"number_of_episodes"`
	Status           string `json:"status"`
}

// Find searches the catalogue, gates the top result on title similarity and
// maps the full details into the provider-agnostic shape.
func (c *TMDBClient) Find(ctx context.Context, title string, year *int, contentType domain.ContentType) (*Metadata, error) {
	if err := c.limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	endpoint, detailPath := "search/movie", "movie"
	yearParam := "year"
	if contentType == domain.ContentTypeTV {
		endpoint, detailPath = "search/tv", "tv"
		yearParam = "first_air_date_year"
	}

	params := url.Values{}
	params.Set("api_key", c.apiKey)
	params.Set("query", title)
	if year != nil {
		params.Set(yearParam, strconv.Itoa(*year))
	}

	var search tmdbSearchResponse
	if err := c.get(ctx, endpoint, params, &search); err != nil {
		return nil, err
	}

	if len(search.Results) == 0 {
		return nil, nil
	}

	// only the top result is considered; a weak best hit means no match
	best := search.Results[0]
	similarity := bestSimilarity(title, best.Title, best.Name, best.OriginalTitle, best.OriginalName)
	if similarity < similarityThreshold {
		log.Debug().
			Str("provider", c.Name()).
			Str("query", title).
			Float64("similarity", similarity).
			Msg("Rejecting candidate below similarity threshold")
		return nil, nil
	}

	if err := c.limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	detailParams := url.Values{}
	detailParams.Set("api_key", c.apiKey)

	var details tmdbDetails
	if err := c.get(ctx, fmt.Sprintf("%s/%d", detailPath, best.ID), detailParams, &details); err != nil {
		return nil, err
	}

	return c.mapDetails(&details, contentType), nil
}

func (c *TMDBClient) mapDetails(d *tmdbDetails, contentType domain.ContentType) *Metadata {
	m := &Metadata{
		Provider:     c.Name(),
		ExternalID:   strconv.FormatInt(d.ID, 10),
		Title:        d.Title,
		Overview:     stripMarkup(d.Overview),
		PosterPath:   d.PosterPath,
		BackdropPath: d.BackdropPath,
		Status:       d.Status,
	}

	if m.Title == "" {
		m.Title = d.Name
	}

	date := d.ReleaseDate
	if date == "" {
		date = d.FirstAirDate
	}
	m.ReleaseDate, m.Year = splitDate(date)

	if d.Runtime > 0 {
		runtime := d.Runtime
		m.Runtime = &runtime
	} else if len(d.EpisodeRunTime) > 0 && d.EpisodeRunTime[0] > 0 {
		runtime := d.EpisodeRunTime[0]
		m.Runtime = &runtime
	}

	for _, g := range d.Genres {
		m.Genres = append(m.Genres, g.Name)
	}

	if contentType == domain.ContentTypeTV {
		if d.NumberOfSeasons > 0 {
			seasons := d.NumberOfSeasons
			m.SeasonCount = &seasons
		}
		if d.NumberOfEpisodes > 0 {
			episodes := d.NumberOfEpisodes
			m.EpisodeCount = &episodes
		}
	}

	return m
}

// AssetURL builds a fully-qualified image URL sized for the asset kind.
func (c *TMDBClient) AssetURL(path string, kind AssetKind) (string, error) {
	if c.imageBaseURL == "" {
		return "", &ConfigurationError{Provider: c.Name(), Msg: "image base URL is not configured"}
	}
	if path == "" {
		return "", nil
	}

	size := tmdbPosterSize
	if kind == AssetBackdrop {
		size = tmdbBackdropSize
	}

	return c.imageBaseURL + "/" + size + "/" + strings.TrimPrefix(path, "/"), nil
}

func (c *TMDBClient) get(ctx context.Context, path string, params url.Values, out any) error {
	reqURL := c.baseURL + "/" + path + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return &ProviderError{Provider: c.Name(), Op: "build request", Err: err}
	}
	req.Header.Set("User-Agent", buildinfo.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &ProviderError{Provider: c.Name(), Op: "GET " + path, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &ProviderError{Provider: c.Name(), Op: "GET " + path, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &ProviderError{Provider: c.Name(), Op: "decode " + path, Err: err}
	}
	return nil
}
