// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metadata

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/dredger/internal/domain"
)

func tmdbTestServer(t *testing.T, searchResults []tmdbSearchResult, details tmdbDetails) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/search/movie", "/search/tv":
			require.NotEmpty(t, r.URL.Query().Get("api_key"))
			json.NewEncoder(w).Encode(tmdbSearchResponse{Results: searchResults})
		default:
			json.NewEncoder(w).Encode(details)
		}
	}))
}

func TestTMDBFindMovie(t *testing.T) {
	srv := tmdbTestServer(t,
		[]tmdbSearchResult{{ID: 603, Title: "The Matrix"}},
		tmdbDetails{
			ID:           603,
			Title:        "The Matrix",
			Overview:     "A computer hacker learns the truth.",
			ReleaseDate:  "1999-03-31",
			Runtime:      136,
			Genres:       []struct{ Name string `json:"name"` }{{Name: "Action"}, {Name: "Science Fiction"}},
			PosterPath:   "/matrix.jpg",
			BackdropPath: "/matrix-backdrop.jpg",
			Status:       "Released",
		})
	defer srv.Close()

	client := NewTMDBClient(TMDBConfig{
		APIKey:  "test-key",
		BaseURL: srv.URL,
		Limiter: NewRateLimiter(10, 1000),
	})

	year := 1999
	meta, err := client.Find(context.Background(), "The Matrix", &year, domain.ContentTypeMovie)
	require.NoError(t, err)
	require.NotNil(t, meta)

	assert.Equal(t, "tmdb", meta.Provider)
	assert.Equal(t, "603", meta.ExternalID)
	assert.Equal(t, "The Matrix", meta.Title)
	assert.Equal(t, "1999-03-31", meta.ReleaseDate)
	require.NotNil(t, meta.Year)
	assert.Equal(t, 1999, *meta.Year)
	require.NotNil(t, meta.Runtime)
	assert.Equal(t, 136, *meta.Runtime)
	assert.Equal(t, []string{"Action", "Science Fiction"}, meta.Genres)
	assert.Nil(t, meta.SeasonCount, "movies carry no series fields")
}

func TestTMDBFindTVSeries(t *testing.T) {
	srv := tmdbTestServer(t,
		[]tmdbSearchResult{{ID: 1396, Name: "Breaking Bad"}},
		tmdbDetails{
			ID:               1396,
			Name:             "Breaking Bad",
			FirstAirDate:     "2008-01-20",
			EpisodeRunTime:   []int{45},
			NumberOfSeasons:  5,
			NumberOfEpisodes: 62,
			Status:           "Ended",
		})
	defer srv.Close()

	client := NewTMDBClient(TMDBConfig{
		APIKey:  "test-key",
		BaseURL: srv.URL,
		Limiter: NewRateLimiter(10, 1000),
	})

	meta, err := client.Find(context.Background(), "Breaking Bad", nil, domain.ContentTypeTV)
	require.NoError(t, err)
	require.NotNil(t, meta)

	assert.Equal(t, "Breaking Bad", meta.Title, "TV titles come from the name field")
	require.NotNil(t, meta.Year)
	assert.Equal(t, 2008, *meta.Year)
	require.NotNil(t, meta.Runtime)
	assert.Equal(t, 45, *meta.Runtime)
	require.NotNil(t, meta.SeasonCount)
	assert.Equal(t, 5, *meta.SeasonCount)
	require.NotNil(t, meta.EpisodeCount)
	assert.Equal(t, 62, *meta.EpisodeCount)
}

func TestTMDBFindRejectsDissimilarTopResult(t *testing.T) {
	srv := tmdbTestServer(t,
		[]tmdbSearchResult{{ID: 1, Title: "Something Completely Different"}},
		tmdbDetails{ID: 1})
	defer srv.Close()

	client := NewTMDBClient(TMDBConfig{
		APIKey:  "test-key",
		BaseURL: srv.URL,
		Limiter: NewRateLimiter(10, 1000),
	})

	meta, err := client.Find(context.Background(), "The Matrix", nil, domain.ContentTypeMovie)
	require.NoError(t, err)
	assert.Nil(t, meta, "a weak top result must be rejected, not guessed at")
}

func TestTMDBFindNoResults(t *testing.T) {
	srv := tmdbTestServer(t, nil, tmdbDetails{})
	defer srv.Close()

	client := NewTMDBClient(TMDBConfig{
		APIKey:  "test-key",
		BaseURL: srv.URL,
		Limiter: NewRateLimiter(10, 1000),
	})

	meta, err := client.Find(context.Background(), "No Such Film", nil, domain.ContentTypeMovie)
	require.NoError(t, err)
	assert.Nil(t, meta)
}

func TestTMDBFindServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewTMDBClient(TMDBConfig{
		APIKey:  "test-key",
		BaseURL: srv.URL,
		Limiter: NewRateLimiter(10, 1000),
	})

	_, err := client.Find(context.Background(), "Anything", nil, domain.ContentTypeMovie)
	require.Error(t, err)

	var provErr *ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, "tmdb", provErr.Provider)
}

func TestTMDBAssetURL(t *testing.T) {
	tests := []struct {
		name         string
		imageBaseURL string
		path         string
		kind         AssetKind
		want         string
		wantErr      bool
	}{
		{
			name:         "poster",
			imageBaseURL: "https://image.tmdb.org/t/p",
			path:         "/poster.jpg",
			kind:         AssetPoster,
			want:         "https://image.tmdb.org/t/p/w500/poster.jpg",
		},
		{
			name:         "backdrop",
			imageBaseURL: "https://image.tmdb.org/t/p",
			path:         "/backdrop.jpg",
			kind:         AssetBackdrop,
			want:         "https://image.tmdb.org/t/p/w1280/backdrop.jpg",
		},
		{
			name:         "empty path",
			imageBaseURL: "https://image.tmdb.org/t/p",
			path:         "",
			kind:         AssetPoster,
			want:         "",
		},
		{
			name:    "missing base URL",
			path:    "/poster.jpg",
			kind:    AssetPoster,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewTMDBClient(TMDBConfig{
				APIKey:       "test-key",
				ImageBaseURL: tt.imageBaseURL,
			})

			got, err := client.AssetURL(tt.path, tt.kind)
			if tt.wantErr {
				var confErr *ConfigurationError
				require.ErrorAs(t, err, &confErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
