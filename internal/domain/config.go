// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

type Config struct {
	Version string

	LogLevel      string `mapstructure:"logLevel"`
	LogPath       string `mapstructure:"logPath"`
	LogMaxSize    int    `mapstructure:"logMaxSize"`
	LogMaxBackups int    `mapstructure:"logMaxBackups"`

	DataDir string `mapstructure:"dataDir"`

	MetricsEnabled bool   `mapstructure:"metricsEnabled"`
	MetricsHost    string `mapstructure:"metricsHost"`
	MetricsPort    int    `mapstructure:"metricsPort"`

	RedisAddr     string `mapstructure:"redisAddr"`
	RedisPassword string `mapstructure:"redisPassword"`
	RedisDB       int    `mapstructure:"redisDB"`

	MeilisearchURL    string `mapstructure:"meilisearchUrl"`
	MeilisearchAPIKey string `mapstructure:"meilisearchApiKey"`
	MeilisearchIndex  string `mapstructure:"meilisearchIndex"`

	TMDBEnabled      bool    `mapstructure:"tmdbEnabled"`
	TMDBAPIKey       string  `mapstructure:"tmdbApiKey"`
	TMDBBaseURL      string  `mapstructure:"tmdbBaseUrl"`
	TMDBImageBaseURL string  `mapstructure:"tmdbImageBaseUrl"`
	TMDBPriority     int     `mapstructure:"tmdbPriority"`
	TMDBRateLimit    float64 `mapstructure:"tmdbRateLimit"`
	TMDBRateBurst    int     `mapstructure:"tmdbRateBurst"`

	AniListEnabled  bool   `mapstructure:"anilistEnabled"`
	AniListURL      string `mapstructure:"anilistUrl"`
	AniListPriority int    `mapstructure:"anilistPriority"`

	IndexBatchSize     int `mapstructure:"indexBatchSize"`
	IndexFlushInterval int `mapstructure:"indexFlushInterval"`
	ReindexBatchSize   int `mapstructure:"reindexBatchSize"`

	ClassifyConcurrency int `mapstructure:"classifyConcurrency"`
	EnrichConcurrency   int `mapstructure:"enrichConcurrency"`
	EnrichDelay         int `mapstructure:"enrichDelay"`
}
