// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/meilisearch/meilisearch-go"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/autobrr/dredger/internal/buildinfo"
	"github.com/autobrr/dredger/internal/config"
	"github.com/autobrr/dredger/internal/database"
	"github.com/autobrr/dredger/internal/indexer"
	"github.com/autobrr/dredger/internal/metadata"
	"github.com/autobrr/dredger/internal/metrics"
	"github.com/autobrr/dredger/internal/models"
	"github.com/autobrr/dredger/internal/queue"
	"github.com/autobrr/dredger/internal/services/classify"
	"github.com/autobrr/dredger/internal/services/enrich"
	"github.com/autobrr/dredger/internal/services/ingest"
	"github.com/autobrr/dredger/internal/services/reindex"
)

func main() {
	config.InitDefaultLogger(buildinfo.Version)

	var rootCmd = &cobra.Command{
		Use:   "dredger",
		Short: "Torrent ingestion and search indexing pipeline",
		Long: `dredger - ingests scraped torrent records, classifies and enriches
them with external metadata, and publishes them to a Meilisearch index.`,
	}

	rootCmd.Version = buildinfo.Version

	rootCmd.AddCommand(RunServeCommand())
	rootCmd.AddCommand(RunVersionCommand(buildinfo.Version))
	rootCmd.AddCommand(RunGenerateConfigCommand())
	rootCmd.AddCommand(RunIngestCommand())
	rootCmd.AddCommand(RunReindexCommand())
	rootCmd.AddCommand(RunSearchCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func RunServeCommand() *cobra.Command {
	var (
		configDir string
		dataDir   string
		logPath   string
	)

	var command = &cobra.Command{
		Use:   "serve",
		Short: "Start the pipeline workers",
	}

	command.Flags().StringVar(&configDir, "config-dir", "", "config directory path (default is OS-specific: ~/.config/dredger/). Can also be a direct path to a .toml file")
	command.Flags().StringVar(&dataDir, "data-dir", "", "data directory for the database (default is next to config file)")
	command.Flags().StringVar(&logPath, "log-path", "", "log file path (default is stdout)")

	command.Run = func(cmd *cobra.Command, args []string) {
		app := NewApplication(configDir, dataDir, logPath)
		app.runServer()
	}

	return command
}

func RunVersionCommand(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dredger",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
}

func RunGenerateConfigCommand() *cobra.Command {
	var configDir string

	command := &cobra.Command{
		Use:   "generate-config",
		Short: "Generate a default configuration file",
		Long: `Generate a default configuration file without starting the pipeline.

If no --config-dir is specified, uses the OS-specific default location:
- Linux/macOS: ~/.config/dredger/config.toml
- Windows: %APPDATA%\dredger\config.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var configPath string
			if configDir != "" {
				if strings.HasSuffix(strings.ToLower(configDir), ".toml") {
					configPath = configDir
				} else if info, err := os.Stat(configDir); err == nil && !info.IsDir() {
					configPath = configDir
				} else {
					configPath = filepath.Join(configDir, "config.toml")
				}
			} else {
				configPath = filepath.Join(config.GetDefaultConfigDir(), "config.toml")
			}

			if _, err := os.Stat(configPath); err == nil {
				cmd.Printf("Configuration file already exists at: %s\n", configPath)
				cmd.Println("Skipping generation to avoid overwriting existing configuration.")
				return nil
			}

			if err := config.WriteDefaultConfig(configPath); err != nil {
				return fmt.Errorf("failed to create configuration file: %w", err)
			}

			cmd.Printf("Configuration file created successfully at: %s\n", configPath)
			return nil
		},
	}

	command.Flags().StringVar(&configDir, "config-dir", "",
		"config directory or file path (defaults to OS-specific location)")

	return command
}

func RunIngestCommand() *cobra.Command {
	var (
		configDir string
		dataDir   string
		scraper   string
		file      string
	)

	command := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest a JSON batch of scraped torrents",
		Long: `Ingest a scrape batch from a JSON file (or stdin with -) and enqueue
classification for every accepted record. A serve process must be running for
the queued work to be processed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if scraper == "" {
				return fmt.Errorf("--scraper is required")
			}

			var (
				data []byte
				err  error
			)
			if file == "-" {
				data, err = io.ReadAll(os.Stdin)
			} else {
				data, err = os.ReadFile(file)
			}
			if err != nil {
				return fmt.Errorf("failed to read batch file: %w", err)
			}

			var batch []ingest.ScrapedTorrent
			if err := json.Unmarshal(data, &batch); err != nil {
				return fmt.Errorf("failed to decode batch file: %w", err)
			}

			cfg, err := config.New(configDir, buildinfo.Version)
			if err != nil {
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}
			if dataDir != "" {
				cfg.SetDataDir(dataDir)
			}
			cfg.ApplyLogConfig()

			db, err := database.New(cfg.GetDatabasePath())
			if err != nil {
				return fmt.Errorf("failed to initialize database: %w", err)
			}
			defer db.Close()

			queueClient := queue.NewClient(redisOpts(cfg))
			defer queueClient.Close()

			service := ingest.NewService(
				models.NewTorrentStore(db.Conn()),
				models.NewBlacklistStore(db.Conn()),
				queueClient,
				metrics.New(),
			)

			result, err := service.IngestBatch(cmd.Context(), scraper, batch)
			if err != nil {
				return err
			}

			cmd.Printf("Accepted %d, dropped %d, purged %d\n", result.Accepted, result.Dropped, result.Purged)
			return nil
		},
	}

	command.Flags().StringVar(&configDir, "config-dir", "",
		"config directory or file path (defaults to OS-specific location)")
	command.Flags().StringVar(&dataDir, "data-dir", "",
		"data directory path (defaults to next to config file)")
	command.Flags().StringVar(&scraper, "scraper", "",
		"identifier of the scraper that produced the batch (required)")
	command.Flags().StringVar(&file, "file", "-",
		"path to the JSON batch file, - for stdin")

	return command
}

func RunReindexCommand() *cobra.Command {
	var configDir string

	command := &cobra.Command{
		Use:   "reindex",
		Short: "Enqueue a full search index rebuild",
		Long: `Enqueue a full rebuild of the search index from the database. The rebuild
runs on a serve process; only one rebuild can be queued or running at a time.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.New(configDir, buildinfo.Version)
			if err != nil {
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}
			cfg.ApplyLogConfig()

			queueClient := queue.NewClient(redisOpts(cfg))
			defer queueClient.Close()

			if err := queueClient.EnqueueReindex(cmd.Context()); err != nil {
				if errors.Is(err, queue.ErrReindexRunning) {
					cmd.Println("A reindex is already queued or running.")
					return nil
				}
				return err
			}

			cmd.Println("Reindex enqueued.")
			return nil
		},
	}

	command.Flags().StringVar(&configDir, "config-dir", "",
		"config directory or file path (defaults to OS-specific location)")

	return command
}

func RunSearchCommand() *cobra.Command {
	var (
		configDir string
		limit     int64
	)

	command := &cobra.Command{
		Use:   "search [query]",
		Short: "Query the search index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.New(configDir, buildinfo.Version)
			if err != nil {
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}
			cfg.ApplyLogConfig()

			publisher := indexer.NewMeiliPublisher(
				cfg.Config.MeilisearchURL,
				cfg.Config.MeilisearchAPIKey,
				cfg.Config.MeilisearchIndex,
			)

			res, err := publisher.Search(args[0], &meilisearch.SearchRequest{Limit: limit})
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(res.Hits, "", "  ")
			if err != nil {
				return err
			}
			cmd.Println(string(out))
			return nil
		},
	}

	command.Flags().StringVar(&configDir, "config-dir", "",
		"config directory or file path (defaults to OS-specific location)")
	command.Flags().Int64Var(&limit, "limit", 20, "maximum number of hits to print")

	return command
}

type Application struct {
	configDir string
	dataDir   string
	logPath   string
}

func NewApplication(configDir, dataDir, logPath string) *Application {
	return &Application{
		configDir: configDir,
		dataDir:   dataDir,
		logPath:   logPath,
	}
}

func (app *Application) runServer() {
	cfg, err := config.New(app.configDir, buildinfo.Version)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize configuration")
	}

	// Override with CLI flags if provided
	if app.dataDir != "" {
		os.Setenv("DREDGER__DATA_DIR", app.dataDir)
		cfg.SetDataDir(app.dataDir)
	}
	if app.logPath != "" {
		os.Setenv("DREDGER__LOG_PATH", app.logPath)
		cfg.Config.LogPath = app.logPath
	}

	cfg.ApplyLogConfig()

	log.Info().Str("version", buildinfo.Version).Msg("Starting dredger")

	db, err := database.New(cfg.GetDatabasePath())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	torrentStore := models.NewTorrentStore(db.Conn())
	enrichmentStore := models.NewEnrichmentStore(db.Conn())

	if torrents, err := torrentStore.Count(context.Background()); err == nil {
		enrichments, _ := enrichmentStore.Count(context.Background())
		log.Info().Int64("torrents", torrents).Int64("enrichments", enrichments).Msg("Database opened")
	}

	m := metrics.New()

	publisher := indexer.NewMeiliPublisher(
		cfg.Config.MeilisearchURL,
		cfg.Config.MeilisearchAPIKey,
		cfg.Config.MeilisearchIndex,
	)
	if err := publisher.EnsureIndex(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("Failed to configure search index")
	}

	// the steady indexer absorbs the per-torrent pipeline stages; the reindex
	// indexer uses much larger batches for bulk rebuilds
	steadyIndexer := indexer.NewBatchIndexer(publisher, m, indexer.Options{
		BatchSize:     cfg.Config.IndexBatchSize,
		FlushInterval: time.Duration(cfg.Config.IndexFlushInterval) * time.Second,
	})
	reindexIndexer := indexer.NewBatchIndexer(publisher, m, indexer.Options{
		BatchSize:     cfg.Config.ReindexBatchSize,
		FlushInterval: 30 * time.Second,
	})

	registry := metadata.NewRegistry()
	if cfg.Config.TMDBAPIKey != "" {
		tmdb := metadata.NewTMDBClient(metadata.TMDBConfig{
			APIKey:       cfg.Config.TMDBAPIKey,
			BaseURL:      cfg.Config.TMDBBaseURL,
			ImageBaseURL: cfg.Config.TMDBImageBaseURL,
			Limiter:      metadata.NewRateLimiter(cfg.Config.TMDBRateBurst, cfg.Config.TMDBRateLimit),
		})
		registry.Register(tmdb, cfg.Config.TMDBPriority, cfg.Config.TMDBEnabled)
	} else {
		log.Warn().Msg("No TMDB API key configured, TMDB enrichment disabled")
	}
	registry.Register(metadata.NewAniListClient(metadata.AniListConfig{
		URL: cfg.Config.AniListURL,
	}), cfg.Config.AniListPriority, cfg.Config.AniListEnabled)

	redis := redisOpts(cfg)
	queueClient := queue.NewClient(redis)
	defer queueClient.Close()

	classifyService := classify.NewService(torrentStore, steadyIndexer, queueClient, m,
		time.Duration(cfg.Config.EnrichDelay)*time.Second)
	enrichService := enrich.NewService(torrentStore, registry, steadyIndexer, m)
	reindexService := reindex.NewService(torrentStore, reindexIndexer, m)

	workers := queue.NewWorkers(redis, queue.WorkerConfig{
		ClassifyConcurrency: cfg.Config.ClassifyConcurrency,
		EnrichConcurrency:   cfg.Config.EnrichConcurrency,
	})
	if err := workers.Start(queue.Handlers{
		Classify: classifyService,
		Enrich:   enrichService,
		Reindex:  reindexService,
	}); err != nil {
		log.Fatal().Err(err).Msg("Failed to start queue workers")
	}

	var metricsServer *metrics.Server
	if cfg.Config.MetricsEnabled {
		metricsServer = metrics.NewServer(cfg.Config.MetricsHost, cfg.Config.MetricsPort)
		metricsServer.Start()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)

	sig := <-sigCh
	log.Info().Msgf("got signal %v, shutting down", sig.String())

	workers.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// flush whatever the workers buffered before they stopped
	if err := steadyIndexer.Close(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to close indexer")
	}
	if err := reindexIndexer.Close(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to close reindex indexer")
	}

	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("Failed to shut down metrics server")
		}
	}

	os.Exit(0)
}

func redisOpts(cfg *config.AppConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Config.RedisAddr,
		Password: cfg.Config.RedisPassword,
		DB:       cfg.Config.RedisDB,
	}
}
