// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/autobrr/dredger/internal/domain"
)

var envPrefix = "DREDGER__"

type AppConfig struct {
	Config  *domain.Config
	viper   *viper.Viper
	dataDir string
	version string

	listenersMu sync.RWMutex
	listeners   []func(*domain.Config)
}

func New(configDirOrPath string, versions ...string) (*AppConfig, error) {
	version := "dev"
	if len(versions) > 0 && strings.TrimSpace(versions[0]) != "" {
		version = versions[0]
	}

	c := &AppConfig{
		viper:   viper.New(),
		Config:  &domain.Config{},
		version: version,
	}

	c.defaults()

	if err := c.load(configDirOrPath); err != nil {
		return nil, err
	}

	c.loadFromEnv()

	if err := c.viper.Unmarshal(c.Config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	c.Config.Version = c.version

	c.resolveDataDir()

	c.watchConfig()

	return c, nil
}

func (c *AppConfig) defaults() {
	c.viper.SetDefault("logLevel", "INFO")
	c.viper.SetDefault("logPath", "")
	c.viper.SetDefault("logMaxSize", 50)
	c.viper.SetDefault("logMaxBackups", 3)
	c.viper.SetDefault("dataDir", "") // Empty means auto-detect (next to config file)

	c.viper.SetDefault("metricsEnabled", false)
	c.viper.SetDefault("metricsHost", "127.0.0.1")
	c.viper.SetDefault("metricsPort", 9094)

	c.viper.SetDefault("redisAddr", "localhost:6379")
	c.viper.SetDefault("redisPassword", "")
	c.viper.SetDefault("redisDB", 0)

	c.viper.SetDefault("meilisearchUrl", "http://localhost:7700")
	c.viper.SetDefault("meilisearchApiKey", "")
	c.viper.SetDefault("meilisearchIndex", "torrents")

	c.viper.SetDefault("tmdbEnabled", true)
	c.viper.SetDefault("tmdbApiKey", "")
	c.viper.SetDefault("tmdbBaseUrl", "https://api.themoviedb.org/3")
	c.viper.SetDefault("tmdbImageBaseUrl", "https://image.tmdb.org/t/p")
	c.viper.SetDefault("tmdbPriority", 1)
	// TMDB allows roughly 50 req/s; stay well under it
	c.viper.SetDefault("tmdbRateLimit", 4.0)
	c.viper.SetDefault("tmdbRateBurst", 10)

	c.viper.SetDefault("anilistEnabled", true)
	c.viper.SetDefault("anilistUrl", "https://graphql.anilist.co")
	c.viper.SetDefault("anilistPriority", 2)

	c.viper.SetDefault("indexBatchSize", 50)
	c.viper.SetDefault("indexFlushInterval", 3)
	c.viper.SetDefault("reindexBatchSize", 5000)

	c.viper.SetDefault("classifyConcurrency", 10)
	c.viper.SetDefault("enrichConcurrency", 5)
	c.viper.SetDefault("enrichDelay", 10)
}

func (c *AppConfig) load(configDirOrPath string) error {
	c.viper.SetConfigType("toml")

	if configDirOrPath != "" {
		configPath := c.resolveConfigPath(configDirOrPath)
		c.viper.SetConfigFile(configPath)

		if err := c.viper.ReadInConfig(); err != nil {
			// If file doesn't exist, create it
			if _, ok := err.(viper.ConfigFileNotFoundError); ok {
				if err := c.writeDefaultConfig(configPath); err != nil {
					return err
				}
				if err := c.viper.ReadInConfig(); err != nil {
					return fmt.Errorf("failed to read newly created config: %w", err)
				}
				return nil
			}
			return fmt.Errorf("failed to read config: %w", err)
		}
	} else {
		c.viper.SetConfigName("config")
		c.viper.AddConfigPath(".")
		c.viper.AddConfigPath(GetDefaultConfigDir())

		if err := c.viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); ok {
				defaultConfigPath := filepath.Join(GetDefaultConfigDir(), "config.toml")
				if err := c.writeDefaultConfig(defaultConfigPath); err != nil {
					return err
				}
				c.viper.SetConfigFile(defaultConfigPath)
				if err := c.viper.ReadInConfig(); err != nil {
					return fmt.Errorf("failed to read newly created config: %w", err)
				}
				c.dataDir = filepath.Dir(defaultConfigPath)
				return nil
			}
			return fmt.Errorf("failed to read config: %w", err)
		}
	}

	return nil
}

func (c *AppConfig) loadFromEnv() {
	// DO NOT use AutomaticEnv() - it reads ALL env vars and causes conflicts with K8s
	// Instead, explicitly bind only the environment variables we want

	c.viper.BindEnv("logLevel", envPrefix+"LOG_LEVEL")
	c.viper.BindEnv("logPath", envPrefix+"LOG_PATH")
	c.viper.BindEnv("logMaxSize", envPrefix+"LOG_MAX_SIZE")
	c.viper.BindEnv("logMaxBackups", envPrefix+"LOG_MAX_BACKUPS")
	c.viper.BindEnv("dataDir", envPrefix+"DATA_DIR")
	c.viper.BindEnv("metricsEnabled", envPrefix+"METRICS_ENABLED")
	c.viper.BindEnv("metricsHost", envPrefix+"METRICS_HOST")
	c.viper.BindEnv("metricsPort", envPrefix+"METRICS_PORT")

	c.viper.BindEnv("redisAddr", envPrefix+"REDIS_ADDR")
	c.viper.BindEnv("redisPassword", envPrefix+"REDIS_PASSWORD")
	c.viper.BindEnv("redisDB", envPrefix+"REDIS_DB")

	c.viper.BindEnv("meilisearchUrl", envPrefix+"MEILISEARCH_URL")
	c.viper.BindEnv("meilisearchApiKey", envPrefix+"MEILISEARCH_API_KEY")
	c.viper.BindEnv("meilisearchIndex", envPrefix+"MEILISEARCH_INDEX")

	c.viper.BindEnv("tmdbEnabled", envPrefix+"TMDB_ENABLED")
	c.viper.BindEnv("tmdbApiKey", envPrefix+"TMDB_API_KEY")
	c.viper.BindEnv("tmdbBaseUrl", envPrefix+"TMDB_BASE_URL")
	c.viper.BindEnv("tmdbImageBaseUrl", envPrefix+"TMDB_IMAGE_BASE_URL")
	c.viper.BindEnv("tmdbPriority", envPrefix+"TMDB_PRIORITY")
	c.viper.BindEnv("tmdbRateLimit", envPrefix+"TMDB_RATE_LIMIT")
	c.viper.BindEnv("tmdbRateBurst", envPrefix+"TMDB_RATE_BURST")

	c.viper.BindEnv("anilistEnabled", envPrefix+"ANILIST_ENABLED")
	c.viper.BindEnv("anilistUrl", envPrefix+"ANILIST_URL")
	c.viper.BindEnv("anilistPriority", envPrefix+"ANILIST_PRIORITY")

	c.viper.BindEnv("indexBatchSize", envPrefix+"INDEX_BATCH_SIZE")
	c.viper.BindEnv("indexFlushInterval", envPrefix+"INDEX_FLUSH_INTERVAL")
	c.viper.BindEnv("reindexBatchSize", envPrefix+"REINDEX_BATCH_SIZE")

	c.viper.BindEnv("classifyConcurrency", envPrefix+"CLASSIFY_CONCURRENCY")
	c.viper.BindEnv("enrichConcurrency", envPrefix+"ENRICH_CONCURRENCY")
	c.viper.BindEnv("enrichDelay", envPrefix+"ENRICH_DELAY")
}

func (c *AppConfig) watchConfig() {
	c.viper.WatchConfig()
	c.viper.OnConfigChange(func(e fsnotify.Event) {
		log.Info().Msgf("Config file changed: %s", e.Name)

		if err := c.viper.Unmarshal(c.Config); err != nil {
			log.Error().Err(err).Msg("Failed to reload configuration")
			return
		}

		c.applyDynamicChanges()
	})
}

func (c *AppConfig) applyDynamicChanges() {
	c.Config.Version = c.version
	c.ApplyLogConfig()

	c.notifyListeners()
}

// RegisterReloadListener registers a callback that's invoked when the configuration file is reloaded.
func (c *AppConfig) RegisterReloadListener(fn func(*domain.Config)) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	c.listeners = append(c.listeners, fn)
}

func (c *AppConfig) notifyListeners() {
	c.listenersMu.RLock()
	listeners := append([]func(*domain.Config){}, c.listeners...)
	c.listenersMu.RUnlock()

	if len(listeners) == 0 {
		return
	}

	copied := *c.Config
	for _, listener := range listeners {
		listener(&copied)
	}
}

func (c *AppConfig) writeDefaultConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		log.Debug().Msgf("Config file already exists at: %s", path)
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", dir, err)
	}
	log.Debug().Msgf("Created config directory: %s", dir)

	configTemplate := `# config.toml - Auto-generated on first run

# Log file path
# If not defined, logs to stdout
# Optional
#logPath = "log/dredger.log"

# Log level
# Default: "INFO"
# Options: "ERROR", "DEBUG", "INFO", "WARN", "TRACE"
logLevel = "{{ .logLevel }}"

# Log rotation
# Maximum log file size in megabytes before rotation
# Default: {{ .logMaxSize }}
#logMaxSize = {{ .logMaxSize }}

# Number of rotated log files to retain (0 keeps all)
# Default: {{ .logMaxBackups }}
#logMaxBackups = {{ .logMaxBackups }}

# Data directory (default: next to config file)
# Database file (dredger.db) will be created inside this directory
#dataDir = "/var/db/dredger"

# Redis connection for the job queues
# Default: "localhost:6379"
redisAddr = "{{ .redisAddr }}"
#redisPassword = ""
#redisDB = 0

# Meilisearch connection
# Default: "http://localhost:7700"
meilisearchUrl = "{{ .meilisearchUrl }}"
#meilisearchApiKey = ""
#meilisearchIndex = "torrents"

# TMDB metadata provider
# An API key is required; with an empty key the provider is skipped.
#tmdbEnabled = true
tmdbApiKey = ""
#tmdbPriority = 1
#tmdbRateLimit = 4.0
#tmdbRateBurst = 10

# AniList metadata provider (no API key needed)
#anilistEnabled = true
#anilistPriority = 2

# Search index batching
# Default: 50 documents or every 3 seconds, whichever comes first
#indexBatchSize = 50
#indexFlushInterval = 3

# Full reindex streams the store in larger batches
#reindexBatchSize = 5000

# Worker concurrency per queue
#classifyConcurrency = 10
#enrichConcurrency = 5

# Delay (seconds) before enrichment runs after classification, to spread
# provider traffic after a burst ingest
#enrichDelay = 10

# Prometheus Metrics
# Enable Prometheus metrics on a separate port (no authentication)
# Default: false
#metricsEnabled = false
#metricsHost = "127.0.0.1"
#metricsPort = 9094
`

	data := map[string]any{
		"logLevel":       c.viper.GetString("logLevel"),
		"logMaxSize":     c.viper.GetInt("logMaxSize"),
		"logMaxBackups":  c.viper.GetInt("logMaxBackups"),
		"redisAddr":      c.viper.GetString("redisAddr"),
		"meilisearchUrl": c.viper.GetString("meilisearchUrl"),
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return fmt.Errorf("failed to parse config template: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	if err := tmpl.Execute(f, data); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Info().Msgf("Created default config file: %s", path)
	return nil
}

// SetDataDir overrides the resolved data directory, used by CLI flags.
func (c *AppConfig) SetDataDir(dir string) {
	c.dataDir = dir
}

// WriteDefaultConfig generates the default config file at path without
// loading or starting anything else. Used by the generate-config command.
func WriteDefaultConfig(path string) error {
	c := &AppConfig{
		viper:  viper.New(),
		Config: &domain.Config{},
	}
	c.defaults()
	return c.writeDefaultConfig(path)
}

// Helper functions

// GetDefaultConfigDir returns the OS-specific config directory
func GetDefaultConfigDir() string {
	// First check if XDG_CONFIG_HOME is set (Docker containers set this to /config)
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		if xdgConfig == "/config" {
			return xdgConfig
		}
		return filepath.Join(xdgConfig, "dredger")
	}

	switch runtime.GOOS {
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "dredger")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "AppData", "Roaming", "dredger")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "dredger")
	}
}

func (c *AppConfig) ApplyLogConfig() {
	zerolog.TimeFieldFormat = time.RFC3339

	setLogLevel(c.Config.LogLevel)

	writer := c.baseLogWriter()

	if c.Config.LogPath != "" {
		multiWriter, err := setupLogFile(c.Config.LogPath, writer, c.Config.LogMaxSize, c.Config.LogMaxBackups)
		if err != nil {
			log.Error().Err(err).Msg("Failed to setup log file")
		} else {
			writer = multiWriter
		}
	}

	log.Logger = log.Logger.Output(writer)
}

func setLogLevel(level string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Logger.Level(lvl)
}

func setupLogFile(path string, base io.Writer, maxSize, maxBackups int) (io.Writer, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	if maxSize <= 0 {
		maxSize = 50
	}

	if maxBackups < 0 {
		maxBackups = 0
	}

	rotator := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSize,
		MaxBackups: maxBackups,
	}

	return io.MultiWriter(base, rotator), nil
}

func baseLogWriter(version string) io.Writer {
	if isDevBuild(version) {
		writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
		writer.PartsOrder = []string{zerolog.TimestampFieldName, zerolog.LevelFieldName, zerolog.MessageFieldName}
		writer.FormatTimestamp = func(i any) string {
			if i == nil {
				return ""
			}
			return fmt.Sprint(i)
		}
		writer.FormatMessage = func(i any) string {
			if i == nil {
				return ""
			}
			msg := strings.TrimSpace(fmt.Sprint(i))
			if msg == "" {
				return ""
			}
			return msg
		}
		return writer
	}
	return os.Stderr
}

func (c *AppConfig) baseLogWriter() io.Writer {
	return baseLogWriter(c.version)
}

// DefaultLogWriter returns the base log writer for the provided version.
func DefaultLogWriter(version string) io.Writer {
	return baseLogWriter(version)
}

// InitDefaultLogger configures zerolog with the default writer for this version.
// This is used by CLI entry points before a configuration file is loaded.
func InitDefaultLogger(version string) {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Logger.Output(DefaultLogWriter(version))
}

func isDevBuild(version string) bool {
	v := strings.ToLower(strings.TrimSpace(version))
	return v == "" || v == "dev" || strings.HasSuffix(v, "-dev")
}

// resolveConfigPath determines the actual config file path from the provided directory or file path
func (c *AppConfig) resolveConfigPath(configDirOrPath string) string {
	if strings.HasSuffix(strings.ToLower(configDirOrPath), ".toml") {
		return configDirOrPath
	}

	if info, err := os.Stat(configDirOrPath); err == nil && !info.IsDir() {
		return configDirOrPath
	}

	return filepath.Join(configDirOrPath, "config.toml")
}

// resolveDataDir determines where mutable data (the sqlite database) lives.
// Priority: config value > directory of the config file > default config dir.
func (c *AppConfig) resolveDataDir() {
	if c.Config.DataDir != "" {
		c.dataDir = c.Config.DataDir
		return
	}

	if used := c.viper.ConfigFileUsed(); used != "" {
		c.dataDir = filepath.Dir(used)
		return
	}

	if c.dataDir == "" {
		c.dataDir = GetDefaultConfigDir()
	}
}

// GetDatabasePath returns the full path to the sqlite database file.
func (c *AppConfig) GetDatabasePath() string {
	return filepath.Join(c.dataDir, "dredger.db")
}
