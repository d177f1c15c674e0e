// Package config loads configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds Leafcutter configuration.
type Config struct {
	// Local state
	DataDir           string
	CacheDir          string
	LibraryConfigPath string

	// Server
	ListenAddr  string
	MetricsAddr string

	// Logging
	LogLevel  string
	LogFormat string
	LogOutput string

	// Builder
	PageSize int

	// Navigation
	DisplayLimit     int
	DisplayIncrement int

	// Remote sources
	FetchTimeout time.Duration
	AuthToken    string

	// Library server auth (optional, bearer auth is off when empty)
	JWTSecret string
	TokenTTL  time.Duration

	// Catalog (optional, disabled when DSN is empty)
	CatalogDriver string
	CatalogDSN    string

	// S3 sources and publish target
	S3Endpoint     string
	S3Region       string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool

	// Watcher
	WatchDebounce time.Duration
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	dataDir := envOr("LEAFCUTTER_DATA_DIR", defaultDataDir())

	cfg := &Config{
		DataDir:           dataDir,
		CacheDir:          envOr("LEAFCUTTER_CACHE_DIR", filepath.Join(dataDir, "cache")),
		LibraryConfigPath: envOr("LEAFCUTTER_LIBRARY_CONFIG", filepath.Join(dataDir, "library-config.json")),
		ListenAddr:        envOr("LISTEN_ADDR", ":8080"),
		MetricsAddr:       envOr("METRICS_ADDR", ":9090"),
		LogLevel:          envOr("LOG_LEVEL", "info"),
		LogFormat:         envOr("LOG_FORMAT", "console"),
		LogOutput:         envOr("LOG_OUTPUT", "stderr"),
		PageSize:          envInt("LEAFCUTTER_PAGE_SIZE", 100),
		DisplayLimit:      envInt("LEAFCUTTER_DISPLAY_LIMIT", 10),
		DisplayIncrement:  envInt("LEAFCUTTER_DISPLAY_INCREMENT", 10),
		FetchTimeout:      envDuration("LEAFCUTTER_FETCH_TIMEOUT", 30*time.Second),
		AuthToken:         envOr("LEAFCUTTER_TOKEN", ""),
		JWTSecret:         envOr("JWT_SECRET", ""),
		TokenTTL:          envDuration("TOKEN_TTL", 24*time.Hour),
		CatalogDriver:     envOr("CATALOG_DRIVER", "sqlite"),
		CatalogDSN:        envOr("CATALOG_DSN", ""),
		S3Endpoint:        envOr("S3_ENDPOINT", ""),
		S3Region:          envOr("S3_REGION", "us-east-1"),
		S3AccessKey:       envOr("S3_ACCESS_KEY", ""),
		S3SecretKey:       envOr("S3_SECRET_KEY", ""),
		S3UsePathStyle:    envBool("S3_USE_PATH_STYLE", false),
		WatchDebounce:     envDuration("WATCH_DEBOUNCE", 500*time.Millisecond),
	}

	if cfg.PageSize < 1 {
		return nil, fmt.Errorf("LEAFCUTTER_PAGE_SIZE must be positive, got %d", cfg.PageSize)
	}
	if cfg.DisplayLimit < 1 || cfg.DisplayIncrement < 1 {
		return nil, fmt.Errorf("display limit and increment must be positive")
	}
	switch cfg.CatalogDriver {
	case "sqlite", "postgres":
	default:
		return nil, fmt.Errorf("CATALOG_DRIVER must be sqlite or postgres, got %q", cfg.CatalogDriver)
	}

	return cfg, nil
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "leafcutter")
	}
	return ".leafcutter"
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
