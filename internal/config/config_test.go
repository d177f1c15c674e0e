package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("LEAFCUTTER_DATA_DIR", dir)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "cache"), cfg.CacheDir)
	assert.Equal(t, filepath.Join(dir, "library-config.json"), cfg.LibraryConfigPath)
	assert.Equal(t, 100, cfg.PageSize)
	assert.Equal(t, 10, cfg.DisplayLimit)
	assert.Equal(t, 10, cfg.DisplayIncrement)
	assert.Equal(t, 30*time.Second, cfg.FetchTimeout)
	assert.Equal(t, "sqlite", cfg.CatalogDriver)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("LEAFCUTTER_DATA_DIR", t.TempDir())
	t.Setenv("LEAFCUTTER_PAGE_SIZE", "10")
	t.Setenv("WATCH_DEBOUNCE", "2s")
	t.Setenv("S3_USE_PATH_STYLE", "true")
	t.Setenv("CATALOG_DRIVER", "postgres")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.PageSize)
	assert.Equal(t, 2*time.Second, cfg.WatchDebounce)
	assert.True(t, cfg.S3UsePathStyle)
	assert.Equal(t, "postgres", cfg.CatalogDriver)
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("LEAFCUTTER_DATA_DIR", t.TempDir())

	t.Setenv("LEAFCUTTER_PAGE_SIZE", "0")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("LEAFCUTTER_PAGE_SIZE", "100")
	t.Setenv("CATALOG_DRIVER", "mysql")
	_, err = Load()
	assert.Error(t, err)
}

func TestEnvHelpers_FallbackOnGarbage(t *testing.T) {
	t.Setenv("X_INT", "abc")
	t.Setenv("X_BOOL", "maybe")
	t.Setenv("X_DUR", "soon")

	assert.Equal(t, 7, envInt("X_INT", 7))
	assert.True(t, envBool("X_BOOL", true))
	assert.Equal(t, time.Second, envDuration("X_DUR", time.Second))
}
