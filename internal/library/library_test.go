package library

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leafcutter/leafcutter/internal/events"
)

func TestLoadMissing(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), ConfigFile), nil)
	cfg, err := l.Load()
	require.NoError(t, err)
	assert.Empty(t, cfg.Directories)
	assert.NotNil(t, cfg.Directories)
}

func TestAddRemove(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", ConfigFile)
	bc := events.NewBroadcaster()
	ch := bc.Subscribe()
	defer bc.Unsubscribe(ch)
	l := New(path, bc)

	added, err := l.Add("/samples/909")
	require.NoError(t, err)
	assert.True(t, added)

	added, err = l.Add("/samples/909/")
	require.NoError(t, err)
	assert.False(t, added, "duplicates are ignored")

	_, err = l.Add("/samples/808")
	require.NoError(t, err)

	cfg, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"/samples/909", "/samples/808"}, cfg.Directories)

	removed, err := l.Remove("/samples/909")
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = l.Remove("/samples/unknown")
	require.NoError(t, err)
	assert.False(t, removed)

	cfg, err = l.Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"/samples/808"}, cfg.Directories)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"directories":["/samples/808"]}`, string(raw))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")

	var types []string
	for i := 0; i < 3; i++ {
		types = append(types, (<-ch).Type)
	}
	assert.Equal(t, []string{events.EventLibraryAdded, events.EventLibraryAdded, events.EventLibraryRemoved}, types)
}

func TestRemoveWithoutFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ConfigFile)
	l := New(path, nil)
	removed, err := l.Remove("/samples")
	require.NoError(t, err)
	assert.False(t, removed)
	assert.NoFileExists(t, path)
}

func TestRelativeDirectoryIsMadeAbsolute(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), ConfigFile), nil)
	_, err := l.Add("samples")
	require.NoError(t, err)
	cfg, err := l.Load()
	require.NoError(t, err)
	require.Len(t, cfg.Directories, 1)
	assert.True(t, filepath.IsAbs(cfg.Directories[0]))
}

func TestCorruptConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), ConfigFile)
	require.NoError(t, os.WriteFile(path, []byte("{"), 0644))
	l := New(path, nil)
	_, err := l.Load()
	assert.Error(t, err)
	_, err = l.Add("/x")
	assert.Error(t, err)
}

func TestEmptyDirectory(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), ConfigFile), nil)
	_, err := l.Add("")
	assert.Error(t, err)
}
