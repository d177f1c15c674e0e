// Package library manages library-config.json, the list of local library
// roots the user has added.
package library

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/leafcutter/leafcutter/internal/events"
	"github.com/leafcutter/leafcutter/internal/logging"
	"github.com/leafcutter/leafcutter/pkg/models"
)

// ConfigFile is the default name of the library config.
const ConfigFile = "library-config.json"

// Libraries reads and updates a library config file. Updates are
// serialised within a process and written atomically.
type Libraries struct {
	path      string
	publisher events.Publisher
	mu        sync.Mutex
}

// New returns a Libraries for the config file at path. A nil publisher is
// allowed.
func New(path string, publisher events.Publisher) *Libraries {
	return &Libraries{path: path, publisher: publisher}
}

// Path returns the config file location.
func (l *Libraries) Path() string { return l.path }

// Load returns the configured directories. A missing file is an empty list.
func (l *Libraries) Load() (*models.LibraryConfig, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.load()
}

// Add appends dir unless it is already present, creating the file if
// needed. It reports whether the list changed.
func (l *Libraries) Add(dir string) (bool, error) {
	dir, err := normalize(dir)
	if err != nil {
		return false, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	cfg, err := l.load()
	if err != nil {
		return false, err
	}
	if slices.Contains(cfg.Directories, dir) {
		return false, nil
	}
	cfg.Directories = append(cfg.Directories, dir)
	if err := l.save(cfg); err != nil {
		return false, err
	}

	logging.Info("library added", zap.String("dir", dir))
	l.publish(events.Event{Type: events.EventLibraryAdded, Root: dir})
	return true, nil
}

// Remove drops dir from the list. Removing an unknown directory, or from a
// missing file, is a no-op.
func (l *Libraries) Remove(dir string) (bool, error) {
	dir, err := normalize(dir)
	if err != nil {
		return false, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := os.Stat(l.path); errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	cfg, err := l.load()
	if err != nil {
		return false, err
	}
	i := slices.Index(cfg.Directories, dir)
	if i < 0 {
		return false, nil
	}
	cfg.Directories = slices.Delete(cfg.Directories, i, i+1)
	if err := l.save(cfg); err != nil {
		return false, err
	}

	logging.Info("library removed", zap.String("dir", dir))
	l.publish(events.Event{Type: events.EventLibraryRemoved, Root: dir})
	return true, nil
}

func (l *Libraries) load() (*models.LibraryConfig, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &models.LibraryConfig{Directories: []string{}}, nil
		}
		return nil, &models.FilesystemError{Op: "read", Path: l.path, Err: err}
	}
	var cfg models.LibraryConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", l.path, err)
	}
	if cfg.Directories == nil {
		cfg.Directories = []string{}
	}
	return &cfg, nil
}

func (l *Libraries) save(cfg *models.LibraryConfig) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal library config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return &models.FilesystemError{Op: "mkdir", Path: filepath.Dir(l.path), Err: err}
	}

	tmp, err := os.CreateTemp(filepath.Dir(l.path), ConfigFile+".*.tmp")
	if err != nil {
		return &models.FilesystemError{Op: "create", Path: l.path, Err: err}
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return &models.FilesystemError{Op: "write", Path: tmpPath, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return &models.FilesystemError{Op: "write", Path: tmpPath, Err: err}
	}
	if err := os.Rename(tmpPath, l.path); err != nil {
		os.Remove(tmpPath)
		return &models.FilesystemError{Op: "rename", Path: l.path, Err: err}
	}
	return nil
}

func (l *Libraries) publish(e events.Event) {
	if l.publisher != nil {
		l.publisher.Publish(e)
	}
}

func normalize(dir string) (string, error) {
	if dir == "" {
		return "", fmt.Errorf("empty library directory")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", dir, err)
	}
	return abs, nil
}
