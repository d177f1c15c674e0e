// Package local provides a local filesystem storage backend.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/leafcutter/leafcutter/pkg/models"
)

// Config holds local filesystem backend settings.
type Config struct {
	RootPath   string
	CreateDirs bool
}

// LocalBackend implements storage.Backend using the local filesystem. It
// serves library roots and receives published libraries.
type LocalBackend struct {
	rootPath   string
	createDirs bool
}

// New creates a new local filesystem backend.
func New(cfg Config) (*LocalBackend, error) {
	if cfg.RootPath == "" {
		return nil, fmt.Errorf("root_path is required")
	}

	info, err := os.Stat(cfg.RootPath)
	switch {
	case errors.Is(err, fs.ErrNotExist) && cfg.CreateDirs:
		if err := os.MkdirAll(cfg.RootPath, 0755); err != nil {
			return nil, fmt.Errorf("create root path %s: %w", cfg.RootPath, err)
		}
	case err != nil:
		return nil, fmt.Errorf("stat root path %s: %w", cfg.RootPath, err)
	case !info.IsDir():
		return nil, fmt.Errorf("root path %s is not a directory", cfg.RootPath)
	}

	return &LocalBackend{
		rootPath:   cfg.RootPath,
		createDirs: cfg.CreateDirs,
	}, nil
}

// Root returns the backend root directory.
func (b *LocalBackend) Root() string { return b.rootPath }

// fullPath maps key under the root. Cleaning against "/" keeps ".."
// segments from escaping it.
func (b *LocalBackend) fullPath(key string) string {
	return filepath.Join(b.rootPath, filepath.FromSlash(path.Clean("/"+key)))
}

func notFound(key string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return &models.NotFoundError{Locator: key, Err: err}
	}
	return err
}

// open opens key for reading. Directories are reported as missing.
func (b *LocalBackend) open(key string) (*os.File, int64, error) {
	f, err := os.Open(b.fullPath(key))
	if err != nil {
		return nil, 0, fmt.Errorf("open %s: %w", key, notFound(key, err))
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("stat %s: %w", key, err)
	}
	if info.IsDir() {
		f.Close()
		return nil, 0, &models.NotFoundError{Locator: key, Err: errors.New("is a directory")}
	}
	return f, info.Size(), nil
}

// GetObject returns the bytes of key from offset. A zero length reads to the
// end of the file.
func (b *LocalBackend) GetObject(_ context.Context, key string, offset, length int64) (io.ReadCloser, int64, error) {
	f, size, err := b.open(key)
	if err != nil {
		return nil, 0, err
	}
	if length <= 0 {
		length = max(size-offset, 0)
	}
	return sectionReadCloser{
		Reader: io.NewSectionReader(f, offset, length),
		Closer: f,
	}, length, nil
}

// PutObject stores body under key. The content is written to a hidden temp
// file beside the target and renamed into place, so readers see either the
// old object or the complete new one.
func (b *LocalBackend) PutObject(_ context.Context, key string, body io.Reader, _ int64) error {
	target := b.fullPath(key)
	dir := filepath.Dir(target)
	if b.createDirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create dirs for %s: %w", key, err)
		}
	}

	tmp, err := os.CreateTemp(dir, ".leafcutter-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", key, err)
	}
	_, err = io.Copy(tmp, body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Rename(tmp.Name(), target)
	}
	if err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

// DeleteObject removes key. A missing object is not an error.
func (b *LocalBackend) DeleteObject(_ context.Context, key string) error {
	if err := os.Remove(b.fullPath(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// StatObject returns the size of a file on the local filesystem.
func (b *LocalBackend) StatObject(_ context.Context, key string) (int64, error) {
	f, size, err := b.open(key)
	if err != nil {
		return 0, err
	}
	f.Close()
	return size, nil
}

// Type returns "local".
func (b *LocalBackend) Type() string { return "local" }

// Close is a no-op for local backends.
func (b *LocalBackend) Close() error { return nil }

type sectionReadCloser struct {
	io.Reader
	io.Closer
}
