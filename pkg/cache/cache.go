// Package cache provides the hash-verified local copy of remote resources.
//
// Every payload lives at <dir>/<host>/<url path> next to a "<payload>.hash"
// sidecar holding the hex SHA-256 of its bytes. A payload is only trusted
// when the recomputed digest equals the sidecar.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/leafcutter/leafcutter/pkg/models"
	"github.com/leafcutter/leafcutter/pkg/tree"
)

// HashSuffix is appended to a payload path to name its sidecar.
const HashSuffix = ".hash"

const tmpSuffix = ".tmp"

// Result is the outcome of a Resolve.
type Result int

const (
	// Absent means the payload or its sidecar is missing.
	Absent Result = iota
	// Hit means the payload was found and its digest verified.
	Hit
	// Mismatch means both files exist but the digest differs.
	Mismatch
)

func (r Result) String() string {
	switch r {
	case Hit:
		return "hit"
	case Mismatch:
		return "mismatch"
	default:
		return "absent"
	}
}

// Cache manages locally cached payloads and their sidecars.
type Cache struct {
	dir string

	// Serialises writers so a payload and its sidecar are replaced as a pair.
	mu sync.RWMutex
}

// New creates a new cache rooted at dir.
func New(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &Cache{dir: dir}, nil
}

// Dir returns the cache directory path.
func (c *Cache) Dir() string {
	return c.dir
}

// Digest returns the hex SHA-256 of payload.
func Digest(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Path returns the local payload path for a remote locator.
func (c *Cache) Path(key string) (string, error) {
	rel, err := tree.CacheKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(c.dir, filepath.FromSlash(rel)), nil
}

// Resolve returns the cached payload for key when its digest verifies.
// A missing sidecar is Absent, never Mismatch.
func (c *Cache) Resolve(key string) ([]byte, Result) {
	localPath, err := c.Path(key)
	if err != nil {
		return nil, Absent
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	payload, err := os.ReadFile(localPath)
	if err != nil {
		return nil, Absent
	}
	stored, err := os.ReadFile(localPath + HashSuffix)
	if err != nil {
		return nil, Absent
	}
	if strings.TrimSpace(string(stored)) != Digest(payload) {
		return nil, Mismatch
	}
	return payload, Hit
}

// Store writes payload and its sidecar for key. The old sidecar is removed
// first so a crash between the two writes leaves the record Absent.
func (c *Cache) Store(key string, payload []byte) error {
	localPath, err := c.Path(key)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return &models.FilesystemError{Op: "mkdir", Path: filepath.Dir(localPath), Err: err}
	}
	if err := os.Remove(localPath + HashSuffix); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &models.FilesystemError{Op: "remove", Path: localPath + HashSuffix, Err: err}
	}
	if err := writeAtomic(localPath, payload); err != nil {
		return err
	}
	return writeAtomic(localPath+HashSuffix, []byte(Digest(payload)))
}

// Evict removes the payload and sidecar for key. Evicting an absent key is
// not an error.
func (c *Cache) Evict(key string) error {
	localPath, err := c.Path(key)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, p := range []string{localPath + HashSuffix, localPath} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return &models.FilesystemError{Op: "remove", Path: p, Err: err}
		}
	}
	return nil
}

// Clear removes every cached record and returns how many payloads it deleted.
func (c *Cache) Clear() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	records, err := c.walk()
	if err != nil {
		return 0, err
	}
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return 0, &models.FilesystemError{Op: "read", Path: c.dir, Err: err}
	}
	for _, e := range entries {
		p := filepath.Join(c.dir, e.Name())
		if err := os.RemoveAll(p); err != nil {
			return 0, &models.FilesystemError{Op: "remove", Path: p, Err: err}
		}
	}
	return len(records), nil
}

// Stats returns the number of cached payloads and their total size.
func (c *Cache) Stats() (count int, size int64, err error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	records, err := c.walk()
	if err != nil {
		return 0, 0, err
	}
	for _, r := range records {
		size += r.Size
	}
	return len(records), size, nil
}

// List returns every cached payload with the digest stored in its sidecar.
func (c *Cache) List() ([]models.CacheRecord, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.walk()
}

// Verify recomputes every payload digest and returns the records that no
// longer match their sidecar, including payloads whose sidecar is missing.
func (c *Cache) Verify() ([]models.CacheRecord, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	records, err := c.walk()
	if err != nil {
		return nil, err
	}
	var bad []models.CacheRecord
	for _, r := range records {
		payload, err := os.ReadFile(r.Path)
		if err != nil {
			return nil, &models.FilesystemError{Op: "read", Path: r.Path, Err: err}
		}
		if r.Digest == "" || Digest(payload) != r.Digest {
			bad = append(bad, r)
		}
	}
	return bad, nil
}

// walk lists payload files under the cache dir. Must be called with lock held.
func (c *Cache) walk() ([]models.CacheRecord, error) {
	var records []models.CacheRecord
	err := filepath.WalkDir(c.dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasSuffix(p, HashSuffix) || strings.HasSuffix(p, tmpSuffix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(c.dir, p)
		if err != nil {
			return err
		}
		var digest string
		if b, err := os.ReadFile(p + HashSuffix); err == nil {
			digest = strings.TrimSpace(string(b))
		}
		records = append(records, models.CacheRecord{
			Key:    filepath.ToSlash(rel),
			Path:   p,
			Size:   info.Size(),
			Digest: digest,
		})
		return nil
	})
	if err != nil {
		return nil, &models.FilesystemError{Op: "walk", Path: c.dir, Err: err}
	}
	return records, nil
}

// writeAtomic writes data to a temp file in the target directory, then
// renames it into place.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*"+tmpSuffix)
	if err != nil {
		return &models.FilesystemError{Op: "create", Path: path, Err: err}
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return &models.FilesystemError{Op: "write", Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return &models.FilesystemError{Op: "close", Path: path, Err: err}
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return &models.FilesystemError{Op: "rename", Path: path, Err: err}
	}
	return nil
}
