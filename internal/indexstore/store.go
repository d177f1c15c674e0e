// Package indexstore resolves index files, search pages and sample bytes
// from local paths or remote locators. Remote payloads go through the
// integrity cache: a verified hit is served locally, anything else is
// fetched once from the source and stored before it is returned.
package indexstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/leafcutter/leafcutter/internal/logging"
	"github.com/leafcutter/leafcutter/internal/metrics"
	"github.com/leafcutter/leafcutter/pkg/cache"
	"github.com/leafcutter/leafcutter/pkg/models"
	"github.com/leafcutter/leafcutter/pkg/tree"
)

// Fetcher downloads the resource addressed by a remote locator. A missing
// resource must be reported as a models.NotFoundError.
type Fetcher interface {
	Fetch(ctx context.Context, locator string) ([]byte, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, locator string) ([]byte, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, locator string) ([]byte, error) {
	return f(ctx, locator)
}

// Store is the Index Store. It is safe for concurrent use. Concurrent
// requests for the same locator are not deduplicated.
type Store struct {
	cache   *cache.Cache
	sources map[string]Fetcher
}

// Option configures a Store.
type Option func(*Store)

// WithSource registers the fetcher used for a URL scheme ("http", "https", "s3").
func WithSource(scheme string, f Fetcher) Option {
	return func(s *Store) {
		s.sources[scheme] = f
	}
}

// New creates a Store backed by c.
func New(c *cache.Cache, opts ...Option) *Store {
	s := &Store{
		cache:   c,
		sources: make(map[string]Fetcher),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetIndex resolves and parses an index.json locator.
func (s *Store) GetIndex(ctx context.Context, locator string) (*models.DirectoryIndex, error) {
	var idx *models.DirectoryIndex
	_, err := s.resolve(ctx, locator, func(data []byte) error {
		parsed, err := models.ParseIndex(data)
		if err != nil {
			return err
		}
		idx = parsed
		return nil
	})
	if err != nil {
		return nil, err
	}
	return idx, nil
}

// GetFile resolves the raw bytes of a locator.
func (s *Store) GetFile(ctx context.Context, locator string) ([]byte, error) {
	return s.resolve(ctx, locator, nil)
}

// GetSearchPage reads {base}/_search/{page}.json. Pages are 1-based.
func (s *Store) GetSearchPage(ctx context.Context, base string, page int) (*models.SearchPage, error) {
	if page < 1 {
		return nil, fmt.Errorf("search page %d out of range: pages start at 1", page)
	}
	var sp *models.SearchPage
	_, err := s.resolve(ctx, tree.SearchPageLocator(base, page), func(data []byte) error {
		parsed, err := models.ParseSearchPage(data)
		if err != nil {
			return err
		}
		sp = parsed
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sp, nil
}

// resolve returns the bytes of locator. validate, when set, runs on the
// payload before it is returned; a remote payload that fails it is reported
// as malformed and never cached.
func (s *Store) resolve(ctx context.Context, locator string, validate func([]byte) error) ([]byte, error) {
	if !tree.IsRemote(locator) {
		return s.readLocal(locator, validate)
	}

	payload, res := s.cache.Resolve(locator)
	metrics.RecordCacheLookup(res.String())
	if res == cache.Hit {
		if err := check(locator, payload, validate); err != nil {
			return nil, err
		}
		return payload, nil
	}
	if res == cache.Mismatch {
		logging.Warn("cached payload failed verification, re-fetching",
			zap.String("locator", locator))
	}

	data, err := s.fetch(ctx, locator)
	if err != nil {
		if res == cache.Mismatch {
			return nil, &models.IntegrityError{Key: locator, Err: err}
		}
		return nil, err
	}
	if err := check(locator, data, validate); err != nil {
		return nil, err
	}
	if err := s.cache.Store(locator, data); err != nil {
		return nil, fmt.Errorf("cache %s: %w", locator, err)
	}
	return data, nil
}

func (s *Store) fetch(ctx context.Context, locator string) ([]byte, error) {
	scheme := tree.Scheme(locator)
	src, ok := s.sources[scheme]
	if !ok {
		return nil, fmt.Errorf("no source registered for scheme %q", scheme)
	}

	start := time.Now()
	data, err := src.Fetch(ctx, locator)
	metrics.RecordRemoteFetch(scheme, int64(len(data)), time.Since(start), err == nil)
	if err != nil {
		return nil, err
	}
	logging.Debug("fetched remote resource",
		zap.String("locator", locator),
		zap.Int("bytes", len(data)))
	return data, nil
}

func (s *Store) readLocal(locator string, validate func([]byte) error) ([]byte, error) {
	p := tree.LocalPath(locator)
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &models.NotFoundError{Locator: locator, Err: err}
		}
		return nil, &models.FilesystemError{Op: "read", Path: p, Err: err}
	}
	if err := check(locator, data, validate); err != nil {
		return nil, err
	}
	return data, nil
}

func check(locator string, data []byte, validate func([]byte) error) error {
	if validate == nil {
		return nil
	}
	if err := validate(data); err != nil {
		return &models.MalformedIndexError{Locator: locator, Err: err}
	}
	return nil
}
