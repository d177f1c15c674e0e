// Package indexer walks a local sample library and writes its index files:
// one index.json per directory and the paginated _search listing under the
// root. A full build is gated on a structural checksum of the tree.
package indexer

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/leafcutter/leafcutter/internal/events"
	"github.com/leafcutter/leafcutter/internal/logging"
	"github.com/leafcutter/leafcutter/internal/metrics"
	"github.com/leafcutter/leafcutter/internal/storage/local"
	"github.com/leafcutter/leafcutter/pkg/models"
	"github.com/leafcutter/leafcutter/pkg/tree"
)

// DefaultPageSize is the number of entries per search page.
const DefaultPageSize = 100

// DefaultFormats lists the file extensions indexed by default.
var DefaultFormats = []string{"mp3", "wav", "flac", "ogg", "tiff", "midi"}

// Result describes one BuildIndex run.
type Result struct {
	Root     string
	Checksum string
	// Skipped is set when the checksum matched and only the root index was
	// refreshed.
	Skipped     bool
	Directories int
	// Files is the flattened file list written to the search pages, in
	// page order. It is empty when Skipped.
	Files    []models.Entry
	Pages    int
	Duration time.Duration
}

// Builder writes library indexes.
type Builder struct {
	pageSize  int
	formats   map[string]bool
	excluded  map[string]bool
	publisher events.Publisher
}

// Option configures a Builder.
type Option func(*Builder)

// WithPageSize sets the number of entries per search page.
func WithPageSize(n int) Option {
	return func(b *Builder) {
		if n > 0 {
			b.pageSize = n
		}
	}
}

// WithFormats replaces the supported extension allow-list.
func WithFormats(formats []string) Option {
	return func(b *Builder) {
		b.formats = make(map[string]bool, len(formats))
		for _, f := range formats {
			b.formats[strings.ToLower(strings.TrimPrefix(f, "."))] = true
		}
	}
}

// WithPublisher sends build events to p.
func WithPublisher(p events.Publisher) Option {
	return func(b *Builder) {
		b.publisher = p
	}
}

// New creates a Builder.
func New(opts ...Option) *Builder {
	b := &Builder{
		pageSize: DefaultPageSize,
		excluded: map[string]bool{".DS_Store": true},
	}
	WithFormats(DefaultFormats)(b)
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// PageSize returns the configured page size.
func (b *Builder) PageSize() int { return b.pageSize }

// BuildIndex indexes the library at root. Any filesystem error aborts the
// build; pages already written are not rolled back.
func (b *Builder) BuildIndex(ctx context.Context, root string) (*Result, error) {
	start := time.Now()
	res, err := b.build(ctx, root)
	if err != nil {
		metrics.RecordIndexBuild("error", 0, time.Since(start))
		logging.Error("index build failed", zap.String("root", root), zap.Error(err))
		return nil, err
	}
	res.Duration = time.Since(start)

	if res.Skipped {
		metrics.RecordIndexBuild("skipped", 0, res.Duration)
		logging.Info("no changes detected, skipped reindexing",
			zap.String("root", root),
			zap.String("checksum", res.Checksum))
		b.publish(events.Event{Type: events.EventIndexSkipped, Root: root, Checksum: res.Checksum})
	} else {
		metrics.RecordIndexBuild("built", len(res.Files), res.Duration)
		logging.Info("library indexed",
			zap.String("root", root),
			zap.Int("directories", res.Directories),
			zap.Int("files", len(res.Files)),
			zap.Int("pages", res.Pages),
			zap.Duration("duration", res.Duration))
		b.publish(events.Event{Type: events.EventIndexBuilt, Root: root, Count: len(res.Files), Checksum: res.Checksum})
	}
	return res, nil
}

func (b *Builder) build(ctx context.Context, root string) (*Result, error) {
	root = filepath.Clean(root)
	info, err := os.Stat(root)
	if err != nil {
		return nil, &models.FilesystemError{Op: "stat", Path: root, Err: err}
	}
	if !info.IsDir() {
		return nil, &models.FilesystemError{Op: "stat", Path: root, Err: errors.New("not a directory")}
	}

	out, err := local.New(local.Config{RootPath: root, CreateDirs: true})
	if err != nil {
		return nil, &models.FilesystemError{Op: "open", Path: root, Err: err}
	}

	checksum, err := b.TopLevelChecksum(root)
	if err != nil {
		return nil, err
	}
	res := &Result{Root: root, Checksum: checksum}

	previous, err := os.ReadFile(filepath.Join(root, tree.ChecksumFile))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, &models.FilesystemError{Op: "read", Path: filepath.Join(root, tree.ChecksumFile), Err: err}
	}
	if strings.TrimSpace(string(previous)) == checksum {
		idx, _, err := b.listDir(ctx, root, root)
		if err != nil {
			return nil, err
		}
		if err := b.writeIndex(ctx, out, "/", idx); err != nil {
			return nil, err
		}
		res.Skipped = true
		return res, nil
	}

	files, dirs, err := b.walk(ctx, out, root, root, nil)
	if err != nil {
		return nil, err
	}
	res.Files = files
	res.Directories = dirs

	pages, err := b.writePages(ctx, out, root, files)
	if err != nil {
		return nil, err
	}
	res.Pages = pages

	// The checksum goes last so an aborted build never short-circuits the next.
	if err := put(ctx, out, tree.ChecksumFile, []byte(checksum)); err != nil {
		return nil, err
	}
	return res, nil
}

// walk indexes dir and everything below it depth-first. File entries are
// appended to acc, which is returned together with the directory count.
func (b *Builder) walk(ctx context.Context, out *local.LocalBackend, root, dir string, acc []models.Entry) ([]models.Entry, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	idx, subdirs, err := b.listDir(ctx, root, dir)
	if err != nil {
		return nil, 0, err
	}
	rel, err := tree.Rel(root, dir)
	if err != nil {
		return nil, 0, &models.FilesystemError{Op: "rel", Path: dir, Err: err}
	}
	if err := b.writeIndex(ctx, out, rel, idx); err != nil {
		return nil, 0, err
	}

	for _, e := range idx.Entries() {
		if e.IsFile() {
			e.Dir = rel
			acc = append(acc, e)
		}
	}

	count := 1
	for _, sub := range subdirs {
		var n int
		acc, n, err = b.walk(ctx, out, root, sub, acc)
		if err != nil {
			return nil, 0, err
		}
		count += n
	}
	return acc, count, nil
}

// listDir builds the index of one directory and returns the subdirectories
// to descend into, in index order.
func (b *Builder) listDir(ctx context.Context, root, dir string) (*models.DirectoryIndex, []string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, &models.FilesystemError{Op: "readdir", Path: dir, Err: err}
	}

	idx := models.NewDirectoryIndex()
	var subdirs []string
	for _, de := range entries {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		// Entries keep the on-disk bytes so every key resolves back to a
		// real path. Normalisation is only applied when comparing.
		name := de.Name()
		full := filepath.Join(dir, name)

		isDir, isRegular, err := kind(full, de)
		if err != nil {
			return nil, nil, err
		}

		switch {
		case isDir:
			if skipDir(name) {
				continue
			}
			rel, err := tree.Rel(root, full)
			if err != nil {
				return nil, nil, &models.FilesystemError{Op: "rel", Path: full, Err: err}
			}
			idx.Set(name, models.DirectoryEntry(name, rel))
			subdirs = append(subdirs, full)
		case isRegular:
			if !b.supported(name) {
				continue
			}
			e, err := b.fileEntry(root, full, name)
			if err != nil {
				return nil, nil, err
			}
			idx.Set(name, e)
		}
	}
	return idx, subdirs, nil
}

// kind resolves symlinks. Links to directories are not followed.
func kind(full string, de fs.DirEntry) (isDir, isRegular bool, err error) {
	if de.Type()&fs.ModeSymlink == 0 {
		return de.IsDir(), de.Type().IsRegular(), nil
	}
	info, err := os.Stat(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// Dangling link.
			return false, false, nil
		}
		return false, false, &models.FilesystemError{Op: "stat", Path: full, Err: err}
	}
	return false, info.Mode().IsRegular(), nil
}

func (b *Builder) fileEntry(root, full, name string) (models.Entry, error) {
	f, err := os.Open(full)
	if err != nil {
		return models.Entry{}, &models.FilesystemError{Op: "open", Path: full, Err: err}
	}
	defer f.Close()

	h := md5.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return models.Entry{}, &models.FilesystemError{Op: "read", Path: full, Err: err}
	}
	rel, err := tree.Rel(root, full)
	if err != nil {
		return models.Entry{}, &models.FilesystemError{Op: "rel", Path: full, Err: err}
	}
	return models.Entry{
		Type:     models.TypeFile,
		Name:     name,
		File:     rel,
		Format:   strings.TrimPrefix(filepath.Ext(name), "."),
		Size:     size,
		Checksum: hex.EncodeToString(h.Sum(nil)),
	}, nil
}

func (b *Builder) supported(name string) bool {
	if b.excluded[name] || strings.HasPrefix(name, ".") || isGenerated(name) {
		return false
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	return b.formats[ext]
}

func (b *Builder) writeIndex(ctx context.Context, out *local.LocalBackend, rel string, idx *models.DirectoryIndex) error {
	data, err := models.EncodeIndex(idx)
	if err != nil {
		return fmt.Errorf("encode index %s: %w", rel, err)
	}
	return put(ctx, out, path.Join(rel, tree.IndexFile), data)
}

// writePages replaces the _search directory with ceil(N/pageSize) pages.
func (b *Builder) writePages(ctx context.Context, out *local.LocalBackend, root string, files []models.Entry) (int, error) {
	searchDir := filepath.Join(root, tree.SearchDir)
	if err := os.RemoveAll(searchDir); err != nil {
		return 0, &models.FilesystemError{Op: "remove", Path: searchDir, Err: err}
	}
	if err := os.MkdirAll(searchDir, 0755); err != nil {
		return 0, &models.FilesystemError{Op: "mkdir", Path: searchDir, Err: err}
	}

	total := (len(files) + b.pageSize - 1) / b.pageSize
	for i := 0; i < total; i++ {
		lo := i * b.pageSize
		hi := min(lo+b.pageSize, len(files))
		data, err := models.EncodeSearchPage(&models.SearchPage{
			Content:    files[lo:hi],
			Next:       i < total-1,
			Total:      total,
			TotalCount: len(files),
		})
		if err != nil {
			return 0, fmt.Errorf("encode search page %d: %w", i+1, err)
		}
		key := path.Join(tree.SearchDir, strconv.Itoa(i+1)+".json")
		if err := put(ctx, out, key, data); err != nil {
			return 0, err
		}
	}
	return total, nil
}

func put(ctx context.Context, out *local.LocalBackend, key string, data []byte) error {
	if err := out.PutObject(ctx, key, bytes.NewReader(data), int64(len(data))); err != nil {
		return &models.FilesystemError{Op: "write", Path: filepath.Join(out.Root(), filepath.FromSlash(key)), Err: err}
	}
	return nil
}

// TopLevelChecksum returns the MD5 of the sorted, comma-joined root-relative
// paths of every entry under root, ignoring generated artifacts and hidden
// entries. It changes when anything is added, removed or renamed.
func (b *Builder) TopLevelChecksum(root string) (string, error) {
	var names []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == root {
			return nil
		}
		name := d.Name()
		if d.IsDir() && skipDir(name) {
			return filepath.SkipDir
		}
		if !d.IsDir() && (strings.HasPrefix(name, ".") || isGenerated(name)) {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		names = append(names, norm.NFC.String(filepath.ToSlash(rel)))
		return nil
	})
	if err != nil {
		return "", &models.FilesystemError{Op: "walk", Path: root, Err: err}
	}

	sort.Strings(names)
	sum := md5.Sum([]byte(strings.Join(names, ",")))
	return hex.EncodeToString(sum[:]), nil
}

// RemoveIndex deletes the checksum sidecar, every index.json the builder
// could have written under root and the _search directory. The sidecar goes
// first so an interrupted removal always leads to a full rebuild. Missing
// artifacts are not an error.
func (b *Builder) RemoveIndex(ctx context.Context, root string) error {
	root = filepath.Clean(root)
	out, err := local.New(local.Config{RootPath: root})
	if err != nil {
		return &models.FilesystemError{Op: "open", Path: root, Err: err}
	}

	keys := []string{tree.ChecksumFile}
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if p != root && skipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Name() != tree.IndexFile {
			return nil
		}
		rel, err := tree.Rel(root, p)
		if err != nil {
			return err
		}
		keys = append(keys, rel)
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &models.FilesystemError{Op: "remove index", Path: root, Err: err}
	}

	for _, key := range keys {
		if err := out.DeleteObject(ctx, key); err != nil {
			return &models.FilesystemError{Op: "remove", Path: filepath.Join(root, filepath.FromSlash(key)), Err: err}
		}
	}
	searchDir := filepath.Join(root, tree.SearchDir)
	if err := os.RemoveAll(searchDir); err != nil {
		return &models.FilesystemError{Op: "remove", Path: searchDir, Err: err}
	}

	removed := len(keys) - 1
	logging.Info("library index removed", zap.String("root", root), zap.Int("indexes", removed))
	b.publish(events.Event{Type: events.EventIndexRemoved, Root: root, Count: removed})
	return nil
}

func (b *Builder) publish(e events.Event) {
	if b.publisher != nil {
		b.publisher.Publish(e)
	}
}

// IsGenerated reports whether a root-relative path is a builder artifact.
// Watchers use it to ignore the builder's own writes.
func IsGenerated(rel string) bool {
	rel = strings.TrimPrefix(filepath.ToSlash(rel), "/")
	if rel == tree.SearchDir || strings.HasPrefix(rel, tree.SearchDir+"/") {
		return true
	}
	return isGenerated(path.Base(rel)) || strings.HasSuffix(rel, ".tmp")
}

func isGenerated(name string) bool {
	return name == tree.IndexFile || name == tree.ChecksumFile
}

func skipDir(name string) bool {
	return strings.HasPrefix(name, ".") || name == tree.SearchDir
}
