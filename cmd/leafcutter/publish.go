package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/leafcutter/leafcutter/internal/logging"
	"github.com/leafcutter/leafcutter/internal/storage"
	s3backend "github.com/leafcutter/leafcutter/internal/storage/s3"
	"github.com/leafcutter/leafcutter/pkg/tree"
)

func (a *app) cmdPublish(ctx context.Context, args []string) error {
	fset := newFlagSet("publish", "[flags] <dir> <target>")
	concurrency := fset.Int("concurrency", 8, "Parallel uploads")
	indexOnly := fset.Bool("index-only", false, "Upload index files and search pages only")
	if err := fset.Parse(args); err != nil {
		return err
	}
	if fset.NArg() != 2 {
		fset.Usage()
		return errors.New("a library directory and a target are required")
	}
	if *concurrency < 1 {
		return fmt.Errorf("concurrency must be positive, got %d", *concurrency)
	}

	dir, err := filepath.Abs(fset.Arg(0))
	if err != nil {
		return err
	}
	if _, err := os.Stat(filepath.Join(dir, tree.IndexFile)); err != nil {
		return fmt.Errorf("%s is not indexed, run \"leafcutter index %s\" first", dir, fset.Arg(0))
	}

	stages, err := publishStages(dir, *indexOnly)
	if err != nil {
		return err
	}

	target := fset.Arg(1)
	backend, err := storage.Open(ctx, target, a.s3Config())
	if err != nil {
		return err
	}
	defer backend.Close()
	if s3b, ok := backend.(*s3backend.S3Backend); ok {
		if err := s3b.EnsureBucket(ctx); err != nil {
			return err
		}
	}

	objects, uploaded, err := publish(ctx, backend, dir, stages, *concurrency)
	if err != nil {
		return err
	}

	logging.Info("library published",
		zap.String("dir", dir),
		zap.String("target", target),
		zap.Int("objects", objects),
		zap.Int64("bytes", uploaded))
	fmt.Printf("%s %d objects (%s) to %s\n", successStyle.Render("published"),
		objects, formatSize(uploaded), target)
	return nil
}

// publishStages lists the slash-separated keys to upload from dir, grouped
// into stages that must complete in order: samples, then search pages and
// subdirectory indexes, then the root index and finally the checksum
// sidecar. A reader following the root index never meets a missing object.
// Hidden files and directories are skipped.
func publishStages(dir string, indexOnly bool) ([][]string, error) {
	var samples, nested, roots []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p != dir && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := tree.Rel(dir, p)
		if err != nil {
			return err
		}
		key := strings.TrimPrefix(rel, "/")
		switch {
		case strings.HasSuffix(key, ".tmp"):
		case key == tree.IndexFile || key == tree.ChecksumFile:
			roots = append(roots, key)
		case isIndexKey(key):
			nested = append(nested, key)
		case !indexOnly:
			samples = append(samples, key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	// index.json sorts before top_level_checksum.txt.
	sort.Strings(roots)

	var stages [][]string
	for _, stage := range [][]string{samples, nested} {
		if len(stage) > 0 {
			stages = append(stages, stage)
		}
	}
	for _, key := range roots {
		stages = append(stages, []string{key})
	}
	return stages, nil
}

func isIndexKey(key string) bool {
	base := key[strings.LastIndex(key, "/")+1:]
	return base == tree.IndexFile || base == tree.ChecksumFile ||
		strings.HasPrefix(key, tree.SearchDir+"/")
}

// publish uploads each stage with up to concurrency parallel uploads and
// waits for it to finish before starting the next.
func publish(ctx context.Context, backend storage.Backend, dir string, stages [][]string, concurrency int) (int, int64, error) {
	var (
		objects  int
		uploaded atomic.Int64
	)
	for _, keys := range stages {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(concurrency)
		for _, key := range keys {
			g.Go(func() error {
				n, err := upload(gctx, backend, dir, key)
				if err != nil {
					return fmt.Errorf("upload %s: %w", key, err)
				}
				uploaded.Add(n)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return objects, uploaded.Load(), err
		}
		objects += len(keys)
	}
	return objects, uploaded.Load(), nil
}

func upload(ctx context.Context, backend storage.Backend, dir, key string) (int64, error) {
	f, err := os.Open(filepath.Join(dir, filepath.FromSlash(key)))
	if err != nil {
		return 0, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	if err := backend.PutObject(ctx, key, f, info.Size()); err != nil {
		return 0, err
	}
	return info.Size(), nil
}
