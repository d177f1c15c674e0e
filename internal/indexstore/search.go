package indexstore

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/leafcutter/leafcutter/internal/logging"
	"github.com/leafcutter/leafcutter/pkg/models"
	"github.com/leafcutter/leafcutter/pkg/tree"
)

// CollectSearchEntries reads every search page of every base and returns
// the file entries in base order, then page order. Page 1 of a base is read
// first to learn the page count; the remaining pages are fetched
// concurrently and joined in page order. Each entry carries its base in
// BasePath and has File resolved against it. A base that was never
// indexed is skipped.
func (s *Store) CollectSearchEntries(ctx context.Context, bases []string) ([]models.Entry, error) {
	perBase := make([][]models.Entry, len(bases))

	g, gctx := errgroup.WithContext(ctx)
	for i, base := range bases {
		g.Go(func() error {
			entries, err := s.collectBase(gctx, base)
			if err != nil {
				if models.IsNotFound(err) {
					logging.Warn("library has no search index, skipping",
						zap.String("base", base))
					return nil
				}
				return err
			}
			perBase[i] = entries
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []models.Entry
	for _, entries := range perBase {
		all = append(all, entries...)
	}
	return all, nil
}

func (s *Store) collectBase(ctx context.Context, base string) ([]models.Entry, error) {
	first, err := s.GetSearchPage(ctx, base, 1)
	if err != nil {
		return nil, err
	}

	pages := make([][]models.Entry, max(first.Total, 1))
	pages[0] = first.Content

	g, gctx := errgroup.WithContext(ctx)
	for n := 2; n <= first.Total; n++ {
		g.Go(func() error {
			page, err := s.GetSearchPage(gctx, base, n)
			if err != nil {
				return err
			}
			pages[n-1] = page.Content
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []models.Entry
	for _, content := range pages {
		for _, e := range content {
			switch e.Type {
			case models.TypeFile:
				e.BasePath = base
				e.File = tree.BuildChildPath(base, strings.TrimPrefix(e.File, "/"))
				out = append(out, e)
			case models.TypeDirectory:
				// Search pages only list files; directories are ignored.
			}
		}
	}
	return out, nil
}

// Filter returns the entries whose name contains query, ignoring case. An
// empty query matches nothing.
func Filter(entries []models.Entry, query string) []models.Entry {
	q := Fold(strings.TrimSpace(query))
	if q == "" {
		return nil
	}
	var out []models.Entry
	for _, e := range entries {
		if strings.Contains(Fold(e.Name), q) {
			out = append(out, e)
		}
	}
	return out
}

// Frame returns the visible window of results for an infinite-scroll page
// counter: the first page*limit+limit results.
func Frame(results []models.Entry, page, limit int) []models.Entry {
	if page < 0 || limit < 1 {
		return nil
	}
	n := page*limit + limit
	if n > len(results) {
		n = len(results)
	}
	return results[:n]
}

// Fold returns the comparison form of a sample name: NFC-composed and
// case-folded, so decomposed and composed spellings match.
func Fold(s string) string {
	return cases.Fold().String(norm.NFC.String(s))
}
