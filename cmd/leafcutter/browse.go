package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/leafcutter/leafcutter/internal/indexstore"
	"github.com/leafcutter/leafcutter/internal/logging"
	"github.com/leafcutter/leafcutter/internal/navigation"
	"github.com/leafcutter/leafcutter/pkg/models"
	"github.com/leafcutter/leafcutter/pkg/tree"
)

func (a *app) cmdBrowse(ctx context.Context, args []string) error {
	fs := newFlagSet("browse", "[flags] <root> [dir...]")
	more := fs.Int("more", 0, "Press \"show more\" this many times")
	reveal := fs.String("reveal", "", "Open the directory of this root-relative file and highlight it")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errors.New("a root is required")
	}

	store, _, err := a.openStore()
	if err != nil {
		return err
	}
	nav := navigation.New(store,
		navigation.WithDisplayLimit(a.cfg.DisplayLimit),
		navigation.WithIncrement(a.cfg.DisplayIncrement))

	root := fs.Arg(0)
	s, err := nav.Open(ctx, root)
	if err != nil {
		return fmt.Errorf("open %s: %w", root, err)
	}

	forest := navigation.NewForest()
	forest.OnChange(func(root string, s navigation.State) {
		logging.Debug("view changed",
			zap.String("root", root),
			zap.String("current", s.CurrentDirectory),
			zap.Stringer("phase", s.Phase))
	})
	forest.Put(s)
	root = s.RootDirectory

	steps := []navigation.Transition{
		func(ctx context.Context, s navigation.State) (navigation.State, error) {
			return nav.EnterDirectory(ctx, s, root)
		},
	}
	for _, name := range fs.Args()[1:] {
		for _, seg := range strings.Split(strings.Trim(name, "/"), "/") {
			steps = append(steps, func(ctx context.Context, s navigation.State) (navigation.State, error) {
				return nav.EnterDirectory(ctx, s, seg)
			})
		}
	}
	if *reveal != "" {
		target := tree.BuildChildPath(root, strings.TrimPrefix(*reveal, "/"))
		steps = append(steps, func(ctx context.Context, s navigation.State) (navigation.State, error) {
			return nav.Reveal(ctx, s, target)
		})
	}
	for i := 0; i < *more; i++ {
		steps = append(steps, func(_ context.Context, s navigation.State) (navigation.State, error) {
			return nav.IncreaseDisplayLimit(s), nil
		})
	}

	for _, step := range steps {
		if _, err := forest.Dispatch(ctx, root, step); err != nil {
			return err
		}
	}

	final, _ := forest.Get(root)
	fmt.Print(renderState(final))
	return nil
}

func (a *app) cmdSearch(ctx context.Context, args []string) error {
	fs := newFlagSet("search", "[flags] <query>")
	var bases stringList
	fs.Var(&bases, "base", "Library root to search, repeatable (default: configured libraries)")
	page := fs.Int("page", 0, "Zero-based result page (infinite scroll counter)")
	limit := fs.Int("limit", 10, "Results per page")
	useCatalog := fs.Bool("catalog", false, "Query the SQL catalog instead of search pages")
	if err := fs.Parse(args); err != nil {
		return err
	}
	query := strings.Join(fs.Args(), " ")
	if strings.TrimSpace(query) == "" {
		fs.Usage()
		return errors.New("a query is required")
	}

	if *useCatalog {
		return a.searchCatalog(ctx, query, (*page+1)*(*limit))
	}

	roots, err := a.libraryDirs(bases)
	if err != nil {
		return err
	}
	store, _, err := a.openStore()
	if err != nil {
		return err
	}

	entries, err := store.CollectSearchEntries(ctx, roots)
	if err != nil {
		return err
	}
	results := indexstore.Filter(entries, query)
	frame := indexstore.Frame(results, *page, *limit)

	fmt.Println(titleStyle.Render(fmt.Sprintf("%d of %d matches for %q", len(frame), len(results), query)))
	for _, e := range frame {
		printResult(e)
	}
	if len(frame) < len(results) {
		fmt.Println(mutedStyle.Render(fmt.Sprintf("… use -page %d for more", *page+1)))
	}
	return nil
}

func printResult(e models.Entry) {
	fmt.Printf("  %s  %s\n", renderEntry(e, false), mutedStyle.Render(locate(e)))
}

// locate returns where a search result lives: its base plus file path.
func locate(e models.Entry) string {
	if e.BasePath == "" || tree.IsRemote(e.File) || strings.HasPrefix(e.File, e.BasePath) {
		return e.File
	}
	return tree.BuildChildPath(e.BasePath, strings.TrimPrefix(e.File, "/"))
}

func (a *app) searchCatalog(ctx context.Context, query string, limit int) error {
	cat, err := a.openCatalog(ctx)
	if err != nil {
		return err
	}
	if cat == nil {
		return errors.New("no catalog configured, set CATALOG_DSN")
	}
	samples, err := cat.Search(ctx, query, limit)
	if err != nil {
		return err
	}
	fmt.Println(titleStyle.Render(fmt.Sprintf("%d catalog matches for %q", len(samples), query)))
	for _, s := range samples {
		printResult(models.Entry{
			Type:     models.TypeFile,
			Name:     s.Name,
			File:     s.File,
			Format:   s.Format,
			Size:     s.Size,
			Checksum: s.Checksum,
			Dir:      s.Dir,
			BasePath: s.Root,
		})
	}
	return nil
}
