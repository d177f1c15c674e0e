package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"

	"github.com/leafcutter/leafcutter/internal/logging"
	"github.com/leafcutter/leafcutter/pkg/client"
	"github.com/leafcutter/leafcutter/pkg/tree"
)

func (a *app) cmdIndex(ctx context.Context, args []string) error {
	fs := newFlagSet("index", "[flags] <dir>...")
	pageSize := fs.Int("page-size", a.cfg.PageSize, "Files per search page")
	var formats stringList
	fs.Var(&formats, "formats", "Supported extensions, comma separated (default mp3,wav,flac,ogg,tiff,midi)")
	noAdd := fs.Bool("no-add", false, "Do not add the directories to the library config")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errors.New("at least one directory is required")
	}

	b := a.builder(*pageSize, formats)
	cat, err := a.openCatalog(ctx)
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}

	for _, dir := range fs.Args() {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return err
		}
		logCommand("index", zap.String("dir", abs))

		res, err := b.BuildIndex(ctx, abs)
		if err != nil {
			return fmt.Errorf("index %s: %w", abs, err)
		}
		if res.Skipped {
			fmt.Printf("%s %s %s\n", warningStyle.Render("unchanged"), abs,
				mutedStyle.Render("("+res.Duration.Round(time.Millisecond).String()+")"))
		} else {
			fmt.Printf("%s %s %s\n", successStyle.Render("indexed"), abs,
				mutedStyle.Render(fmt.Sprintf("(%d dirs, %d files, %d pages, %s)",
					res.Directories, len(res.Files), res.Pages, res.Duration.Round(time.Millisecond))))
		}

		if cat != nil {
			if err := cat.Record(ctx, res); err != nil {
				return fmt.Errorf("catalog %s: %w", abs, err)
			}
		}
		if !*noAdd {
			if _, err := a.libraries.Add(abs); err != nil {
				return err
			}
		}
	}
	return nil
}

func (a *app) cmdUnindex(ctx context.Context, args []string) error {
	fs := newFlagSet("unindex", "[flags] <dir>...")
	keep := fs.Bool("keep-index", false, "Only forget the library, leave its index files on disk")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errors.New("at least one directory is required")
	}

	b := a.builder(a.cfg.PageSize, nil)
	cat, err := a.openCatalog(ctx)
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}

	for _, dir := range fs.Args() {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return err
		}
		logCommand("unindex", zap.String("dir", abs))

		removed, err := a.libraries.Remove(abs)
		if err != nil {
			return err
		}
		if !*keep {
			if err := b.RemoveIndex(ctx, abs); err != nil {
				return fmt.Errorf("remove index of %s: %w", abs, err)
			}
		}
		if cat != nil {
			if err := cat.Forget(ctx, abs); err != nil {
				return fmt.Errorf("catalog %s: %w", abs, err)
			}
		}
		if removed {
			fmt.Printf("%s %s\n", successStyle.Render("removed"), abs)
		} else {
			fmt.Printf("%s %s\n", mutedStyle.Render("not configured"), abs)
		}
	}
	return nil
}

func (a *app) cmdLibraries(ctx context.Context, args []string) error {
	fs := newFlagSet("libraries", "[-server url]")
	server := fs.String("server", "", "List the libraries of a library server instead")
	if err := fs.Parse(args); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	if *server != "" {
		c := client.New(client.Config{Timeout: a.cfg.FetchTimeout, AuthToken: a.cfg.AuthToken})
		libs, err := c.Libraries(ctx, *server)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, "NAME\tINDEXED\tURL")
		for _, l := range libs {
			fmt.Fprintf(w, "%s\t%v\t%s\n", l.Name, l.Indexed, l.URL)
		}
		return nil
	}

	cfg, err := a.libraries.Load()
	if err != nil {
		return err
	}
	if len(cfg.Directories) == 0 {
		fmt.Println(mutedStyle.Render("No libraries configured"))
		return nil
	}

	cat, err := a.openCatalog(ctx)
	if err != nil {
		logging.Warn("catalog unavailable", zap.Error(err))
		cat = nil
	}
	files := map[string]int{}
	if cat != nil {
		libs, err := cat.Libraries(ctx)
		if err != nil {
			return err
		}
		for _, l := range libs {
			files[l.Root] = l.Files
		}
	}

	fmt.Fprintln(w, "DIRECTORY\tINDEXED\tFILES")
	for _, dir := range cfg.Directories {
		_, statErr := os.Stat(filepath.Join(dir, tree.IndexFile))
		count := "-"
		if n, ok := files[dir]; ok {
			count = fmt.Sprint(n)
		}
		fmt.Fprintf(w, "%s\t%v\t%s\n", dir, statErr == nil, count)
	}
	return nil
}
