package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/leafcutter/leafcutter/pkg/cache"
)

func (a *app) cmdCache(_ context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: leafcutter cache stats|list|clear|verify [-fix]|evict <locator>...")
	}
	c, err := cache.New(a.cfg.CacheDir)
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}

	sub, rest := args[0], args[1:]
	switch sub {
	case "stats":
		return cacheStats(c)
	case "list", "ls":
		return cacheList(c)
	case "clear":
		n, err := c.Clear()
		if err != nil {
			return err
		}
		fmt.Printf("%s %d cached payloads\n", successStyle.Render("removed"), n)
		return nil
	case "verify":
		return cacheVerify(c, rest)
	case "evict", "rm":
		if len(rest) == 0 {
			return errors.New("usage: leafcutter cache evict <locator>...")
		}
		for _, locator := range rest {
			if err := c.Evict(locator); err != nil {
				return err
			}
			fmt.Printf("%s %s\n", successStyle.Render("evicted"), locator)
		}
		return nil
	default:
		return fmt.Errorf("unknown cache command: %s", sub)
	}
}

func cacheStats(c *cache.Cache) error {
	count, size, err := c.Stats()
	if err != nil {
		return err
	}
	fmt.Println(titleStyle.Render("Cache Statistics"))
	fmt.Printf("  Directory: %s\n", c.Dir())
	fmt.Printf("  Payloads:  %d\n", count)
	fmt.Printf("  Size:      %s\n", formatSize(size))
	return nil
}

func cacheList(c *cache.Cache) error {
	records, err := c.List()
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println(mutedStyle.Render("Cache is empty"))
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tSIZE\tDIGEST")
	for _, r := range records {
		digest := r.Digest
		if digest == "" {
			digest = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", r.Key, formatSize(r.Size), digest)
	}
	return w.Flush()
}

func cacheVerify(c *cache.Cache, args []string) error {
	fs := newFlagSet("cache verify", "[-fix]")
	fix := fs.Bool("fix", false, "Delete payloads that fail verification")
	if err := fs.Parse(args); err != nil {
		return err
	}

	bad, err := c.Verify()
	if err != nil {
		return err
	}
	if len(bad) == 0 {
		fmt.Println(successStyle.Render("all cached payloads verified"))
		return nil
	}
	for _, r := range bad {
		status := warningStyle.Render("mismatch")
		if *fix {
			if err := os.Remove(r.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}
			os.Remove(r.Path + cache.HashSuffix)
			status = successStyle.Render("removed")
		}
		fmt.Printf("%s %s\n", status, r.Key)
	}
	if !*fix {
		return fmt.Errorf("%d cached payloads failed verification", len(bad))
	}
	return nil
}
