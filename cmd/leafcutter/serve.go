package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/leafcutter/leafcutter/internal/api"
	"github.com/leafcutter/leafcutter/internal/auth"
	"github.com/leafcutter/leafcutter/internal/catalog"
	"github.com/leafcutter/leafcutter/internal/events"
	"github.com/leafcutter/leafcutter/internal/indexer"
	"github.com/leafcutter/leafcutter/internal/logging"
	"github.com/leafcutter/leafcutter/internal/metrics"
	"github.com/leafcutter/leafcutter/internal/storage"
	"github.com/leafcutter/leafcutter/internal/watcher"
	"github.com/leafcutter/leafcutter/pkg/protocol"
	"github.com/leafcutter/leafcutter/pkg/tree"
)

// servedLibrary is one library root given to serve: a local directory or
// an s3:// prefix.
type servedLibrary struct {
	name   string
	target string
}

// parseLibraries turns "name=target" or bare target arguments into named
// libraries. Bare targets are named after their last path segment.
func parseLibraries(args []string) ([]servedLibrary, error) {
	seen := map[string]int{}
	var out []servedLibrary
	for _, arg := range args {
		name, target, ok := strings.Cut(arg, "=")
		if !ok || tree.IsRemote(arg) {
			name, target = "", arg
		}
		if name == "" {
			name = tree.Base(filepath.ToSlash(strings.TrimRight(target, "/")))
			seen[name]++
			if n := seen[name]; n > 1 {
				name = fmt.Sprintf("%s-%d", name, n)
			}
		}
		if name == "" || strings.Contains(name, "/") {
			return nil, fmt.Errorf("invalid library %q", arg)
		}
		out = append(out, servedLibrary{name: name, target: target})
	}
	return out, nil
}

func (a *app) cmdServe(ctx context.Context, args []string) error {
	fs := newFlagSet("serve", "[flags] [name=dir|dir|s3://bucket/prefix ...]")
	addr := fs.String("addr", a.cfg.ListenAddr, "Listen address")
	metricsAddr := fs.String("metrics-addr", a.cfg.MetricsAddr, "Metrics listen address (empty disables)")
	watch := fs.Bool("watch", false, "Rebuild local libraries when they change")
	if err := fs.Parse(args); err != nil {
		return err
	}

	targets, err := a.libraryDirs(fs.Args())
	if err != nil {
		return err
	}
	served, err := parseLibraries(targets)
	if err != nil {
		return err
	}

	var libs []api.Library
	var locals []string
	for _, l := range served {
		if !tree.IsRemote(l.target) {
			abs, err := filepath.Abs(l.target)
			if err != nil {
				return err
			}
			l.target = abs
			locals = append(locals, abs)
		}
		backend, err := storage.Open(ctx, l.target, a.s3Config())
		if err != nil {
			return fmt.Errorf("open library %s: %w", l.name, err)
		}
		defer backend.Close()
		libs = append(libs, api.Library{Name: l.name, Backend: backend})
		logging.Info("serving library",
			zap.String("name", l.name),
			zap.String("target", l.target),
			zap.String("backend", backend.Type()))
	}

	var authHandler *auth.Auth
	if a.cfg.JWTSecret != "" {
		authHandler, err = auth.New(a.cfg.JWTSecret, a.cfg.TokenTTL)
		if err != nil {
			return err
		}
		logging.Info("bearer authentication enabled")
	}

	srv, err := api.NewServer(libs, authHandler, a.broadcaster)
	if err != nil {
		return err
	}

	if *watch {
		cat, err := a.openCatalog(ctx)
		if err != nil {
			return fmt.Errorf("open catalog: %w", err)
		}
		b := a.builder(a.cfg.PageSize, nil)
		for _, dir := range locals {
			w := watcher.New(dir, a.cfg.WatchDebounce, a.rebuildOnChange(ctx, b, cat, dir))
			if err := w.Start(ctx); err != nil {
				return fmt.Errorf("watch %s: %w", dir, err)
			}
			defer w.Stop()
		}
	}

	httpServer := &http.Server{
		Addr:              *addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var metricsServer *http.Server
	if *metricsAddr != "" {
		metricsServer = &http.Server{
			Addr:    *metricsAddr,
			Handler: metrics.Handler(),
		}
		go func() {
			logging.Info("metrics server listening", zap.String("addr", *metricsAddr))
			if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
				logging.Error("metrics server error", zap.Error(err))
			}
		}()
	}

	go func() {
		<-ctx.Done()
		logging.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
		if metricsServer != nil {
			metricsServer.Close()
		}
	}()

	logging.Info("library server listening", zap.String("addr", *addr), zap.Int("libraries", len(libs)))
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (a *app) cmdWatch(ctx context.Context, args []string) error {
	fs := newFlagSet("watch", "[flags] [dir...]")
	debounce := fs.Duration("debounce", a.cfg.WatchDebounce, "Quiet period before a rebuild")
	if err := fs.Parse(args); err != nil {
		return err
	}
	dirs, err := a.libraryDirs(fs.Args())
	if err != nil {
		return err
	}
	cat, err := a.openCatalog(ctx)
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	b := a.builder(a.cfg.PageSize, nil)

	ch := a.broadcaster.Subscribe()
	defer a.broadcaster.Unsubscribe(ch)

	for _, dir := range dirs {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return err
		}
		// Bring the index up to date before waiting for changes.
		a.rebuildOnChange(ctx, b, cat, abs)(nil)

		w := watcher.New(abs, *debounce, a.rebuildOnChange(ctx, b, cat, abs))
		if err := w.Start(ctx); err != nil {
			return fmt.Errorf("watch %s: %w", abs, err)
		}
		defer w.Stop()
		fmt.Printf("%s %s\n", successStyle.Render("watching"), abs)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-ch:
			printEvent(e)
		}
	}
}

// rebuildOnChange returns the settle callback that rebuilds root and
// mirrors the result into the catalog. cat may be nil.
func (a *app) rebuildOnChange(ctx context.Context, b *indexer.Builder, cat *catalog.Catalog, root string) watcher.SettleFunc {
	return func(changes []watcher.Event) {
		if len(changes) > 0 {
			a.broadcaster.Publish(events.Event{
				Type:  events.EventLibraryChanged,
				Root:  root,
				Path:  changes[0].Path,
				Count: len(changes),
			})
		}
		res, err := b.BuildIndex(ctx, root)
		if err != nil {
			// BuildIndex already logged the failure.
			return
		}
		if cat != nil {
			if err := cat.Record(ctx, res); err != nil {
				logging.Error("catalog update failed", zap.String("root", root), zap.Error(err))
			}
		}
	}
}

func printEvent(e events.Event) {
	line := e.Type
	if e.Root != "" {
		line += " " + e.Root
	}
	if e.Count > 0 {
		line += fmt.Sprintf(" (%d)", e.Count)
	}
	fmt.Println(mutedStyle.Render(time.Unix(e.Timestamp, 0).Format("15:04:05")) + " " + line)
}

func (a *app) cmdToken(args []string) error {
	fs := newFlagSet("token", "[flags]")
	subject := fs.String("subject", "", "Token subject, usually the client name")
	var libraries stringList
	fs.Var(&libraries, "library", "Restrict the token to a library, repeatable (default: all)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *subject == "" {
		host, _ := os.Hostname()
		*subject = host
	}
	if a.cfg.JWTSecret == "" {
		return errors.New("JWT_SECRET is not set")
	}

	authHandler, err := auth.New(a.cfg.JWTSecret, a.cfg.TokenTTL)
	if err != nil {
		return err
	}
	token, expires, err := authHandler.IssueToken(*subject, libraries...)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(protocol.TokenResponse{Token: token, ExpiresAt: expires.Unix()})
}
