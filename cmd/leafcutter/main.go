// Leafcutter sample browser
//
// Commands:
// - index/unindex local library roots
// - browse index trees and search sample names (local or remote)
// - preview WAV samples with a waveform and playhead
// - serve libraries over HTTP, optionally rebuilding on change
// - publish built libraries to a directory or S3 bucket
// - inspect and repair the integrity cache
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"go.uber.org/zap"

	"github.com/leafcutter/leafcutter/internal/catalog"
	"github.com/leafcutter/leafcutter/internal/config"
	"github.com/leafcutter/leafcutter/internal/events"
	"github.com/leafcutter/leafcutter/internal/indexer"
	"github.com/leafcutter/leafcutter/internal/indexstore"
	"github.com/leafcutter/leafcutter/internal/library"
	"github.com/leafcutter/leafcutter/internal/logging"
	s3backend "github.com/leafcutter/leafcutter/internal/storage/s3"
	"github.com/leafcutter/leafcutter/pkg/cache"
	"github.com/leafcutter/leafcutter/pkg/client"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(2)
	}

	if err := logging.Init(logging.Config{
		Level:      cfg.LogLevel,
		Format:     cfg.LogFormat,
		OutputPath: cfg.LogOutput,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "logging init error: %v\n", err)
		os.Exit(2)
	}
	defer logging.Sync()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := newApp(cfg)
	defer a.close()

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "index":
		err = a.cmdIndex(ctx, args)
	case "unindex":
		err = a.cmdUnindex(ctx, args)
	case "libraries", "ls":
		err = a.cmdLibraries(ctx, args)
	case "browse":
		err = a.cmdBrowse(ctx, args)
	case "search":
		err = a.cmdSearch(ctx, args)
	case "preview":
		err = a.cmdPreview(ctx, args)
	case "serve":
		err = a.cmdServe(ctx, args)
	case "watch":
		err = a.cmdWatch(ctx, args)
	case "publish":
		err = a.cmdPublish(ctx, args)
	case "cache":
		err = a.cmdCache(ctx, args)
	case "token":
		err = a.cmdToken(args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: ")+err.Error())
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Leafcutter sample browser

Usage: leafcutter <command> [flags] [args]

Commands:
  index <dir>...                 Build index files for local libraries
  unindex <dir>...               Forget libraries and delete their index files
  libraries, ls                  List configured libraries
  browse <root> [dir...]         Show a directory of an index tree
  search <query>                 Search sample names across libraries
  preview <locator>              Render a WAV waveform, optionally play it
  serve                          Serve libraries over HTTP
  watch [dir...]                 Rebuild indexes when libraries change
  publish <dir> <target>         Upload a built library (dir or s3://bucket/prefix)
  cache stats|list|clear|verify|evict
                                 Inspect the integrity cache
  token                          Issue a library server access token
  help                           Show this help message

Roots and locators may be local paths, http(s):// URLs or s3:// URLs.
Run "leafcutter <command> -h" for command flags.

Environment:
  LEAFCUTTER_DATA_DIR, LEAFCUTTER_CACHE_DIR, LEAFCUTTER_LIBRARY_CONFIG,
  LEAFCUTTER_PAGE_SIZE, LEAFCUTTER_TOKEN, LISTEN_ADDR, METRICS_ADDR,
  JWT_SECRET, CATALOG_DRIVER, CATALOG_DSN, S3_ENDPOINT, S3_REGION,
  S3_ACCESS_KEY, S3_SECRET_KEY, LOG_LEVEL, LOG_FORMAT`)
}

// app holds the collaborators shared by the commands.
type app struct {
	cfg         *config.Config
	broadcaster *events.Broadcaster
	libraries   *library.Libraries

	s3Once sync.Once
	s3     *s3backend.S3Backend
	s3Err  error

	catalog *catalog.Catalog
}

func newApp(cfg *config.Config) *app {
	b := events.NewBroadcaster()
	return &app{
		cfg:         cfg,
		broadcaster: b,
		libraries:   library.New(cfg.LibraryConfigPath, b),
	}
}

func (a *app) close() {
	if a.catalog != nil {
		a.catalog.Close()
	}
}

func (a *app) s3Config() s3backend.BackendConfig {
	return s3backend.BackendConfig{
		Endpoint:     a.cfg.S3Endpoint,
		Region:       a.cfg.S3Region,
		AccessKey:    a.cfg.S3AccessKey,
		SecretKey:    a.cfg.S3SecretKey,
		UsePathStyle: a.cfg.S3UsePathStyle,
	}
}

// s3Source returns the shared S3 client used to resolve s3:// locators. It
// is created on first use so commands that never touch S3 do not need AWS
// credentials.
func (a *app) s3Source(ctx context.Context) (*s3backend.S3Backend, error) {
	a.s3Once.Do(func() {
		a.s3, a.s3Err = s3backend.NewBackend(ctx, a.s3Config())
	})
	return a.s3, a.s3Err
}

// openStore creates the Index Store with http(s) and s3 sources.
func (a *app) openStore() (*indexstore.Store, *cache.Cache, error) {
	c, err := cache.New(a.cfg.CacheDir)
	if err != nil {
		return nil, nil, fmt.Errorf("open cache: %w", err)
	}
	httpClient := client.New(client.Config{
		Timeout:   a.cfg.FetchTimeout,
		AuthToken: a.cfg.AuthToken,
	})
	s3Fetch := indexstore.FetcherFunc(func(ctx context.Context, locator string) ([]byte, error) {
		src, err := a.s3Source(ctx)
		if err != nil {
			return nil, err
		}
		return src.Fetch(ctx, locator)
	})
	store := indexstore.New(c,
		indexstore.WithSource("http", httpClient),
		indexstore.WithSource("https", httpClient),
		indexstore.WithSource("s3", s3Fetch),
	)
	return store, c, nil
}

// openCatalog opens and migrates the SQL catalog. It returns nil when no
// DSN is configured.
func (a *app) openCatalog(ctx context.Context) (*catalog.Catalog, error) {
	if a.cfg.CatalogDSN == "" {
		return nil, nil
	}
	if a.catalog != nil {
		return a.catalog, nil
	}
	c, err := catalog.Open(a.cfg.CatalogDriver, a.cfg.CatalogDSN)
	if err != nil {
		return nil, err
	}
	if err := c.Migrate(ctx); err != nil {
		c.Close()
		return nil, err
	}
	a.catalog = c
	return c, nil
}

func (a *app) builder(pageSize int, formats []string) *indexer.Builder {
	opts := []indexer.Option{
		indexer.WithPageSize(pageSize),
		indexer.WithPublisher(a.broadcaster),
	}
	if len(formats) > 0 {
		opts = append(opts, indexer.WithFormats(formats))
	}
	return indexer.New(opts...)
}

// libraryDirs returns args, or the configured libraries when args is empty.
func (a *app) libraryDirs(args []string) ([]string, error) {
	if len(args) > 0 {
		return args, nil
	}
	cfg, err := a.libraries.Load()
	if err != nil {
		return nil, err
	}
	if len(cfg.Directories) == 0 {
		return nil, fmt.Errorf("no libraries configured, run \"leafcutter index <dir>\" first")
	}
	return cfg.Directories, nil
}

// stringList is a repeatable string flag. Comma-separated values are split.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			*s = append(*s, part)
		}
	}
	return nil
}

func newFlagSet(name, usage string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: leafcutter %s %s\n\nFlags:\n", name, usage)
		fs.PrintDefaults()
	}
	return fs
}

func logCommand(name string, fields ...zap.Field) {
	logging.Debug("command", append([]zap.Field{zap.String("command", name)}, fields...)...)
}
