// Package catalog mirrors built library indexes into a SQL database so they
// can be searched without reading every search page. SQLite and PostgreSQL
// are supported.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/leafcutter/leafcutter/internal/indexer"
	"github.com/leafcutter/leafcutter/internal/indexstore"
	"github.com/leafcutter/leafcutter/internal/logging"
	"github.com/leafcutter/leafcutter/internal/metrics"
)

// Sample is one catalogued file.
type Sample struct {
	Root     string
	File     string
	Dir      string
	Name     string
	Format   string
	Size     int64
	Checksum string
}

// Library is one catalogued root.
type Library struct {
	Root      string
	Checksum  string
	Files     int
	IndexedAt time.Time
}

// Catalog is a SQL-backed sample catalog.
type Catalog struct {
	db       *sql.DB
	postgres bool
}

// Open connects to the catalog. driver is "sqlite" or "postgres".
func Open(driver, dsn string) (*Catalog, error) {
	if driver != "sqlite" && driver != "postgres" {
		return nil, fmt.Errorf("unsupported catalog driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if driver == "sqlite" {
		// A single connection keeps in-memory databases shared and avoids
		// SQLITE_BUSY between writers.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Catalog{db: db, postgres: driver == "postgres"}, nil
}

// Close closes the database connection.
func (c *Catalog) Close() error {
	return c.db.Close()
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS libraries (
		root       TEXT PRIMARY KEY,
		checksum   TEXT NOT NULL,
		files      INTEGER NOT NULL,
		indexed_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS samples (
		root     TEXT NOT NULL,
		file     TEXT NOT NULL,
		dir      TEXT NOT NULL,
		name     TEXT NOT NULL,
		folded   TEXT NOT NULL,
		format   TEXT NOT NULL,
		size     BIGINT NOT NULL,
		checksum TEXT NOT NULL,
		PRIMARY KEY (root, file)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_samples_folded ON samples(folded)`,
	`CREATE INDEX IF NOT EXISTS idx_samples_checksum ON samples(checksum)`,
}

// Migrate creates the catalog tables.
func (c *Catalog) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	if !c.postgres {
		if _, err := c.db.ExecContext(ctx, `PRAGMA journal_mode=WAL`); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Record stores a build. A full build replaces the root's samples in one
// transaction; a skipped build only refreshes the library row.
func (c *Catalog) Record(ctx context.Context, res *indexer.Result) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("record", time.Since(start)) }()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)
	if res.Skipped {
		_, err = tx.ExecContext(ctx, c.rebind(
			`UPDATE libraries SET checksum = ?, indexed_at = ? WHERE root = ?`),
			res.Checksum, now, res.Root)
		if err != nil {
			return fmt.Errorf("update library: %w", err)
		}
		return tx.Commit()
	}

	if _, err := tx.ExecContext(ctx, c.rebind(`DELETE FROM samples WHERE root = ?`), res.Root); err != nil {
		return fmt.Errorf("clear samples: %w", err)
	}
	_, err = tx.ExecContext(ctx, c.rebind(`
		INSERT INTO libraries(root, checksum, files, indexed_at)
		VALUES(?, ?, ?, ?)
		ON CONFLICT(root) DO UPDATE SET
		  checksum = excluded.checksum, files = excluded.files, indexed_at = excluded.indexed_at`),
		res.Root, res.Checksum, len(res.Files), now)
	if err != nil {
		return fmt.Errorf("upsert library: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, c.rebind(`
		INSERT INTO samples(root, file, dir, name, folded, format, size, checksum)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?)`))
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range res.Files {
		if _, err := stmt.ExecContext(ctx, res.Root, e.File, e.Dir, e.Name, indexstore.Fold(e.Name), e.Format, e.Size, e.Checksum); err != nil {
			return fmt.Errorf("insert %s: %w", e.File, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	logging.Debug("catalog updated",
		zap.String("root", res.Root),
		zap.Int("samples", len(res.Files)))
	return nil
}

// Search returns samples whose name contains query, ignoring case and
// Unicode composition, ordered by root then path.
func (c *Catalog) Search(ctx context.Context, query string, limit int) ([]Sample, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	start := time.Now()
	defer func() { metrics.RecordDBQuery("search", time.Since(start)) }()

	rows, err := c.db.QueryContext(ctx, c.rebind(`
		SELECT root, file, dir, name, format, size, checksum
		FROM samples
		WHERE folded LIKE ? ESCAPE '\'
		ORDER BY root, file
		LIMIT ?`), "%"+escapeLike(indexstore.Fold(query))+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer rows.Close()

	var out []Sample
	for rows.Next() {
		var s Sample
		if err := rows.Scan(&s.Root, &s.File, &s.Dir, &s.Name, &s.Format, &s.Size, &s.Checksum); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Libraries lists the catalogued roots.
func (c *Catalog) Libraries(ctx context.Context) ([]Library, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT root, checksum, files, indexed_at FROM libraries ORDER BY root`)
	if err != nil {
		return nil, fmt.Errorf("list libraries: %w", err)
	}
	defer rows.Close()

	var out []Library
	for rows.Next() {
		var (
			l  Library
			at string
		)
		if err := rows.Scan(&l.Root, &l.Checksum, &l.Files, &at); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		l.IndexedAt, _ = time.Parse(time.RFC3339, at)
		out = append(out, l)
	}
	return out, rows.Err()
}

// Forget removes a root and its samples.
func (c *Catalog) Forget(ctx context.Context, root string) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, c.rebind(`DELETE FROM samples WHERE root = ?`), root); err != nil {
		return fmt.Errorf("delete samples: %w", err)
	}
	if _, err := tx.ExecContext(ctx, c.rebind(`DELETE FROM libraries WHERE root = ?`), root); err != nil {
		return fmt.Errorf("delete library: %w", err)
	}
	return tx.Commit()
}

// rebind rewrites ? placeholders as $n for PostgreSQL.
func (c *Catalog) rebind(q string) string {
	if !c.postgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
