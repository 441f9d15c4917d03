package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"contexthub/internal/payload"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// Store is the persistent cache tier backed by SQLite. Entries carry an
// absolute expiry, stored as epoch milliseconds so SQL expiry comparisons
// are numeric, and an entity prefix column so invalidation can delete
// every view of an entity without enumerating option combinations.
type Store struct {
	db *sql.DB
}

// StoreConfig holds persistent tier configuration.
type StoreConfig struct {
	DataDir string
}

// NewStore opens (creating if needed) the cache database under
// cfg.DataDir with WAL mode and runs migrations.
func NewStore(cfg StoreConfig) (*Store, error) {
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("cache: create data dir: %w", err)
	}

	dbPath := filepath.Join(cfg.DataDir, "cache.db")
	db, err := openDB("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("cache: open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return nil, fmt.Errorf("cache: pragma %q: %w", p, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("cache: migration: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS cache_entries (
			key           TEXT PRIMARY KEY,
			entity_prefix TEXT NOT NULL,
			payload       TEXT NOT NULL,
			expires_at    INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_cache_prefix ON cache_entries(entity_prefix);
		CREATE INDEX IF NOT EXISTS idx_cache_expires ON cache_entries(expires_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Get returns the stored payload and its expiry, or (nil, zero, nil) on
// miss. Expired rows are treated as misses and deleted opportunistically.
func (s *Store) Get(ctx context.Context, key string, now time.Time) (p *payload.ContextPayload, expiresAt time.Time, err error) {
	var data string
	var expires int64
	row := s.db.QueryRowContext(ctx,
		`SELECT payload, expires_at FROM cache_entries WHERE key = ?`, key)
	if err := row.Scan(&data, &expires); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, time.Time{}, nil
		}
		return nil, time.Time{}, fmt.Errorf("cache: read entry: %w", err)
	}

	expiresAt = time.UnixMilli(expires).UTC()
	if !now.Before(expiresAt) {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key)
		return nil, time.Time{}, nil
	}

	p, err = unmarshalPayload([]byte(data))
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("cache: decode entry: %w", err)
	}
	return p, expiresAt, nil
}

// Set upserts one entry.
func (s *Store) Set(ctx context.Context, key, prefix string, p *payload.ContextPayload, expiresAt time.Time) error {
	data, err := marshalPayload(p)
	if err != nil {
		return fmt.Errorf("cache: encode entry: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO cache_entries (key, entity_prefix, payload, expires_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
			entity_prefix = excluded.entity_prefix,
			payload = excluded.payload,
			expires_at = excluded.expires_at`,
		key, prefix, string(data), expiresAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("cache: write entry: %w", err)
	}
	return nil
}

// DeletePrefix removes every entry for one entity prefix. The prefix is
// stored as its own indexed column, so invalidation never depends on
// LIKE-pattern escaping of the composite key.
func (s *Store) DeletePrefix(ctx context.Context, prefix string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE entity_prefix = ?`, prefix)
	if err != nil {
		return fmt.Errorf("cache: delete prefix: %w", err)
	}
	return nil
}

// DeleteAll empties the table.
func (s *Store) DeleteAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries`); err != nil {
		return fmt.Errorf("cache: purge: %w", err)
	}
	return nil
}

// Sweep deletes rows past their expiry and reports how many were removed.
func (s *Store) Sweep(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE expires_at <= ?`,
		now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("cache: sweep: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Count returns the number of stored entries.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cache_entries`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("cache: count: %w", err)
	}
	return n, nil
}
