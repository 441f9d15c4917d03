package supporting

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"contexthub/internal/entity"
	"contexthub/internal/payload"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// timeNow is a package-level variable for testability.
var timeNow = time.Now

// Record kinds stored by the reference store, one per payload section.
const (
	KindDocument = "document"
	KindEvidence = "evidence"
	KindEvent    = "event"
	KindSummary  = "summary"
)

// Config holds reference record store configuration.
type Config struct {
	DataDir string
}

// RecordStore is the SQLite reference implementation serving all four
// supporting-data sources from a single records table. Real deployments
// can point any section at an external system instead; the engine only
// sees the Source interface.
type RecordStore struct {
	db *sql.DB
}

// NewRecordStore opens (creating if needed) the records database under
// cfg.DataDir with WAL mode and runs migrations.
func NewRecordStore(cfg Config) (*RecordStore, error) {
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("supporting: create data dir: %w", err)
	}

	dbPath := filepath.Join(cfg.DataDir, "records.db")
	db, err := openDB("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("supporting: open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return nil, fmt.Errorf("supporting: pragma %q: %w", p, err)
		}
	}

	s := &RecordStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("supporting: migration: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *RecordStore) Close() error {
	return s.db.Close()
}

func (s *RecordStore) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS records (
			id          TEXT PRIMARY KEY,
			entity_type TEXT NOT NULL,
			entity_id   TEXT NOT NULL,
			kind        TEXT NOT NULL,
			title       TEXT NOT NULL,
			content     TEXT NOT NULL DEFAULT '',
			source      TEXT,
			created_at  TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_records_entity ON records(entity_type, entity_id, kind, created_at DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Add persists one record attached to an entity. An empty ID gets a fresh
// UUID; an empty CreatedAt gets the current time.
func (s *RecordStore) Add(ctx context.Context, ref entity.Ref, rec payload.Record) (string, error) {
	if rec.Kind == "" {
		return "", fmt.Errorf("supporting: record kind is required")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	created := rec.CreatedAt
	if created.IsZero() {
		created = timeNow()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO records (id, entity_type, entity_id, kind, title, content, source, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, ref.Type, ref.ID, rec.Kind, rec.Title, rec.Content,
		nullableString(rec.Source), created.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", fmt.Errorf("supporting: add record for %s: %w", ref, err)
	}
	return rec.ID, nil
}

// ForKind returns a Source view over one record kind, newest first.
func (s *RecordStore) ForKind(kind string) Source {
	return kindSource{store: s, kind: kind}
}

type kindSource struct {
	store *RecordStore
	kind  string
}

func (k kindSource) ListByEntity(ctx context.Context, ref entity.Ref, limit int) ([]payload.Record, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	rows, err := k.store.db.QueryContext(ctx,
		`SELECT id, kind, title, content, COALESCE(source, ''), created_at
		 FROM records
		 WHERE entity_type = ? AND entity_id = ? AND kind = ?
		 ORDER BY created_at DESC
		 LIMIT ?`,
		ref.Type, ref.ID, k.kind, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("supporting: list %s for %s: %w", k.kind, ref, err)
	}
	defer func() { _ = rows.Close() }()

	var records []payload.Record
	for rows.Next() {
		var rec payload.Record
		var createdAt string
		if err := rows.Scan(&rec.ID, &rec.Kind, &rec.Title, &rec.Content, &rec.Source, &createdAt); err != nil {
			return nil, err
		}
		if ts, err := time.Parse(time.RFC3339, createdAt); err == nil {
			rec.CreatedAt = ts
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// nullableString converts "" to NULL for optional columns.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

var _ Source = kindSource{}
