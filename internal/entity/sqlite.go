package entity

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"contexthub/internal/sixw"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// timeNow is a package-level variable for testability.
var timeNow = time.Now

// maxChainDepth bounds ancestor walks so a corrupted parent link cannot
// loop forever.
const maxChainDepth = 16

// Config holds reference gateway configuration.
type Config struct {
	DataDir string
}

// DefaultConfig returns the default configuration for the entity store.
func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	return Config{DataDir: filepath.Join(home, ".contexthub")}
}

// SQLiteGateway is the reference Gateway implementation backed by SQLite.
// It is a working provider, not the only one: the engine depends on the
// Gateway interface and any store honoring the contract can replace this.
type SQLiteGateway struct {
	db *sql.DB
}

// NewSQLiteGateway opens (creating if needed) the entity database under
// cfg.DataDir with WAL mode and runs migrations.
func NewSQLiteGateway(cfg Config) (*SQLiteGateway, error) {
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("entity: create data dir: %w", err)
	}

	dbPath := filepath.Join(cfg.DataDir, "entities.db")
	db, err := openDB("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("entity: open database: %w", err)
	}

	// SQLite performance pragmas
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return nil, fmt.Errorf("entity: pragma %q: %w", p, err)
		}
	}

	g := &SQLiteGateway{db: db}
	if err := g.migrate(); err != nil {
		return nil, fmt.Errorf("entity: migration: %w", err)
	}
	return g, nil
}

// Close closes the underlying database connection.
func (g *SQLiteGateway) Close() error {
	return g.db.Close()
}

func (g *SQLiteGateway) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS entities (
			type                  TEXT    NOT NULL,
			id                    TEXT    NOT NULL,
			name                  TEXT    NOT NULL DEFAULT '',
			parent_type           TEXT,
			parent_id             TEXT,
			path                  TEXT,
			status                TEXT    NOT NULL DEFAULT 'planned',
			attrs                 TEXT    NOT NULL DEFAULT '{}',
			stakeholder_confirmed INTEGER NOT NULL DEFAULT 0,
			last_validated_at     TEXT,
			created_at            TEXT    NOT NULL,
			updated_at            TEXT    NOT NULL,
			version               INTEGER NOT NULL DEFAULT 1,
			PRIMARY KEY (type, id)
		);

		CREATE INDEX IF NOT EXISTS idx_entities_parent ON entities(parent_type, parent_id);
		CREATE INDEX IF NOT EXISTS idx_entities_status ON entities(status);
	`
	if _, err := g.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// Put upserts an entity record. Used for seeding and by providers that sync
// from an external system. The version is preserved on insert and bumped on
// replace.
func (g *SQLiteGateway) Put(ctx context.Context, e *Entity) error {
	if err := ValidateType(e.Type); err != nil {
		return fmt.Errorf("entity: put: %w", err)
	}
	if e.Status == "" {
		e.Status = StatusPlanned
	}
	if err := ValidateStatus(e.Status); err != nil {
		return fmt.Errorf("entity: put: %w", err)
	}

	attrs, err := json.Marshal(e.Attrs)
	if err != nil {
		return fmt.Errorf("entity: marshal attrs: %w", err)
	}

	now := timeNow().UTC().Format(time.RFC3339Nano)
	created := now
	if !e.CreatedAt.IsZero() {
		created = e.CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	updated := now
	if !e.UpdatedAt.IsZero() {
		updated = e.UpdatedAt.UTC().Format(time.RFC3339Nano)
	}
	version := e.Version
	if version <= 0 {
		version = 1
	}

	_, err = g.db.ExecContext(ctx,
		`INSERT INTO entities (type, id, name, parent_type, parent_id, path, status, attrs,
		                       stakeholder_confirmed, last_validated_at, created_at, updated_at, version)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(type, id) DO UPDATE SET
		     name = excluded.name,
		     parent_type = excluded.parent_type,
		     parent_id = excluded.parent_id,
		     path = excluded.path,
		     status = excluded.status,
		     attrs = excluded.attrs,
		     stakeholder_confirmed = excluded.stakeholder_confirmed,
		     last_validated_at = excluded.last_validated_at,
		     updated_at = excluded.updated_at,
		     version = entities.version + 1`,
		e.Type, e.ID, e.Name,
		nullableString(string(e.ParentType)), nullableString(e.ParentID), nullableString(e.Path),
		e.Status, string(attrs),
		boolToInt(e.StakeholderConfirmed), nullableTime(e.LastValidatedAt),
		created, updated, version,
	)
	if err != nil {
		return fmt.Errorf("entity: put %s: %w", e.Ref(), err)
	}
	return nil
}

// GetEntity retrieves one entity by reference.
func (g *SQLiteGateway) GetEntity(ctx context.Context, ref Ref) (*Entity, error) {
	row := g.db.QueryRowContext(ctx, selectColumns+` WHERE type = ? AND id = ?`, ref.Type, ref.ID)
	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("entity: %s: %w", ref, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("entity: get %s: %w", ref, err)
	}
	return e, nil
}

// GetAncestors walks parent links up to the root and returns the chain
// root-first, excluding the entity itself. A missing ancestor is an
// ErrNotFound — a broken chain means the leaf's inherited view cannot be
// resolved.
func (g *SQLiteGateway) GetAncestors(ctx context.Context, ref Ref) ([]Entity, error) {
	current, err := g.GetEntity(ctx, ref)
	if err != nil {
		return nil, err
	}

	var ancestors []Entity
	for depth := 0; current.HasParent(); depth++ {
		if depth >= maxChainDepth {
			return nil, fmt.Errorf("entity: ancestor chain for %s exceeds depth %d", ref, maxChainDepth)
		}
		parentRef := Ref{Type: current.ParentType, ID: current.ParentID}
		parent, err := g.GetEntity(ctx, parentRef)
		if err != nil {
			return nil, fmt.Errorf("entity: ancestor %s of %s: %w", parentRef, ref, err)
		}
		// Prepend: the walk is leaf-up, the contract is root-first.
		ancestors = append([]Entity{*parent}, ancestors...)
		current = parent
	}
	return ancestors, nil
}

// GetChildren returns the direct children of an entity.
func (g *SQLiteGateway) GetChildren(ctx context.Context, ref Ref) ([]Entity, error) {
	rows, err := g.db.QueryContext(ctx,
		selectColumns+` WHERE parent_type = ? AND parent_id = ? ORDER BY id`,
		ref.Type, ref.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("entity: children of %s: %w", ref, err)
	}
	defer func() { _ = rows.Close() }()

	var children []Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("entity: scan child of %s: %w", ref, err)
		}
		children = append(children, *e)
	}
	return children, rows.Err()
}

// ApplyUpdates applies a partial mutation atomically. Recognized keys are
// the 15 sixw field names plus "name", "status", "stakeholder_confirmed"
// and "last_validated_at". When ExpectedVersion is set and stale the write
// fails with ErrConflict; the version check is re-asserted in the UPDATE
// itself so even unconditional writes cannot lose a concurrent race.
func (g *SQLiteGateway) ApplyUpdates(ctx context.Context, ref Ref, updates Updates) (*Entity, error) {
	e, err := g.GetEntity(ctx, ref)
	if err != nil {
		return nil, err
	}
	if updates.ExpectedVersion != 0 && updates.ExpectedVersion != e.Version {
		return nil, fmt.Errorf("entity: %s at version %d, expected %d: %w",
			ref, e.Version, updates.ExpectedVersion, ErrConflict)
	}

	for key, raw := range updates.Fields {
		switch key {
		case "name":
			s, ok := raw.(string)
			if !ok {
				return nil, fmt.Errorf("entity: update %s: name must be a string", ref)
			}
			e.Name = s
		case "status":
			s, ok := raw.(string)
			if !ok {
				return nil, fmt.Errorf("entity: update %s: status must be a string", ref)
			}
			if err := ValidateStatus(Status(s)); err != nil {
				return nil, fmt.Errorf("entity: update %s: %w", ref, err)
			}
			e.Status = Status(s)
		case "stakeholder_confirmed":
			b, ok := raw.(bool)
			if !ok {
				return nil, fmt.Errorf("entity: update %s: stakeholder_confirmed must be a bool", ref)
			}
			e.StakeholderConfirmed = b
		case "last_validated_at":
			s, ok := raw.(string)
			if !ok {
				return nil, fmt.Errorf("entity: update %s: last_validated_at must be an RFC3339 string", ref)
			}
			ts, err := time.Parse(time.RFC3339, s)
			if err != nil {
				return nil, fmt.Errorf("entity: update %s: parse last_validated_at: %w", ref, err)
			}
			e.LastValidatedAt = &ts
		default:
			v, err := sixw.ValueFromAny(raw)
			if err != nil {
				return nil, fmt.Errorf("entity: update %s field %q: %w", ref, key, err)
			}
			if err := sixw.SetField(&e.Attrs, key, v); err != nil {
				return nil, fmt.Errorf("entity: update %s: %w", ref, err)
			}
		}
	}

	attrs, err := json.Marshal(e.Attrs)
	if err != nil {
		return nil, fmt.Errorf("entity: marshal attrs: %w", err)
	}

	now := timeNow().UTC()
	res, err := g.db.ExecContext(ctx,
		`UPDATE entities
		 SET name = ?,
		     status = ?,
		     attrs = ?,
		     stakeholder_confirmed = ?,
		     last_validated_at = ?,
		     updated_at = ?,
		     version = version + 1
		 WHERE type = ? AND id = ? AND version = ?`,
		e.Name, e.Status, string(attrs),
		boolToInt(e.StakeholderConfirmed), nullableTime(e.LastValidatedAt),
		now.Format(time.RFC3339Nano),
		ref.Type, ref.ID, e.Version,
	)
	if err != nil {
		return nil, fmt.Errorf("entity: update %s: %w", ref, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("entity: %s changed underneath the update: %w", ref, ErrConflict)
	}

	e.UpdatedAt = now
	e.Version++
	return e, nil
}

// Counts returns the number of entities per type, for diagnostics.
func (g *SQLiteGateway) Counts(ctx context.Context) (map[Type]int, error) {
	rows, err := g.db.QueryContext(ctx, `SELECT type, COUNT(*) FROM entities GROUP BY type`)
	if err != nil {
		return nil, fmt.Errorf("entity: counts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := map[Type]int{}
	for rows.Next() {
		var t Type
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			return nil, err
		}
		counts[t] = n
	}
	return counts, rows.Err()
}

// --- Row scanning helpers ---

const selectColumns = `
	SELECT type, id, name, parent_type, parent_id, path, status, attrs,
	       stakeholder_confirmed, last_validated_at, created_at, updated_at, version
	FROM entities`

// rowScanner abstracts *sql.Row and *sql.Rows for scanEntity.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(row rowScanner) (*Entity, error) {
	var (
		e           Entity
		parentType  sql.NullString
		parentID    sql.NullString
		path        sql.NullString
		attrs       string
		confirmed   int
		validatedAt sql.NullString
		createdAt   string
		updatedAt   string
	)
	if err := row.Scan(
		&e.Type, &e.ID, &e.Name, &parentType, &parentID, &path, &e.Status, &attrs,
		&confirmed, &validatedAt, &createdAt, &updatedAt, &e.Version,
	); err != nil {
		return nil, err
	}

	e.ParentType = Type(parentType.String)
	e.ParentID = parentID.String
	e.Path = path.String
	e.StakeholderConfirmed = confirmed != 0

	if err := json.Unmarshal([]byte(attrs), &e.Attrs); err != nil {
		return nil, fmt.Errorf("parse attrs for %s: %w", e.Ref(), err)
	}
	if validatedAt.Valid {
		if ts, err := time.Parse(time.RFC3339, validatedAt.String); err == nil {
			e.LastValidatedAt = &ts
		}
	}
	if ts, err := time.Parse(time.RFC3339, createdAt); err == nil {
		e.CreatedAt = ts
	}
	if ts, err := time.Parse(time.RFC3339, updatedAt); err == nil {
		e.UpdatedAt = ts
	}
	return &e, nil
}

// nullableString converts "" to NULL for optional columns.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// nullableTime converts a nil time pointer to NULL.
func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ Gateway = (*SQLiteGateway)(nil)
