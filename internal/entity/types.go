// Package entity defines the entity model the assembly engine reads:
// the four entity types, their ownership hierarchy (project → work item →
// task, with ideas as free-standing roots), the status enumeration, and
// the Gateway contract a data provider must satisfy.
//
// The engine does not own entity records — it consumes them through
// Gateway and owns only the derived payloads and cache entries. A SQLite
// reference Gateway ships in this package (sqlite.go) so the binary works
// end to end without an external provider.
package entity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"contexthub/internal/sixw"
)

// --- Entity type enum ---

// Type identifies which kind of entity a record is.
type Type string

const (
	TypeProject  Type = "project"
	TypeWorkItem Type = "work_item"
	TypeTask     Type = "task"
	TypeIdea     Type = "idea"
)

// validTypes is the set of allowed entity types.
var validTypes = map[Type]bool{
	TypeProject:  true,
	TypeWorkItem: true,
	TypeTask:     true,
	TypeIdea:     true,
}

// ValidateType returns an error if the type is not recognized.
func ValidateType(t Type) error {
	if !validTypes[t] {
		return fmt.Errorf("invalid entity type %q: must be one of: project, work_item, task, idea", t)
	}
	return nil
}

// LevelName returns the hierarchy level label used in merge chains and
// override ledgers. It is the type string itself; the indirection keeps
// call sites honest about which concept they mean.
func (t Type) LevelName() string { return string(t) }

// --- Status enum ---

// Status tracks an entity's lifecycle. The set is small and closed; the
// quality scorer maps each status to a fixed freshness weight.
type Status string

const (
	StatusPlanned   Status = "planned"
	StatusActive    Status = "active"
	StatusBlocked   Status = "blocked"
	StatusCompleted Status = "completed"
	StatusArchived  Status = "archived"
)

// validStatuses is the set of allowed statuses.
var validStatuses = map[Status]bool{
	StatusPlanned:   true,
	StatusActive:    true,
	StatusBlocked:   true,
	StatusCompleted: true,
	StatusArchived:  true,
}

// ValidateStatus returns an error if the status is not recognized.
func ValidateStatus(s Status) error {
	if !validStatuses[s] {
		return fmt.Errorf("invalid status %q: must be one of: planned, active, blocked, completed, archived", s)
	}
	return nil
}

// --- Core data structures ---

// Ref identifies one entity by type and id. Two refs are comparable and
// usable as map keys.
type Ref struct {
	Type Type   `json:"type"`
	ID   string `json:"id"`
}

func (r Ref) String() string { return fmt.Sprintf("%s/%s", r.Type, r.ID) }

// Entity is one record in the ownership hierarchy with its raw 6W
// attributes and the scoring inputs the quality model reads.
type Entity struct {
	Type       Type   `json:"type"`
	ID         string `json:"id"`
	Name       string `json:"name"`
	ParentType Type   `json:"parent_type,omitempty"`
	ParentID   string `json:"parent_id,omitempty"`
	Path       string `json:"path,omitempty"` // workspace path for code intelligence

	Status Status    `json:"status"`
	Attrs  sixw.SixW `json:"attrs"`

	StakeholderConfirmed bool       `json:"stakeholder_confirmed"`
	LastValidatedAt      *time.Time `json:"last_validated_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int64     `json:"version"` // optimistic concurrency token
}

// Ref returns the entity's identifying reference.
func (e *Entity) Ref() Ref { return Ref{Type: e.Type, ID: e.ID} }

// HasParent reports whether the entity declares an owner.
func (e *Entity) HasParent() bool { return e.ParentID != "" }

// --- Update contract ---

// Updates carries a partial mutation: 6W field names (see sixw.FieldNames)
// mapped to their new values, plus the reserved keys "status",
// "stakeholder_confirmed" and "last_validated_at". ExpectedVersion, when
// non-zero, makes the write conditional: a mismatch fails with ErrConflict
// instead of silently merging.
type Updates struct {
	Fields          map[string]any `json:"fields"`
	ExpectedVersion int64          `json:"expected_version,omitempty"`
}

// FieldNames returns the names of the fields being updated, for event
// payloads.
func (u Updates) FieldNames() []string {
	names := make([]string, 0, len(u.Fields))
	for k := range u.Fields {
		names = append(names, k)
	}
	return names
}

// --- Gateway contract ---

// Sentinel errors a Gateway implementation must return so callers can
// classify failures.
var (
	// ErrNotFound means the entity (or an ancestor) does not exist.
	ErrNotFound = errors.New("entity not found")
	// ErrConflict means a conditional update lost a concurrent race.
	ErrConflict = errors.New("concurrent update conflict")
)

// Gateway is the read/write contract over the entity store. Implementations
// must return entities with stable UpdatedAt timestamps and a Status from
// the known enumeration. GetAncestors returns the chain root-first,
// excluding the entity itself.
type Gateway interface {
	GetEntity(ctx context.Context, ref Ref) (*Entity, error)
	GetAncestors(ctx context.Context, ref Ref) ([]Entity, error)
	GetChildren(ctx context.Context, ref Ref) ([]Entity, error)
	ApplyUpdates(ctx context.Context, ref Ref, updates Updates) (*Entity, error)
}
