// Package payload defines the immutable context payload the engine
// assembles and serves. A payload is created fresh on every cache miss and
// never mutated afterward — a new payload replaces a stale one. Everything
// is JSON-serializable; Meta.FormatVersion is mandatory for forward
// compatibility.
package payload

import (
	"time"

	"contexthub/internal/sixw"
)

// FormatVersion is stamped into every payload's meta block.
const FormatVersion = "1"

// Descriptor is the lightweight identity block for an entity.
type Descriptor struct {
	Type       string    `json:"type"`
	ID         string    `json:"id"`
	Name       string    `json:"name,omitempty"`
	Status     string    `json:"status"`
	ParentType string    `json:"parent_type,omitempty"`
	ParentID   string    `json:"parent_id,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Record is one supporting artifact: a document, a piece of evidence, an
// event or a summary attached to the entity.
type Record struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Title     string    `json:"title"`
	Content   string    `json:"content,omitempty"`
	Source    string    `json:"source,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// SupportingData groups the four supporting artifact streams.
type SupportingData struct {
	Documents []Record `json:"documents,omitempty"`
	Evidence  []Record `json:"evidence,omitempty"`
	Events    []Record `json:"events,omitempty"`
	Summaries []Record `json:"summaries,omitempty"`
}

// Facts holds code-intelligence results for the entity's workspace path.
type Facts struct {
	Languages   []string `json:"languages,omitempty"`
	Frameworks  []string `json:"frameworks,omitempty"`
	BuildSystem string   `json:"build_system,omitempty"`
	Verified    bool     `json:"verified"`
}

// Band is the tri-level classification of the confidence score. It is a
// pure function of the score and is never stored independently of it.
type Band string

const (
	BandRed    Band = "RED"    // confidence < 0.5
	BandYellow Band = "YELLOW" // 0.5 <= confidence < 0.8
	BandGreen  Band = "GREEN"  // confidence >= 0.8
)

// Breakdown exposes the individual factors behind the three scores, for
// audit and debugging.
type Breakdown struct {
	EvidenceCoverage     float64 `json:"evidence_coverage"`
	ValidationRecency    float64 `json:"validation_recency"`
	StakeholderConfirmed float64 `json:"stakeholder_confirmed"`
	VerifiedFacts        float64 `json:"verified_facts"`
	TimeDecay            float64 `json:"time_decay"`
	StatusWeight         float64 `json:"status_weight"`
}

// QualityBlock carries the three scores (each clamped to [0,1]), the band
// derived from confidence, the factor breakdown, and any warnings.
type QualityBlock struct {
	Confidence   float64   `json:"confidence"`
	Completeness float64   `json:"completeness"`
	Freshness    float64   `json:"freshness"`
	Band         Band      `json:"band"`
	Breakdown    Breakdown `json:"breakdown"`
	Warnings     []string  `json:"warnings,omitempty"`
}

// Inheritance exposes the raw ancestor chain and the override ledger so a
// caller can audit why a merged value has its current form.
type Inheritance struct {
	Chain  []sixw.Level `json:"chain"`
	Ledger sixw.Ledger  `json:"ledger,omitempty"`
}

// Meta is the payload envelope: format version, generation timestamp,
// assembly duration and whether the payload came from cache.
type Meta struct {
	FormatVersion string    `json:"format_version"`
	GeneratedAt   time.Time `json:"generated_at"`
	DurationMS    int64     `json:"duration_ms"`
	CacheHit      bool      `json:"cache_hit"`
}

// ContextPayload is the single bounded result object the engine delivers.
type ContextPayload struct {
	Entity      Descriptor      `json:"entity"`
	SixW        sixw.SixW       `json:"sixw"`
	Inheritance *Inheritance    `json:"inheritance,omitempty"`
	Supporting  SupportingData  `json:"supporting"`
	Facts       *Facts          `json:"facts,omitempty"`
	Quality     QualityBlock    `json:"quality"`
	Children    []Descriptor    `json:"children,omitempty"`
	Meta        Meta            `json:"meta"`
}

// Clone returns a deep copy. Cached payloads are handed out as clones so a
// caller can never mutate shared cache state.
func (p *ContextPayload) Clone() *ContextPayload {
	if p == nil {
		return nil
	}
	cp := *p

	cp.Supporting = SupportingData{
		Documents: cloneRecords(p.Supporting.Documents),
		Evidence:  cloneRecords(p.Supporting.Evidence),
		Events:    cloneRecords(p.Supporting.Events),
		Summaries: cloneRecords(p.Supporting.Summaries),
	}
	if p.Facts != nil {
		f := *p.Facts
		f.Languages = cloneStrings(p.Facts.Languages)
		f.Frameworks = cloneStrings(p.Facts.Frameworks)
		cp.Facts = &f
	}
	cp.Quality.Warnings = cloneStrings(p.Quality.Warnings)
	if p.Inheritance != nil {
		inh := Inheritance{Chain: make([]sixw.Level, len(p.Inheritance.Chain))}
		copy(inh.Chain, p.Inheritance.Chain)
		if p.Inheritance.Ledger != nil {
			inh.Ledger = make(sixw.Ledger, len(p.Inheritance.Ledger))
			for k, v := range p.Inheritance.Ledger {
				inh.Ledger[k] = v
			}
		}
		cp.Inheritance = &inh
	}
	if p.Children != nil {
		cp.Children = make([]Descriptor, len(p.Children))
		copy(cp.Children, p.Children)
	}
	return &cp
}

func cloneRecords(in []Record) []Record {
	if in == nil {
		return nil
	}
	out := make([]Record, len(in))
	copy(out, in)
	return out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
