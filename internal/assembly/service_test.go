package assembly

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"contexthub/internal/cache"
	"contexthub/internal/entity"
	"contexthub/internal/payload"
	"contexthub/internal/propagate"
	"contexthub/internal/sixw"
	"contexthub/internal/stage"
	"contexthub/internal/supporting"
)

// fakeGateway implements entity.Gateway over in-memory maps with
// programmable failures.
type fakeGateway struct {
	entities    map[entity.Ref]*entity.Entity
	getErr      error
	childrenErr error
	getCalls    int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{entities: map[entity.Ref]*entity.Entity{}}
}

func (f *fakeGateway) put(e *entity.Entity) {
	if e.Version == 0 {
		e.Version = 1
	}
	f.entities[e.Ref()] = e
}

func (f *fakeGateway) GetEntity(ctx context.Context, ref entity.Ref) (*entity.Entity, error) {
	f.getCalls++
	if f.getErr != nil {
		return nil, f.getErr
	}
	e, ok := f.entities[ref]
	if !ok {
		return nil, entity.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (f *fakeGateway) GetAncestors(ctx context.Context, ref entity.Ref) ([]entity.Entity, error) {
	e, ok := f.entities[ref]
	if !ok {
		return nil, entity.ErrNotFound
	}
	var chain []entity.Entity
	for e.ParentID != "" {
		parent, ok := f.entities[entity.Ref{Type: e.ParentType, ID: e.ParentID}]
		if !ok {
			return nil, entity.ErrNotFound
		}
		chain = append([]entity.Entity{*parent}, chain...)
		e = parent
	}
	return chain, nil
}

func (f *fakeGateway) GetChildren(ctx context.Context, ref entity.Ref) ([]entity.Entity, error) {
	if f.childrenErr != nil {
		return nil, f.childrenErr
	}
	var out []entity.Entity
	for _, e := range f.entities {
		if e.ParentType == ref.Type && e.ParentID == ref.ID {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (f *fakeGateway) ApplyUpdates(ctx context.Context, ref entity.Ref, updates entity.Updates) (*entity.Entity, error) {
	e, ok := f.entities[ref]
	if !ok {
		return nil, entity.ErrNotFound
	}
	if updates.ExpectedVersion != 0 && updates.ExpectedVersion != e.Version {
		return nil, entity.ErrConflict
	}
	for key, raw := range updates.Fields {
		v, err := sixw.ValueFromAny(raw)
		if err != nil {
			return nil, err
		}
		if err := sixw.SetField(&e.Attrs, key, v); err != nil {
			return nil, err
		}
	}
	e.Version++
	e.UpdatedAt = time.Now()
	cp := *e
	return &cp, nil
}

// seedHierarchy stores the canonical project → work_item → task chain with
// an overridden business_value at the task level.
func seedHierarchy(g *fakeGateway) entity.Ref {
	now := time.Now().Add(-time.Hour)
	g.put(&entity.Entity{
		Type: entity.TypeProject, ID: "p-1", Status: entity.StatusActive, UpdatedAt: now,
		Attrs: sixw.SixW{
			BusinessValue: "increase retention",
			EndUsers:      []string{"enterprise customers"},
		},
	})
	g.put(&entity.Entity{
		Type: entity.TypeWorkItem, ID: "w-1",
		ParentType: entity.TypeProject, ParentID: "p-1",
		Status: entity.StatusActive, UpdatedAt: now,
		Attrs: sixw.SixW{FunctionalRequirements: []string{"churn dashboard"}},
	})
	g.put(&entity.Entity{
		Type: entity.TypeTask, ID: "t-1",
		ParentType: entity.TypeWorkItem, ParentID: "w-1",
		Status: entity.StatusActive, UpdatedAt: now,
		Attrs: sixw.SixW{BusinessValue: "reduce churn for enterprise tier"},
	})
	return entity.Ref{Type: entity.TypeTask, ID: "t-1"}
}

func newTestCache(t *testing.T) *cache.Cache {
	t.Helper()
	c, err := cache.New(32, time.Minute, nil, nil)
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	return c
}

// failingSource always errors, for degradation tests.
type failingSource struct{}

func (failingSource) ListByEntity(ctx context.Context, ref entity.Ref, limit int) ([]payload.Record, error) {
	return nil, errors.New("connection refused")
}

// failingFacts always errors, for degradation tests.
type failingFacts struct{}

func (failingFacts) Facts(ctx context.Context, ref entity.Ref, path string, repositories []string) (*payload.Facts, error) {
	return nil, errors.New("plugin crashed")
}

// ─── GetContext ──────────────────────────────────────────────────────────────

func TestGetContext_MergesDownTheHierarchy(t *testing.T) {
	g := newFakeGateway()
	leaf := seedHierarchy(g)
	svc := New(g, nil, nil, nil, nil, nil)

	p, err := svc.GetContext(context.Background(), leaf, Options{IncludeInheritance: true})
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	if p.SixW.BusinessValue != "reduce churn for enterprise tier" {
		t.Errorf("business_value = %q, want the task override", p.SixW.BusinessValue)
	}
	if len(p.SixW.EndUsers) != 1 || p.SixW.EndUsers[0] != "enterprise customers" {
		t.Errorf("end_users = %v, want inherited project value", p.SixW.EndUsers)
	}
	if len(p.SixW.FunctionalRequirements) != 1 {
		t.Errorf("functional_requirements = %v, want inherited work item value", p.SixW.FunctionalRequirements)
	}

	if p.Inheritance == nil {
		t.Fatal("include_inheritance was requested")
	}
	if len(p.Inheritance.Chain) != 3 {
		t.Errorf("chain length = %d, want 3", len(p.Inheritance.Chain))
	}
	ov, ok := p.Inheritance.Ledger["business_value"]
	if !ok {
		t.Fatal("business_value override missing from ledger")
	}
	if ov.Original.Scalar != "increase retention" || ov.Level != "task" {
		t.Errorf("override = %+v", ov)
	}
	if _, ok := p.Inheritance.Ledger["end_users"]; ok {
		t.Error("plain inheritance must not appear in the ledger")
	}

	if p.Meta.FormatVersion != payload.FormatVersion {
		t.Errorf("format version = %q", p.Meta.FormatVersion)
	}
	if p.Meta.CacheHit {
		t.Error("first assembly must not be a cache hit")
	}
}

func TestGetContext_NotFound(t *testing.T) {
	svc := New(newFakeGateway(), nil, nil, nil, nil, nil)
	_, err := svc.GetContext(context.Background(), entity.Ref{Type: entity.TypeTask, ID: "ghost"}, Options{})
	if KindOf(err) != KindNotFound {
		t.Fatalf("kind = %q, want not_found (err: %v)", KindOf(err), err)
	}
	if !errors.Is(err, entity.ErrNotFound) {
		t.Error("error must unwrap to the gateway sentinel")
	}
}

func TestGetContext_InvalidRequest(t *testing.T) {
	svc := New(newFakeGateway(), nil, nil, nil, nil, nil)

	_, err := svc.GetContext(context.Background(), entity.Ref{Type: "epic", ID: "x"}, Options{})
	if KindOf(err) != KindInvalid {
		t.Errorf("invalid type: kind = %q, want invalid_request", KindOf(err))
	}
	_, err = svc.GetContext(context.Background(), entity.Ref{Type: entity.TypeTask}, Options{})
	if KindOf(err) != KindInvalid {
		t.Errorf("empty id: kind = %q, want invalid_request", KindOf(err))
	}
}

func TestGetContext_RetriesOnceThenUnavailable(t *testing.T) {
	g := newFakeGateway()
	g.getErr = errors.New("store offline")
	svc := New(g, nil, nil, nil, nil, nil)

	_, err := svc.GetContext(context.Background(), entity.Ref{Type: entity.TypeTask, ID: "t-1"}, Options{})
	if KindOf(err) != KindUnavailable {
		t.Fatalf("kind = %q, want unavailable (err: %v)", KindOf(err), err)
	}
	if g.getCalls != 2 {
		t.Errorf("gateway called %d times, want one retry (2 calls)", g.getCalls)
	}
}

func TestGetContext_SecondCallHitsCache(t *testing.T) {
	g := newFakeGateway()
	leaf := seedHierarchy(g)
	svc := New(g, nil, nil, newTestCache(t), nil, nil)

	first, err := svc.GetContext(context.Background(), leaf, Options{})
	if err != nil {
		t.Fatalf("first get: %v", err)
	}
	second, err := svc.GetContext(context.Background(), leaf, Options{})
	if err != nil {
		t.Fatalf("second get: %v", err)
	}

	if first.Meta.CacheHit {
		t.Error("first call should assemble")
	}
	if !second.Meta.CacheHit {
		t.Error("second identical call should hit the cache")
	}
	if second.SixW.BusinessValue != first.SixW.BusinessValue {
		t.Error("cached payload differs from assembled one")
	}
}

func TestGetContext_SkipCacheBypasses(t *testing.T) {
	g := newFakeGateway()
	leaf := seedHierarchy(g)
	svc := New(g, nil, nil, newTestCache(t), nil, nil)

	if _, err := svc.GetContext(context.Background(), leaf, Options{}); err != nil {
		t.Fatalf("warm: %v", err)
	}
	fresh, err := svc.GetContext(context.Background(), leaf, Options{SkipCache: true})
	if err != nil {
		t.Fatalf("fresh: %v", err)
	}
	if fresh.Meta.CacheHit {
		t.Error("skip_cache must bypass the cache")
	}
}

func TestGetContext_DegradedSupportingSourceWarnsNotFails(t *testing.T) {
	g := newFakeGateway()
	leaf := seedHierarchy(g)
	loader := supporting.NewLoader(supporting.Sources{Evidence: failingSource{}}, 10, nil)
	svc := New(g, loader, nil, nil, nil, nil)

	p, err := svc.GetContext(context.Background(), leaf, Options{})
	if err != nil {
		t.Fatalf("a degraded source must not fail assembly: %v", err)
	}
	found := false
	for _, w := range p.Quality.Warnings {
		if strings.Contains(w, "evidence unavailable") {
			found = true
		}
	}
	if !found {
		t.Errorf("warnings = %v, want one naming the evidence source", p.Quality.Warnings)
	}
}

func TestGetContext_FactsFailureDegradesToWarning(t *testing.T) {
	g := newFakeGateway()
	leaf := seedHierarchy(g)
	svc := New(g, nil, failingFacts{}, nil, nil, nil)

	p, err := svc.GetContext(context.Background(), leaf, Options{})
	if err != nil {
		t.Fatalf("a failing facts provider must not fail assembly: %v", err)
	}
	if p.Facts != nil {
		t.Errorf("facts = %+v, want none", p.Facts)
	}
	found := false
	for _, w := range p.Quality.Warnings {
		if strings.Contains(w, "code facts unavailable") {
			found = true
		}
	}
	if !found {
		t.Errorf("warnings = %v, want one naming the facts provider", p.Quality.Warnings)
	}
}

func TestGetContext_ChildrenFailureDegradesToWarning(t *testing.T) {
	g := newFakeGateway()
	leaf := seedHierarchy(g)
	g.childrenErr = errors.New("index offline")
	svc := New(g, nil, nil, nil, nil, nil)

	p, err := svc.GetContext(context.Background(), leaf, Options{IncludeChildren: true})
	if err != nil {
		t.Fatalf("a failing children listing must not fail assembly: %v", err)
	}
	if len(p.Children) != 0 {
		t.Errorf("children = %v, want none", p.Children)
	}
	found := false
	for _, w := range p.Quality.Warnings {
		if strings.Contains(w, "children unavailable") {
			found = true
		}
	}
	if !found {
		t.Errorf("warnings = %v, want one naming the children listing", p.Quality.Warnings)
	}
}

func TestGetContext_CachedPayloadEqualsAssembledPayload(t *testing.T) {
	g := newFakeGateway()
	leaf := seedHierarchy(g)
	svc := New(g, nil, nil, newTestCache(t), nil, nil)

	first, err := svc.GetContext(context.Background(), leaf, Options{IncludeInheritance: true, IncludeChildren: true})
	if err != nil {
		t.Fatalf("first get: %v", err)
	}
	second, err := svc.GetContext(context.Background(), leaf, Options{IncludeInheritance: true, IncludeChildren: true})
	if err != nil {
		t.Fatalf("second get: %v", err)
	}
	if !second.Meta.CacheHit {
		t.Fatal("second identical call should be served from cache")
	}

	// Equal payloads modulo per-request meta.
	first.Meta, second.Meta = payload.Meta{}, payload.Meta{}
	a, err := json.Marshal(first)
	if err != nil {
		t.Fatalf("marshal first: %v", err)
	}
	b, err := json.Marshal(second)
	if err != nil {
		t.Fatalf("marshal second: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Errorf("cached payload diverges from assembled one:\nfresh:  %s\ncached: %s", a, b)
	}
}

func TestGetContext_StageAndRoleFilterApplied(t *testing.T) {
	g := newFakeGateway()
	leaf := seedHierarchy(g)
	svc := New(g, nil, nil, nil, nil, nil)

	p, err := svc.GetContext(context.Background(), leaf, Options{
		Stage: stage.StageImplementation,
		Role:  stage.RoleImplementer,
	})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if p.SixW.BusinessValue != "" {
		t.Error("implementation stage must trim business_value")
	}
	if len(p.SixW.FunctionalRequirements) == 0 {
		t.Error("implementation stage must keep functional_requirements")
	}
}

func TestGetContext_FilteredViewsCachedSeparately(t *testing.T) {
	g := newFakeGateway()
	leaf := seedHierarchy(g)
	svc := New(g, nil, nil, newTestCache(t), nil, nil)
	ctx := context.Background()

	full, err := svc.GetContext(ctx, leaf, Options{})
	if err != nil {
		t.Fatalf("full: %v", err)
	}
	filtered, err := svc.GetContext(ctx, leaf, Options{Stage: stage.StageImplementation})
	if err != nil {
		t.Fatalf("filtered: %v", err)
	}
	if filtered.Meta.CacheHit {
		t.Error("a differently-optioned request must not reuse the full view")
	}
	if full.SixW.BusinessValue == "" || filtered.SixW.BusinessValue != "" {
		t.Error("views crossed cache slots")
	}
}

func TestGetContext_IncludeChildren(t *testing.T) {
	g := newFakeGateway()
	seedHierarchy(g)
	svc := New(g, nil, nil, nil, nil, nil)

	p, err := svc.GetContext(context.Background(), entity.Ref{Type: entity.TypeWorkItem, ID: "w-1"}, Options{
		IncludeChildren: true,
	})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(p.Children) != 1 || p.Children[0].ID != "t-1" {
		t.Errorf("children = %v, want [t-1]", p.Children)
	}
}

func TestGetContext_CanceledRequestNotCached(t *testing.T) {
	g := newFakeGateway()
	leaf := seedHierarchy(g)
	svc := New(g, nil, nil, newTestCache(t), nil, nil)

	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	// The in-memory fake still answers, so assembly succeeds — but the
	// result must not be cached under a canceled request.
	if _, err := svc.GetContext(canceled, leaf, Options{}); err != nil {
		t.Fatalf("get: %v", err)
	}

	p, err := svc.GetContext(context.Background(), leaf, Options{})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if p.Meta.CacheHit {
		t.Error("payload assembled under a canceled context leaked into the cache")
	}
}

// ─── UpdateContext ───────────────────────────────────────────────────────────

func TestUpdateContext_ReadYourWrites(t *testing.T) {
	g := newFakeGateway()
	leaf := seedHierarchy(g)
	c := newTestCache(t)
	prop := propagate.New(g, c, nil, nil)
	svc := New(g, nil, nil, c, prop, nil)
	ctx := context.Background()

	if _, err := svc.GetContext(ctx, leaf, Options{}); err != nil {
		t.Fatalf("warm: %v", err)
	}
	if _, err := svc.UpdateContext(ctx, leaf, entity.Updates{
		Fields: map[string]any{"suggested_approach": "extend the report builder"},
	}, true); err != nil {
		t.Fatalf("update: %v", err)
	}

	p, err := svc.GetContext(ctx, leaf, Options{})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if p.Meta.CacheHit {
		t.Error("stale view survived the update")
	}
	if p.SixW.SuggestedApproach != "extend the report builder" {
		t.Errorf("suggested_approach = %q, update not visible", p.SixW.SuggestedApproach)
	}
}

func TestUpdateContext_ConflictKind(t *testing.T) {
	g := newFakeGateway()
	leaf := seedHierarchy(g)
	prop := propagate.New(g, nil, nil, nil)
	svc := New(g, nil, nil, nil, prop, nil)

	_, err := svc.UpdateContext(context.Background(), leaf, entity.Updates{
		Fields:          map[string]any{"deadline": "2026-10-01"},
		ExpectedVersion: 99,
	}, false)
	if KindOf(err) != KindConflict {
		t.Fatalf("kind = %q, want conflict (err: %v)", KindOf(err), err)
	}
}

func TestUpdateContext_NotFoundKind(t *testing.T) {
	g := newFakeGateway()
	prop := propagate.New(g, nil, nil, nil)
	svc := New(g, nil, nil, nil, prop, nil)

	_, err := svc.UpdateContext(context.Background(), entity.Ref{Type: entity.TypeTask, ID: "ghost"}, entity.Updates{
		Fields: map[string]any{"deadline": "2026-10-01"},
	}, false)
	if KindOf(err) != KindNotFound {
		t.Fatalf("kind = %q, want not_found (err: %v)", KindOf(err), err)
	}
}

func TestUpdateContext_EmptyUpdateRejected(t *testing.T) {
	g := newFakeGateway()
	leaf := seedHierarchy(g)
	svc := New(g, nil, nil, nil, propagate.New(g, nil, nil, nil), nil)

	_, err := svc.UpdateContext(context.Background(), leaf, entity.Updates{}, false)
	if KindOf(err) != KindInvalid {
		t.Fatalf("kind = %q, want invalid_request", KindOf(err))
	}
}

var _ entity.Gateway = (*fakeGateway)(nil)
