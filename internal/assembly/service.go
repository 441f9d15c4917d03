// Package assembly is the engine's composition point: it turns an entity
// reference plus delivery options into one bounded context payload, and
// routes updates through the propagator so caches and watchers stay
// coherent. Reads are served from cache when possible, assembled fresh
// otherwise; a fresh assembly degrades gracefully when secondary sources
// fail and caches only complete, non-canceled results.
package assembly

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"contexthub/internal/cache"
	"contexthub/internal/entity"
	"contexthub/internal/facts"
	"contexthub/internal/payload"
	"contexthub/internal/propagate"
	"contexthub/internal/quality"
	"contexthub/internal/sixw"
	"contexthub/internal/stage"
	"contexthub/internal/supporting"
)

// timeNow is a package-level variable for testability.
var timeNow = time.Now

// Options shape one context request. The zero value means: no stage or
// role filtering, no inheritance audit block, no children listing.
type Options struct {
	Stage              stage.Stage `json:"stage,omitempty"`
	Role               stage.Role  `json:"agent_role,omitempty"`
	IncludeInheritance bool        `json:"include_inheritance,omitempty"`
	IncludeChildren    bool        `json:"include_children,omitempty"`
	SkipCache          bool        `json:"skip_cache,omitempty"`
}

// Service assembles and delivers context payloads.
type Service struct {
	gateway    entity.Gateway
	loader     *supporting.Loader
	facts      facts.Provider
	cache      *cache.Cache
	propagator *propagate.Propagator
	log        *zap.Logger
}

// New wires a Service. loader, facts provider, cache and propagator may
// each be nil, degrading the matching capability; gateway is required.
func New(gateway entity.Gateway, loader *supporting.Loader, fp facts.Provider,
	c *cache.Cache, p *propagate.Propagator, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		gateway:    gateway,
		loader:     loader,
		facts:      fp,
		cache:      c,
		propagator: p,
		log:        log,
	}
}

// GetContext returns the assembled payload for one entity. Identical
// requests between updates are served from cache with cache_hit set;
// per-request meta (generated_at, duration) is restamped on every call.
func (s *Service) GetContext(ctx context.Context, ref entity.Ref, opts Options) (*payload.ContextPayload, error) {
	start := timeNow()
	if err := entity.ValidateType(ref.Type); err != nil {
		return nil, invalid(ref, err.Error())
	}
	if ref.ID == "" {
		return nil, invalid(ref, "entity id is required")
	}

	key := cache.Key{
		Type:               ref.Type,
		ID:                 ref.ID,
		Stage:              string(opts.Stage),
		Role:               string(opts.Role),
		IncludeInheritance: opts.IncludeInheritance,
		IncludeChildren:    opts.IncludeChildren,
	}

	if s.cache != nil && !opts.SkipCache {
		if p := s.cache.Get(ctx, key); p != nil {
			p.Meta.CacheHit = true
			p.Meta.GeneratedAt = start.UTC()
			p.Meta.DurationMS = timeNow().Sub(start).Milliseconds()
			return p, nil
		}
	}

	p, err := s.assemble(ctx, ref, opts)
	if err != nil {
		return nil, err
	}

	p.Meta = payload.Meta{
		FormatVersion: payload.FormatVersion,
		GeneratedAt:   start.UTC(),
		DurationMS:    timeNow().Sub(start).Milliseconds(),
		CacheHit:      false,
	}

	// A canceled request may have assembled a partial view; never let it
	// poison the cache.
	if s.cache != nil && !opts.SkipCache && ctx.Err() == nil {
		s.cache.Set(ctx, key, p)
	}
	return p, nil
}

// UpdateContext applies a partial update through the propagator, which
// persists it, invalidates the entity's cached views and publishes a
// change event; with cascade set, descendants are touched too, since
// their inherited views embed the changed values. A subsequent
// GetContext observes the write.
func (s *Service) UpdateContext(ctx context.Context, ref entity.Ref, updates entity.Updates, cascade bool) (*entity.Entity, error) {
	if err := entity.ValidateType(ref.Type); err != nil {
		return nil, invalid(ref, err.Error())
	}
	if ref.ID == "" {
		return nil, invalid(ref, "entity id is required")
	}
	if len(updates.Fields) == 0 {
		return nil, invalid(ref, "no fields to update")
	}
	if s.propagator == nil {
		return nil, unavailable(ref, "updates are not enabled", nil)
	}

	updated, err := s.propagator.Apply(ctx, ref, updates, cascade)
	if err != nil {
		switch {
		case errors.Is(err, entity.ErrNotFound):
			return nil, notFound(ref, err)
		case errors.Is(err, entity.ErrConflict):
			return nil, conflict(ref, err)
		default:
			return nil, unavailable(ref, "update failed", err)
		}
	}
	return updated, nil
}

// assemble performs one full cache-miss assembly.
func (s *Service) assemble(ctx context.Context, ref entity.Ref, opts Options) (*payload.ContextPayload, error) {
	ent, ancestors, err := s.fetchEntity(ctx, ref)
	if err != nil {
		return nil, err
	}

	chain := make([]sixw.Level, 0, len(ancestors)+1)
	for _, a := range ancestors {
		chain = append(chain, sixw.Level{Name: a.Type.LevelName(), ID: a.ID, Attrs: a.Attrs})
	}
	chain = append(chain, sixw.Level{Name: ent.Type.LevelName(), ID: ent.ID, Attrs: ent.Attrs})

	merged, ledger, err := sixw.Merge(chain)
	if err != nil {
		return nil, unavailable(ref, "merge failed", err)
	}

	// Secondary sources load concurrently; each degrades independently
	// to a payload warning naming what is missing.
	var (
		support      payload.SupportingData
		loadWarnings []string
		factsWarning string
		childWarning string
		codeFacts    *payload.Facts
		children     []entity.Entity
	)
	g, gctx := errgroup.WithContext(ctx)
	if s.loader != nil {
		g.Go(func() error {
			var err error
			support, loadWarnings, err = s.loader.Load(gctx, ref)
			return err
		})
	}
	if s.facts != nil {
		g.Go(func() error {
			f, err := s.facts.Facts(gctx, ref, ent.Path, merged.Repositories)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				s.log.Warn("facts provider failed", zap.String("entity", ref.String()), zap.Error(err))
				factsWarning = fmt.Sprintf("code facts unavailable: %v", err)
				return nil
			}
			codeFacts = f
			return nil
		})
	}
	if opts.IncludeChildren {
		g.Go(func() error {
			kids, err := s.gateway.GetChildren(gctx, ref)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				s.log.Warn("children listing failed", zap.String("entity", ref.String()), zap.Error(err))
				childWarning = fmt.Sprintf("children unavailable: %v", err)
				return nil
			}
			children = kids
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, unavailable(ref, "assembly aborted", err)
	}

	q := quality.Score(quality.Input{
		Merged:               merged,
		Status:               ent.Status,
		UpdatedAt:            ent.UpdatedAt,
		LastValidatedAt:      ent.LastValidatedAt,
		StakeholderConfirmed: ent.StakeholderConfirmed,
		Facts:                codeFacts,
		Stage:                opts.Stage,
	})
	warnings := loadWarnings
	if factsWarning != "" {
		warnings = append(warnings, factsWarning)
	}
	if childWarning != "" {
		warnings = append(warnings, childWarning)
	}
	q.Warnings = append(warnings, q.Warnings...)

	p := &payload.ContextPayload{
		Entity:     descriptor(ent),
		SixW:       merged,
		Supporting: support,
		Facts:      codeFacts,
		Quality:    q,
	}
	if opts.IncludeInheritance {
		p.Inheritance = &payload.Inheritance{Chain: chain, Ledger: ledger}
	}
	if opts.IncludeChildren {
		p.Children = descriptors(children)
	}

	if opts.Stage.Known() || opts.Role.Known() {
		p = stage.Filter(p, opts.Stage, opts.Role)
	}
	return p, nil
}

// fetchEntity reads the entity and its ancestor chain, retrying once on
// transient store failure before giving up as unavailable.
func (s *Service) fetchEntity(ctx context.Context, ref entity.Ref) (*entity.Entity, []entity.Entity, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		ent, err := s.gateway.GetEntity(ctx, ref)
		if err != nil {
			if errors.Is(err, entity.ErrNotFound) {
				return nil, nil, notFound(ref, err)
			}
			if ctx.Err() != nil {
				return nil, nil, unavailable(ref, "request canceled", err)
			}
			lastErr = err
			continue
		}

		ancestors, err := s.gateway.GetAncestors(ctx, ref)
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, unavailable(ref, "request canceled", err)
			}
			lastErr = err
			continue
		}
		return ent, ancestors, nil
	}
	return nil, nil, unavailable(ref, "entity store unreachable", lastErr)
}

func descriptor(e *entity.Entity) payload.Descriptor {
	return payload.Descriptor{
		Type:       string(e.Type),
		ID:         e.ID,
		Name:       e.Name,
		Status:     string(e.Status),
		ParentType: string(e.ParentType),
		ParentID:   e.ParentID,
		UpdatedAt:  e.UpdatedAt,
	}
}

func descriptors(entities []entity.Entity) []payload.Descriptor {
	if len(entities) == 0 {
		return nil
	}
	out := make([]payload.Descriptor, len(entities))
	for i := range entities {
		out[i] = descriptor(&entities[i])
	}
	return out
}
