package propagate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"contexthub/internal/cache"
	"contexthub/internal/entity"
)

// timeNow is a package-level variable for testability.
var timeNow = time.Now

// maxCascadeDepth caps descendant traversal, mirroring the ancestor chain
// bound in the entity gateway.
const maxCascadeDepth = 16

// Propagator serializes updates per entity and carries each applied
// update through persistence, cache invalidation and event publication,
// in that order. Persistence failure aborts the whole sequence; cache
// failure never does — the cache layer absorbs its own errors.
type Propagator struct {
	gateway entity.Gateway
	cache   *cache.Cache
	bus     *Bus
	log     *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a Propagator. cache and bus may be nil; a nil logger
// becomes a nop.
func New(gateway entity.Gateway, c *cache.Cache, bus *Bus, log *zap.Logger) *Propagator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Propagator{
		gateway: gateway,
		cache:   c,
		bus:     bus,
		log:     log,
		locks:   map[string]*sync.Mutex{},
	}
}

// entityLock returns the per-entity mutex, creating it on first use.
// Locks are never removed; the entity population is small and bounded.
func (p *Propagator) entityLock(ref entity.Ref) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.locks[ref.String()]
	if !ok {
		l = &sync.Mutex{}
		p.locks[ref.String()] = l
	}
	return l
}

// Apply persists the updates and propagates their consequences: cached
// views of the entity are invalidated and a change event is published.
// When cascade is set, every descendant is also touched — its cached
// views dropped and a field-less event published — because descendants
// inherit the changed values. Returns the updated entity as persisted.
func (p *Propagator) Apply(ctx context.Context, ref entity.Ref, updates entity.Updates, cascade bool) (*entity.Entity, error) {
	l := p.entityLock(ref)
	l.Lock()
	defer l.Unlock()

	updated, err := p.gateway.ApplyUpdates(ctx, ref, updates)
	if err != nil {
		return nil, fmt.Errorf("propagate: apply updates to %s: %w", ref, err)
	}

	if p.cache != nil {
		p.cache.InvalidateEntity(ctx, ref)
	}

	if p.bus != nil {
		p.bus.Publish(Updated{
			Type:      ref.Type,
			ID:        ref.ID,
			Fields:    updates.FieldNames(),
			Version:   updated.Version,
			Timestamp: timeNow().UTC(),
		})
	}

	if cascade {
		p.touchDescendants(ctx, ref, 0)
	}

	p.log.Info("entity updated",
		zap.String("entity", ref.String()),
		zap.Strings("fields", updates.FieldNames()),
		zap.Int64("version", updated.Version),
		zap.Bool("cascade", cascade))
	return updated, nil
}

// touchDescendants invalidates cached views of every descendant of ref
// and publishes a field-less event per descendant so watchers re-fetch
// their inherited context. No descendant fields are mutated. Traversal
// failures are logged and the remaining subtree is still visited; a
// missed branch means a stale read until the TTL backstop.
func (p *Propagator) touchDescendants(ctx context.Context, ref entity.Ref, depth int) {
	if depth >= maxCascadeDepth || (p.cache == nil && p.bus == nil) {
		return
	}
	children, err := p.gateway.GetChildren(ctx, ref)
	if err != nil {
		p.log.Warn("cascade could not list children",
			zap.String("entity", ref.String()), zap.Error(err))
		return
	}
	for _, child := range children {
		cref := child.Ref()
		if p.cache != nil {
			p.cache.InvalidateEntity(ctx, cref)
		}
		if p.bus != nil {
			p.bus.Publish(Updated{
				Type:      cref.Type,
				ID:        cref.ID,
				Timestamp: timeNow().UTC(),
			})
		}
		p.touchDescendants(ctx, cref, depth+1)
	}
}
