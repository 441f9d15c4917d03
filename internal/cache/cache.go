// Package cache is the two-tier payload cache: a small in-process LRU in
// front of a SQLite table that survives restarts. Both tiers are strictly
// best-effort — every failure is logged and absorbed, and callers fall
// back to a full assembly. Correctness comes from invalidation on write,
// not from TTLs; the TTL is a backstop against missed invalidations.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"contexthub/internal/entity"
	"contexthub/internal/payload"
)

// timeNow is a package-level variable for testability.
var timeNow = time.Now

const (
	// DefaultMemoryEntries bounds the in-process tier.
	DefaultMemoryEntries = 512
	// DefaultTTL is the backstop expiry for both tiers.
	DefaultTTL = 15 * time.Minute
)

// Key identifies one assembled view of one entity. Every option that
// changes payload content must appear here, or two different views would
// collide on one cache slot.
type Key struct {
	Type               entity.Type
	ID                 string
	Stage              string
	Role               string
	IncludeInheritance bool
	IncludeChildren    bool
}

// String renders the composite key. The "type/id|" prefix is what entity
// invalidation matches on, so the entity part must come first.
func (k Key) String() string {
	return fmt.Sprintf("%s/%s|stage=%s|role=%s|inherit=%s|children=%s",
		k.Type, k.ID, k.Stage, k.Role,
		strconv.FormatBool(k.IncludeInheritance),
		strconv.FormatBool(k.IncludeChildren))
}

// entityPrefix is the invalidation prefix covering every view of one entity.
func entityPrefix(ref entity.Ref) string {
	return ref.String() + "|"
}

type memoryEntry struct {
	payload   *payload.ContextPayload
	expiresAt time.Time
}

// Stats are monotonic counters exposed through the stats tool.
type Stats struct {
	MemoryHits  int64 `json:"memory_hits"`
	StoreHits   int64 `json:"store_hits"`
	Misses      int64 `json:"misses"`
	Sets        int64 `json:"sets"`
	Evictions   int64 `json:"evictions"`
	StoreErrors int64 `json:"store_errors"`
}

// Cache is the two-tier cache. The persistent tier may be nil, which
// degrades to memory-only caching.
type Cache struct {
	memory *lru.Cache[string, memoryEntry]
	store  *Store
	ttl    time.Duration
	log    *zap.Logger

	memoryHits  atomic.Int64
	storeHits   atomic.Int64
	misses      atomic.Int64
	sets        atomic.Int64
	evictions   atomic.Int64
	storeErrors atomic.Int64
}

// New creates the cache. entries <= 0 and ttl <= 0 fall back to defaults;
// store may be nil for memory-only operation; a nil logger becomes a nop.
func New(entries int, ttl time.Duration, store *Store, log *zap.Logger) (*Cache, error) {
	if entries <= 0 {
		entries = DefaultMemoryEntries
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log == nil {
		log = zap.NewNop()
	}
	c := &Cache{store: store, ttl: ttl, log: log}
	mem, err := lru.NewWithEvict[string, memoryEntry](entries, func(string, memoryEntry) {
		c.evictions.Add(1)
	})
	if err != nil {
		return nil, fmt.Errorf("cache: create lru: %w", err)
	}
	c.memory = mem
	return c, nil
}

// Get returns a deep copy of the cached payload, or nil on miss. Expiry
// is checked on read; a memory miss falls through to the persistent tier
// and promotes the hit back into memory.
func (c *Cache) Get(ctx context.Context, key Key) *payload.ContextPayload {
	ks := key.String()
	now := timeNow()

	if entry, ok := c.memory.Get(ks); ok {
		if now.Before(entry.expiresAt) {
			c.memoryHits.Add(1)
			return entry.payload.Clone()
		}
		c.memory.Remove(ks)
	}

	if c.store != nil {
		p, expiresAt, err := c.store.Get(ctx, ks, now)
		if err != nil {
			c.storeErrors.Add(1)
			c.log.Warn("cache store read failed", zap.String("key", ks), zap.Error(err))
		} else if p != nil {
			c.storeHits.Add(1)
			c.memory.Add(ks, memoryEntry{payload: p, expiresAt: expiresAt})
			return p.Clone()
		}
	}

	c.misses.Add(1)
	return nil
}

// Set stores a deep copy of the payload in both tiers.
func (c *Cache) Set(ctx context.Context, key Key, p *payload.ContextPayload) {
	if p == nil {
		return
	}
	ks := key.String()
	expiresAt := timeNow().Add(c.ttl)
	c.sets.Add(1)
	c.memory.Add(ks, memoryEntry{payload: p.Clone(), expiresAt: expiresAt})

	if c.store != nil {
		prefix := entityPrefix(entity.Ref{Type: key.Type, ID: key.ID})
		if err := c.store.Set(ctx, ks, prefix, p, expiresAt); err != nil {
			c.storeErrors.Add(1)
			c.log.Warn("cache store write failed", zap.String("key", ks), zap.Error(err))
		}
	}
}

// InvalidateEntity removes every cached view of one entity from both
// tiers: all stage/role/option combinations at once.
func (c *Cache) InvalidateEntity(ctx context.Context, ref entity.Ref) {
	c.InvalidatePattern(ctx, entityPrefix(ref))
}

// InvalidatePattern removes every key with the given prefix from both
// tiers. Persistent rows are indexed by their entity prefix, so the
// prefix should end at the "type/id|" boundary to reach tier 2; shorter
// prefixes still clear the memory tier.
func (c *Cache) InvalidatePattern(ctx context.Context, prefix string) {
	for _, ks := range c.memory.Keys() {
		if strings.HasPrefix(ks, prefix) {
			c.memory.Remove(ks)
		}
	}
	if c.store != nil {
		if err := c.store.DeletePrefix(ctx, prefix); err != nil {
			c.storeErrors.Add(1)
			c.log.Warn("cache store invalidation failed", zap.String("prefix", prefix), zap.Error(err))
		}
	}
}

// Purge drops everything from both tiers.
func (c *Cache) Purge(ctx context.Context) {
	c.memory.Purge()
	if c.store != nil {
		if err := c.store.DeleteAll(ctx); err != nil {
			c.storeErrors.Add(1)
			c.log.Warn("cache store purge failed", zap.Error(err))
		}
	}
}

// Stats snapshots the counters.
func (c *Cache) Stats() Stats {
	return Stats{
		MemoryHits:  c.memoryHits.Load(),
		StoreHits:   c.storeHits.Load(),
		Misses:      c.misses.Load(),
		Sets:        c.sets.Load(),
		Evictions:   c.evictions.Load(),
		StoreErrors: c.storeErrors.Load(),
	}
}

// marshalPayload and unmarshalPayload keep the persisted representation
// in one place.
func marshalPayload(p *payload.ContextPayload) ([]byte, error) {
	return json.Marshal(p)
}

func unmarshalPayload(data []byte) (*payload.ContextPayload, error) {
	var p payload.ContextPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}
