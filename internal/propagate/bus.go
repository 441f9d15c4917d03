// Package propagate applies entity updates and pushes their consequences
// outward: persistence, cache invalidation across the descendant subtree,
// and change events for subscribed watchers.
package propagate

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"contexthub/internal/entity"
)

// Updated describes one applied entity update.
type Updated struct {
	EventID   string         `json:"event_id"`
	Type      entity.Type    `json:"entity_type"`
	ID        string         `json:"entity_id"`
	Fields    []string       `json:"fields"`
	Version   int64          `json:"version"`
	Timestamp time.Time      `json:"timestamp"`
}

// Ref returns the updated entity's reference.
func (u Updated) Ref() entity.Ref {
	return entity.Ref{Type: u.Type, ID: u.ID}
}

// DefaultRecentEvents bounds the replayable ring buffer.
const DefaultRecentEvents = 128

// subscriberBuffer is each watcher channel's capacity. A watcher that
// falls this far behind starts losing events rather than blocking writes.
const subscriberBuffer = 16

// Bus fans applied-update events out to subscribers and retains a ring
// of recent events for poll-style consumers. Publishing never blocks:
// a full subscriber channel drops the event for that subscriber only.
type Bus struct {
	mu      sync.Mutex
	nextID  int
	subs    map[int]chan Updated
	recent  []Updated
	maxKeep int
	dropped int64
	log     *zap.Logger
}

// NewBus creates a bus retaining up to maxRecent events for replay.
func NewBus(maxRecent int, log *zap.Logger) *Bus {
	if maxRecent <= 0 {
		maxRecent = DefaultRecentEvents
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{
		subs:    map[int]chan Updated{},
		maxKeep: maxRecent,
		log:     log,
	}
}

// Subscribe registers a watcher. The returned cancel func must be called
// to release the subscription; the channel is closed by cancel.
func (b *Bus) Subscribe() (<-chan Updated, func()) {
	ch := make(chan Updated, subscriberBuffer)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish records the event and delivers it to every subscriber that can
// accept it without blocking.
func (b *Bus) Publish(ev Updated) {
	if ev.EventID == "" {
		ev.EventID = uuid.NewString()
	}
	b.mu.Lock()
	b.recent = append(b.recent, ev)
	if len(b.recent) > b.maxKeep {
		b.recent = b.recent[len(b.recent)-b.maxKeep:]
	}
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.dropped++
			b.log.Warn("dropping update event for slow subscriber",
				zap.String("event_id", ev.EventID),
				zap.String("entity", ev.Ref().String()))
		}
	}
	b.mu.Unlock()
}

// Recent returns up to limit most-recent events, oldest first. limit <= 0
// returns the full retained window.
func (b *Bus) Recent(limit int) []Updated {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.recent)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Updated, n)
	copy(out, b.recent[len(b.recent)-n:])
	return out
}

// Dropped reports how many events were discarded for slow subscribers.
func (b *Bus) Dropped() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
