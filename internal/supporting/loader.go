// Package supporting fetches the supporting artifacts attached to an
// entity: documents, evidence, events and summaries. The four sources are
// independent read-only collaborators; the loader fans out to all of them
// concurrently and absorbs individual failures into warnings so a broken
// secondary source never blocks context delivery.
package supporting

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"contexthub/internal/entity"
	"contexthub/internal/payload"
)

// Source is one supporting-data collaborator.
type Source interface {
	ListByEntity(ctx context.Context, ref entity.Ref, limit int) ([]payload.Record, error)
}

// Sources groups the four collaborators. Any of them may be nil, which
// leaves the corresponding payload section empty without a warning — an
// unconfigured source is not a failed one.
type Sources struct {
	Documents Source
	Evidence  Source
	Events    Source
	Summaries Source
}

// DefaultLimit bounds how many records each source contributes, keeping
// the payload bounded.
const DefaultLimit = 20

// Loader fans out to the configured sources.
type Loader struct {
	sources Sources
	limit   int
	log     *zap.Logger
}

// NewLoader creates a Loader. A limit <= 0 falls back to DefaultLimit;
// a nil logger is replaced with a nop logger.
func NewLoader(sources Sources, limit int, log *zap.Logger) *Loader {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Loader{sources: sources, limit: limit, log: log}
}

// Load fetches all four sections concurrently. Source errors are absorbed:
// the affected section stays empty and a warning names the missing
// dependency. The returned warnings are sorted for deterministic payloads.
// Only context cancellation aborts the whole load.
func (l *Loader) Load(ctx context.Context, ref entity.Ref) (payload.SupportingData, []string, error) {
	type section struct {
		name   string
		source Source
		sink   *[]payload.Record
	}

	var data payload.SupportingData
	sections := []section{
		{"documents", l.sources.Documents, &data.Documents},
		{"evidence", l.sources.Evidence, &data.Evidence},
		{"events", l.sources.Events, &data.Events},
		{"summaries", l.sources.Summaries, &data.Summaries},
	}

	var mu sync.Mutex
	var warnings []string

	g, gctx := errgroup.WithContext(ctx)
	for _, sec := range sections {
		if sec.source == nil {
			continue
		}
		g.Go(func() error {
			records, err := sec.source.ListByEntity(gctx, ref, l.limit)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				l.log.Warn("supporting source failed",
					zap.String("section", sec.name),
					zap.String("entity", ref.String()),
					zap.Error(err))
				mu.Lock()
				warnings = append(warnings, fmt.Sprintf("%s unavailable: %v", sec.name, err))
				mu.Unlock()
				return nil // degraded, not fatal
			}
			mu.Lock()
			*sec.sink = records
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return payload.SupportingData{}, nil, err
	}

	sort.Strings(warnings)
	return data, warnings, nil
}
