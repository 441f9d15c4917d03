package ctxtools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"contexthub/internal/cache"
	"contexthub/internal/entity"
	"contexthub/internal/propagate"
)

// StatsTool handles the context_stats MCP tool.
type StatsTool struct {
	gateway *entity.SQLiteGateway
	cache   *cache.Cache
	bus     *propagate.Bus
}

// NewStatsTool creates a StatsTool. Any dependency may be nil; its section
// is simply omitted from the report.
func NewStatsTool(gateway *entity.SQLiteGateway, c *cache.Cache, bus *propagate.Bus) *StatsTool {
	return &StatsTool{gateway: gateway, cache: c, bus: bus}
}

// Definition returns the MCP tool definition for context_stats.
func (t *StatsTool) Definition() mcp.Tool {
	return mcp.NewTool("context_stats",
		mcp.WithDescription(
			"Show context engine statistics — entity counts per type, cache hit/miss counters, "+
				"and dropped event counts.",
		),
	)
}

// Handle processes the context_stats tool call.
func (t *StatsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var sb strings.Builder
	sb.WriteString("## Context Engine Statistics\n\n")

	if t.gateway != nil {
		counts, err := t.gateway.Counts(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to count entities: %v", err)), nil
		}
		total := 0
		for _, n := range counts {
			total += n
		}
		fmt.Fprintf(&sb, "- **Entities**: %d\n", total)
		for _, typ := range []entity.Type{entity.TypeProject, entity.TypeWorkItem, entity.TypeTask, entity.TypeIdea} {
			if n, ok := counts[typ]; ok {
				fmt.Fprintf(&sb, "  - %s: %d\n", typ, n)
			}
		}
	}

	if t.cache != nil {
		s := t.cache.Stats()
		fmt.Fprintf(&sb, "- **Cache**: %d memory hits, %d store hits, %d misses, %d sets, %d evictions, %d store errors\n",
			s.MemoryHits, s.StoreHits, s.Misses, s.Sets, s.Evictions, s.StoreErrors)
	}

	if t.bus != nil {
		fmt.Fprintf(&sb, "- **Events**: %d retained, %d dropped\n",
			len(t.bus.Recent(0)), t.bus.Dropped())
	}

	return mcp.NewToolResultText(sb.String()), nil
}
