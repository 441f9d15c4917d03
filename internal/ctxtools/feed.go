package ctxtools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"contexthub/internal/propagate"
)

// UpdatesFeedTool handles the updates_feed MCP tool.
type UpdatesFeedTool struct {
	bus *propagate.Bus
}

// NewUpdatesFeedTool creates an UpdatesFeedTool with the given event bus.
func NewUpdatesFeedTool(bus *propagate.Bus) *UpdatesFeedTool {
	return &UpdatesFeedTool{bus: bus}
}

// Definition returns the MCP tool definition for updates_feed.
func (t *UpdatesFeedTool) Definition() mcp.Tool {
	return mcp.NewTool("updates_feed",
		mcp.WithDescription(
			"List recent context update events, oldest first. Use this to poll for entity "+
				"changes made by other agents since your last read.",
		),
		mcp.WithNumber("limit",
			mcp.Description("Max events to return (default: 20)"),
		),
	)
}

// Handle processes the updates_feed tool call.
func (t *UpdatesFeedTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := intArg(req, "limit", 20)

	events := t.bus.Recent(limit)
	if len(events) == 0 {
		return mcp.NewToolResultText("No recent update events."), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Recent updates (%d):\n\n", len(events))
	for _, ev := range events {
		fmt.Fprintf(&b, "- [%s] %s v%d fields: %s (event %s)\n",
			ev.Timestamp.Format(time.RFC3339), ev.Ref(), ev.Version,
			strings.Join(ev.Fields, ", "), ev.EventID)
	}

	return mcp.NewToolResultText(b.String()), nil
}
