package ctxtools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"contexthub/internal/payload"
	"contexthub/internal/supporting"
)

// AddRecordTool handles the add_record MCP tool.
type AddRecordTool struct {
	store *supporting.RecordStore
}

// NewAddRecordTool creates an AddRecordTool with the given record store.
func NewAddRecordTool(store *supporting.RecordStore) *AddRecordTool {
	return &AddRecordTool{store: store}
}

// Definition returns the MCP tool definition for add_record.
func (t *AddRecordTool) Definition() mcp.Tool {
	return mcp.NewTool("add_record",
		mcp.WithDescription(
			"Attach a supporting record to an entity: a document, a piece of evidence, an "+
				"event, or a summary. Records raise the entity's evidence coverage and appear "+
				"in subsequent get_context payloads.",
		),
		mcp.WithString("entity_type",
			mcp.Required(),
			mcp.Description("Entity type: project, work_item, task, or idea"),
		),
		mcp.WithString("entity_id",
			mcp.Required(),
			mcp.Description("Entity identifier"),
		),
		mcp.WithString("kind",
			mcp.Required(),
			mcp.Description("Record kind: document, evidence, event, or summary"),
		),
		mcp.WithString("title",
			mcp.Required(),
			mcp.Description("Short searchable title"),
		),
		mcp.WithString("content",
			mcp.Description("Record body"),
		),
		mcp.WithString("source",
			mcp.Description("Where the record came from, e.g. a URL or file path"),
		),
	)
}

// Handle processes the add_record tool call.
func (t *AddRecordTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ref, errMsg := refArgs(req)
	if errMsg != "" {
		return mcp.NewToolResultError(errMsg), nil
	}

	kind := req.GetString("kind", "")
	switch kind {
	case supporting.KindDocument, supporting.KindEvidence, supporting.KindEvent, supporting.KindSummary:
	default:
		return mcp.NewToolResultError("'kind' must be one of: document, evidence, event, summary"), nil
	}

	title := req.GetString("title", "")
	if title == "" {
		return mcp.NewToolResultError("'title' is required"), nil
	}

	id, err := t.store.Add(ctx, ref, payload.Record{
		Kind:    kind,
		Title:   title,
		Content: req.GetString("content", ""),
		Source:  req.GetString("source", ""),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to store record: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Stored %s record %s for %s", kind, id, ref)), nil
}
