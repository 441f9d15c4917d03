package ctxtools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"contexthub/internal/entity"
	"contexthub/internal/sixw"
)

// PutEntityTool handles the put_entity MCP tool.
type PutEntityTool struct {
	gateway *entity.SQLiteGateway
}

// NewPutEntityTool creates a PutEntityTool with the given gateway.
func NewPutEntityTool(gateway *entity.SQLiteGateway) *PutEntityTool {
	return &PutEntityTool{gateway: gateway}
}

// Definition returns the MCP tool definition for put_entity.
func (t *PutEntityTool) Definition() mcp.Tool {
	return mcp.NewTool("put_entity",
		mcp.WithDescription(
			"Create or replace an entity in the hierarchy. Projects and ideas are roots; "+
				"work items belong to a project; tasks belong to a work item. Attributes use "+
				"the 6W field names (end_users, functional_requirements, business_value, ...).",
		),
		mcp.WithString("entity_type",
			mcp.Required(),
			mcp.Description("Entity type: project, work_item, task, or idea"),
		),
		mcp.WithString("entity_id",
			mcp.Required(),
			mcp.Description("Entity identifier"),
		),
		mcp.WithString("name",
			mcp.Description("Display name"),
		),
		mcp.WithString("parent_type",
			mcp.Description("Parent entity type (required for work_item and task)"),
		),
		mcp.WithString("parent_id",
			mcp.Description("Parent entity identifier"),
		),
		mcp.WithString("status",
			mcp.Description("Lifecycle status: planned (default), active, blocked, completed, archived"),
		),
		mcp.WithString("attrs",
			mcp.Description(`JSON object of 6W attributes, e.g. {"business_value": "reduce churn"}`),
		),
		mcp.WithString("path",
			mcp.Description("Workspace path used for code-facts detection"),
		),
	)
}

// Handle processes the put_entity tool call.
func (t *PutEntityTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ref, errMsg := refArgs(req)
	if errMsg != "" {
		return mcp.NewToolResultError(errMsg), nil
	}

	e := &entity.Entity{
		Type:       ref.Type,
		ID:         ref.ID,
		Name:       req.GetString("name", ""),
		ParentType: entity.Type(req.GetString("parent_type", "")),
		ParentID:   req.GetString("parent_id", ""),
		Path:       req.GetString("path", ""),
		Status:     entity.Status(req.GetString("status", "")),
	}
	if e.ParentID != "" {
		if err := entity.ValidateType(e.ParentType); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid parent: %v", err)), nil
		}
	}

	if raw := req.GetString("attrs", ""); raw != "" {
		var fields map[string]any
		if err := json.Unmarshal([]byte(raw), &fields); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("'attrs' must be a JSON object: %v", err)), nil
		}
		for key, rawVal := range fields {
			v, err := sixw.ValueFromAny(rawVal)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("attr %q: %v", key, err)), nil
			}
			if err := sixw.SetField(&e.Attrs, key, v); err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
		}
	}

	if err := t.gateway.Put(ctx, e); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to store entity: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Stored %s", ref)), nil
}
