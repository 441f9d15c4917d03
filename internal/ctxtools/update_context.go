package ctxtools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"contexthub/internal/assembly"
	"contexthub/internal/entity"
)

// UpdateContextTool handles the update_context MCP tool.
type UpdateContextTool struct {
	svc *assembly.Service
}

// NewUpdateContextTool creates an UpdateContextTool with the given service.
func NewUpdateContextTool(svc *assembly.Service) *UpdateContextTool {
	return &UpdateContextTool{svc: svc}
}

// Definition returns the MCP tool definition for update_context.
func (t *UpdateContextTool) Definition() mcp.Tool {
	return mcp.NewTool("update_context",
		mcp.WithDescription(
			"Apply a partial update to an entity's context attributes. Accepts 6W field names "+
				"(end_users, functional_requirements, business_value, ...) plus the reserved keys "+
				"name, status, stakeholder_confirmed and last_validated_at. Cached views of the "+
				"entity and its descendants are invalidated, and a change event is published.",
		),
		mcp.WithString("entity_type",
			mcp.Required(),
			mcp.Description("Entity type: project, work_item, task, or idea"),
		),
		mcp.WithString("entity_id",
			mcp.Required(),
			mcp.Description("Entity identifier"),
		),
		mcp.WithString("fields",
			mcp.Required(),
			mcp.Description(`JSON object of field updates, e.g. {"business_value": "reduce churn", "reviewers": ["ana", "luis"]}`),
		),
		mcp.WithNumber("expected_version",
			mcp.Description("Optimistic concurrency token: fail with a conflict if the entity's version differs"),
		),
		mcp.WithBoolean("cascade",
			mcp.Description("Also touch descendants so their inherited views are rebuilt (default true)"),
		),
	)
}

// Handle processes the update_context tool call.
func (t *UpdateContextTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ref, errMsg := refArgs(req)
	if errMsg != "" {
		return mcp.NewToolResultError(errMsg), nil
	}

	raw := req.GetString("fields", "")
	if raw == "" {
		return mcp.NewToolResultError("'fields' is required"), nil
	}
	var fields map[string]any
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("'fields' must be a JSON object: %v", err)), nil
	}

	updates := entity.Updates{
		Fields:          fields,
		ExpectedVersion: int64(intArg(req, "expected_version", 0)),
	}

	updated, err := t.svc.UpdateContext(ctx, ref, updates, boolArg(req, "cascade", true))
	if err != nil {
		var ae *assembly.Error
		if errors.As(err, &ae) {
			switch ae.Kind {
			case assembly.KindNotFound:
				return mcp.NewToolResultError(fmt.Sprintf("entity %s not found", ref)), nil
			case assembly.KindConflict:
				return mcp.NewToolResultError(fmt.Sprintf(
					"version conflict on %s: re-read the context and retry", ref)), nil
			}
		}
		return mcp.NewToolResultError(fmt.Sprintf("update failed: %v", err)), nil
	}

	names := make([]string, 0, len(fields))
	for k := range fields {
		names = append(names, k)
	}
	sort.Strings(names)

	return mcp.NewToolResultText(fmt.Sprintf(
		"Updated %s (version %d)\nFields: %s",
		ref, updated.Version, strings.Join(names, ", "))), nil
}
