package ctxtools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"contexthub/internal/assembly"
	"contexthub/internal/stage"
)

// GetContextTool handles the get_context MCP tool.
type GetContextTool struct {
	svc *assembly.Service
}

// NewGetContextTool creates a GetContextTool with the given service.
func NewGetContextTool(svc *assembly.Service) *GetContextTool {
	return &GetContextTool{svc: svc}
}

// Definition returns the MCP tool definition for get_context.
func (t *GetContextTool) Definition() mcp.Tool {
	return mcp.NewTool("get_context",
		mcp.WithDescription(
			"Get the assembled context for an entity: effective 6W attributes merged down the "+
				"ownership hierarchy, supporting documents/evidence/events/summaries, code facts, "+
				"and quality scores with a RED/YELLOW/GREEN band. Optionally filtered by workflow "+
				"stage and agent role.",
		),
		mcp.WithString("entity_type",
			mcp.Required(),
			mcp.Description("Entity type: project, work_item, task, or idea"),
		),
		mcp.WithString("entity_id",
			mcp.Required(),
			mcp.Description("Entity identifier"),
		),
		mcp.WithString("stage",
			mcp.Description("Workflow stage filter: discovery, planning, implementation, review, operations, evolution"),
		),
		mcp.WithString("agent_role",
			mcp.Description("Agent role filter: architect, implementer, reviewer, tester, coordinator"),
		),
		mcp.WithBoolean("include_inheritance",
			mcp.Description("Include the raw ancestor chain and override ledger (default: false)"),
		),
		mcp.WithBoolean("include_children",
			mcp.Description("Include direct child descriptors (default: false)"),
		),
		mcp.WithBoolean("fresh",
			mcp.Description("Bypass the cache and assemble from sources (default: false)"),
		),
		mcp.WithString("format",
			mcp.Description("Output format: markdown (default) or json"),
		),
	)
}

// Handle processes the get_context tool call.
func (t *GetContextTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ref, errMsg := refArgs(req)
	if errMsg != "" {
		return mcp.NewToolResultError(errMsg), nil
	}

	opts := assembly.Options{
		Stage:              stage.Stage(req.GetString("stage", "")),
		Role:               stage.Role(req.GetString("agent_role", "")),
		IncludeInheritance: boolArg(req, "include_inheritance", false),
		IncludeChildren:    boolArg(req, "include_children", false),
		SkipCache:          boolArg(req, "fresh", false),
	}

	p, err := t.svc.GetContext(ctx, ref, opts)
	if err != nil {
		var ae *assembly.Error
		if errors.As(err, &ae) && ae.Kind == assembly.KindNotFound {
			return mcp.NewToolResultError(fmt.Sprintf("entity %s not found", ref)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("context assembly failed: %v", err)), nil
	}

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encoding payload: %v", err)), nil
	}

	if req.GetString("format", "markdown") == "json" {
		return mcp.NewToolResultText(string(data)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## Context: %s (%s band, confidence %.2f)\n\n",
		ref, p.Quality.Band, p.Quality.Confidence)
	if len(p.Quality.Warnings) > 0 {
		b.WriteString("Warnings:\n")
		for _, w := range p.Quality.Warnings {
			fmt.Fprintf(&b, "- %s\n", w)
		}
		b.WriteString("\n")
	}
	b.WriteString("```json\n")
	b.Write(data)
	b.WriteString("\n```\n")

	return mcp.NewToolResultText(b.String()), nil
}
