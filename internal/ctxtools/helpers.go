// Package ctxtools provides the MCP tool handlers for the context engine.
//
// Each tool handler follows the same pattern:
// - A struct with dependencies (assembly.Service, propagate.Bus) injected via constructor
// - Definition() returns the mcp.Tool schema
// - Handle() processes the request and returns a result
//
// Tools are delivery tools: they serve assembled context to AI agents and
// accept updates from them.
package ctxtools

import (
	"github.com/mark3labs/mcp-go/mcp"

	"contexthub/internal/entity"
)

// intArg extracts an integer argument from a tool request, returning
// defaultVal if the key is missing or not a number (JSON numbers are float64).
func intArg(req mcp.CallToolRequest, key string, defaultVal int) int {
	v, ok := req.GetArguments()[key].(float64)
	if !ok {
		return defaultVal
	}
	return int(v)
}

// boolArg extracts a boolean argument from a tool request.
func boolArg(req mcp.CallToolRequest, key string, defaultVal bool) bool {
	v, ok := req.GetArguments()[key].(bool)
	if !ok {
		return defaultVal
	}
	return v
}

// refArgs extracts and validates the entity_type/entity_id pair every
// entity-scoped tool requires. The error string is ready for
// mcp.NewToolResultError.
func refArgs(req mcp.CallToolRequest) (entity.Ref, string) {
	typ := req.GetString("entity_type", "")
	id := req.GetString("entity_id", "")
	if typ == "" || id == "" {
		return entity.Ref{}, "'entity_type' and 'entity_id' are required"
	}
	ref := entity.Ref{Type: entity.Type(typ), ID: id}
	if err := entity.ValidateType(ref.Type); err != nil {
		return entity.Ref{}, err.Error()
	}
	return ref, ""
}
