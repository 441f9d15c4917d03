// Package server wires all MCP components and creates the server instance.
//
// This is the composition root: it creates concrete implementations and
// injects them into the tools that depend on abstractions. No business
// logic lives here — only wiring.
package server

import (
	"fmt"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"contexthub/internal/assembly"
	"contexthub/internal/cache"
	"contexthub/internal/config"
	"contexthub/internal/ctxtools"
	"contexthub/internal/entity"
	"contexthub/internal/facts"
	"contexthub/internal/logging"
	"contexthub/internal/propagate"
	"contexthub/internal/supporting"
)

// Version is set at build time via ldflags.
var Version = "dev"

// New creates and configures the MCP server with all tools registered.
// This is the single place where all dependencies are resolved.
//
// The returned cleanup function closes the database connections and must
// be called on shutdown (typically via defer). It is always non-nil and
// safe to call even when a subsystem failed to initialize.
func New(cfg config.Config) (*server.MCPServer, func(), error) {
	var closers []func() error
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
	}

	log, err := logging.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		// Logging is ambient, not load-bearing: fall back to nop rather
		// than refusing to serve.
		log = zap.NewNop()
	} else {
		closers = append(closers, func() error { return log.Sync() })
	}

	// --- Entity store (required) ---

	gateway, err := entity.NewSQLiteGateway(entity.Config{DataDir: cfg.DataDir})
	if err != nil {
		cleanup()
		return nil, func() {}, fmt.Errorf("creating entity gateway: %w", err)
	}
	closers = append(closers, gateway.Close)

	// --- Supporting records (optional subsystem) ---
	//
	// If the record store fails to initialize, context assembly still
	// works — payloads just carry empty supporting sections.

	var loader *supporting.Loader
	recordStore, recErr := supporting.NewRecordStore(supporting.Config{DataDir: cfg.DataDir})
	if recErr != nil {
		log.Warn("supporting record store disabled", zap.Error(recErr))
		recordStore = nil
	} else {
		closers = append(closers, recordStore.Close)
		loader = supporting.NewLoader(supporting.Sources{
			Documents: recordStore.ForKind(supporting.KindDocument),
			Evidence:  recordStore.ForKind(supporting.KindEvidence),
			Events:    recordStore.ForKind(supporting.KindEvent),
			Summaries: recordStore.ForKind(supporting.KindSummary),
		}, cfg.RecordLimit, log)
	}

	// --- Payload cache (optional subsystem) ---

	store, cacheErr := cache.NewStore(cache.StoreConfig{DataDir: cfg.DataDir})
	if cacheErr != nil {
		log.Warn("persistent cache tier disabled", zap.Error(cacheErr))
		store = nil
	} else {
		closers = append(closers, store.Close)
	}
	payloadCache, err := cache.New(cfg.CacheEntries, cfg.CacheTTL.Std(), store, log)
	if err != nil {
		cleanup()
		return nil, func() {}, fmt.Errorf("creating cache: %w", err)
	}

	// --- Code facts ---

	var factsProvider facts.Provider
	if cfg.ReposRoot != "" {
		factsProvider = facts.NewDirDetector(cfg.ReposRoot, log)
	}

	// --- Propagation and assembly ---

	bus := propagate.NewBus(cfg.EventBuffer, log)
	propagator := propagate.New(gateway, payloadCache, bus, log)
	svc := assembly.New(gateway, loader, factsProvider, payloadCache, propagator, log)

	// --- Create the MCP server ---

	s := server.NewMCPServer(
		"contexthub",
		Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(serverInstructions()),
	)

	// --- Register context tools ---

	getTool := ctxtools.NewGetContextTool(svc)
	s.AddTool(getTool.Definition(), getTool.Handle)

	updateTool := ctxtools.NewUpdateContextTool(svc)
	s.AddTool(updateTool.Definition(), updateTool.Handle)

	putTool := ctxtools.NewPutEntityTool(gateway)
	s.AddTool(putTool.Definition(), putTool.Handle)

	feedTool := ctxtools.NewUpdatesFeedTool(bus)
	s.AddTool(feedTool.Definition(), feedTool.Handle)

	statsTool := ctxtools.NewStatsTool(gateway, payloadCache, bus)
	s.AddTool(statsTool.Definition(), statsTool.Handle)

	if recordStore != nil {
		recordTool := ctxtools.NewAddRecordTool(recordStore)
		s.AddTool(recordTool.Definition(), recordTool.Handle)
	}

	log.Info("contexthub server wired",
		zap.String("version", Version),
		zap.String("data_dir", cfg.DataDir),
		zap.Bool("records_enabled", recordStore != nil),
		zap.Bool("persistent_cache", store != nil),
		zap.Bool("facts_enabled", factsProvider != nil))

	return s, cleanup, nil
}

// serverInstructions returns the system instructions that tell the AI
// how to use the context engine effectively.
func serverInstructions() string {
	return `You have access to contexthub, a hierarchical context engine for AI coding agents.

## What it does
Entities live in an ownership hierarchy: project → work_item → task (ideas are
free-standing roots). Each entity carries 6W attributes — WHO (end_users,
implementers, reviewers), WHAT (functional_requirements, technical_constraints,
acceptance_criteria), WHERE (affected_services, repositories, deployment_targets),
WHEN (deadline, dependencies_timeline), WHY (business_value, risk_if_delayed),
HOW (suggested_approach, existing_patterns).

get_context resolves the EFFECTIVE attributes for an entity: values inherit from
ancestors and child values override wholesale. The payload includes supporting
records, code facts, and quality scores with a RED/YELLOW/GREEN confidence band.

## Workflow
1. Seed the hierarchy with put_entity (project first, then work items, then tasks)
2. Attach supporting material with add_record (documents, evidence, events, summaries)
3. Call get_context before working on an entity — pass your stage and agent_role
   so the payload is trimmed to what you actually need
4. Apply what you learn with update_context — other agents' cached views are
   invalidated automatically
5. Poll updates_feed to see changes made by other agents

## Quality bands
- GREEN (confidence >= 0.8): context is well-evidenced, proceed
- YELLOW (0.5–0.8): usable but check the warnings; consider adding evidence
- RED (< 0.5): context is thin or stale — gather evidence and re-validate
  before making consequential decisions

## Rules
- Pass stage and agent_role on get_context whenever you know them; unfiltered
  payloads are larger and cost more tokens
- Use expected_version on update_context when coordinating with other agents
  to avoid losing concurrent writes
- Set include_inheritance=true when you need to audit WHERE a value came from`
}
