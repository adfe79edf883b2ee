// Package server wires all MCP components and creates the server instance.
//
// This is the composition root: it creates concrete implementations and
// injects them into the tools/prompts/resources that depend on them. No
// business logic lives here — only wiring.
package server

import (
	"fmt"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/utsync/taskbridge/internal/apply"
	"github.com/utsync/taskbridge/internal/engine"
	"github.com/utsync/taskbridge/internal/plugin"
	"github.com/utsync/taskbridge/internal/prompts"
	"github.com/utsync/taskbridge/internal/resources"
	"github.com/utsync/taskbridge/internal/store"
	"github.com/utsync/taskbridge/internal/tools"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Options carries the dependencies the server composition needs.
type Options struct {
	Store   *store.Store
	Plugins *plugin.Registry
	Engine  *engine.Engine
	Log     *zap.Logger
}

// New creates and configures the MCP server with all tools, prompts,
// and resources registered. This is the single place where all
// dependencies are resolved.
func New(opts Options) (*server.MCPServer, error) {
	if opts.Store == nil || opts.Plugins == nil || opts.Engine == nil {
		return nil, fmt.Errorf("server needs a store, a plugin registry and an engine")
	}

	s := server.NewMCPServer(
		"taskbridge",
		Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithPromptCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(serverInstructions()),
	)

	applicator := apply.New(opts.Store)

	// --- Register tools ---

	syncTool := tools.NewSyncTool(opts.Engine)
	s.AddTool(syncTool.Definition(), syncTool.Handle)

	proposalsTool := tools.NewProposalsTool(opts.Store)
	s.AddTool(proposalsTool.Definition(), proposalsTool.Handle)

	decideTool := tools.NewDecideTool(opts.Store, applicator)
	s.AddTool(decideTool.Definition(), decideTool.Handle)

	statusTool := tools.NewStatusTool(opts.Store, opts.Plugins)
	s.AddTool(statusTool.Definition(), statusTool.Handle)

	resolveTool := tools.NewResolveTool(opts.Store)
	s.AddTool(resolveTool.Definition(), resolveTool.Handle)

	// --- Register prompts ---

	reviewPrompt := prompts.NewReviewPrompt()
	s.AddPrompt(reviewPrompt.Definition(), reviewPrompt.Handle)

	statusPrompt := prompts.NewStatusPrompt()
	s.AddPrompt(statusPrompt.Definition(), statusPrompt.Handle)

	// --- Register resources ---

	resourceHandler := resources.NewHandler(opts.Store)
	s.AddResource(resourceHandler.VocabularyResource(), resourceHandler.HandleVocabulary)

	return s, nil
}

// serverInstructions returns the system instructions that tell the AI
// how to use the bridge effectively.
func serverInstructions() string {
	return `You have access to taskbridge, a semantic task-synchronization MCP server.

taskbridge links task tools (Taskwarrior, issue trackers, JSON dumps) through a
shared vocabulary of semantic entities. Each entity has a fixed role: label,
container, status, or priority. Tool-specific concepts (tags, states, columns)
are mapped onto entities per project; unknown concepts are never classified
automatically — they become proposals for a human to decide.

## Core rules
- NEVER invent mappings. If a concept is unmapped, it stays in the task's
  unmapped set until a decision is recorded.
- An entity's role never changes. If a concept is used contrary to its mapped
  role, a conflict proposal is raised instead of silently remapping.
- Project overrides beat global defaults, and an explicit "do not map" entry
  is a recorded answer — treat it as final unless the user says otherwise.

## Workflow
1. Run sync_run to discover concepts and tasks from all configured tools.
2. If the report mentions pending proposals, list them with proposals_list.
3. For each proposal, discuss it with the user. Use bridge_status to see the
   existing vocabulary and mapping_resolve to inspect how a concept currently
   resolves in a project.
4. Submit the user's choice with decision_submit. Outcomes:
   - accept: map the concept to an existing entity in a project
   - create-new: register a new entity (id + role) and map the concept to it
   - ignore: record "do not map" for the concept in a project
   - defer: park the proposal for a later run
5. Re-run sync_run after decisions — tasks are re-normalized under the new
   mappings.

NEVER submit accept or create-new without explicit user confirmation; when in
doubt, defer. Deferred proposals re-surface automatically on the next run.`
}
