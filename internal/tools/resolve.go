package tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/utsync/taskbridge/internal/config"
	"github.com/utsync/taskbridge/internal/store"
)

// ResolveTool handles the mapping_resolve MCP tool: explain how one
// tool concept resolves in one project, with provenance.
type ResolveTool struct {
	store *store.Store
}

// NewResolveTool creates a ResolveTool.
func NewResolveTool(st *store.Store) *ResolveTool {
	return &ResolveTool{store: st}
}

// Definition returns the MCP tool definition for registration.
func (t *ResolveTool) Definition() mcp.Tool {
	return mcp.NewTool("mapping_resolve",
		mcp.WithDescription(
			"Resolve one (tool, concept) pair in a project and explain the result: "+
				"which entity it maps to, whether the mapping comes from a project "+
				"override or a global default, whether it is explicitly unmapped, "+
				"or whether it is an open question.",
		),
		mcp.WithString("tool",
			mcp.Required(),
			mcp.Description("Tool identifier, e.g. tw, github."),
		),
		mcp.WithString("concept",
			mcp.Required(),
			mcp.Description("Raw concept id as the tool reports it, e.g. +bug."),
		),
		mcp.WithString("project",
			mcp.Required(),
			mcp.Description("Project to resolve in."),
		),
	)
}

// Handle processes the mapping_resolve tool call.
func (t *ResolveTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tool, err := req.RequireString("tool")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	concept, err := req.RequireString("concept")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	project, err := req.RequireString("project")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	gc, err := t.store.LoadGlobal()
	if err != nil {
		return nil, fmt.Errorf("loading global configuration: %w", err)
	}
	pc, err := t.store.LoadProject(project)
	if err != nil {
		return nil, fmt.Errorf("loading project configuration: %w", err)
	}

	res := config.Resolve(gc, pc, tool, concept)

	var msg string
	switch res.Kind {
	case config.Mapped:
		layer := "global default"
		if res.Source == config.SourceProject {
			layer = fmt.Sprintf("override in project `%s`", project)
		}
		msg = fmt.Sprintf("`%s/%s` maps to entity **`%s`** (%s).", tool, concept, res.EntityID, layer)
	case config.None:
		msg = fmt.Sprintf("`%s/%s` is **explicitly unmapped** in project `%s` — a recorded decision, not an omission.",
			tool, concept, project)
	default:
		msg = fmt.Sprintf("`%s/%s` is **unmapped** in project `%s`. No layer knows it; a sync run would propose it.",
			tool, concept, project)
	}
	return mcp.NewToolResultText(msg), nil
}
