package tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/utsync/taskbridge/internal/apply"
	"github.com/utsync/taskbridge/internal/config"
	"github.com/utsync/taskbridge/internal/proposal"
	"github.com/utsync/taskbridge/internal/semantic"
	"github.com/utsync/taskbridge/internal/store"
)

// DecideTool handles the decision_submit MCP tool. It applies exactly
// one decision to one proposal, atomically.
type DecideTool struct {
	store *store.Store
	apply *apply.Applicator
}

// NewDecideTool creates a DecideTool.
func NewDecideTool(st *store.Store, a *apply.Applicator) *DecideTool {
	return &DecideTool{store: st, apply: a}
}

// Definition returns the MCP tool definition for registration.
func (t *DecideTool) Definition() mcp.Tool {
	return mcp.NewTool("decision_submit",
		mcp.WithDescription(
			"Resolve one mapping proposal. Outcomes: `accept` maps the concept to an "+
				"existing entity in the given project; `create-new` registers a new entity "+
				"in the shared vocabulary and maps the concept to it in the project; "+
				"`ignore` marks the concept as intentionally unmapped for the project; "+
				"`defer` parks the proposal for a future run. The whole decision lands "+
				"atomically or not at all.",
		),
		mcp.WithString("proposal_id",
			mcp.Required(),
			mcp.Description("ID of the proposal to resolve (from `proposals_list`)."),
		),
		mcp.WithString("outcome",
			mcp.Required(),
			mcp.Description("One of: accept, create-new, ignore, defer."),
			mcp.Enum("accept", "create-new", "ignore", "defer"),
		),
		mcp.WithString("project",
			mcp.Description("Project the decision applies to. Required for accept, create-new and ignore."),
		),
		mcp.WithString("entity_id",
			mcp.Description("Target entity id. For accept: the existing entity. For create-new: the id of the entity to register."),
		),
		mcp.WithString("role",
			mcp.Description("Role of the new entity for create-new: label, container, status or priority."),
			mcp.Enum("label", "container", "status", "priority"),
		),
		mcp.WithString("description",
			mcp.Description("Optional description for a newly created entity."),
		),
	)
}

// Handle processes the decision_submit tool call.
func (t *DecideTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	proposalID, err := req.RequireString("proposal_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	outcomeStr, err := req.RequireString("outcome")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	p, err := t.store.Proposal(proposalID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Proposal %q not found: %v", proposalID, err)), nil
	}

	d := proposal.Decision{
		ProposalID: proposalID,
		ProjectID:  req.GetString("project", ""),
		Outcome:    proposal.Outcome(outcomeStr),
		EntityID:   req.GetString("entity_id", ""),
	}
	if d.Outcome == proposal.OutcomeCreateNew {
		d.Entity = &semantic.Entity{
			ID:          req.GetString("entity_id", ""),
			Role:        semantic.Role(req.GetString("role", "")),
			Description: req.GetString("description", ""),
		}
		d.EntityID = ""
	}

	gc, err := t.store.LoadGlobal()
	if err != nil {
		return nil, fmt.Errorf("loading global configuration: %w", err)
	}
	var pc *config.ProjectConfig
	if d.ProjectID != "" {
		pc, err = t.store.LoadProject(d.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("loading project configuration: %w", err)
		}
	}

	_, committed, err := t.apply.Apply(p, d, gc, pc)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Decision failed: %v", err)), nil
	}

	msg := fmt.Sprintf("Decision applied: proposal `%s` → **%s**", proposalID, d.Outcome)
	switch d.Outcome {
	case proposal.OutcomeAccept:
		msg += fmt.Sprintf("\n\n`%s/%s` now maps to entity `%s` in project `%s`.",
			p.Tool, p.RawConceptID, d.EntityID, d.ProjectID)
	case proposal.OutcomeCreateNew:
		msg += fmt.Sprintf("\n\nEntity `%s` (%s) registered in the shared vocabulary; `%s/%s` maps to it in project `%s`.",
			d.Entity.ID, d.Entity.Role, p.Tool, p.RawConceptID, d.ProjectID)
	case proposal.OutcomeIgnore:
		msg += fmt.Sprintf("\n\n`%s/%s` is now explicitly unmapped in project `%s` and will not be proposed again there.",
			p.Tool, p.RawConceptID, d.ProjectID)
	case proposal.OutcomeDefer:
		msg += "\n\nThe proposal is parked and will re-surface on the next sync run."
	}
	if committed != nil {
		msg += fmt.Sprintf("\n\nProject configuration is now at version %d.", committed.Version)
	}
	return mcp.NewToolResultText(msg), nil
}
