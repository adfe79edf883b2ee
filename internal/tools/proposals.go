package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/utsync/taskbridge/internal/proposal"
	"github.com/utsync/taskbridge/internal/store"
)

// ProposalsTool handles the proposals_list MCP tool.
type ProposalsTool struct {
	store *store.Store
}

// NewProposalsTool creates a ProposalsTool reading from the given store.
func NewProposalsTool(st *store.Store) *ProposalsTool {
	return &ProposalsTool{store: st}
}

// Definition returns the MCP tool definition for registration.
func (t *ProposalsTool) Definition() mcp.Tool {
	return mcp.NewTool("proposals_list",
		mcp.WithDescription(
			"List mapping proposals awaiting a decision. Each proposal represents one "+
				"tool concept that is either unclassified or in conflict with its mapped "+
				"role, together with the projects a decision would affect. "+
				"Resolve proposals with `decision_submit`.",
		),
		mcp.WithString("state",
			mcp.Description("Filter by state: open, deferred, accepted, ignored. Default: open and deferred."),
			mcp.Enum("open", "deferred", "accepted", "ignored"),
		),
	)
}

// Handle processes the proposals_list tool call.
func (t *ProposalsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	states := []proposal.State{proposal.StateOpen, proposal.StateDeferred}
	if s := req.GetString("state", ""); s != "" {
		states = []proposal.State{proposal.State(s)}
	}

	props, err := t.store.ProposalsByState(states...)
	if err != nil {
		return nil, fmt.Errorf("listing proposals: %w", err)
	}
	if len(props) == 0 {
		return mcp.NewToolResultText("No proposals in the requested states. Run `sync_run` to refresh discovery."), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Proposals (%d)\n\n", len(props))
	b.WriteString("| ID | Tool | Concept | Reason | Suggested Role | Suggested Entity | Projects | State |\n")
	b.WriteString("|----|------|---------|--------|----------------|------------------|----------|-------|\n")
	for _, p := range props {
		role := string(p.CandidateRole)
		if role == "" {
			role = "—"
		}
		suggested := p.SuggestedEntityID
		if suggested == "" {
			suggested = "—"
		}
		fmt.Fprintf(&b, "| `%s` | %s | `%s` | %s | %s | %s | %s | %s |\n",
			p.ID, p.Tool, p.RawConceptID, p.Reason, role, suggested,
			strings.Join(p.AffectedProjects, ", "), p.State)
	}
	b.WriteString("\nDecide each with `decision_submit`: accept an existing entity, create a new one, ignore the concept for a project, or defer.\n")
	return mcp.NewToolResultText(b.String()), nil
}
