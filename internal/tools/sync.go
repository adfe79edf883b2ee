// Package tools implements the MCP tool handlers. Each tool is a small
// struct holding its dependencies, with a Definition for registration
// and a Handle that does the work. Tools format results as markdown;
// all engine semantics live in the packages they call.
package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/utsync/taskbridge/internal/engine"
)

// SyncTool handles the sync_run MCP tool: one full mediation pass.
type SyncTool struct {
	engine *engine.Engine
}

// NewSyncTool creates a SyncTool driving the given engine.
func NewSyncTool(e *engine.Engine) *SyncTool {
	return &SyncTool{engine: e}
}

// Definition returns the MCP tool definition for registration.
func (t *SyncTool) Definition() mcp.Tool {
	return mcp.NewTool("sync_run",
		mcp.WithDescription(
			"Run one synchronization pass: discover concepts and tasks from all "+
				"configured tools, detect unclassified or conflicting concepts, file "+
				"proposals for them, and normalize tasks under the current mappings. "+
				"Unanswered proposals are deferred, never auto-decided. Returns a run report.",
		),
	)
}

// Handle processes the sync_run tool call.
func (t *SyncTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	report, err := t.engine.Run(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Sync run failed: %v", err)), nil
	}
	return mcp.NewToolResultText(formatReport(report)), nil
}

func formatReport(r *engine.Report) string {
	var b strings.Builder
	b.WriteString("# Sync Run Report\n\n")
	fmt.Fprintf(&b, "**Duration:** %s\n", r.FinishedAt.Sub(r.StartedAt).Round(1e6))
	fmt.Fprintf(&b, "**Concepts observed:** %d\n", r.EntitiesObserved)
	fmt.Fprintf(&b, "**Tasks normalized:** %d\n", r.TasksNormalized)
	fmt.Fprintf(&b, "**Proposals reopened:** %d\n", r.Reopened)
	fmt.Fprintf(&b, "**Proposals opened:** %d\n", r.ProposalsOpened)

	if len(r.FailedTools) > 0 {
		tools := append([]string(nil), r.FailedTools...)
		sort.Strings(tools)
		fmt.Fprintf(&b, "\n⚠️ Discovery failed for: %s — their data is absent from this run.\n",
			strings.Join(tools, ", "))
	}

	if len(r.Decisions) > 0 {
		b.WriteString("\n## Decisions\n\n| Proposal | Outcome | Result |\n|----------|---------|--------|\n")
		for _, d := range r.Decisions {
			result := "applied"
			if d.Err != nil {
				result = d.Err.Error()
			}
			fmt.Fprintf(&b, "| `%s` | %s | %s |\n", d.ProposalID, d.Outcome, result)
		}
	}

	if r.ProposalsOpened > 0 {
		b.WriteString("\nNew proposals await review — list them with `proposals_list` and resolve them with `decision_submit`.\n")
	}
	return b.String()
}
