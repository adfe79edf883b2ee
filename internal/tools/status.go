package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/utsync/taskbridge/internal/plugin"
	"github.com/utsync/taskbridge/internal/proposal"
	"github.com/utsync/taskbridge/internal/semantic"
	"github.com/utsync/taskbridge/internal/store"
)

// StatusTool handles the bridge_status MCP tool: a snapshot of the
// shared vocabulary, the configured projects, and pending work.
type StatusTool struct {
	store   *store.Store
	plugins *plugin.Registry
}

// NewStatusTool creates a StatusTool.
func NewStatusTool(st *store.Store, plugins *plugin.Registry) *StatusTool {
	return &StatusTool{store: st, plugins: plugins}
}

// Definition returns the MCP tool definition for registration.
func (t *StatusTool) Definition() mcp.Tool {
	return mcp.NewTool("bridge_status",
		mcp.WithDescription(
			"Show the current mediation state: registered semantic entities by role, "+
				"installed tool plugins, configured projects, and how many proposals "+
				"await a decision.",
		),
	)
}

// Handle processes the bridge_status tool call.
func (t *StatusTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	gc, err := t.store.LoadGlobal()
	if err != nil {
		return nil, fmt.Errorf("loading global configuration: %w", err)
	}
	projects, err := t.store.ListProjects()
	if err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}
	open, err := t.store.ProposalsByState(proposal.StateOpen, proposal.StateDeferred)
	if err != nil {
		return nil, fmt.Errorf("listing proposals: %w", err)
	}

	byRole := make(map[semantic.Role][]string)
	for _, e := range gc.Entities {
		byRole[e.Role] = append(byRole[e.Role], e.ID)
	}

	var b strings.Builder
	b.WriteString("# Bridge Status\n\n")
	fmt.Fprintf(&b, "**Vocabulary version:** %d\n", gc.Version)
	fmt.Fprintf(&b, "**Entities:** %d\n", len(gc.Entities))
	fmt.Fprintf(&b, "**Default mappings:** %d\n", len(gc.DefaultMappings))
	fmt.Fprintf(&b, "**Plugins:** %s\n", strings.Join(t.plugins.Names(), ", "))
	fmt.Fprintf(&b, "**Projects:** %d\n", len(projects))
	fmt.Fprintf(&b, "**Proposals awaiting decision:** %d\n", len(open))

	if len(gc.Entities) > 0 {
		b.WriteString("\n## Vocabulary\n\n| Role | Entities |\n|------|----------|\n")
		for _, role := range semantic.AllRoles() {
			ids := byRole[role]
			if len(ids) == 0 {
				continue
			}
			sort.Strings(ids)
			fmt.Fprintf(&b, "| %s | %s |\n", role, strings.Join(ids, ", "))
		}
	}

	if len(projects) > 0 {
		fmt.Fprintf(&b, "\n## Projects\n\n%s\n", strings.Join(projects, ", "))
	}
	if len(open) > 0 {
		b.WriteString("\nReview pending proposals with `proposals_list`.\n")
	}
	return mcp.NewToolResultText(b.String()), nil
}
