package prompts

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
)

// StatusPrompt handles the bridge-status MCP prompt.
type StatusPrompt struct{}

// NewStatusPrompt creates a StatusPrompt.
func NewStatusPrompt() *StatusPrompt {
	return &StatusPrompt{}
}

// Definition returns the MCP prompt definition for registration.
func (p *StatusPrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("bridge-status",
		mcp.WithPromptDescription(
			"Summarize the current mediation state: vocabulary, projects, "+
				"and pending proposals.",
		),
	)
}

// Handle processes the bridge-status prompt request.
func (p *StatusPrompt) Handle(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	return &mcp.GetPromptResult{
		Description: "Mediation state summary",
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.NewTextContent(
					"Please run `bridge_status` and summarize:\n" +
						"1. The shared vocabulary, grouped by role\n" +
						"2. Which projects are configured\n" +
						"3. How many proposals are waiting, and whether I should review them now\n" +
						"4. Whether a `sync_run` is worth running",
				),
			},
		},
	}, nil
}
