// Package prompts implements the MCP prompts: canned entry points that
// walk an assistant through the proposal review workflow.
package prompts

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
)

// ReviewPrompt handles the review-proposals MCP prompt.
type ReviewPrompt struct{}

// NewReviewPrompt creates a ReviewPrompt.
func NewReviewPrompt() *ReviewPrompt {
	return &ReviewPrompt{}
}

// Definition returns the MCP prompt definition for registration.
func (p *ReviewPrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("review-proposals",
		mcp.WithPromptDescription(
			"Review pending mapping proposals one by one and submit decisions. "+
				"Walks through each unclassified or conflicting tool concept.",
		),
	)
}

// Handle processes the review-proposals prompt request.
func (p *ReviewPrompt) Handle(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	return &mcp.GetPromptResult{
		Description: "Review pending mapping proposals",
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.NewTextContent(
					"Please run `proposals_list` to fetch the pending mapping proposals.\n\n" +
						"Then, for each proposal:\n" +
						"1. Show me the tool, raw concept, suggested role and suggested entity id\n" +
						"2. Check with `bridge_status` whether a similar entity already exists in the vocabulary\n" +
						"3. Recommend one outcome: accept an existing entity, create a new one, ignore, or defer\n" +
						"4. Wait for my answer, then submit it with `decision_submit`\n\n" +
						"Never submit accept or create-new without my explicit confirmation.",
				),
			},
		},
	}, nil
}
