// Package resources implements MCP resource handlers.
//
// Resources provide read-only data the host can consume for context.
// They use URI-based addressing (taskbridge://...) following MCP
// conventions.
package resources

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/utsync/taskbridge/internal/store"
)

// Handler manages the mediation resource endpoints.
type Handler struct {
	store *store.Store
}

// NewHandler creates a resource Handler with its dependencies.
func NewHandler(st *store.Store) *Handler {
	return &Handler{store: st}
}

// VocabularyResource returns the MCP resource definition for the shared
// vocabulary.
func (h *Handler) VocabularyResource() mcp.Resource {
	return mcp.NewResource(
		"taskbridge://config/global",
		"Shared Vocabulary",
		mcp.WithResourceDescription("Current global configuration: semantic entities and default mappings, at its committed version"),
		mcp.WithMIMEType("application/json"),
	)
}

// HandleVocabulary returns the committed global configuration as JSON.
func (h *Handler) HandleVocabulary(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	gc, err := h.store.LoadGlobal()
	if err != nil {
		return errorResource(req.Params.URI, err.Error()), nil
	}

	data, err := json.MarshalIndent(gc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling global configuration: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// errorResource returns a resource with an error message.
func errorResource(uri, message string) []mcp.ResourceContents {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "text/plain",
			Text:     fmt.Sprintf("Error: %s", message),
		},
	}
}
