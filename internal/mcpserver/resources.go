package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Resource URIs.
const (
	HistoryURI         = "voiceover://history"
	HistoryTemplateURI = "voiceover://history/{job_id}"
)

// HandleHistory lists every job.
func (h *Handlers) HandleHistory(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	all, err := h.jobs.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jsonContents(req.Params.URI, all)
}

// HandleHistoryJob returns one job, or a not-found payload.
func (h *Handlers) HandleHistoryJob(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	id := strings.TrimPrefix(req.Params.URI, HistoryURI+"/")
	if id == "" || id == req.Params.URI {
		return nil, fmt.Errorf("invalid job resource URI %q", req.Params.URI)
	}
	payload, err := h.jobPayload(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return jsonContents(req.Params.URI, payload)
}

func jsonContents(uri string, v any) ([]mcp.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal resource: %w", err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
