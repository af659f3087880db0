package mcp

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ampprint/ampprint/internal/engine"
)

func registerGroupsResource(s *server.MCPServer, eng *engine.Engine) {
	resource := mcp.NewResource(
		"ampprint://groups",
		"Device Groups",
		mcp.WithResourceDescription("All device groups with fingerprints, membership, and duration statistics."),
		mcp.WithMIMEType("application/json"),
	)

	s.AddResource(resource, func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		groups := eng.Groups()
		data, _ := json.MarshalIndent(map[string]any{
			"groups": groups,
			"count":  len(groups),
		}, "", "  ")
		return []mcp.ResourceContents{
			mcp.TextResourceContents{URI: req.Params.URI, MIMEType: "application/json", Text: string(data)},
		}, nil
	})
}
