// Package mcp provides a Model Context Protocol server for ampprint.
//
// It exposes the device-group collection and the live-session heuristics
// as read-only MCP tools (list groups, diagnose a session, guess a live
// session's device) plus a groups resource, over stdio transport.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ampprint/ampprint/internal/engine"
	"github.com/ampprint/ampprint/internal/profile"
)

// NewServer creates a configured MCP server with all ampprint tools and
// resources. Every tool is read-only: mutations stay on the HTTP API and
// the CLI.
func NewServer(eng *engine.Engine, version string) *server.MCPServer {
	if version == "" {
		version = "dev"
	}

	s := server.NewMCPServer(
		"ampprint",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(true, false),
	)

	registerListGroupsTool(s, eng)
	registerDiagnoseSessionTool(s, eng)
	registerLiveGuessTool(s, eng)

	registerGroupsResource(s, eng)

	return s
}

func registerListGroupsTool(s *server.MCPServer, eng *engine.Engine) {
	tool := mcp.NewTool("ampprint_list_groups",
		mcp.WithDescription("List all device groups, largest first, with their power fingerprints, member session ids, and charge-duration statistics."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of groups to return (default: all)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		groups := eng.Groups()
		if limitVal, err := req.RequireFloat("limit"); err == nil {
			if limit := int(limitVal); limit > 0 && limit < len(groups) {
				groups = groups[:limit]
			}
		}

		data, _ := json.MarshalIndent(map[string]any{
			"groups": groups,
			"count":  len(groups),
		}, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerDiagnoseSessionTool(s *server.MCPServer, eng *engine.Engine) {
	tool := mcp.NewTool("ampprint_diagnose_session",
		mcp.WithDescription("Explain why a charging session does or does not have a device name: verdict code, detail line, and the closest candidate groups with per-feature similarity breakdowns."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("The session to diagnose"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, err := req.RequireString("session_id")
		if err != nil {
			return mcp.NewToolResultError("session_id is required"), nil
		}

		rep, err := eng.DiagnoseSession(ctx, sessionID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("diagnose error: %v", err)), nil
		}

		data, _ := json.MarshalIndent(rep, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerLiveGuessTool(s *server.MCPServer, eng *engine.Engine) {
	tool := mcp.NewTool("ampprint_live_guess",
		mcp.WithDescription("Guess which device is charging in an in-progress session from its partial power fingerprint. Also reports remaining-time when the matched group has duration history."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("The in-progress session to identify"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, err := req.RequireString("session_id")
		if err != nil {
			return mcp.NewToolResultError("session_id is required"), nil
		}

		out := map[string]any{"session_id": sessionID}

		guess, err := eng.LiveGuess(ctx, sessionID)
		switch {
		case errors.Is(err, profile.ErrInsufficientData):
			out["status"] = "insufficient_data"
		case err != nil:
			return mcp.NewToolResultError(fmt.Sprintf("guess error: %v", err)), nil
		case guess == nil:
			out["status"] = "no_match"
		default:
			out["match"] = guess
			if est, err := eng.LiveEstimate(ctx, sessionID, time.Now()); err == nil && est != nil {
				out["estimate"] = est
				out["remaining_seconds"] = int64(est.Remaining.Seconds())
			}
		}

		data, _ := json.MarshalIndent(out, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}
