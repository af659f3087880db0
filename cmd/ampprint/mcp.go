package main

import (
	"fmt"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	ampmcp "github.com/ampprint/ampprint/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the MCP tool interface on stdio",
	Long: `Exposes read-only tools (list groups, diagnose a session, guess a live
session) over the Model Context Protocol so an agent can query the
engine. Mutations stay on the HTTP API and the CLI.`,
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	srv := ampmcp.NewServer(eng, version)
	if err := server.ServeStdio(srv); err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}
