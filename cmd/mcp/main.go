// XOS activity MCP server.
// Exposes the daily activity control API as tools over MCP stdio transport.
package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	mcptools "github.com/gateway-fm/xosactivity/internal/mcp"
)

func main() {
	baseURL := os.Getenv("XOS_ACTIVITY_URL")
	if baseURL == "" {
		baseURL = "http://localhost:3001"
	}

	s := server.NewMCPServer(
		"xosactivity",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	client := mcptools.NewClient(baseURL)
	mcptools.RegisterTools(s, client)

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}
