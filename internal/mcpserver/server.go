// Package mcpserver assembles the MCP server instance exposed behind the
// proxy: server identity, capabilities, and the tool set.
package mcpserver

import (
	"context"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const serverName = "mcpgate"

// New creates the MCP server with its tools registered.
func New(version string) *server.MCPServer {
	srv := server.NewMCPServer(serverName, version,
		server.WithToolCapabilities(true),
	)

	srv.AddTool(
		mcp.NewTool("add",
			mcp.WithDescription("Add two numbers"),
			mcp.WithNumber("a", mcp.Required(), mcp.Description("First addend")),
			mcp.WithNumber("b", mcp.Required(), mcp.Description("Second addend")),
		),
		handleAdd,
	)

	srv.AddTool(
		mcp.NewTool("divide",
			mcp.WithDescription("Divide one number by another"),
			mcp.WithNumber("dividend", mcp.Required(), mcp.Description("Number to divide")),
			mcp.WithNumber("divisor", mcp.Required(), mcp.Description("Number to divide by")),
		),
		handleDivide,
	)

	return srv
}

func handleAdd(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	a, err := request.RequireFloat("a")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	b, err := request.RequireFloat("b")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatNumber(a + b)), nil
}

func handleDivide(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	dividend, err := request.RequireFloat("dividend")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	divisor, err := request.RequireFloat("divisor")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if divisor == 0 {
		return nil, errors.New("division by zero")
	}
	return mcp.NewToolResultText(formatNumber(dividend / divisor)), nil
}

func formatNumber(v float64) string {
	return fmt.Sprintf("%g", v)
}
