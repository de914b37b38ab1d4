// Package mcp implements the Model Context Protocol server for the concierge.
//
// The MCP server exposes the onboarding conversation through MCP tools,
// resources and prompts, so MCP-compatible clients (an IDE assistant, an
// internal ops agent) can drive or inspect a tenant's onboarding. Every call
// acts for the tenant in the caller's token.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/concierge/internal/ctxutil"
	"github.com/ashita-ai/concierge/internal/service/onboarding"
)

// Server wraps the MCP server with the onboarding service layer.
type Server struct {
	mcpServer    *mcpserver.MCPServer
	orchestrator *onboarding.Orchestrator
	logger       *slog.Logger
}

// New creates and configures a new MCP server with all resources, tools
// and prompts.
func New(orch *onboarding.Orchestrator, logger *slog.Logger, version string) *Server {
	s := &Server{
		orchestrator: orch,
		logger:       logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"concierge",
		version,
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithPromptCapabilities(true),
	)

	s.registerResources()
	s.registerTools()
	s.registerPrompts()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

var errNoTenant = errors.New("mcp: no tenant in request context")

func tenantFrom(ctx context.Context) (uuid.UUID, error) {
	id := ctxutil.TenantIDFromContext(ctx)
	if id == uuid.Nil {
		return uuid.Nil, errNoTenant
	}
	return id, nil
}

func jsonResult(v any) (*mcplib.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}, nil
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
