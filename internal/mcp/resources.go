package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

const memoryURI = "concierge://onboarding/memory"

func (s *Server) registerResources() {
	// concierge://onboarding/memory: everything learned about the tenant so far.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			memoryURI,
			"Onboarding Memory",
			mcplib.WithResourceDescription("What the advisor has learned about the tenant: phase, discovery data, market research and per-phase data"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleMemory,
	)
}

func (s *Server) handleMemory(ctx context.Context, _ mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	tenantID, err := tenantFrom(ctx)
	if err != nil {
		return nil, err
	}
	st, err := s.orchestrator.GetOnboardingSession(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("mcp: onboarding memory: %w", err)
	}

	mem := st.Memory
	mem.IsReturning = st.IsReturning
	data, err := json.MarshalIndent(mem, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal memory: %w", err)
	}

	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      memoryURI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
