package mcp

import (
	"context"
	"fmt"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/concierge/internal/service/memory"
)

func (s *Server) registerPrompts() {
	// resume-onboarding: picks the conversation up where the tenant left it.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("resume-onboarding",
			mcplib.WithPromptDescription("Resume the tenant's onboarding conversation from its current phase"),
		),
		s.handleResumePrompt,
	)

	// onboarding-guide: how to drive onboarding through the tools.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("onboarding-guide",
			mcplib.WithPromptDescription("How to run a tenant's onboarding through the concierge tools"),
		),
		s.handleGuidePrompt,
	)
}

func (s *Server) handleResumePrompt(ctx context.Context, _ mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	tenantID, err := tenantFrom(ctx)
	if err != nil {
		return nil, err
	}
	st, err := s.orchestrator.GetOnboardingSession(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("mcp: resume prompt: %w", err)
	}
	greeting, err := s.orchestrator.GetGreeting(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("mcp: resume prompt: %w", err)
	}

	var b strings.Builder
	if !st.Active {
		fmt.Fprintf(&b, "This tenant's onboarding is finished (%s). Do not call onboarding_chat.\n", memory.PhaseLabel(st.Phase))
		if st.Memory.SkipReason != "" {
			fmt.Fprintf(&b, "They skipped it: %s\n", st.Memory.SkipReason)
		}
	} else {
		fmt.Fprintf(&b, "The tenant is in the %s step of onboarding.\n\n", memory.PhaseLabel(st.Phase))
		fmt.Fprintf(&b, "Open with:\n%s\n\n", greeting)
		b.WriteString("Then relay each of the tenant's messages with onboarding_chat")
		if st.Session != nil {
			fmt.Fprintf(&b, ", continuing session_id=%q", st.Session.ID.String())
		}
		b.WriteString(".\n")
	}

	return &mcplib.GetPromptResult{
		Description: "Resume onboarding",
		Messages: []mcplib.PromptMessage{
			{
				Role:    mcplib.RoleUser,
				Content: mcplib.TextContent{Type: "text", Text: b.String()},
			},
		},
	}, nil
}

func (s *Server) handleGuidePrompt(_ context.Context, _ mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	return &mcplib.GetPromptResult{
		Description: "Concierge onboarding workflow",
		Messages: []mcplib.PromptMessage{
			{
				Role: mcplib.RoleUser,
				Content: mcplib.TextContent{
					Type: "text",
					Text: `You are relaying a business owner's onboarding conversation with the concierge advisor.

## Workflow

1. Call onboarding_greeting and show the tenant what it returns.
2. Relay each tenant message with onboarding_chat. Keep the session_id from
   the first reply and pass it on every later message.
3. Show the tenant the reply text. tool_results lists what the advisor
   recorded; you do not need to repeat it.
4. Stop when phase is COMPLETED or SKIPPED.

## Phases

NOT_STARTED, DISCOVERY, MARKET_RESEARCH, SERVICES, MARKETING, then
COMPLETED. A tenant may skip at any point, which ends in SKIPPED.

## Errors

- "changed concurrently" or "already being processed": send the same message again.
- "Failed to communicate with AI assistant": nothing was saved; try again later.

Read concierge://onboarding/memory for everything learned so far.`,
				},
			},
		},
	}, nil
}
