package mcp

import (
	"context"
	"errors"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/concierge/internal/model"
	"github.com/ashita-ai/concierge/internal/service/onboarding"
)

func (s *Server) registerTools() {
	// onboarding_chat: one conversational turn.
	s.mcpServer.AddTool(
		mcplib.NewTool("onboarding_chat",
			mcplib.WithDescription(`Send one message in the tenant's onboarding conversation and get the advisor's reply.

Omit session_id to start a new conversation; pass the session_id from a
previous reply to continue it. The reply also lists the state changes the
advisor made (tool_results) and the onboarding phase after the turn.

If the result says the conversation changed concurrently, send the same
message again.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(true),
			mcplib.WithString("message",
				mcplib.Description("What the tenant says"),
				mcplib.Required(),
			),
			mcplib.WithString("session_id",
				mcplib.Description("Conversation to continue (UUID). Omit to start a new one."),
			),
		),
		s.handleChat,
	)

	// onboarding_greeting: the opening line for the next visit.
	s.mcpServer.AddTool(
		mcplib.NewTool("onboarding_greeting",
			mcplib.WithDescription("The greeting to show when the tenant next opens the onboarding chat. Returning tenants get a summary of where they left off."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
		),
		s.handleGreeting,
	)

	// onboarding_state: phase, progress and latest conversation.
	s.mcpServer.AddTool(
		mcplib.NewTool("onboarding_state",
			mcplib.WithDescription("The tenant's onboarding phase, whether onboarding is still active, what has been learned so far, and the latest conversation."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithBoolean("full",
				mcplib.Description("Return the complete memory and transcript instead of a compact view"),
				mcplib.DefaultBool(false),
			),
		),
		s.handleState,
	)
}

func (s *Server) handleChat(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	tenantID, err := tenantFrom(ctx)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	message, err := request.RequireString("message")
	if err != nil {
		return errorResult("message is required"), nil
	}
	req := model.ChatRequest{Message: message}
	if raw := request.GetString("session_id", ""); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return errorResult("session_id must be a UUID"), nil
		}
		req.SessionID = &id
	}
	if err := req.Validate(); err != nil {
		return errorResult(err.Error()), nil
	}

	res, err := s.orchestrator.Chat(ctx, tenantID, req.SessionID, req.Message)
	if err != nil {
		s.logger.Warn("mcp: onboarding_chat failed", "tenant_id", tenantID, "error", err)
		return errorResult(chatErrorMessage(err)), nil
	}
	return jsonResult(res)
}

func (s *Server) handleGreeting(ctx context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	tenantID, err := tenantFrom(ctx)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	greeting, err := s.orchestrator.GetGreeting(ctx, tenantID)
	if err != nil {
		s.logger.Error("mcp: onboarding_greeting failed", "tenant_id", tenantID, "error", err)
		return errorResult("failed to load greeting"), nil
	}
	return jsonResult(model.GreetingResponse{Greeting: greeting})
}

func (s *Server) handleState(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	tenantID, err := tenantFrom(ctx)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	st, err := s.orchestrator.GetOnboardingSession(ctx, tenantID)
	if err != nil {
		s.logger.Error("mcp: onboarding_state failed", "tenant_id", tenantID, "error", err)
		return errorResult("failed to load onboarding state"), nil
	}
	if request.GetBool("full", false) {
		return jsonResult(st)
	}
	return jsonResult(compactState(st))
}

// chatErrorMessage is what an MCP caller sees for a failed turn.
func chatErrorMessage(err error) string {
	switch {
	case errors.Is(err, onboarding.ErrAgentUnavailable):
		return onboarding.AgentUnavailableMessage
	case errors.Is(err, onboarding.ErrSessionBusy):
		return "a message for this session is already being processed; retry shortly"
	case errors.Is(err, onboarding.ErrVersionConflict), errors.Is(err, onboarding.ErrSessionConflict):
		return "onboarding state changed concurrently; send the message again"
	case errors.Is(err, onboarding.ErrTenantNotFound):
		return "tenant not found"
	case errors.Is(err, onboarding.ErrEmptyMessage):
		return "message is required"
	default:
		return "onboarding chat failed"
	}
}
