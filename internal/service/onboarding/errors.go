package onboarding

import (
	"errors"
	"fmt"

	"github.com/ashita-ai/concierge/internal/storage"
)

// AgentUnavailableMessage is the only description of an agent failure shown
// to users.
const AgentUnavailableMessage = "Failed to communicate with AI assistant"

// Errors returned by the Orchestrator. Callers distinguish them with
// errors.Is; the storage sentinels remain reachable through the conflict
// errors.
var (
	ErrAgentUnavailable = errors.New("onboarding: agent unavailable")
	ErrVersionConflict  = fmt.Errorf("onboarding: %w", storage.ErrVersionConflict)
	ErrSessionConflict  = fmt.Errorf("onboarding: %w", storage.ErrSessionConflict)
	ErrSessionBusy      = errors.New("onboarding: session has a turn in progress")
	ErrTenantNotFound   = errors.New("onboarding: tenant not found")
	ErrEmptyMessage     = errors.New("onboarding: message is empty")
)

// IsRetryable reports whether the same request may succeed after the caller
// reloads state.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrVersionConflict) ||
		errors.Is(err, ErrSessionConflict) ||
		errors.Is(err, ErrSessionBusy) ||
		errors.Is(err, ErrAgentUnavailable)
}

// toolError is a rejected tool call. It is reported in the turn's tool
// results and never fails the turn.
type toolError struct {
	msg string
}

func (e *toolError) Error() string { return e.msg }

func rejectf(format string, args ...any) error {
	return &toolError{msg: fmt.Sprintf(format, args...)}
}
