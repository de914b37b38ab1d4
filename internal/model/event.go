package model

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the category of an onboarding event.
type EventType string

const (
	// EventDiscoveryCompleted replaces the tenant's discovery facts wholesale.
	EventDiscoveryCompleted EventType = "DISCOVERY_COMPLETED"
	// EventStateUpdated moves the tenant to payload.phase and merges payload.data
	// into that phase's working set.
	EventStateUpdated EventType = "STATE_UPDATED"
	// EventMarketResearchCompleted stores the market research findings.
	EventMarketResearchCompleted EventType = "MARKET_RESEARCH_COMPLETED"
	// EventOnboardingCompleted closes the onboarding flow.
	EventOnboardingCompleted EventType = "ONBOARDING_COMPLETED"
	// EventOnboardingSkipped records that the tenant opted out.
	EventOnboardingSkipped EventType = "ONBOARDING_SKIPPED"
)

// Valid reports whether t is one of the known event types.
func (t EventType) Valid() bool {
	switch t {
	case EventDiscoveryCompleted, EventStateUpdated, EventMarketResearchCompleted,
		EventOnboardingCompleted, EventOnboardingSkipped:
		return true
	}
	return false
}

// OnboardingEvent is an append-only fact in a tenant's onboarding log.
// Source of truth. Never mutated or deleted.
//
// Versions are strictly increasing per tenant with no gaps. The first event
// of a tenant has version 1; an empty stream is at version 0.
type OnboardingEvent struct {
	ID         uuid.UUID      `json:"id"`
	TenantID   uuid.UUID      `json:"tenant_id"`
	Type       EventType      `json:"type"`
	Payload    map[string]any `json:"payload"`
	Version    int64          `json:"version"`
	OccurredAt time.Time      `json:"occurred_at"`

	// ContentHash seals the fields above at append time.
	ContentHash string `json:"content_hash"`
}

// NewEvent is an event that has not been assigned a version yet.
type NewEvent struct {
	Type    EventType
	Payload map[string]any
}

// StateUpdatedPayload is the payload for STATE_UPDATED events.
type StateUpdatedPayload struct {
	Phase Phase          `json:"phase"`
	Data  map[string]any `json:"data,omitempty"`
}

// Map converts the payload into the generic form stored in the log.
func (p StateUpdatedPayload) Map() map[string]any {
	m := map[string]any{"phase": string(p.Phase)}
	if p.Data != nil {
		m["data"] = p.Data
	}
	return m
}
