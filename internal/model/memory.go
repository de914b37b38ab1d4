package model

import (
	"time"

	"github.com/google/uuid"
)

// AdvisorMemory is the onboarding state of a tenant as derived from its
// event log. It is never stored; it is recomputed on every read.
type AdvisorMemory struct {
	TenantID         uuid.UUID                `json:"tenant_id"`
	DiscoveryData    map[string]any           `json:"discovery_data,omitempty"`
	MarketResearch   map[string]any           `json:"market_research,omitempty"`
	PhaseData        map[Phase]map[string]any `json:"phase_data,omitempty"`
	CurrentPhase     Phase                    `json:"current_phase"`
	SkipReason       string                   `json:"skip_reason,omitempty"`
	LastEventVersion int64                    `json:"last_event_version"`
	LastEventAt      time.Time                `json:"last_event_at,omitzero"`
	IsReturning      bool                     `json:"is_returning"`
	// Digest is the Merkle root of the content hashes of the folded events.
	Digest string `json:"digest,omitempty"`
}

// HasEvents reports whether any event has been folded into the memory.
func (m AdvisorMemory) HasEvents() bool {
	return m.LastEventVersion > 0
}

// HasDiscovery reports whether discovery facts were recorded.
func (m AdvisorMemory) HasDiscovery() bool {
	return len(m.DiscoveryData) > 0
}
