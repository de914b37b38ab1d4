// Package memory derives a tenant's onboarding state from its event log.
//
// The projection is a pure left fold over the ordered events; nothing in this
// package writes. Service adds the I/O (loading the log) and the clock-based
// "returning tenant" check on top of the fold.
package memory

import (
	"maps"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/concierge/internal/model"
)

// Empty returns the memory of a tenant that has no events.
func Empty(tenantID uuid.UUID) model.AdvisorMemory {
	return model.AdvisorMemory{
		TenantID:     tenantID,
		CurrentPhase: model.PhaseNotStarted,
	}
}

// Project folds events (ordered by version) into an AdvisorMemory.
// Folding the same events always yields an equal memory.
func Project(tenantID uuid.UUID, events []model.OnboardingEvent) model.AdvisorMemory {
	m := Empty(tenantID)
	for _, e := range events {
		m = fold(m, e)
	}
	return m
}

// Apply folds additional events onto an existing memory without modifying it.
// The result carries no digest once any event is applied.
func Apply(m model.AdvisorMemory, events ...model.OnboardingEvent) model.AdvisorMemory {
	m = clone(m)
	for _, e := range events {
		m = fold(m, e)
		m.Digest = ""
	}
	return m
}

// IsReturning reports whether the tenant has history older than threshold:
// at least one event exists and the latest one occurred before now-threshold.
// A tenant continuing within the same sitting is not returning.
func IsReturning(m model.AdvisorMemory, now time.Time, threshold time.Duration) bool {
	if !m.HasEvents() || m.LastEventAt.IsZero() {
		return false
	}
	return m.LastEventAt.Before(now.Add(-threshold))
}

// fold applies one event. It assumes m's maps are owned by the caller.
func fold(m model.AdvisorMemory, e model.OnboardingEvent) model.AdvisorMemory {
	switch e.Type {
	case model.EventDiscoveryCompleted:
		m.DiscoveryData = dataOrPayload(e.Payload)
		if m.CurrentPhase == model.PhaseNotStarted || m.CurrentPhase == model.PhaseDiscovery {
			m.CurrentPhase = model.PhaseMarketResearch
		}

	case model.EventStateUpdated:
		raw, _ := e.Payload["phase"].(string)
		phase, ok := model.ParsePhase(raw)
		if !ok {
			break
		}
		if data, ok := e.Payload["data"].(map[string]any); ok && len(data) > 0 {
			if m.PhaseData == nil {
				m.PhaseData = make(map[model.Phase]map[string]any)
			}
			merged := maps.Clone(m.PhaseData[phase])
			if merged == nil {
				merged = make(map[string]any, len(data))
			}
			maps.Copy(merged, data)
			m.PhaseData[phase] = merged
		}
		m.CurrentPhase = phase

	case model.EventMarketResearchCompleted:
		m.MarketResearch = dataOrPayload(e.Payload)
		if r := m.CurrentPhase.Rank(); r >= 0 && r < model.PhaseServices.Rank() {
			m.CurrentPhase = model.PhaseServices
		}

	case model.EventOnboardingCompleted:
		m.CurrentPhase = model.PhaseCompleted

	case model.EventOnboardingSkipped:
		m.CurrentPhase = model.PhaseSkipped
		m.SkipReason, _ = e.Payload["reason"].(string)
	}

	// Unknown event types still advance the version.
	m.LastEventVersion = e.Version
	m.LastEventAt = e.OccurredAt
	return m
}

// dataOrPayload returns payload["data"] when it is an object, else a copy of
// the whole payload.
func dataOrPayload(payload map[string]any) map[string]any {
	if data, ok := payload["data"].(map[string]any); ok {
		return maps.Clone(data)
	}
	if len(payload) == 0 {
		return nil
	}
	return maps.Clone(payload)
}

func clone(m model.AdvisorMemory) model.AdvisorMemory {
	m.DiscoveryData = maps.Clone(m.DiscoveryData)
	m.MarketResearch = maps.Clone(m.MarketResearch)
	if m.PhaseData != nil {
		pd := make(map[model.Phase]map[string]any, len(m.PhaseData))
		for k, v := range m.PhaseData {
			pd[k] = maps.Clone(v)
		}
		m.PhaseData = pd
	}
	return m
}
