package mcp

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/ashita-ai/concierge/internal/service/onboarding"
)

const (
	maxCompactMessage  = 280
	maxCompactMessages = 6
)

// compactState returns a minimal representation of an onboarding snapshot
// for MCP responses. Drops the raw phase data and all but the last few
// messages, and truncates long messages.
func compactState(st onboarding.OnboardingState) map[string]any {
	m := map[string]any{
		"tenant_id":    st.TenantID,
		"phase":        st.Phase,
		"active":       st.Active,
		"is_returning": st.IsReturning,
		"version":      st.Memory.LastEventVersion,
	}
	if st.ResumeSummary != "" {
		m["resume_summary"] = st.ResumeSummary
	}
	if st.Memory.Digest != "" {
		m["digest"] = st.Memory.Digest
	}
	if st.Memory.SkipReason != "" {
		m["skip_reason"] = st.Memory.SkipReason
	}
	if keys := sortedKeys(st.Memory.DiscoveryData); len(keys) > 0 {
		m["discovery_fields"] = keys
	}
	if keys := sortedKeys(st.Memory.MarketResearch); len(keys) > 0 {
		m["market_research_fields"] = keys
	}

	if st.Session != nil {
		msgs := st.Session.Messages
		if len(msgs) > maxCompactMessages {
			msgs = msgs[len(msgs)-maxCompactMessages:]
		}
		recent := make([]map[string]string, 0, len(msgs))
		for _, msg := range msgs {
			recent = append(recent, map[string]string{
				"role": msg.Role,
				"text": truncate(msg.Text(), maxCompactMessage),
			})
		}
		m["session"] = map[string]any{
			"id":              st.Session.ID,
			"message_count":   len(st.Session.Messages),
			"recent_messages": recent,
			"updated_at":      st.Session.UpdatedAt,
		}
	}
	return m
}

func sortedKeys(m map[string]any) []string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// truncate shortens s to at most n runes, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}
