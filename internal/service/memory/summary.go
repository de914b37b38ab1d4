package memory

import (
	"fmt"
	"strings"

	"github.com/ashita-ai/concierge/internal/model"
)

// Discovery payloads come from the agent, so the same fact may arrive under
// either casing convention.
var (
	nameKeys     = []string{"businessName", "business_name", "name"}
	typeKeys     = []string{"businessType", "business_type", "industry"}
	locationKeys = []string{"location", "city"}
	goalKeys     = []string{"goals", "primaryGoal", "primary_goal"}
)

var phaseLabels = map[model.Phase]string{
	model.PhaseNotStarted:     "getting started",
	model.PhaseDiscovery:      "learning about your business",
	model.PhaseMarketResearch: "market research",
	model.PhaseServices:       "setting up your services",
	model.PhaseMarketing:      "planning your marketing",
	model.PhaseCompleted:      "onboarding complete",
	model.PhaseSkipped:        "onboarding skipped",
}

// PhaseLabel returns a short human-readable name for a phase.
func PhaseLabel(p model.Phase) string {
	if l, ok := phaseLabels[p]; ok {
		return l
	}
	return strings.ToLower(string(p))
}

// Summarize renders the resume summary for m. It returns false when m has no
// discovery data.
func Summarize(m model.AdvisorMemory) (string, bool) {
	if !m.HasDiscovery() {
		return "", false
	}

	var b strings.Builder
	b.WriteString("Welcome back!")
	name := lookup(m.DiscoveryData, nameKeys)
	if name != "" {
		fmt.Fprintf(&b, " Here's where we left off with %s.", name)
	} else {
		b.WriteString(" Here's where we left off.")
	}

	var facts []string
	if t := lookup(m.DiscoveryData, typeKeys); t != "" {
		facts = append(facts, "Business type: "+t)
	}
	if l := lookup(m.DiscoveryData, locationKeys); l != "" {
		facts = append(facts, "Location: "+l)
	}
	if g := lookup(m.DiscoveryData, goalKeys); g != "" {
		facts = append(facts, "Goals: "+g)
	}
	for _, f := range facts {
		b.WriteString("\n- ")
		b.WriteString(f)
	}

	if done := completedSteps(m.CurrentPhase); len(done) > 0 {
		b.WriteString("\nCompleted: ")
		b.WriteString(strings.Join(done, ", "))
	}
	fmt.Fprintf(&b, "\nCurrent step: %s", PhaseLabel(m.CurrentPhase))
	return b.String(), true
}

// completedSteps lists the active phases strictly before p.
func completedSteps(p model.Phase) []string {
	rank := p.Rank()
	var out []string
	// NOT_STARTED is never a completed step.
	for i := 1; i < rank && i < len(model.ActivePhases); i++ {
		out = append(out, PhaseLabel(model.ActivePhases[i]))
	}
	return out
}

// lookup returns the first non-empty value among keys, rendered as text.
func lookup(data map[string]any, keys []string) string {
	for _, k := range keys {
		v, ok := data[k]
		if !ok || v == nil {
			continue
		}
		switch x := v.(type) {
		case string:
			if s := strings.TrimSpace(x); s != "" {
				return s
			}
		case []any:
			parts := make([]string, 0, len(x))
			for _, item := range x {
				parts = append(parts, fmt.Sprint(item))
			}
			if len(parts) > 0 {
				return strings.Join(parts, ", ")
			}
		default:
			return fmt.Sprint(x)
		}
	}
	return ""
}
