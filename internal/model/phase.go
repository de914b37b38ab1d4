package model

// Phase is a state of the onboarding state machine.
type Phase string

const (
	PhaseNotStarted     Phase = "NOT_STARTED"
	PhaseDiscovery      Phase = "DISCOVERY"
	PhaseMarketResearch Phase = "MARKET_RESEARCH"
	PhaseServices       Phase = "SERVICES"
	PhaseMarketing      Phase = "MARKETING"
	PhaseCompleted      Phase = "COMPLETED"
	PhaseSkipped        Phase = "SKIPPED"
)

// ActivePhases lists the phases in which the tenant is still being prompted,
// in flow order.
var ActivePhases = []Phase{
	PhaseNotStarted,
	PhaseDiscovery,
	PhaseMarketResearch,
	PhaseServices,
	PhaseMarketing,
}

// ParsePhase returns the phase named by s and whether it is known.
func ParsePhase(s string) (Phase, bool) {
	p := Phase(s)
	return p, p.Valid()
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	return p.Active() || p.Terminal()
}

// Active reports whether onboarding should keep prompting in this phase.
// COMPLETED and SKIPPED are both inactive.
func (p Phase) Active() bool {
	switch p {
	case PhaseNotStarted, PhaseDiscovery, PhaseMarketResearch, PhaseServices, PhaseMarketing:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are allowed out of p.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseSkipped
}

// Rank returns the position of p in the flow. SKIPPED and unknown phases rank -1.
func (p Phase) Rank() int {
	for i, ap := range ActivePhases {
		if ap == p {
			return i
		}
	}
	if p == PhaseCompleted {
		return len(ActivePhases)
	}
	return -1
}
