package onboarding

import (
	"sort"

	"github.com/ashita-ai/concierge/internal/model"
)

// Names of the tools that mutate onboarding state.
const (
	ToolUpdateState            = "update_onboarding_state"
	ToolCompleteDiscovery      = "complete_discovery"
	ToolStoreDiscoveryData     = "store_discovery_data"
	ToolCompleteMarketResearch = "complete_market_research"
	ToolCompleteOnboarding     = "complete_onboarding"
	ToolSkipOnboarding         = "skip_onboarding"
)

// toolHandler validates a call against the memory as it stands before the
// call and returns the event that records it.
type toolHandler func(mem model.AdvisorMemory, args map[string]any) (model.NewEvent, error)

var stateTools = map[string]toolHandler{
	ToolUpdateState:            updateState,
	ToolCompleteDiscovery:      completeDiscovery,
	ToolStoreDiscoveryData:     completeDiscovery,
	ToolCompleteMarketResearch: completeMarketResearch,
	ToolCompleteOnboarding:     completeOnboarding,
	ToolSkipOnboarding:         skipOnboarding,
}

// StateTools lists the tool names that mutate onboarding state, sorted.
func StateTools() []string {
	names := make([]string, 0, len(stateTools))
	for n := range stateTools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// IsStateTool reports whether name mutates onboarding state.
func IsStateTool(name string) bool {
	_, ok := stateTools[name]
	return ok
}

func updateState(mem model.AdvisorMemory, args map[string]any) (model.NewEvent, error) {
	raw, _ := args["phase"].(string)
	if raw == "" {
		return model.NewEvent{}, rejectf("phase is required")
	}
	phase, ok := model.ParsePhase(raw)
	if !ok {
		return model.NewEvent{}, rejectf("unknown phase %q", raw)
	}
	if err := checkOpen(mem); err != nil {
		return model.NewEvent{}, err
	}
	if phase == model.PhaseNotStarted {
		return model.NewEvent{}, rejectf("cannot return to %s", model.PhaseNotStarted)
	}

	var data map[string]any
	if v, present := args["data"]; present && v != nil {
		m, ok := v.(map[string]any)
		if !ok {
			return model.NewEvent{}, rejectf("data must be an object")
		}
		data = m
	}
	return model.NewEvent{
		Type:    model.EventStateUpdated,
		Payload: model.StateUpdatedPayload{Phase: phase, Data: data}.Map(),
	}, nil
}

func completeDiscovery(mem model.AdvisorMemory, args map[string]any) (model.NewEvent, error) {
	if err := checkOpen(mem); err != nil {
		return model.NewEvent{}, err
	}
	data, err := objectArg(args)
	if err != nil {
		return model.NewEvent{}, err
	}
	return model.NewEvent{
		Type:    model.EventDiscoveryCompleted,
		Payload: map[string]any{"data": data},
	}, nil
}

func completeMarketResearch(mem model.AdvisorMemory, args map[string]any) (model.NewEvent, error) {
	if err := checkOpen(mem); err != nil {
		return model.NewEvent{}, err
	}
	data, err := objectArg(args)
	if err != nil {
		return model.NewEvent{}, err
	}
	return model.NewEvent{
		Type:    model.EventMarketResearchCompleted,
		Payload: map[string]any{"data": data},
	}, nil
}

func completeOnboarding(mem model.AdvisorMemory, _ map[string]any) (model.NewEvent, error) {
	if err := checkOpen(mem); err != nil {
		return model.NewEvent{}, err
	}
	return model.NewEvent{Type: model.EventOnboardingCompleted, Payload: map[string]any{}}, nil
}

func skipOnboarding(mem model.AdvisorMemory, args map[string]any) (model.NewEvent, error) {
	if err := checkOpen(mem); err != nil {
		return model.NewEvent{}, err
	}
	payload := map[string]any{}
	if reason, _ := args["reason"].(string); reason != "" {
		payload["reason"] = reason
	}
	return model.NewEvent{Type: model.EventOnboardingSkipped, Payload: payload}, nil
}

// checkOpen rejects any transition out of a terminal phase.
func checkOpen(mem model.AdvisorMemory) error {
	if mem.CurrentPhase.Terminal() {
		return rejectf("onboarding is already %s", mem.CurrentPhase)
	}
	return nil
}

// objectArg returns args["data"] when it is an object, else the remaining
// arguments. An empty result is rejected.
func objectArg(args map[string]any) (map[string]any, error) {
	if v, present := args["data"]; present {
		m, ok := v.(map[string]any)
		if !ok || len(m) == 0 {
			return nil, rejectf("data must be a non-empty object")
		}
		return m, nil
	}
	if len(args) == 0 {
		return nil, rejectf("data is required")
	}
	return args, nil
}

// agentReportedFailure reports whether the backend's response to a tool call
// says the call failed.
func agentReportedFailure(result map[string]any) bool {
	if result == nil {
		return false
	}
	if _, ok := result["error"]; ok {
		return true
	}
	status, _ := result["status"].(string)
	return status == "error" || status == "failed"
}
