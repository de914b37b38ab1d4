package model

// ToolCall is a tool invocation requested by the agent during one turn.
// Result is nil when no matching function response was observed: the call was
// issued but its outcome is unknown.
type ToolCall struct {
	Name   string         `json:"name"`
	Args   map[string]any `json:"args"`
	Result map[string]any `json:"result,omitempty"`
}

// HasResult reports whether the agent backend returned a response for the call.
func (c ToolCall) HasResult() bool {
	return c.Result != nil
}

// DashboardAction is a UI hint carried in a tool response. It never drives
// state transitions.
type DashboardAction struct {
	Type    string         `json:"type,omitempty"`
	Payload map[string]any `json:"payload"`
}

// AgentError is an error event emitted by the agent backend.
type AgentError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NormalizedAgentResponse is the shape-independent view of one agent run.
type NormalizedAgentResponse struct {
	Text             string            `json:"text"`
	ToolCalls        []ToolCall        `json:"tool_calls"`
	DashboardActions []DashboardAction `json:"dashboard_actions"`
	Errors           []AgentError      `json:"errors,omitempty"`
}

// ToolResult is the orchestrator's report for one tool call it saw.
// Applied is true when the call mutated onboarding state; Version is the
// event version it produced.
type ToolResult struct {
	ToolCall
	Applied bool   `json:"applied"`
	Version int64  `json:"version,omitempty"`
	Error   string `json:"error,omitempty"`
}
