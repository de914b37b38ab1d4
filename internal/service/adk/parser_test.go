package adk_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/concierge/internal/model"
	"github.com/ashita-ai/concierge/internal/service/adk"
)

func TestParseShapes(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want adk.Shape
	}{
		{"modern", `[{"content":{"role":"model","parts":[{"text":"hi"}]}}]`, adk.ShapeModern},
		{"modern empty", `[]`, adk.ShapeModern},
		{"legacy", `{"messages":[{"role":"model","parts":[{"text":"hi"}]}]}`, adk.ShapeLegacy},
		{"object without messages", `{"output":"hi"}`, adk.ShapeUnknown},
		{"messages not array", `{"messages":"hi"}`, adk.ShapeUnknown},
		{"invalid json", `[{"content":`, adk.ShapeUnknown},
		{"scalar", `"hello"`, adk.ShapeUnknown},
		{"empty", ``, adk.ShapeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, adk.Parse([]byte(tt.raw)).Shape)
		})
	}
}

func TestUnknownShapeDegrades(t *testing.T) {
	for _, raw := range []string{`{"foo":1}`, `not json`, `42`, `null`} {
		n := adk.Normalize([]byte(raw))
		assert.Equal(t, adk.NoResponseText, n.Text, raw)
		assert.Empty(t, n.ToolCalls, raw)
		assert.Empty(t, n.DashboardActions, raw)
	}
}

func TestExtractTextShapeAgnostic(t *testing.T) {
	modern := `[
		{"content":{"role":"user","parts":[{"text":"I run a yoga studio"}]}},
		{"content":{"role":"model","parts":[{"text":"Great, "},{"text":"tell me more."}]}}
	]`
	legacy := `{"messages":[
		{"role":"user","parts":[{"text":"I run a yoga studio"}]},
		{"role":"model","parts":[{"text":"Great, "},{"text":"tell me more."}]}
	]}`
	m := adk.ExtractText(adk.Parse([]byte(modern)))
	l := adk.ExtractText(adk.Parse([]byte(legacy)))
	assert.Equal(t, "Great, tell me more.", m)
	assert.Equal(t, m, l)
}

func TestExtractTextSplitParts(t *testing.T) {
	raw := `[{"content":{"role":"model","parts":[{"text":"Hello "},{"text":"there"}]}}]`
	assert.Equal(t, "Hello there", adk.ExtractText(adk.Parse([]byte(raw))))
}

func TestExtractTextPicksLastModelTurnWithText(t *testing.T) {
	raw := `[
		{"content":{"role":"model","parts":[{"text":"first"}]}},
		{"content":{"role":"model","parts":[{"text":"second"}]}},
		{"content":{"role":"model","parts":[{"functionCall":{"name":"lookup","args":{}}}]}},
		{"content":{"role":"user","parts":[{"text":"ignored"}]}},
		{"errorCode":"RATE_LIMIT","errorMessage":"slow down"}
	]`
	assert.Equal(t, "second", adk.ExtractText(adk.Parse([]byte(raw))))
}

func TestExtractTextFallback(t *testing.T) {
	raw := `[{"content":{"role":"model","parts":[{"functionCall":{"name":"update_onboarding_state","args":{"phase":"DISCOVERY"}}}]}}]`
	assert.Equal(t, adk.NoResponseText, adk.ExtractText(adk.Parse([]byte(raw))))
	assert.Equal(t, adk.NoResponseText, adk.ExtractText(adk.Parse([]byte(`{"messages":[]}`))))
}

func TestExtractToolCallsMatched(t *testing.T) {
	raw := `[
		{"content":{"role":"model","parts":[{"functionCall":{"name":"book","args":{"id":1}}}]}},
		{"content":{"role":"user","parts":[{"functionResponse":{"name":"book","response":{"ok":true}}}]}}
	]`
	calls := adk.ExtractToolCalls(adk.Parse([]byte(raw)))
	require.Len(t, calls, 1)
	assert.Equal(t, "book", calls[0].Name)
	assert.Equal(t, map[string]any{"id": float64(1)}, calls[0].Args)
	assert.Equal(t, map[string]any{"ok": true}, calls[0].Result)
	assert.True(t, calls[0].HasResult())
}

func TestExtractToolCallsUnmatched(t *testing.T) {
	raw := `[{"content":{"role":"model","parts":[{"functionCall":{"name":"book","args":{"id":1}}}]}}]`
	calls := adk.ExtractToolCalls(adk.Parse([]byte(raw)))
	require.Len(t, calls, 1)
	assert.Nil(t, calls[0].Result)
	assert.False(t, calls[0].HasResult())
}

func TestExtractToolCallsOrdering(t *testing.T) {
	// Calls a, b, c; responses arrive for c then a; b is never answered.
	raw := `[
		{"content":{"role":"model","parts":[
			{"functionCall":{"name":"a","args":{"n":1}}},
			{"functionCall":{"name":"b","args":{"n":2}}},
			{"functionCall":{"name":"c","args":{"n":3}}}
		]}},
		{"content":{"role":"user","parts":[
			{"functionResponse":{"name":"c","response":{"r":"c"}}},
			{"functionResponse":{"name":"a","response":{"r":"a"}}},
			{"functionResponse":{"name":"zzz","response":{"r":"orphan"}}}
		]}}
	]`
	calls := adk.ExtractToolCalls(adk.Parse([]byte(raw)))
	require.Len(t, calls, 3)
	assert.Equal(t, []string{"c", "a", "b"}, []string{calls[0].Name, calls[1].Name, calls[2].Name})
	assert.Equal(t, "c", calls[0].Result["r"])
	assert.Equal(t, "a", calls[1].Result["r"])
	assert.Nil(t, calls[2].Result)
}

func TestExtractToolCallsSameNameFIFO(t *testing.T) {
	raw := `[
		{"content":{"role":"model","parts":[
			{"functionCall":{"name":"save","args":{"k":"first"}}},
			{"functionCall":{"name":"save","args":{"k":"second"}}}
		]}},
		{"content":{"role":"user","parts":[{"functionResponse":{"name":"save","response":{"ok":1}}}]}}
	]`
	calls := adk.ExtractToolCalls(adk.Parse([]byte(raw)))
	require.Len(t, calls, 2)
	assert.Equal(t, "first", calls[0].Args["k"], "response matches the earliest pending call")
	assert.NotNil(t, calls[0].Result)
	assert.Equal(t, "second", calls[1].Args["k"])
	assert.Nil(t, calls[1].Result)
}

func TestExtractToolCallsLegacyShape(t *testing.T) {
	raw := `{"messages":[
		{"role":"model","parts":[{"functionCall":{"name":"save","args":{"a":1}}}]},
		{"role":"user","parts":[{"functionResponse":{"name":"save","response":{"ok":true}}}]}
	]}`
	calls := adk.ExtractToolCalls(adk.Parse([]byte(raw)))
	require.Len(t, calls, 1)
	assert.Equal(t, true, calls[0].Result["ok"])
}

func TestExtractDashboardActions(t *testing.T) {
	raw := `[
		{"content":{"role":"user","parts":[
			{"functionResponse":{"name":"a","response":{"dashboardAction":{"type":"SHOW_PREVIEW","url":"/p"}}}},
			{"functionResponse":{"name":"b","response":{"dashboardAction":false}}},
			{"functionResponse":{"name":"c","response":{"dashboardAction":null}}},
			{"functionResponse":{"name":"d","response":{"ok":true}}},
			{"functionResponse":{"name":"e","response":{"dashboardAction":"refresh"}}}
		]}}
	]`
	actions := adk.ExtractDashboardActions(adk.Parse([]byte(raw)))
	require.Len(t, actions, 2)
	assert.Equal(t, "SHOW_PREVIEW", actions[0].Type)
	assert.Equal(t, "/p", actions[0].Payload["url"])
	assert.Equal(t, "refresh", actions[1].Payload["value"])
}

func TestDashboardActionsNeverFromLegacy(t *testing.T) {
	raw := `{"messages":[{"role":"user","parts":[{"functionResponse":{"name":"a","response":{"dashboardAction":{"type":"X"}}}}]}]}`
	assert.Empty(t, adk.ExtractDashboardActions(adk.Parse([]byte(raw))))
}

func TestExtractErrors(t *testing.T) {
	raw := `[{"errorCode":"SAFETY","errorMessage":"blocked"},{"content":{"role":"model","parts":[{"text":"ok"}]}}]`
	n := adk.Normalize([]byte(raw))
	assert.Equal(t, []model.AgentError{{Code: "SAFETY", Message: "blocked"}}, n.Errors)
	assert.Equal(t, "ok", n.Text)
}

func TestParseSkipsMalformedElements(t *testing.T) {
	raw := `[
		17,
		{"content":{"role":"model","parts":"oops"}},
		{"content":{"role":"model","parts":[{"text":"survivor"}]}}
	]`
	r := adk.Parse([]byte(raw))
	assert.Equal(t, adk.ShapeModern, r.Shape)
	assert.Equal(t, "survivor", adk.ExtractText(r))
}

func TestParseKeepsValidFieldsBesideMalformedOnes(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantText  string
		wantCalls []model.ToolCall
		wantErrs  []model.AgentError
	}{
		{
			name: "args sent as a JSON string",
			raw: `[{"content":{"role":"model","parts":[
				{"text":"Hello there"},
				{"functionCall":{"name":"lookup","args":"{\"city\":\"Austin\"}"}}
			]}}]`,
			wantText:  "Hello there",
			wantCalls: []model.ToolCall{{Name: "lookup", Args: map[string]any{"city": "Austin"}}},
		},
		{
			name: "args not an object",
			raw: `[{"content":{"role":"model","parts":[
				{"text":"Hi"},
				{"functionCall":{"name":"lookup","args":[1,2]}}
			]}}]`,
			wantText:  "Hi",
			wantCalls: []model.ToolCall{{Name: "lookup"}},
		},
		{
			name:     "non-string text part",
			raw:      `{"messages":[{"role":"model","parts":[{"text":"Hi"},{"text":7}]}]}`,
			wantText: "Hi",
		},
		{
			name:     "error beside non-object content",
			raw:      `[{"errorCode":"SAFETY","errorMessage":"blocked","content":"oops"}]`,
			wantText: adk.NoResponseText,
			wantErrs: []model.AgentError{{Code: "SAFETY", Message: "blocked"}},
		},
		{
			name:     "numeric error code",
			raw:      `[{"errorCode":429,"errorMessage":"quota"}]`,
			wantText: adk.NoResponseText,
			wantErrs: []model.AgentError{{Code: "429", Message: "quota"}},
		},
		{
			name: "function call without a name",
			raw: `[{"content":{"role":"model","parts":[
				{"functionCall":{"args":{}}},
				{"text":"still here"}
			]}}]`,
			wantText: "still here",
		},
		{
			name: "scalar function response",
			raw: `[{"content":{"role":"model","parts":[
				{"functionCall":{"name":"ping","args":{}}},
				{"functionResponse":{"name":"ping","response":"pong"}},
				{"text":"done"}
			]}}]`,
			wantText:  "done",
			wantCalls: []model.ToolCall{{Name: "ping", Args: map[string]any{}, Result: map[string]any{"value": "pong"}}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := adk.Normalize([]byte(tt.raw))
			assert.Equal(t, tt.wantText, n.Text)
			if tt.wantCalls == nil {
				assert.Empty(t, n.ToolCalls)
			} else {
				assert.Equal(t, tt.wantCalls, n.ToolCalls)
			}
			if tt.wantErrs == nil {
				assert.Empty(t, n.Errors)
			} else {
				assert.Equal(t, tt.wantErrs, n.Errors)
			}
		})
	}
}
