// Package adk talks to the external agent backend: an HTTP client for its
// session and run endpoints, and a lenient parser for its run responses.
//
// The run endpoint answers in one of two envelopes. The modern envelope is a
// JSON array of events, each optionally carrying model content or an error.
// The legacy envelope is an object with a "messages" array. Parse resolves the
// envelope once into a RunResponse; every Extract function works on that
// normalized form and never on raw JSON. Nothing here returns an error:
// unexpected input degrades to empty results and the fallback text.
package adk

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/ashita-ai/concierge/internal/model"
)

// NoResponseText is returned by ExtractText when no model turn carries text.
const NoResponseText = "No response from agent."

// Shape identifies which response envelope the backend used.
type Shape int

const (
	ShapeUnknown Shape = iota
	ShapeModern
	ShapeLegacy
)

func (s Shape) String() string {
	switch s {
	case ShapeModern:
		return "modern"
	case ShapeLegacy:
		return "legacy"
	}
	return "unknown"
}

// Part is one element of a content's parts array. At most one field is
// normally set, but all are decoded independently.
type Part struct {
	Text             *string           `json:"text,omitempty"`
	FunctionCall     *FunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *FunctionResponse `json:"functionResponse,omitempty"`
}

// FunctionCall is a tool invocation requested by the model.
type FunctionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// FunctionResponse is the result of a tool invocation. It does not echo the
// call's arguments.
type FunctionResponse struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response,omitempty"`
}

// Content is a role-tagged list of parts.
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts,omitempty"`
}

// Event is one element of the modern envelope.
type Event struct {
	Content      *Content `json:"content,omitempty"`
	ErrorCode    string   `json:"errorCode,omitempty"`
	ErrorMessage string   `json:"errorMessage,omitempty"`
}

// RunResponse is a parsed run response. Turns holds the role-tagged contents
// in wire order regardless of shape; Errors is only populated for the modern
// shape.
type RunResponse struct {
	Shape  Shape
	Turns  []Content
	Errors []model.AgentError
}

// Parse decodes a raw run response. Decoding is field by field: a malformed
// field is dropped without taking the rest of its element with it, and
// elements that are not objects are skipped. Input that matches neither
// envelope yields ShapeUnknown.
func Parse(raw []byte) RunResponse {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return RunResponse{}
	}

	switch raw[0] {
	case '[':
		var elems []json.RawMessage
		if err := json.Unmarshal(raw, &elems); err != nil {
			return RunResponse{}
		}
		r := RunResponse{Shape: ShapeModern}
		for _, el := range elems {
			var e struct {
				Content      json.RawMessage `json:"content"`
				ErrorCode    json.RawMessage `json:"errorCode"`
				ErrorMessage json.RawMessage `json:"errorMessage"`
			}
			if err := json.Unmarshal(el, &e); err != nil {
				continue
			}
			code, msg := scalarString(e.ErrorCode), scalarString(e.ErrorMessage)
			if code != "" || msg != "" {
				r.Errors = append(r.Errors, model.AgentError{Code: code, Message: msg})
			}
			if c, ok := decodeContent(e.Content); ok {
				r.Turns = append(r.Turns, c)
			}
		}
		return r

	case '{':
		var env struct {
			Messages json.RawMessage `json:"messages"`
		}
		if err := json.Unmarshal(raw, &env); err != nil {
			return RunResponse{}
		}
		msgs := bytes.TrimSpace(env.Messages)
		if len(msgs) == 0 || msgs[0] != '[' {
			return RunResponse{}
		}
		var elems []json.RawMessage
		if err := json.Unmarshal(msgs, &elems); err != nil {
			return RunResponse{}
		}
		r := RunResponse{Shape: ShapeLegacy}
		for _, el := range elems {
			if c, ok := decodeContent(el); ok {
				r.Turns = append(r.Turns, c)
			}
		}
		return r
	}
	return RunResponse{}
}

// decodeContent reads a content object. ok is false only when raw is not an
// object at all.
func decodeContent(raw json.RawMessage) (Content, bool) {
	var c struct {
		Role  json.RawMessage `json:"role"`
		Parts json.RawMessage `json:"parts"`
	}
	if !isObject(raw) || json.Unmarshal(raw, &c) != nil {
		return Content{}, false
	}
	out := Content{Role: scalarString(c.Role)}
	var parts []json.RawMessage
	if err := json.Unmarshal(c.Parts, &parts); err != nil {
		return out, true
	}
	for _, pr := range parts {
		if p, ok := decodePart(pr); ok {
			out.Parts = append(out.Parts, p)
		}
	}
	return out, true
}

func decodePart(raw json.RawMessage) (Part, bool) {
	var p struct {
		Text             json.RawMessage `json:"text"`
		FunctionCall     json.RawMessage `json:"functionCall"`
		FunctionResponse json.RawMessage `json:"functionResponse"`
	}
	if !isObject(raw) || json.Unmarshal(raw, &p) != nil {
		return Part{}, false
	}
	var out Part
	var text string
	if json.Unmarshal(p.Text, &text) == nil && isString(p.Text) {
		out.Text = &text
	}
	if fc, ok := decodeFunctionCall(p.FunctionCall); ok {
		out.FunctionCall = &fc
	}
	if fr, ok := decodeFunctionResponse(p.FunctionResponse); ok {
		out.FunctionResponse = &fr
	}
	return out, out.Text != nil || out.FunctionCall != nil || out.FunctionResponse != nil
}

func decodeFunctionCall(raw json.RawMessage) (FunctionCall, bool) {
	var fc struct {
		Name json.RawMessage `json:"name"`
		Args json.RawMessage `json:"args"`
	}
	if !isObject(raw) || json.Unmarshal(raw, &fc) != nil {
		return FunctionCall{}, false
	}
	name := scalarString(fc.Name)
	if name == "" {
		return FunctionCall{}, false
	}
	return FunctionCall{Name: name, Args: decodeArgs(fc.Args)}, true
}

// decodeArgs accepts an args object or a string holding one. Anything else
// decodes as no args.
func decodeArgs(raw json.RawMessage) map[string]any {
	if m, ok := decodeObject(raw); ok {
		return m
	}
	var s string
	if isString(raw) && json.Unmarshal(raw, &s) == nil {
		if m, ok := decodeObject(json.RawMessage(s)); ok {
			return m
		}
	}
	return nil
}

func decodeFunctionResponse(raw json.RawMessage) (FunctionResponse, bool) {
	var fr struct {
		Name     json.RawMessage `json:"name"`
		Response json.RawMessage `json:"response"`
	}
	if !isObject(raw) || json.Unmarshal(raw, &fr) != nil {
		return FunctionResponse{}, false
	}
	name := scalarString(fr.Name)
	if name == "" {
		return FunctionResponse{}, false
	}
	out := FunctionResponse{Name: name}
	if m, ok := decodeObject(fr.Response); ok {
		out.Response = m
	} else {
		var v any
		if err := json.Unmarshal(fr.Response, &v); err == nil && v != nil {
			out.Response = map[string]any{"value": v}
		}
	}
	return out, true
}

func decodeObject(raw json.RawMessage) (map[string]any, bool) {
	if !isObject(raw) {
		return nil, false
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, false
	}
	return m, true
}

// scalarString returns a JSON string's value, or the literal text of a
// number or boolean. Everything else is "".
func scalarString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var v any
	if json.Unmarshal(raw, &v) != nil {
		return ""
	}
	switch v.(type) {
	case float64, bool:
		return string(raw)
	}
	return ""
}

func isObject(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '{'
}

func isString(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '"'
}

// ExtractText returns the text of the last model turn that has any, with all
// of that turn's text parts concatenated in order. It returns NoResponseText
// when there is none.
func ExtractText(r RunResponse) string {
	for i := len(r.Turns) - 1; i >= 0; i-- {
		t := r.Turns[i]
		if t.Role != model.RoleModel {
			continue
		}
		var b strings.Builder
		for _, p := range t.Parts {
			if p.Text != nil {
				b.WriteString(*p.Text)
			}
		}
		if b.Len() > 0 {
			return b.String()
		}
	}
	return NoResponseText
}

type pendingCall struct {
	key  string
	call FunctionCall
}

// ExtractToolCalls pairs function calls with function responses.
//
// Calls are keyed by name + ":" + JSON(args) in encounter order. A response
// completes the first pending call whose key starts with its name + ":".
// Completed calls come first, in response order, followed by calls that
// never got a response (Result nil), in call order. Responses with no
// pending call are dropped.
func ExtractToolCalls(r RunResponse) []model.ToolCall {
	var (
		pending   []pendingCall
		completed []model.ToolCall
	)
	for _, t := range r.Turns {
		for _, p := range t.Parts {
			if fc := p.FunctionCall; fc != nil {
				pending = append(pending, pendingCall{key: callKey(fc.Name, fc.Args), call: *fc})
			}
			if fr := p.FunctionResponse; fr != nil {
				prefix := fr.Name + ":"
				for i, pc := range pending {
					if !strings.HasPrefix(pc.key, prefix) {
						continue
					}
					result := fr.Response
					if result == nil {
						result = map[string]any{}
					}
					completed = append(completed, model.ToolCall{Name: pc.call.Name, Args: pc.call.Args, Result: result})
					pending = append(pending[:i], pending[i+1:]...)
					break
				}
			}
		}
	}

	out := make([]model.ToolCall, 0, len(completed)+len(pending))
	out = append(out, completed...)
	for _, pc := range pending {
		out = append(out, model.ToolCall{Name: pc.call.Name, Args: pc.call.Args})
	}
	return out
}

func callKey(name string, args map[string]any) string {
	// encoding/json sorts map keys, so equal args give equal keys.
	b, err := json.Marshal(args)
	if err != nil {
		b = []byte("null")
	}
	return name + ":" + string(b)
}

// ExtractDashboardActions returns every truthy dashboardAction carried in a
// function response, in order. Only the modern shape carries them.
func ExtractDashboardActions(r RunResponse) []model.DashboardAction {
	if r.Shape != ShapeModern {
		return nil
	}
	var out []model.DashboardAction
	for _, t := range r.Turns {
		for _, p := range t.Parts {
			if p.FunctionResponse == nil {
				continue
			}
			v, ok := p.FunctionResponse.Response["dashboardAction"]
			if !ok || !truthy(v) {
				continue
			}
			out = append(out, dashboardAction(v))
		}
	}
	return out
}

// ExtractErrors returns the error events of a modern response.
func ExtractErrors(r RunResponse) []model.AgentError {
	return r.Errors
}

// Normalize parses raw and extracts everything a turn needs.
func Normalize(raw []byte) model.NormalizedAgentResponse {
	return NormalizeResponse(Parse(raw))
}

// NormalizeResponse extracts everything a turn needs from a parsed response.
func NormalizeResponse(r RunResponse) model.NormalizedAgentResponse {
	return model.NormalizedAgentResponse{
		Text:             ExtractText(r),
		ToolCalls:        ExtractToolCalls(r),
		DashboardActions: ExtractDashboardActions(r),
		Errors:           ExtractErrors(r),
	}
}

func dashboardAction(v any) model.DashboardAction {
	obj, ok := v.(map[string]any)
	if !ok {
		return model.DashboardAction{Payload: map[string]any{"value": v}}
	}
	typ, _ := obj["type"].(string)
	return model.DashboardAction{Type: typ, Payload: obj}
}

// truthy follows JSON truthiness: null, false, 0 and "" are false.
func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case float64:
		return x != 0
	case string:
		return x != ""
	}
	return true
}
