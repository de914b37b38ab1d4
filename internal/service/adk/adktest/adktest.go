// Package adktest provides a scripted agent backend and run-response builders
// for tests of packages that sit above the agent client.
package adktest

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"

	"github.com/ashita-ai/concierge/internal/service/adk"
)

// Call is one tool call in a scripted response. A nil Result leaves the call
// pending.
type Call struct {
	Name   string
	Args   map[string]any
	Result map[string]any
}

// Response encodes a modern run response: the tool calls, their responses,
// then the model's text.
func Response(text string, calls ...Call) []byte {
	var events []map[string]any
	if len(calls) > 0 {
		var callParts, respParts []map[string]any
		for _, c := range calls {
			callParts = append(callParts, map[string]any{"functionCall": map[string]any{"name": c.Name, "args": c.Args}})
			if c.Result != nil {
				respParts = append(respParts, map[string]any{"functionResponse": map[string]any{"name": c.Name, "response": c.Result}})
			}
		}
		events = append(events, map[string]any{"content": map[string]any{"role": "model", "parts": callParts}})
		if len(respParts) > 0 {
			events = append(events, map[string]any{"content": map[string]any{"role": "user", "parts": respParts}})
		}
	}
	events = append(events, map[string]any{"content": map[string]any{"role": "model", "parts": []map[string]any{{"text": text}}}})
	b, _ := json.Marshal(events)
	return b
}

// Agent is a scripted agent backend. The zero value answers every run with
// a plain acknowledgement.
type Agent struct {
	mu        sync.Mutex
	sessions  int
	states    []map[string]any
	runs      []adk.RunRequest
	CreateErr error
	Reply     func(ctx context.Context, req adk.RunRequest) ([]byte, error)
}

// CreateSession returns a fresh agent session id for userID: "agent-<user>-<n>"
// where n counts the sessions created so far.
func (a *Agent) CreateSession(_ context.Context, userID string, state map[string]any) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.CreateErr != nil {
		return "", a.CreateErr
	}
	a.sessions++
	a.states = append(a.states, state)
	return "agent-" + userID + "-" + strconv.Itoa(a.sessions), nil
}

// States returns the seed state of every created session, in order.
func (a *Agent) States() []map[string]any {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]map[string]any(nil), a.states...)
}

// Run records req and answers it with Reply.
func (a *Agent) Run(ctx context.Context, req adk.RunRequest) ([]byte, error) {
	a.mu.Lock()
	a.runs = append(a.runs, req)
	reply := a.Reply
	a.mu.Unlock()
	if reply == nil {
		return Response("Sounds good."), nil
	}
	return reply(ctx, req)
}

// Runs returns the requests seen so far.
func (a *Agent) Runs() []adk.RunRequest {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]adk.RunRequest(nil), a.runs...)
}

// Sessions returns how many agent sessions were created.
func (a *Agent) Sessions() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessions
}
