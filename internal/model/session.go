package model

import (
	"time"

	"github.com/google/uuid"
)

// Conversation roles as used by the agent backend.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// Part is one piece of a persisted conversation message.
type Part struct {
	Text string `json:"text"`
}

// Message is one side of a conversation turn.
type Message struct {
	Role  string    `json:"role"`
	Parts []Part    `json:"parts"`
	At    time.Time `json:"at,omitzero"`
}

// Text joins the message's text parts.
func (m Message) Text() string {
	switch len(m.Parts) {
	case 0:
		return ""
	case 1:
		return m.Parts[0].Text
	}
	var n int
	for _, p := range m.Parts {
		n += len(p.Text)
	}
	b := make([]byte, 0, n)
	for _, p := range m.Parts {
		b = append(b, p.Text...)
	}
	return string(b)
}

// TextMessage builds a single-part message.
func TextMessage(role, text string, at time.Time) Message {
	return Message{Role: role, Parts: []Part{{Text: text}}, At: at}
}

// Session is the conversation state of one onboarding chat.
// Sessions are always addressed by (TenantID, ID); they are never visible
// across tenants.
type Session struct {
	ID             uuid.UUID `json:"id"`
	TenantID       uuid.UUID `json:"tenant_id"`
	AgentSessionID string    `json:"agent_session_id,omitempty"`
	Messages       []Message `json:"messages"`
	// CurrentPhase is denormalized from the memory when the session is created.
	CurrentPhase Phase `json:"current_phase"`
	// Revision is the stored version of the session row. Zero means the
	// session has never been persisted.
	Revision  int64     `json:"revision"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TurnCommit is everything one chat turn writes. Stores apply it atomically:
// the events are appended with the optimistic version check and the session is
// written only if its stored revision still equals Session.Revision.
type TurnCommit struct {
	TenantID        uuid.UUID
	ExpectedVersion int64
	Events          []NewEvent
	Session         Session
	OccurredAt      time.Time
}

// TurnCommitResult reports what a committed turn produced.
type TurnCommitResult struct {
	Events          []OnboardingEvent
	NewVersion      int64
	SessionRevision int64
}
