// Package session owns onboarding conversation history: lazy creation,
// tenant-scoped lookup, turn appends and the bounded context window that is
// replayed to the agent backend when a conversation resumes.
package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/concierge/internal/model"
	"github.com/ashita-ai/concierge/internal/service/memory"
	"github.com/ashita-ai/concierge/internal/storage"
)

// History bounds used by BuildContext when none are configured.
const (
	DefaultMaxHistoryMessages = 40
	DefaultMaxHistoryChars    = 24000
)

// Store reads persisted sessions. Writes happen through the turn commit.
type Store interface {
	GetSession(ctx context.Context, tenantID, sessionID uuid.UUID) (model.Session, error)
	LatestSession(ctx context.Context, tenantID uuid.UUID) (model.Session, error)
}

// Manager creates, loads and extends sessions.
type Manager struct {
	store       Store
	maxMessages int
	maxChars    int
	now         func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithHistoryLimits bounds the history replayed to the agent. Non-positive
// values keep the defaults.
func WithHistoryLimits(maxMessages, maxChars int) Option {
	return func(m *Manager) {
		if maxMessages > 0 {
			m.maxMessages = maxMessages
		}
		if maxChars > 0 {
			m.maxChars = maxChars
		}
	}
}

// WithClock overrides the time source for new sessions.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a Manager over store.
func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{
		store:       store,
		maxMessages: DefaultMaxHistoryMessages,
		maxChars:    DefaultMaxHistoryChars,
		now:         time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// GetOrCreate loads (tenantID, *sessionID). When sessionID is nil or names no
// session of this tenant, a new session is allocated with a fresh id and
// created reports true. New sessions are not persisted here; the first
// committed turn writes them.
func (m *Manager) GetOrCreate(ctx context.Context, tenantID uuid.UUID, sessionID *uuid.UUID, phase model.Phase) (sess model.Session, created bool, err error) {
	if sessionID != nil {
		s, err := m.store.GetSession(ctx, tenantID, *sessionID)
		switch {
		case err == nil:
			return s, false, nil
		case !errors.Is(err, storage.ErrNotFound):
			return model.Session{}, false, fmt.Errorf("session: load: %w", err)
		}
	}

	now := m.now().UTC()
	return model.Session{
		ID:           uuid.New(),
		TenantID:     tenantID,
		CurrentPhase: phase,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, true, nil
}

// Latest returns the tenant's most recently active session. ok is false when
// the tenant has none.
func (m *Manager) Latest(ctx context.Context, tenantID uuid.UUID) (sess model.Session, ok bool, err error) {
	s, err := m.store.LatestSession(ctx, tenantID)
	if errors.Is(err, storage.ErrNotFound) {
		return model.Session{}, false, nil
	}
	if err != nil {
		return model.Session{}, false, fmt.Errorf("session: latest: %w", err)
	}
	return s, true, nil
}

// AppendTurn returns s with the user message and the agent reply appended.
// s itself is not modified.
func AppendTurn(s model.Session, userMessage, agentReply string, now time.Time) model.Session {
	now = now.UTC()
	msgs := make([]model.Message, 0, len(s.Messages)+2)
	msgs = append(msgs, s.Messages...)
	msgs = append(msgs,
		model.TextMessage(model.RoleUser, userMessage, now),
		model.TextMessage(model.RoleModel, agentReply, now),
	)
	s.Messages = msgs
	s.UpdatedAt = now
	return s
}

// AgentContext is what the agent backend is primed with when a conversation
// is (re)opened.
type AgentContext struct {
	Phase       model.Phase
	IsReturning bool
	Header      string
	History     []model.Message
	// Dropped counts the oldest messages left out of History.
	Dropped int
}

// BuildContext assembles the agent context for s. The header is the resume
// summary when the tenant is returning and a summary exists, else the
// greeting for the tenant's phase.
func (m *Manager) BuildContext(s model.Session, mc memory.Context, summary string) AgentContext {
	header := PhaseGreeting(mc.Memory.CurrentPhase)
	if mc.IsReturning && summary != "" {
		header = summary
	}
	history := truncate(s.Messages, m.maxMessages, m.maxChars)
	return AgentContext{
		Phase:       mc.Memory.CurrentPhase,
		IsReturning: mc.IsReturning,
		Header:      header,
		History:     history,
		Dropped:     len(s.Messages) - len(history),
	}
}

// truncate keeps the newest messages that fit both limits. Messages are
// never split; the oldest go first.
func truncate(msgs []model.Message, maxMessages, maxChars int) []model.Message {
	chars, start := 0, len(msgs)
	for i := len(msgs) - 1; i >= 0; i-- {
		if len(msgs)-i > maxMessages {
			break
		}
		n := len(msgs[i].Text())
		if chars+n > maxChars {
			break
		}
		chars += n
		start = i
	}
	return slices.Clone(msgs[start:])
}

// State is the session state the agent backend session is seeded with.
func (c AgentContext) State() map[string]any {
	return map[string]any{
		"phase":       string(c.Phase),
		"isReturning": c.IsReturning,
		"context":     c.Header,
	}
}

// Prompt renders the context followed by the new user message, for the first
// message sent to a freshly created agent session.
func (c AgentContext) Prompt(userMessage string) string {
	var b strings.Builder
	b.WriteString("[Onboarding context]\n")
	fmt.Fprintf(&b, "Current phase: %s\n", c.Phase)
	if c.Header != "" {
		b.WriteString(c.Header)
		b.WriteString("\n")
	}
	if len(c.History) > 0 {
		b.WriteString("\n[Conversation so far]\n")
		if c.Dropped > 0 {
			fmt.Fprintf(&b, "(%d earlier messages omitted)\n", c.Dropped)
		}
		for _, msg := range c.History {
			fmt.Fprintf(&b, "%s: %s\n", msg.Role, msg.Text())
		}
	}
	b.WriteString("\n[User]\n")
	b.WriteString(userMessage)
	return b.String()
}
