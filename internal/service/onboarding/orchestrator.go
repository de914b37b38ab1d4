// Package onboarding runs the tenant onboarding state machine.
//
// The Orchestrator never sets a phase itself. It forwards the user's message
// to the agent backend, turns the state-mutating tool calls in the reply into
// events, and commits those events together with the updated conversation in
// one transaction. The phase it reports is always re-derived from the log.
package onboarding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/concierge/internal/model"
	"github.com/ashita-ai/concierge/internal/service/adk"
	"github.com/ashita-ai/concierge/internal/service/memory"
	"github.com/ashita-ai/concierge/internal/service/session"
	"github.com/ashita-ai/concierge/internal/storage"
	"github.com/ashita-ai/concierge/internal/telemetry"
)

// Agent is the external conversational backend.
type Agent interface {
	CreateSession(ctx context.Context, userID string, state map[string]any) (string, error)
	Run(ctx context.Context, req adk.RunRequest) ([]byte, error)
}

// Store is the persistence the Orchestrator needs. Both storage backends
// satisfy it.
type Store interface {
	memory.EventLister
	session.Store
	CommitTurn(ctx context.Context, c model.TurnCommit) (model.TurnCommitResult, error)
	TenantExists(ctx context.Context, tenantID uuid.UUID) (bool, error)
}

// Deps are the Orchestrator's collaborators. Store, Agent and Logger are
// required; Memory and Sessions default to services over Store.
type Deps struct {
	Store    Store
	Agent    Agent
	Logger   *slog.Logger
	Memory   *memory.Service
	Sessions *session.Manager
	// AgentTimeout bounds each agent call. Zero means adk.DefaultTimeout.
	AgentTimeout time.Duration
	// Now is the clock. Nil means time.Now.
	Now func() time.Time
}

// ChatResult is the outcome of one turn.
type ChatResult struct {
	SessionID        uuid.UUID               `json:"session_id"`
	Reply            string                  `json:"reply"`
	ToolResults      []model.ToolResult      `json:"tool_results"`
	DashboardActions []model.DashboardAction `json:"dashboard_actions,omitempty"`
	Phase            model.Phase             `json:"phase"`
	Version          int64                   `json:"version"`
}

// OnboardingState is a read-only snapshot of a tenant's onboarding.
type OnboardingState struct {
	TenantID      uuid.UUID           `json:"tenant_id"`
	Phase         model.Phase         `json:"phase"`
	Active        bool                `json:"active"`
	IsReturning   bool                `json:"is_returning"`
	ResumeSummary string              `json:"resume_summary,omitempty"`
	Memory        model.AdvisorMemory `json:"memory"`
	Session       *model.Session      `json:"session,omitempty"`
}

type sessionKey struct {
	tenantID  uuid.UUID
	sessionID uuid.UUID
}

// maxSpareAgentSessions bounds the agent sessions kept from failed turns.
const maxSpareAgentSessions = 1024

// Orchestrator drives onboarding conversations.
type Orchestrator struct {
	store        Store
	agent        Agent
	memory       *memory.Service
	sessions     *session.Manager
	logger       *slog.Logger
	agentTimeout time.Duration
	now          func() time.Time
	tracer       trace.Tracer

	busyMu sync.Mutex
	busy   map[sessionKey]struct{}

	// spare holds agent sessions created by turns that then failed, keyed by
	// the session id the caller asked for (uuid.Nil for a new one). A retry
	// picks them up instead of creating another backend session.
	spareMu sync.Mutex
	spare   map[sessionKey]string

	turnDuration  metric.Float64Histogram
	agentDuration metric.Float64Histogram
	conflicts     metric.Int64Counter
	toolCalls     metric.Int64Counter
}

// New creates an Orchestrator.
func New(d Deps) (*Orchestrator, error) {
	if d.Store == nil || d.Agent == nil || d.Logger == nil {
		return nil, errors.New("onboarding: store, agent and logger are required")
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Memory == nil {
		d.Memory = memory.NewService(d.Store, memory.WithClock(d.Now))
	}
	if d.Sessions == nil {
		d.Sessions = session.NewManager(d.Store, session.WithClock(d.Now))
	}
	if d.AgentTimeout <= 0 {
		d.AgentTimeout = adk.DefaultTimeout
	}

	meter := telemetry.Meter("concierge/onboarding")
	turnDur, _ := meter.Float64Histogram("concierge.turn.duration",
		metric.WithDescription("Time to process one onboarding chat turn (ms)"),
		metric.WithUnit("ms"),
	)
	agentDur, _ := meter.Float64Histogram("concierge.agent.duration",
		metric.WithDescription("Time spent waiting on the agent backend (ms)"),
		metric.WithUnit("ms"),
	)
	conflicts, _ := meter.Int64Counter("concierge.turn.conflicts",
		metric.WithDescription("Turns rejected by an optimistic concurrency check"),
	)
	toolCalls, _ := meter.Int64Counter("concierge.tool.calls",
		metric.WithDescription("Tool calls seen in agent responses"),
	)

	return &Orchestrator{
		store:         d.Store,
		agent:         d.Agent,
		memory:        d.Memory,
		sessions:      d.Sessions,
		logger:        d.Logger,
		agentTimeout:  d.AgentTimeout,
		now:           d.Now,
		tracer:        telemetry.Tracer("concierge/onboarding"),
		busy:          make(map[sessionKey]struct{}),
		spare:         make(map[sessionKey]string),
		turnDuration:  turnDur,
		agentDuration: agentDur,
		conflicts:     conflicts,
		toolCalls:     toolCalls,
	}, nil
}

// Chat runs one conversational turn for tenantID. sessionID may be nil (or
// unknown) to start a new session; the result carries the session id to use
// for the next turn.
//
// Either the whole turn is committed (events and conversation) or nothing is.
// A stale event version yields ErrVersionConflict; the caller should reload
// state before repeating the intent.
func (o *Orchestrator) Chat(ctx context.Context, tenantID uuid.UUID, sessionID *uuid.UUID, message string) (ChatResult, error) {
	if strings.TrimSpace(message) == "" {
		return ChatResult{}, ErrEmptyMessage
	}
	start := time.Now()
	ctx, span := o.tracer.Start(ctx, "onboarding.chat", trace.WithAttributes(
		attribute.String("concierge.tenant_id", tenantID.String()),
	))
	defer span.End()

	spareKey := sessionKey{tenantID: tenantID}
	if sessionID != nil {
		spareKey.sessionID = *sessionID
		release, ok := o.acquire(spareKey)
		if !ok {
			return ChatResult{}, ErrSessionBusy
		}
		defer release()
	}

	exists, err := o.store.TenantExists(ctx, tenantID)
	if err != nil {
		return ChatResult{}, fmt.Errorf("onboarding: chat: %w", err)
	}
	if !exists {
		return ChatResult{}, ErrTenantNotFound
	}

	// 1. Session and memory are independent reads.
	var (
		mc      memory.Context
		sess    model.Session
		created bool
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		mc, err = o.memory.GetOnboardingContext(gctx, tenantID)
		return err
	})
	g.Go(func() error {
		var err error
		sess, created, err = o.sessions.GetOrCreate(gctx, tenantID, sessionID, model.PhaseNotStarted)
		return err
	})
	if err := g.Wait(); err != nil {
		return ChatResult{}, fmt.Errorf("onboarding: chat: load: %w", err)
	}
	if created {
		sess.CurrentPhase = mc.Memory.CurrentPhase
	}
	log := o.logger.With("tenant_id", tenantID, "session_id", sess.ID, "phase", mc.Memory.CurrentPhase)
	span.SetAttributes(
		attribute.String("concierge.session_id", sess.ID.String()),
		attribute.String("concierge.phase", string(mc.Memory.CurrentPhase)),
	)

	// 2. Context and agent call. An existing agent session is primed again
	// when the conversation resumes after a break or the phase moved on
	// without it.
	summary, _ := memory.Summarize(mc.Memory)
	agentCtx := o.sessions.BuildContext(sess, mc, summary)
	reprime := !created && (sess.CurrentPhase != mc.Memory.CurrentPhase ||
		sess.UpdatedAt.Before(o.now().Add(-o.memory.Threshold())))

	raw, fresh, err := o.callAgent(ctx, spareKey, &sess, agentCtx, message, reprime, log)
	if fresh != "" {
		// Until the turn commits, the new agent session is only known here.
		defer func() {
			if fresh != "" {
				o.putSpare(spareKey, fresh)
			}
		}()
	}
	if err != nil {
		log.Warn("onboarding: agent call failed", "error", err)
		span.RecordError(err)
		return ChatResult{}, ErrAgentUnavailable
	}

	// 3. Parse.
	resp := adk.Normalize(raw)
	for _, ae := range resp.Errors {
		log.Warn("onboarding: agent reported error", "code", ae.Code, "message", ae.Message)
	}

	// 4. Tool execution against a working copy of the memory.
	events, results, eventIdx, projected := o.executeTools(ctx, mc.Memory, resp.ToolCalls, log)

	// 5. Commit events and conversation together.
	now := o.now().UTC()
	sess = session.AppendTurn(sess, message, resp.Text, now)
	sess.CurrentPhase = projected
	res, err := o.store.CommitTurn(ctx, model.TurnCommit{
		TenantID:        tenantID,
		ExpectedVersion: mc.Memory.LastEventVersion,
		Events:          events,
		Session:         sess,
		OccurredAt:      now,
	})
	switch {
	case errors.Is(err, storage.ErrVersionConflict):
		o.conflicts.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", "version")))
		log.Info("onboarding: version conflict", "expected_version", mc.Memory.LastEventVersion, "error", err)
		return ChatResult{}, fmt.Errorf("%w: expected version %d", ErrVersionConflict, mc.Memory.LastEventVersion)
	case errors.Is(err, storage.ErrSessionConflict):
		o.conflicts.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", "session")))
		log.Info("onboarding: session conflict", "revision", sess.Revision, "error", err)
		return ChatResult{}, fmt.Errorf("%w: session %s", ErrSessionConflict, sess.ID)
	case err != nil:
		return ChatResult{}, fmt.Errorf("onboarding: commit turn: %w", err)
	}
	fresh = ""

	for i, idx := range eventIdx {
		if idx >= 0 && idx < len(res.Events) {
			results[i].Version = res.Events[idx].Version
		}
	}
	phase := memory.Apply(mc.Memory, res.Events...).CurrentPhase

	o.turnDuration.Record(ctx, float64(time.Since(start).Milliseconds()),
		metric.WithAttributes(attribute.String("phase", string(phase))))
	if phase != mc.Memory.CurrentPhase {
		log.Info("onboarding: phase advanced", "to", phase, "version", res.NewVersion)
	}

	return ChatResult{
		SessionID:        sess.ID,
		Reply:            resp.Text,
		ToolResults:      results,
		DashboardActions: resp.DashboardActions,
		Phase:            phase,
		Version:          res.NewVersion,
	}, nil
}

// callAgent obtains the agent session for sess and sends the message. The
// rendered context is sent instead of the bare message when the agent session
// is new or reprime is set. An agent session the backend no longer knows is
// replaced once. fresh is the id of an agent session created by this call.
func (o *Orchestrator) callAgent(ctx context.Context, key sessionKey, sess *model.Session, agentCtx session.AgentContext, message string, reprime bool, log *slog.Logger) (raw []byte, fresh string, err error) {
	ctx, cancel := context.WithTimeout(ctx, o.agentTimeout)
	defer cancel()
	start := time.Now()
	defer func() {
		o.agentDuration.Record(ctx, float64(time.Since(start).Milliseconds()))
	}()

	prompt := message
	if reprime {
		prompt = agentCtx.Prompt(message)
	}
	if sess.AgentSessionID == "" {
		id, err := o.openAgentSession(ctx, key, sess, agentCtx)
		if err != nil {
			return nil, "", fmt.Errorf("create agent session: %w", err)
		}
		sess.AgentSessionID, fresh = id, id
		prompt = agentCtx.Prompt(message)
	}

	raw, err = o.runAgent(ctx, sess, prompt)
	if adk.IsSessionNotFound(err) {
		log.Info("onboarding: agent session lost, recreating", "agent_session_id", sess.AgentSessionID)
		id, cerr := o.openAgentSession(ctx, key, sess, agentCtx)
		if cerr != nil {
			return nil, fresh, fmt.Errorf("recreate agent session: %w", cerr)
		}
		sess.AgentSessionID, fresh = id, id
		raw, err = o.runAgent(ctx, sess, agentCtx.Prompt(message))
	}
	if err != nil {
		return nil, fresh, err
	}
	return raw, fresh, nil
}

// openAgentSession returns a spare agent session left by a failed turn for
// key, or creates one seeded with the context's state.
func (o *Orchestrator) openAgentSession(ctx context.Context, key sessionKey, sess *model.Session, agentCtx session.AgentContext) (string, error) {
	if id, ok := o.takeSpare(key); ok && id != sess.AgentSessionID {
		return id, nil
	}
	return o.agent.CreateSession(ctx, sess.TenantID.String(), agentCtx.State())
}

func (o *Orchestrator) runAgent(ctx context.Context, sess *model.Session, prompt string) ([]byte, error) {
	raw, err := o.agent.Run(ctx, adk.RunRequest{
		UserID:    sess.TenantID.String(),
		SessionID: sess.AgentSessionID,
		Message:   prompt,
	})
	if err != nil {
		return nil, fmt.Errorf("run agent: %w", err)
	}
	return raw, nil
}

// executeTools turns state-mutating tool calls into events, validating each
// call against the memory as it would stand after the calls before it.
// eventIdx[i] is the index in events produced by results[i], or -1. phase is
// where the memory stands once the events apply.
func (o *Orchestrator) executeTools(ctx context.Context, mem model.AdvisorMemory, calls []model.ToolCall, log *slog.Logger) (events []model.NewEvent, results []model.ToolResult, eventIdx []int, phase model.Phase) {
	results = make([]model.ToolResult, len(calls))
	eventIdx = make([]int, len(calls))
	working := mem

	for i, call := range calls {
		results[i] = model.ToolResult{ToolCall: call}
		eventIdx[i] = -1

		handler, ok := stateTools[call.Name]
		if !ok {
			o.toolCalls.Add(ctx, 1, metric.WithAttributes(attribute.String("tool", "passthrough")))
			continue
		}
		o.toolCalls.Add(ctx, 1, metric.WithAttributes(attribute.String("tool", call.Name)))

		if agentReportedFailure(call.Result) {
			results[i].Error = "agent reported the tool call failed"
			log.Info("onboarding: tool not applied", "tool", call.Name, "reason", results[i].Error)
			continue
		}
		ev, err := handler(working, call.Args)
		if err != nil {
			results[i].Error = err.Error()
			log.Info("onboarding: tool rejected", "tool", call.Name, "reason", err)
			continue
		}

		// Fold a provisional event so later calls see this one's effect.
		working = memory.Apply(working, model.OnboardingEvent{
			TenantID: mem.TenantID,
			Type:     ev.Type,
			Payload:  ev.Payload,
			Version:  working.LastEventVersion + 1,
		})
		eventIdx[i] = len(events)
		events = append(events, ev)
		results[i].Applied = true
	}
	return events, results, eventIdx, working.CurrentPhase
}

// GetGreeting returns the opening line for the tenant's next visit: the
// resume summary when the tenant is returning and has one, otherwise the
// greeting for its phase. It never calls the agent and never writes.
func (o *Orchestrator) GetGreeting(ctx context.Context, tenantID uuid.UUID) (string, error) {
	exists, err := o.store.TenantExists(ctx, tenantID)
	if err != nil {
		return "", fmt.Errorf("onboarding: greeting: %w", err)
	}
	if !exists {
		return session.PhaseGreeting(model.PhaseNotStarted), nil
	}
	mc, err := o.memory.GetOnboardingContext(ctx, tenantID)
	if err != nil {
		return "", fmt.Errorf("onboarding: greeting: %w", err)
	}
	if mc.IsReturning {
		if summary, ok := memory.Summarize(mc.Memory); ok {
			return summary, nil
		}
	}
	return session.PhaseGreeting(mc.Memory.CurrentPhase), nil
}

// IsOnboardingActive reports whether the tenant should still be prompted.
// Unknown or deleted tenants and lookup failures report false.
func (o *Orchestrator) IsOnboardingActive(ctx context.Context, tenantID uuid.UUID) bool {
	exists, err := o.store.TenantExists(ctx, tenantID)
	if err != nil {
		o.logger.Warn("onboarding: active check: tenant lookup failed", "tenant_id", tenantID, "error", err)
		return false
	}
	if !exists {
		return false
	}
	m, err := o.memory.Memory(ctx, tenantID)
	if err != nil {
		o.logger.Warn("onboarding: active check: memory failed", "tenant_id", tenantID, "error", err)
		return false
	}
	return m.CurrentPhase.Active()
}

// GetOnboardingSession returns the tenant's onboarding snapshot and its most
// recent session. An unknown tenant gets an empty, inactive snapshot.
func (o *Orchestrator) GetOnboardingSession(ctx context.Context, tenantID uuid.UUID) (OnboardingState, error) {
	exists, err := o.store.TenantExists(ctx, tenantID)
	if err != nil {
		return OnboardingState{}, fmt.Errorf("onboarding: state: %w", err)
	}
	if !exists {
		empty := memory.Empty(tenantID)
		return OnboardingState{TenantID: tenantID, Phase: empty.CurrentPhase, Memory: empty}, nil
	}

	var (
		mc     memory.Context
		latest model.Session
		found  bool
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		mc, err = o.memory.GetOnboardingContext(gctx, tenantID)
		return err
	})
	g.Go(func() error {
		var err error
		latest, found, err = o.sessions.Latest(gctx, tenantID)
		return err
	})
	if err := g.Wait(); err != nil {
		return OnboardingState{}, fmt.Errorf("onboarding: state: %w", err)
	}

	st := OnboardingState{
		TenantID:    tenantID,
		Phase:       mc.Memory.CurrentPhase,
		Active:      mc.Memory.CurrentPhase.Active(),
		IsReturning: mc.IsReturning,
		Memory:      mc.Memory,
	}
	if summary, ok := memory.Summarize(mc.Memory); ok {
		st.ResumeSummary = summary
	}
	if found {
		st.Session = &latest
	}
	return st, nil
}

// acquire marks a session as having a turn in flight. ok is false when one
// already is.
func (o *Orchestrator) acquire(k sessionKey) (release func(), ok bool) {
	o.busyMu.Lock()
	defer o.busyMu.Unlock()
	if _, taken := o.busy[k]; taken {
		return nil, false
	}
	o.busy[k] = struct{}{}
	return func() {
		o.busyMu.Lock()
		delete(o.busy, k)
		o.busyMu.Unlock()
	}, true
}

func (o *Orchestrator) takeSpare(k sessionKey) (string, bool) {
	o.spareMu.Lock()
	defer o.spareMu.Unlock()
	id, ok := o.spare[k]
	if ok {
		delete(o.spare, k)
	}
	return id, ok
}

func (o *Orchestrator) putSpare(k sessionKey, id string) {
	o.spareMu.Lock()
	defer o.spareMu.Unlock()
	if _, ok := o.spare[k]; !ok && len(o.spare) >= maxSpareAgentSessions {
		return
	}
	o.spare[k] = id
}
