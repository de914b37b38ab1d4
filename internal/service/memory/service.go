package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/concierge/internal/integrity"
	"github.com/ashita-ai/concierge/internal/model"
)

// ErrCorruptLog means a stored event no longer matches its content hash.
var ErrCorruptLog = errors.New("memory: event log failed integrity check")

// DefaultReturningThreshold is how old the latest event must be before a
// tenant is greeted as returning.
const DefaultReturningThreshold = 30 * time.Minute

// EventLister reads a tenant's complete event log in version order.
type EventLister interface {
	ListEvents(ctx context.Context, tenantID uuid.UUID) ([]model.OnboardingEvent, error)
}

// Context is the memory view handed to a chat turn.
type Context struct {
	Memory      model.AdvisorMemory
	IsReturning bool
}

// Service loads event logs and projects them.
type Service struct {
	events    EventLister
	now       func() time.Time
	threshold time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source used for the returning check.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithReturningThreshold overrides DefaultReturningThreshold. Non-positive
// values are ignored.
func WithReturningThreshold(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.threshold = d
		}
	}
}

// NewService creates a memory Service reading from events.
func NewService(events EventLister, opts ...Option) *Service {
	s := &Service{
		events:    events,
		now:       time.Now,
		threshold: DefaultReturningThreshold,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Now returns the service clock's current time.
func (s *Service) Now() time.Time {
	return s.now()
}

// Threshold returns the configured returning threshold.
func (s *Service) Threshold() time.Duration {
	return s.threshold
}

// Memory recomputes the tenant's memory from its log. A tenant with no
// events gets Empty, not an error.
func (s *Service) Memory(ctx context.Context, tenantID uuid.UUID) (model.AdvisorMemory, error) {
	events, err := s.events.ListEvents(ctx, tenantID)
	if err != nil {
		return model.AdvisorMemory{}, fmt.Errorf("memory: list events: %w", err)
	}
	for _, e := range events {
		if !integrity.Verify(e) {
			return model.AdvisorMemory{}, fmt.Errorf("%w: tenant %s version %d", ErrCorruptLog, tenantID, e.Version)
		}
	}
	m := Project(tenantID, events)
	m.Digest = integrity.Digest(events)
	m.IsReturning = IsReturning(m, s.now(), s.threshold)
	return m, nil
}

// GetOnboardingContext returns the tenant's memory and whether it is returning.
func (s *Service) GetOnboardingContext(ctx context.Context, tenantID uuid.UUID) (Context, error) {
	m, err := s.Memory(ctx, tenantID)
	if err != nil {
		return Context{}, err
	}
	return Context{Memory: m, IsReturning: m.IsReturning}, nil
}

// GetResumeSummary returns a human-readable recap of the tenant's progress.
// The boolean is false when no discovery data was ever recorded; callers must
// not invent a summary in that case.
func (s *Service) GetResumeSummary(ctx context.Context, tenantID uuid.UUID) (string, bool, error) {
	m, err := s.Memory(ctx, tenantID)
	if err != nil {
		return "", false, err
	}
	summary, ok := Summarize(m)
	return summary, ok, nil
}
