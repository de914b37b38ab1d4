package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/concierge/internal/ctxutil"
	"github.com/ashita-ai/concierge/internal/model"
	"github.com/ashita-ai/concierge/internal/service/onboarding"
)

// Pinger reports storage health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	orchestrator        *onboarding.Orchestrator
	store               Pinger
	tenants             TenantAdmin
	storageKind         string
	logger              *slog.Logger
	startedAt           time.Time
	version             string
	maxRequestBodyBytes int64
}

// HandlersDeps holds all dependencies for constructing Handlers.
type HandlersDeps struct {
	Orchestrator        *onboarding.Orchestrator
	Store               Pinger
	Tenants             TenantAdmin
	StorageKind         string
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	return &Handlers{
		orchestrator:        d.Orchestrator,
		store:               d.Store,
		tenants:             d.Tenants,
		storageKind:         d.StorageKind,
		logger:              d.Logger,
		startedAt:           time.Now(),
		version:             d.Version,
		maxRequestBodyBytes: d.MaxRequestBodyBytes,
	}
}

// HandleChat handles POST /v1/onboarding/chat.
func (h *Handlers) HandleChat(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	if h.maxRequestBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxRequestBodyBytes)
	}

	var req model.ChatRequest
	if err := decodeJSON(r, &req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, http.StatusRequestEntityTooLarge, model.ErrCodeRequestTooLarge, "request body too large")
			return
		}
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	res, err := h.orchestrator.Chat(r.Context(), tenantID, req.SessionID, req.Message)
	if err != nil {
		h.writeOnboardingError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// HandleGreeting handles GET /v1/onboarding/greeting.
func (h *Handlers) HandleGreeting(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	greeting, err := h.orchestrator.GetGreeting(r.Context(), tenantID)
	if err != nil {
		h.writeOnboardingError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, model.GreetingResponse{Greeting: greeting})
}

// HandleActive handles GET /v1/onboarding/active.
func (h *Handlers) HandleActive(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	writeJSON(w, r, http.StatusOK, model.ActiveResponse{
		Active: h.orchestrator.IsOnboardingActive(r.Context(), tenantID),
	})
}

// HandleState handles GET /v1/onboarding/state.
func (h *Handlers) HandleState(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	st, err := h.orchestrator.GetOnboardingSession(r.Context(), tenantID)
	if err != nil {
		h.writeOnboardingError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, st)
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	dbStatus := "connected"
	status := "healthy"
	httpStatus := http.StatusOK

	if h.store != nil {
		if err := h.store.Ping(r.Context()); err != nil {
			dbStatus = "disconnected"
			status = "unhealthy"
			httpStatus = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, r, httpStatus, model.HealthResponse{
		Status:   status,
		Version:  h.version,
		Storage:  h.storageKind,
		Uptime:   int64(time.Since(h.startedAt).Seconds()),
		Database: dbStatus,
	})
}

func (h *Handlers) tenant(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	tenantID := ctxutil.TenantIDFromContext(r.Context())
	if tenantID == uuid.Nil {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "no tenant in token")
		return uuid.Nil, false
	}
	return tenantID, true
}

// writeOnboardingError maps orchestrator errors to HTTP responses. Agent
// failures never expose their cause.
func (h *Handlers) writeOnboardingError(w http.ResponseWriter, r *http.Request, err error) {
	status, detail := onboardingErrorDetail(err)
	if status >= 500 {
		h.logger.Error("onboarding request failed",
			"path", r.URL.Path,
			"request_id", ctxutil.RequestIDFromContext(r.Context()),
			"error", err,
		)
	}
	writeErrorDetail(w, r, status, detail)
}

func onboardingErrorDetail(err error) (int, model.ErrorDetail) {
	retryable := onboarding.IsRetryable(err)
	switch {
	case errors.Is(err, onboarding.ErrAgentUnavailable):
		return http.StatusBadGateway, model.ErrorDetail{
			Code: model.ErrCodeAgentUnavailable, Message: onboarding.AgentUnavailableMessage, Retryable: retryable,
		}
	case errors.Is(err, onboarding.ErrSessionBusy):
		return http.StatusConflict, model.ErrorDetail{
			Code: model.ErrCodeSessionUnavailable, Message: "a message for this session is already being processed", Retryable: retryable,
		}
	case errors.Is(err, onboarding.ErrVersionConflict), errors.Is(err, onboarding.ErrSessionConflict):
		return http.StatusConflict, model.ErrorDetail{
			Code: model.ErrCodeConflict, Message: "onboarding state changed concurrently, retry the message", Retryable: retryable,
		}
	case errors.Is(err, onboarding.ErrTenantNotFound):
		return http.StatusNotFound, model.ErrorDetail{Code: model.ErrCodeNotFound, Message: "tenant not found"}
	case errors.Is(err, onboarding.ErrEmptyMessage):
		return http.StatusBadRequest, model.ErrorDetail{Code: model.ErrCodeInvalidInput, Message: "message is required"}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, model.ErrorDetail{
			Code: model.ErrCodeInternalError, Message: "request cancelled", Retryable: true,
		}
	default:
		return http.StatusInternalServerError, model.ErrorDetail{Code: model.ErrCodeInternalError, Message: "internal error"}
	}
}
