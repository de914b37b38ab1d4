package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/ashita-ai/concierge/internal/auth"
	"github.com/ashita-ai/concierge/internal/ctxutil"
	"github.com/ashita-ai/concierge/internal/model"
	"github.com/ashita-ai/concierge/internal/storage"
)

// TenantAdmin provisions and retires tenants. Both storage backends satisfy it.
type TenantAdmin interface {
	EnsureTenant(ctx context.Context, tenantID uuid.UUID, name string) error
	MarkTenantDeleted(ctx context.Context, tenantID uuid.UUID) error
}

// HandlePutTenant handles PUT /v1/tenants/{id} (service-only). It creates the
// tenant or renames it, reviving a deleted one.
func (h *Handlers) HandlePutTenant(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.adminTarget(w, r)
	if !ok {
		return
	}
	if h.maxRequestBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxRequestBodyBytes)
	}

	var req model.TenantRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	if err := h.tenants.EnsureTenant(r.Context(), tenantID, req.Name); err != nil {
		h.writeInternalError(w, r, "failed to provision tenant", err)
		return
	}
	h.logger.Info("tenant provisioned", "tenant_id", tenantID,
		"caller", ctxutil.ClaimsFromContext(r.Context()).Subject)
	writeJSON(w, r, http.StatusOK, model.TenantResponse{TenantID: tenantID, Name: req.Name})
}

// HandleDeleteTenant handles DELETE /v1/tenants/{id} (service-only). The
// tenant's log is kept; it just stops being onboarded.
func (h *Handlers) HandleDeleteTenant(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.adminTarget(w, r)
	if !ok {
		return
	}
	err := h.tenants.MarkTenantDeleted(r.Context(), tenantID)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "tenant not found")
		return
	}
	if err != nil {
		h.writeInternalError(w, r, "failed to delete tenant", err)
		return
	}
	h.logger.Info("tenant deleted", "tenant_id", tenantID,
		"caller", ctxutil.ClaimsFromContext(r.Context()).Subject)
	writeJSON(w, r, http.StatusOK, model.TenantResponse{TenantID: tenantID, Deleted: true})
}

// adminTarget checks the caller holds the service role and parses the
// tenant id from the path.
func (h *Handlers) adminTarget(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	claims := ctxutil.ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "authentication required")
		return uuid.Nil, false
	}
	if claims.Role != auth.RoleService {
		writeError(w, r, http.StatusForbidden, model.ErrCodeForbidden, "service role required")
		return uuid.Nil, false
	}
	tenantID, err := uuid.Parse(r.PathValue("id"))
	if err != nil || tenantID == uuid.Nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid tenant id")
		return uuid.Nil, false
	}
	return tenantID, true
}

func (h *Handlers) writeInternalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.Error(msg,
		"error", err,
		"path", r.URL.Path,
		"request_id", ctxutil.RequestIDFromContext(r.Context()),
	)
	writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, msg)
}
