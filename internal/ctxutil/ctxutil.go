// Package ctxutil holds the request-context accessors shared by the HTTP and
// MCP surfaces, so neither has to import the other to read the caller's
// tenant.
package ctxutil

import (
	"context"

	"github.com/google/uuid"

	"github.com/ashita-ai/concierge/internal/auth"
)

type contextKey string

const (
	keyClaims    contextKey = "claims"
	keyTenantID  contextKey = "tenant_id"
	keyRequestID contextKey = "request_id"
)

// WithClaims returns ctx carrying the caller's verified claims.
func WithClaims(ctx context.Context, claims *auth.Claims) context.Context {
	ctx = context.WithValue(ctx, keyClaims, claims)
	return context.WithValue(ctx, keyTenantID, claims.TenantID)
}

// ClaimsFromContext returns the caller's claims, or nil.
func ClaimsFromContext(ctx context.Context) *auth.Claims {
	if v, ok := ctx.Value(keyClaims).(*auth.Claims); ok {
		return v
	}
	return nil
}

// TenantIDFromContext returns the caller's tenant, or uuid.Nil.
func TenantIDFromContext(ctx context.Context) uuid.UUID {
	if v, ok := ctx.Value(keyTenantID).(uuid.UUID); ok {
		return v
	}
	return uuid.Nil
}

// WithRequestID returns ctx carrying the request id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyRequestID, id)
}

// RequestIDFromContext returns the request id, or "".
func RequestIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(keyRequestID).(string)
	return v
}
