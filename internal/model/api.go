package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MaxChatMessageLen caps the size of a single user message accepted by the
// chat endpoints.
const MaxChatMessageLen = 16 * 1024 // 16 KB

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput       = "INVALID_INPUT"
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeForbidden          = "FORBIDDEN"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeConflict           = "CONFLICT"
	ErrCodeAgentUnavailable   = "AGENT_UNAVAILABLE"
	ErrCodeInternalError      = "INTERNAL_ERROR"
	ErrCodeRequestTooLarge    = "REQUEST_TOO_LARGE"
	ErrCodeRateLimited        = "RATE_LIMITED"
	ErrCodeSessionUnavailable = "SESSION_BUSY"
)

// ChatRequest is the request body for POST /v1/onboarding/chat.
type ChatRequest struct {
	SessionID *uuid.UUID `json:"session_id,omitempty"`
	Message   string     `json:"message"`
}

// Validate checks the chat request fields.
func (r ChatRequest) Validate() error {
	if strings.TrimSpace(r.Message) == "" {
		return fmt.Errorf("message is required")
	}
	if len(r.Message) > MaxChatMessageLen {
		return fmt.Errorf("message exceeds maximum length of %d bytes", MaxChatMessageLen)
	}
	return nil
}

// MaxTenantNameLen caps tenant display names.
const MaxTenantNameLen = 200

// TenantRequest is the request body for PUT /v1/tenants/{id}.
type TenantRequest struct {
	Name string `json:"name"`
}

// Validate checks the tenant request fields.
func (r TenantRequest) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if len(r.Name) > MaxTenantNameLen {
		return fmt.Errorf("name exceeds maximum length of %d bytes", MaxTenantNameLen)
	}
	return nil
}

// TenantResponse is the response body for the tenant admin endpoints.
type TenantResponse struct {
	TenantID uuid.UUID `json:"tenant_id"`
	Name     string    `json:"name,omitempty"`
	Deleted  bool      `json:"deleted,omitempty"`
}

// GreetingResponse is the response body for GET /v1/onboarding/greeting.
type GreetingResponse struct {
	Greeting string `json:"greeting"`
}

// ActiveResponse is the response body for GET /v1/onboarding/active.
type ActiveResponse struct {
	Active bool `json:"active"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Storage  string `json:"storage"`
	Uptime   int64  `json:"uptime_seconds"`
	Database string `json:"database,omitempty"`
}
