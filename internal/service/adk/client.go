package adk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashita-ai/concierge/internal/model"
	"github.com/ashita-ai/concierge/internal/telemetry"
)

// DefaultTimeout bounds a single call to the agent backend.
const DefaultTimeout = 30 * time.Second

// DefaultMaxResponseBytes caps the size of a response body.
const DefaultMaxResponseBytes = 8 << 20

// ErrResponseTooLarge is returned when a response body exceeds the cap.
var ErrResponseTooLarge = errors.New("adk: response body too large")

// StatusError is returned when the backend answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("adk: unexpected status %d: %s", e.StatusCode, e.Body)
}

// IsSessionNotFound reports whether err is the backend saying the agent
// session no longer exists.
func IsSessionNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}

// RunRequest is one user message sent to an agent session.
type RunRequest struct {
	UserID    string
	SessionID string
	Message   string
}

type runBody struct {
	AppName    string     `json:"appName"`
	UserID     string     `json:"userId"`
	SessionID  string     `json:"sessionId"`
	NewMessage runMessage `json:"newMessage"`
}

type runMessage struct {
	Role  string       `json:"role"`
	Parts []model.Part `json:"parts"`
}

type createSessionResponse struct {
	ID string `json:"id"`
}

// Client calls the agent backend's HTTP API.
type Client struct {
	baseURL    string
	appName    string
	timeout    time.Duration
	maxBytes   int64
	httpClient *http.Client
	tracer     trace.Tracer
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithMaxResponseBytes sets the response size cap. Non-positive values are
// ignored.
func WithMaxResponseBytes(n int64) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.maxBytes = n
		}
	}
}

// WithTimeout sets the per-call timeout. Non-positive values are ignored.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a client for the agent app appName served at baseURL.
func NewClient(baseURL, appName string, opts ...ClientOption) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8000"
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		appName:    appName,
		timeout:    DefaultTimeout,
		maxBytes:   DefaultMaxResponseBytes,
		httpClient: &http.Client{},
		tracer:     telemetry.Tracer("concierge/adk"),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// CreateSession allocates a backend session for userID and returns its id.
// state seeds the backend session state and may be nil.
func (c *Client) CreateSession(ctx context.Context, userID string, state map[string]any) (string, error) {
	ctx, span := c.tracer.Start(ctx, "adk.create_session", trace.WithAttributes(
		attribute.String("adk.app", c.appName),
	))
	defer span.End()

	if state == nil {
		state = map[string]any{}
	}
	body, err := json.Marshal(map[string]any{"state": state})
	if err != nil {
		return "", fmt.Errorf("adk: marshal session request: %w", err)
	}

	u := fmt.Sprintf("%s/apps/%s/users/%s/sessions", c.baseURL, url.PathEscape(c.appName), url.PathEscape(userID))
	raw, err := c.post(ctx, u, body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create session")
		return "", err
	}

	var resp createSessionResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("adk: decode session response: %w", err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("adk: session response has no id")
	}
	span.SetAttributes(attribute.String("adk.session_id", resp.ID))
	return resp.ID, nil
}

// Run sends one user message and returns the raw response body for Parse.
func (c *Client) Run(ctx context.Context, req RunRequest) ([]byte, error) {
	ctx, span := c.tracer.Start(ctx, "adk.run", trace.WithAttributes(
		attribute.String("adk.app", c.appName),
		attribute.String("adk.session_id", req.SessionID),
		attribute.Int("adk.message_bytes", len(req.Message)),
	))
	defer span.End()

	body, err := json.Marshal(runBody{
		AppName:   c.appName,
		UserID:    req.UserID,
		SessionID: req.SessionID,
		NewMessage: runMessage{
			Role:  model.RoleUser,
			Parts: []model.Part{{Text: req.Message}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("adk: marshal run request: %w", err)
	}

	raw, err := c.post(ctx, c.baseURL+"/run", body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "run")
		return nil, err
	}
	span.SetAttributes(attribute.Int("adk.response_bytes", len(raw)))
	return raw, nil
}

func (c *Client) post(ctx context.Context, u string, body []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("adk: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	telemetry.InjectHeaders(ctx, req.Header)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("adk: send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("adk: read response: %w", err)
	}
	if int64(len(raw)) > c.maxBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrResponseTooLarge, c.maxBytes)
	}
	return raw, nil
}
