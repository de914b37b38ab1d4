package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/concierge/internal/auth"
	"github.com/ashita-ai/concierge/internal/ratelimit"
	"github.com/ashita-ai/concierge/internal/service/onboarding"
)

// Server is the concierge HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a Server.
// MCPServer, Limiter and Tenants are optional; nil disables them.
type ServerConfig struct {
	// Required dependencies.
	Orchestrator *onboarding.Orchestrator
	Store        Pinger
	JWTMgr       *auth.JWTManager
	Logger       *slog.Logger

	// Optional dependencies (nil = disabled).
	MCPServer *mcpserver.MCPServer
	Limiter   ratelimit.Limiter
	Tenants   TenantAdmin

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	StorageKind         string
	MaxRequestBodyBytes int64
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		Orchestrator:        cfg.Orchestrator,
		Store:               cfg.Store,
		Tenants:             cfg.Tenants,
		StorageKind:         cfg.StorageKind,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	// Turns cost an agent call each, so chat and MCP share a per-tenant budget.
	limited := ratelimit.Middleware(cfg.Limiter, ratelimit.TenantKey, cfg.Logger)

	mux := http.NewServeMux()

	mux.Handle("POST /v1/onboarding/chat", limited(http.HandlerFunc(h.HandleChat)))
	mux.HandleFunc("GET /v1/onboarding/greeting", h.HandleGreeting)
	mux.HandleFunc("GET /v1/onboarding/active", h.HandleActive)
	mux.HandleFunc("GET /v1/onboarding/state", h.HandleState)

	// Tenant provisioning (service role only).
	if cfg.Tenants != nil {
		mux.HandleFunc("PUT /v1/tenants/{id}", h.HandlePutTenant)
		mux.HandleFunc("DELETE /v1/tenants/{id}", h.HandleDeleteTenant)
	}

	// MCP StreamableHTTP transport (auth required). Tool handlers read the
	// caller's tenant from the request context.
	if cfg.MCPServer != nil {
		mux.Handle("/mcp", limited(mcpserver.NewStreamableHTTPServer(cfg.MCPServer)))
	}

	// Health (no auth).
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → auth → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = authMiddleware(cfg.JWTMgr, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           handler,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      cfg.WriteTimeout,
		},
		handler: handler,
		logger:  cfg.Logger,
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
