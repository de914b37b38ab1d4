package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/ashita-ai/concierge/internal/auth"
	"github.com/ashita-ai/concierge/internal/config"
	"github.com/ashita-ai/concierge/internal/mcp"
	"github.com/ashita-ai/concierge/internal/ratelimit"
	"github.com/ashita-ai/concierge/internal/server"
	"github.com/ashita-ai/concierge/internal/service/adk"
	"github.com/ashita-ai/concierge/internal/service/memory"
	"github.com/ashita-ai/concierge/internal/service/onboarding"
	"github.com/ashita-ai/concierge/internal/service/session"
	"github.com/ashita-ai/concierge/internal/storage"
	"github.com/ashita-ai/concierge/internal/storage/litestore"
	"github.com/ashita-ai/concierge/internal/telemetry"
	"github.com/ashita-ai/concierge/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

// backend is what the binary needs from either storage backend.
type backend interface {
	onboarding.Store
	Ping(ctx context.Context) error
	Close(ctx context.Context)
	server.TenantAdmin
}

func main() {
	os.Exit(run0())
}

func run0() int {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(os.Getenv("CONCIERGE_LOG_LEVEL")),
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("concierge starting", "version", version, "port", cfg.Port, "storage", cfg.Storage)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Endpoint:    cfg.OTELEndpoint,
		ServiceName: cfg.ServiceName,
		Version:     version,
		Insecure:    cfg.OTELInsecure,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close(context.Background())

	jwtMgr, err := auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	if cfg.DevTenantID != "" {
		if err := seedDevTenant(ctx, store, jwtMgr, uuid.MustParse(cfg.DevTenantID), logger); err != nil {
			logger.Warn("dev tenant seed failed", "error", err)
		}
	}

	agent := adk.NewClient(cfg.ADKBaseURL, cfg.ADKAppName, adk.WithTimeout(cfg.ADKTimeout))
	orch, err := onboarding.New(onboarding.Deps{
		Store:        store,
		Agent:        agent,
		Logger:       logger,
		Memory:       memory.NewService(store, memory.WithReturningThreshold(cfg.ReturningThreshold)),
		Sessions:     session.NewManager(store, session.WithHistoryLimits(cfg.MaxHistoryMessages, cfg.MaxHistoryChars)),
		AgentTimeout: cfg.ADKTimeout,
	})
	if err != nil {
		return fmt.Errorf("onboarding: %w", err)
	}

	mcpSrv := mcp.New(orch, logger, version)

	var limiter ratelimit.Limiter = ratelimit.NoopLimiter{}
	if cfg.RateLimitEnabled {
		limiter = ratelimit.NewMemoryLimiter(cfg.RateLimitPerMinute, cfg.RateLimitBurst)
	}
	defer func() { _ = limiter.Close() }()

	// Create and start HTTP server (MCP mounted at /mcp).
	srv := server.New(server.ServerConfig{
		Orchestrator:        orch,
		Store:               store,
		JWTMgr:              jwtMgr,
		Logger:              logger,
		MCPServer:           mcpSrv.MCPServer(),
		Limiter:             limiter,
		Tenants:             store,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		StorageKind:         cfg.Storage,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	// In-flight turns get the agent timeout plus headroom to commit.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ADKTimeout+10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	slog.Info("concierge stopped")
	return nil
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (backend, error) {
	switch cfg.Storage {
	case config.StorageSQLite:
		s, err := litestore.Open(ctx, cfg.SQLitePath, logger)
		if err != nil {
			return nil, fmt.Errorf("sqlite: %w", err)
		}
		return s, nil
	default:
		db, err := storage.New(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, fmt.Errorf("storage: %w", err)
		}
		// Register connection pool OTEL metrics (after telemetry.Init).
		db.RegisterPoolMetrics()
		if err := db.RunMigrations(ctx, migrations.FS); err != nil {
			db.Close(ctx)
			return nil, fmt.Errorf("migrations: %w", err)
		}
		return db, nil
	}
}

// seedDevTenant provisions a tenant and logs a token for it.
func seedDevTenant(ctx context.Context, store backend, jwtMgr *auth.JWTManager, tenantID uuid.UUID, logger *slog.Logger) error {
	if err := store.EnsureTenant(ctx, tenantID, "dev"); err != nil {
		return err
	}
	token, exp, err := jwtMgr.IssueToken(tenantID, "dev", auth.RoleTenant)
	if err != nil {
		return err
	}
	logger.Info("dev tenant ready", "tenant_id", tenantID, "token", token, "expires_at", exp)
	return nil
}
