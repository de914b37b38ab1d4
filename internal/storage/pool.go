// Package storage provides the PostgreSQL storage layer for Concierge.
//
// It owns the onboarding event log (append-only, optimistic versioning per
// tenant), onboarding sessions, and the tenant lookup used to decide whether
// a tenant still exists. All queries are scoped by tenant_id.
package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/concierge/internal/telemetry"
)

// DB wraps a pgxpool.Pool for all queries.
type DB struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New creates a new DB with a connection pool and verifies connectivity.
func New(ctx context.Context, dsn string, logger *slog.Logger) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: parse pool DSN: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("storage: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping pool: %w", err)
	}

	return &DB{pool: pool, logger: logger}, nil
}

// Pool returns the underlying connection pool for use by other packages.
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// Ping checks connectivity to the database.
func (db *DB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// Close shuts down the connection pool.
func (db *DB) Close(_ context.Context) {
	db.pool.Close()
}

// RegisterPoolMetrics exports pool gauges through the global meter provider.
// Call after telemetry.Init so the real provider is installed.
func (db *DB) RegisterPoolMetrics() {
	meter := telemetry.Meter("concierge/storage")
	acquired, _ := meter.Int64ObservableGauge("concierge.db.pool.acquired_conns",
		metric.WithDescription("Connections currently checked out of the pool"))
	idle, _ := meter.Int64ObservableGauge("concierge.db.pool.idle_conns",
		metric.WithDescription("Idle connections in the pool"))
	total, _ := meter.Int64ObservableGauge("concierge.db.pool.total_conns",
		metric.WithDescription("Total connections in the pool"))

	_, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		stat := db.pool.Stat()
		o.ObserveInt64(acquired, int64(stat.AcquiredConns()))
		o.ObserveInt64(idle, int64(stat.IdleConns()))
		o.ObserveInt64(total, int64(stat.TotalConns()))
		return nil
	}, acquired, idle, total)
	if err != nil {
		db.logger.Warn("storage: register pool metrics", "error", err)
	}
}
