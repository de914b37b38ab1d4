// Package ratelimit bounds how fast each tenant can start conversation
// turns. Every turn costs an agent call, so the limit protects the agent
// backend from one noisy tenant.
//
// The in-memory token bucket is per process. A shared implementation can be
// substituted through the Limiter interface.
package ratelimit

import (
	"context"
	"time"
)

// Limiter decides whether a request identified by key should be allowed.
// Implementations must be safe for concurrent use.
type Limiter interface {
	// Allow reports whether the request may proceed and, when it may not,
	// how long until it would. An error means the limiter malfunctioned;
	// callers fail open.
	Allow(ctx context.Context, key string) (ok bool, retryAfter time.Duration, err error)

	// Close releases resources (cleanup goroutines, connections).
	Close() error
}

// NoopLimiter permits every request. Used when rate limiting is disabled.
type NoopLimiter struct{}

// Allow always permits.
func (NoopLimiter) Allow(context.Context, string) (bool, time.Duration, error) { return true, 0, nil }

// Close is a no-op.
func (NoopLimiter) Close() error { return nil }
