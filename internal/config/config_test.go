package config

import (
	"strings"
	"testing"
	"time"
)

func TestEnvIntValid(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	v, err := envInt("TEST_INT", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 42 {
		t.Fatalf("expected 42, got %d", v)
	}
}

func TestEnvIntFallback(t *testing.T) {
	// TEST_INT_MISSING is not set.
	v, err := envInt("TEST_INT_MISSING", 99)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 99 {
		t.Fatalf("expected fallback 99, got %d", v)
	}
}

func TestEnvIntInvalid(t *testing.T) {
	t.Setenv("TEST_INT_BAD", "abc")
	_, err := envInt("TEST_INT_BAD", 0)
	if err == nil {
		t.Fatal("expected error for non-integer value, got nil")
	}
	if got := err.Error(); got != `TEST_INT_BAD="abc" is not a valid integer` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvBoolValid(t *testing.T) {
	t.Setenv("TEST_BOOL", "true")
	v, err := envBool("TEST_BOOL", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v {
		t.Fatal("expected true")
	}
}

func TestEnvBoolInvalid(t *testing.T) {
	t.Setenv("TEST_BOOL_BAD", "maybe")
	_, err := envBool("TEST_BOOL_BAD", false)
	if err == nil {
		t.Fatal("expected error for non-boolean value, got nil")
	}
	if got := err.Error(); got != `TEST_BOOL_BAD="maybe" is not a valid boolean` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvDurationValid(t *testing.T) {
	t.Setenv("TEST_DUR", "5s")
	v, err := envDuration("TEST_DUR", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Seconds() != 5 {
		t.Fatalf("expected 5s, got %s", v)
	}
}

func TestEnvDurationInvalid(t *testing.T) {
	t.Setenv("TEST_DUR_BAD", "five-seconds")
	_, err := envDuration("TEST_DUR_BAD", 0)
	if err == nil {
		t.Fatal("expected error for invalid duration, got nil")
	}
	if got := err.Error(); got != `TEST_DUR_BAD="five-seconds" is not a valid duration` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestLoadFailsOnInvalidPort(t *testing.T) {
	t.Setenv("CONCIERGE_PORT", "abc")
	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail with invalid CONCIERGE_PORT")
	}
	// Error should mention the variable name and value.
	if got := err.Error(); !strings.Contains(got, "CONCIERGE_PORT") || !strings.Contains(got, "abc") {
		t.Fatalf("error should mention CONCIERGE_PORT and value 'abc', got: %s", got)
	}
}

func TestLoadFailsOnMultipleInvalid(t *testing.T) {
	t.Setenv("CONCIERGE_PORT", "abc")
	t.Setenv("ADK_TIMEOUT", "soon")
	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail with multiple invalid vars")
	}
	got := err.Error()
	if !strings.Contains(got, "CONCIERGE_PORT") {
		t.Fatalf("error should mention CONCIERGE_PORT, got: %s", got)
	}
	if !strings.Contains(got, "ADK_TIMEOUT") {
		t.Fatalf("error should mention ADK_TIMEOUT, got: %s", got)
	}
}

func TestLoadSucceedsWithDefaults(t *testing.T) {
	// With no env vars set, Load should succeed using all defaults.
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed with defaults, got: %v", err)
	}
	if cfg.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Port)
	}
	if cfg.Storage != StoragePostgres {
		t.Fatalf("expected default storage %q, got %q", StoragePostgres, cfg.Storage)
	}
	if cfg.ADKTimeout != 30*time.Second {
		t.Fatalf("expected default agent timeout 30s, got %s", cfg.ADKTimeout)
	}
	if cfg.ReturningThreshold != 30*time.Minute {
		t.Fatalf("expected default returning threshold 30m, got %s", cfg.ReturningThreshold)
	}
	if !cfg.RateLimitEnabled || cfg.RateLimitPerMinute != 30 || cfg.RateLimitBurst != 10 {
		t.Fatalf("unexpected rate limit defaults: %v %d %d", cfg.RateLimitEnabled, cfg.RateLimitPerMinute, cfg.RateLimitBurst)
	}
}

func TestLoadSQLiteStorage(t *testing.T) {
	t.Setenv("CONCIERGE_STORAGE", "SQLite")
	t.Setenv("CONCIERGE_SQLITE_PATH", "/tmp/dev.db")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Storage != StorageSQLite || cfg.SQLitePath != "/tmp/dev.db" {
		t.Fatalf("unexpected storage config: %q %q", cfg.Storage, cfg.SQLitePath)
	}
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			Storage:             StoragePostgres,
			DatabaseURL:         "postgres://x",
			ADKBaseURL:          "http://adk",
			ADKAppName:          "app",
			ADKTimeout:          time.Second,
			ReturningThreshold:  time.Minute,
			MaxHistoryMessages:  1,
			MaxHistoryChars:     1,
			MaxRequestBodyBytes: 1,
		}
	}
	if err := base().Validate(); err != nil {
		t.Fatalf("base config should be valid: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown storage", func(c *Config) { c.Storage = "mongo" }},
		{"postgres without url", func(c *Config) { c.DatabaseURL = "" }},
		{"no agent url", func(c *Config) { c.ADKBaseURL = "" }},
		{"no agent app", func(c *Config) { c.ADKAppName = "" }},
		{"zero agent timeout", func(c *Config) { c.ADKTimeout = 0 }},
		{"zero threshold", func(c *Config) { c.ReturningThreshold = 0 }},
		{"zero history", func(c *Config) { c.MaxHistoryChars = 0 }},
		{"zero body limit", func(c *Config) { c.MaxRequestBodyBytes = 0 }},
		{"dev tenant not uuid", func(c *Config) { c.DevTenantID = "acme" }},
		{"rate limit without rate", func(c *Config) { c.RateLimitEnabled = true; c.RateLimitBurst = 1 }},
		{"rate limit without burst", func(c *Config) { c.RateLimitEnabled = true; c.RateLimitPerMinute = 1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(&c)
			if err := c.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}

	c := base()
	c.Storage = StorageSQLite
	c.DatabaseURL = ""
	if err := c.Validate(); err != nil {
		t.Fatalf("sqlite needs no DATABASE_URL: %v", err)
	}

	c = base()
	c.RateLimitPerMinute = 0
	if err := c.Validate(); err != nil {
		t.Fatalf("disabled rate limit needs no rate: %v", err)
	}
}
