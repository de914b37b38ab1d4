// Package litestore is an embedded SQLite implementation of the onboarding
// store. It keeps the same contract as the Postgres store (optimistic event
// versions backed by a unique index, atomic turn commits, tenant-scoped
// sessions) for single-node deployments and Docker-free tests.
package litestore

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/ashita-ai/concierge/internal/integrity"
	"github.com/ashita-ai/concierge/internal/model"
	"github.com/ashita-ai/concierge/internal/storage"
)

//go:embed schema.sql
var schema string

// tsLayout is fixed-width so lexical order equals time order.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

// Store is a SQLite-backed onboarding store.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (or creates) the database at path and applies the schema.
// An empty path or ":memory:" opens a private in-memory database.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("litestore: open: %w", err)
	}
	// One connection: SQLite allows a single writer, and an in-memory
	// database lives only as long as its connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("litestore: %s: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("litestore: apply schema: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// Ping checks the database handle.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the database.
func (s *Store) Close(_ context.Context) {
	if err := s.db.Close(); err != nil {
		s.logger.Warn("litestore: close", "error", err)
	}
}

// AppendEvent appends one event if expectedVersion equals the tenant's
// current version; otherwise the error wraps storage.ErrVersionConflict.
func (s *Store) AppendEvent(ctx context.Context, tenantID uuid.UUID, eventType model.EventType, payload map[string]any, expectedVersion int64) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("litestore: begin append tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	events, err := appendEventsTx(ctx, tx, tenantID, expectedVersion,
		[]model.NewEvent{{Type: eventType, Payload: payload}}, time.Now())
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("litestore: commit append: %w", err)
	}
	return events[0].Version, nil
}

// ListEvents returns the tenant's complete log ordered by version.
func (s *Store) ListEvents(ctx context.Context, tenantID uuid.UUID) ([]model.OnboardingEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, event_type, payload, version, occurred_at, content_hash
		 FROM onboarding_events WHERE tenant_id = ?
		 ORDER BY version ASC`, tenantID.String())
	if err != nil {
		return nil, fmt.Errorf("litestore: list events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []model.OnboardingEvent
	for rows.Next() {
		var (
			e                        model.OnboardingEvent
			id, tenant, typ, payload string
			occurredAt               string
		)
		if err := rows.Scan(&id, &tenant, &typ, &payload, &e.Version, &occurredAt, &e.ContentHash); err != nil {
			return nil, fmt.Errorf("litestore: scan event: %w", err)
		}
		if e.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("litestore: event id: %w", err)
		}
		if e.TenantID, err = uuid.Parse(tenant); err != nil {
			return nil, fmt.Errorf("litestore: event tenant: %w", err)
		}
		e.Type = model.EventType(typ)
		if err := json.Unmarshal([]byte(payload), &e.Payload); err != nil {
			return nil, fmt.Errorf("litestore: event payload: %w", err)
		}
		if e.OccurredAt, err = parseTime(occurredAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// CurrentVersion returns the tenant's latest event version, 0 when empty.
func (s *Store) CurrentVersion(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	return currentVersion(ctx, s.db, tenantID)
}

// GetSession returns a session by (tenant, id).
func (s *Store) GetSession(ctx context.Context, tenantID, sessionID uuid.UUID) (model.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM onboarding_sessions WHERE tenant_id = ? AND id = ?`,
		tenantID.String(), sessionID.String())
	sess, err := scanSession(row)
	if err != nil {
		return model.Session{}, fmt.Errorf("litestore: get session: %w", err)
	}
	return sess, nil
}

// LatestSession returns the tenant's most recently updated session.
func (s *Store) LatestSession(ctx context.Context, tenantID uuid.UUID) (model.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM onboarding_sessions WHERE tenant_id = ?
		 ORDER BY updated_at DESC, id LIMIT 1`, tenantID.String())
	sess, err := scanSession(row)
	if err != nil {
		return model.Session{}, fmt.Errorf("litestore: latest session: %w", err)
	}
	return sess, nil
}

// CommitTurn applies a turn's events and session write in one transaction.
func (s *Store) CommitTurn(ctx context.Context, c model.TurnCommit) (model.TurnCommitResult, error) {
	if c.Session.TenantID != c.TenantID {
		return model.TurnCommitResult{}, fmt.Errorf("litestore: commit turn: session belongs to another tenant")
	}
	at := c.OccurredAt
	if at.IsZero() {
		at = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.TurnCommitResult{}, fmt.Errorf("litestore: begin turn tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res := model.TurnCommitResult{NewVersion: c.ExpectedVersion}
	if len(c.Events) > 0 {
		events, err := appendEventsTx(ctx, tx, c.TenantID, c.ExpectedVersion, c.Events, at)
		if err != nil {
			return model.TurnCommitResult{}, err
		}
		res.Events = events
		res.NewVersion = events[len(events)-1].Version
	}

	rev, err := upsertSessionTx(ctx, tx, c.Session)
	if err != nil {
		return model.TurnCommitResult{}, err
	}
	res.SessionRevision = rev

	if err := tx.Commit(); err != nil {
		return model.TurnCommitResult{}, fmt.Errorf("litestore: commit turn: %w", err)
	}
	return res, nil
}

// TenantExists reports whether the tenant exists and has not been deleted.
func (s *Store) TenantExists(ctx context.Context, tenantID uuid.UUID) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tenants WHERE id = ? AND deleted_at IS NULL`, tenantID.String(),
	).Scan(&n); err != nil {
		return false, fmt.Errorf("litestore: tenant exists: %w", err)
	}
	return n > 0, nil
}

// EnsureTenant registers a tenant (or revives a deleted one).
func (s *Store) EnsureTenant(ctx context.Context, tenantID uuid.UUID, name string) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO tenants (id, name, created_at) VALUES (?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET name = excluded.name, deleted_at = NULL`,
		tenantID.String(), name, formatTime(time.Now()),
	); err != nil {
		return fmt.Errorf("litestore: ensure tenant: %w", err)
	}
	return nil
}

// MarkTenantDeleted soft-deletes a tenant.
func (s *Store) MarkTenantDeleted(ctx context.Context, tenantID uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tenants SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`,
		formatTime(time.Now()), tenantID.String())
	if err != nil {
		return fmt.Errorf("litestore: delete tenant: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func currentVersion(ctx context.Context, q queryer, tenantID uuid.UUID) (int64, error) {
	var v int64
	if err := q.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM onboarding_events WHERE tenant_id = ?`, tenantID.String(),
	).Scan(&v); err != nil {
		return 0, fmt.Errorf("litestore: current version: %w", err)
	}
	return v, nil
}

func appendEventsTx(ctx context.Context, tx *sql.Tx, tenantID uuid.UUID, expectedVersion int64, events []model.NewEvent, at time.Time) ([]model.OnboardingEvent, error) {
	current, err := currentVersion(ctx, tx, tenantID)
	if err != nil {
		return nil, err
	}
	if current != expectedVersion {
		return nil, fmt.Errorf("%w: expected version %d, current %d", storage.ErrVersionConflict, expectedVersion, current)
	}

	at = at.UTC()
	out := make([]model.OnboardingEvent, 0, len(events))
	for i, ne := range events {
		if !ne.Type.Valid() {
			return nil, fmt.Errorf("litestore: unknown event type %q", ne.Type)
		}
		payload := storage.StripNULPayload(ne.Payload)
		if payload == nil {
			payload = map[string]any{}
		}
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("litestore: marshal payload: %w", err)
		}
		e := model.OnboardingEvent{
			ID:         uuid.New(),
			TenantID:   tenantID,
			Type:       ne.Type,
			Payload:    payload,
			Version:    expectedVersion + int64(i) + 1,
			OccurredAt: at,
		}
		if err := integrity.Seal(&e); err != nil {
			return nil, fmt.Errorf("litestore: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO onboarding_events (id, tenant_id, version, event_type, payload, occurred_at, content_hash)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			e.ID.String(), tenantID.String(), e.Version, string(e.Type), string(raw), formatTime(at), e.ContentHash,
		); err != nil {
			if isConstraintViolation(err) {
				return nil, fmt.Errorf("%w: version %d already taken", storage.ErrVersionConflict, e.Version)
			}
			return nil, fmt.Errorf("litestore: insert event: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}

const sessionColumns = `id, tenant_id, agent_session_id, messages, current_phase, revision, created_at, updated_at`

func upsertSessionTx(ctx context.Context, tx *sql.Tx, s model.Session) (int64, error) {
	msgs := storage.StripNULMessages(s.Messages)
	if msgs == nil {
		msgs = []model.Message{}
	}
	raw, err := json.Marshal(msgs)
	if err != nil {
		return 0, fmt.Errorf("litestore: marshal messages: %w", err)
	}

	if s.Revision == 0 {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO onboarding_sessions (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, 1, ?, ?)`,
			s.ID.String(), s.TenantID.String(), s.AgentSessionID, string(raw), string(s.CurrentPhase),
			formatTime(s.CreatedAt), formatTime(s.UpdatedAt),
		); err != nil {
			if isConstraintViolation(err) {
				return 0, fmt.Errorf("%w: session %s already exists", storage.ErrSessionConflict, s.ID)
			}
			return 0, fmt.Errorf("litestore: insert session: %w", err)
		}
		return 1, nil
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE onboarding_sessions
		 SET agent_session_id = ?, messages = ?, current_phase = ?, updated_at = ?, revision = revision + 1
		 WHERE tenant_id = ? AND id = ? AND revision = ?`,
		s.AgentSessionID, string(raw), string(s.CurrentPhase), formatTime(s.UpdatedAt),
		s.TenantID.String(), s.ID.String(), s.Revision,
	)
	if err != nil {
		return 0, fmt.Errorf("litestore: update session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, fmt.Errorf("%w: session %s revision %d", storage.ErrSessionConflict, s.ID, s.Revision)
	}
	return s.Revision + 1, nil
}

func scanSession(row *sql.Row) (model.Session, error) {
	var (
		s                    model.Session
		id, tenant, msgs, ph string
		createdAt, updatedAt string
	)
	err := row.Scan(&id, &tenant, &s.AgentSessionID, &msgs, &ph, &s.Revision, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Session{}, storage.ErrNotFound
	}
	if err != nil {
		return model.Session{}, err
	}
	if s.ID, err = uuid.Parse(id); err != nil {
		return model.Session{}, err
	}
	if s.TenantID, err = uuid.Parse(tenant); err != nil {
		return model.Session{}, err
	}
	if err := json.Unmarshal([]byte(msgs), &s.Messages); err != nil {
		return model.Session{}, fmt.Errorf("session messages: %w", err)
	}
	s.CurrentPhase = model.Phase(ph)
	if s.CreatedAt, err = parseTime(createdAt); err != nil {
		return model.Session{}, err
	}
	if s.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return model.Session{}, err
	}
	return s, nil
}

func isConstraintViolation(err error) bool {
	var sqlErr *sqlite.Error
	if !errors.As(err, &sqlErr) {
		return false
	}
	switch sqlErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	}
	return false
}

func formatTime(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(tsLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("litestore: parse time %q: %w", s, err)
	}
	return t, nil
}
