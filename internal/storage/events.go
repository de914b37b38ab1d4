package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/concierge/internal/integrity"
	"github.com/ashita-ai/concierge/internal/model"
)

const eventVersionConstraint = "onboarding_events_tenant_version_key"

// AppendEvent appends a single event to the tenant's log.
//
// expectedVersion must equal the tenant's current version (0 for an empty
// log). On mismatch nothing is written and the error wraps ErrVersionConflict.
// Returns the version assigned to the new event.
func (db *DB) AppendEvent(ctx context.Context, tenantID uuid.UUID, eventType model.EventType, payload map[string]any, expectedVersion int64) (int64, error) {
	var newVersion int64
	err := WithRetry(ctx, 3, 10*time.Millisecond, func() error {
		tx, err := db.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("storage: begin append tx: %w", err)
		}
		defer tx.Rollback(ctx) //nolint:errcheck

		events, err := appendEventsTx(ctx, tx, tenantID, expectedVersion,
			[]model.NewEvent{{Type: eventType, Payload: payload}}, time.Now())
		if err != nil {
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			if isUniqueViolation(err, eventVersionConstraint) {
				return fmt.Errorf("%w: expected version %d", ErrVersionConflict, expectedVersion)
			}
			return fmt.Errorf("storage: commit append: %w", err)
		}
		newVersion = events[len(events)-1].Version
		return nil
	})
	if err != nil {
		return 0, err
	}
	return newVersion, nil
}

// ListEvents returns the tenant's complete event log ordered by version.
// The log is never filtered or truncated so replay is always exact.
func (db *DB) ListEvents(ctx context.Context, tenantID uuid.UUID) ([]model.OnboardingEvent, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, tenant_id, event_type, payload, version, occurred_at, content_hash
		 FROM onboarding_events WHERE tenant_id = $1
		 ORDER BY version ASC`, tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// CurrentVersion returns the tenant's latest event version, 0 when the log is empty.
func (db *DB) CurrentVersion(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	var v int64
	if err := db.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM onboarding_events WHERE tenant_id = $1`, tenantID,
	).Scan(&v); err != nil {
		return 0, fmt.Errorf("storage: current version: %w", err)
	}
	return v, nil
}

// appendEventsTx checks the expected version and inserts events with
// consecutive versions inside tx. The unique (tenant_id, version) constraint
// backs the check: a concurrent writer that passed the same check loses at
// insert or commit time.
func appendEventsTx(ctx context.Context, tx pgx.Tx, tenantID uuid.UUID, expectedVersion int64, events []model.NewEvent, at time.Time) ([]model.OnboardingEvent, error) {
	var current int64
	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM onboarding_events WHERE tenant_id = $1`, tenantID,
	).Scan(&current); err != nil {
		return nil, fmt.Errorf("storage: read current version: %w", err)
	}
	if current != expectedVersion {
		return nil, fmt.Errorf("%w: expected version %d, current %d", ErrVersionConflict, expectedVersion, current)
	}

	at = at.UTC().Truncate(time.Microsecond)
	out := make([]model.OnboardingEvent, 0, len(events))
	for i, ne := range events {
		if !ne.Type.Valid() {
			return nil, fmt.Errorf("storage: unknown event type %q", ne.Type)
		}
		payload := StripNULPayload(ne.Payload)
		if payload == nil {
			payload = map[string]any{}
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
			return nil, fmt.Errorf("storage: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO onboarding_events (id, tenant_id, version, event_type, payload, occurred_at, content_hash)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			e.ID, e.TenantID, e.Version, string(e.Type), e.Payload, e.OccurredAt, e.ContentHash,
		); err != nil {
			if isUniqueViolation(err, eventVersionConstraint) {
				return nil, fmt.Errorf("%w: version %d already taken", ErrVersionConflict, e.Version)
			}
			return nil, fmt.Errorf("storage: insert event: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}

func scanEvents(rows pgx.Rows) ([]model.OnboardingEvent, error) {
	var events []model.OnboardingEvent
	for rows.Next() {
		var e model.OnboardingEvent
		if err := rows.Scan(
			&e.ID, &e.TenantID, &e.Type, &e.Payload, &e.Version, &e.OccurredAt, &e.ContentHash,
		); err != nil {
			return nil, fmt.Errorf("storage: scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
