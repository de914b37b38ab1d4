package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/concierge/internal/model"
)

const sessionColumns = `id, tenant_id, agent_session_id, messages, current_phase, revision, created_at, updated_at`

// GetSession returns a session by (tenant, id). Sessions of other tenants are
// never returned; an id that exists under another tenant yields ErrNotFound.
func (db *DB) GetSession(ctx context.Context, tenantID, sessionID uuid.UUID) (model.Session, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM onboarding_sessions
		 WHERE tenant_id = $1 AND id = $2`, tenantID, sessionID)
	s, err := scanSession(row)
	if err != nil {
		return model.Session{}, fmt.Errorf("storage: get session: %w", err)
	}
	return s, nil
}

// LatestSession returns the tenant's most recently updated session.
func (db *DB) LatestSession(ctx context.Context, tenantID uuid.UUID) (model.Session, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM onboarding_sessions
		 WHERE tenant_id = $1
		 ORDER BY updated_at DESC, id
		 LIMIT 1`, tenantID)
	s, err := scanSession(row)
	if err != nil {
		return model.Session{}, fmt.Errorf("storage: latest session: %w", err)
	}
	return s, nil
}

// upsertSessionTx writes s inside tx. A session with Revision 0 is inserted;
// otherwise the row is updated only if its stored revision still equals
// s.Revision. Returns the new revision.
func upsertSessionTx(ctx context.Context, tx pgx.Tx, s model.Session) (int64, error) {
	msgs := StripNULMessages(s.Messages)
	if msgs == nil {
		msgs = []model.Message{}
	}
	if s.Revision == 0 {
		_, err := tx.Exec(ctx,
			`INSERT INTO onboarding_sessions (`+sessionColumns+`)
			 VALUES ($1, $2, $3, $4, $5, 1, $6, $7)`,
			s.ID, s.TenantID, s.AgentSessionID, msgs, string(s.CurrentPhase),
			sessionTime(s.CreatedAt), sessionTime(s.UpdatedAt),
		)
		if err != nil {
			if isUniqueViolation(err, "") {
				return 0, fmt.Errorf("%w: session %s already exists", ErrSessionConflict, s.ID)
			}
			return 0, fmt.Errorf("storage: insert session: %w", err)
		}
		return 1, nil
	}

	var rev int64
	err := tx.QueryRow(ctx,
		`UPDATE onboarding_sessions
		 SET agent_session_id = $3, messages = $4, current_phase = $5,
		     updated_at = $6, revision = revision + 1
		 WHERE tenant_id = $1 AND id = $2 AND revision = $7
		 RETURNING revision`,
		s.TenantID, s.ID, s.AgentSessionID, msgs, string(s.CurrentPhase), sessionTime(s.UpdatedAt), s.Revision,
	).Scan(&rev)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("%w: session %s revision %d", ErrSessionConflict, s.ID, s.Revision)
	}
	if err != nil {
		return 0, fmt.Errorf("storage: update session: %w", err)
	}
	return rev, nil
}

func scanSession(row pgx.Row) (model.Session, error) {
	var s model.Session
	err := row.Scan(
		&s.ID, &s.TenantID, &s.AgentSessionID, &s.Messages, &s.CurrentPhase,
		&s.Revision, &s.CreatedAt, &s.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Session{}, ErrNotFound
	}
	if err != nil {
		return model.Session{}, err
	}
	return s, nil
}

// sessionTime normalizes timestamps to the precision Postgres stores.
func sessionTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
