package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/ashita-ai/concierge/internal/model"
)

// CommitTurn atomically applies one chat turn: the turn's events are appended
// with the optimistic version check and the session is written with its
// revision check, in a single transaction. Either both land or neither does.
// A cancelled ctx rolls the transaction back.
func (db *DB) CommitTurn(ctx context.Context, c model.TurnCommit) (model.TurnCommitResult, error) {
	if c.Session.TenantID != c.TenantID {
		return model.TurnCommitResult{}, fmt.Errorf("storage: commit turn: session belongs to another tenant")
	}
	at := c.OccurredAt
	if at.IsZero() {
		at = time.Now()
	}

	var res model.TurnCommitResult
	err := WithRetry(ctx, 3, 10*time.Millisecond, func() error {
		res = model.TurnCommitResult{NewVersion: c.ExpectedVersion}

		tx, err := db.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("storage: begin turn tx: %w", err)
		}
		defer tx.Rollback(ctx) //nolint:errcheck

		if len(c.Events) > 0 {
			events, err := appendEventsTx(ctx, tx, c.TenantID, c.ExpectedVersion, c.Events, at)
			if err != nil {
				return err
			}
			res.Events = events
			res.NewVersion = events[len(events)-1].Version
		}

		rev, err := upsertSessionTx(ctx, tx, c.Session)
		if err != nil {
			return err
		}
		res.SessionRevision = rev

		if err := tx.Commit(ctx); err != nil {
			if isUniqueViolation(err, eventVersionConstraint) {
				return fmt.Errorf("%w: expected version %d", ErrVersionConflict, c.ExpectedVersion)
			}
			return fmt.Errorf("storage: commit turn: %w", err)
		}
		return nil
	})
	if err != nil {
		return model.TurnCommitResult{}, err
	}

	db.logger.Debug("storage: turn committed",
		"tenant_id", c.TenantID,
		"session_id", c.Session.ID,
		"events", len(res.Events),
		"version", res.NewVersion,
	)
	return res, nil
}
