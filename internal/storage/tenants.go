package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// TenantExists reports whether the tenant exists and has not been deleted.
func (db *DB) TenantExists(ctx context.Context, tenantID uuid.UUID) (bool, error) {
	var exists bool
	if err := db.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM tenants WHERE id = $1 AND deleted_at IS NULL)`, tenantID,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("storage: tenant exists: %w", err)
	}
	return exists, nil
}

// EnsureTenant registers a tenant for onboarding. Tenant provisioning itself
// lives outside this service; this is the hook it calls.
func (db *DB) EnsureTenant(ctx context.Context, tenantID uuid.UUID, name string) error {
	if _, err := db.pool.Exec(ctx,
		`INSERT INTO tenants (id, name) VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, deleted_at = NULL`,
		tenantID, name,
	); err != nil {
		return fmt.Errorf("storage: ensure tenant: %w", err)
	}
	return nil
}

// MarkTenantDeleted soft-deletes a tenant. Its event log is kept.
func (db *DB) MarkTenantDeleted(ctx context.Context, tenantID uuid.UUID) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE tenants SET deleted_at = now() WHERE id = $1 AND deleted_at IS NULL`, tenantID)
	if err != nil {
		return fmt.Errorf("storage: delete tenant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
