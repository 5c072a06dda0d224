package stores

import (
	"context"
	"fmt"
	"time"

	"github.com/seoagent/governor/pkg/lease"
)

// Claim implements lease.Claimer. The upsert only overwrites a lease that
// the caller already owns or that has expired.
func (s *SQLiteStore) Claim(ctx context.Context, actionID, owner string, ttl time.Duration) (lease.Lease, error) {
	if ttl <= 0 {
		ttl = lease.DefaultTTL
	}

	now := s.now()
	expiresAt := now.Add(ttl)

	query := `
		INSERT INTO action_leases (action_id, owner, expires_at_ms)
		VALUES (?, ?, ?)
		ON CONFLICT(action_id) DO UPDATE SET
			owner = excluded.owner,
			expires_at_ms = excluded.expires_at_ms
		WHERE action_leases.owner = excluded.owner OR action_leases.expires_at_ms <= ?
	`

	result, err := s.db.ExecContext(ctx, query, actionID, owner, expiresAt.UnixMilli(), now.UnixMilli())
	if err != nil {
		return lease.Lease{}, fmt.Errorf("failed to claim lease: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return lease.Lease{}, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return lease.Lease{}, fmt.Errorf("action %s: %w", actionID, lease.ErrHeld)
	}

	return lease.Lease{ActionID: actionID, Owner: owner, ExpiresAt: expiresAt.UTC()}, nil
}

// Release implements lease.Claimer.
func (s *SQLiteStore) Release(ctx context.Context, actionID, owner string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM action_leases WHERE action_id = ? AND owner = ? AND expires_at_ms > ?`,
		actionID, owner, s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to release lease: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("action %s: %w", actionID, lease.ErrNotHeld)
	}
	return nil
}

// PurgeExpiredLeases deletes leases that have run out.
func (s *SQLiteStore) PurgeExpiredLeases(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM action_leases WHERE expires_at_ms <= ?`, s.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to purge leases: %w", err)
	}
	return result.RowsAffected()
}
