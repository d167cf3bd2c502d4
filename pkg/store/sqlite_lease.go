package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrLeaseLost is returned when renewing a lease held by someone else.
var ErrLeaseLost = errors.New("lease lost or stolen")

// Acquire takes the lease when it is free, expired, or already ours.
func (s *Store) Acquire(ctx context.Context, name, holderID string, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO leases (name, holder_id, expires_at, version)
		VALUES (?, ?, ?, 1)
		ON CONFLICT(name) DO UPDATE SET
			holder_id = excluded.holder_id,
			expires_at = excluded.expires_at,
			version = leases.version + 1
		WHERE leases.holder_id = excluded.holder_id OR leases.expires_at < ?
	`, name, holderID, now.Add(ttl), now)
	if err != nil {
		return false, fmt.Errorf("failed to acquire lease %s: %w", name, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}
	return rows > 0, nil
}

// Renew extends a lease held by holderID.
func (s *Store) Renew(ctx context.Context, name, holderID string, ttl time.Duration) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE leases SET expires_at = ?, version = version + 1
		WHERE name = ? AND holder_id = ?
	`, time.Now().UTC().Add(ttl), name, holderID)
	if err != nil {
		return fmt.Errorf("failed to renew lease %s: %w", name, err)
	}
	if rows, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	} else if rows == 0 {
		return ErrLeaseLost
	}
	return nil
}

// Release drops the lease if holderID holds it.
func (s *Store) Release(ctx context.Context, name, holderID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM leases WHERE name = ? AND holder_id = ?`, name, holderID); err != nil {
		return fmt.Errorf("failed to release lease %s: %w", name, err)
	}
	return nil
}

// Get returns the current lease, or nil when nobody holds it.
func (s *Store) Get(ctx context.Context, name string) (*Lease, error) {
	var l Lease
	err := s.db.QueryRowContext(ctx, `
		SELECT name, holder_id, expires_at, version FROM leases WHERE name = ?
	`, name).Scan(&l.Name, &l.HolderID, &l.ExpiresAt, &l.Version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get lease %s: %w", name, err)
	}
	return &l, nil
}
