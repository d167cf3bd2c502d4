package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// SaveSnapshot persists a snapshot of local state.
func (s *Store) SaveSnapshot(ctx context.Context, snap *Snapshot) error {
	var lastPass any
	if snap.LastPassID != "" {
		lastPass = snap.LastPassID
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO snapshots (snapshot_id, schema_version, ts_snapshot, last_pass_id, payload)
		VALUES (?, ?, ?, ?, ?)
	`, snap.SnapshotID, snap.SchemaVersion, snap.TsSnapshot.UTC(), lastPass, string(snap.Payload))
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}
	return nil
}

// GetLatestSnapshot returns the newest snapshot, or nil when none exists.
func (s *Store) GetLatestSnapshot(ctx context.Context) (*Snapshot, error) {
	var (
		snap     Snapshot
		lastPass sql.NullString
		payload  string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT snapshot_id, schema_version, ts_snapshot, last_pass_id, payload
		FROM snapshots
		ORDER BY ts_snapshot DESC, rowid DESC
		LIMIT 1
	`).Scan(&snap.SnapshotID, &snap.SchemaVersion, &snap.TsSnapshot, &lastPass, &payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest snapshot: %w", err)
	}
	snap.LastPassID = lastPass.String
	snap.Payload = []byte(payload)
	return &snap, nil
}

// PruneSnapshots keeps the newest keep snapshots and deletes the rest.
func (s *Store) PruneSnapshots(ctx context.Context, keep int) (int64, error) {
	if keep < 1 {
		keep = 1
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM snapshots WHERE snapshot_id NOT IN (
			SELECT snapshot_id FROM snapshots ORDER BY ts_snapshot DESC, rowid DESC LIMIT ?
		)
	`, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune snapshots: %w", err)
	}
	return res.RowsAffected()
}
