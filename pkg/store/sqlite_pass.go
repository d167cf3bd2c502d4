package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// AppendPass journals one poll cycle.
func (s *Store) AppendPass(ctx context.Context, p *PassRecord) error {
	if p.PassID == "" {
		return fmt.Errorf("pass id is required")
	}
	var warnings any
	if len(p.Warnings) > 0 {
		warnings = string(p.Warnings)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO passes (
			pass_id, source_id, host, started_at, duration_ns, outcome,
			structure_changed, added, removed, reparented, edges, error, warnings
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.PassID, p.SourceID, p.Host, p.StartedAt.UTC(), int64(p.Duration), string(p.Outcome),
		p.StructureChanged, p.Added, p.Removed, p.Reparented, p.Edges, p.Error, warnings)
	if err != nil {
		return fmt.Errorf("failed to insert pass: %w", err)
	}
	return nil
}

const passColumns = `pass_id, source_id, host, started_at, duration_ns, outcome,
	structure_changed, added, removed, reparented, edges, error, warnings`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPass(row rowScanner) (*PassRecord, error) {
	var (
		p                    PassRecord
		host, errText, warns sql.NullString
		durationNs           int64
		outcome              string
	)
	if err := row.Scan(&p.PassID, &p.SourceID, &host, &p.StartedAt, &durationNs, &outcome,
		&p.StructureChanged, &p.Added, &p.Removed, &p.Reparented, &p.Edges, &errText, &warns); err != nil {
		return nil, err
	}
	p.Host = host.String
	p.Duration = time.Duration(durationNs)
	p.Outcome = PassOutcome(outcome)
	p.Error = errText.String
	if warns.Valid && warns.String != "" {
		p.Warnings = []byte(warns.String)
	}
	return &p, nil
}

// GetPass returns one journal entry, or nil when it does not exist.
func (s *Store) GetPass(ctx context.Context, passID string) (*PassRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+passColumns+` FROM passes WHERE pass_id = ?`, passID)
	p, err := scanPass(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get pass: %w", err)
	}
	return p, nil
}

// RecentPasses returns up to limit journal entries, newest first.
func (s *Store) RecentPasses(ctx context.Context, limit int) ([]*PassRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+passColumns+` FROM passes
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query passes: %w", err)
	}
	defer rows.Close()

	var out []*PassRecord
	for rows.Next() {
		p, err := scanPass(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pass: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// QueryPasses returns journal entries matching f, oldest first.
func (s *Store) QueryPasses(ctx context.Context, f PassFilter) ([]*PassRecord, error) {
	var (
		where []string
		args  []any
	)
	if !f.From.IsZero() {
		where = append(where, "started_at >= ?")
		args = append(args, f.From.UTC())
	}
	if !f.To.IsZero() {
		where = append(where, "started_at < ?")
		args = append(args, f.To.UTC())
	}
	if f.Outcome != "" {
		where = append(where, "outcome = ?")
		args = append(args, string(f.Outcome))
	}
	if f.StructureChangedOnly {
		where = append(where, "structure_changed = 1")
	}

	query := `SELECT ` + passColumns + ` FROM passes`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY started_at ASC, rowid ASC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query passes: %w", err)
	}
	defer rows.Close()

	var out []*PassRecord
	for rows.Next() {
		p, err := scanPass(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pass: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// PrunePasses deletes journal entries started before the cutoff.
func (s *Store) PrunePasses(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM passes WHERE started_at < ?`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune passes: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check rows affected: %w", err)
	}
	return n, nil
}

// CountPasses returns the number of journal entries.
func (s *Store) CountPasses(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM passes`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count passes: %w", err)
	}
	return n, nil
}
