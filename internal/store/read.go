package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrNoSnapshot is returned when a requested snapshot does not exist.
var ErrNoSnapshot = errors.New("snapshot not found")

// SnapshotRecord is one row of the snapshot log.
type SnapshotRecord struct {
	Seq   int
	Label string
	State []byte
}

// ReadSnapshot returns one recorded state.
func (s *Store) ReadSnapshot(ctx context.Context, sessionID string, seq int) (*SnapshotRecord, error) {
	rec := &SnapshotRecord{Seq: seq}
	err := s.db.QueryRowContext(ctx, `
		SELECT label, state FROM snapshots
		WHERE session_id = ? AND seq = ?
	`, sessionID, seq).Scan(&rec.Label, &rec.State)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s/%d: %w", sessionID, seq, ErrNoSnapshot)
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s/%d: %w", sessionID, seq, err)
	}
	return rec, nil
}

// LatestSnapshot returns the newest recorded state of a session.
func (s *Store) LatestSnapshot(ctx context.Context, sessionID string) (*SnapshotRecord, error) {
	rec := &SnapshotRecord{}
	err := s.db.QueryRowContext(ctx, `
		SELECT seq, label, state FROM snapshots
		WHERE session_id = ?
		ORDER BY seq DESC LIMIT 1
	`, sessionID).Scan(&rec.Seq, &rec.Label, &rec.State)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", sessionID, ErrNoSnapshot)
	}
	if err != nil {
		return nil, fmt.Errorf("latest snapshot %s: %w", sessionID, err)
	}
	return rec, nil
}

// ListSnapshots returns every recorded state of a session in seq order.
func (s *Store) ListSnapshots(ctx context.Context, sessionID string) ([]SnapshotRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, label, state FROM snapshots
		WHERE session_id = ?
		ORDER BY seq ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list snapshots %s: %w", sessionID, err)
	}
	defer rows.Close()

	var out []SnapshotRecord
	for rows.Next() {
		var rec SnapshotRecord
		if err := rows.Scan(&rec.Seq, &rec.Label, &rec.State); err != nil {
			return nil, fmt.Errorf("list snapshots %s: %w", sessionID, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list snapshots %s: %w", sessionID, err)
	}
	return out, nil
}

// Sessions returns all session ids in creation order.
func (s *Store) Sessions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM sessions ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("list sessions: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return out, nil
}
