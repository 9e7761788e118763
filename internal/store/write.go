package store

import (
	"context"
	"fmt"
)

// CreateSession registers a session id. Idempotent: re-opening an
// existing session is a no-op.
func (s *Store) CreateSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id) VALUES (?)
		ON CONFLICT(id) DO NOTHING
	`, id)
	if err != nil {
		return fmt.Errorf("create session %s: %w", id, err)
	}
	return nil
}

// AppendSnapshot writes one recorded state. Writing at a seq that
// already exists overwrites it and deletes every later seq: this is the
// redo-tail truncation that follows recording after an undo. Both writes
// happen in one transaction so readers never see a forked log.
func (s *Store) AppendSnapshot(ctx context.Context, sessionID string, seq int, label string, state []byte) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append snapshot: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO snapshots (session_id, seq, label, state)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id, seq) DO UPDATE SET
			label = excluded.label,
			state = excluded.state
	`, sessionID, seq, label, state); err != nil {
		return fmt.Errorf("append snapshot %s/%d: %w", sessionID, seq, err)
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM snapshots WHERE session_id = ? AND seq > ?
	`, sessionID, seq); err != nil {
		return fmt.Errorf("truncate snapshots %s/%d: %w", sessionID, seq, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("append snapshot: %w", err)
	}
	return nil
}

// DeleteSession removes a session and its snapshots.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}
