package store

import "context"

// SessionLog binds the snapshot log to one session, matching the
// history package's persistence interface.
type SessionLog struct {
	store   *Store
	session string
}

// SessionLog creates the per-session adapter, registering the session.
func (s *Store) SessionLog(ctx context.Context, sessionID string) (*SessionLog, error) {
	if err := s.CreateSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return &SessionLog{store: s, session: sessionID}, nil
}

// AppendSnapshot implements history.Log.
func (l *SessionLog) AppendSnapshot(label string, seq int, data []byte) error {
	return l.store.AppendSnapshot(context.Background(), l.session, seq, label, data)
}
