package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_FileAndReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.db")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.CreateSession(context.Background(), "s1"))
	require.NoError(t, s.Close())

	// Re-opening applies pragmas and migrations idempotently.
	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	sessions, err := s.Sessions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, sessions)
}

func TestAppendAndReadSnapshot(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateSession(ctx, "s1"))
	require.NoError(t, s.AppendSnapshot(ctx, "s1", 0, "baseline", []byte(`{"items":[],"selection":[]}`)))
	require.NoError(t, s.AppendSnapshot(ctx, "s1", 1, "add line", []byte(`{"items":[{"id":"a"}],"selection":[]}`)))

	rec, err := s.ReadSnapshot(ctx, "s1", 1)
	require.NoError(t, err)
	assert.Equal(t, "add line", rec.Label)
	assert.Equal(t, []byte(`{"items":[{"id":"a"}],"selection":[]}`), rec.State)

	latest, err := s.LatestSnapshot(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, latest.Seq)

	_, err = s.ReadSnapshot(ctx, "s1", 9)
	assert.ErrorIs(t, err, ErrNoSnapshot)
	_, err = s.LatestSnapshot(ctx, "missing")
	assert.ErrorIs(t, err, ErrNoSnapshot)
}

func TestAppendSnapshot_TruncatesRedoTail(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateSession(ctx, "s1"))
	for seq, label := range []string{"baseline", "A", "B", "C"} {
		require.NoError(t, s.AppendSnapshot(ctx, "s1", seq, label, []byte(label)))
	}

	// Recording at seq 2 after undos replaces B and drops C.
	require.NoError(t, s.AppendSnapshot(ctx, "s1", 2, "D", []byte("D")))

	recs, err := s.ListSnapshots(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "D", recs[2].Label)
	assert.Equal(t, 2, recs[2].Seq)
}

func TestDeleteSession_CascadesSnapshots(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateSession(ctx, "s1"))
	require.NoError(t, s.AppendSnapshot(ctx, "s1", 0, "baseline", []byte("x")))
	require.NoError(t, s.DeleteSession(ctx, "s1"))

	recs, err := s.ListSnapshots(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestSessionLog(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	log, err := s.SessionLog(ctx, "s1")
	require.NoError(t, err)
	require.NoError(t, log.AppendSnapshot("baseline", 0, []byte("x")))

	rec, err := s.ReadSnapshot(ctx, "s1", 0)
	require.NoError(t, err)
	assert.Equal(t, "baseline", rec.Label)
}
