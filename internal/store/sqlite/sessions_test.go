package sqlite

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/wagate/internal/store"
)

func openTestStore(t *testing.T) *SQLiteSessionStore {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "session.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLitePersistLoad(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	exists, err := s.Exists(ctx)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, s.Persist(ctx, map[string]json.RawMessage{
		"creds.json":     json.RawMessage(`{"me":"x"}`),
		"pre-key-7.json": json.RawMessage(`{"k":7}`),
	}))
	require.NoError(t, s.Persist(ctx, map[string]json.RawMessage{
		"pre-key-7.json": json.RawMessage(`{"k":8}`),
	}))

	state, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, state.Files, 2)
	assert.JSONEq(t, `{"k":8}`, string(state.Files["pre-key-7.json"]))

	exists, err = s.Exists(ctx)
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, s.Persist(ctx, map[string]json.RawMessage{"pre-key-7.json": nil}))
	state, err = s.Load(ctx)
	require.NoError(t, err)
	assert.NotContains(t, state.Files, "pre-key-7.json")
}

func TestSQLiteResetAndInfo(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	require.NoError(t, s.Persist(ctx, map[string]json.RawMessage{"creds.json": json.RawMessage(`{}`)}))

	info, err := s.Info(ctx)
	require.NoError(t, err)
	assert.True(t, info.Exists)
	require.Len(t, info.Files, 1)
	assert.Equal(t, "credentials", info.Files[0].Type)

	require.NoError(t, s.Reset(ctx))
	info, err = s.Info(ctx)
	require.NoError(t, err)
	assert.False(t, info.Exists)
	assert.Zero(t, info.TotalFiles)
}

func TestSQLiteCleanupOldKeepsCreds(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	base := time.Now()
	s.now = func() time.Time { return base.Add(-10 * 24 * time.Hour) }
	require.NoError(t, s.Persist(ctx, map[string]json.RawMessage{
		"creds.json":       json.RawMessage(`{}`),
		"session-old.json": json.RawMessage(`{}`),
	}))
	s.now = func() time.Time { return base }
	require.NoError(t, s.Persist(ctx, map[string]json.RawMessage{"session-new.json": json.RawMessage(`{}`)}))

	n, err := s.CleanupOld(ctx, 7*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	state, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Contains(t, state.Files, "creds.json")
	assert.Contains(t, state.Files, "session-new.json")
}

func TestSQLiteBackup(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.Backup(ctx)
	assert.ErrorIs(t, err, store.ErrNoSession)

	require.NoError(t, s.Persist(ctx, map[string]json.RawMessage{"creds.json": json.RawMessage(`{}`)}))
	res, err := s.Backup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Files)
	_, err = os.Stat(res.Location)
	assert.NoError(t, err)
}
