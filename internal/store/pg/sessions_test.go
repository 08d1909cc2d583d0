package pg

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/wagate/internal/store"
)

// openTestStore needs a disposable database in WAGATE_TEST_POSTGRES_DSN.
func openTestStore(t *testing.T) *PGSessionStore {
	t.Helper()
	dsn := os.Getenv("WAGATE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("WAGATE_TEST_POSTGRES_DSN not set")
	}
	s, err := Open(context.Background(), dsn)
	require.NoError(t, err)
	require.NoError(t, s.Reset(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenRequiresDSN(t *testing.T) {
	_, err := Open(context.Background(), "")
	assert.ErrorContains(t, err, "WAGATE_POSTGRES_DSN")
}

func TestBackupTableName(t *testing.T) {
	at := time.UnixMilli(1700000000123)
	assert.Equal(t, "wa_session_files_backup_1700000000123", backupTable(at))
}

func TestPGPersistLoadAndCleanup(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	exists, err := s.Exists(ctx)
	require.NoError(t, err)
	assert.False(t, exists)

	old := time.Now().Add(-48 * time.Hour)
	s.now = func() time.Time { return old }
	require.NoError(t, s.Persist(ctx, map[string]json.RawMessage{
		"creds.json":     json.RawMessage(`{"me":"x"}`),
		"pre-key-1.json": json.RawMessage(`{"k":1}`),
	}))
	s.now = time.Now
	require.NoError(t, s.Persist(ctx, map[string]json.RawMessage{
		"session-abc.json": json.RawMessage(`{"s":true}`),
	}))

	state, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, state.Files, 3)
	assert.JSONEq(t, `{"k":1}`, string(state.Files["pre-key-1.json"]))

	n, err := s.CleanupOld(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	info, err := s.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, info.TotalFiles)

	require.NoError(t, s.Persist(ctx, map[string]json.RawMessage{"session-abc.json": json.RawMessage(`null`)}))
	state, err = s.Load(ctx)
	require.NoError(t, err)
	assert.NotContains(t, state.Files, "session-abc.json")
	assert.Contains(t, state.Files, store.CredsFile)
}

func TestPGBackupEmptyAndReset(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.Backup(ctx)
	assert.ErrorIs(t, err, store.ErrNoSession)

	require.NoError(t, s.Persist(ctx, map[string]json.RawMessage{"creds.json": json.RawMessage(`{}`)}))
	res, err := s.Backup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Files)
	t.Cleanup(func() {
		s.db.ExecContext(context.Background(), `DROP TABLE IF EXISTS "`+res.Location[len("postgres:"):]+`"`)
	})

	require.NoError(t, s.Reset(ctx))
	exists, err := s.Exists(ctx)
	require.NoError(t, err)
	assert.False(t, exists)
}
