// Package pg stores the WhatsApp auth state in Postgres, for deployments
// that run several replicas against one database.
package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/nextlevelbuilder/wagate/internal/store"
	"github.com/nextlevelbuilder/wagate/internal/transport"
)

const schema = `
CREATE TABLE IF NOT EXISTS wa_session_files (
	name       TEXT PRIMARY KEY,
	data       JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PGSessionStore keeps each auth file as a JSONB row keyed by file name.
type PGSessionStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenDB connects with the pgx stdlib driver and verifies the connection.
func OpenDB(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Open connects to dsn and ensures the schema.
func Open(ctx context.Context, dsn string) (*PGSessionStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres session store: WAGATE_POSTGRES_DSN is not set")
	}
	db, err := OpenDB(ctx, dsn)
	if err != nil {
		return nil, err
	}
	s, err := NewPGSessionStore(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewPGSessionStore wraps an open database and creates the table if missing.
func NewPGSessionStore(ctx context.Context, db *sql.DB) (*PGSessionStore, error) {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("create session schema: %w", err)
	}
	return &PGSessionStore{db: db, now: time.Now}, nil
}

func (s *PGSessionStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *PGSessionStore) Load(ctx context.Context) (transport.AuthState, error) {
	state := transport.AuthState{Files: map[string]json.RawMessage{}}
	rows, err := s.db.QueryContext(ctx, `SELECT name, data FROM wa_session_files`)
	if err != nil {
		return state, fmt.Errorf("query session files: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		var data []byte
		if err := rows.Scan(&name, &data); err != nil {
			return state, fmt.Errorf("scan session file: %w", err)
		}
		state.Files[name] = json.RawMessage(data)
	}
	return state, rows.Err()
}

func (s *PGSessionStore) Persist(ctx context.Context, delta map[string]json.RawMessage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin persist: %w", err)
	}
	defer tx.Rollback()

	now := s.now()
	for name, data := range delta {
		if err := store.ValidateFileName(name); err != nil {
			return err
		}
		if store.IsDelete(data) {
			if _, err := tx.ExecContext(ctx, `DELETE FROM wa_session_files WHERE name = $1`, name); err != nil {
				return fmt.Errorf("delete session file %s: %w", name, err)
			}
			continue
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO wa_session_files (name, data, updated_at) VALUES ($1, $2, $3)
			 ON CONFLICT (name) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`,
			name, string(data), now)
		if err != nil {
			return fmt.Errorf("upsert session file %s: %w", name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit persist: %w", err)
	}
	return nil
}

func (s *PGSessionStore) Reset(ctx context.Context) error {
	slog.Warn("resetting whatsapp session rows", "table", "wa_session_files")
	if _, err := s.db.ExecContext(ctx, `DELETE FROM wa_session_files`); err != nil {
		return fmt.Errorf("reset session: %w", err)
	}
	return nil
}

func (s *PGSessionStore) Exists(ctx context.Context) (bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM wa_session_files`)
	if err != nil {
		return false, fmt.Errorf("query session files: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return false, fmt.Errorf("scan session file: %w", err)
		}
		if store.CountsAsSession(name) {
			return true, nil
		}
	}
	return false, rows.Err()
}

func (s *PGSessionStore) Info(ctx context.Context) (*store.SessionInfo, error) {
	info := &store.SessionInfo{Location: "postgres:wa_session_files", Files: []store.SessionFile{}}
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, octet_length(data::text), updated_at FROM wa_session_files ORDER BY name`)
	if err != nil {
		return info, fmt.Errorf("query session files: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			name string
			size int64
			mod  time.Time
		)
		if err := rows.Scan(&name, &size, &mod); err != nil {
			return info, fmt.Errorf("scan session file: %w", err)
		}
		info.Files = append(info.Files, store.SessionFile{Name: name, Size: size, Modified: mod, Type: store.FileType(name)})
		if info.LastModified == nil || mod.After(*info.LastModified) {
			m := mod
			info.LastModified = &m
		}
	}
	if err := rows.Err(); err != nil {
		return info, err
	}
	info.TotalFiles = len(info.Files)
	info.Exists = info.TotalFiles > 0
	return info, nil
}

// backupTable names the snapshot table for a backup taken at now.
func backupTable(now time.Time) string {
	return store.BackupName("wa_session_files", now)
}

// Backup copies every row into a new timestamped table.
func (s *PGSessionStore) Backup(ctx context.Context) (*store.BackupResult, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM wa_session_files`).Scan(&n); err != nil {
		return nil, fmt.Errorf("count session files: %w", err)
	}
	if n == 0 {
		return nil, store.ErrNoSession
	}
	table := backupTable(s.now())
	// The name is generated from a fixed prefix and a millisecond stamp.
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE %q AS TABLE wa_session_files`, table)); err != nil {
		return nil, fmt.Errorf("create backup table %s: %w", table, err)
	}
	slog.Info("session backup created", "table", table, "files", n)
	return &store.BackupResult{Location: "postgres:" + table, Files: n}, nil
}

func (s *PGSessionStore) CleanupOld(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := s.now().Add(-maxAge)
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM wa_session_files WHERE updated_at < $1 AND name <> $2`, cutoff, store.CredsFile)
	if err != nil {
		return 0, fmt.Errorf("cleanup session files: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		slog.Info("cleaned up old session rows", "count", n)
	}
	return int(n), nil
}
