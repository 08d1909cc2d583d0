// Package sqlite stores the WhatsApp auth state in a single SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/wagate/internal/store"
	"github.com/nextlevelbuilder/wagate/internal/transport"
)

const schema = `
CREATE TABLE IF NOT EXISTS session_files (
	name       TEXT PRIMARY KEY,
	data       BLOB NOT NULL,
	updated_at INTEGER NOT NULL
)`

// SQLiteSessionStore keeps each auth file as a row keyed by file name.
type SQLiteSessionStore struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// Open creates or opens the database at path and ensures the schema.
func Open(ctx context.Context, path string) (*SQLiteSessionStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create session schema: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil && !errors.Is(err, os.ErrNotExist) {
		db.Close()
		return nil, fmt.Errorf("chmod db path: %w", err)
	}
	return &SQLiteSessionStore{db: db, path: path, now: time.Now}, nil
}

func (s *SQLiteSessionStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteSessionStore) Load(ctx context.Context) (transport.AuthState, error) {
	state := transport.AuthState{Files: map[string]json.RawMessage{}}
	rows, err := s.db.QueryContext(ctx, `SELECT name, data FROM session_files`)
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

func (s *SQLiteSessionStore) Persist(ctx context.Context, delta map[string]json.RawMessage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin persist: %w", err)
	}
	defer tx.Rollback()

	now := s.now().UnixMilli()
	for name, data := range delta {
		if err := store.ValidateFileName(name); err != nil {
			return err
		}
		if store.IsDelete(data) {
			if _, err := tx.ExecContext(ctx, `DELETE FROM session_files WHERE name = ?`, name); err != nil {
				return fmt.Errorf("delete session file %s: %w", name, err)
			}
			continue
		}
		_, err := tx.ExecContext(ctx, `
INSERT INTO session_files(name, data, updated_at) VALUES (?, ?, ?)
ON CONFLICT(name) DO UPDATE SET data=excluded.data, updated_at=excluded.updated_at`,
			name, []byte(data), now)
		if err != nil {
			return fmt.Errorf("upsert session file %s: %w", name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit persist: %w", err)
	}
	return nil
}

func (s *SQLiteSessionStore) Reset(ctx context.Context) error {
	slog.Warn("resetting whatsapp session rows", "db", s.path)
	if _, err := s.db.ExecContext(ctx, `DELETE FROM session_files`); err != nil {
		return fmt.Errorf("reset session: %w", err)
	}
	return nil
}

func (s *SQLiteSessionStore) Exists(ctx context.Context) (bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM session_files`)
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

func (s *SQLiteSessionStore) Info(ctx context.Context) (*store.SessionInfo, error) {
	info := &store.SessionInfo{Location: s.path, Files: []store.SessionFile{}}
	rows, err := s.db.QueryContext(ctx, `SELECT name, length(data), updated_at FROM session_files ORDER BY name`)
	if err != nil {
		return info, fmt.Errorf("query session files: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			name    string
			size    int64
			updated int64
		)
		if err := rows.Scan(&name, &size, &updated); err != nil {
			return info, fmt.Errorf("scan session file: %w", err)
		}
		mod := time.UnixMilli(updated)
		info.Files = append(info.Files, store.SessionFile{Name: name, Size: size, Modified: mod, Type: store.FileType(name)})
		if info.LastModified == nil || mod.After(*info.LastModified) {
			info.LastModified = &mod
		}
	}
	if err := rows.Err(); err != nil {
		return info, err
	}
	info.TotalFiles = len(info.Files)
	info.Exists = info.TotalFiles > 0
	return info, nil
}

// Backup writes a consistent copy of the database next to the original.
func (s *SQLiteSessionStore) Backup(ctx context.Context) (*store.BackupResult, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM session_files`).Scan(&n); err != nil {
		return nil, fmt.Errorf("count session files: %w", err)
	}
	if n == 0 {
		return nil, store.ErrNoSession
	}
	dst := store.BackupName(strings.TrimSuffix(s.path, filepath.Ext(s.path)), s.now()) + ".db"
	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, dst); err != nil {
		return nil, fmt.Errorf("vacuum into %s: %w", dst, err)
	}
	slog.Info("session backup created", "path", dst, "files", n)
	return &store.BackupResult{Location: dst, Files: n}, nil
}

func (s *SQLiteSessionStore) CleanupOld(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := s.now().Add(-maxAge).UnixMilli()
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM session_files WHERE updated_at < ? AND name <> ?`, cutoff, store.CredsFile)
	if err != nil {
		return 0, fmt.Errorf("cleanup session files: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		slog.Info("cleaned up old session rows", "count", n)
	}
	return int(n), nil
}
