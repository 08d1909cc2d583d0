package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/nextlevelbuilder/wagate/internal/transport"
)

// CredsFile holds the long-lived identity keys. Cleanup never removes it.
const CredsFile = "creds.json"

// ErrNoSession is returned by Backup when there is nothing to copy.
var ErrNoSession = errors.New("store: no session found")

// SessionFile describes one persisted auth file.
type SessionFile struct {
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
	Type     string    `json:"type"`
}

// SessionInfo summarizes the persisted auth state.
type SessionInfo struct {
	Exists       bool          `json:"exists"`
	Location     string        `json:"path"`
	Files        []SessionFile `json:"files"`
	TotalFiles   int           `json:"totalFiles"`
	LastModified *time.Time    `json:"lastModified,omitempty"`
}

// BackupResult reports where a backup was written.
type BackupResult struct {
	Location string `json:"backupPath"`
	Files    int    `json:"filesBackedUp"`
}

// SessionStore persists the multi-file auth state of the WhatsApp session.
type SessionStore interface {
	// Load returns every persisted auth file. A missing session yields an empty state.
	Load(ctx context.Context) (transport.AuthState, error)
	// Persist applies a credential delta. A null or empty value deletes the file.
	Persist(ctx context.Context, delta map[string]json.RawMessage) error
	// Reset deletes all auth files.
	Reset(ctx context.Context) error
	Exists(ctx context.Context) (bool, error)
	Info(ctx context.Context) (*SessionInfo, error)
	Backup(ctx context.Context) (*BackupResult, error)
	// CleanupOld removes auth files older than maxAge, except CredsFile.
	CleanupOld(ctx context.Context, maxAge time.Duration) (int, error)
	Close() error
}

// FileType classifies an auth file by name.
func FileType(name string) string {
	switch {
	case strings.Contains(name, "creds"):
		return "credentials"
	case strings.Contains(name, "session"):
		return "session"
	case strings.Contains(name, "pre-key"):
		return "pre-key"
	case strings.Contains(name, "sender-key"):
		return "sender-key"
	case strings.Contains(name, "app-state"):
		return "app-state"
	default:
		return "unknown"
	}
}

// CountsAsSession reports whether name alone proves a usable session exists.
func CountsAsSession(name string) bool {
	if !strings.HasSuffix(name, ".json") {
		return false
	}
	return strings.Contains(name, "creds") || strings.Contains(name, "session") || strings.Contains(name, "pre-key")
}

// ValidateFileName rejects names that would escape the session location.
func ValidateFileName(name string) error {
	if name == "" || name == "." || name == ".." || filepath.Base(name) != name || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("store: invalid session file name %q", name)
	}
	return nil
}

// IsDelete reports whether a delta value means "remove this file".
func IsDelete(v json.RawMessage) bool {
	s := strings.TrimSpace(string(v))
	return s == "" || s == "null"
}

// BackupName builds the timestamped sibling name used for backups.
func BackupName(base string, now time.Time) string {
	return fmt.Sprintf("%s_backup_%d", base, now.UnixMilli())
}
