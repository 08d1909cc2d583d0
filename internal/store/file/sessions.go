package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/wagate/internal/store"
	"github.com/nextlevelbuilder/wagate/internal/transport"
)

// FileSessionStore keeps the auth state as one JSON file per key inside a
// directory, the same layout the bridge's multi-file auth state uses.
type FileSessionStore struct {
	dir string
	mu  sync.Mutex
	now func() time.Time
}

func NewFileSessionStore(dir string) *FileSessionStore {
	return &FileSessionStore{dir: dir, now: time.Now}
}

// Dir returns the session directory.
func (f *FileSessionStore) Dir() string { return f.dir }

func (f *FileSessionStore) Load(_ context.Context) (transport.AuthState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	state := transport.AuthState{Files: map[string]json.RawMessage{}}
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return state, nil
		}
		return state, fmt.Errorf("read session dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(f.dir, e.Name()))
		if err != nil {
			return state, fmt.Errorf("read session file %s: %w", e.Name(), err)
		}
		if !json.Valid(data) {
			slog.Warn("skipping corrupt session file", "file", e.Name())
			continue
		}
		state.Files[e.Name()] = data
	}
	return state, nil
}

func (f *FileSessionStore) Persist(_ context.Context, delta map[string]json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(f.dir, 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	for name, data := range delta {
		if err := store.ValidateFileName(name); err != nil {
			return err
		}
		path := filepath.Join(f.dir, name)
		if store.IsDelete(data) {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("remove session file %s: %w", name, err)
			}
			continue
		}
		if err := writeFileAtomic(path, data); err != nil {
			return fmt.Errorf("write session file %s: %w", name, err)
		}
	}
	return nil
}

func (f *FileSessionStore) Reset(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	slog.Warn("resetting whatsapp session files", "dir", f.dir)
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read session dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(f.dir, e.Name())); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove session file %s: %w", e.Name(), err)
		}
		slog.Debug("deleted session file", "file", e.Name())
	}
	return nil
}

func (f *FileSessionStore) Exists(_ context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := os.ReadDir(f.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read session dir: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() && store.CountsAsSession(e.Name()) {
			return true, nil
		}
	}
	return false, nil
}

func (f *FileSessionStore) Info(_ context.Context) (*store.SessionInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	info := &store.SessionInfo{Location: f.dir, Files: []store.SessionFile{}}
	files, err := f.listJSON()
	if err != nil {
		return info, err
	}
	for _, sf := range files {
		if info.LastModified == nil || sf.Modified.After(*info.LastModified) {
			m := sf.Modified
			info.LastModified = &m
		}
	}
	info.Files = files
	info.TotalFiles = len(files)
	info.Exists = len(files) > 0
	return info, nil
}

func (f *FileSessionStore) Backup(_ context.Context) (*store.BackupResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	files, err := f.listJSON()
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, store.ErrNoSession
	}

	dst := store.BackupName(filepath.Clean(f.dir), f.now())
	if err := os.MkdirAll(dst, 0o700); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}
	for _, sf := range files {
		if err := copyFile(filepath.Join(f.dir, sf.Name), filepath.Join(dst, sf.Name)); err != nil {
			return nil, fmt.Errorf("backup %s: %w", sf.Name, err)
		}
	}
	slog.Info("session backup created", "path", dst, "files", len(files))
	return &store.BackupResult{Location: dst, Files: len(files)}, nil
}

func (f *FileSessionStore) CleanupOld(_ context.Context, maxAge time.Duration) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	files, err := f.listJSON()
	if err != nil {
		return 0, err
	}
	cutoff := f.now().Add(-maxAge)
	cleaned := 0
	for _, sf := range files {
		if sf.Name == store.CredsFile || !sf.Modified.Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(f.dir, sf.Name)); err != nil && !os.IsNotExist(err) {
			return cleaned, fmt.Errorf("remove session file %s: %w", sf.Name, err)
		}
		slog.Debug("cleaned up old session file", "file", sf.Name)
		cleaned++
	}
	if cleaned > 0 {
		slog.Info("cleaned up old session files", "count", cleaned)
	}
	return cleaned, nil
}

func (f *FileSessionStore) Close() error { return nil }

// listJSON returns the .json files in the session dir sorted by name.
// Caller holds f.mu.
func (f *FileSessionStore) listJSON() ([]store.SessionFile, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read session dir: %w", err)
	}
	var files []store.SessionFile
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("stat session file %s: %w", e.Name(), err)
		}
		files = append(files, store.SessionFile{
			Name:     e.Name(),
			Size:     fi.Size(),
			Modified: fi.ModTime(),
			Type:     store.FileType(e.Name()),
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
