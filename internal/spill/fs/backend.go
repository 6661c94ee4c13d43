// Package fs provides the filesystem spill backend: one JSON file per queued
// item under a process-scoped directory, replayed in modification-time order
// and deleted only after successful replay. This is the default backend and
// the only one whose on-disk layout is part of the external contract.
package fs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nodewire/nodewire/internal/spill"
	"github.com/nodewire/nodewire/internal/storage"
)

const (
	KeyPath            = "path"
	KeyFilePermissions = "file_permissions"
)

func init() {
	spill.Register("fs", NewFactory, Defaults)
}

// Defaults returns the default configuration for the filesystem backend.
// An empty path means a fresh per-process temporary directory.
func Defaults() map[string]string {
	return map[string]string{
		KeyPath:            "",
		KeyFilePermissions: "0600",
	}
}

// NewFactory creates a filesystem backend from a configuration map.
func NewFactory(_ context.Context, config map[string]string) (spill.Store, error) {
	path := storage.GetString(config, KeyPath, "")
	if path == "" {
		dir, err := os.MkdirTemp("", "nodewire-spill-")
		if err != nil {
			return nil, storage.NewConfigErrorWithCause("fs", KeyPath, "failed to create temp directory", err)
		}
		path = dir
	} else {
		path = storage.ExpandPath(path)
		if err := os.MkdirAll(path, 0o700); err != nil {
			return nil, storage.NewConfigErrorWithCause("fs", KeyPath, "failed to create directory", err)
		}
	}

	perms, err := parseFileMode(config[KeyFilePermissions], 0o600)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("fs", KeyFilePermissions, config[KeyFilePermissions], "must be an octal permission string (e.g. 0600)")
	}

	return &Store{root: path, filePerms: perms}, nil
}

func parseFileMode(s string, defaultMode os.FileMode) (os.FileMode, error) {
	if s == "" {
		return defaultMode, nil
	}
	v, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return 0, err
	}
	return os.FileMode(v), nil
}

// Store is a filesystem implementation of spill.Store.
type Store struct {
	root      string
	filePerms os.FileMode
	closed    atomic.Bool

	// lastStamp keeps filenames strictly monotonic even when two Puts land
	// in the same nanosecond.
	mu        sync.Mutex
	lastStamp int64
}

// Root returns the backing directory.
func (s *Store) Root() string { return s.root }

func (s *Store) nextStamp() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	stamp := time.Now().UnixNano()
	if stamp <= s.lastStamp {
		stamp = s.lastStamp + 1
	}
	s.lastStamp = stamp
	return stamp
}

// Put writes one item as <direction>_<timestamp>.json via temp-file rename.
func (s *Store) Put(_ context.Context, dir spill.Direction, data []byte) error {
	if s.closed.Load() {
		return spill.ErrClosed
	}

	name := fmt.Sprintf("%s_%d.json", dir, s.nextStamp())
	path := filepath.Join(s.root, name)

	tmp, err := os.CreateTemp(s.root, ".tmp-*")
	if err != nil {
		return fmt.Errorf("fs put: %w", err)
	}
	tmpName := tmp.Name()

	_, writeErr := tmp.Write(data)
	closeErr := tmp.Close()
	if writeErr != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("fs put: %w", writeErr)
	}
	if closeErr != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("fs put: %w", closeErr)
	}

	if err := os.Chmod(tmpName, s.filePerms); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("fs put: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("fs put: %w", err)
	}
	return nil
}

type fileEntry struct {
	path    string
	modTime time.Time
}

func (s *Store) list(dir spill.Direction) ([]fileEntry, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("fs list: %w", err)
	}

	prefix := string(dir) + "_"
	files := make([]fileEntry, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, fileEntry{path: filepath.Join(s.root, name), modTime: info.ModTime()})
	}

	// Modification time first, filename (timestamp-derived) as tie-break.
	sort.Slice(files, func(i, j int) bool {
		if files[i].modTime.Equal(files[j].modTime) {
			return files[i].path < files[j].path
		}
		return files[i].modTime.Before(files[j].modTime)
	})
	return files, nil
}

// Oldest returns the oldest spilled file for the direction.
func (s *Store) Oldest(_ context.Context, dir spill.Direction) (*spill.Item, error) {
	if s.closed.Load() {
		return nil, spill.ErrClosed
	}

	files, err := s.list(dir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, spill.ErrEmpty
	}

	data, err := os.ReadFile(files[0].path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, spill.ErrEmpty
		}
		return nil, fmt.Errorf("fs oldest: %w", err)
	}
	return &spill.Item{ID: files[0].path, Data: data}, nil
}

// Remove deletes a spilled file by path.
func (s *Store) Remove(_ context.Context, id string) error {
	if s.closed.Load() {
		return spill.ErrClosed
	}
	if err := os.Remove(id); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("fs remove: %w", err)
	}
	return nil
}

// Count reports the number of spilled files for the direction.
func (s *Store) Count(_ context.Context, dir spill.Direction) (int, error) {
	if s.closed.Load() {
		return 0, spill.ErrClosed
	}
	files, err := s.list(dir)
	if err != nil {
		return 0, err
	}
	return len(files), nil
}

// Destroy removes the entire spill directory. Undelivered overflow is
// intentionally discarded.
func (s *Store) Destroy() error {
	if s.closed.Swap(true) {
		return nil
	}
	if err := os.RemoveAll(s.root); err != nil {
		return fmt.Errorf("fs destroy: %w", err)
	}
	return nil
}
