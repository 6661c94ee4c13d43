// Package badger provides a BadgerDB-backed spill backend. Items are keyed by
// direction and a persisted sequence, so replay order survives process
// restarts without relying on filesystem mtimes.
package badger

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"

	"github.com/nodewire/nodewire/internal/spill"
	"github.com/nodewire/nodewire/internal/storage"
)

const keyPrefix = "spill/"

const (
	KeyPath       = "path"
	KeySyncWrites = "sync_writes"
	KeyInMemory   = "in_memory"
)

func init() {
	spill.Register("badger", NewFactory, Defaults)
}

// Defaults returns the default configuration for the BadgerDB backend.
func Defaults() map[string]string {
	return map[string]string{
		KeyPath:       "~/.nodewire/spill",
		KeySyncWrites: "true",
		KeyInMemory:   "false",
	}
}

// NewFactory creates a BadgerDB backend from a configuration map.
func NewFactory(_ context.Context, config map[string]string) (spill.Store, error) {
	inMemory, err := storage.GetBool(config, KeyInMemory, false)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("badger", KeyInMemory, config[KeyInMemory], err.Error())
	}

	syncWrites, err := storage.GetBool(config, KeySyncWrites, true)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("badger", KeySyncWrites, config[KeySyncWrites], err.Error())
	}

	var opts badger.Options
	path := ""
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		path = storage.GetString(config, KeyPath, "")
		if path == "" {
			return nil, storage.NewConfigError("badger", KeyPath, "cannot be empty")
		}
		path = storage.ExpandPath(path)
		if err := os.MkdirAll(path, 0o700); err != nil {
			return nil, storage.NewConfigErrorWithCause("badger", KeyPath, "failed to create directory", err)
		}
		opts = badger.DefaultOptions(path)
		opts.SyncWrites = syncWrites
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, storage.NewConfigErrorWithCause("badger", KeyPath, "failed to open database", err)
	}

	s := &Store{db: db, path: path}
	if err := s.restoreSeq(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Store is a BadgerDB implementation of spill.Store.
type Store struct {
	db     *badger.DB
	path   string
	seq    atomic.Int64
	closed atomic.Bool
}

func itemKey(dir spill.Direction, seq int64) []byte {
	return fmt.Appendf(nil, "%s%s/%020d", keyPrefix, dir, seq)
}

// restoreSeq resumes the sequence past any keys left by a previous run.
func (s *Store) restoreSeq() error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		var max int64
		for it.Seek([]byte(keyPrefix)); it.ValidForPrefix([]byte(keyPrefix)); it.Next() {
			key := string(it.Item().Key())
			idx := strings.LastIndexByte(key, '/')
			if idx < 0 {
				continue
			}
			var seq int64
			if _, err := fmt.Sscanf(key[idx+1:], "%d", &seq); err == nil && seq > max {
				max = seq
			}
		}
		s.seq.Store(max)
		return nil
	})
}

func (s *Store) Put(_ context.Context, dir spill.Direction, data []byte) error {
	if s.closed.Load() {
		return spill.ErrClosed
	}
	key := itemKey(dir, s.seq.Add(1))
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
	if err != nil {
		return fmt.Errorf("badger put: %w", err)
	}
	return nil
}

func (s *Store) Oldest(_ context.Context, dir spill.Direction) (*spill.Item, error) {
	if s.closed.Load() {
		return nil, spill.ErrClosed
	}

	prefix := []byte(keyPrefix + string(dir) + "/")
	var item *spill.Item
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		it.Seek(prefix)
		if !it.ValidForPrefix(prefix) {
			return spill.ErrEmpty
		}
		data, err := it.Item().ValueCopy(nil)
		if err != nil {
			return err
		}
		item = &spill.Item{ID: string(it.Item().KeyCopy(nil)), Data: data}
		return nil
	})
	if err != nil {
		if err == spill.ErrEmpty {
			return nil, spill.ErrEmpty
		}
		return nil, fmt.Errorf("badger oldest: %w", err)
	}
	return item, nil
}

func (s *Store) Remove(_ context.Context, id string) error {
	if s.closed.Load() {
		return spill.ErrClosed
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(id))
	})
	if err != nil {
		return fmt.Errorf("badger remove: %w", err)
	}
	return nil
}

func (s *Store) Count(_ context.Context, dir spill.Direction) (int, error) {
	if s.closed.Load() {
		return 0, spill.ErrClosed
	}

	prefix := []byte(keyPrefix + string(dir) + "/")
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("badger count: %w", err)
	}
	return count, nil
}

// Destroy drops all spilled data, closes the database and removes its files.
func (s *Store) Destroy() error {
	if s.closed.Swap(true) {
		return nil
	}
	dropErr := s.db.DropAll()
	closeErr := s.db.Close()
	if dropErr != nil {
		return fmt.Errorf("badger destroy: %w", dropErr)
	}
	if closeErr != nil {
		return fmt.Errorf("badger destroy: %w", closeErr)
	}
	if s.path != "" {
		if err := os.RemoveAll(s.path); err != nil {
			return fmt.Errorf("badger destroy: %w", err)
		}
	}
	return nil
}
