// Package memory provides an in-memory spill backend for tests.
package memory

import (
	"context"
	"strconv"
	"sync"

	"github.com/nodewire/nodewire/internal/spill"
)

func init() {
	spill.Register("memory", func(_ context.Context, _ map[string]string) (spill.Store, error) {
		return New(), nil
	}, nil)
}

// Store keeps spilled items in insertion order per direction.
type Store struct {
	mu     sync.Mutex
	seq    int64
	items  map[spill.Direction][]entry
	closed bool
}

type entry struct {
	id   string
	data []byte
}

func New() *Store {
	return &Store{items: make(map[spill.Direction][]entry)}
}

func (s *Store) Put(_ context.Context, dir spill.Direction, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return spill.ErrClosed
	}
	s.seq++
	cp := make([]byte, len(data))
	copy(cp, data)
	s.items[dir] = append(s.items[dir], entry{
		id:   string(dir) + "/" + strconv.FormatInt(s.seq, 10),
		data: cp,
	})
	return nil
}

func (s *Store) Oldest(_ context.Context, dir spill.Direction) (*spill.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, spill.ErrClosed
	}
	list := s.items[dir]
	if len(list) == 0 {
		return nil, spill.ErrEmpty
	}
	return &spill.Item{ID: list[0].id, Data: list[0].data}, nil
}

func (s *Store) Remove(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return spill.ErrClosed
	}
	for dir, list := range s.items {
		for i, e := range list {
			if e.id == id {
				s.items[dir] = append(list[:i], list[i+1:]...)
				return nil
			}
		}
	}
	return nil
}

func (s *Store) Count(_ context.Context, dir spill.Direction) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, spill.ErrClosed
	}
	return len(s.items[dir]), nil
}

func (s *Store) Destroy() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.items = make(map[spill.Direction][]entry)
	return nil
}
