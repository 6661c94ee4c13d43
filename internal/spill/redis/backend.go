// Package redis provides a Redis-backed spill backend. Each item is stored
// under its own key with a sorted-set index per direction preserving insertion
// order. Intended for setups where the session host has no writable disk but a
// local Redis is available.
package redis

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nodewire/nodewire/internal/spill"
	"github.com/nodewire/nodewire/internal/storage"
)

const (
	KeyAddr      = "addr"
	KeyPassword  = "password"
	KeyDB        = "db"
	KeyNamespace = "namespace"
	KeyTimeout   = "timeout"
)

func init() {
	spill.Register("redis", NewFactory, Defaults)
}

// Defaults returns the default configuration for the Redis backend.
func Defaults() map[string]string {
	return map[string]string{
		KeyAddr:      "localhost:6379",
		KeyNamespace: "nodewire:spill",
		KeyTimeout:   "5s",
	}
}

// NewFactory creates a Redis backend from a configuration map.
func NewFactory(ctx context.Context, config map[string]string) (spill.Store, error) {
	addr := storage.GetString(config, KeyAddr, "")
	if addr == "" {
		return nil, storage.NewConfigError("redis", KeyAddr, "cannot be empty")
	}

	db, err := storage.GetInt(config, KeyDB, 0)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("redis", KeyDB, config[KeyDB], err.Error())
	}

	timeout, err := storage.GetDuration(config, KeyTimeout, 5*time.Second)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("redis", KeyTimeout, config[KeyTimeout], err.Error())
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     storage.GetString(config, KeyPassword, ""),
		DB:           db,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, storage.NewConfigErrorWithCause("redis", KeyAddr, "failed to connect", err)
	}

	return &Store{
		client:    client,
		namespace: storage.GetString(config, KeyNamespace, "nodewire:spill"),
	}, nil
}

// Store is a Redis implementation of spill.Store.
type Store struct {
	client    *redis.Client
	namespace string
	seq       atomic.Int64
	closed    atomic.Bool
}

func (s *Store) indexKey(dir spill.Direction) string {
	return fmt.Sprintf("%s:index:%s", s.namespace, dir)
}

func (s *Store) itemKey(dir spill.Direction, seq int64, nanos int64) string {
	return fmt.Sprintf("%s:item:%s:%d:%d", s.namespace, dir, nanos, seq)
}

func (s *Store) Put(ctx context.Context, dir spill.Direction, data []byte) error {
	if s.closed.Load() {
		return spill.ErrClosed
	}

	nanos := time.Now().UnixNano()
	seq := s.seq.Add(1)
	id := s.itemKey(dir, seq, nanos)
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, id, data, 0)
	pipe.ZAdd(ctx, s.indexKey(dir), redis.Z{Score: float64(nanos), Member: id})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis put: %w", err)
	}
	return nil
}

func (s *Store) Oldest(ctx context.Context, dir spill.Direction) (*spill.Item, error) {
	if s.closed.Load() {
		return nil, spill.ErrClosed
	}

	ids, err := s.client.ZRange(ctx, s.indexKey(dir), 0, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("redis oldest: %w", err)
	}
	if len(ids) == 0 {
		return nil, spill.ErrEmpty
	}

	data, err := s.client.Get(ctx, ids[0]).Bytes()
	if err == redis.Nil {
		// Index entry without payload, drop it and report empty for this pass.
		_ = s.client.ZRem(ctx, s.indexKey(dir), ids[0]).Err()
		return nil, spill.ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("redis oldest: %w", err)
	}
	return &spill.Item{ID: ids[0], Data: data}, nil
}

func (s *Store) Remove(ctx context.Context, id string) error {
	if s.closed.Load() {
		return spill.ErrClosed
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, id)
	for _, dir := range []spill.Direction{spill.DirectionSend, spill.DirectionReceive} {
		pipe.ZRem(ctx, s.indexKey(dir), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis remove: %w", err)
	}
	return nil
}

func (s *Store) Count(ctx context.Context, dir spill.Direction) (int, error) {
	if s.closed.Load() {
		return 0, spill.ErrClosed
	}
	n, err := s.client.ZCard(ctx, s.indexKey(dir)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis count: %w", err)
	}
	return int(n), nil
}

// Destroy deletes all spilled keys in the namespace and closes the client.
func (s *Store) Destroy() error {
	if s.closed.Swap(true) {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, dir := range []spill.Direction{spill.DirectionSend, spill.DirectionReceive} {
		key := s.indexKey(dir)
		ids, err := s.client.ZRange(ctx, key, 0, -1).Result()
		if err == nil && len(ids) > 0 {
			_ = s.client.Del(ctx, ids...).Err()
		}
		_ = s.client.Del(ctx, key).Err()
	}

	if err := s.client.Close(); err != nil {
		return fmt.Errorf("redis destroy: %w", err)
	}
	return nil
}
