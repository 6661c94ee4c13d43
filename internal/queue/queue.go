// Package queue implements the bounded send/receive queues with overflow to a
// spill store.
//
// Capacity is fixed at construction and never exceeded in memory. When an
// enqueue finds the queue full, the entire in-memory contents are flushed to
// the spill store (oldest first, so store order extends queue order), the new
// item is persisted behind them, and the queue stops accepting direct writes.
// While not accepting, every enqueue goes straight to the store; Drain replays
// persisted items oldest-first into memory and re-enables direct acceptance
// once the store is empty. Global FIFO order therefore holds across the
// memory/disk boundary.
package queue

import (
	"container/list"
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nodewire/nodewire/internal/spill"
	"github.com/nodewire/nodewire/pkg/errors"
)

// Queue is one bounded FIFO direction (send or receive).
type Queue struct {
	direction spill.Direction
	capacity  int
	store     spill.Store
	log       *slog.Logger

	mu        sync.Mutex
	items     *list.List
	accepting bool

	spilled  int64
	replayed int64
}

// New creates a queue with the given fixed capacity.
func New(direction spill.Direction, capacity int, store spill.Store, log *slog.Logger) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &Queue{
		direction: direction,
		capacity:  capacity,
		store:     store,
		log:       log.With("queue", string(direction)),
		items:     list.New(),
		accepting: true,
	}
}

// Enqueue adds one item, spilling to the store on overflow. A store write
// failure is escalated as fatal: the host cannot support the operation.
func (q *Queue) Enqueue(ctx context.Context, data []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.accepting {
		return q.persistLocked(ctx, data)
	}

	if q.items.Len() < q.capacity {
		q.items.PushBack(data)
		return nil
	}

	// Full: move everything to the store in FIFO order, park the new item
	// behind it, and latch the queue shut until Drain catches up.
	for q.items.Len() > 0 {
		front := q.items.Front()
		if err := q.persistLocked(ctx, front.Value.([]byte)); err != nil {
			return err
		}
		q.items.Remove(front)
	}
	if err := q.persistLocked(ctx, data); err != nil {
		return err
	}
	q.accepting = false
	q.log.Debug("queue overflowed to spill store", "capacity", q.capacity)
	return nil
}

func (q *Queue) persistLocked(ctx context.Context, data []byte) error {
	if err := q.store.Put(ctx, q.direction, data); err != nil {
		return errors.Fatal(fmt.Errorf("spill %s item: %w", q.direction, err))
	}
	q.spilled++
	return nil
}

// Spill persists an item directly, bypassing the in-memory queue. Used by the
// send loop to park an item that failed with a retryable error.
func (q *Queue) Spill(ctx context.Context, data []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.persistLocked(ctx, data)
}

// Dequeue pops the head of the in-memory queue.
func (q *Queue) Dequeue() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	front := q.items.Front()
	if front == nil {
		return nil, false
	}
	q.items.Remove(front)
	return front.Value.([]byte), true
}

// Drain replays up to max persisted items (oldest first) into the in-memory
// queue and reports how many were loaded. Each item is removed from the store
// only after it has been re-enqueued, so a crash in between redelivers rather
// than loses. When the store is empty the queue resumes direct acceptance.
func (q *Queue) Drain(ctx context.Context, max int) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	loaded := 0
	for loaded < max && q.items.Len() < q.capacity {
		item, err := q.store.Oldest(ctx, q.direction)
		if err == spill.ErrEmpty {
			break
		}
		if err != nil {
			return loaded, fmt.Errorf("drain %s queue: %w", q.direction, err)
		}

		q.items.PushBack(item.Data)
		q.replayed++
		if err := q.store.Remove(ctx, item.ID); err != nil {
			q.log.Warn("failed to remove replayed spill item", "id", item.ID, "error", err)
		}
		loaded++
	}

	if !q.accepting {
		n, err := q.store.Count(ctx, q.direction)
		if err == nil && n == 0 {
			q.accepting = true
			q.log.Debug("queue resumed direct acceptance", "replayed", q.replayed)
		}
	}
	return loaded, nil
}

// Len reports the current in-memory depth.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// Cap reports the fixed capacity.
func (q *Queue) Cap() int { return q.capacity }

// Accepting reports whether enqueues currently land in memory.
func (q *Queue) Accepting() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.accepting
}

// Spilled reports how many items have been persisted to the store.
func (q *Queue) Spilled() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.spilled
}
