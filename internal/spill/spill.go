// Package spill provides durable overflow storage for the bounded session queues.
//
// When an in-memory queue fills up, its contents are spilled to a Store and
// replayed oldest-first once the queue drains. The store is throwaway state for
// an interactive client, not a message broker: Destroy on shutdown removes
// everything, including items never replayed.
package spill

import (
	"context"
	"errors"
)

// Direction names the queue an item belongs to. It is part of every item's
// identity so send and receive overflow never mix.
type Direction string

const (
	DirectionSend    Direction = "send"
	DirectionReceive Direction = "receive"
)

var (
	// ErrEmpty indicates no spilled items remain for the direction.
	ErrEmpty = errors.New("spill: empty")

	// ErrClosed indicates the store has been closed or destroyed.
	ErrClosed = errors.New("spill: store closed")
)

// Item is one spilled queue entry. ID is a backend-assigned handle that stays
// valid until Remove; replay reads the item, re-enqueues it, then removes it,
// so a crash in between leaves the item intact for the next run.
type Item struct {
	ID   string
	Data []byte
}

// Store is the durable overflow interface. All implementations must be
// safe for concurrent use.
type Store interface {
	// Put persists one item for the direction. Ordering across Put calls
	// must be preserved by Oldest.
	Put(ctx context.Context, dir Direction, data []byte) error

	// Oldest returns the oldest persisted item for the direction without
	// removing it. Returns ErrEmpty when none remain.
	Oldest(ctx context.Context, dir Direction) (*Item, error)

	// Remove deletes a previously returned item by its handle. Removing an
	// already-removed item is not an error.
	Remove(ctx context.Context, id string) error

	// Count reports how many items are persisted for the direction.
	Count(ctx context.Context, dir Direction) (int, error)

	// Destroy releases the store and deletes all persisted items.
	Destroy() error
}
