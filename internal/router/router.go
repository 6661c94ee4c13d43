// Package router fans inbound events out to registered callbacks.
// Registrations are keyed by (topic, request id, group) where any
// field may be the wildcard "*", and callbacks fire in registration
// order across all matching keys.
package router

import (
	"encoding/json"
	"log/slog"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"
)

// Wildcard matches any value for a key field.
const Wildcard = "*"

// Key addresses a set of callbacks.
type Key struct {
	Topic     string
	RequestID string
	Group     string
}

// normalize treats empty fields as wildcards.
func (k Key) normalize() Key {
	if k.Topic == "" {
		k.Topic = Wildcard
	}
	if k.RequestID == "" {
		k.RequestID = Wildcard
	}
	if k.Group == "" {
		k.Group = Wildcard
	}
	return k
}

func (k Key) matches(ev Event) bool {
	return (k.Topic == Wildcard || k.Topic == ev.Topic) &&
		(k.RequestID == Wildcard || k.RequestID == ev.RequestID) &&
		(k.Group == Wildcard || k.Group == ev.Group)
}

// Event is one delivery.
type Event struct {
	Topic     string
	RequestID string
	Group     string
	Data      json.RawMessage
}

// Callback receives matched events. A panicking callback is isolated;
// delivery to the remaining callbacks continues.
type Callback func(ev Event)

type entry struct {
	seq uint64
	id  uintptr
	cb  Callback
}

// Router is safe for concurrent use.
type Router struct {
	log *slog.Logger

	mu    sync.RWMutex
	seq   uint64
	hooks map[Key][]*entry

	panics atomic.Int64
}

// New returns an empty router.
func New(log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{
		log:   log,
		hooks: make(map[Key][]*entry),
	}
}

// Subscribe registers cb under key. The same function may be
// registered under multiple keys; duplicate registration under one
// key is rejected.
func (r *Router) Subscribe(key Key, cb Callback) bool {
	key = key.normalize()
	id := reflect.ValueOf(cb).Pointer()

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.hooks[key] {
		if e.id == id {
			return false
		}
	}
	r.seq++
	r.hooks[key] = append(r.hooks[key], &entry{seq: r.seq, id: id, cb: cb})
	return true
}

// Unsubscribe removes cb from key, identified by function pointer.
// The key's slot is deleted once its last callback is removed.
func (r *Router) Unsubscribe(key Key, cb Callback) bool {
	key = key.normalize()
	id := reflect.ValueOf(cb).Pointer()

	r.mu.Lock()
	defer r.mu.Unlock()
	entries := r.hooks[key]
	for i, e := range entries {
		if e.id != id {
			continue
		}
		entries = append(entries[:i], entries[i+1:]...)
		if len(entries) == 0 {
			delete(r.hooks, key)
		} else {
			r.hooks[key] = entries
		}
		return true
	}
	return false
}

// RemoveCallback removes cb from every key it is registered under and
// returns the number of registrations removed.
func (r *Router) RemoveCallback(cb Callback) int {
	id := reflect.ValueOf(cb).Pointer()

	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for key, entries := range r.hooks {
		kept := entries[:0]
		for _, e := range entries {
			if e.id == id {
				removed++
				continue
			}
			kept = append(kept, e)
		}
		if len(kept) == 0 {
			delete(r.hooks, key)
		} else {
			r.hooks[key] = kept
		}
	}
	return removed
}

// Notify delivers ev to every callback whose key matches, in
// registration order. Returns the number of callbacks invoked.
func (r *Router) Notify(ev Event) int {
	r.mu.RLock()
	var matched []*entry
	for key, entries := range r.hooks {
		if key.matches(ev) {
			matched = append(matched, entries...)
		}
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].seq < matched[j].seq })

	for _, e := range matched {
		r.invoke(e, ev)
	}
	return len(matched)
}

func (r *Router) invoke(e *entry, ev Event) {
	defer func() {
		if rec := recover(); rec != nil {
			r.panics.Add(1)
			r.log.Error("event callback panicked",
				"topic", ev.Topic,
				"request_id", ev.RequestID,
				"group", ev.Group,
				"panic", rec)
		}
	}()
	e.cb(ev)
}

// Panics returns the count of recovered callback panics.
func (r *Router) Panics() int64 { return r.panics.Load() }

// Subscribers returns the number of registrations matching key,
// after wildcard normalization.
func (r *Router) Subscribers(key Key) int {
	key = key.normalize()
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.hooks[key])
}
