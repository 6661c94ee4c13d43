// Package correlator matches JSON-RPC responses and subscription
// updates to the requests that produced them. Every outbound request
// carries an id issued here; the correlator holds one waiter per id
// and resolves it at most once when the response arrives.
package correlator

import (
	"encoding/json"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/nodewire/nodewire/pkg/jsonrpc"
)

// Result is the terminal outcome of a correlated request. Exactly one
// of Msg and Err is set.
type Result struct {
	Msg *jsonrpc.Message
	Err error
}

// UpdateHandler receives pushed subscription updates after the
// originating request has been promoted to an active subscription.
type UpdateHandler func(id jsonrpc.SubscriptionID, result json.RawMessage)

type pending struct {
	ch chan Result
	// set when the request opens a subscription; on resolution the
	// response result becomes the subscription handle and updates are
	// routed to this handler.
	onUpdate UpdateHandler
}

// Correlator is safe for concurrent use.
type Correlator struct {
	log *slog.Logger
	ids atomic.Int64

	mu      sync.Mutex
	pending map[int64]*pending
	subs    map[jsonrpc.SubscriptionID]UpdateHandler

	dropped atomic.Int64
}

// New returns an empty correlator.
func New(log *slog.Logger) *Correlator {
	if log == nil {
		log = slog.Default()
	}
	return &Correlator{
		log:     log,
		pending: make(map[int64]*pending),
		subs:    make(map[jsonrpc.SubscriptionID]UpdateHandler),
	}
}

// NextID issues a unique positive request id, wrapping around well
// before overflow.
func (c *Correlator) NextID() int64 {
	for {
		id := c.ids.Add(1)
		if id < math.MaxInt32 {
			return id
		}
		c.ids.CompareAndSwap(id, 0)
	}
}

// Register opens a waiter for id. The returned channel receives
// exactly one Result. Registering an id that is already in flight
// returns false.
func (c *Correlator) Register(id int64) (<-chan Result, bool) {
	return c.register(id, nil)
}

// RegisterSubscription opens a waiter for a subscription-opening
// request. When the response arrives its result is taken as the
// subscription handle and subsequent updates for that handle are
// delivered to h.
func (c *Correlator) RegisterSubscription(id int64, h UpdateHandler) (<-chan Result, bool) {
	return c.register(id, h)
}

func (c *Correlator) register(id int64, h UpdateHandler) (<-chan Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.pending[id]; exists {
		return nil, false
	}
	p := &pending{ch: make(chan Result, 1), onUpdate: h}
	c.pending[id] = p
	return p.ch, true
}

// Discard drops the waiter for id without resolving it. Used when a
// request could not be transmitted.
func (c *Correlator) Discard(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// OnMessage routes one parsed inbound message. It reports whether the
// message was consumed here; messages that are neither responses nor
// subscription updates are left for the caller to route.
func (c *Correlator) OnMessage(msg *jsonrpc.Message) bool {
	if msg.IsResponse() {
		c.resolve(msg)
		return true
	}
	if update, ok := msg.SubscriptionUpdate(); ok {
		c.deliver(update)
		return true
	}
	return false
}

func (c *Correlator) resolve(msg *jsonrpc.Message) {
	id := *msg.ID

	c.mu.Lock()
	p, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if !ok {
		c.dropped.Add(1)
		c.log.Warn("response for unknown request id, dropping", "id", id)
		return
	}

	if msg.Error != nil {
		p.ch <- Result{Err: msg.Error}
		return
	}

	if p.onUpdate != nil {
		handle, err := msg.SubscriptionHandle()
		if err != nil {
			p.ch <- Result{Err: err}
			return
		}
		c.mu.Lock()
		c.subs[handle] = p.onUpdate
		c.mu.Unlock()
	}
	p.ch <- Result{Msg: msg}
}

func (c *Correlator) deliver(update *jsonrpc.SubscriptionParams) {
	c.mu.Lock()
	h, ok := c.subs[update.Subscription]
	c.mu.Unlock()
	if !ok {
		c.dropped.Add(1)
		c.log.Warn("update for unknown subscription, dropping", "subscription", update.Subscription)
		return
	}
	h(update.Subscription, update.Result)
}

// Unsubscribe removes the update handler for a subscription handle.
// Reports whether the handle was active.
func (c *Correlator) Unsubscribe(handle jsonrpc.SubscriptionID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subs[handle]; !ok {
		return false
	}
	delete(c.subs, handle)
	return true
}

// FailAll resolves every in-flight waiter with err and clears all
// subscription handlers. Called when the connection is lost beyond
// repair.
func (c *Correlator) FailAll(err error) {
	c.mu.Lock()
	waiters := c.pending
	c.pending = make(map[int64]*pending)
	c.subs = make(map[jsonrpc.SubscriptionID]UpdateHandler)
	c.mu.Unlock()

	for _, p := range waiters {
		p.ch <- Result{Err: err}
	}
}

// InFlight returns the number of requests awaiting a response.
func (c *Correlator) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// ActiveSubscriptions returns the number of live subscription handles.
func (c *Correlator) ActiveSubscriptions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

// Dropped returns the count of unmatched responses and updates.
func (c *Correlator) Dropped() int64 {
	return c.dropped.Load()
}
