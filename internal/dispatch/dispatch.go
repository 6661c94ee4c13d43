// Package dispatch runs user callbacks and background tasks off the
// session's hot paths. Submitted tasks run one at a time in
// submission order on a single worker; spawned tasks run on their
// own goroutine. Panics are recovered in both modes.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/nodewire/nodewire/pkg/errors"
)

// DefaultQueueDepth bounds the ordered worker's backlog.
const DefaultQueueDepth = 128

// Task is a unit of work. The context is cancelled when the
// dispatcher shuts down.
type Task func(ctx context.Context) error

// Handle tracks one task's completion.
type Handle struct {
	done chan struct{}
	err  error
}

// Done is closed when the task has finished.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err returns the task's outcome. Only valid after Done is closed.
func (h *Handle) Err() error { return h.err }

// Wait blocks until the task finishes or ctx expires.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return h.err
	}
}

type job struct {
	task Task
	h    *Handle
}

// Dispatcher is safe for concurrent use.
type Dispatcher struct {
	log    *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	queue chan job
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	panics atomic.Int64
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithQueueDepth sets the ordered backlog size.
func WithQueueDepth(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queue = make(chan job, n)
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(d *Dispatcher) { d.log = log }
}

// New starts a dispatcher with a single ordered worker.
func New(opts ...Option) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		log:    slog.Default(),
		ctx:    ctx,
		cancel: cancel,
		queue:  make(chan job, DefaultQueueDepth),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.wg.Add(1)
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for j := range d.queue {
		j.h.err = d.safeRun(j.task)
		close(j.h.done)
	}
}

func (d *Dispatcher) safeRun(task Task) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			d.panics.Add(1)
			err = fmt.Errorf("task panicked: %v", rec)
			d.log.Error("dispatched task panicked", "panic", rec)
		}
	}()
	return task(d.ctx)
}

// Submit queues task on the ordered worker. Tasks submitted from one
// goroutine run in submission order. Fails once the dispatcher is
// closed or the backlog is full.
func (d *Dispatcher) Submit(task Task) (*Handle, error) {
	// The read lock keeps Close from closing the queue mid-send.
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, errors.ErrClosed
	}
	h := &Handle{done: make(chan struct{})}
	select {
	case d.queue <- job{task: task, h: h}:
		return h, nil
	default:
		return nil, errors.Retryable(errors.New("dispatch backlog full"))
	}
}

// Go runs task on its own goroutine, outside the ordered stream.
func (d *Dispatcher) Go(task Task) *Handle {
	h := &Handle{done: make(chan struct{})}
	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		h.err = errors.ErrClosed
		close(h.done)
		return h
	}
	d.wg.Add(1)
	d.mu.RUnlock()
	go func() {
		defer d.wg.Done()
		h.err = d.safeRun(task)
		close(h.done)
	}()
	return h
}

// Close stops intake, drains queued tasks, and waits for running
// tasks. Safe to call multiple times.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	d.wg.Wait()
	d.cancel()
}

// Panics returns the count of recovered task panics.
func (d *Dispatcher) Panics() int64 { return d.panics.Load() }
