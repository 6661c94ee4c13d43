// Package supervisor owns the connection lifecycle for a session
// transport. It drives the state machine between disconnected,
// connecting, connected and closing, and applies the retry policy
// when the underlying transport fails.
package supervisor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/nodewire/nodewire/internal/transport"
	"github.com/nodewire/nodewire/pkg/errors"
)

// State is the connection lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// DefaultMaxRetries bounds a single connect cycle.
const DefaultMaxRetries = 5

// BackOffFactory produces a fresh retry policy for each connect cycle.
type BackOffFactory func() backoff.BackOff

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithMaxRetries sets the number of connect attempts per cycle.
func WithMaxRetries(n int) Option {
	return func(s *Supervisor) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

// WithAutoReconnect controls whether Send and Receive repair a lost
// connection themselves. When disabled they surface the failure to
// the caller instead.
func WithAutoReconnect(enabled bool) Option {
	return func(s *Supervisor) { s.autoReconnect = enabled }
}

// WithBackOff replaces the default exponential policy.
func WithBackOff(factory BackOffFactory) Option {
	return func(s *Supervisor) { s.newBackOff = factory }
}

// WithRetryHook installs a callback invoked before each retry sleep
// with the attempt number and the chosen delay.
func WithRetryHook(hook func(attempt int, delay time.Duration)) Option {
	return func(s *Supervisor) { s.onRetry = hook }
}

// WithStateHook installs a callback invoked on every state change.
func WithStateHook(hook func(State)) Option {
	return func(s *Supervisor) { s.onState = hook }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

// Supervisor wraps a transport with reconnection and retry policy.
// All methods are safe for concurrent use; connect cycles are
// serialized so concurrent failures trigger a single repair.
type Supervisor struct {
	tr            transport.Transport
	log           *slog.Logger
	maxRetries    int
	autoReconnect bool
	newBackOff    BackOffFactory
	onRetry       func(attempt int, delay time.Duration)
	onState       func(State)

	mu     sync.Mutex
	closed bool

	state      atomic.Int32
	retries    atomic.Int64
	reconnects atomic.Int64
}

// New wraps tr. The supervisor starts disconnected; call Connect to
// bring the link up.
func New(tr transport.Transport, opts ...Option) *Supervisor {
	s := &Supervisor{
		tr:            tr,
		log:           slog.Default(),
		maxRetries:    DefaultMaxRetries,
		autoReconnect: true,
		newBackOff: func() backoff.BackOff {
			return backoff.NewExponentialBackOff()
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State reports the current lifecycle state.
func (s *Supervisor) State() State { return State(s.state.Load()) }

// Connected reports whether the link is up.
func (s *Supervisor) Connected() bool { return s.State() == StateConnected }

// Retries returns the total number of failed connect attempts.
func (s *Supervisor) Retries() int64 { return s.retries.Load() }

// Reconnects returns the number of repair cycles triggered after an
// established connection was lost.
func (s *Supervisor) Reconnects() int64 { return s.reconnects.Load() }

func (s *Supervisor) setState(st State) {
	if State(s.state.Swap(int32(st))) == st {
		return
	}
	if s.onState != nil {
		s.onState(st)
	}
}

// Connect establishes the transport, retrying transient failures up
// to the configured attempt budget. A fatal transport error aborts
// the cycle immediately.
func (s *Supervisor) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectLocked(ctx)
}

func (s *Supervisor) connectLocked(ctx context.Context) error {
	if s.closed {
		return errors.ErrClosed
	}
	if s.State() == StateConnected {
		return nil
	}
	s.setState(StateConnecting)

	policy := s.newBackOff()
	var lastErr error
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		err := s.tr.Connect(ctx)
		if err == nil {
			s.setState(StateConnected)
			return nil
		}
		if errors.IsFatal(err) {
			s.setState(StateDisconnected)
			return err
		}
		lastErr = err
		s.retries.Add(1)
		if attempt == s.maxRetries {
			break
		}
		delay := policy.NextBackOff()
		if s.onRetry != nil {
			s.onRetry(attempt, delay)
		}
		s.log.Warn("connect attempt failed, retrying",
			"attempt", attempt,
			"max_retries", s.maxRetries,
			"delay", delay,
			"error", err)
		if serr := sleep(ctx, delay); serr != nil {
			s.setState(StateDisconnected)
			return serr
		}
	}
	s.setState(StateDisconnected)
	return fmt.Errorf("connect: %w after %d attempts: %v", errors.ErrRetriesExceeded, s.maxRetries, lastErr)
}

// reconnect runs a full connect cycle after an established link was
// lost. Counted separately from first-time connects.
func (s *Supervisor) reconnect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.ErrClosed
	}
	if s.State() == StateConnected {
		return nil
	}
	s.reconnects.Add(1)
	s.log.Info("connection lost, reconnecting")
	return s.connectLocked(ctx)
}

// Send transmits one payload. A transient send failure triggers at
// most one reconnect-and-retry cycle; fatal failures are returned
// untouched.
func (s *Supervisor) Send(ctx context.Context, data []byte) error {
	if err := s.ensure(ctx); err != nil {
		return err
	}
	err := s.tr.Send(ctx, data)
	if err == nil {
		return nil
	}
	if errors.IsFatal(err) {
		return err
	}
	s.setState(StateDisconnected)
	if !s.autoReconnect {
		return err
	}
	if rerr := s.reconnect(ctx); rerr != nil {
		return rerr
	}
	return s.tr.Send(ctx, data)
}

// Receive blocks for the next inbound payload. A clean remote close
// or a transient read failure triggers at most one reconnect cycle
// before the read is retried.
func (s *Supervisor) Receive(ctx context.Context) ([]byte, error) {
	if err := s.ensure(ctx); err != nil {
		return nil, err
	}
	data, err := s.tr.Receive(ctx)
	if err == nil {
		return data, nil
	}
	if err != io.EOF && errors.IsFatal(err) {
		return nil, err
	}
	s.setState(StateDisconnected)
	if !s.autoReconnect {
		return nil, err
	}
	if rerr := s.reconnect(ctx); rerr != nil {
		return nil, rerr
	}
	return s.tr.Receive(ctx)
}

// ensure brings the link up if it is down and repair is enabled.
func (s *Supervisor) ensure(ctx context.Context) error {
	if s.State() == StateConnected {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.ErrClosed
	}
	if s.State() == StateConnected {
		return nil
	}
	if !s.autoReconnect {
		return errors.ErrNotConnected
	}
	return s.connectLocked(ctx)
}

// Disconnect tears the link down and disables further reconnection.
// Safe to call multiple times.
func (s *Supervisor) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.setState(StateClosing)
	err := s.tr.Close()
	s.setState(StateDisconnected)
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
