package supervisor

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/nodewire/nodewire/pkg/errors"
)

type fakeTransport struct {
	mu          sync.Mutex
	connectErrs []error
	connects    int
	sendErrs    []error
	sends       [][]byte
	recvData    [][]byte
	recvErrs    []error
	closes      int
}

func (f *fakeTransport) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if len(f.connectErrs) == 0 {
		return nil
	}
	err := f.connectErrs[0]
	f.connectErrs = f.connectErrs[1:]
	return err
}

func (f *fakeTransport) Send(_ context.Context, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sendErrs) > 0 {
		err := f.sendErrs[0]
		f.sendErrs = f.sendErrs[1:]
		if err != nil {
			return err
		}
	}
	f.sends = append(f.sends, data)
	return nil
}

func (f *fakeTransport) Receive(context.Context) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.recvErrs) > 0 {
		err := f.recvErrs[0]
		f.recvErrs = f.recvErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	if len(f.recvData) == 0 {
		return nil, io.EOF
	}
	data := f.recvData[0]
	f.recvData = f.recvData[1:]
	return data, nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func zeroBackOff() backoff.BackOff { return &backoff.ZeroBackOff{} }

func TestConnectRetriesExceeded(t *testing.T) {
	transient := errors.Retryable(errors.New("connection refused"))
	tr := &fakeTransport{connectErrs: []error{transient, transient, transient, transient, transient}}
	sup := New(tr, WithMaxRetries(3), WithBackOff(zeroBackOff))

	err := sup.Connect(context.Background())
	if !errors.Is(err, errors.ErrRetriesExceeded) {
		t.Fatalf("expected retries-exceeded, got %v", err)
	}
	if tr.connects != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", tr.connects)
	}
	if sup.State() != StateDisconnected {
		t.Errorf("expected disconnected after exhausted cycle, got %s", sup.State())
	}
}

func TestConnectFatalShortCircuits(t *testing.T) {
	transient := errors.Retryable(errors.New("connection refused"))
	fatal := errors.Fatal(errors.New("unsupported scheme"))
	tr := &fakeTransport{connectErrs: []error{transient, fatal, transient}}
	sup := New(tr, WithMaxRetries(5), WithBackOff(zeroBackOff))

	err := sup.Connect(context.Background())
	if !errors.IsFatal(err) {
		t.Fatalf("expected fatal error, got %v", err)
	}
	if tr.connects != 2 {
		t.Errorf("fatal error should stop the cycle, got %d attempts", tr.connects)
	}
}

func TestConnectBackoffDelaysNonDecreasing(t *testing.T) {
	transient := errors.Retryable(errors.New("connection refused"))
	tr := &fakeTransport{connectErrs: []error{transient, transient, transient, transient}}

	var delays []time.Duration
	sup := New(tr,
		WithMaxRetries(4),
		WithBackOff(func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Millisecond
			b.RandomizationFactor = 0
			b.Multiplier = 2
			return b
		}),
		WithRetryHook(func(_ int, d time.Duration) { delays = append(delays, d) }),
	)

	if err := sup.Connect(context.Background()); !errors.Is(err, errors.ErrRetriesExceeded) {
		t.Fatalf("expected retries-exceeded, got %v", err)
	}
	if len(delays) != 3 {
		t.Fatalf("expected 3 retry delays, got %d", len(delays))
	}
	for i := 1; i < len(delays); i++ {
		if delays[i] < delays[i-1] {
			t.Errorf("delay %d (%v) decreased from %v", i, delays[i], delays[i-1])
		}
	}
}

func TestConnectSucceedsAfterTransientFailures(t *testing.T) {
	transient := errors.Retryable(errors.New("connection reset"))
	tr := &fakeTransport{connectErrs: []error{transient, transient}}
	sup := New(tr, WithMaxRetries(5), WithBackOff(zeroBackOff))

	if err := sup.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if !sup.Connected() {
		t.Error("expected connected state")
	}
	if tr.connects != 3 {
		t.Errorf("expected 3 attempts, got %d", tr.connects)
	}
	if sup.Retries() != 2 {
		t.Errorf("expected 2 counted retries, got %d", sup.Retries())
	}
}

func TestSendReconnectsOnce(t *testing.T) {
	transient := errors.Retryable(errors.New("broken pipe"))
	tr := &fakeTransport{sendErrs: []error{transient}}
	sup := New(tr, WithBackOff(zeroBackOff))

	ctx := context.Background()
	if err := sup.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	if err := sup.Send(ctx, []byte("hello")); err != nil {
		t.Fatalf("Send should succeed after one repair cycle: %v", err)
	}
	if len(tr.sends) != 1 || string(tr.sends[0]) != "hello" {
		t.Errorf("unexpected delivered payloads: %q", tr.sends)
	}
	if sup.Reconnects() != 1 {
		t.Errorf("expected 1 reconnect, got %d", sup.Reconnects())
	}
}

func TestSendFatalNotRetried(t *testing.T) {
	fatal := errors.Fatal(errors.New("message too big"))
	tr := &fakeTransport{sendErrs: []error{fatal}}
	sup := New(tr, WithBackOff(zeroBackOff))

	ctx := context.Background()
	if err := sup.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	if err := sup.Send(ctx, []byte("x")); !errors.IsFatal(err) {
		t.Fatalf("expected fatal error, got %v", err)
	}
	if sup.Reconnects() != 0 {
		t.Errorf("fatal send must not trigger reconnect, got %d", sup.Reconnects())
	}
	if len(tr.sends) != 0 {
		t.Errorf("payload should not have been delivered, got %q", tr.sends)
	}
}

func TestReceiveReconnectsOnCleanClose(t *testing.T) {
	tr := &fakeTransport{
		recvErrs: []error{io.EOF},
		recvData: [][]byte{[]byte("after")},
	}
	sup := New(tr, WithBackOff(zeroBackOff))

	ctx := context.Background()
	if err := sup.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	data, err := sup.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive should succeed after repair: %v", err)
	}
	if string(data) != "after" {
		t.Errorf("unexpected payload %q", data)
	}
	if sup.Reconnects() != 1 {
		t.Errorf("expected 1 reconnect, got %d", sup.Reconnects())
	}
}

func TestNoAutoReconnect(t *testing.T) {
	transient := errors.Retryable(errors.New("broken pipe"))
	tr := &fakeTransport{sendErrs: []error{transient}}
	sup := New(tr, WithAutoReconnect(false), WithBackOff(zeroBackOff))

	ctx := context.Background()
	if err := sup.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	if err := sup.Send(ctx, []byte("x")); !errors.Is(err, transient) && !errors.IsRetryable(err) {
		t.Fatalf("expected the transient error surfaced, got %v", err)
	}
	if sup.Reconnects() != 0 {
		t.Errorf("repair disabled, got %d reconnects", sup.Reconnects())
	}
	if err := sup.Send(ctx, []byte("y")); !errors.Is(err, errors.ErrNotConnected) {
		t.Errorf("expected not-connected after link loss, got %v", err)
	}
}

func TestDisconnectIdempotent(t *testing.T) {
	tr := &fakeTransport{}
	sup := New(tr, WithBackOff(zeroBackOff))

	ctx := context.Background()
	if err := sup.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	if err := sup.Disconnect(); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	if err := sup.Disconnect(); err != nil {
		t.Fatalf("second Disconnect failed: %v", err)
	}
	if tr.closes != 1 {
		t.Errorf("transport should be closed once, got %d", tr.closes)
	}
	if err := sup.Connect(ctx); !errors.Is(err, errors.ErrClosed) {
		t.Errorf("Connect after Disconnect should fail closed, got %v", err)
	}
}

func TestStateHook(t *testing.T) {
	tr := &fakeTransport{}
	var states []State
	sup := New(tr, WithBackOff(zeroBackOff), WithStateHook(func(st State) { states = append(states, st) }))

	if err := sup.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	_ = sup.Disconnect()

	want := []State{StateConnecting, StateConnected, StateClosing, StateDisconnected}
	if len(states) != len(want) {
		t.Fatalf("state transitions %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("state transitions %v, want %v", states, want)
		}
	}
}
