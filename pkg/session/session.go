// Package session is the public entry point. A Session maintains a
// resilient JSON-RPC 2.0 connection to a remote node: outbound
// payloads flow through a bounded queue with overflow persistence,
// inbound payloads are correlated back to their requests or fanned
// out to topic subscribers, and a lost connection is repaired
// transparently.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/nodewire/nodewire/internal/config"
	"github.com/nodewire/nodewire/internal/correlator"
	"github.com/nodewire/nodewire/internal/dispatch"
	"github.com/nodewire/nodewire/internal/observability"
	"github.com/nodewire/nodewire/internal/queue"
	"github.com/nodewire/nodewire/internal/router"
	"github.com/nodewire/nodewire/internal/spill"
	_ "github.com/nodewire/nodewire/internal/spill/fs"
	"github.com/nodewire/nodewire/internal/supervisor"
	"github.com/nodewire/nodewire/internal/transport"
	"github.com/nodewire/nodewire/pkg/errors"
	"github.com/nodewire/nodewire/pkg/jsonrpc"
)

// drainBatch bounds how many spilled items one idle tick replays.
const drainBatch = 10

// Callback receives routed events. See router.Event for the fields.
type Callback = router.Callback

// Event is one routed delivery.
type Event = router.Event

// UpdateHandler receives subscription updates.
type UpdateHandler = correlator.UpdateHandler

// Stats is a point-in-time snapshot of session internals.
type Stats struct {
	State               string `json:"state"`
	InFlight            int    `json:"in_flight"`
	ActiveSubscriptions int    `json:"active_subscriptions"`
	SendQueueLen        int    `json:"send_queue_len"`
	RecvQueueLen        int    `json:"recv_queue_len"`
	SendAccepting       bool   `json:"send_accepting"`
	RecvAccepting       bool   `json:"recv_accepting"`
	SpilledSend         int64  `json:"spilled_send"`
	SpilledReceive      int64  `json:"spilled_receive"`
	Retries             int64  `json:"retries"`
	Reconnects          int64  `json:"reconnects"`
	Dropped             int64  `json:"dropped"`
	CallbackPanics      int64  `json:"callback_panics"`
}

// Option configures a Session beyond what config.Config carries.
type Option func(*Session)

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Session) { s.log = log }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithTransport overrides the endpoint-derived transport.
func WithTransport(tr transport.Transport) Option {
	return func(s *Session) { s.tr = tr }
}

// WithSpillStore overrides the configured overflow store. The caller
// owns an injected store; Close will not destroy it.
func WithSpillStore(store spill.Store) Option {
	return func(s *Session) { s.store = store }
}

// Session is safe for concurrent use.
type Session struct {
	cfg     config.Config
	log     *slog.Logger
	metrics *observability.Metrics

	tr       transport.Transport
	store    spill.Store
	ownStore bool
	sup      *supervisor.Supervisor
	corr     *correlator.Correlator
	rt       *router.Router
	disp     *dispatch.Dispatcher
	sendQ    *queue.Queue
	recvQ    *queue.Queue

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	started atomic.Bool
	closed  atomic.Bool

	methodsMu sync.Mutex
	methods   []string
}

// New assembles a session from configuration. The transport is chosen
// by the endpoint scheme: ws/wss use the WebSocket transport, http/https
// the POST fallback.
func New(cfg config.Config, opts ...Option) (*Session, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		cfg:     cfg,
		log:     slog.Default(),
		metrics: observability.NewMetrics(),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.tr == nil {
		tr, err := transportFor(cfg)
		if err != nil {
			cancel()
			return nil, err
		}
		s.tr = tr
	}

	if s.store == nil {
		backend := cfg.Spill.Backend
		if backend == "" {
			backend = "fs"
		}
		store, err := spill.New(ctx, backend, cfg.Spill.Config)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("open spill store: %w", err)
		}
		s.store = store
		s.ownStore = true
	}

	var firstConnect atomic.Bool
	s.sup = supervisor.New(s.tr,
		supervisor.WithLogger(s.log),
		supervisor.WithMaxRetries(cfg.Retry.MaxRetries),
		supervisor.WithAutoReconnect(cfg.AutoReconnect),
		supervisor.WithBackOff(backoffFactory(cfg.Retry)),
		supervisor.WithRetryHook(func(int, time.Duration) {
			s.metrics.RetriesTotal.Inc()
		}),
		supervisor.WithStateHook(func(st supervisor.State) {
			s.log.Debug("connection state changed", "state", st)
			if st == supervisor.StateConnected && !firstConnect.CompareAndSwap(false, true) {
				s.metrics.ReconnectsTotal.Inc()
			}
		}),
	)
	s.corr = correlator.New(s.log)
	s.rt = router.New(s.log)
	s.disp = dispatch.New(dispatch.WithLogger(s.log))

	capacity := cfg.Session.QueueSize
	s.sendQ = queue.New(spill.DirectionSend, capacity, s.store, s.log)
	s.recvQ = queue.New(spill.DirectionReceive, capacity, s.store, s.log)

	return s, nil
}

func transportFor(cfg config.Config) (transport.Transport, error) {
	u, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, errors.Fatalf("parse endpoint %q: %v", cfg.Endpoint, err)
	}
	switch u.Scheme {
	case "ws", "wss":
		return transport.NewWebSocket(cfg.Endpoint,
			transport.WithOpenTimeout(cfg.Transport.OpenTimeout),
			transport.WithSendTimeout(cfg.Transport.SendTimeout),
			transport.WithReceiveTimeout(cfg.Transport.ReceiveTimeout),
		), nil
	case "http", "https":
		return transport.NewHTTP(cfg.Endpoint), nil
	default:
		return nil, errors.Fatalf("unsupported endpoint scheme %q", u.Scheme)
	}
}

func backoffFactory(rc config.RetryConfig) supervisor.BackOffFactory {
	return func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		// No jitter: retry delays must never shrink between attempts.
		b.RandomizationFactor = 0
		if rc.InitialInterval > 0 {
			b.InitialInterval = rc.InitialInterval
		}
		if rc.MaxInterval > 0 {
			b.MaxInterval = rc.MaxInterval
		}
		if rc.Multiplier > 0 {
			b.Multiplier = rc.Multiplier
		}
		return b
	}
}

// Connect brings the link up and starts the background loops. Safe to
// call once; subsequent calls only re-establish the link.
func (s *Session) Connect(ctx context.Context) error {
	if s.closed.Load() {
		return errors.ErrClosed
	}
	if err := s.sup.Connect(ctx); err != nil {
		return err
	}
	if s.started.CompareAndSwap(false, true) {
		s.wg.Add(3)
		go s.sendLoop()
		go s.receiveLoop()
		go s.processLoop()
	}
	return nil
}

// Close tears the session down: the link is closed, the loops stop,
// in-flight waiters are failed, and a store the session opened itself
// is destroyed along with anything still spilled in it. An injected
// store is left to its owner.
func (s *Session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.cancel()
	err := s.sup.Disconnect()
	s.wg.Wait()
	s.corr.FailAll(errors.ErrClosed)
	s.disp.Close()
	if s.ownStore {
		if derr := s.store.Destroy(); derr != nil {
			s.log.Warn("spill store teardown failed", "error", derr)
		}
	}
	return err
}

// Connected reports whether the link is currently up.
func (s *Session) Connected() bool { return s.sup.Connected() }

// Call performs one JSON-RPC request and blocks for its response.
// The request is queued like any other payload, so it survives
// backpressure and reconnection. The configured request timeout
// applies when ctx carries no deadline.
func (s *Session) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if s.closed.Load() {
		return nil, errors.ErrClosed
	}
	if _, ok := ctx.Deadline(); !ok && s.cfg.Session.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Session.RequestTimeout)
		defer cancel()
	}

	id := s.corr.NextID()
	ch, ok := s.corr.Register(id)
	if !ok {
		return nil, errors.Fatalf("request id %d already in flight", id)
	}

	start := time.Now()
	if err := s.enqueueRequest(ctx, id, method, params); err != nil {
		s.corr.Discard(id)
		return nil, err
	}

	select {
	case <-ctx.Done():
		s.corr.Discard(id)
		s.observe(method, "timeout", start)
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			s.observe(method, "error", start)
			return nil, res.Err
		}
		s.observe(method, "ok", start)
		return res.Msg.Result, nil
	}
}

func (s *Session) observe(method, status string, start time.Time) {
	s.metrics.RequestDuration.WithLabelValues(method, status).Observe(time.Since(start).Seconds())
}

func (s *Session) enqueueRequest(ctx context.Context, id int64, method string, params any) error {
	req := jsonrpc.NewRequest(id, method, params)
	data, err := req.Encode()
	if err != nil {
		return errors.Fatalf("encode request %s: %v", method, err)
	}
	if err := s.sendQ.Enqueue(ctx, data); err != nil {
		return err
	}
	s.metrics.QueueDepth.WithLabelValues(string(spill.DirectionSend)).Set(float64(s.sendQ.Len()))
	return nil
}

// SendData queues an arbitrary payload addressed to topic and returns
// a request token. The response, when it arrives, is routed to cb and
// to any subscriber of (topic, token). SendData never blocks on the
// network; delivery happens on the send loop.
func (s *Session) SendData(ctx context.Context, topic string, data any, cb Callback) (string, error) {
	if s.closed.Load() {
		return "", errors.ErrClosed
	}
	token := "REQ-" + uuid.NewString()
	id := s.corr.NextID()

	ch, ok := s.corr.Register(id)
	if !ok {
		return "", errors.Fatalf("request id %d already in flight", id)
	}
	if cb != nil {
		s.rt.Subscribe(router.Key{Topic: topic, RequestID: token}, cb)
	}

	if err := s.enqueueRequest(ctx, id, topic, data); err != nil {
		s.corr.Discard(id)
		if cb != nil {
			s.rt.Unsubscribe(router.Key{Topic: topic, RequestID: token}, cb)
		}
		return "", err
	}

	s.disp.Go(func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case res := <-ch:
			ev := Event{Topic: topic, RequestID: token}
			if res.Err != nil {
				ev.Group = "error"
				ev.Data, _ = json.Marshal(map[string]string{"error": res.Err.Error()})
			} else {
				ev.Data = res.Msg.Result
			}
			s.notify(ev)
			return nil
		}
	})
	return token, nil
}

// Subscribe registers cb for events on topic, including
// server-initiated notifications whose method equals topic.
func (s *Session) Subscribe(topic string, cb Callback) bool {
	return s.rt.Subscribe(router.Key{Topic: topic}, cb)
}

// Unsubscribe removes cb from topic, identified by function value.
func (s *Session) Unsubscribe(topic string, cb Callback) bool {
	return s.rt.Unsubscribe(router.Key{Topic: topic}, cb)
}

// SubscribeRPC opens a server-side subscription via method and routes
// every pushed update to handler and to topic subscribers of method.
// Requires a push-capable transport.
func (s *Session) SubscribeRPC(ctx context.Context, method string, params any, handler UpdateHandler) (jsonrpc.SubscriptionID, error) {
	if s.closed.Load() {
		return "", errors.ErrClosed
	}
	if !transport.SupportsPush(s.tr) {
		return "", fmt.Errorf("subscriptions need a push-capable transport: %w", errors.ErrNotSupported)
	}
	if _, ok := ctx.Deadline(); !ok && s.cfg.Session.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Session.RequestTimeout)
		defer cancel()
	}

	token := "SUB-" + uuid.NewString()
	id := s.corr.NextID()
	ch, ok := s.corr.RegisterSubscription(id, func(sub jsonrpc.SubscriptionID, result json.RawMessage) {
		if handler != nil {
			handler(sub, result)
		}
		s.notify(Event{Topic: method, RequestID: token, Group: "subscription", Data: result})
	})
	if !ok {
		return "", errors.Fatalf("request id %d already in flight", id)
	}

	if err := s.enqueueRequest(ctx, id, method, params); err != nil {
		s.corr.Discard(id)
		return "", err
	}

	select {
	case <-ctx.Done():
		s.corr.Discard(id)
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		handle, err := res.Msg.SubscriptionHandle()
		if err != nil {
			return "", err
		}
		s.log.Debug("subscription opened", "method", method, "handle", handle, "token", token)
		return handle, nil
	}
}

// UnsubscribeRPC closes a server-side subscription through method and
// stops local delivery for its handle.
func (s *Session) UnsubscribeRPC(ctx context.Context, method string, handle jsonrpc.SubscriptionID) (bool, error) {
	result, err := s.Call(ctx, method, []any{handle})
	s.corr.Unsubscribe(handle)
	if err != nil {
		return false, err
	}
	var ok bool
	if err := json.Unmarshal(result, &ok); err != nil {
		return false, fmt.Errorf("decode unsubscribe result: %w", err)
	}
	return ok, nil
}

// SupportedMethods returns the method names the remote node exposes,
// discovered once via rpc_methods and cached.
func (s *Session) SupportedMethods(ctx context.Context) ([]string, error) {
	s.methodsMu.Lock()
	defer s.methodsMu.Unlock()
	if s.methods != nil {
		return s.methods, nil
	}
	result, err := s.Call(ctx, "rpc_methods", nil)
	if err != nil {
		return nil, err
	}
	var payload struct {
		Methods []string `json:"methods"`
	}
	if err := json.Unmarshal(result, &payload); err != nil {
		return nil, fmt.Errorf("decode rpc_methods: %w", err)
	}
	s.methods = payload.Methods
	return s.methods, nil
}

// SupportsMethod reports whether the remote node exposes method.
func (s *Session) SupportsMethod(ctx context.Context, method string) (bool, error) {
	methods, err := s.SupportedMethods(ctx)
	if err != nil {
		return false, err
	}
	for _, m := range methods {
		if m == method {
			return true, nil
		}
	}
	return false, nil
}

// CheckConnectivity probes the given endpoints, or the configured
// ones when none are passed.
func (s *Session) CheckConnectivity(endpoints ...string) error {
	if len(endpoints) == 0 {
		endpoints = s.cfg.Probe.Endpoints
	}
	return transport.Probe(endpoints, s.cfg.Probe.Timeout)
}

// Stats returns a snapshot of the session internals.
func (s *Session) Stats() Stats {
	return Stats{
		State:               s.sup.State().String(),
		InFlight:            s.corr.InFlight(),
		ActiveSubscriptions: s.corr.ActiveSubscriptions(),
		SendQueueLen:        s.sendQ.Len(),
		RecvQueueLen:        s.recvQ.Len(),
		SendAccepting:       s.sendQ.Accepting(),
		RecvAccepting:       s.recvQ.Accepting(),
		SpilledSend:         s.sendQ.Spilled(),
		SpilledReceive:      s.recvQ.Spilled(),
		Retries:             s.sup.Retries(),
		Reconnects:          s.sup.Reconnects(),
		Dropped:             s.corr.Dropped(),
		CallbackPanics:      s.rt.Panics() + s.disp.Panics(),
	}
}

// sendLoop drains the send queue onto the wire. Transmission runs
// back to back while items remain; an empty queue replays a batch
// from the overflow store, then the loop idles.
func (s *Session) sendLoop() {
	defer s.wg.Done()
	for {
		if s.ctx.Err() != nil {
			return
		}
		data, ok := s.sendQ.Dequeue()
		if ok {
			s.transmit(data)
			continue
		}

		replayed, err := s.sendQ.Drain(s.ctx, drainBatch)
		if err != nil && s.ctx.Err() == nil {
			s.log.Error("spill drain failed", "error", err)
		}
		if replayed > 0 {
			s.metrics.ReplayedTotal.WithLabelValues(string(spill.DirectionSend)).Add(float64(replayed))
		}

		delay := s.cfg.Session.IdleDelay
		if replayed > 0 {
			delay = s.cfg.Session.BusyDelay
		}
		if !sleep(s.ctx, delay) {
			return
		}
	}
}

func (s *Session) transmit(data []byte) {
	err := s.sup.Send(s.ctx, data)
	s.metrics.QueueDepth.WithLabelValues(string(spill.DirectionSend)).Set(float64(s.sendQ.Len()))
	if err == nil {
		s.metrics.SendsTotal.WithLabelValues("ok").Inc()
		return
	}
	if errors.IsFatal(err) || s.ctx.Err() != nil {
		s.metrics.SendsTotal.WithLabelValues("dropped").Inc()
		s.metrics.DroppedTotal.WithLabelValues("fatal_send").Inc()
		s.log.Error("dropping payload after fatal send error", "error", err)
		return
	}
	// Transient failure with repair exhausted: park the payload for a
	// later session instead of losing it.
	s.metrics.SendsTotal.WithLabelValues("spilled").Inc()
	s.metrics.SpilledTotal.WithLabelValues(string(spill.DirectionSend)).Inc()
	if serr := s.sendQ.Spill(s.ctx, data); serr != nil {
		s.metrics.DroppedTotal.WithLabelValues("spill_failed").Inc()
		s.log.Error("spill after send failure lost payload", "error", serr)
	}
}

// receiveLoop pumps inbound payloads into the receive queue. Transient
// read failures, an idle-link timeout included, keep the loop running.
// Only a fatal error or an exhausted repair budget fails the in-flight
// waiters and stops the loop.
func (s *Session) receiveLoop() {
	defer s.wg.Done()
	for {
		data, err := s.sup.Receive(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, errors.ErrClosed) {
				return
			}
			if errors.IsFatal(err) || errors.Is(err, errors.ErrRetriesExceeded) {
				s.log.Error("receive failed beyond repair", "error", err)
				s.corr.FailAll(err)
				return
			}
			s.log.Debug("transient receive failure, retrying", "error", err)
			if !sleep(s.ctx, s.cfg.Session.BusyDelay) {
				return
			}
			continue
		}
		s.metrics.ReceivesTotal.Inc()
		if err := s.recvQ.Enqueue(s.ctx, data); err != nil {
			s.metrics.DroppedTotal.WithLabelValues("recv_enqueue").Inc()
			s.log.Error("inbound payload lost", "error", err)
		}
		s.metrics.QueueDepth.WithLabelValues(string(spill.DirectionReceive)).Set(float64(s.recvQ.Len()))
	}
}

// processLoop parses queued inbound payloads and routes them:
// responses and subscription updates resolve through the correlator,
// everything else fans out by method as topic.
func (s *Session) processLoop() {
	defer s.wg.Done()
	for {
		if s.ctx.Err() != nil {
			return
		}
		data, ok := s.recvQ.Dequeue()
		if !ok {
			replayed, err := s.recvQ.Drain(s.ctx, drainBatch)
			if err != nil && s.ctx.Err() == nil {
				s.log.Error("receive spill drain failed", "error", err)
			}
			if replayed > 0 {
				s.metrics.ReplayedTotal.WithLabelValues(string(spill.DirectionReceive)).Add(float64(replayed))
				continue
			}
			if !sleep(s.ctx, s.cfg.Session.BusyDelay) {
				return
			}
			continue
		}
		s.process(data)
	}
}

func (s *Session) process(data []byte) {
	msg, err := jsonrpc.Parse(data)
	if err != nil {
		s.metrics.DroppedTotal.WithLabelValues("malformed").Inc()
		s.log.Warn("dropping malformed payload", "error", err)
		return
	}
	if s.corr.OnMessage(msg) {
		return
	}
	// Server-initiated notification: the method names the topic.
	ev := Event{Topic: msg.Method, Data: msg.Params}
	if _, err := s.disp.Submit(func(context.Context) error {
		s.notify(ev)
		return nil
	}); err != nil {
		s.metrics.DroppedTotal.WithLabelValues("dispatch_full").Inc()
		s.log.Warn("dropping notification, dispatch backlog full", "topic", ev.Topic)
	}
}

func (s *Session) notify(ev Event) {
	before := s.rt.Panics()
	s.rt.Notify(ev)
	if d := s.rt.Panics() - before; d > 0 {
		s.metrics.CallbackPanics.Add(float64(d))
	}
}

// sleep waits for d or until ctx is done, reporting whether the
// caller should keep running.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
