package transport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/nodewire/nodewire/pkg/errors"
)

const (
	defaultOpenTimeout    = 10 * time.Second
	defaultSendTimeout    = 5 * time.Second
	defaultReceiveTimeout = 30 * time.Second
	defaultReadLimit      = 16 << 20 // chain state responses can be large
)

// WebSocketOption configures a WebSocket transport.
type WebSocketOption func(*WebSocket)

// WithOpenTimeout bounds the dial handshake.
func WithOpenTimeout(d time.Duration) WebSocketOption {
	return func(w *WebSocket) {
		if d > 0 {
			w.openTimeout = d
		}
	}
}

// WithSendTimeout bounds a single Send.
func WithSendTimeout(d time.Duration) WebSocketOption {
	return func(w *WebSocket) {
		if d > 0 {
			w.sendTimeout = d
		}
	}
}

// WithReceiveTimeout bounds a single Receive.
func WithReceiveTimeout(d time.Duration) WebSocketOption {
	return func(w *WebSocket) {
		if d > 0 {
			w.receiveTimeout = d
		}
	}
}

// WithUserAgent sets the User-Agent header sent on dial.
func WithUserAgent(ua string) WebSocketOption {
	return func(w *WebSocket) { w.userAgent = ua }
}

// WithHTTPClient sets the HTTP client used for the dial handshake.
func WithHTTPClient(c *http.Client) WebSocketOption {
	return func(w *WebSocket) { w.httpClient = c }
}

// WithLogger sets the transport logger.
func WithLogger(log *slog.Logger) WebSocketOption {
	return func(w *WebSocket) {
		if log != nil {
			w.log = log
		}
	}
}

// WebSocket is the full-duplex transport used for socket endpoints.
type WebSocket struct {
	endpoint       string
	openTimeout    time.Duration
	sendTimeout    time.Duration
	receiveTimeout time.Duration
	userAgent      string
	httpClient     *http.Client
	log            *slog.Logger

	mu   sync.RWMutex
	conn *websocket.Conn
}

// NewWebSocket builds a transport for a ws:// or wss:// endpoint. The
// endpoint is validated on Connect, not here.
func NewWebSocket(endpoint string, opts ...WebSocketOption) *WebSocket {
	w := &WebSocket{
		endpoint:       endpoint,
		openTimeout:    defaultOpenTimeout,
		sendTimeout:    defaultSendTimeout,
		receiveTimeout: defaultReceiveTimeout,
		userAgent:      "nodewire/1.0",
		httpClient:     http.DefaultClient,
		log:            slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// PushCapable marks WebSocket endpoints as subscription-capable.
func (w *WebSocket) PushCapable() bool { return true }

// Connect dials the endpoint. A malformed URL or unsupported scheme is fatal;
// everything else (unreachable host, refused, handshake timeout) is retryable.
func (w *WebSocket) Connect(ctx context.Context) error {
	u, err := url.Parse(w.endpoint)
	if err != nil {
		return errors.Fatal(fmt.Errorf("invalid endpoint %q: %w", w.endpoint, err))
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return errors.Fatal(fmt.Errorf("endpoint %q: scheme %q is not a websocket scheme", w.endpoint, u.Scheme))
	}

	dialCtx, cancel := context.WithTimeout(ctx, w.openTimeout)
	defer cancel()

	conn, resp, err := websocket.Dial(dialCtx, w.endpoint, &websocket.DialOptions{
		HTTPClient: w.httpClient,
		HTTPHeader: http.Header{"User-Agent": []string{w.userAgent}},
	})
	if err != nil {
		if resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 {
			// The endpoint exists but rejects us; retrying the same
			// handshake cannot succeed.
			return errors.Fatal(fmt.Errorf("dial %s: rejected with status %s", w.endpoint, resp.Status))
		}
		return errors.Retryable(fmt.Errorf("dial %s: %w", w.endpoint, err))
	}
	conn.SetReadLimit(defaultReadLimit)

	w.mu.Lock()
	if w.conn != nil {
		_ = w.conn.Close(websocket.StatusAbnormalClosure, "replaced by new connection")
	}
	w.conn = conn
	w.mu.Unlock()

	w.log.Debug("websocket connected", "endpoint", w.endpoint)
	return nil
}

func (w *WebSocket) current() *websocket.Conn {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.conn
}

// Send writes one text message with the configured timeout.
func (w *WebSocket) Send(ctx context.Context, data []byte) error {
	conn := w.current()
	if conn == nil {
		return errors.Retryable(errors.ErrNotConnected)
	}

	writeCtx, cancel := context.WithTimeout(ctx, w.sendTimeout)
	defer cancel()

	if err := conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		return w.classify("send", err)
	}
	return nil
}

// Receive blocks for the next message up to the configured timeout.
func (w *WebSocket) Receive(ctx context.Context) ([]byte, error) {
	conn := w.current()
	if conn == nil {
		return nil, errors.Retryable(errors.ErrNotConnected)
	}

	readCtx, cancel := context.WithTimeout(ctx, w.receiveTimeout)
	defer cancel()

	_, data, err := conn.Read(readCtx)
	if err != nil {
		if status := websocket.CloseStatus(err); status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			// Clean remote close: end of stream, not a failure.
			return nil, io.EOF
		}
		return nil, w.classify("receive", err)
	}
	return data, nil
}

// classify maps websocket failures onto the two error tiers. Protocol and
// policy violations are fatal; resets, timeouts and abnormal closes are
// retryable because the supervisor may reconnect.
func (w *WebSocket) classify(op string, err error) error {
	switch websocket.CloseStatus(err) {
	case websocket.StatusProtocolError,
		websocket.StatusUnsupportedData,
		websocket.StatusPolicyViolation,
		websocket.StatusMessageTooBig,
		websocket.StatusMandatoryExtension,
		websocket.StatusTLSHandshake:
		return errors.Fatal(fmt.Errorf("%s: %w", op, err))
	}
	return errors.Retryable(fmt.Errorf("%s: %w", op, err))
}

// Close shuts the connection down. Safe to call repeatedly.
func (w *WebSocket) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		_ = w.conn.Close(websocket.StatusNormalClosure, "client closing")
		w.conn = nil
	}
	return nil
}
