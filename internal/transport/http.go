package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/nodewire/nodewire/pkg/errors"
)

const defaultInboxDepth = 64

// HTTP is the request/response fallback for non-socket endpoints. Send posts
// the payload and parks the response body in an inbox that Receive drains, so
// the session's queue machinery works unchanged. Server push is unsupported:
// subscriptions against this transport are a configuration error, which the
// session enforces via the PushCapable check.
type HTTP struct {
	endpoint string
	client   *http.Client
	inbox    chan []byte
}

// HTTPOption configures an HTTP transport.
type HTTPOption func(*HTTP)

// WithClient sets the underlying HTTP client.
func WithClient(c *http.Client) HTTPOption {
	return func(h *HTTP) {
		if c != nil {
			h.client = c
		}
	}
}

// NewHTTP builds a transport for an http:// or https:// endpoint.
func NewHTTP(endpoint string, opts ...HTTPOption) *HTTP {
	h := &HTTP{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 30 * time.Second},
		inbox:    make(chan []byte, defaultInboxDepth),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// PushCapable reports that plain HTTP cannot deliver server push.
func (h *HTTP) PushCapable() bool { return false }

// Connect validates the endpoint. There is no persistent channel to open.
func (h *HTTP) Connect(_ context.Context) error {
	u, err := url.Parse(h.endpoint)
	if err != nil {
		return errors.Fatal(fmt.Errorf("invalid endpoint %q: %w", h.endpoint, err))
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.Fatal(fmt.Errorf("endpoint %q: scheme %q is not an http scheme", h.endpoint, u.Scheme))
	}
	return nil
}

// Send posts one JSON payload; the response body becomes the next Receive.
func (h *HTTP) Send(ctx context.Context, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(data))
	if err != nil {
		return errors.Fatal(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return errors.Retryable(fmt.Errorf("post %s: %w", h.endpoint, err))
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Retryable(fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode >= 500 {
			return errors.Retryable(fmt.Errorf("post %s: status %s", h.endpoint, resp.Status))
		}
		return errors.Fatal(fmt.Errorf("post %s: status %s", h.endpoint, resp.Status))
	}

	// The POST already happened; failing here would make the caller
	// re-send it. Block until Receive makes room or ctx expires.
	select {
	case h.inbox <- body:
		return nil
	case <-ctx.Done():
		return errors.Fatal(fmt.Errorf("response inbox full, dropping reply: %w", ctx.Err()))
	}
}

// Receive pops the next buffered response.
func (h *HTTP) Receive(ctx context.Context) ([]byte, error) {
	select {
	case body := <-h.inbox:
		return body, nil
	case <-ctx.Done():
		return nil, errors.Retryable(ctx.Err())
	}
}

// Close drops any undelivered responses.
func (h *HTTP) Close() error {
	for {
		select {
		case <-h.inbox:
		default:
			return nil
		}
	}
}
