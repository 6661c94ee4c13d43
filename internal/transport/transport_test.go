package transport

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/nodewire/nodewire/pkg/errors"
)

func TestWebSocketConnectBadScheme(t *testing.T) {
	w := NewWebSocket("tcp://example.com:9944")
	err := w.Connect(context.Background())
	if !errors.IsFatal(err) {
		t.Errorf("bad scheme should be fatal, got %v", err)
	}

	w = NewWebSocket("://not-a-url")
	if err := w.Connect(context.Background()); !errors.IsFatal(err) {
		t.Errorf("malformed URL should be fatal, got %v", err)
	}
}

func TestWebSocketConnectUnreachable(t *testing.T) {
	// Reserved TEST-NET address: connection attempts fail fast or time out.
	w := NewWebSocket("ws://192.0.2.1:1", WithOpenTimeout(200*time.Millisecond))
	err := w.Connect(context.Background())
	if !errors.IsRetryable(err) {
		t.Errorf("unreachable host should be retryable, got %v", err)
	}
}

func TestWebSocketSendWithoutConnection(t *testing.T) {
	w := NewWebSocket("ws://localhost:9944")
	err := w.Send(context.Background(), []byte("{}"))
	if !errors.IsRetryable(err) || !errors.Is(err, errors.ErrNotConnected) {
		t.Errorf("send before connect should be retryable not-connected, got %v", err)
	}
}

func TestWebSocketEcho(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		typ, data, err := conn.Read(r.Context())
		if err != nil {
			return
		}
		_ = conn.Write(r.Context(), typ, data)
		_ = conn.Close(websocket.StatusNormalClosure, "done")
	}))
	defer srv.Close()

	w := NewWebSocket("ws" + srv.URL[len("http"):])
	ctx := context.Background()
	if err := w.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer func() { _ = w.Close() }()

	msg := []byte(`{"jsonrpc":"2.0","method":"system_health","params":[],"id":1}`)
	if err := w.Send(ctx, msg); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	got, err := w.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if string(got) != string(msg) {
		t.Errorf("echo mismatch: %s", got)
	}

	// The server closed cleanly after the echo.
	if _, err := w.Receive(ctx); err != io.EOF {
		t.Errorf("clean remote close should surface io.EOF, got %v", err)
	}
}

func TestWebSocketCloseIdempotent(t *testing.T) {
	w := NewWebSocket("ws://localhost:9944")
	if err := w.Close(); err != nil {
		t.Errorf("Close on unconnected transport: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestHTTPRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "application/json")
		_, _ = rw.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":"ok"}`))
	}))
	defer srv.Close()

	h := NewHTTP(srv.URL)
	ctx := context.Background()
	if err := h.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := h.Send(ctx, []byte(`{"jsonrpc":"2.0","method":"system_health","params":[],"id":1}`)); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	got, err := h.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if string(got) != `{"jsonrpc":"2.0","id":1,"result":"ok"}` {
		t.Errorf("unexpected body: %s", got)
	}
}

func TestHTTPStatusClassification(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	h := NewHTTP(srv.URL)
	if err := h.Send(context.Background(), []byte("{}")); !errors.IsRetryable(err) {
		t.Errorf("5xx should be retryable, got %v", err)
	}

	srv2 := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusBadRequest)
	}))
	defer srv2.Close()

	h2 := NewHTTP(srv2.URL)
	if err := h2.Send(context.Background(), []byte("{}")); !errors.IsFatal(err) {
		t.Errorf("4xx should be fatal, got %v", err)
	}
}

func TestHTTPSendBlocksWhenInboxFull(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		_, _ = rw.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":1}`))
	}))
	defer srv.Close()

	h := NewHTTP(srv.URL)
	h.inbox = make(chan []byte, 1)
	ctx := context.Background()
	if err := h.Send(ctx, []byte(`{}`)); err != nil {
		t.Fatalf("first send: %v", err)
	}

	// The POST succeeds while the inbox is full; the call must wait for
	// Receive instead of failing retryable, which would re-post the
	// same request.
	done := make(chan error, 1)
	go func() { done <- h.Send(ctx, []byte(`{}`)) }()
	select {
	case err := <-done:
		t.Fatalf("send with full inbox returned early: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	if _, err := h.Receive(ctx); err != nil {
		t.Fatalf("Receive: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("send after room freed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("send never completed")
	}
}

func TestHTTPSendFullInboxExpiredContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		_, _ = rw.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":1}`))
	}))
	defer srv.Close()

	h := NewHTTP(srv.URL)
	h.inbox = make(chan []byte, 1)
	if err := h.Send(context.Background(), []byte(`{}`)); err != nil {
		t.Fatalf("first send: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := h.Send(ctx, []byte(`{}`)); !errors.IsFatal(err) {
		t.Fatalf("an undeliverable reply must not look retryable, got %v", err)
	}
}

func TestHTTPNotPushCapable(t *testing.T) {
	if SupportsPush(NewHTTP("http://localhost")) {
		t.Error("HTTP transport must not claim push support")
	}
	if !SupportsPush(NewWebSocket("ws://localhost")) {
		t.Error("WebSocket transport should claim push support")
	}
}

func TestProbe(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	if err := Probe([]string{ln.Addr().String()}, time.Second); err != nil {
		t.Errorf("probe of live listener failed: %v", err)
	}

	err = Probe([]string{"192.0.2.1:1"}, 100*time.Millisecond)
	if !errors.Is(err, errors.ErrNetworkUnreachable) {
		t.Errorf("unreachable endpoint should map to ErrNetworkUnreachable, got %v", err)
	}
}
