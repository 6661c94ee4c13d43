// Package transport abstracts a single bidirectional message channel to a
// remote node.
//
// Implementations translate protocol-specific failures into the two-tier
// classification from pkg/errors: retryable (back off and try the same
// operation again) or fatal (abandon the connection and surface the error).
// A clean remote close is neither; Receive reports it as io.EOF.
package transport

import (
	"context"
)

// Transport performs raw connect / send-one / receive-one / close over a
// specific wire protocol. Implementations are safe for one concurrent sender
// plus one concurrent receiver, matching the session's loop structure.
type Transport interface {
	// Connect establishes the channel. Fails fatal on a malformed endpoint,
	// retryable on an unreachable host.
	Connect(ctx context.Context) error

	// Send writes one message. Timeouts and transient socket errors are
	// retryable; protocol or security violations are fatal.
	Send(ctx context.Context, data []byte) error

	// Receive blocks for the next message. Timeout is retryable; a clean
	// remote close returns io.EOF; abnormal close is retryable so the
	// supervisor may reconnect.
	Receive(ctx context.Context) ([]byte, error)

	// Close releases the channel. Idempotent, never fails.
	Close() error
}

// PushCapable is implemented by transports that deliver unsolicited
// server-push messages. Registering a subscription against a transport
// without it is a configuration error.
type PushCapable interface {
	PushCapable() bool
}

// SupportsPush reports whether t can deliver server-push subscriptions.
func SupportsPush(t Transport) bool {
	pc, ok := t.(PushCapable)
	return ok && pc.PushCapable()
}
