// Package jsonrpc implements the JSON-RPC 2.0 envelope types used on the wire.
//
// Three message shapes arrive from the node: terminal responses carrying the
// request id plus result or error, subscription push updates carrying
// params.subscription in place of a top-level id, and anything else, which the
// session logs and drops.
package jsonrpc

import (
	"encoding/json"
	"fmt"
)

// Version is the protocol version sent on every request.
const Version = "2.0"

// Request is an outbound JSON-RPC request envelope.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
	ID      int64  `json:"id"`
}

// NewRequest builds a request envelope for the given id, method and params.
func NewRequest(id int64, method string, params any) *Request {
	return &Request{JSONRPC: Version, Method: method, Params: params, ID: id}
}

// Encode marshals the request for the wire.
func (r *Request) Encode() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("jsonrpc: encode request %d (%s): %w", r.ID, r.Method, err)
	}
	return data, nil
}

// ErrorObject is the error member of a JSON-RPC response.
type ErrorObject struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *ErrorObject) Error() string {
	return fmt.Sprintf("jsonrpc: server error %d: %s", e.Code, e.Message)
}

// Message is a decoded inbound envelope. ID is a pointer so a response with
// id 0 can be told apart from a push message with no id at all.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ErrorObject    `json:"error,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// SubscriptionParams is the params member of a subscription push update.
type SubscriptionParams struct {
	Subscription SubscriptionID  `json:"subscription"`
	Result       json.RawMessage `json:"result"`
}

// SubscriptionID tolerates servers that issue string or numeric handles.
type SubscriptionID string

func (s *SubscriptionID) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*s = SubscriptionID(str)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return fmt.Errorf("jsonrpc: subscription id must be string or number: %w", err)
	}
	*s = SubscriptionID(num.String())
	return nil
}

// Parse decodes a raw inbound message.
func Parse(raw []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("jsonrpc: malformed message: %w", err)
	}
	return &m, nil
}

// IsResponse reports whether the message answers a specific request id.
func (m *Message) IsResponse() bool { return m.ID != nil }

// SubscriptionUpdate decodes params.subscription for push messages.
// The second return is false when the message is not a push update.
func (m *Message) SubscriptionUpdate() (*SubscriptionParams, bool) {
	if m.ID != nil || len(m.Params) == 0 {
		return nil, false
	}
	var sp SubscriptionParams
	if err := json.Unmarshal(m.Params, &sp); err != nil || sp.Subscription == "" {
		return nil, false
	}
	return &sp, true
}

// SubscriptionHandle interprets a terminal result as a server-issued
// subscription id, for requests registered as subscribe-style.
func (m *Message) SubscriptionHandle() (SubscriptionID, error) {
	var id SubscriptionID
	if err := json.Unmarshal(m.Result, &id); err != nil {
		return "", fmt.Errorf("jsonrpc: result is not a subscription handle: %w", err)
	}
	if id == "" {
		return "", fmt.Errorf("jsonrpc: empty subscription handle")
	}
	return id, nil
}
