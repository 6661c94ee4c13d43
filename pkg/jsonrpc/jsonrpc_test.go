package jsonrpc

import (
	"strings"
	"testing"
)

func TestParseResponse(t *testing.T) {
	m, err := Parse([]byte(`{"jsonrpc":"2.0","id":7,"result":{"block":12}}`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if !m.IsResponse() || *m.ID != 7 {
		t.Errorf("expected response with id 7, got %+v", m)
	}
	if _, ok := m.SubscriptionUpdate(); ok {
		t.Error("terminal response should not look like a push update")
	}
}

func TestParseErrorResponse(t *testing.T) {
	m, err := Parse([]byte(`{"jsonrpc":"2.0","id":3,"error":{"code":-32601,"message":"Method not found"}}`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if m.Error == nil || m.Error.Code != -32601 {
		t.Fatalf("expected error object, got %+v", m.Error)
	}
	if !strings.Contains(m.Error.Error(), "Method not found") {
		t.Errorf("error string should carry the server message, got %q", m.Error.Error())
	}
}

func TestSubscriptionUpdate(t *testing.T) {
	m, err := Parse([]byte(`{"jsonrpc":"2.0","method":"chain_newHead","params":{"subscription":"sub-abc","result":{"number":"0x1"}}}`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if m.IsResponse() {
		t.Error("push message should not be a response")
	}
	sp, ok := m.SubscriptionUpdate()
	if !ok {
		t.Fatal("expected a subscription update")
	}
	if sp.Subscription != "sub-abc" {
		t.Errorf("subscription id = %q, want sub-abc", sp.Subscription)
	}
}

func TestNumericSubscriptionID(t *testing.T) {
	m, err := Parse([]byte(`{"jsonrpc":"2.0","method":"chain_newHead","params":{"subscription":42,"result":1}}`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	sp, ok := m.SubscriptionUpdate()
	if !ok || sp.Subscription != "42" {
		t.Errorf("numeric subscription id should normalize to string, got %+v ok=%v", sp, ok)
	}
}

func TestSubscriptionHandle(t *testing.T) {
	m, err := Parse([]byte(`{"jsonrpc":"2.0","id":1,"result":"0xdeadbeef"}`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	id, err := m.SubscriptionHandle()
	if err != nil || id != "0xdeadbeef" {
		t.Errorf("SubscriptionHandle = %q, %v", id, err)
	}

	m, _ = Parse([]byte(`{"jsonrpc":"2.0","id":1,"result":{"not":"a handle"}}`))
	if _, err := m.SubscriptionHandle(); err == nil {
		t.Error("object result should not parse as a subscription handle")
	}
}

func TestRequestEncode(t *testing.T) {
	req := NewRequest(9, "state_getStorage", []string{"0xabc"})
	data, err := req.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	round, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse of encoded request failed: %v", err)
	}
	if round.Method != "state_getStorage" || *round.ID != 9 {
		t.Errorf("round trip mismatch: %+v", round)
	}
}

func TestParseMalformed(t *testing.T) {
	if _, err := Parse([]byte(`{"jsonrpc":`)); err == nil {
		t.Error("malformed JSON must return an error")
	}
}
