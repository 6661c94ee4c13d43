package badger

import (
	"context"
	"fmt"
	"testing"

	"github.com/nodewire/nodewire/internal/spill"
)

func newInMemoryStore(t *testing.T) spill.Store {
	t.Helper()
	s, err := NewFactory(context.Background(), map[string]string{KeyInMemory: "true"})
	if err != nil {
		t.Fatalf("NewFactory failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Destroy() })
	return s
}

func TestFIFOAcrossDirections(t *testing.T) {
	s := newInMemoryStore(t)
	ctx := context.Background()

	for i := range 4 {
		if err := s.Put(ctx, spill.DirectionSend, fmt.Appendf(nil, "s%d", i)); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Put(ctx, spill.DirectionReceive, []byte("r0")); err != nil {
		t.Fatal(err)
	}

	if n, err := s.Count(ctx, spill.DirectionSend); err != nil || n != 4 {
		t.Fatalf("send count = %d, %v", n, err)
	}

	for i := range 4 {
		item, err := s.Oldest(ctx, spill.DirectionSend)
		if err != nil {
			t.Fatal(err)
		}
		if string(item.Data) != fmt.Sprintf("s%d", i) {
			t.Errorf("replay out of order: got %s, want s%d", item.Data, i)
		}
		if err := s.Remove(ctx, item.ID); err != nil {
			t.Fatal(err)
		}
	}

	item, err := s.Oldest(ctx, spill.DirectionReceive)
	if err != nil || string(item.Data) != "r0" {
		t.Errorf("receive item = %v, %v", item, err)
	}
}

func TestEmpty(t *testing.T) {
	s := newInMemoryStore(t)
	if _, err := s.Oldest(context.Background(), spill.DirectionSend); err != spill.ErrEmpty {
		t.Errorf("expected ErrEmpty, got %v", err)
	}
}

func TestClosed(t *testing.T) {
	s := newInMemoryStore(t)
	if err := s.Destroy(); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(context.Background(), spill.DirectionSend, []byte("x")); err != spill.ErrClosed {
		t.Errorf("Put after Destroy = %v, want ErrClosed", err)
	}
	if err := s.Destroy(); err != nil {
		t.Errorf("Destroy should be idempotent, got %v", err)
	}
}
