package memory

import (
	"context"
	"fmt"
	"testing"

	"github.com/nodewire/nodewire/internal/spill"
)

func TestFIFO(t *testing.T) {
	s := New()
	ctx := context.Background()

	for i := range 3 {
		if err := s.Put(ctx, spill.DirectionSend, fmt.Appendf(nil, "%d", i)); err != nil {
			t.Fatal(err)
		}
	}

	for i := range 3 {
		item, err := s.Oldest(ctx, spill.DirectionSend)
		if err != nil {
			t.Fatal(err)
		}
		if string(item.Data) != fmt.Sprintf("%d", i) {
			t.Errorf("got %s, want %d", item.Data, i)
		}
		if err := s.Remove(ctx, item.ID); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := s.Oldest(ctx, spill.DirectionSend); err != spill.ErrEmpty {
		t.Errorf("expected ErrEmpty, got %v", err)
	}
}

func TestRemoveUnknownID(t *testing.T) {
	s := New()
	if err := s.Remove(context.Background(), "send/999"); err != nil {
		t.Errorf("removing an unknown id should not error, got %v", err)
	}
}

func TestDataIsCopied(t *testing.T) {
	s := New()
	ctx := context.Background()

	buf := []byte("original")
	if err := s.Put(ctx, spill.DirectionReceive, buf); err != nil {
		t.Fatal(err)
	}
	copy(buf, "mutated!")

	item, err := s.Oldest(ctx, spill.DirectionReceive)
	if err != nil {
		t.Fatal(err)
	}
	if string(item.Data) != "original" {
		t.Errorf("stored data should be isolated from caller buffer, got %s", item.Data)
	}
}

func TestDestroy(t *testing.T) {
	s := New()
	ctx := context.Background()
	_ = s.Put(ctx, spill.DirectionSend, []byte("x"))

	if err := s.Destroy(); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(ctx, spill.DirectionSend, []byte("y")); err != spill.ErrClosed {
		t.Errorf("Put after Destroy should return ErrClosed, got %v", err)
	}
}

func TestRegistered(t *testing.T) {
	if !spill.IsRegistered("memory") {
		t.Error("memory backend should self-register")
	}
}
