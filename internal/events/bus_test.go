package events

import (
	"testing"

	"chaseline/internal/domain"
)

func TestBusFansOut(t *testing.T) {
	b := NewBus()
	a, cancelA := b.Subscribe(4)
	defer cancelA()
	c, cancelC := b.Subscribe(4)
	defer cancelC()

	b.Publish(domain.Activity{ID: 1, Action: "chase_sent"})

	got := <-a
	if got.ID != 1 || got.Action != "chase_sent" {
		t.Fatalf("subscriber a got %+v", got)
	}
	got = <-c
	if got.ID != 1 {
		t.Fatalf("subscriber c got %+v", got)
	}
}

func TestBusDropsWhenBufferFull(t *testing.T) {
	b := NewBus()
	ch, cancel := b.Subscribe(2)
	defer cancel()

	// Publishing past the buffer must not block.
	for i := 1; i <= 5; i++ {
		b.Publish(domain.Activity{ID: int64(i)})
	}
	if len(ch) != 2 {
		t.Fatalf("buffered = %d, want 2", len(ch))
	}
	first := <-ch
	if first.ID != 1 {
		t.Fatalf("first delivered id = %d, want the oldest record kept", first.ID)
	}
}

func TestBusCancelClosesChannel(t *testing.T) {
	b := NewBus()
	ch, cancel := b.Subscribe(1)
	cancel()
	if _, ok := <-ch; ok {
		t.Fatalf("channel should be closed after cancel")
	}
	// Publishing after cancel is a no-op.
	b.Publish(domain.Activity{ID: 9})
	// Cancel is idempotent.
	cancel()
}

func TestBusDefaultBuffer(t *testing.T) {
	b := NewBus()
	ch, cancel := b.Subscribe(0)
	defer cancel()
	if cap(ch) != 16 {
		t.Fatalf("cap = %d, want the default 16", cap(ch))
	}
}
