package events

import (
	"sync"

	"chaseline/internal/domain"
)

// Bus fans activity records out to in-process subscribers. Publishing never
// blocks: a subscriber whose buffer is full misses the record. Delivery is
// best-effort and forward-only; replay belongs to the persistence layer.
type Bus struct {
	mu   sync.Mutex
	subs map[int]chan domain.Activity
	next int
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan domain.Activity)}
}

// Subscribe registers a subscriber with the given buffer size and returns the
// receive channel plus a cancel func. Cancel closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan domain.Activity, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan domain.Activity, buffer)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()
	cancel := func() {
		b.mu.Lock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers the activity to every subscriber that has buffer room.
func (b *Bus) Publish(a domain.Activity) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- a:
		default:
			// slow subscriber, record dropped
		}
	}
}
