package bus

import (
	"strings"
	"sync"
)

// Bus fans domain events out to in-process subscribers. A subscriber
// names a kind prefix ("transport.", "message.", or an exact kind) and
// receives every event whose Kind starts with it.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]*subscriber
	nextID int
}

type subscriber struct {
	prefix string
	ch     chan Event
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[int]*subscriber)}
}

// Publish delivers evt to every subscriber whose prefix matches
// evt.Kind. Delivery never blocks: a subscriber whose buffer is full
// misses the event rather than stalling the publisher.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if !strings.HasPrefix(evt.Kind, sub.prefix) {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			// Slow consumer; drop rather than block the pipeline.
		}
	}
}

// Subscribe registers a subscriber for the given kind prefix with a
// channel buffer of bufSize. The returned func removes the subscription;
// the channel is not closed, so receivers select against their own quit
// signal.
func (b *Bus) Subscribe(prefix string, bufSize int) (<-chan Event, func()) {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = &subscriber{prefix: prefix, ch: ch}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}
