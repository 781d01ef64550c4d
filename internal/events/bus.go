// Package events is the publish/subscribe boundary between the room and
// simulation code and anything that reacts to them (transport, persistence).
// Publishers never block: every subscriber owns a bounded buffer and events
// that do not fit are dropped for that subscriber only.
package events

import (
	"log"
	"sync"
	"sync/atomic"
)

const DefaultBuffer = 256

// Publisher is the only outbound dependency of code that emits events.
type Publisher interface {
	Publish(Event)
}

type Event struct {
	Type      string
	RoomID    string
	SessionID string
	Payload   any
}

type Subscription struct {
	C <-chan Event

	ch      chan Event
	bus     *Bus
	id      int
	dropped atomic.Uint64
	once    sync.Once
}

// Dropped counts events that did not fit in this subscriber's buffer.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Close detaches the subscription and closes its channel.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.remove(s.id)
	})
}

type Bus struct {
	mu      sync.RWMutex
	subs    map[int]*Subscription
	nextID  int
	closed  bool
	dropped atomic.Uint64
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]*Subscription)}
}

func (b *Bus) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	ch := make(chan Event, buffer)
	sub := &Subscription{C: ch, ch: ch, bus: b}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return sub
	}
	b.nextID++
	sub.id = b.nextID
	b.subs[sub.id] = sub
	return sub
}

func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, sub := range b.subs {
		select {
		case sub.ch <- evt:
		default:
			sub.dropped.Add(1)
			if b.dropped.Add(1)%100 == 1 {
				log.Printf("[Bus.Publish] subscriber %d buffer full, dropping %s (room=%s)", sub.id, evt.Type, evt.RoomID)
			}
		}
	}
}

// Dropped is the total number of drops across all subscribers.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

func (b *Bus) remove(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(sub.ch)
	}
}

// Close detaches every subscriber. Publishing afterwards is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
}
