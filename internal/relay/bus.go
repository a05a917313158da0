// Package relay implements the server-side hub: a bounded, lossy broadcast
// bus for fan-out between bridges and browser clients, a shared Config
// snapshot, and the per-connection WebSocket session loops that ride on
// top of both (spec.md §4.3, §5).
package relay

import (
	"sync"
	"sync/atomic"
)

// Message is anything the bus fans out. internal/relay only ever carries
// protocol.ClientRequest (client/bridge -> server, the "requests" bus) and
// protocol.ServerEvent (server -> client/bridge, the "events" bus), kept as
// an interface here so Bus itself stays payload-agnostic.
type Message interface{}

// defaultCapacity is the per-subscriber channel depth spec.md §5 and §9
// specify: small and bounded, because a subscriber that's behind should
// lose old messages rather than stall the publisher or grow without
// bound. Go has no built-in analogue to Rust's tokio::broadcast, so this
// is the explicit reference implementation spec.md's design notes ask for.
const defaultCapacity = 16

// Bus is a bounded multi-producer, multi-consumer broadcast channel.
// A slow subscriber loses its oldest queued message rather than block the
// publisher or terminate the subscription — lag is visible via Lagged,
// never via a closed channel.
type Bus struct {
	mu       sync.RWMutex
	subs     map[uint64]chan Message
	nextID   uint64
	capacity int
	lagged   atomic.Uint64
}

// NewBus creates a Bus with the given per-subscriber channel capacity. A
// capacity of 0 uses defaultCapacity.
func NewBus(capacity int) *Bus {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Bus{
		subs:     make(map[uint64]chan Message),
		capacity: capacity,
	}
}

// Subscribe registers a new subscriber and returns its channel along with
// an Unsubscribe function. Callers must call Unsubscribe when done (e.g.
// in a defer tied to the WebSocket session's lifetime) or the channel
// leaks for the life of the Bus.
func (b *Bus) Subscribe() (ch <-chan Message, unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	c := make(chan Message, b.capacity)
	b.subs[id] = c
	b.mu.Unlock()

	return c, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
}

// Publish fans msg out to every current subscriber. When a subscriber's
// channel is full, its oldest queued message is evicted to make room for
// msg (Lagged is incremented) instead of blocking the publisher or any
// other subscriber.
func (b *Bus) Publish(msg Message) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, c := range b.subs {
		select {
		case c <- msg:
		default:
			select {
			case <-c:
				b.lagged.Add(1)
			default:
			}
			select {
			case c <- msg:
			default:
				b.lagged.Add(1)
			}
		}
	}
}

// Lagged returns the total number of messages dropped across all
// subscribers since the Bus was created, for the /metrics surface.
func (b *Bus) Lagged() uint64 {
	return b.lagged.Load()
}

// SubscriberCount reports how many live subscriptions the bus currently
// has, for the /metrics surface.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
