package event

import "sync"

// Subscriber receives published events.
//
// Delivery is synchronous on the publishing path: a subscriber must not
// block. Subscribers that do slow work (writes, exports) should enqueue it
// and return. Subscribers must be safe for concurrent use; the bus is
// shared across runs.
type Subscriber interface {
	Notify(Event)
}

// SubscriberFunc adapts a function to the Subscriber interface.
type SubscriberFunc func(Event)

// Notify implements Subscriber.
func (f SubscriberFunc) Notify(e Event) { f(e) }

// Bus is an in-process event bus with synchronous fan-out.
//
// Subscribers are registered at startup and notified in registration
// order. A panicking subscriber is isolated so it cannot take down the
// publishing run or starve later subscribers.
type Bus struct {
	mu          sync.RWMutex
	subscribers []Subscriber
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a subscriber for all subsequent events.
func (b *Bus) Subscribe(s Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = append(b.subscribers, s)
}

// Publish delivers the event to every subscriber in registration order.
// Delivery is best-effort; subscriber panics are swallowed.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	subs := b.subscribers
	b.mu.RUnlock()

	for _, s := range subs {
		notify(s, e)
	}
}

func notify(s Subscriber, e Event) {
	defer func() { _ = recover() }()
	s.Notify(e)
}
