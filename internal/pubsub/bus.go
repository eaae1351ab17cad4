// Package pubsub is the in-process event bus that connects mutations to
// live subscriptions.
//
// The bus is best-effort: no persistence, no replay, no cross-process
// delivery. A Bus is constructed once in main and passed to every
// component that publishes or subscribes.
package pubsub

import (
	"sync"

	"go.uber.org/zap"
)

// DefaultBuffer is the per-subscriber queue length used when New is given
// a non-positive size.
const DefaultBuffer = 64

// Bus fans out payloads published on a topic to every subscriber of that
// topic. It is safe for concurrent use.
type Bus[T any] struct {
	mu     sync.RWMutex
	topics map[string][]*Subscription[T]
	buffer int
	logger *zap.Logger
}

func New[T any](logger *zap.Logger, buffer int) *Bus[T] {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus[T]{
		topics: make(map[string][]*Subscription[T]),
		buffer: buffer,
		logger: logger,
	}
}

// Publish hands payload to every current subscriber of topic, in
// registration order, and returns how many subscribers received it.
//
// Publish never blocks on a subscriber. Each subscriber owns a bounded
// queue; when it is full the payload is dropped for that subscriber only
// and the rest still get it.
func (b *Bus[T]) Publish(topic string, payload T) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	delivered := 0
	for _, sub := range b.topics[topic] {
		select {
		case sub.ch <- payload:
			delivered++
		default:
			b.logger.Warn("subscriber queue full, event dropped",
				zap.String("topic", topic),
				zap.Int("buffer", cap(sub.ch)),
			)
		}
	}
	return delivered
}

// Subscribe registers a new subscriber on topic. Events published before
// this call returns are never delivered to it.
func (b *Bus[T]) Subscribe(topic string) *Subscription[T] {
	sub := &Subscription[T]{
		bus:   b,
		topic: topic,
		ch:    make(chan T, b.buffer),
	}

	b.mu.Lock()
	b.topics[topic] = append(b.topics[topic], sub)
	b.mu.Unlock()

	return sub
}

// SubscriberCount returns the number of live subscribers on topic.
func (b *Bus[T]) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

// Close deregisters every subscriber. Their channels are closed, so
// consumers ranging over them return.
func (b *Bus[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for topic, subs := range b.topics {
		for _, sub := range subs {
			sub.closed = true
			close(sub.ch)
		}
		delete(b.topics, topic)
	}
}

func (b *Bus[T]) remove(sub *Subscription[T]) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub.closed {
		return
	}
	sub.closed = true
	close(sub.ch)

	subs := b.topics[sub.topic]
	kept := subs[:0]
	for _, s := range subs {
		if s != sub {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		delete(b.topics, sub.topic)
		return
	}
	// Zero the tail so the removed subscription can be collected.
	for i := len(kept); i < len(subs); i++ {
		subs[i] = nil
	}
	b.topics[sub.topic] = kept
}

// Subscription is one caller's live view of a topic.
type Subscription[T any] struct {
	bus    *Bus[T]
	topic  string
	ch     chan T
	closed bool // guarded by bus.mu
}

// C returns the channel payloads arrive on. It is closed by Close.
func (s *Subscription[T]) C() <-chan T { return s.ch }

func (s *Subscription[T]) Topic() string { return s.topic }

// Close deregisters the subscription. It is safe to call more than once.
// Because the channel is closed under the bus lock, no publish can
// deliver to it after Close returns.
func (s *Subscription[T]) Close() {
	s.bus.remove(s)
}
