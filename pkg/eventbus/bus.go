package eventbus

import (
	"sync"
	"sync/atomic"
)

const defaultBufferSize = 64

// Subscription is a live watch on one topic (a service id, or
// AllServicesTopic for the catalog-wide stream).
type Subscription struct {
	topic   string
	ch      chan ServiceEvent
	dropped atomic.Uint64
	bus     *Bus
	once    sync.Once
}

// C returns the event channel. Closed when Close is called.
func (s *Subscription) C() <-chan ServiceEvent {
	return s.ch
}

// Dropped returns the number of events dropped because the
// subscriber's buffer was full (oldest-dropped policy).
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close unsubscribes and releases the buffer.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.unsubscribe(s.topic, s)
		close(s.ch)
	})
}

func (s *Subscription) deliver(evt ServiceEvent) {
	for {
		select {
		case s.ch <- evt:
			return
		default:
		}
		select {
		case <-s.ch:
			s.dropped.Add(1)
		default:
			// buffer was drained concurrently by the reader; retry the send
		}
	}
}

// Bus is a multi-producer, multi-consumer, topic-keyed fan-out of
// ServiceEvents. Topics are service ids; AllServicesTopic receives
// every event regardless of service id. Delivery is best-effort: a
// slow consumer's buffer drops the oldest entry on overflow rather
// than blocking the publisher. Publish copies the subscriber list under
// a read lock and delivers after releasing it, so events published by one
// goroutine reach each subscriber in publish order, while concurrent
// publishers are not serialized by the bus. The registry store publishes
// while holding its own lock, which keeps each service's events in the
// order their mutations were applied.
type Bus struct {
	mu         sync.RWMutex
	topics     map[string][]*Subscription
	bufferSize int
}

// New creates an event bus. bufferSize is the per-subscriber channel
// capacity; values <= 0 fall back to a sensible default.
func New(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &Bus{
		topics:     make(map[string][]*Subscription),
		bufferSize: bufferSize,
	}
}

// Publish fans an event out to watchers of its service id and to
// watchers of AllServicesTopic. Publish never blocks on a slow
// consumer.
func (b *Bus) Publish(evt ServiceEvent) {
	b.mu.RLock()
	targets := make([]*Subscription, 0, 2)
	targets = append(targets, b.topics[evt.ServiceID]...)
	if evt.ServiceID != AllServicesTopic {
		targets = append(targets, b.topics[AllServicesTopic]...)
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		sub.deliver(evt)
	}
}

// Watch subscribes to events for a single service id, lazily creating
// the topic. Use AllServicesTopic to watch every service.
func (b *Bus) Watch(serviceID string) *Subscription {
	sub := &Subscription{
		topic: serviceID,
		ch:    make(chan ServiceEvent, b.bufferSize),
		bus:   b,
	}

	b.mu.Lock()
	b.topics[serviceID] = append(b.topics[serviceID], sub)
	b.mu.Unlock()

	return sub
}

// WatchAll subscribes to every service's events.
func (b *Bus) WatchAll() *Subscription {
	return b.Watch(AllServicesTopic)
}

func (b *Bus) unsubscribe(topic string, target *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.topics[topic]
	filtered := subs[:0]
	for _, s := range subs {
		if s != target {
			filtered = append(filtered, s)
		}
	}
	if len(filtered) == 0 {
		delete(b.topics, topic)
		return
	}
	b.topics[topic] = filtered
}

// WatcherCount returns the number of active subscriptions for a topic,
// for tests and diagnostics.
func (b *Bus) WatcherCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}
