package healthprobe

import "sync"

const verdictBufferSize = 64

// verdictSubscription is a live watch on the health-event stream.
type verdictSubscription struct {
	ch   chan Verdict
	b    *broadcaster
	once sync.Once
}

// C returns the verdict channel. Closed when Close is called.
func (s *verdictSubscription) C() <-chan Verdict {
	return s.ch
}

// Close unsubscribes from the health-event stream.
func (s *verdictSubscription) Close() {
	s.once.Do(func() {
		s.b.unsubscribe(s)
		close(s.ch)
	})
}

// broadcaster fans out probe verdicts to every subscriber, dropping the
// oldest entry on a full buffer rather than blocking the probe worker
// that produced it — the same backpressure discipline as pkg/eventbus,
// kept as a separate, simpler type here because the health-event stream
// has no per-service topic structure, just one global feed.
type broadcaster struct {
	mu   sync.RWMutex
	subs []*verdictSubscription
}

func newBroadcaster() *broadcaster {
	return &broadcaster{}
}

func (b *broadcaster) subscribe() *verdictSubscription {
	sub := &verdictSubscription{ch: make(chan Verdict, verdictBufferSize), b: b}
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	return sub
}

func (b *broadcaster) unsubscribe(target *verdictSubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	filtered := b.subs[:0]
	for _, s := range b.subs {
		if s != target {
			filtered = append(filtered, s)
		}
	}
	b.subs = filtered
}

func (b *broadcaster) publish(v Verdict) {
	b.mu.RLock()
	subs := make([]*verdictSubscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub.ch <- v:
		default:
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- v:
			default:
			}
		}
	}
}
