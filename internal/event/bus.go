// Package event provides the process-local publish/subscribe bus for
// committed domain events. The store publishes after each transaction
// commits; subscribers filter by event kind and by involved-note tags.
package event

import (
	"sync"

	"github.com/bwl/forest/internal/store"
)

// Filter restricts which events a subscriber receives. Zero value
// matches everything.
type Filter struct {
	// Kinds, when non-empty, restricts to these event kinds.
	Kinds []store.EventKind
	// Tags, when non-empty, restricts to events involving at least one
	// of these tags.
	Tags []string
}

func (f Filter) matches(ev store.Event) bool {
	if len(f.Kinds) > 0 {
		found := false
		for _, k := range f.Kinds {
			if ev.Kind == k {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(f.Tags) > 0 {
		for _, want := range f.Tags {
			for _, have := range ev.Tags {
				if want == have {
					return true
				}
			}
		}
		return false
	}
	return true
}

// Subscription delivers matching events on C until Close.
type Subscription struct {
	C      <-chan store.Event
	ch     chan store.Event
	filter Filter
	bus    *Bus
	once   sync.Once
}

// Close detaches the subscription and closes C.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.remove(s)
		close(s.ch)
	})
}

// Bus fans committed events out to subscribers. Delivery is best effort:
// a subscriber whose buffer is full drops events rather than blocking
// the publisher. The event log in the store is the durable record.
type Bus struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[*Subscription]struct{})}
}

// Subscribe registers a filtered subscription with the given buffer.
func (b *Bus) Subscribe(filter Filter, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan store.Event, buffer)
	sub := &Subscription{C: ch, ch: ch, filter: filter, bus: b}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

func (b *Bus) remove(sub *Subscription) {
	b.mu.Lock()
	delete(b.subs, sub)
	b.mu.Unlock()
}

// Publish delivers events to every matching subscriber. Implements
// store.EventSink.
func (b *Bus) Publish(events []store.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ev := range events {
		for sub := range b.subs {
			if !sub.filter.matches(ev) {
				continue
			}
			select {
			case sub.ch <- ev:
			default: // subscriber lagging, drop
			}
		}
	}
}
