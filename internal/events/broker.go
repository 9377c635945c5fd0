package events

import (
	"sync"
	"sync/atomic"
)

// DefaultBuffer is the channel size of a subscription created with a
// non-positive buffer.
const DefaultBuffer = 256

// Subscription receives the events of the types it asked for. A slow
// subscriber loses events instead of blocking the exchange; Dropped counts
// them.
type Subscription struct {
	id      int
	all     bool
	types   map[Type]struct{}
	ch      chan Event
	dropped atomic.Uint64
	once    sync.Once
}

func (s *Subscription) ID() int { return s.id }

// C is closed when the subscription is removed or the broker is closed.
func (s *Subscription) C() <-chan Event { return s.ch }

func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

func (s *Subscription) wants(t Type) bool {
	if s.all {
		return true
	}
	_, ok := s.types[t]
	return ok
}

func (s *Subscription) close() {
	s.once.Do(func() { close(s.ch) })
}

// Broker fans events out to subscriptions. It is safe for concurrent use.
type Broker struct {
	mu     sync.RWMutex
	subs   map[int]*Subscription
	nextID int
	closed bool
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[int]*Subscription)}
}

// Subscribe registers a subscription for the given types, or for every
// type when none (or All) is given.
func (b *Broker) Subscribe(buffer int, types ...Type) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	s := &Subscription{
		types: make(map[Type]struct{}, len(types)),
		ch:    make(chan Event, buffer),
		all:   len(types) == 0,
	}
	for _, t := range types {
		if t == All {
			s.all = true
		}
		s.types[t] = struct{}{}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		s.close()
		return s
	}
	b.nextID++
	s.id = b.nextID
	b.subs[s.id] = s
	return s
}

func (b *Broker) Unsubscribe(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[s.id]; ok {
		delete(b.subs, s.id)
		s.close()
	}
}

// Send delivers events without blocking.
func (b *Broker) Send(evts ...Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, e := range evts {
		for _, s := range b.subs {
			if !s.wants(e.Type()) {
				continue
			}
			select {
			case s.ch <- e:
			default:
				s.dropped.Add(1)
			}
		}
	}
}

// Subscribers is the number of live subscriptions.
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscription. Later sends are ignored.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, s := range b.subs {
		s.close()
		delete(b.subs, id)
	}
}
