package events

import (
	"sync"

	"atomicqueue/core/types"
)

// Event represents a structured state change emitted by the queue.
type Event interface {
	EventType() string
}

// Recordable events can be flattened for subscribers and logs.
type Recordable interface {
	Event
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Flatten returns the attribute form of evt, or a bare type record when the
// event does not implement Recordable.
func Flatten(evt Event) *types.Event {
	if evt == nil {
		return nil
	}
	if rec, ok := evt.(Recordable); ok {
		if flat := rec.Event(); flat != nil {
			return flat
		}
	}
	return &types.Event{Type: evt.EventType(), Attributes: map[string]string{}}
}

// Buffer holds events until the surrounding operation has succeeded. A
// failed operation calls Reset and nothing it emitted is ever observed.
type Buffer struct {
	events []Event
}

// Emit implements the Emitter interface.
func (b *Buffer) Emit(evt Event) {
	if evt == nil {
		return
	}
	b.events = append(b.events, evt)
}

// Len reports the number of buffered events.
func (b *Buffer) Len() int { return len(b.events) }

// Reset drops buffered events.
func (b *Buffer) Reset() { b.events = nil }

// Flush forwards buffered events to dst in emission order and empties the buffer.
func (b *Buffer) Flush(dst Emitter) {
	pending := b.events
	b.events = nil
	if dst == nil {
		return
	}
	for _, evt := range pending {
		dst.Emit(evt)
	}
}

// Fanout emits every event to each of its emitters in order.
type Fanout []Emitter

// Emit implements the Emitter interface.
func (f Fanout) Emit(evt Event) {
	for _, em := range f {
		if em != nil {
			em.Emit(evt)
		}
	}
}

// Broadcaster delivers flattened events to live subscribers. Slow
// subscribers lose events rather than stall the emitter.
type Broadcaster struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]chan *types.Event
}

// NewBroadcaster returns a broadcaster with no subscribers.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[uint64]chan *types.Event)}
}

// Emit implements the Emitter interface.
func (b *Broadcaster) Emit(evt Event) {
	flat := Flatten(evt)
	if flat == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- flat.Clone():
		default:
		}
	}
}

// Subscribe registers a subscriber with the given channel capacity. The
// returned cancel func unregisters it and closes the channel.
func (b *Broadcaster) Subscribe(capacity int) (<-chan *types.Event, func()) {
	if capacity <= 0 {
		capacity = 64
	}
	ch := make(chan *types.Event, capacity)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Subscribers reports the number of live subscriptions.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
