package quote

import (
	"sync"
)

type EventKind int

const (
	EventConfigurationChanged EventKind = iota + 1
	EventResultChanged
)

func (k EventKind) String() string {
	switch k {
	case EventConfigurationChanged:
		return "configuration_changed"
	case EventResultChanged:
		return "result_changed"
	default:
		return "unknown"
	}
}

// Event is published on the store's bus. Snapshot is a consistent copy taken
// at publish time.
type Event struct {
	Kind     EventKind
	Snapshot Snapshot
}

type Listener func(Event)

// bus delivers events synchronously, in subscription order.
type bus struct {
	mu        sync.RWMutex
	nextID    int
	listeners map[EventKind][]subscription
}

type subscription struct {
	id int
	fn Listener
}

func newBus() *bus {
	return &bus{listeners: make(map[EventKind][]subscription)}
}

func (b *bus) subscribe(kind EventKind, fn Listener) (cancel func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.listeners[kind] = append(b.listeners[kind], subscription{id: id, fn: fn})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.listeners[kind]
		for i, s := range subs {
			if s.id == id {
				b.listeners[kind] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

func (b *bus) publish(ev Event) {
	b.mu.RLock()
	subs := append([]subscription(nil), b.listeners[ev.Kind]...)
	b.mu.RUnlock()

	for _, s := range subs {
		s.fn(ev)
	}
}
