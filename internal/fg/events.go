package fg

import (
	"slices"
	"sync"
)

// EventKind names a lifecycle notification.
type EventKind string

const (
	EventTargetAdded         EventKind = "targetAdded"
	EventTargetRemoved       EventKind = "targetRemoved"
	EventTargetFrozen        EventKind = "targetFrozen"
	EventTargetRestored      EventKind = "targetRestored"
	EventTargetChanged       EventKind = "targetChanged"
	EventTargetStatusChanged EventKind = "targetStatusChanged"
	EventWatcherError        EventKind = "watcherError"
)

// Event is one of the concrete event types below.
type Event interface {
	Kind() EventKind
}

type TargetAdded struct {
	Target *FreezeTarget `json:"target"`
}

type TargetRemoved struct {
	TargetID string `json:"targetId"`
}

type TargetFrozen struct {
	Target   *FreezeTarget `json:"target"`
	Snapshot *Snapshot     `json:"snapshot"`
}

type TargetRestored struct {
	Target *FreezeTarget `json:"target"`
}

type TargetChanged struct {
	TargetID    string   `json:"targetId"`
	Changes     []Change `json:"changes"`
	ChangeCount int      `json:"changeCount"`
}

type TargetStatusChanged struct {
	TargetID string `json:"targetId"`
	Status   Status `json:"status"`
}

type WatcherError struct {
	TargetID string `json:"targetId"`
	Message  string `json:"error"`
}

func (TargetAdded) Kind() EventKind         { return EventTargetAdded }
func (TargetRemoved) Kind() EventKind       { return EventTargetRemoved }
func (TargetFrozen) Kind() EventKind        { return EventTargetFrozen }
func (TargetRestored) Kind() EventKind      { return EventTargetRestored }
func (TargetChanged) Kind() EventKind       { return EventTargetChanged }
func (TargetStatusChanged) Kind() EventKind { return EventTargetStatusChanged }
func (WatcherError) Kind() EventKind        { return EventWatcherError }

// Publisher is the sending half of the event bus.
type Publisher interface {
	Publish(ev Event)
}

// Handler receives events. Handlers run on the publishing goroutine and must not block.
type Handler func(ev Event)

type subscription struct {
	kind    EventKind // empty matches every kind
	handler Handler
}

// EventBus is an explicit observer list. The zero value is ready to use.
type EventBus struct {
	mu   sync.RWMutex
	next int
	subs map[int]subscription
}

func NewEventBus() *EventBus {
	return &EventBus{}
}

// Subscribe registers h for events of the given kind and returns a function that removes it.
func (b *EventBus) Subscribe(kind EventKind, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs == nil {
		b.subs = make(map[int]subscription)
	}
	id := b.next
	b.next++
	b.subs[id] = subscription{kind: kind, handler: h}
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
}

// SubscribeAll registers h for every event kind.
func (b *EventBus) SubscribeAll(h Handler) func() {
	return b.Subscribe("", h)
}

// Publish delivers ev to every matching handler in subscription order.
func (b *EventBus) Publish(ev Event) {
	b.mu.RLock()
	ids := make([]int, 0, len(b.subs))
	for id, s := range b.subs {
		if s.kind == "" || s.kind == ev.Kind() {
			ids = append(ids, id)
		}
	}
	handlers := make([]Handler, 0, len(ids))
	slices.Sort(ids)
	for _, id := range ids {
		handlers = append(handlers, b.subs[id].handler)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}
