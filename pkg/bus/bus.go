// Package bus provides the in-process fan-out channel for server-pushed
// change notifications. Publish is synchronous: every subscriber runs on the
// publisher's goroutine, in subscription order, before Publish returns.
// There is no queuing or replay; a listener attached after an event has fired
// never sees it, except through the explicit sticky subscription which
// replays the most recent event once on attach.
package bus

import (
	"sync"

	"github.com/oklog/ulid/v2"
)

// Handler receives published events. Handlers are UI callbacks; a panicking
// handler is recovered so fan-out to the remaining listeners still proceeds.
type Handler func(Event)

type subscription struct {
	id      string
	handler Handler
}

// Bus is the process-wide change-event channel.
type Bus struct {
	mu        sync.Mutex
	subs      []subscription
	last      *Event
	published uint64
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{}
}

// Publish fans the event out to all current subscribers in subscription
// order. It never blocks on a listener and returns once every handler ran.
func (b *Bus) Publish(evt Event) {
	b.mu.Lock()
	b.last = &evt
	b.published++
	snapshot := make([]subscription, len(b.subs))
	copy(snapshot, b.subs)
	b.mu.Unlock()

	for _, sub := range snapshot {
		dispatch(sub.handler, evt)
	}
}

// Subscribe registers a listener and returns its unsubscribe function.
// The listener only sees events published after this call.
func (b *Bus) Subscribe(handler Handler) func() {
	return b.subscribe(handler, false)
}

// SubscribeSticky registers a listener that is first handed the most recent
// event, synchronously, before it starts receiving live events. Used by the
// lightweight last-event cache; everything else should use Subscribe.
func (b *Bus) SubscribeSticky(handler Handler) func() {
	return b.subscribe(handler, true)
}

func (b *Bus) subscribe(handler Handler, sticky bool) func() {
	if handler == nil {
		return func() {}
	}

	b.mu.Lock()
	id := ulid.Make().String()
	b.subs = append(b.subs, subscription{id: id, handler: handler})
	var replay *Event
	if sticky && b.last != nil {
		evt := *b.last
		replay = &evt
	}
	b.mu.Unlock()

	if replay != nil {
		dispatch(handler, *replay)
	}

	return func() { b.unsubscribe(id) }
}

func (b *Bus) unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subs {
		if sub.id == id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Published returns the number of events published so far.
func (b *Bus) Published() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.published
}

func dispatch(handler Handler, evt Event) {
	defer func() {
		// Handlers must not take the bus down with them.
		_ = recover()
	}()
	handler(evt)
}
