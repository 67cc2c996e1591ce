package bridge

import (
	"sync"

	"github.com/perchworks/gangway/internal/protocol"
)

// Handler receives one decoded message. Handlers run synchronously on the
// receive path: a slow handler stalls further delivery, so anything that
// blocks must hand off to its own goroutine.
type Handler func(msg protocol.Message)

type subscription struct {
	id int
	fn Handler
}

// Dispatcher routes decoded messages to subscribers by type tag. Multiple
// handlers may subscribe to one type; they run in subscription order.
type Dispatcher struct {
	mu       sync.Mutex
	nextID   int
	handlers map[string][]subscription
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string][]subscription)}
}

// Subscribe registers a handler for a message type and returns an
// unsubscribe func. Unsubscribing during dispatch of that same type is safe
// and does not affect delivery of the message currently in flight.
func (d *Dispatcher) Subscribe(typ string, fn Handler) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	id := d.nextID
	d.handlers[typ] = append(d.handlers[typ], subscription{id: id, fn: fn})
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		subs := d.handlers[typ]
		for i, s := range subs {
			if s.id == id {
				d.handlers[typ] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Dispatch delivers one message to all current subscribers for its type.
// A type with no subscribers is silently dropped.
func (d *Dispatcher) Dispatch(msg protocol.Message) {
	if msg == nil {
		return
	}
	d.mu.Lock()
	subs := d.handlers[msg.MessageType()]
	// Snapshot so handlers can unsubscribe mid-dispatch.
	snapshot := make([]subscription, len(subs))
	copy(snapshot, subs)
	d.mu.Unlock()

	for _, s := range snapshot {
		s.fn(msg)
	}
}
