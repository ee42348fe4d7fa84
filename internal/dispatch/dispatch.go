// Package dispatch is a per-room event bus. Handlers subscribe by envelope
// type and are invoked one event at a time in subscription order.
package dispatch

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"liveclass/pkg/logger"
	"liveclass/pkg/types"
)

// Event is what handlers receive.
type Event struct {
	Type    types.Type
	Room    string
	From    types.ClientID
	Payload types.Payload
}

// Handler reacts to an event. A returned error is logged and does not stop
// later handlers.
type Handler func(ctx context.Context, ev Event) error

// Subscription identifies a registered handler so it can be removed.
type Subscription uint64

type entry struct {
	id Subscription
	fn Handler
}

type pending struct {
	ctx context.Context
	ev  Event
}

// Dispatcher delivers events to subscribers. Emit may be called from inside
// a handler; the nested event is queued and runs after the current one.
type Dispatcher struct {
	name string

	mu       sync.Mutex
	handlers map[types.Type][]entry
	nextID   Subscription
	queue    []pending
	draining bool
}

// New creates a dispatcher. The name only appears in logs.
func New(name string) *Dispatcher {
	return &Dispatcher{
		name:     name,
		handlers: make(map[types.Type][]entry),
	}
}

// On registers h for events of type t.
func (d *Dispatcher) On(t types.Type, h Handler) Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	d.handlers[t] = append(d.handlers[t], entry{id: d.nextID, fn: h})
	return d.nextID
}

// Off removes a subscription. It reports whether anything was removed.
func (d *Dispatcher) Off(t types.Type, sub Subscription) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	list := d.handlers[t]
	for i, e := range list {
		if e.id != sub {
			continue
		}
		next := make([]entry, 0, len(list)-1)
		next = append(next, list[:i]...)
		next = append(next, list[i+1:]...)
		if len(next) == 0 {
			delete(d.handlers, t)
		} else {
			d.handlers[t] = next
		}
		return true
	}
	return false
}

// Len returns how many handlers are registered for t.
func (d *Dispatcher) Len(t types.Type) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.handlers[t])
}

// Clear drops every subscription.
func (d *Dispatcher) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = make(map[types.Type][]entry)
}

// Emit delivers ev to every handler registered for ev.Type. If another Emit
// is already draining the queue, ev is appended and Emit returns at once;
// the draining caller runs it.
func (d *Dispatcher) Emit(ctx context.Context, ev Event) {
	d.mu.Lock()
	d.queue = append(d.queue, pending{ctx: ctx, ev: ev})
	if d.draining {
		d.mu.Unlock()
		return
	}
	d.draining = true

	for len(d.queue) > 0 {
		next := d.queue[0]
		d.queue[0] = pending{}
		d.queue = d.queue[1:]
		// snapshot so handlers may subscribe or unsubscribe while running
		subs := append([]entry(nil), d.handlers[next.ev.Type]...)
		d.mu.Unlock()

		for _, s := range subs {
			d.invoke(next.ctx, s, next.ev)
		}

		d.mu.Lock()
	}
	d.queue = nil
	d.draining = false
	d.mu.Unlock()
}

func (d *Dispatcher) invoke(ctx context.Context, s entry, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("event handler panicked",
				zap.String("dispatcher", d.name),
				zap.String("type", string(ev.Type)),
				zap.Uint64("subscription", uint64(s.id)),
				zap.String("panic", fmt.Sprint(r)))
		}
	}()

	if err := s.fn(ctx, ev); err != nil {
		logger.Warn("event handler failed",
			zap.String("dispatcher", d.name),
			zap.String("type", string(ev.Type)),
			zap.Error(err))
	}
}
