package gcd

import (
	"context"
	stderrs "errors"
	"fmt"
	"sync"

	"github.com/pkg/errors"
)

// EventKind identifies a kind of store event.
type EventKind int

const (
	// EventValueChanged is published after a save whose payload differs
	// from the previous head of the key (or when the key was absent).
	EventValueChanged EventKind = iota + 1
)

func (k EventKind) String() string {
	switch k {
	case EventValueChanged:
		return "VALUE_CHANGED"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

type noValue struct{}

func (noValue) String() string { return "<no value>" }

// NoValue is the Prev value of an event for a key that had no previous packet.
var NoValue interface{} = noValue{}

// Event describes a change to a key.
type Event struct {
	Kind EventKind
	Key  string

	// Value is the new payload.
	Value interface{}

	// Prev is the previous payload, or NoValue.
	Prev interface{}

	// Packet is the persisted packet that caused the event.
	Packet *Packet
}

// Handler is a callback for events.
type Handler func(context.Context, Event) error

// Dispatcher delivers events to subscribed handlers.
// Each Store owns one; there is no process-wide bus.
type Dispatcher struct {
	mu       sync.Mutex
	handlers map[EventKind][]Handler
}

// NewDispatcher produces a Dispatcher with no subscribers.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[EventKind][]Handler)}
}

// Subscribe registers h for events of the given kind.
func (d *Dispatcher) Subscribe(kind EventKind, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[kind] = append(d.handlers[kind], h)
}

// Publish synchronously calls every handler subscribed to ev.Kind,
// in subscription order.
//
// A handler error does not prevent later handlers from running;
// the errors are combined in the result.
// A handler that panics is not recovered,
// and handlers after it do not run.
func (d *Dispatcher) Publish(ctx context.Context, ev Event) error {
	d.mu.Lock()
	handlers := make([]Handler, len(d.handlers[ev.Kind]))
	copy(handlers, d.handlers[ev.Kind])
	d.mu.Unlock()

	var errs []error
	for i, h := range handlers {
		if err := h(ctx, ev); err != nil {
			errs = append(errs, errors.Wrapf(err, "%s handler %d for %s", ev.Kind, i, ev.Key))
		}
	}
	return stderrs.Join(errs...)
}
