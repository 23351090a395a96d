package realtime

import (
	"reflect"
	"sync"
)

// Handler consumes one inbound event. Handlers run on the client's read
// goroutine, so they should hand off long work instead of blocking.
type Handler func(Event)

// Dispatcher maps event types to ordered handler lists. Registration order is
// delivery order, and a panicking handler never affects dispatch to the rest.
type Dispatcher struct {
	logger   Logger
	lock     sync.RWMutex
	handlers map[EventType][]registration
}

type registration struct {
	key uintptr
	fn  Handler
}

func NewDispatcher(logger Logger) *Dispatcher {
	return &Dispatcher{
		logger:   logger.WithField("component", "dispatcher"),
		handlers: make(map[EventType][]registration),
	}
}

// handlerKey identifies a handler by its function value, so the same value
// passed to On can later be passed to Off.
func handlerKey(h Handler) uintptr {
	return reflect.ValueOf(h).Pointer()
}

// On registers a handler for the given event type. Multiple handlers per type
// are allowed, including the same handler twice.
func (d *Dispatcher) On(event EventType, h Handler) {
	if h == nil {
		return
	}

	d.lock.Lock()
	defer d.lock.Unlock()

	d.handlers[event] = append(d.handlers[event], registration{key: handlerKey(h), fn: h})
}

// Off removes one registration of h for the given event type. Passing a
// handler that was never registered is a no-op.
func (d *Dispatcher) Off(event EventType, h Handler) {
	if h == nil {
		return
	}

	key := handlerKey(h)

	d.lock.Lock()
	defer d.lock.Unlock()

	regs := d.handlers[event]
	for i, reg := range regs {
		if reg.key == key {
			d.handlers[event] = append(regs[:i:i], regs[i+1:]...)
			break
		}
	}
	if len(d.handlers[event]) == 0 {
		delete(d.handlers, event)
	}
}

// Dispatch delivers the event to every handler registered for its type, in
// registration order. Unknown types simply match nothing.
func (d *Dispatcher) Dispatch(ev Event) {
	d.lock.RLock()
	regs := make([]registration, len(d.handlers[ev.Type]))
	copy(regs, d.handlers[ev.Type])
	d.lock.RUnlock()

	for _, reg := range regs {
		d.invoke(reg.fn, ev)
	}
}

func (d *Dispatcher) invoke(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Errorf("handler for %q panicked: %v", ev.Type, r)
		}
	}()

	h(ev)
}

// Close removes all handlers to prevent leaks once the client is destroyed.
func (d *Dispatcher) Close() {
	d.lock.Lock()
	defer d.lock.Unlock()

	d.handlers = make(map[EventType][]registration)
}
