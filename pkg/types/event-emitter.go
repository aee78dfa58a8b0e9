package types

import "sync"

// EventName identifies a channel of events on an EventEmitter.
type EventName string

// EventListener is a callback registered against an EventName. It receives
// the raw arguments passed to Emit.
type EventListener func(args ...any)

// Events maps an EventName to the ordered listeners registered for it.
type Events map[EventName][]EventListener

// EventEmitter is a minimal Node-style event emitter: callers register
// listeners by name and later emit by name, in the order they were added.
// It never limits the number of listeners attached to a single event.
type EventEmitter struct {
	mu        sync.RWMutex
	events    Events
	onceFlags map[EventName]map[int]bool
	nextID    int
}

// NewEventEmitter returns a ready-to-use EventEmitter.
func NewEventEmitter() *EventEmitter {
	return &EventEmitter{
		events:    Events{},
		onceFlags: map[EventName]map[int]bool{},
	}
}

// On registers listener to be called every time name is emitted.
func (e *EventEmitter) On(name EventName, listener EventListener) *EventEmitter {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events[name] = append(e.events[name], listener)
	return e
}

// AddListener is an alias of On.
func (e *EventEmitter) AddListener(name EventName, listener EventListener) *EventEmitter {
	return e.On(name, listener)
}

// Once registers listener to be called at most once, on the next emission of name.
func (e *EventEmitter) Once(name EventName, listener EventListener) *EventEmitter {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextID
	e.nextID++
	wrapped := func(args ...any) {
		e.mu.Lock()
		flags := e.onceFlags[name]
		if flags == nil || flags[id] {
			e.mu.Unlock()
			return
		}
		flags[id] = true
		e.mu.Unlock()
		listener(args...)
	}
	if e.onceFlags[name] == nil {
		e.onceFlags[name] = map[int]bool{}
	}
	e.onceFlags[name][id] = false
	e.events[name] = append(e.events[name], wrapped)
	return e
}

// Emit synchronously invokes every listener registered for name, in order.
func (e *EventEmitter) Emit(name EventName, args ...any) {
	e.mu.RLock()
	listeners := append([]EventListener{}, e.events[name]...)
	e.mu.RUnlock()
	for _, l := range listeners {
		l(args...)
	}
}

// EmitReserved is an alias of Emit kept for parity with typed wrappers that
// distinguish reserved (framework) events from user events; both dispatch
// identically at this layer.
func (e *EventEmitter) EmitReserved(name EventName, args ...any) {
	e.Emit(name, args...)
}

// RemoveListener removes every listener registered under name. Since wrapped
// closures (Once) cannot be compared to the original function value, callers
// that need to remove a single listener should track it via RemoveAllListeners
// or re-create the emitter scope.
func (e *EventEmitter) RemoveListener(name EventName) *EventEmitter {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.events, name)
	delete(e.onceFlags, name)
	return e
}

// RemoveAllListeners clears every registered listener across all event names.
func (e *EventEmitter) RemoveAllListeners() *EventEmitter {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = Events{}
	e.onceFlags = map[EventName]map[int]bool{}
	return e
}

// ListenerCount returns the number of listeners registered for name.
func (e *EventEmitter) ListenerCount(name EventName) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.events[name])
}

// Listeners returns a snapshot of the listeners registered for name.
func (e *EventEmitter) Listeners(name EventName) []EventListener {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]EventListener{}, e.events[name]...)
}

// EventNames returns every event name currently carrying at least one listener.
func (e *EventEmitter) EventNames() []EventName {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]EventName, 0, len(e.events))
	for name := range e.events {
		names = append(names, name)
	}
	return names
}

// Clear is an alias of RemoveAllListeners.
func (e *EventEmitter) Clear() {
	e.RemoveAllListeners()
}

// Len returns the total number of event names with at least one listener.
func (e *EventEmitter) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.events)
}
