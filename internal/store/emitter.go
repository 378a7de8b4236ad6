package store

import (
	"log/slog"
	"sync"
)

// Emitter fans values out to registered listeners in registration order.
// A panicking listener is logged and does not stop the others.
type Emitter[T any] struct {
	mu        sync.Mutex
	nextID    uint64
	listeners []listener[T]
	logger    *slog.Logger
	clone     func(T) T
}

type listener[T any] struct {
	id uint64
	fn func(T)
}

// NewEmitter creates an Emitter that logs listener panics to logger. When
// clone is non-nil every listener receives its own clone(v); otherwise all
// listeners share v.
func NewEmitter[T any](logger *slog.Logger, clone func(T) T) *Emitter[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter[T]{logger: logger, clone: clone}
}

// On registers fn and returns a function that unregisters it. Calling the
// returned function more than once is harmless.
func (e *Emitter[T]) On(fn func(T)) (off func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	id := e.nextID
	e.listeners = append(e.listeners, listener[T]{id: id, fn: fn})

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		for i, l := range e.listeners {
			if l.id == id {
				e.listeners = append(e.listeners[:i:i], e.listeners[i+1:]...)
				return
			}
		}
	}
}

// Emit calls every listener with v. Listeners registered or removed during
// Emit take effect from the next call.
func (e *Emitter[T]) Emit(v T) {
	e.mu.Lock()
	current := make([]listener[T], len(e.listeners))
	copy(current, e.listeners)
	e.mu.Unlock()

	for _, l := range current {
		if e.clone != nil {
			e.call(l.fn, e.clone(v))
		} else {
			e.call(l.fn, v)
		}
	}
}

// Len returns the number of registered listeners.
func (e *Emitter[T]) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners)
}

func (e *Emitter[T]) call(fn func(T), v T) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("change listener panicked", "panic", r)
		}
	}()
	fn(v)
}
