package event

import (
	"reflect"
)

// Bus is a double-buffered event queue. Events emitted between two Flush
// calls are delivered together by the second one; events emitted by a
// handler during Flush wait for the next call.
type Bus struct {
	front    map[reflect.Type][]any
	back     map[reflect.Type][]any
	order    []reflect.Type
	handlers map[reflect.Type][]func(any)
}

func NewBus() *Bus {
	return &Bus{
		front:    make(map[reflect.Type][]any),
		back:     make(map[reflect.Type][]any),
		handlers: make(map[reflect.Type][]func(any)),
	}
}

func typeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// Emit queues an event for the next Flush. A nil bus drops it.
func Emit[T any](b *Bus, event T) {
	if b == nil {
		return
	}
	t := typeOf[T]()
	if _, seen := b.back[t]; !seen {
		b.order = append(b.order, t)
	}
	b.back[t] = append(b.back[t], event)
}

// Subscribe registers a typed handler for events of type T.
func Subscribe[T any](b *Bus, fn func(T)) {
	t := typeOf[T]()
	b.handlers[t] = append(b.handlers[t], func(ev any) { fn(ev.(T)) })
}

// Pending returns the number of queued events.
func (b *Bus) Pending() int {
	n := 0
	for _, evs := range b.back {
		n += len(evs)
	}
	return n
}

// Flush swaps the buffers and delivers every swapped-in event, grouped by
// type in order of first emission. It returns the number delivered.
func (b *Bus) Flush() int {
	order := b.order
	b.front, b.back = b.back, b.front
	b.order = nil
	for k := range b.back {
		delete(b.back, k)
	}

	n := 0
	for _, t := range order {
		for _, ev := range b.front[t] {
			for _, h := range b.handlers[t] {
				h(ev)
			}
			n++
		}
		delete(b.front, t)
	}
	return n
}
