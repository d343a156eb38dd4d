// Package events provides the publish/subscribe plumbing components use to
// report progress and outcomes upward.
package events

import (
	"maps"
	"slices"
	"sync"
)

// Handler receives published values
type Handler[T any] func(T)

// Bus fans a published value out to every subscribed handler.
// Handlers run synchronously on the publishing goroutine, so they must not
// block and may be called concurrently when several goroutines publish.
// The zero value is ready to use.
type Bus[T any] struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[int]Handler[T]
}

// Subscribe registers h and returns a function that removes it
func (b *Bus[T]) Subscribe(h Handler[T]) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.handlers == nil {
		b.handlers = make(map[int]Handler[T])
	}
	id := b.nextID
	b.nextID++
	b.handlers[id] = h

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.handlers, id)
			b.mu.Unlock()
		})
	}
}

// Publish delivers v to all handlers in subscription order
func (b *Bus[T]) Publish(v T) {
	b.mu.RLock()
	ids := slices.Sorted(maps.Keys(b.handlers))
	handlers := make([]Handler[T], 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, b.handlers[id])
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(v)
	}
}

// Len returns the number of active subscriptions
func (b *Bus[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers)
}

// Channel subscribes a buffered channel to the bus. Values are dropped when
// the buffer is full. The returned cancel function unsubscribes; the channel
// is never closed since publishers may still be running.
func Channel[T any](b *Bus[T], size int) (<-chan T, func()) {
	ch := make(chan T, size)
	cancel := b.Subscribe(func(v T) {
		select {
		case ch <- v:
		default:
		}
	})
	return ch, cancel
}
