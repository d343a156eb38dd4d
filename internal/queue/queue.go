// Package queue provides the FIFO collection used for pending and
// suspended transfers.
package queue

// Item is anything addressable by a file identifier
type Item interface {
	Identifier() string
}

// Queue is an ordered FIFO of items with unique identifiers. It is not safe
// for concurrent use; the owner serializes access.
type Queue[T Item] struct {
	items []T
}

// New returns an empty queue
func New[T Item]() *Queue[T] {
	return &Queue[T]{}
}

// Insert appends item to the tail. It reports false and leaves the queue
// unchanged when an item with the same identifier is already queued.
func (q *Queue[T]) Insert(item T) bool {
	if q.FindByIdentifier(item.Identifier()) >= 0 {
		return false
	}
	q.items = append(q.items, item)
	return true
}

// RemoveHead pops the front item
func (q *Queue[T]) RemoveHead() (T, bool) {
	return q.RemoveAt(0)
}

// PeekHead returns the front item without removing it
func (q *Queue[T]) PeekHead() (T, bool) {
	return q.At(0)
}

// Size returns the number of queued items
func (q *Queue[T]) Size() int {
	return len(q.items)
}

// FindByIdentifier returns the position of the item with id, or -1
func (q *Queue[T]) FindByIdentifier(id string) int {
	for i, item := range q.items {
		if item.Identifier() == id {
			return i
		}
	}
	return -1
}

// At returns the item at position i
func (q *Queue[T]) At(i int) (T, bool) {
	var zero T
	if i < 0 || i >= len(q.items) {
		return zero, false
	}
	return q.items[i], true
}

// RemoveAt removes and returns the item at position i
func (q *Queue[T]) RemoveAt(i int) (T, bool) {
	item, ok := q.At(i)
	if !ok {
		return item, false
	}
	var zero T
	copy(q.items[i:], q.items[i+1:])
	q.items[len(q.items)-1] = zero
	q.items = q.items[:len(q.items)-1]
	return item, true
}

// Remove removes the item with id
func (q *Queue[T]) Remove(id string) (T, bool) {
	return q.RemoveAt(q.FindByIdentifier(id))
}

// All returns a copy of the queued items in order
func (q *Queue[T]) All() []T {
	out := make([]T, len(q.items))
	copy(out, q.items)
	return out
}
