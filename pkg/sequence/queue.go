package sequence

import "sync"

// Queue is an unbounded FIFO safe for one producer and one consumer running
// on different goroutines (or any number of each).
type Queue[T any] struct {
	mx    sync.Mutex
	items []T
	head  int
}

func NewQueue[T any]() *Queue[T] {
	return &Queue[T]{}
}

// Push appends value to the tail.
func (q *Queue[T]) Push(value T) {
	q.mx.Lock()
	q.items = append(q.items, value)
	q.mx.Unlock()
}

// Pop removes the head. It never blocks; ok is false when the queue is empty.
func (q *Queue[T]) Pop() (value T, ok bool) {
	q.mx.Lock()
	defer q.mx.Unlock()

	if q.head == len(q.items) {
		return value, false
	}

	value = q.items[q.head]
	var zero T
	q.items[q.head] = zero // avoid memory leak
	q.head++

	// compact once the consumed prefix dominates the backing array
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	} else if q.head > 64 && q.head*2 > len(q.items) {
		n := copy(q.items, q.items[q.head:])
		q.items = q.items[:n]
		q.head = 0
	}

	return value, true
}

func (q *Queue[T]) Peek() (value T, ok bool) {
	q.mx.Lock()
	defer q.mx.Unlock()

	if q.head == len(q.items) {
		return value, false
	}
	return q.items[q.head], true
}

func (q *Queue[T]) Len() int {
	q.mx.Lock()
	defer q.mx.Unlock()
	return len(q.items) - q.head
}

func (q *Queue[T]) IsEmpty() bool {
	return q.Len() == 0
}
