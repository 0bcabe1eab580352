// Package generic holds small type-safe wrappers around standard library
// containers.
package generic

import "sync"

// Pool is a typed sync.Pool. Values rejected by keep are dropped on Put
// instead of being recycled.
type Pool[T any] struct {
	pool sync.Pool
	keep func(T) bool
}

func NewPool[T any](generate func() T, keep func(T) bool) *Pool[T] {
	return &Pool[T]{
		pool: sync.Pool{
			New: func() any {
				return generate()
			},
		},
		keep: keep,
	}
}

func (p *Pool[T]) Get() T {
	return p.pool.Get().(T)
}

func (p *Pool[T]) Put(value T) {
	if p.keep != nil && !p.keep(value) {
		return
	}
	p.pool.Put(value)
}
