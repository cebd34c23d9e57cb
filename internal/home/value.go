package home

import "sync"

// Value is an observable cell: readers always see a complete, previously
// published value, never a partial write.
type Value[T any] struct {
	mu sync.RWMutex
	v  T
}

func NewValue[T any](initial T) *Value[T] {
	return &Value[T]{v: initial}
}

func (v *Value[T]) Get() T {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.v
}

func (v *Value[T]) Set(x T) {
	v.mu.Lock()
	v.v = x
	v.mu.Unlock()
}

// Update replaces the value with fn(current) atomically and returns the result.
func (v *Value[T]) Update(fn func(T) T) T {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.v = fn(v.v)
	return v.v
}
