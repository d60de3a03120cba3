// Package registry provides a concurrency-safe, insertion-ordered map of
// named definitions.
package registry

import (
	"errors"
	"fmt"
	"sync"
)

// ErrDuplicate is returned when a name is registered twice.
var ErrDuplicate = errors.New("already registered")

// Registry manages named values of one kind.
type Registry[T any] struct {
	mu    sync.RWMutex
	items map[string]T
	order []string
}

// New creates a new empty registry.
func New[T any]() *Registry[T] {
	return &Registry[T]{
		items: make(map[string]T),
	}
}

// Register adds a value under name. Names are unique.
func (r *Registry[T]) Register(name string, v T) error {
	if name == "" {
		return fmt.Errorf("register: empty name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[name]; ok {
		return fmt.Errorf("%q: %w", name, ErrDuplicate)
	}
	r.items[name] = v
	r.order = append(r.order, name)
	return nil
}

// Lookup returns the value registered under name.
func (r *Registry[T]) Lookup(name string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.items[name]
	return v, ok
}

// Names returns every registered name in registration order.
func (r *Registry[T]) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Len returns the number of registered values.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

// Each calls fn for every entry in registration order.
func (r *Registry[T]) Each(fn func(name string, v T)) {
	r.mu.RLock()
	names := append([]string(nil), r.order...)
	items := make([]T, len(names))
	for i, n := range names {
		items[i] = r.items[n]
	}
	r.mu.RUnlock()

	for i, n := range names {
		fn(n, items[i])
	}
}
