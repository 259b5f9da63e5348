// Package sync holds a map guarded by a RWMutex that supports multi-key
// updates under one lock.
package sync

import (
	"iter"
	"maps"
	"slices"
	"sync"
)

type Map[K comparable, V any] struct {
	mu sync.RWMutex
	m  map[K]V
}

func NewMap[K comparable, V any]() *Map[K, V] {
	return &Map[K, V]{m: make(map[K]V)}
}

func (m *Map[K, V]) Load(key K) (V, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.m[key]
	return v, ok
}

func (m *Map[K, V]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.m)
}

// All iterates under the read lock; the loop body must not write to m.
func (m *Map[K, V]) All() iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		m.mu.RLock()
		defer m.mu.RUnlock()
		for k, v := range m.m {
			if !yield(k, v) {
				return
			}
		}
	}
}

// Values is a snapshot; the lock is not held once it returns.
func (m *Map[K, V]) Values() []V {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Collect(maps.Values(m.m))
}

// View is the map as seen inside WithLock. It must not escape the callback.
type View[K comparable, V any] interface {
	Get(key K) (V, bool)
	Set(key K, value V)
	Delete(key K)
	Len() int
	// All allows deleting the current key from the loop body.
	All() iter.Seq2[K, V]
	// Drain removes and returns every value.
	Drain() []V
}

type view[K comparable, V any] map[K]V

func (v view[K, V]) Get(key K) (V, bool) {
	val, ok := v[key]
	return val, ok
}

func (v view[K, V]) Set(key K, value V) { v[key] = value }

func (v view[K, V]) Delete(key K) { delete(v, key) }

func (v view[K, V]) Len() int { return len(v) }

func (v view[K, V]) All() iter.Seq2[K, V] { return maps.All(v) }

func (v view[K, V]) Drain() []V {
	vals := slices.Collect(maps.Values(v))
	clear(v)
	return vals
}

// WithLock runs f under the write lock, so a get-then-set in f is atomic.
// The lock is released even if f panics.
func (m *Map[K, V]) WithLock(f func(view View[K, V])) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f(view[K, V](m.m))
}
