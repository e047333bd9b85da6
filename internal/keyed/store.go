// Package keyed provides a concurrency-safe keyed collection with move-out
// removal and mutation-safe iteration.
package keyed

import "sync"

// Store maps keys to owned values. Remove hands the value back to the caller
// so ownership leaves the store with it.
type Store[K comparable, V any] struct {
	mu    sync.RWMutex
	items map[K]V
}

func New[K comparable, V any]() *Store[K, V] {
	return &Store[K, V]{items: make(map[K]V)}
}

func (s *Store[K, V]) Get(key K) (V, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.items[key]
	return v, ok
}

// Put stores v under key and returns any value it replaced.
func (s *Store[K, V]) Put(key K, v V) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.items[key]
	s.items[key] = v
	return prev, ok
}

// PutIfAbsent stores v only when key is free. It returns the resident value
// and false when the key was already taken.
func (s *Store[K, V]) PutIfAbsent(key K, v V) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.items[key]; ok {
		return prev, false
	}
	s.items[key] = v
	return v, true
}

// Remove deletes key and returns the value it held.
func (s *Store[K, V]) Remove(key K) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.items[key]
	if ok {
		delete(s.items, key)
	}
	return v, ok
}

// ForEach visits a point-in-time copy of the entries. fn may call any Store
// method, including Remove on the visited key.
func (s *Store[K, V]) ForEach(fn func(key K, v V)) {
	type entry struct {
		k K
		v V
	}
	s.mu.RLock()
	snap := make([]entry, 0, len(s.items))
	for k, v := range s.items {
		snap = append(snap, entry{k: k, v: v})
	}
	s.mu.RUnlock()
	for _, e := range snap {
		fn(e.k, e.v)
	}
}

// Drain removes every entry and returns them.
func (s *Store[K, V]) Drain() map[K]V {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.items
	s.items = make(map[K]V)
	return out
}

func (s *Store[K, V]) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
