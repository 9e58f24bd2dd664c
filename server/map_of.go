package server

import "sync"

// MapOf is a typed sync.Map.
type MapOf[K comparable, V any] struct {
	m sync.Map
}

func (m *MapOf[K, V]) Load(key K) (value V, ok bool) {
	v, ok := m.m.Load(key)
	if !ok {
		return value, false
	}
	return v.(V), true
}

func (m *MapOf[K, V]) Store(key K, value V) {
	m.m.Store(key, value)
}

func (m *MapOf[K, V]) LoadOrStore(key K, value V) (actual V, loaded bool) {
	a, loaded := m.m.LoadOrStore(key, value)
	return a.(V), loaded
}

func (m *MapOf[K, V]) LoadAndDelete(key K) (value V, loaded bool) {
	v, loaded := m.m.LoadAndDelete(key)
	if !loaded {
		return value, false
	}
	return v.(V), true
}

func (m *MapOf[K, V]) Delete(key K) {
	m.m.Delete(key)
}

// CompareAndDelete deletes the entry for key if its value is old.
func (m *MapOf[K, V]) CompareAndDelete(key K, old V) bool {
	return m.m.CompareAndDelete(key, old)
}

func (m *MapOf[K, V]) Range(f func(key K, value V) bool) {
	m.m.Range(func(k, v any) bool {
		return f(k.(K), v.(V))
	})
}
