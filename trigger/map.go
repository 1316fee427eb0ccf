package trigger

import "sync"

type syncMap[K comparable, V any] struct {
	mm *sync.Map
}

func newSyncMap[K comparable, V any]() *syncMap[K, V] {
	return &syncMap[K, V]{mm: &sync.Map{}}
}

func (s *syncMap[K, V]) Load(key K) (V, bool) {
	if load, ok := s.mm.Load(key); !ok {
		var zero V
		return zero, false
	} else {
		return load.(V), true
	}
}

// LoadOrStore reports true if the key was already present.
func (s *syncMap[K, V]) LoadOrStore(key K, value V) (V, bool) {
	actual, loaded := s.mm.LoadOrStore(key, value)
	return actual.(V), loaded
}

func (s *syncMap[K, V]) Delete(key K) {
	s.mm.Delete(key)
}

func (s *syncMap[K, V]) CompareAndDelete(key K, old V) bool {
	return s.mm.CompareAndDelete(key, old)
}

func (s *syncMap[K, V]) Range(fn func(key K, value V) bool) {
	s.mm.Range(func(key, value any) bool {
		return fn(key.(K), value.(V))
	})
}

func (s *syncMap[K, V]) Len() int {
	n := 0
	s.mm.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
