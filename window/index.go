package window

import "sync"

// MapIndex is a concurrent InstanceIndex.
type MapIndex struct {
	mm *sync.Map
}

func NewMapIndex() *MapIndex {
	return &MapIndex{mm: &sync.Map{}}
}

func (m *MapIndex) Put(id string, instance *Instance) {
	m.mm.Store(id, instance)
}

func (m *MapIndex) Get(id string) (*Instance, bool) {
	if v, ok := m.mm.Load(id); ok {
		return v.(*Instance), true
	}
	return nil, false
}

func (m *MapIndex) Delete(id string) {
	m.mm.Delete(id)
}

func (m *MapIndex) Len() int {
	n := 0
	m.mm.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
