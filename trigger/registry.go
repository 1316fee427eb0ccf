package trigger

import (
	"sync"
	"time"

	"github.com/RuiFG/streaming/streaming-trigger/window"
	"github.com/benbjohnson/clock"
)

// Watermark is the highest event time observed for one instance.
type Watermark struct {
	MaxEventTime   int64
	LastAdvancedAt time.Time
}

type watermarkEntry struct {
	mutex     *sync.Mutex
	watermark Watermark
	removed   bool
}

type offsetEntry struct {
	mutex   *sync.Mutex
	offsets map[string]string
	removed bool
}

// Registry tracks the live instances of a window with their watermarks and split offsets.
// Every method is safe for concurrent use.
type Registry struct {
	window     window.Window
	clock      clock.Clock
	metrics    *metrics
	instances  *syncMap[string, *window.Instance]
	watermarks *syncMap[string, *watermarkEntry]
	offsets    *syncMap[string, *offsetEntry]
}

// RegisterIfAbsent reports whether instance was inserted. The first insertion
// publishes the instance to the window index.
func (r *Registry) RegisterIfAbsent(instance *window.Instance) bool {
	if _, loaded := r.instances.LoadOrStore(instance.Id(), instance); loaded {
		return false
	}
	r.metrics.registered.Inc(1)
	if r.window != nil {
		if index := r.window.InstanceIndex(); index != nil {
			index.Put(instance.Id(), instance)
		}
	}
	return true
}

// AdvanceWatermark raises the watermark of instance to eventTime if it is higher
// and registers the instance.
func (r *Registry) AdvanceWatermark(instance *window.Instance, eventTime int64) {
	id := instance.Id()
	for {
		entry, loaded := r.watermarks.LoadOrStore(id, &watermarkEntry{
			mutex:     &sync.Mutex{},
			watermark: Watermark{MaxEventTime: eventTime, LastAdvancedAt: r.clock.Now()},
		})
		if !loaded {
			break
		}
		entry.mutex.Lock()
		if entry.removed {
			entry.mutex.Unlock()
			continue
		}
		if eventTime > entry.watermark.MaxEventTime {
			entry.watermark.MaxEventTime = eventTime
		}
		entry.watermark.LastAdvancedAt = r.clock.Now()
		entry.mutex.Unlock()
		break
	}
	r.RegisterIfAbsent(instance)
}

func (r *Registry) Watermark(id string) (Watermark, bool) {
	entry, ok := r.watermarks.Load(id)
	if !ok {
		return Watermark{}, false
	}
	entry.mutex.Lock()
	defer entry.mutex.Unlock()
	if entry.removed {
		return Watermark{}, false
	}
	return entry.watermark, true
}

func (r *Registry) UpdateOffset(id string, split string, offset string) {
	for {
		entry, _ := r.offsets.LoadOrStore(id, &offsetEntry{mutex: &sync.Mutex{}, offsets: map[string]string{}})
		entry.mutex.Lock()
		if entry.removed {
			entry.mutex.Unlock()
			continue
		}
		entry.offsets[split] = offset
		entry.mutex.Unlock()
		return
	}
}

// Offsets returns a copy of the split offsets recorded for id.
func (r *Registry) Offsets(id string) map[string]string {
	offsets := map[string]string{}
	if entry, ok := r.offsets.Load(id); ok {
		entry.mutex.Lock()
		for split, offset := range entry.offsets {
			offsets[split] = offset
		}
		entry.mutex.Unlock()
	}
	return offsets
}

func (r *Registry) Get(id string) (*window.Instance, bool) {
	return r.instances.Load(id)
}

func (r *Registry) Snapshot() []*window.Instance {
	var instances []*window.Instance
	r.instances.Range(func(_ string, instance *window.Instance) bool {
		instances = append(instances, instance)
		return true
	})
	return instances
}

func (r *Registry) Len() int {
	return r.instances.Len()
}

// Unregister drops the registry entry only, the watermark and offsets stay for the emission.
func (r *Registry) Unregister(id string) {
	r.instances.Delete(id)
}

// Remove drops every trace of id.
func (r *Registry) Remove(id string) {
	r.instances.Delete(id)
	if entry, ok := r.watermarks.Load(id); ok {
		entry.mutex.Lock()
		entry.removed = true
		r.watermarks.CompareAndDelete(id, entry)
		entry.mutex.Unlock()
	}
	if entry, ok := r.offsets.Load(id); ok {
		entry.mutex.Lock()
		entry.removed = true
		r.offsets.CompareAndDelete(id, entry)
		entry.mutex.Unlock()
	}
}

func newRegistry(w window.Window, clk clock.Clock, m *metrics) *Registry {
	return &Registry{
		window:     w,
		clock:      clk,
		metrics:    m,
		instances:  newSyncMap[string, *window.Instance](),
		watermarks: newSyncMap[string, *watermarkEntry](),
		offsets:    newSyncMap[string, *offsetEntry](),
	}
}
