package window

import (
	_c "context"
	"sync"
	"time"

	"github.com/RuiFG/streaming/streaming-trigger/checkpoint"
	"github.com/RuiFG/streaming/streaming-trigger/log"
	"github.com/pkg/errors"
)

// Result is what CountWindow emits for a fired instance.
type Result struct {
	InstanceId string
	WindowName string
	SplitId    string
	StartTime  int64
	EndTime    int64
	// Watermark is the split event time the instance fired at, -1 if none
	Watermark int64
	Counts    map[string]int64
	Offsets   map[string]string
}

type SinkFn func(ctx _c.Context, result Result) error

// CountWindow counts events per key for every tumbling instance.
type CountWindow struct {
	name            string
	logger          log.Logger
	assigner        *Assigner
	allowedLateness int64
	maxGapSecond    int64
	hasMaxGap       bool
	sinkFn          SinkFn
	backend         checkpoint.Backend
	index           *MapIndex
	registrar       Registrar

	mutex         *sync.Mutex
	accumulators  map[string]map[string]int64
	// open instances and max event time per split
	open          map[string]map[string]*Instance
	maxEventTimes map[string]int64
}

type CountOption func(w *CountWindow) error

func WithAllowedLateness(allowedLateness time.Duration) CountOption {
	return func(w *CountWindow) error {
		if allowedLateness < 0 {
			return errors.Errorf("allowedLateness can't less than 0")
		}
		w.allowedLateness = allowedLateness.Milliseconds()
		return nil
	}
}

func WithMaxGapSecond(maxGapSecond int64) CountOption {
	return func(w *CountWindow) error {
		if maxGapSecond < 0 {
			return errors.Errorf("maxGapSecond can't less than 0")
		}
		w.maxGapSecond = maxGapSecond
		w.hasMaxGap = true
		return nil
	}
}

func WithSink(fn SinkFn) CountOption {
	return func(w *CountWindow) error {
		if fn == nil {
			return errors.Errorf("SinkFn can't be nil")
		}
		w.sinkFn = fn
		return nil
	}
}

// WithCheckpointBackend saves the offsets of every fired instance under its split.
func WithCheckpointBackend(backend checkpoint.Backend) CountOption {
	return func(w *CountWindow) error {
		w.backend = backend
		return nil
	}
}

func WithLogger(logger log.Logger) CountOption {
	return func(w *CountWindow) error {
		w.logger = logger
		return nil
	}
}

func NewCountWindow(assigner *Assigner, options ...CountOption) (*CountWindow, error) {
	if assigner == nil {
		return nil, errors.Errorf("assigner can't be nil")
	}
	w := &CountWindow{
		name:          assigner.windowName,
		logger:        log.Global().Named("window"),
		assigner:      assigner,
		sinkFn:        func(_c.Context, Result) error { return nil },
		index:         NewMapIndex(),
		mutex:         &sync.Mutex{},
		accumulators:  map[string]map[string]int64{},
		open:          map[string]map[string]*Instance{},
		maxEventTimes: map[string]int64{},
	}
	for _, option := range options {
		if err := option(w); err != nil {
			return nil, errors.WithMessagef(err, "%s illegal parameter", w.name)
		}
	}
	return w, nil
}

// Attach binds the engine the window reports its instances to.
func (w *CountWindow) Attach(registrar Registrar) {
	w.registrar = registrar
}

func (w *CountWindow) Name() string {
	return w.name
}

func (w *CountWindow) RealFireTime(instance *Instance) int64 {
	return instance.FireTime() + w.allowedLateness
}

func (w *CountWindow) MaxGapSecond() (int64, bool) {
	return w.maxGapSecond, w.hasMaxGap
}

func (w *CountWindow) InstanceIndex() InstanceIndex {
	return w.index
}

func (w *CountWindow) Instances() *MapIndex {
	return w.index
}

func (w *CountWindow) FireReceiver() Receiver {
	return w
}

func (w *CountWindow) Receive(_ _c.Context, message any) error {
	var event *Event
	switch m := message.(type) {
	case *Event:
		event = m
	case Event:
		event = &m
	default:
		return errors.Errorf("%s can't receive message of type %T", w.name, message)
	}
	if w.registrar == nil {
		return errors.Errorf("%s is not attached to a trigger engine", w.name)
	}
	instances := w.assigner.AssignInstances(event.SplitId, event.Timestamp)
	// the registrar is called under the lock, so a firing can't interleave and
	// bring a fired instance back
	w.mutex.Lock()
	defer w.mutex.Unlock()
	open, ok := w.open[event.SplitId]
	if !ok {
		open = map[string]*Instance{}
		w.open[event.SplitId] = open
	}
	for _, instance := range instances {
		counts, ok := w.accumulators[instance.Id()]
		if !ok {
			counts = map[string]int64{}
			w.accumulators[instance.Id()] = counts
		}
		counts[event.Key]++
		if _, ok := open[instance.Id()]; !ok {
			open[instance.Id()] = instance
		}
	}
	maxEventTime, ok := w.maxEventTimes[event.SplitId]
	if !ok || event.Timestamp > maxEventTime {
		maxEventTime = event.Timestamp
		w.maxEventTimes[event.SplitId] = maxEventTime
	}

	// every open instance of the split sees the split event time
	for _, instance := range open {
		w.registrar.UpdateLastUpdateTime(instance, maxEventTime)
	}
	if event.Offset != "" {
		for _, instance := range instances {
			w.registrar.UpdateOffset(instance.Id(), event.SplitId, event.Offset)
		}
	}
	return nil
}

func (w *CountWindow) FireWindowInstance(ctx _c.Context, instance *Instance, offsets map[string]string) (int, error) {
	w.mutex.Lock()
	counts := w.accumulators[instance.Id()]
	delete(w.accumulators, instance.Id())
	if open, ok := w.open[instance.SplitId()]; ok {
		delete(open, instance.Id())
		if len(open) == 0 {
			delete(w.open, instance.SplitId())
		}
	}
	w.mutex.Unlock()
	w.index.Delete(instance.Id())

	watermark, ok := instance.LastMaxUpdateTime()
	if !ok {
		watermark = -1
	}
	if len(counts) > 0 {
		if err := w.sinkFn(ctx, Result{
			InstanceId: instance.Id(),
			WindowName: instance.WindowName(),
			SplitId:    instance.SplitId(),
			StartTime:  instance.StartTime(),
			EndTime:    instance.EndTime(),
			Watermark:  watermark,
			Counts:     counts,
			Offsets:    offsets,
		}); err != nil {
			return 0, errors.WithMessagef(err, "failed to sink %s", instance.Id())
		}
	}
	if w.backend != nil && len(offsets) > 0 {
		if err := w.backend.Save(instance.SplitId(), offsets); err != nil {
			return len(counts), errors.WithMessagef(err, "failed to save offsets of %s", instance.Id())
		}
	}
	w.logger.Debugw("fire window instance.", "instance", instance.Id(), "keys", len(counts))
	return len(counts), nil
}
