package trigger

import (
	_c "context"
	"sync"
	"testing"

	"github.com/RuiFG/streaming/streaming-trigger/log"
	"github.com/RuiFG/streaming/streaming-trigger/window"
	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
	"github.com/uber-go/tally/v4"
)

type mockWindow struct {
	maxGapSecond   int64
	hasMaxGap      bool
	realFireTimeFn func(instance *window.Instance) int64
	fireFn         func(ctx _c.Context, instance *window.Instance, offsets map[string]string) (int, error)
	receiver       window.Receiver

	mutex   *sync.Mutex
	fired   []string
	offsets map[string]map[string]string
	puts    map[string]int
}

func newMockWindow() *mockWindow {
	return &mockWindow{
		mutex:   &sync.Mutex{},
		offsets: map[string]map[string]string{},
		puts:    map[string]int{},
	}
}

func (m *mockWindow) Name() string { return "mock" }

func (m *mockWindow) RealFireTime(instance *window.Instance) int64 {
	if m.realFireTimeFn != nil {
		return m.realFireTimeFn(instance)
	}
	return instance.FireTime()
}

func (m *mockWindow) MaxGapSecond() (int64, bool) {
	return m.maxGapSecond, m.hasMaxGap
}

func (m *mockWindow) FireWindowInstance(ctx _c.Context, instance *window.Instance, offsets map[string]string) (int, error) {
	m.mutex.Lock()
	m.fired = append(m.fired, instance.Id())
	m.offsets[instance.Id()] = offsets
	m.mutex.Unlock()
	if m.fireFn != nil {
		return m.fireFn(ctx, instance, offsets)
	}
	return 1, nil
}

func (m *mockWindow) InstanceIndex() window.InstanceIndex { return m }

func (m *mockWindow) Put(id string, _ *window.Instance) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.puts[id]++
}

func (m *mockWindow) FireReceiver() window.Receiver { return m.receiver }

func (m *mockWindow) Fired() []string {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return append([]string(nil), m.fired...)
}

func (m *mockWindow) Puts(id string) int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.puts[id]
}

type testEngine struct {
	*Engine
	window *mockWindow
	clock  *clock.Mock
	scope  tally.TestScope
}

func newTestEngine(t *testing.T, w *mockWindow, withOptions ...WithOptions) *testEngine {
	mock := clock.NewMock()
	scope := tally.NewTestScope("", nil)
	engine, err := New(w, append([]WithOptions{
		WithClock(mock),
		WithScope(scope),
		WithLogger(log.Nop()),
	}, withOptions...)...)
	require.NoError(t, err)
	return &testEngine{Engine: engine, window: w, clock: mock, scope: scope}
}

func (e *testEngine) counter(name string) int64 {
	var value int64
	for _, snapshot := range e.scope.Snapshot().Counters() {
		if snapshot.Name() == name {
			value += snapshot.Value()
		}
	}
	return value
}

func instance(split string, start, fire int64) *window.Instance {
	return window.NewInstance("mock", split, start, fire, fire)
}
