package trigger

import (
	_c "context"
	"sync"
	"testing"
	"time"

	"github.com/RuiFG/streaming/streaming-trigger/checkpoint"
	"github.com/RuiFG/streaming/streaming-trigger/log"
	"github.com/RuiFG/streaming/streaming-trigger/window"
	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uber-go/tally/v4"
)

type recordReceiver struct {
	mutex    *sync.Mutex
	messages []any
}

func (r *recordReceiver) Receive(_ _c.Context, message any) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.messages = append(r.messages, message)
	return nil
}

func TestNew(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, ErrNilWindow)

	_, err = New(newMockWindow(), WithBatchSize(0))
	assert.Error(t, err)
	_, err = New(newMockWindow(), WithCheckpoint("@every 1s", nil))
	assert.Error(t, err)
	_, err = New(newMockWindow(), WithFireCheckInterval(-time.Second))
	assert.Error(t, err)
}

func TestEngineStartAndStop(t *testing.T) {
	w := newMockWindow()
	e := newTestEngine(t, w, WithFlushInterval(time.Hour))
	ctx := _c.Background()
	assert.ErrorIs(t, e.Stop(ctx), ErrNotRunning)
	require.NoError(t, e.Start(ctx))
	assert.Error(t, e.Start(ctx))

	x := instance("s-0", 0, 100)
	e.UpdateLastUpdateTime(x, 150)
	e.clock.Add(time.Second)
	assert.Eventually(t, func() bool {
		return e.coordinator.Firing(x.Id()) && e.registry.Len() == 0
	}, time.Second, time.Millisecond)
	assert.Empty(t, w.Fired())

	require.NoError(t, e.Stop(ctx))
	assert.Equal(t, []string{x.Id()}, w.Fired())
	assert.False(t, e.coordinator.Firing(x.Id()))
	assert.ErrorIs(t, e.Stop(ctx), ErrNotRunning)
}

func TestEngineFiresRightAwayAfterStop(t *testing.T) {
	w := newMockWindow()
	e := newTestEngine(t, w)
	ctx := _c.Background()
	require.NoError(t, e.Start(ctx))
	require.NoError(t, e.Stop(ctx))

	x := instance("s-0", 0, 100)
	e.UpdateLastUpdateTime(x, 100)
	assert.True(t, e.ExecuteFireTask(ctx, x, false))
	assert.Equal(t, []string{x.Id()}, w.Fired())
	assert.False(t, e.coordinator.Firing(x.Id()))
	assert.Equal(t, 0, e.cache.Pending())
	assert.Equal(t, 0, e.registry.Len())
}

func TestEngineFlushesOnTick(t *testing.T) {
	w := newMockWindow()
	e := newTestEngine(t, w, WithFireCheckInterval(time.Second), WithFlushInterval(2*time.Second))
	ctx := _c.Background()
	require.NoError(t, e.Start(ctx))
	defer func() { _ = e.Stop(ctx) }()

	x := instance("s-0", 0, 100)
	e.UpdateLastUpdateTime(x, 150)
	e.clock.Add(time.Second)
	assert.Eventually(t, func() bool {
		return e.cache.Pending() == 1
	}, time.Second, time.Millisecond)
	e.clock.Add(time.Second)
	assert.Eventually(t, func() bool {
		return len(w.Fired()) == 1
	}, time.Second, time.Millisecond)
}

func TestEngineStopIsBoundedByDrainTimeout(t *testing.T) {
	w := newMockWindow()
	release := make(chan struct{})
	w.fireFn = func(_c.Context, *window.Instance, map[string]string) (int, error) {
		<-release
		return 1, nil
	}
	e := newTestEngine(t, w, WithDrainTimeout(50*time.Millisecond))
	ctx := _c.Background()
	require.NoError(t, e.Start(ctx))

	x := instance("s-0", 0, 100)
	e.UpdateLastUpdateTime(x, 100)
	go e.ExecuteFireTask(ctx, x, true)
	assert.Eventually(t, func() bool {
		return len(w.Fired()) == 1
	}, time.Second, time.Millisecond)

	assert.Error(t, e.Stop(ctx))
	close(release)
	assert.Eventually(t, func() bool {
		return !e.coordinator.Firing(x.Id())
	}, time.Second, time.Millisecond)
}

func TestEngineCheckpointHook(t *testing.T) {
	w := newMockWindow()
	splitsChan := make(chan []string, 1)
	e := newTestEngine(t, w, WithCheckpoint("@every 1s", func(_ _c.Context, splits []string) error {
		select {
		case splitsChan <- splits:
		default:
		}
		return nil
	}))
	e.RegisterFireInstanceIfNotExist(instance("s-1", 0, 100))
	e.RegisterFireInstanceIfNotExist(instance("s-0", 0, 100))
	e.RegisterFireInstanceIfNotExist(instance("s-0", 100, 200))
	ctx := _c.Background()
	require.NoError(t, e.Start(ctx))
	defer func() { _ = e.Stop(ctx) }()

	select {
	case splits := <-splitsChan:
		assert.Equal(t, []string{"s-0", "s-1"}, splits)
	case <-time.After(3 * time.Second):
		t.Fatal("checkpoint hook was not called")
	}
}

func TestEngineIllegalCheckpointSpec(t *testing.T) {
	e := newTestEngine(t, newMockWindow(), WithCheckpoint("every second", func(_c.Context, []string) error {
		return nil
	}))
	assert.Error(t, e.Start(_c.Background()))
	assert.ErrorIs(t, e.Stop(_c.Background()), ErrNotRunning)
}

func TestDispatch(t *testing.T) {
	w := newMockWindow()
	e := newTestEngine(t, w)
	assert.ErrorIs(t, e.Dispatch(_c.Background(), "event"), ErrNoReceiver)

	receiver := &recordReceiver{mutex: &sync.Mutex{}}
	w.receiver = receiver
	require.NoError(t, e.Dispatch(_c.Background(), "event"))
	assert.Equal(t, []any{"event"}, receiver.messages)
}

func TestEngineWithCountWindow(t *testing.T) {
	assigner, err := window.NewTumblingAssigner("clicks", 10*time.Millisecond, 0)
	require.NoError(t, err)
	var (
		mutex   sync.Mutex
		results []window.Result
	)
	backend := checkpoint.NewMemoryBackend()
	w, err := window.NewCountWindow(assigner,
		window.WithCheckpointBackend(backend),
		window.WithSink(func(_ _c.Context, result window.Result) error {
			mutex.Lock()
			defer mutex.Unlock()
			results = append(results, result)
			return nil
		}))
	require.NoError(t, err)
	scope := tally.NewTestScope("", nil)
	engine, err := New(w, WithClock(clock.NewMock()), WithScope(scope), WithLogger(log.Nop()))
	require.NoError(t, err)
	e := &testEngine{Engine: engine, scope: scope}
	w.Attach(e)

	ctx := _c.Background()
	for offset, event := range []window.Event{
		{Key: "a", Timestamp: 1, SplitId: "clicks-0"},
		{Key: "b", Timestamp: 3, SplitId: "clicks-0"},
		{Key: "a", Timestamp: 7, SplitId: "clicks-0"},
		{Key: "a", Timestamp: 12, SplitId: "clicks-0"},
	} {
		event.Offset = string(rune('0' + offset))
		require.NoError(t, e.Dispatch(ctx, &event))
	}
	first := window.NewInstance("clicks", "clicks-0", 0, 10, 10)
	second := window.NewInstance("clicks", "clicks-0", 10, 20, 20)
	_, ok := w.Instances().Get(first.Id())
	assert.True(t, ok)

	assert.False(t, e.ExecuteFireTask(ctx, second, true))
	assert.True(t, e.ExecuteFireTask(ctx, first, true))

	require.Len(t, results, 1)
	assert.Equal(t, first.Id(), results[0].InstanceId)
	assert.Equal(t, map[string]int64{"a": 2, "b": 1}, results[0].Counts)
	assert.EqualValues(t, 12, results[0].Watermark)
	assert.Equal(t, map[string]string{"clicks-0": "2"}, results[0].Offsets)
	_, ok = w.Instances().Get(first.Id())
	assert.False(t, ok)

	require.NoError(t, backend.Persist(1))
	saved, ok, err := backend.Get("clicks-0")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, map[string]string{"clicks-0": "2"}, saved)
	assert.EqualValues(t, 1, e.counter("fired"))
}
