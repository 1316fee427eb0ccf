package trigger

import (
	_c "context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/RuiFG/streaming/streaming-trigger/window"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttemptFireNotEligible(t *testing.T) {
	e := newTestEngine(t, newMockWindow())
	x := instance("s-0", 0, 100)
	e.UpdateLastUpdateTime(x, 10)

	assert.False(t, e.ExecuteFireTask(_c.Background(), x, true))
	assert.Empty(t, e.window.Fired())
	assert.False(t, e.coordinator.Firing(x.Id()))
	assert.Equal(t, 1, e.registry.Len())
}

func TestAttemptFireConcurrentlyEmitsOnce(t *testing.T) {
	for _, immediate := range []bool{true, false} {
		w := newMockWindow()
		w.fireFn = func(_c.Context, *window.Instance, map[string]string) (int, error) {
			time.Sleep(10 * time.Millisecond)
			return 1, nil
		}
		e := newTestEngine(t, w)
		x := instance("s-0", 0, 100)
		e.UpdateLastUpdateTime(x, 100)

		var (
			start    = make(chan struct{})
			wg       = &sync.WaitGroup{}
			selected int32
		)
		for i := 0; i < 64; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				if e.ExecuteFireTask(_c.Background(), instance("s-0", 0, 100), immediate) {
					atomic.AddInt32(&selected, 1)
				}
			}()
		}
		close(start)
		wg.Wait()
		require.NoError(t, e.cache.Flush(_c.Background()))

		assert.Equal(t, []string{x.Id()}, w.Fired(), "immediate=%v", immediate)
		assert.GreaterOrEqual(t, atomic.LoadInt32(&selected), int32(1))
		assert.EqualValues(t, 1, e.counter("fire_selected"))
		assert.EqualValues(t, 1, e.counter("fired"))
	}
}

func TestEmitCarriesWatermarkAndOffsets(t *testing.T) {
	e := newTestEngine(t, newMockWindow())
	x := instance("s-0", 0, 100)
	e.UpdateLastUpdateTime(x, 120)
	e.UpdateLastUpdateTime(x, 110)
	e.UpdateOffset(x.Id(), "s-0", "42")

	assert.True(t, e.ExecuteFireTask(_c.Background(), x, true))

	watermark, ok := x.LastMaxUpdateTime()
	require.True(t, ok)
	assert.EqualValues(t, 120, watermark)
	assert.Equal(t, map[string]string{"s-0": "42"}, e.window.offsets[x.Id()])
	assert.EqualValues(t, 1, e.counter("emitted_records"))
}

func TestEmitKeepsExistingSnapshot(t *testing.T) {
	e := newTestEngine(t, newMockWindow())
	x := instance("s-0", 0, 100)
	require.True(t, x.SetLastMaxUpdateTime(100))
	e.UpdateLastUpdateTime(x, 300)

	require.NoError(t, e.coordinator.Emit(_c.Background(), x))
	watermark, _ := x.LastMaxUpdateTime()
	assert.EqualValues(t, 100, watermark)
}

func TestEmitCleansUp(t *testing.T) {
	cases := map[string]func(_c.Context, *window.Instance, map[string]string) (int, error){
		"success": func(_c.Context, *window.Instance, map[string]string) (int, error) {
			return 3, nil
		},
		"error": func(_c.Context, *window.Instance, map[string]string) (int, error) {
			return 0, errors.New("sink unavailable")
		},
		"panic": func(_c.Context, *window.Instance, map[string]string) (int, error) {
			panic("broken window")
		},
	}
	for name, fireFn := range cases {
		t.Run(name, func(t *testing.T) {
			w := newMockWindow()
			w.fireFn = fireFn
			e := newTestEngine(t, w)
			x := instance("s-0", 0, 100)
			e.UpdateLastUpdateTime(x, 100)
			e.UpdateOffset(x.Id(), "s-0", "7")

			assert.True(t, e.ExecuteFireTask(_c.Background(), x, true))

			assert.False(t, e.coordinator.Firing(x.Id()))
			_, ok := e.registry.Watermark(x.Id())
			assert.False(t, ok)
			_, ok = e.registry.Get(x.Id())
			assert.False(t, ok)
			assert.Empty(t, e.registry.Offsets(x.Id()))
			assert.Equal(t, 0, e.inflight.len())

			// a failed emission is not retried
			assert.False(t, e.ExecuteFireTask(_c.Background(), x, true))
			assert.Len(t, w.Fired(), 1)
		})
	}
}

func TestEmitFailureIsCounted(t *testing.T) {
	w := newMockWindow()
	w.fireFn = func(_c.Context, *window.Instance, map[string]string) (int, error) {
		return 0, errors.New("sink unavailable")
	}
	e := newTestEngine(t, w)
	x := instance("s-0", 0, 100)
	e.UpdateLastUpdateTime(x, 100)

	err := e.coordinator.Emit(_c.Background(), x)
	assert.ErrorContains(t, err, "sink unavailable")
	assert.EqualValues(t, 1, e.counter("fire_failed"))
	assert.Zero(t, e.counter("fired"))
}

func TestEmitWithoutWindow(t *testing.T) {
	e := newTestEngine(t, newMockWindow())
	x := instance("s-0", 0, 100)
	e.UpdateLastUpdateTime(x, 100)
	e.coordinator.window = nil

	err := e.coordinator.Emit(_c.Background(), x)
	assert.ErrorIs(t, err, ErrNilWindow)
	_, ok := e.registry.Watermark(x.Id())
	assert.False(t, ok)
}
