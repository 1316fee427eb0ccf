package trigger

import (
	_c "context"
	"sync"

	"github.com/pkg/errors"
)

// inflight counts running emissions and flushes, wait returns once the count drops to zero.
type inflight struct {
	mutex   *sync.Mutex
	count   int
	drained chan struct{}
}

func newInflight() *inflight {
	drained := make(chan struct{})
	close(drained)
	return &inflight{mutex: &sync.Mutex{}, drained: drained}
}

func (i *inflight) acquire() {
	i.mutex.Lock()
	defer i.mutex.Unlock()
	if i.count == 0 {
		i.drained = make(chan struct{})
	}
	i.count++
}

func (i *inflight) release() {
	i.mutex.Lock()
	defer i.mutex.Unlock()
	i.count--
	if i.count == 0 {
		close(i.drained)
	}
}

func (i *inflight) len() int {
	i.mutex.Lock()
	defer i.mutex.Unlock()
	return i.count
}

func (i *inflight) wait(ctx _c.Context) error {
	i.mutex.Lock()
	drained := i.drained
	i.mutex.Unlock()
	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return errors.WithMessagef(ctx.Err(), "%d emissions still in flight", i.len())
	}
}
