package trigger

import (
	_c "context"
	"sort"
	"sync"

	"github.com/RuiFG/streaming/streaming-trigger/common/safe"
	"github.com/RuiFG/streaming/streaming-trigger/log"
	"github.com/RuiFG/streaming/streaming-trigger/window"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

type emitFn func(ctx _c.Context, instance *window.Instance) error

// BatchCache buffers selected instances per split. A split is flushed once it holds
// batchSize instances or when Flush is called, its instances are emitted in fire order.
type BatchCache struct {
	splitKeyFn  SplitKeyFn
	batchSize   int
	parallelism int
	emitFn      emitFn
	inflight    *inflight
	logger      log.Logger
	metrics     *metrics

	mutex   *sync.Mutex
	groups  map[string][]*window.Instance
	pending int
	// serializes the flushes of one split
	splitMutexes *syncMap[string, *sync.Mutex]
}

func (b *BatchCache) Add(ctx _c.Context, instance *window.Instance) {
	split := b.splitKeyFn(instance)
	b.mutex.Lock()
	group := append(b.groups[split], instance)
	if len(group) >= b.batchSize {
		delete(b.groups, split)
		b.pending -= len(group) - 1
	} else {
		b.groups[split] = group
		b.pending++
		group = nil
	}
	b.metrics.cachePending.Update(float64(b.pending))
	b.mutex.Unlock()

	if group != nil {
		b.inflight.acquire()
		go func() {
			defer b.inflight.release()
			_ = b.flushGroup(ctx, split, group)
		}()
	}
}

// Flush emits every buffered split, up to parallelism splits at a time.
// The returned error combines every failed emission.
func (b *BatchCache) Flush(ctx _c.Context) error {
	b.mutex.Lock()
	groups := b.groups
	b.groups = map[string][]*window.Instance{}
	b.pending = 0
	b.metrics.cachePending.Update(0)
	b.mutex.Unlock()
	if len(groups) == 0 {
		return nil
	}

	splits := make([]string, 0, len(groups))
	for split := range groups {
		splits = append(splits, split)
	}
	sort.Strings(splits)

	var (
		eg       errgroup.Group
		errMutex sync.Mutex
		errs     error
	)
	eg.SetLimit(b.parallelism)
	for _, split := range splits {
		split, group := split, groups[split]
		eg.Go(func() error {
			if err := b.flushGroup(ctx, split, group); err != nil {
				errMutex.Lock()
				errs = multierr.Append(errs, err)
				errMutex.Unlock()
			}
			return nil
		})
	}
	_ = eg.Wait()
	return errs
}

func (b *BatchCache) flushGroup(ctx _c.Context, split string, group []*window.Instance) error {
	splitMutex, _ := b.splitMutexes.LoadOrStore(split, &sync.Mutex{})
	splitMutex.Lock()
	defer splitMutex.Unlock()

	window.SortByFireTime(group)
	var errs error
	for _, instance := range group {
		if err := safe.Run(func() error {
			return b.emitFn(ctx, instance)
		}); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	b.metrics.cacheFlushes.Inc(1)
	if errs != nil {
		b.logger.Errorw("failed to flush split.",
			"split", split,
			"instances", len(group),
			"failed", len(multierr.Errors(errs)),
			"err", errs)
	}
	return errs
}

func (b *BatchCache) Pending() int {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.pending
}

func (b *BatchCache) Splits() []string {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	splits := make([]string, 0, len(b.groups))
	for split := range b.groups {
		splits = append(splits, split)
	}
	return splits
}
