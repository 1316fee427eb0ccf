package trigger

import (
	_c "context"

	"github.com/RuiFG/streaming/streaming-trigger/common/safe"
	"github.com/RuiFG/streaming/streaming-trigger/log"
	"github.com/RuiFG/streaming/streaming-trigger/window"
	"github.com/pkg/errors"
)

// Coordinator selects eligible instances for firing, each identity at most once
// until its emission finished.
type Coordinator struct {
	window   window.Window
	registry *Registry
	policy   *Policy
	cache    *BatchCache
	firing   *syncMap[string, *window.Instance]
	inflight *inflight
	logger   log.Logger
	metrics  *metrics
}

// AttemptFire returns false if instance is not eligible yet. An eligible instance
// is emitted right away when immediate is set, otherwise it is deferred to the batch cache.
// An instance already selected by another caller also returns true.
func (c *Coordinator) AttemptFire(ctx _c.Context, instance *window.Instance, immediate bool) bool {
	if !c.policy.CanFire(instance) {
		return false
	}
	if _, loaded := c.firing.LoadOrStore(instance.Id(), instance); loaded {
		c.metrics.fireDuplicate.Inc(1)
		return true
	}
	// the previous holder may have finished emitting between CanFire and the insert
	if _, ok := c.registry.Watermark(instance.Id()); !ok {
		c.firing.Delete(instance.Id())
		c.metrics.fireDuplicate.Inc(1)
		return true
	}
	c.metrics.fireSelected.Inc(1)
	if immediate {
		if err := c.Emit(ctx, instance); err != nil {
			c.logger.Errorw("failed to fire window instance.", "instance", instance.Id(), "err", err)
		}
	} else {
		c.cache.Add(ctx, instance)
	}
	return true
}

// Emit fires instance on the window. The instance leaves the firing set and the
// registry whatever the outcome, a failed emission is not retried.
func (c *Coordinator) Emit(ctx _c.Context, instance *window.Instance) error {
	c.inflight.acquire()
	defer c.inflight.release()
	id := instance.Id()
	defer func() {
		c.registry.Remove(id)
		c.firing.Delete(id)
	}()
	if c.window == nil {
		c.metrics.fireFailed.Inc(1)
		return errors.WithMessagef(ErrNilWindow, "abandon %s", id)
	}
	if _, ok := instance.LastMaxUpdateTime(); !ok {
		if watermark, ok := c.registry.Watermark(id); ok {
			instance.SetLastMaxUpdateTime(watermark.MaxEventTime)
		}
	}
	offsets := c.registry.Offsets(id)

	var count int
	stopwatch := c.metrics.emitLatency.Start()
	err := safe.Run(func() (err error) {
		count, err = c.window.FireWindowInstance(ctx, instance, offsets)
		return err
	})
	stopwatch.Stop()
	if err != nil {
		c.metrics.fireFailed.Inc(1)
		return errors.WithMessagef(err, "failed to fire %s", id)
	}
	c.metrics.fired.Inc(1)
	c.metrics.emittedRecords.Inc(int64(count))
	c.logger.Debugw("fired window instance.", "instance", id, "count", count)
	return nil
}

func (c *Coordinator) Firing(id string) bool {
	_, ok := c.firing.Load(id)
	return ok
}

func (c *Coordinator) FiringLen() int {
	return c.firing.Len()
}

func (c *Coordinator) firingInstances() []*window.Instance {
	var instances []*window.Instance
	c.firing.Range(func(_ string, instance *window.Instance) bool {
		instances = append(instances, instance)
		return true
	})
	return instances
}
