package trigger

import (
	_c "context"

	"github.com/RuiFG/streaming/streaming-trigger/common/safe"
	"github.com/RuiFG/streaming/streaming-trigger/log"
	"github.com/RuiFG/streaming/streaming-trigger/window"
)

type checker struct {
	registry    *Registry
	coordinator *Coordinator
	logger      log.Logger
	metrics     *metrics
}

// run attempts every registered instance in fire order and returns how many were selected.
func (c *checker) run(ctx _c.Context) int {
	instances := c.registry.Snapshot()
	window.SortByFireTime(instances)
	selected := 0
	for _, instance := range instances {
		if err := safe.Run(func() error {
			if c.coordinator.AttemptFire(ctx, instance, false) {
				c.registry.Unregister(instance.Id())
				selected++
			}
			return nil
		}); err != nil {
			c.logger.Errorw("failed to check window instance.", "instance", instance.Id(), "err", err)
		}
	}
	c.metrics.instances.Update(float64(c.registry.Len()))
	c.metrics.firing.Update(float64(c.coordinator.FiringLen()))
	if selected > 0 {
		c.logger.Debugw("fire check.", "checked", len(instances), "selected", selected)
	}
	return selected
}
