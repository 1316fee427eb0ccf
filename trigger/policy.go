package trigger

import (
	"github.com/RuiFG/streaming/streaming-trigger/log"
	"github.com/RuiFG/streaming/streaming-trigger/window"
	"github.com/benbjohnson/clock"
)

// Policy decides whether an instance is eligible to fire.
type Policy struct {
	window   window.Window
	registry *Registry
	clock    clock.Clock
	logger   log.Logger
	metrics  *metrics
}

// CanFire is true once the watermark of instance reached the real fire time of the window,
// or when the watermark has not advanced for longer than the window max gap.
func (p *Policy) CanFire(instance *window.Instance) bool {
	if p.window == nil {
		p.logger.Warnw("window is absent, skip fire check.", "instance", instance.Id())
		return false
	}
	watermark, ok := p.registry.Watermark(instance.Id())
	if !ok {
		return false
	}
	realFireTime := p.window.RealFireTime(instance)
	if watermark.MaxEventTime >= realFireTime {
		return true
	}
	maxGapSecond, ok := p.window.MaxGapSecond()
	if !ok {
		return false
	}
	gap := p.clock.Now().Sub(watermark.LastAdvancedAt).Milliseconds()
	if gap > maxGapSecond*1000 {
		p.metrics.stallEscape.Inc(1)
		p.logger.Warnw("event time stalled, force to fire.",
			"instance", instance.Id(),
			"maxEventTime", watermark.MaxEventTime,
			"realFireTime", realFireTime,
			"gap", gap,
			"maxGapSecond", maxGapSecond)
		return true
	}
	return false
}
