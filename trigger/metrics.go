package trigger

import "github.com/uber-go/tally/v4"

type metrics struct {
	registered     tally.Counter
	fireSelected   tally.Counter
	fireDuplicate  tally.Counter
	fired          tally.Counter
	fireFailed     tally.Counter
	stallEscape    tally.Counter
	emittedRecords tally.Counter
	cacheFlushes   tally.Counter

	instances    tally.Gauge
	firing       tally.Gauge
	cachePending tally.Gauge

	emitLatency tally.Timer
}

func newMetrics(scope tally.Scope) *metrics {
	return &metrics{
		registered:     scope.Counter("registered"),
		fireSelected:   scope.Counter("fire_selected"),
		fireDuplicate:  scope.Counter("fire_duplicate"),
		fired:          scope.Counter("fired"),
		fireFailed:     scope.Counter("fire_failed"),
		stallEscape:    scope.Counter("stall_escape"),
		emittedRecords: scope.Counter("emitted_records"),
		cacheFlushes:   scope.Counter("cache_flushes"),
		instances:      scope.Gauge("instances"),
		firing:         scope.Gauge("firing"),
		cachePending:   scope.Gauge("cache_pending"),
		emitLatency:    scope.Timer("emit_latency"),
	}
}
