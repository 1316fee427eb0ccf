package trigger

import (
	_c "context"
	"time"

	"github.com/RuiFG/streaming/streaming-trigger/log"
	"github.com/RuiFG/streaming/streaming-trigger/window"
	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/uber-go/tally/v4"
)

const (
	DefaultFireCheckInterval = time.Second
	DefaultBatchSize         = 64
	DefaultFlushInterval     = time.Second
	DefaultFlushParallelism  = 4
	DefaultDrainTimeout      = 10 * time.Second
)

// SplitKeyFn groups deferred firings in the batch cache.
type SplitKeyFn func(instance *window.Instance) string

// CheckpointFn is called on the checkpoint schedule with the splits that still
// have registered or firing instances.
type CheckpointFn func(ctx _c.Context, splits []string) error

type options struct {
	fireCheckInterval time.Duration
	checkpointSpec    string
	checkpointFn      CheckpointFn
	batchSize         int
	flushInterval     time.Duration
	flushParallelism  int
	drainTimeout      time.Duration
	clock             clock.Clock
	scope             tally.Scope
	logger            log.Logger
	splitKeyFn        SplitKeyFn
}

type WithOptions func(opts *options) error

func WithFireCheckInterval(interval time.Duration) WithOptions {
	return func(opts *options) error {
		if interval <= 0 {
			return errors.Errorf("fire check interval should be greater than 0")
		}
		opts.fireCheckInterval = interval
		return nil
	}
}

// WithCheckpoint schedules fn on a cron spec such as "@every 30s", an empty spec disables it.
func WithCheckpoint(spec string, fn CheckpointFn) WithOptions {
	return func(opts *options) error {
		if spec != "" && fn == nil {
			return errors.Errorf("CheckpointFn can't be nil")
		}
		opts.checkpointSpec = spec
		opts.checkpointFn = fn
		return nil
	}
}

func WithBatchSize(batchSize int) WithOptions {
	return func(opts *options) error {
		if batchSize <= 0 {
			return errors.Errorf("batch size should be greater than 0")
		}
		opts.batchSize = batchSize
		return nil
	}
}

func WithFlushInterval(interval time.Duration) WithOptions {
	return func(opts *options) error {
		if interval <= 0 {
			return errors.Errorf("flush interval should be greater than 0")
		}
		opts.flushInterval = interval
		return nil
	}
}

func WithFlushParallelism(parallelism int) WithOptions {
	return func(opts *options) error {
		if parallelism <= 0 {
			return errors.Errorf("flush parallelism should be greater than 0")
		}
		opts.flushParallelism = parallelism
		return nil
	}
}

func WithDrainTimeout(timeout time.Duration) WithOptions {
	return func(opts *options) error {
		if timeout <= 0 {
			return errors.Errorf("drain timeout should be greater than 0")
		}
		opts.drainTimeout = timeout
		return nil
	}
}

func WithClock(clk clock.Clock) WithOptions {
	return func(opts *options) error {
		if clk == nil {
			return errors.Errorf("clock can't be nil")
		}
		opts.clock = clk
		return nil
	}
}

func WithScope(scope tally.Scope) WithOptions {
	return func(opts *options) error {
		if scope == nil {
			return errors.Errorf("scope can't be nil")
		}
		opts.scope = scope
		return nil
	}
}

func WithLogger(logger log.Logger) WithOptions {
	return func(opts *options) error {
		if logger == nil {
			return errors.Errorf("logger can't be nil")
		}
		opts.logger = logger
		return nil
	}
}

func WithSplitKeyFn(fn SplitKeyFn) WithOptions {
	return func(opts *options) error {
		if fn == nil {
			return errors.Errorf("SplitKeyFn can't be nil")
		}
		opts.splitKeyFn = fn
		return nil
	}
}

func defaultOptions() *options {
	return &options{
		fireCheckInterval: DefaultFireCheckInterval,
		batchSize:         DefaultBatchSize,
		flushInterval:     DefaultFlushInterval,
		flushParallelism:  DefaultFlushParallelism,
		drainTimeout:      DefaultDrainTimeout,
		clock:             clock.New(),
		scope:             tally.NoopScope,
		logger:            log.Global().Named("trigger"),
		splitKeyFn:        (*window.Instance).SplitId,
	}
}
