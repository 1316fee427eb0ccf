package trigger

import (
	_c "context"
	"sort"
	"sync"
	"time"

	"github.com/RuiFG/streaming/streaming-trigger/common/status"
	"github.com/RuiFG/streaming/streaming-trigger/log"
	"github.com/RuiFG/streaming/streaming-trigger/service"
	"github.com/RuiFG/streaming/streaming-trigger/window"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

var _ window.Registrar = &Engine{}

// Engine decides when the instances of one window fire and makes sure each of them
// fires at most once.
type Engine struct {
	ctx       _c.Context
	cancel    _c.CancelFunc
	status    status.Status
	options   *options
	window    window.Window
	logger    log.Logger
	metrics   *metrics
	scheduler service.TimeScheduler

	registry    *Registry
	policy      *Policy
	coordinator *Coordinator
	cache       *BatchCache
	checker     *checker
	inflight    *inflight
}

func (e *Engine) Start(ctx _c.Context) error {
	if !status.CAP(&e.status, status.Ready, status.Running) {
		return errors.Errorf("can't start trigger engine of %s, it is %s", e.window.Name(), status.Load(&e.status))
	}
	e.ctx, e.cancel = _c.WithCancel(ctx)
	e.scheduler = service.NewTimeScheduler(e.ctx, e.options.clock, e.logger.Named("scheduler"))
	err := e.scheduler.RegisterTicker("fire-check", e.options.fireCheckInterval, service.TimeCallbackFn(e.onFireCheck))
	if err == nil {
		err = e.scheduler.RegisterTicker("cache-flush", e.options.flushInterval, service.TimeCallbackFn(e.onFlush))
	}
	if err == nil && e.options.checkpointSpec != "" {
		err = e.scheduler.RegisterCron("checkpoint", e.options.checkpointSpec, service.TimeCallbackFn(e.onCheckpoint))
	}
	if err != nil {
		status.CAP(&e.status, status.Running, status.Closed)
		err = multierr.Append(err, e.scheduler.Quiesce(ctx))
		e.cancel()
		return errors.WithMessagef(err, "failed to start trigger engine of %s", e.window.Name())
	}
	e.logger.Infow("trigger engine started.",
		"window", e.window.Name(),
		"fireCheckInterval", e.options.fireCheckInterval,
		"flushInterval", e.options.flushInterval,
		"checkpoint", e.options.checkpointSpec)
	return nil
}

// Stop stops the schedules and flushes the batch cache. In-flight emissions are
// waited for until ctx is done or the drain timeout expired.
func (e *Engine) Stop(ctx _c.Context) error {
	if !status.CAP(&e.status, status.Running, status.Closed) {
		return ErrNotRunning
	}
	defer e.cancel()
	drainCtx, cancel := _c.WithTimeout(ctx, e.options.drainTimeout)
	defer cancel()

	// no tick runs past Quiesce, so the flush below sees every deferred instance
	err := e.scheduler.Quiesce(drainCtx)
	e.inflight.acquire()
	go func() {
		defer e.inflight.release()
		_ = e.cache.Flush(e.ctx)
	}()
	if waitErr := e.inflight.wait(drainCtx); waitErr != nil {
		e.logger.Warnw("stop without draining.", "window", e.window.Name(), "err", waitErr)
		err = multierr.Append(err, waitErr)
	}
	e.logger.Infow("trigger engine stopped.", "window", e.window.Name())
	return err
}

func (e *Engine) onFireCheck(time.Time) {
	if !status.Load(&e.status).Running() {
		return
	}
	e.checker.run(e.ctx)
}

func (e *Engine) onFlush(time.Time) {
	if !status.Load(&e.status).Running() {
		return
	}
	// failures are logged per split
	_ = e.cache.Flush(e.ctx)
}

func (e *Engine) onCheckpoint(time.Time) {
	if !status.Load(&e.status).Running() {
		return
	}
	splits := e.Splits()
	if err := e.options.checkpointFn(e.ctx, splits); err != nil {
		e.logger.Errorw("failed to checkpoint.", "splits", splits, "err", err)
	}
}

func (e *Engine) RegisterFireInstanceIfNotExist(instance *window.Instance) {
	e.registry.RegisterIfAbsent(instance)
}

func (e *Engine) UpdateLastUpdateTime(instance *window.Instance, eventTime int64) {
	e.registry.AdvanceWatermark(instance, eventTime)
}

func (e *Engine) UpdateOffset(instanceId string, split string, offset string) {
	e.registry.UpdateOffset(instanceId, split, offset)
}

// ExecuteFireTask fires instance if it is eligible, startNow emits it before returning.
// A closed engine no longer flushes its batch cache, so it always emits right away.
func (e *Engine) ExecuteFireTask(ctx _c.Context, instance *window.Instance, startNow bool) bool {
	if status.Load(&e.status).Closed() {
		startNow = true
	}
	selected := e.coordinator.AttemptFire(ctx, instance, startNow)
	// Stop may have taken its final flush between the status load and the cache add
	if selected && !startNow && status.Load(&e.status).Closed() {
		_ = e.cache.Flush(ctx)
	}
	return selected
}

func (e *Engine) CanFire(instance *window.Instance) bool {
	return e.policy.CanFire(instance)
}

// Dispatch forwards message to the fire receiver of the window.
func (e *Engine) Dispatch(ctx _c.Context, message any) error {
	receiver := e.window.FireReceiver()
	if receiver == nil {
		return ErrNoReceiver
	}
	return receiver.Receive(ctx, message)
}

// Splits lists the splits that have registered, buffered or firing instances.
func (e *Engine) Splits() []string {
	set := map[string]struct{}{}
	for _, instance := range e.registry.Snapshot() {
		set[instance.SplitId()] = struct{}{}
	}
	for _, instance := range e.coordinator.firingInstances() {
		set[instance.SplitId()] = struct{}{}
	}
	splits := make([]string, 0, len(set))
	for split := range set {
		splits = append(splits, split)
	}
	sort.Strings(splits)
	return splits
}

func (e *Engine) Registry() *Registry {
	return e.registry
}

// Errors reports callbacks that panicked, nil before Start.
func (e *Engine) Errors() <-chan error {
	if e.scheduler == nil {
		return nil
	}
	return e.scheduler.Errors()
}

func New(w window.Window, withOptions ...WithOptions) (*Engine, error) {
	if w == nil {
		return nil, ErrNilWindow
	}
	opts := defaultOptions()
	for _, withOptionsFn := range withOptions {
		if err := withOptionsFn(opts); err != nil {
			return nil, errors.WithMessagef(err, "illegal parameter of %s trigger engine", w.Name())
		}
	}
	m := newMetrics(opts.scope)
	tracker := newInflight()
	registry := newRegistry(w, opts.clock, m)
	policy := &Policy{
		window:   w,
		registry: registry,
		clock:    opts.clock,
		logger:   opts.logger.Named("policy"),
		metrics:  m,
	}
	coordinator := &Coordinator{
		window:   w,
		registry: registry,
		policy:   policy,
		firing:   newSyncMap[string, *window.Instance](),
		inflight: tracker,
		logger:   opts.logger.Named("coordinator"),
		metrics:  m,
	}
	coordinator.cache = &BatchCache{
		splitKeyFn:   opts.splitKeyFn,
		batchSize:    opts.batchSize,
		parallelism:  opts.flushParallelism,
		emitFn:       coordinator.Emit,
		inflight:     tracker,
		logger:       opts.logger.Named("cache"),
		metrics:      m,
		mutex:        &sync.Mutex{},
		groups:       map[string][]*window.Instance{},
		splitMutexes: newSyncMap[string, *sync.Mutex](),
	}
	return &Engine{
		status:      status.Ready,
		options:     opts,
		window:      w,
		logger:      opts.logger,
		metrics:     m,
		registry:    registry,
		policy:      policy,
		coordinator: coordinator,
		cache:       coordinator.cache,
		checker: &checker{
			registry:    registry,
			coordinator: coordinator,
			logger:      opts.logger.Named("checker"),
			metrics:     m,
		},
		inflight: tracker,
	}, nil
}
