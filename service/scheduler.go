package service

import (
	_c "context"
	"sync"
	"time"

	"github.com/RuiFG/streaming/streaming-trigger/common/safe"
	"github.com/RuiFG/streaming/streaming-trigger/log"
	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
)

var ErrQuiesced = errors.New("time scheduler is quiesced")

type TimeCallback interface {
	OnProcessingTime(processingTime time.Time)
}

// TimeCallbackFn adapts a plain function to TimeCallback.
type TimeCallbackFn func(processingTime time.Time)

func (fn TimeCallbackFn) OnProcessingTime(processingTime time.Time) {
	fn(processingTime)
}

// TimeScheduler runs callbacks periodically. A callback that panics is reported
// on Errors and the schedule keeps running.
type TimeScheduler interface {
	// RegisterTicker calls back every duration, driven by the scheduler clock.
	// Ticks arriving while the previous callback is still running are coalesced.
	RegisterTicker(name string, duration time.Duration, callback TimeCallback) error
	// RegisterCron calls back on a robfig/cron spec such as "@every 5s",
	// an invocation is skipped if the previous one is still running.
	RegisterCron(name string, spec string, callback TimeCallback) error
	// Quiesce stops every schedule and waits for running callbacks until ctx is done.
	Quiesce(ctx _c.Context) error
	Errors() <-chan error
}

type defaultTimeScheduler struct {
	ctx       _c.Context
	cancel    _c.CancelFunc
	logger    log.Logger
	clock     clock.Clock
	mutex     *sync.Mutex
	running   *sync.WaitGroup
	cron      *cron.Cron
	cronOnce  *sync.Once
	errorChan chan error
}

func (d *defaultTimeScheduler) Errors() <-chan error {
	return d.errorChan
}

func (d *defaultTimeScheduler) RegisterTicker(name string, duration time.Duration, callback TimeCallback) error {
	if duration <= 0 {
		return errors.Errorf("%s ticker duration should be greater than 0", name)
	}
	d.mutex.Lock()
	defer d.mutex.Unlock()
	select {
	case <-d.ctx.Done():
		return ErrQuiesced
	default:
	}
	ticker := d.clock.Ticker(duration)
	d.running.Add(1)
	go func() {
		defer d.running.Done()
		defer ticker.Stop()
		for {
			select {
			case pc := <-ticker.C:
				d.invoke(name, callback, pc)
			case <-d.ctx.Done():
				return
			}
		}
	}()
	d.logger.Debugw("register ticker.", "name", name, "duration", duration)
	return nil
}

func (d *defaultTimeScheduler) RegisterCron(name string, spec string, callback TimeCallback) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	select {
	case <-d.ctx.Done():
		return ErrQuiesced
	default:
	}
	if _, err := d.cron.AddFunc(spec, func() {
		d.invoke(name, callback, d.clock.Now())
	}); err != nil {
		return errors.WithMessagef(err, "failed to register %s cron schedule %q", name, spec)
	}
	d.cronOnce.Do(d.cron.Start)
	d.logger.Debugw("register cron.", "name", name, "spec", spec)
	return nil
}

func (d *defaultTimeScheduler) invoke(name string, callback TimeCallback, processingTime time.Time) {
	if err := safe.Run(func() error {
		callback.OnProcessingTime(processingTime)
		return nil
	}); err != nil {
		d.logger.Errorw("scheduled callback failed.", "name", name, "err", err)
		select {
		case d.errorChan <- errors.WithMessagef(err, "%s callback failed", name):
		default:
		}
	}
}

func (d *defaultTimeScheduler) Quiesce(ctx _c.Context) error {
	d.mutex.Lock()
	d.cancel()
	d.mutex.Unlock()

	done := make(chan struct{})
	go func() {
		// Stop on a never started cron returns an already done context
		<-d.cron.Stop().Done()
		d.running.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.WithMessage(ctx.Err(), "time scheduler drain interrupted")
	}
}

type cronLogger struct {
	logger log.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.logger.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.logger.Errorw(msg, append(keysAndValues, "err", err)...)
}

func NewTimeScheduler(ctx _c.Context, clk clock.Clock, logger log.Logger) TimeScheduler {
	if clk == nil {
		clk = clock.New()
	}
	schedulerCtx, cancelFunc := _c.WithCancel(ctx)
	cronLog := cronLogger{logger: logger.Named("cron")}
	return &defaultTimeScheduler{
		ctx:     schedulerCtx,
		cancel:  cancelFunc,
		logger:  logger,
		clock:   clk,
		mutex:   &sync.Mutex{},
		running: &sync.WaitGroup{},
		cron: cron.New(
			cron.WithLogger(cronLog),
			cron.WithChain(cron.SkipIfStillRunning(cronLog)),
		),
		cronOnce:  &sync.Once{},
		errorChan: make(chan error, 16),
	}
}
