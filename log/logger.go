package log

import (
	"os"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the sugared logger shared by every component,
// children are derived with Named.
type Logger interface {
	Named(name string) Logger
	With(args ...any) Logger

	Debug(args ...any)
	Info(args ...any)
	Warn(args ...any)
	Error(args ...any)
	Fatal(args ...any)

	Debugf(template string, args ...any)
	Infof(template string, args ...any)
	Warnf(template string, args ...any)
	Errorf(template string, args ...any)
	Fatalf(template string, args ...any)

	Debugw(msg string, keysAndValues ...any)
	Infow(msg string, keysAndValues ...any)
	Warnw(msg string, keysAndValues ...any)
	Errorw(msg string, keysAndValues ...any)
	Fatalw(msg string, keysAndValues ...any)

	Sync() error
}

var (
	rootLogger Logger
	mutex      = &sync.Mutex{}
)

type logger struct {
	*zap.SugaredLogger
}

func (l *logger) Named(name string) Logger {
	return &logger{l.SugaredLogger.Named(name)}
}

func (l *logger) With(args ...any) Logger {
	return &logger{l.SugaredLogger.With(args...)}
}

// Global returns the root logger, a default one is set up on first use.
func Global() Logger {
	mutex.Lock()
	defer mutex.Unlock()
	if rootLogger == nil {
		l, err := newLogger(DefaultOptions())
		if err != nil {
			panic(err)
		}
		rootLogger = l
	}
	return rootLogger
}

// Nop discards everything, mostly for tests.
func Nop() Logger {
	return &logger{zap.NewNop().Sugar()}
}

// Wrap adapts an existing zap core, e.g. zaptest observers.
func Wrap(core zapcore.Core) Logger {
	return &logger{zap.New(core).Sugar()}
}

// Setup builds the root logger once, later calls are ignored.
func Setup(options *Options) error {
	mutex.Lock()
	defer mutex.Unlock()
	if rootLogger != nil {
		rootLogger.Warn("can't re setup root logger")
		return nil
	}
	l, err := newLogger(options)
	if err != nil {
		return err
	}
	rootLogger = l
	return nil
}

func newLogger(options *Options) (Logger, error) {
	if err := options.validate(); err != nil {
		return nil, errors.WithMessage(err, "illegal log options")
	}
	var (
		infoWriteSyncers []zapcore.WriteSyncer
		errWriteSyncers  []zapcore.WriteSyncer
		opts             []zap.Option
		encoderConfig    = zap.NewProductionEncoderConfig()
	)

	if options.stdOutput {
		infoWriteSyncers = append(infoWriteSyncers, zapcore.AddSync(os.Stdout))
		errWriteSyncers = append(errWriteSyncers, zapcore.AddSync(os.Stderr))
	}

	if options.callerEncoder != nil {
		opts = append(opts, zap.AddCaller())
		encoderConfig.EncodeCaller = zapcore.CallerEncoder(options.callerEncoder)
	}

	encoderConfig.EncodeLevel = zapcore.LevelEncoder(options.levelEncoder)
	encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(options.timeLayout)
	encoderConfig.ConsoleSeparator = " "
	cores := []zapcore.Core{zapcore.NewCore(
		options.outputEncoder(encoderConfig),
		zapcore.NewMultiWriteSyncer(infoWriteSyncers...),
		zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
			return lvl >= zapcore.Level(options.level) && lvl < zapcore.WarnLevel
		}),
	), zapcore.NewCore(
		options.outputEncoder(encoderConfig),
		zapcore.NewMultiWriteSyncer(errWriteSyncers...),
		zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
			return lvl >= zapcore.Level(options.level) && lvl >= zapcore.WarnLevel
		}),
	)}
	if len(options.outputPaths) > 0 {
		sink, _, err := zap.Open(options.outputPaths...)
		if err != nil {
			return nil, errors.WithMessagef(err, "failed to open log output %v", options.outputPaths)
		}
		cores = append(cores, zapcore.NewCore(options.outputEncoder(encoderConfig), sink, zapcore.Level(options.level)))
	}

	if options.stacktrace {
		opts = append(opts, zap.AddStacktrace(zapcore.WarnLevel))
	}
	sugared := zap.New(zapcore.NewTee(cores...), opts...).Sugar()
	if options.name != "" {
		sugared = sugared.Named(options.name)
	}
	return &logger{sugared}, nil
}
