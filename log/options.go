package log

import (
	"github.com/pkg/errors"
)

// Options configures the root logger. Debug and info entries go to stdout,
// warn and above to stderr, and every enabled entry to the output paths.
type Options struct {
	stdOutput     bool
	outputPaths   []string
	outputEncoder OutputEncoder
	level         Level
	callerEncoder CallerEncoder
	levelEncoder  LevelEncoder
	// attach stack traces to warn and above
	stacktrace bool
	timeLayout string
	name       string
}

func (o *Options) WithStdOutput(stdOutput bool) *Options {
	o.stdOutput = stdOutput
	return o
}

// WithOutputPaths adds files or zap sink URLs such as stdout.
func (o *Options) WithOutputPaths(paths ...string) *Options {
	o.outputPaths = append(o.outputPaths, paths...)
	return o
}

func (o *Options) WithStacktrace(stacktrace bool) *Options {
	o.stacktrace = stacktrace
	return o
}

func (o *Options) WithTimeLayout(timeLayout string) *Options {
	if timeLayout != "" {
		o.timeLayout = timeLayout
	}
	return o
}

func (o *Options) WithOutputEncoder(outputEncoder OutputEncoder) *Options {
	o.outputEncoder = outputEncoder
	return o
}

func (o *Options) WithLevel(level Level) *Options {
	o.level = level
	return o
}

func (o *Options) WithCallerEncoder(callerEncoder CallerEncoder) *Options {
	o.callerEncoder = callerEncoder
	return o
}

func (o *Options) WithLevelEncoder(encoder LevelEncoder) *Options {
	o.levelEncoder = encoder
	return o
}

func (o *Options) WithNamed(name string) *Options {
	o.name = name
	return o
}

func (o *Options) validate() error {
	if !o.stdOutput && len(o.outputPaths) == 0 {
		return errors.New("logger has no output")
	}
	if o.outputEncoder == nil || o.levelEncoder == nil {
		return errors.New("output and level encoder can't be nil")
	}
	return nil
}

// ParseOutputEncoder accepts json and console.
func ParseOutputEncoder(name string) (OutputEncoder, error) {
	switch name {
	case "json":
		return JsonOutputEncoder, nil
	case "console", "":
		return ConsoleOutputEncoder, nil
	default:
		return nil, errors.Errorf("unknown log encoder %q", name)
	}
}

func DefaultOptions() *Options {
	return &Options{
		stdOutput:     true,
		outputEncoder: ConsoleOutputEncoder,
		level:         InfoLevel,
		levelEncoder:  BracketLevelEncoder,
		timeLayout:    "2006-01-02T15:04:05.000Z0700",
	}
}
