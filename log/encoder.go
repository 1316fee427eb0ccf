package log

import (
	"go.uber.org/zap/zapcore"
)

type Level int8

const (
	DebugLevel = Level(zapcore.DebugLevel)
	InfoLevel  = Level(zapcore.InfoLevel)
	WarnLevel  = Level(zapcore.WarnLevel)
	ErrorLevel = Level(zapcore.ErrorLevel)
	FatalLevel = Level(zapcore.FatalLevel)
	PanicLevel = Level(zapcore.PanicLevel)
)

// ParseLevel falls back to InfoLevel on unknown text.
func ParseLevel(text string) Level {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(text)); err != nil {
		return InfoLevel
	}
	return Level(l)
}

type OutputEncoder func(zapcore.EncoderConfig) zapcore.Encoder

var (
	JsonOutputEncoder    OutputEncoder = zapcore.NewJSONEncoder
	ConsoleOutputEncoder OutputEncoder = zapcore.NewConsoleEncoder
)

type LevelEncoder func(zapcore.Level, zapcore.PrimitiveArrayEncoder)

var (
	CapitalLevelEncoder LevelEncoder = zapcore.CapitalLevelEncoder
	// BracketLevelEncoder serializes a Level to [info]
	BracketLevelEncoder LevelEncoder = func(level zapcore.Level, encoder zapcore.PrimitiveArrayEncoder) {
		encoder.AppendString("[" + level.String() + "]")
	}
)

type CallerEncoder func(zapcore.EntryCaller, zapcore.PrimitiveArrayEncoder)

var (
	ShortCallerEncoder CallerEncoder = zapcore.ShortCallerEncoder
	FullCallerEncoder  CallerEncoder = zapcore.FullCallerEncoder
)
