// Package logging wraps zap with named child loggers and the field
// helpers used across the exchange.
package logging

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// A Level is a logging priority. Higher levels are more important.
type Level int8

// Logging levels (matching zap core internals).
const (
	DebugLevel Level = -1
	InfoLevel  Level = 0
	WarnLevel  Level = 1
	ErrorLevel Level = 2
	PanicLevel Level = 4
	FatalLevel Level = 5
)

func (l Level) ZapLevel() zapcore.Level {
	return zapcore.Level(l)
}

func (l Level) String() string {
	return zapcore.Level(l).String()
}

// ParseLevel converts "debug", "info", "warn", "error" and friends.
func ParseLevel(s string) (Level, error) {
	var zl zapcore.Level
	if err := zl.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(s)))); err != nil {
		return InfoLevel, fmt.Errorf("invalid log level %q", s)
	}
	return Level(zl), nil
}

type Logger struct {
	*zap.Logger
	level *zap.AtomicLevel
	name  string
}

func New(core zapcore.Core, level *zap.AtomicLevel) *Logger {
	return &Logger{Logger: zap.New(core, zap.AddCaller()), level: level}
}

func (log *Logger) GetLevel() Level {
	return Level(log.level.Level())
}

func (log *Logger) GetName() string {
	return log.name
}

// SetLevel changes the level of log and every logger derived from it.
func (log *Logger) SetLevel(level Level) {
	log.level.SetLevel(level.ZapLevel())
}

func (log *Logger) Named(name string) *Logger {
	newName := name
	if log.name != "" {
		newName = fmt.Sprintf("%s.%s", log.name, name)
	}
	return &Logger{
		Logger: log.Logger.Named(name),
		level:  log.level,
		name:   newName,
	}
}

func (log *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{
		Logger: log.Logger.With(fields...),
		level:  log.level,
		name:   log.name,
	}
}

// AtExit flushes the logs before exiting the process. Meant to be used
// with defer right after the logger is built.
func (log *Logger) AtExit() {
	if log.Logger != nil {
		_ = log.Logger.Sync()
	}
}

// NewLoggerFromEnv builds a console logger at debug level for "dev" and a
// JSON logger at info level for anything else.
func NewLoggerFromEnv(env string) *Logger {
	var (
		encoder zapcore.Encoder
		level   zap.AtomicLevel
	)
	switch env {
	case "dev":
		encoder = zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
			CallerKey:      "C",
			EncodeCaller:   zapcore.ShortCallerEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeLevel:    zapcore.CapitalLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			LevelKey:       "L",
			LineEnding:     "\n",
			MessageKey:     "M",
			NameKey:        "N",
			TimeKey:        "T",
		})
		level = zap.NewAtomicLevelAt(DebugLevel.ZapLevel())
	default:
		encoder = zapcore.NewJSONEncoder(zapcore.EncoderConfig{
			CallerKey:      "caller",
			EncodeCaller:   zapcore.ShortCallerEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeName:     zapcore.FullNameEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			LevelKey:       "level",
			LineEnding:     "\n",
			MessageKey:     "message",
			NameKey:        "logger",
			StacktraceKey:  "stacktrace",
			TimeKey:        "@timestamp",
		})
		level = zap.NewAtomicLevelAt(InfoLevel.ZapLevel())
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), level)
	return New(core, &level)
}

// NewTestLogger discards everything. Used by tests of packages that log.
func NewTestLogger() *Logger {
	level := zap.NewAtomicLevelAt(DebugLevel.ZapLevel())
	return New(zapcore.NewNopCore(), &level)
}
