// Package log centralizes structured logging for the treelearner
// modules on top of zerolog. Two access patterns coexist because the
// codebase grew both ways: package-level helpers (GetLogger,
// GetLoggerWithName, LogError) for direct call sites, and a small
// Logger/LoggerProvider interface pair for components that take their
// logger as a dependency instead of reaching for the global one.
package log

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu            sync.RWMutex
	defaultLogger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
			With().Timestamp().Logger().Level(zerolog.InfoLevel)
)

// ToLogLevel maps the human-friendly level names accepted by
// configuration ("debug", "info", "warn", "error", "silent" ...) onto
// zerolog's numeric levels. Unrecognized names fall back to Info.
func ToLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "silent", "disabled", "none":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// SetupLogger installs the process-wide default logger at the given
// level, translated through ToLogLevel. Nothing in this module calls
// it; a caller may pass Config.LogLevel here at startup.
func SetupLogger(level string) {
	mu.Lock()
	defer mu.Unlock()
	defaultLogger = defaultLogger.Level(ToLogLevel(level))
}

// GetLogger returns the shared zerolog.Logger for call sites that want
// the full event-builder API (logger.Error().Err(err).Str(...).Msg(...)).
func GetLogger() *zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return &defaultLogger
}

// LogError logs err at error level with a short message, unwrapping
// nothing further — callers that need structured fields should use
// GetLogger() directly instead.
func LogError(err error, msg string) {
	GetLogger().Error().Err(err).Msg(msg)
}

// Logger is the slog-style logging surface handed to components that
// receive their logger rather than reaching for the package globals.
// Fields are passed as alternating key/value pairs, mirroring the
// call sites in this codebase (logger.Info("msg", "iteration", iter)).
type Logger interface {
	Debug(msg string, kv ...interface{})
	Info(msg string, kv ...interface{})
	Warn(msg string, kv ...interface{})
	Error(msg string, kv ...interface{})
}

type zerologLogger struct {
	zl zerolog.Logger
}

// GetLoggerWithName returns a named Logger derived from the shared
// default logger, tagging every event with a "component" field.
func GetLoggerWithName(name string) Logger {
	mu.RLock()
	defer mu.RUnlock()
	return &zerologLogger{zl: defaultLogger.With().Str("component", name).Logger()}
}

func (l *zerologLogger) event(level zerolog.Level, msg string, kv []interface{}) {
	ev := l.zl.WithLevel(level)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		ev = ev.Interface(key, kv[i+1])
	}
	ev.Msg(msg)
}

func (l *zerologLogger) Debug(msg string, kv ...interface{}) { l.event(zerolog.DebugLevel, msg, kv) }
func (l *zerologLogger) Info(msg string, kv ...interface{})  { l.event(zerolog.InfoLevel, msg, kv) }
func (l *zerologLogger) Warn(msg string, kv ...interface{})  { l.event(zerolog.WarnLevel, msg, kv) }
func (l *zerologLogger) Error(msg string, kv ...interface{}) { l.event(zerolog.ErrorLevel, msg, kv) }

// LoggerProvider lets a component (e.g. Pipeline) accept its logging
// backend as a dependency instead of calling the package-level
// singletons, which matters for tests that want to assert on output.
type LoggerProvider interface {
	GetLoggerWithName(name string) Logger
}

type zerologProvider struct {
	level zerolog.Level
}

// NewZerologProvider builds a LoggerProvider whose loggers all run at
// the given level, independent of the process-wide default.
func NewZerologProvider(level zerolog.Level) LoggerProvider {
	return &zerologProvider{level: level}
}

func (p *zerologProvider) GetLoggerWithName(name string) Logger {
	zl := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().Timestamp().Str("component", name).Logger().Level(p.level)
	return &zerologLogger{zl: zl}
}
