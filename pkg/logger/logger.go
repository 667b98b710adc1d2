// Package logger is the SDK-wide leveled logger.
//
// It keeps a small printf-style surface so call sites read the same across
// packages, and writes structured records through zerolog.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Level is the verbosity threshold used by the logger.
//
// Lower values are more verbose.
type Level int8

const (
	// LevelTrace enables extremely verbose logs (transport events, token
	// state machine inputs).
	LevelTrace Level = iota
	// LevelDebug enables verbose logs intended for debugging.
	LevelDebug
	// LevelInfo enables informational logs (default).
	LevelInfo
	// LevelWarn enables only warnings and errors.
	LevelWarn
	// LevelError enables only error logs.
	LevelError
)

var (
	current atomic.Pointer[zerolog.Logger]
	level   atomic.Int32
)

// Filtering happens in emit. zerolog's global level belongs to the host and
// is never changed here.
func init() {
	level.Store(int32(LevelInfo))
	setWriter(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
}

func setWriter(w io.Writer) {
	l := zerolog.New(w).With().Timestamp().Str("sdk", "tsl").Logger()
	current.Store(&l)
}

// String implements fmt.Stringer.
func (l Level) String() string {
	switch l {
	case LevelTrace:
		return "trace"
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return fmt.Sprintf("level(%d)", int8(l))
	}
}

// ParseLevel parses a log level string into a Level.
func ParseLevel(raw string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "trace":
		return LevelTrace, nil
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", raw)
	}
}

// SetOutput replaces the writer used by the global logger. Records written
// to w are JSON lines.
func SetOutput(w io.Writer) {
	if w == nil {
		w = io.Discard
	}
	setWriter(w)
}

// SetLevel sets the global log level threshold.
func SetLevel(l Level) {
	level.Store(int32(l))
}

// CurrentLevel returns the active threshold.
func CurrentLevel() Level {
	return Level(level.Load())
}

// Enabled reports whether a level would be emitted by the current
// configuration.
func Enabled(l Level) bool {
	return l >= CurrentLevel()
}

func emit(l Level, ev func(*zerolog.Logger) *zerolog.Event, format string, args ...any) {
	if !Enabled(l) {
		return
	}
	ev(current.Load()).Msgf(format, args...)
}

// Tracef logs at TRACE level.
func Tracef(format string, args ...any) {
	emit(LevelTrace, traceEvent, format, args...)
}

// traceEvent writes trace records as level-less events tagged "trace", so
// they are not dropped by zerolog's default global level of debug.
func traceEvent(l *zerolog.Logger) *zerolog.Event {
	return l.Log().Str(zerolog.LevelFieldName, zerolog.LevelTraceValue)
}

// Debugf logs at DEBUG level.
func Debugf(format string, args ...any) {
	emit(LevelDebug, (*zerolog.Logger).Debug, format, args...)
}

// Infof logs at INFO level.
func Infof(format string, args ...any) {
	emit(LevelInfo, (*zerolog.Logger).Info, format, args...)
}

// Warnf logs at WARN level.
func Warnf(format string, args ...any) {
	emit(LevelWarn, (*zerolog.Logger).Warn, format, args...)
}

// Errorf logs at ERROR level.
func Errorf(format string, args ...any) {
	emit(LevelError, (*zerolog.Logger).Error, format, args...)
}
