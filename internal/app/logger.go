// Package app holds process-wide plumbing shared by every layer of the
// pipeline engine, most notably the logging surface.
package app

import (
	"fmt"
	"io"
	"os"
)

// Logger is the leveled, printf-style logging surface used across the engine
type Logger interface {
	Debug(format string, args ...interface{})
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})
}

// stderrLogger is the fallback logger: plain leveled lines, no filtering
type stderrLogger struct {
	out io.Writer
}

func (l *stderrLogger) emit(level, format string, args []interface{}) {
	fmt.Fprintf(l.out, level+": "+format+"\n", args...)
}

func (l *stderrLogger) Debug(format string, args ...interface{}) { l.emit("DEBUG", format, args) }
func (l *stderrLogger) Info(format string, args ...interface{})  { l.emit("INFO", format, args) }
func (l *stderrLogger) Warn(format string, args ...interface{})  { l.emit("WARN", format, args) }
func (l *stderrLogger) Error(format string, args ...interface{}) { l.emit("ERROR", format, args) }

var globalLogger Logger = &stderrLogger{out: os.Stderr}

// SetLogger replaces the process-wide logger. Nil is ignored so callers can
// pass through an optional override unconditionally.
func SetLogger(logger Logger) {
	if logger != nil {
		globalLogger = logger
	}
}

// GetLogger returns the process-wide logger
func GetLogger() Logger {
	return globalLogger
}
