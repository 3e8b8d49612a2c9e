// Package monitoring holds the process-wide diagnostic loggers.
//
// Logf is the general-purpose logger. Opsf, Diagf and Tracef split output
// into three streams: ops (actionable warnings, dropped data), diag
// (day-to-day diagnostics) and trace (per-frame telemetry). Each stream is
// disabled until a writer is configured.
package monitoring

import (
	"io"
	"log"
	"sync"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

var (
	streamMu    sync.RWMutex
	opsLogger   *log.Logger
	diagLogger  *log.Logger
	traceLogger *log.Logger
)

// SetLogWriters configures the three logging streams. Pass nil for any
// writer to disable that stream.
func SetLogWriters(ops, diag, trace io.Writer) {
	streamMu.Lock()
	defer streamMu.Unlock()
	opsLogger = newLogger(ops)
	diagLogger = newLogger(diag)
	traceLogger = newLogger(trace)
}

func newLogger(w io.Writer) *log.Logger {
	if w == nil {
		return nil
	}
	return log.New(w, "", log.LstdFlags|log.Lmicroseconds)
}

func emit(l **log.Logger, format string, args ...interface{}) {
	streamMu.RLock()
	logger := *l
	streamMu.RUnlock()
	if logger != nil {
		logger.Printf(format, args...)
	}
}

// Opsf logs to the ops stream.
func Opsf(format string, args ...interface{}) { emit(&opsLogger, format, args...) }

// Diagf logs to the diag stream.
func Diagf(format string, args ...interface{}) { emit(&diagLogger, format, args...) }

// Tracef logs to the trace stream.
func Tracef(format string, args ...interface{}) { emit(&traceLogger, format, args...) }
