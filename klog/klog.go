// Package klog is the logging sink the rest of the kernel core formats
// messages through. Spec.md §6 describes the sink as external: "Logging is
// via a sink abstraction that formats (level, function, line, fmt, args...)".
// No logging library appears anywhere in the retrieval pack (the teacher logs
// with bare fmt.Printf throughout biscuit/src/mem, biscuit/src/vm, ...), so
// this keeps that texture rather than reaching for a framework nothing in
// the pack uses.
package klog

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"sync"
)

// Level orders message severity, least to most urgent.
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "DEBUG"
	case Info:
		return "INFO"
	case Warn:
		return "WARN"
	case Error:
		return "ERROR"
	default:
		return "???"
	}
}

// Sink receives formatted log records. Subsystems hold a Sink, not a
// concrete writer, so tests can swap in a capturing sink.
type Sink interface {
	Log(level Level, function string, line int, format string, args ...interface{})
}

// WriterSink formats records as a single line to an io.Writer.
type WriterSink struct {
	mu sync.Mutex
	W  io.Writer
}

// NewWriterSink wraps w (e.g. os.Stderr) as a Sink.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{W: w}
}

// Log implements Sink.
func (s *WriterSink) Log(level Level, function string, line int, format string, args ...interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(s.W, "[%s] %s:%d: %s\n", level, function, line, msg)
}

// Default is the process-wide sink used by packages that do not carry their
// own. Tests and cmd/palmyractl may replace it.
var Default Sink = NewWriterSink(os.Stderr)

// caller resolves the short function name and line of the frame that called
// the emit helper two levels up.
func caller(skip int) (string, int) {
	pc, _, line, ok := runtime.Caller(skip)
	if !ok {
		return "?", 0
	}
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return "?", line
	}
	return fn.Name(), line
}

// Debugf logs at Debug level through Default.
func Debugf(format string, args ...interface{}) {
	fn, line := caller(2)
	Default.Log(Debug, fn, line, format, args...)
}

// Infof logs at Info level through Default.
func Infof(format string, args ...interface{}) {
	fn, line := caller(2)
	Default.Log(Info, fn, line, format, args...)
}

// Warnf logs at Warn level through Default.
func Warnf(format string, args ...interface{}) {
	fn, line := caller(2)
	Default.Log(Warn, fn, line, format, args...)
}

// Errorf logs at Error level through Default.
func Errorf(format string, args ...interface{}) {
	fn, line := caller(2)
	Default.Log(Error, fn, line, format, args...)
}

// Deduper suppresses repeated log records from the same call stack. Hot
// paths (interrupt handlers, per-packet dispatch) can fire a warning on
// every invocation; a Deduper turns that into a one-shot.
type Deduper struct {
	mu  sync.Mutex
	did map[uintptr]bool
}

// pcHash is a poor-man's hash of a call stack's return addresses.
func pcHash(pcs []uintptr) uintptr {
	var ret uintptr
	for _, pc := range pcs {
		pc = pc*1103515245 + 12345
		ret ^= pc
	}
	return ret
}

// seen reports whether the call stack starting three frames up (the
// WarnOnce call site) has already fired this Deduper, recording it if not.
func (d *Deduper) seen() bool {
	var pcs [30]uintptr
	n := runtime.Callers(3, pcs[:])
	if n == 0 {
		return false
	}
	h := pcHash(pcs[:n])
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.did == nil {
		d.did = make(map[uintptr]bool)
	}
	if d.did[h] {
		return true
	}
	d.did[h] = true
	return false
}

// WarnOnce logs at Warn level the first time this call site fires and is
// silent on every later call from the same stack.
func (d *Deduper) WarnOnce(format string, args ...interface{}) {
	if d.seen() {
		return
	}
	fn, line := caller(2)
	Default.Log(Warn, fn, line, format, args...)
}
