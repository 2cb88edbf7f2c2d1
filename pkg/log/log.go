// Copyright The NRI Plugins Authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import (
	"fmt"
	stdlog "log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"

	"k8s.io/klog/v2"
)

// Level is the severity of a log message.
type Level int

const (
	// LevelDebug is the severity for debug messages.
	LevelDebug Level = iota
	// LevelInfo is the severity for informational messages.
	LevelInfo
	// LevelWarn is the severity for warnings.
	LevelWarn
	// LevelError is the severity for errors.
	LevelError
)

// Logger is the interface for producing log messages for a source.
type Logger interface {
	Debug(format string, args ...interface{})
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})
	Fatal(format string, args ...interface{})
	Panic(format string, args ...interface{})

	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})

	// EnableDebug enables or disables debug messages, returning the old state.
	EnableDebug(bool) bool
	// DebugEnabled returns true if debug messages are enabled.
	DebugEnabled() bool
	// Source returns the source name of this Logger.
	Source() string
	// SlogHandler returns a slog.Handler which logs through this Logger.
	SlogHandler() slog.Handler
}

// logger implements Logger for a single source.
type logger struct {
	source string
}

// logging is the global state of all loggers.
type logging struct {
	sync.RWMutex
	level   Level
	prefix  bool
	dbgmap  srcmap
	debug   map[string]bool
	loggers map[string]logger
	maxlen  int
}

var (
	log = &logging{
		level:   DefaultLevel,
		dbgmap:  make(srcmap),
		debug:   make(map[string]bool),
		loggers: make(map[string]logger),
	}
	deflog = log.get("default")
)

// Get returns the Logger for the given source, creating it if necessary.
func Get(source string) Logger {
	return log.get(source)
}

// NewLogger is an alias for Get.
func NewLogger(source string) Logger {
	return log.get(source)
}

// Default returns the default Logger.
func Default() Logger {
	return deflog
}

// Flush flushes any pending log messages.
func Flush() {
	klog.Flush()
}

// SetLevel sets the global logging severity threshold.
func SetLevel(level Level) {
	log.Lock()
	defer log.Unlock()
	log.level = level
}

// SetStdLogger routes messages of the standard log package to the given source.
func SetStdLogger(source string) {
	var l Logger
	if source == "" {
		l = Default()
	} else {
		l = Get(source)
	}
	stdlog.SetFlags(0)
	stdlog.SetOutput(&stdWriter{l: l})
}

// SetupDebugToggleSignal sets up a signal handler to toggle full debugging.
func SetupDebugToggleSignal(sig os.Signal) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sig)
	go func() {
		state := false
		for range ch {
			state = !state
			log.Lock()
			log.debug["*"] = state
			log.Unlock()
			deflog.Info("full debugging toggled %s by signal %v", onOff(state), sig)
		}
	}()
}

type stdWriter struct {
	l Logger
}

func (w *stdWriter) Write(p []byte) (int, error) {
	w.l.Info("%s", strings.TrimSuffix(string(p), "\n"))
	return len(p), nil
}

func (l *logging) get(source string) logger {
	l.Lock()
	defer l.Unlock()

	if lg, ok := l.loggers[source]; ok {
		return lg
	}

	lg := logger{source: source}
	l.loggers[source] = lg
	if len(source) > l.maxlen {
		l.maxlen = len(source)
	}

	return lg
}

func (l *logging) setDbgMap(m srcmap) {
	l.dbgmap = m
	l.debug = make(map[string]bool)
	for src, state := range m {
		l.debug[src] = state
	}
}

func (l *logging) setPrefix(prefix bool) {
	l.prefix = prefix
}

func (l *logging) debugEnabled(source string) bool {
	l.RLock()
	defer l.RUnlock()

	if state, ok := l.debug[source]; ok {
		return state
	}
	return l.debug["*"]
}

func (l *logging) formatted(source, format string, args ...interface{}) string {
	msg := fmt.Sprintf(format, args...)

	l.RLock()
	prefix, maxlen := l.prefix, l.maxlen
	l.RUnlock()

	if !prefix {
		return msg
	}

	return fmt.Sprintf("[%*s] %s", maxlen, source, msg)
}

func (l *logging) passes(level Level) bool {
	l.RLock()
	defer l.RUnlock()
	return level >= l.level
}

func (lg logger) Debug(format string, args ...interface{}) {
	if !lg.DebugEnabled() {
		return
	}
	klog.InfoDepth(1, log.formatted(lg.source, "D: "+format, args...))
}

func (lg logger) Info(format string, args ...interface{}) {
	if !log.passes(LevelInfo) {
		return
	}
	klog.InfoDepth(1, log.formatted(lg.source, format, args...))
}

func (lg logger) Warn(format string, args ...interface{}) {
	if !log.passes(LevelWarn) {
		return
	}
	klog.WarningDepth(1, log.formatted(lg.source, format, args...))
}

func (lg logger) Error(format string, args ...interface{}) {
	klog.ErrorDepth(1, log.formatted(lg.source, format, args...))
}

func (lg logger) Fatal(format string, args ...interface{}) {
	klog.FatalDepth(1, log.formatted(lg.source, format, args...))
}

func (lg logger) Panic(format string, args ...interface{}) {
	msg := log.formatted(lg.source, format, args...)
	klog.ErrorDepth(1, msg)
	panic(msg)
}

func (lg logger) Debugf(format string, args ...interface{}) { lg.Debug(format, args...) }
func (lg logger) Infof(format string, args ...interface{})  { lg.Info(format, args...) }
func (lg logger) Warnf(format string, args ...interface{})  { lg.Warn(format, args...) }
func (lg logger) Errorf(format string, args ...interface{}) { lg.Error(format, args...) }

func (lg logger) EnableDebug(state bool) bool {
	log.Lock()
	defer log.Unlock()

	old, ok := log.debug[lg.source]
	if !ok {
		old = log.debug["*"]
	}
	log.debug[lg.source] = state

	return old
}

func (lg logger) DebugEnabled() bool {
	return log.debugEnabled(lg.source)
}

func (lg logger) Source() string {
	return lg.source
}

// loggerError returns a package-specific formatted error.
func loggerError(format string, args ...interface{}) error {
	return fmt.Errorf("logger: "+format, args...)
}

func onOff(state bool) string {
	if state {
		return "on"
	}
	return "off"
}
