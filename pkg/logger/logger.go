package logger

import (
	"log"
	"sync"

	"github.com/fatih/color"
)

// Level represents the severity level of a log message.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	NoticeLevel
	ErrorLevel
)

// Component tags a log line with the subsystem that emitted it.
type Component int

const (
	None Component = iota
	Ledger
	Executor
	Composer
	Retry
	Store
	Health
)

var componentPrefixes = map[Component]string{
	None:     "",
	Ledger:   "[LEDGER]   ",
	Executor: "[EXECUTOR] ",
	Composer: "[COMPOSER] ",
	Retry:    "[RETRY]    ",
	Store:    "[STORE]    ",
	Health:   "[HEALTH]   ",
}

var colors = map[Component]color.Attribute{
	None:     color.FgWhite,
	Ledger:   color.FgHiGreen,
	Executor: color.FgHiBlue,
	Composer: color.FgMagenta,
	Retry:    color.FgYellow,
	Store:    color.FgCyan,
	Health:   color.FgBlue,
}

// Logger is a simple interface for logging messages.
type Logger interface {
	// Info logs an informational message.
	Info(format string, args ...interface{})
	InfoWith(c Component, format string, args ...interface{})

	// Error logs an error message.
	Error(format string, args ...interface{})
	ErrorWith(c Component, format string, args ...interface{})

	// Debug logs a debug message.
	Debug(format string, args ...interface{})
	DebugWith(c Component, format string, args ...interface{})

	// Notice logs a notice message.
	Notice(format string, args ...interface{})
	NoticeWith(c Component, format string, args ...interface{})
}

// EmptyLogger is a Logger implementation that does nothing.
type EmptyLogger struct{}

var _ Logger = (*EmptyLogger)(nil)

func (l *EmptyLogger) Info(_ string, _ ...interface{}) {}
func (l *EmptyLogger) InfoWith(_ Component, _ string, _ ...interface{}) {}
func (l *EmptyLogger) Error(_ string, _ ...interface{}) {}
func (l *EmptyLogger) ErrorWith(_ Component, _ string, _ ...interface{}) {}
func (l *EmptyLogger) Debug(_ string, _ ...interface{}) {}
func (l *EmptyLogger) DebugWith(_ Component, _ string, _ ...interface{}) {}
func (l *EmptyLogger) Notice(_ string, _ ...interface{}) {}
func (l *EmptyLogger) NoticeWith(_ Component, _ string, _ ...interface{}) {}

// StdLogger logs messages to the console with optional coloring.
type StdLogger struct {
	enableColoring bool
	level          Level
	mu             sync.Mutex
}

var _ Logger = (*StdLogger)(nil)

func NewStdLogger(enableColoring bool, level Level) *StdLogger {
	return &StdLogger{
		enableColoring: enableColoring,
		level:          level,
	}
}

// formatMessage prepends the log level and component prefix, colored when
// coloring is enabled.
func (l *StdLogger) formatMessage(level Level, c Component, format string) string {
	prefix := componentPrefixes[c]
	if l.enableColoring && prefix != "" {
		prefix = color.New(colors[c]).Sprint(prefix)
	}

	var levelStr string
	switch level {
	case DebugLevel:
		levelStr = "[DEBUG]  "
	case InfoLevel:
		levelStr = "[INFO]   "
	case NoticeLevel:
		levelStr = "[NOTICE] "
	case ErrorLevel:
		levelStr = "[ERROR]  "
	}

	return levelStr + prefix + format
}

func (l *StdLogger) logAt(level Level, c Component, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.level <= level {
		log.Printf(l.formatMessage(level, c, format), args...)
	}
}

func (l *StdLogger) Info(format string, args ...interface{}) {
	l.logAt(InfoLevel, None, format, args...)
}

func (l *StdLogger) InfoWith(c Component, format string, args ...interface{}) {
	l.logAt(InfoLevel, c, format, args...)
}

func (l *StdLogger) Error(format string, args ...interface{}) {
	l.logAt(ErrorLevel, None, format, args...)
}

func (l *StdLogger) ErrorWith(c Component, format string, args ...interface{}) {
	l.logAt(ErrorLevel, c, format, args...)
}

func (l *StdLogger) Debug(format string, args ...interface{}) {
	l.logAt(DebugLevel, None, format, args...)
}

func (l *StdLogger) DebugWith(c Component, format string, args ...interface{}) {
	l.logAt(DebugLevel, c, format, args...)
}

func (l *StdLogger) Notice(format string, args ...interface{}) {
	l.logAt(NoticeLevel, None, format, args...)
}

func (l *StdLogger) NoticeWith(c Component, format string, args ...interface{}) {
	l.logAt(NoticeLevel, c, format, args...)
}
