package logger

import (
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/fatih/color"
)

// Level represents the severity level of a log message.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	NoticeLevel
	WarnLevel
	ErrorLevel
)

// ParseLevel converts a level name such as "info" or "warn" to a Level
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DebugLevel, nil
	case "info", "":
		return InfoLevel, nil
	case "notice":
		return NoticeLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	}
	return InfoLevel, fmt.Errorf("unknown log level %q", s)
}

var jobPrefixes = map[string]string{
	"":            "",
	"limit_order": "[LIMIT] ",
	"dca":         "[DCA]   ",
	"twap":        "[TWAP]  ",
	"swap":        "[SWAP]  ",
}

var colors = map[string]color.Attribute{
	"":            color.FgWhite,
	"limit_order": color.FgHiGreen,
	"dca":         color.FgHiBlue,
	"twap":        color.FgMagenta,
	"swap":        color.FgYellow,
}

// Logger is a simple interface for logging messages.
type Logger interface {
	// Info logs an informational message.
	Info(format string, args ...interface{})
	InfoWithJob(jobType string, format string, args ...interface{})

	// Warn logs a warning message.
	Warn(format string, args ...interface{})
	WarnWithJob(jobType string, format string, args ...interface{})

	// Error logs an error message.
	Error(format string, args ...interface{})
	ErrorWithJob(jobType string, format string, args ...interface{})

	// Debug logs a debug message.
	Debug(format string, args ...interface{})
	DebugWithJob(jobType string, format string, args ...interface{})

	// Notice logs a notice message.
	Notice(format string, args ...interface{})
	NoticeWithJob(jobType string, format string, args ...interface{})
}

// EmptyLogger is a simple implementation of the Logger interface that does nothing.
type EmptyLogger struct{}

var _ Logger = (*EmptyLogger)(nil)

func (l *EmptyLogger) Info(_ string, _ ...interface{})                     {}
func (l *EmptyLogger) InfoWithJob(_ string, _ string, _ ...interface{})   {}
func (l *EmptyLogger) Warn(_ string, _ ...interface{})                     {}
func (l *EmptyLogger) WarnWithJob(_ string, _ string, _ ...interface{})   {}
func (l *EmptyLogger) Error(_ string, _ ...interface{})                    {}
func (l *EmptyLogger) ErrorWithJob(_ string, _ string, _ ...interface{})  {}
func (l *EmptyLogger) Debug(_ string, _ ...interface{})                    {}
func (l *EmptyLogger) DebugWithJob(_ string, _ string, _ ...interface{})  {}
func (l *EmptyLogger) Notice(_ string, _ ...interface{})                   {}
func (l *EmptyLogger) NoticeWithJob(_ string, _ string, _ ...interface{}) {}

// StdLogger is a standard implementation of the Logger interface that logs messages to the console.
type StdLogger struct {
	enableColoring bool
	level          Level
	out            *log.Logger
	mu             sync.Mutex
}

var _ Logger = (*StdLogger)(nil)

func NewStdLogger(enableColoring bool, level Level) *StdLogger {
	return &StdLogger{
		enableColoring: enableColoring,
		level:          level,
		out:            log.Default(),
	}
}

// WithOutput redirects the logger, mostly for tests
func (l *StdLogger) WithOutput(out *log.Logger) *StdLogger {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.out = out
	return l
}

// formatMessage formats the log message with the appropriate log level, job prefix, and coloring if enabled.
func (l *StdLogger) formatMessage(level Level, jobType string, format string) string {
	jobPrefix := jobPrefixes[jobType]
	if l.enableColoring && jobPrefix != "" {
		jobPrefix = color.New(colors[jobType]).Sprint(jobPrefix)
	}

	var levelStr string
	switch level {
	case DebugLevel:
		levelStr = "[DEBUG]  "
	case InfoLevel:
		levelStr = "[INFO]   "
	case NoticeLevel:
		levelStr = "[NOTICE] "
	case WarnLevel:
		levelStr = "[WARN]   "
	case ErrorLevel:
		levelStr = "[ERROR]  "
	}
	if l.enableColoring && level >= WarnLevel {
		attr := color.FgYellow
		if level == ErrorLevel {
			attr = color.FgRed
		}
		levelStr = color.New(attr).Sprint(levelStr)
	}

	return levelStr + jobPrefix + format
}

func (l *StdLogger) logf(level Level, jobType string, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.level <= level {
		l.out.Printf(l.formatMessage(level, jobType, format), args...)
	}
}

func (l *StdLogger) Info(format string, args ...interface{}) {
	l.logf(InfoLevel, "", format, args...)
}

func (l *StdLogger) InfoWithJob(jobType string, format string, args ...interface{}) {
	l.logf(InfoLevel, jobType, format, args...)
}

func (l *StdLogger) Warn(format string, args ...interface{}) {
	l.logf(WarnLevel, "", format, args...)
}

func (l *StdLogger) WarnWithJob(jobType string, format string, args ...interface{}) {
	l.logf(WarnLevel, jobType, format, args...)
}

func (l *StdLogger) Error(format string, args ...interface{}) {
	l.logf(ErrorLevel, "", format, args...)
}

func (l *StdLogger) ErrorWithJob(jobType string, format string, args ...interface{}) {
	l.logf(ErrorLevel, jobType, format, args...)
}

func (l *StdLogger) Debug(format string, args ...interface{}) {
	l.logf(DebugLevel, "", format, args...)
}

func (l *StdLogger) DebugWithJob(jobType string, format string, args ...interface{}) {
	l.logf(DebugLevel, jobType, format, args...)
}

func (l *StdLogger) Notice(format string, args ...interface{}) {
	l.logf(NoticeLevel, "", format, args...)
}

func (l *StdLogger) NoticeWithJob(jobType string, format string, args ...interface{}) {
	l.logf(NoticeLevel, jobType, format, args...)
}
