// Package observability provides the logging, metrics and tracing surface
// shared by every cache component. It follows a single convention across the
// module: components accept a Logger and a MetricsClient at construction
// time and never reach for a package-level global.
package observability

import (
	"os"

	"github.com/sirupsen/logrus"
)

// LogLevel defines log message severity.
type LogLevel string

// Log levels, ordered by severity.
const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// Logger is the structured logging interface every component depends on.
type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})

	// With returns a logger that always includes the given fields.
	With(fields map[string]interface{}) Logger
	// WithPrefix returns a logger tagged with the given component name.
	WithPrefix(prefix string) Logger
}

// logrusLogger adapts logrus to the Logger interface.
type logrusLogger struct {
	entry *logrus.Entry
}

// NewLogger creates a Logger tagged with the given component name, writing
// structured fields to stderr. Constructors in this module replace a nil
// Logger with NewNoopLogger(), not with NewLogger.
func NewLogger(component string) Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return &logrusLogger{entry: l.WithField("component", component)}
}

func (l *logrusLogger) Debug(msg string, fields map[string]interface{}) {
	l.entry.WithFields(logrus.Fields(fields)).Debug(msg)
}

func (l *logrusLogger) Info(msg string, fields map[string]interface{}) {
	l.entry.WithFields(logrus.Fields(fields)).Info(msg)
}

func (l *logrusLogger) Warn(msg string, fields map[string]interface{}) {
	l.entry.WithFields(logrus.Fields(fields)).Warn(msg)
}

func (l *logrusLogger) Error(msg string, fields map[string]interface{}) {
	l.entry.WithFields(logrus.Fields(fields)).Error(msg)
}

func (l *logrusLogger) With(fields map[string]interface{}) Logger {
	return &logrusLogger{entry: l.entry.WithFields(logrus.Fields(fields))}
}

func (l *logrusLogger) WithPrefix(prefix string) Logger {
	return &logrusLogger{entry: l.entry.WithField("component", prefix)}
}

// noopLogger discards everything. Constructors in this module use it when
// they are given a nil Logger.
type noopLogger struct{}

// NewNoopLogger returns a Logger that discards all output.
func NewNoopLogger() Logger { return noopLogger{} }

func (noopLogger) Debug(string, map[string]interface{}) {}
func (noopLogger) Info(string, map[string]interface{})  {}
func (noopLogger) Warn(string, map[string]interface{})  {}
func (noopLogger) Error(string, map[string]interface{}) {}
func (n noopLogger) With(map[string]interface{}) Logger { return n }
func (n noopLogger) WithPrefix(string) Logger            { return n }
