package siteguard

import (
	"os"

	"github.com/oarkflow/log"
)

// StructuredLogger adapts the process-wide oarkflow/log logger to the Logger
// interface the engine components consume.
type StructuredLogger struct {
	logger *log.Logger
}

func NewStructuredLogger() *StructuredLogger {
	return &StructuredLogger{
		logger: &log.Logger{
			Level:      log.InfoLevel,
			TimeFormat: "2006-01-02 15:04:05",
			Writer: &log.ConsoleWriter{
				ColorOutput: true,
				Writer:      os.Stderr,
			},
		},
	}
}

// NewStructuredLoggerWith wraps an existing configured logger.
func NewStructuredLoggerWith(logger *log.Logger) *StructuredLogger {
	return &StructuredLogger{logger: logger}
}

func (l *StructuredLogger) Debug(msg string, fields map[string]any) {
	l.emit(l.logger.Debug(), msg, fields)
}

func (l *StructuredLogger) Info(msg string, fields map[string]any) {
	l.emit(l.logger.Info(), msg, fields)
}

func (l *StructuredLogger) Warn(msg string, fields map[string]any) {
	l.emit(l.logger.Warn(), msg, fields)
}

func (l *StructuredLogger) Error(msg string, fields map[string]any) {
	l.emit(l.logger.Error(), msg, fields)
}

func (l *StructuredLogger) emit(entry *log.Entry, msg string, fields map[string]any) {
	for k, v := range fields {
		entry = entry.Any(k, v)
	}
	entry.Msg(msg)
}

// NopLogger discards everything. Used in tests and as the fallback when no
// logger is supplied.
type NopLogger struct{}

func (NopLogger) Debug(string, map[string]any) {}
func (NopLogger) Info(string, map[string]any)  {}
func (NopLogger) Warn(string, map[string]any)  {}
func (NopLogger) Error(string, map[string]any) {}
