package logging

import (
	"log/slog"

	"github.com/robfig/cron/v3"
)

// cronLogger bridges robfig/cron internals to slog.
type cronLogger struct {
	logger *slog.Logger
}

// Cron adapts slog logger to cron.Logger.
// Params: destination logger.
// Returns: cron logger; scheduler chatter goes to debug level.
func Cron(logger *slog.Logger) cron.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return cronLogger{logger: logger.With("component", "scheduler")}
}

// Info logs scheduler lifecycle messages (start, wake, skip) at debug level.
func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.logger.Debug(msg, keysAndValues...)
}

// Error logs scheduler failures, including recovered job panics.
func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	args := append([]any{"error", err}, keysAndValues...)
	c.logger.Error(msg, args...)
}
