package host

import (
	"log/slog"
)

// cronLogger forwards robfig/cron's logging to slog, cron's routine messages
// are only interesting when debugging.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	slog.Error("cron: "+msg, append([]any{"err", err}, keysAndValues...)...)
}
