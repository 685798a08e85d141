// Package log wires slog handlers for the CLI: a structured primary handler
// plus a human-facing error handler on stderr.
package log

import "log/slog"

type Key struct{}

var LoggerKey = Key{}

// LevelTrace sits one step below slog.LevelDebug for wire-level detail.
const LevelTrace = slog.LevelDebug - 4

var configLevels = map[string]slog.Level{
	"trace": LevelTrace,
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// ConfigLevelStringToSlogLevel maps a log-level config value to its slog
// level, defaulting to error for unknown values.
func ConfigLevelStringToSlogLevel(level string) slog.Level {
	if l, ok := configLevels[level]; ok {
		return l
	}
	return slog.LevelError
}
