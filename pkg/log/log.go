// Package log configures the process-wide slog logger for the binaries.
package log

import (
	"log/slog"
	"os"
	"strings"
)

// Setup installs a text handler on the default logger. Unknown level names
// fall back to info.
func Setup(logLevel string) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToLower(logLevel))); err != nil {
		level = slog.LevelInfo
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))
}

// WithModule returns a logger tagged with the component it belongs to.
func WithModule(module string) *slog.Logger {
	return slog.With("module", module)
}
