// Package util holds process-wide helpers shared by the commands.
package util

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// NewLogger builds a timestamped zerolog logger writing to w (stdout when nil).
// Unknown levels fall back to info.
func NewLogger(level string, w io.Writer) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	if w == nil {
		w = os.Stdout
	}
	return zerolog.New(w).With().Timestamp().Logger().Level(lvl)
}

// NewConsoleLogger is NewLogger with human-readable output for interactive runs.
func NewConsoleLogger(level string) zerolog.Logger {
	return NewLogger(level, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
}
