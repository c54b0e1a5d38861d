// Package klog wraps log/slog for kernel diagnostics. The kernel's hot
// paths (tick handler, schedule(), block/wake) never log; the simulation
// CLI and the host port's lifecycle logging use this.
package klog

import (
	"io"
	"log/slog"
)

// New builds a structured JSON logger writing to w at info level.
func New(w io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// Discard returns a logger that drops everything, used as the default
// wherever no logger is supplied.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
