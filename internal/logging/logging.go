// Package logging configures the process-wide slog logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/natefinch/lumberjack"
)

// Rotation limits for the log file.
const (
	MaxSizeMB  = 20
	MaxBackups = 3
	MaxAgeDays = 14
)

// New builds a text logger writing to stderr and, when file is set, to a
// rotating log file. The returned close func releases the file.
func New(level slog.Level, file string) (*slog.Logger, func() error) {
	var w io.Writer = os.Stderr
	closer := func() error { return nil }

	if file != "" {
		_ = os.MkdirAll(filepath.Dir(file), 0755)
		lj := &lumberjack.Logger{
			Filename:   file,
			MaxSize:    MaxSizeMB,
			MaxBackups: MaxBackups,
			MaxAge:     MaxAgeDays,
		}
		w = io.MultiWriter(os.Stderr, lj)
		closer = lj.Close
	}

	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(h), closer
}

// Setup installs New's logger as the slog default.
func Setup(level slog.Level, file string) func() error {
	logger, closer := New(level, file)
	slog.SetDefault(logger)
	return closer
}
