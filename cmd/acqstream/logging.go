package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/jrick/logrotate/rotator"

	"github.com/c360/acqstream/config"
)

const (
	logRollKB    = 10 * 1024
	logMaxRolls  = 3
	logDirPerm   = 0o700
	logAddSource = slog.LevelDebug
)

// logOutput tees stdout into a rotated file when path is set. The returned
// closer flushes the rotator.
func logOutput(path string) (io.Writer, func() error, error) {
	if path == "" {
		return os.Stdout, func() error { return nil }, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), logDirPerm); err != nil {
		return nil, nil, fmt.Errorf("create log directory: %w", err)
	}
	r, err := rotator.New(path, logRollKB, false, logMaxRolls)
	if err != nil {
		return nil, nil, fmt.Errorf("create log rotator: %w", err)
	}
	return io.MultiWriter(os.Stdout, r), r.Close, nil
}

func setupLogger(level, format string, out io.Writer) *slog.Logger {
	lvl, err := config.ParseLevel(level)
	if err != nil {
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl <= logAddSource,
	}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "text":
		handler = slog.NewTextHandler(out, opts)
	default:
		handler = slog.NewJSONHandler(out, opts)
	}

	return slog.New(handler).With(
		"service", appName,
		"version", Version,
		"pid", os.Getpid(),
	)
}
