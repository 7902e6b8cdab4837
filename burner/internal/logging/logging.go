// Package logging installs the process-wide slog logger and maps the 0-5
// numeric verbosity used on the command line onto slog levels.
package logging

import (
	"fmt"
	"io"
	"log/slog"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/obsidianstack/gpuburn/burner/internal/config"
)

// LevelVerbose sits between DEBUG and INFO. Per-tick progress summaries are
// logged at this level.
const LevelVerbose = slog.Level(-2)

// LevelNone silences all output.
const LevelNone = slog.Level(12)

// Level maps the numeric verbosity 0..5 onto slog levels.
// Out-of-range values clamp to the nearest end.
func Level(n int) slog.Level {
	switch {
	case n <= 0:
		return slog.LevelDebug
	case n == 1:
		return LevelVerbose
	case n == 2:
		return slog.LevelInfo
	case n == 3:
		return slog.LevelWarn
	case n == 4:
		return slog.LevelError
	default:
		return LevelNone
	}
}

// Setup builds the logger described by cfg, writes to stderr and, when
// cfg.File is set, to a rotated log file as well. It returns the LevelVar
// controlling the logger so callers can change verbosity at runtime, and a
// closer for the log file (a no-op when there is none).
func Setup(cfg config.LogConfig, stderr io.Writer) (*slog.Logger, *slog.LevelVar, io.Closer, error) {
	level := new(slog.LevelVar)
	level.Set(Level(cfg.Level))

	var (
		out    = stderr
		closer io.Closer = nopCloser{}
	)
	if cfg.File != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}
		out = io.MultiWriter(stderr, lj)
		closer = lj
	}

	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: replaceLevel,
	}

	var h slog.Handler
	switch cfg.Format {
	case "json", "":
		h = slog.NewJSONHandler(out, opts)
	case "text":
		h = slog.NewTextHandler(out, opts)
	default:
		_ = closer.Close()
		return nil, nil, nil, fmt.Errorf("logging: unknown format %q", cfg.Format)
	}
	return slog.New(h), level, closer, nil
}

// replaceLevel renders the custom VERBOSE level by name instead of "DEBUG+2".
func replaceLevel(_ []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey {
		return a
	}
	if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == LevelVerbose {
		a.Value = slog.StringValue("VERBOSE")
	}
	return a
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
