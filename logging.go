package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/tonimelisma/tasksync/internal/config"
)

// logFileMaxSizeMB caps a single log file before lumberjack rotates it.
const logFileMaxSizeMB = 10

// buildLogger creates the process logger. The config-file level is the
// baseline; --verbose and --quiet override it because CLI flags always win.
// When log_file is set, output goes to a rotating file instead of stderr.
// The returned func closes the log file, if any.
func buildLogger(lc config.LoggingConfig, flags CLIFlags, stderr io.Writer) (*slog.Logger, func()) {
	opts := &slog.HandlerOptions{Level: logLevel(lc.LogLevel, flags)}

	var (
		w      = stderr
		closer = func() {}
	)

	if lc.LogFile != "" {
		lj := &lumberjack.Logger{
			Filename: config.ExpandHome(lc.LogFile),
			MaxSize:  logFileMaxSizeMB,
			MaxAge:   lc.LogRetentionDays,
		}

		w = lj
		closer = func() { lj.Close() }
	}

	if useJSONLogs(lc.LogFormat, w) {
		return slog.New(slog.NewJSONHandler(w, opts)), closer
	}

	return slog.New(slog.NewTextHandler(w, opts)), closer
}

func logLevel(configured string, flags CLIFlags) slog.Level {
	level := slog.LevelInfo

	switch configured {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	if flags.Verbose {
		level = slog.LevelDebug
	}

	if flags.Quiet {
		level = slog.LevelError
	}

	return level
}

// useJSONLogs resolves log_format. "auto" means text on a terminal and
// JSON everywhere else (files, pipes, service managers).
func useJSONLogs(format string, w io.Writer) bool {
	switch format {
	case "json":
		return true
	case "text":
		return false
	default:
		return !isTerminal(w)
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}

	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
