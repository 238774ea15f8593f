package app

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// Options configures an App.
type Options struct {
	// ConfigPath is the TOML settings file. Empty means built-in
	// defaults.
	ConfigPath string

	// Workspaces are the workspace folder paths. When empty, the
	// directory of the first path argument is used, then the working
	// directory.
	Workspaces []string

	// Strategy overrides the configured resolution strategy id.
	Strategy string

	// Watch keeps the app running, streaming membership changes.
	Watch bool

	// LogLevel is one of debug, info, warn, error.
	LogLevel string

	// Paths are extra file arguments to resolve against the project
	// list.
	Paths []string

	// Output receives the project listing. Defaults to stdout.
	Output io.Writer

	// LogOutput receives structured logs and server output sinks.
	// Defaults to stderr.
	LogOutput io.Writer
}

// withDefaults fills unset fields.
func (o Options) withDefaults() Options {
	if o.Output == nil {
		o.Output = os.Stdout
	}
	if o.LogOutput == nil {
		o.LogOutput = os.Stderr
	}
	if len(o.Workspaces) == 0 {
		if len(o.Paths) > 0 {
			if abs, err := filepath.Abs(o.Paths[0]); err == nil {
				o.Workspaces = []string{filepath.Dir(abs)}
			}
		}
		if len(o.Workspaces) == 0 {
			if cwd, err := os.Getwd(); err == nil {
				o.Workspaces = []string{cwd}
			}
		}
	}
	return o
}

// parseLogLevel maps a level name to a slog level, defaulting to info.
func parseLogLevel(s string) slog.Level {
	switch s {
	case "debug", "DEBUG":
		return slog.LevelDebug
	case "warn", "WARN", "warning", "WARNING":
		return slog.LevelWarn
	case "error", "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
