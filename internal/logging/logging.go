// Package logging provides file logging for the framegate CLI.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// DefaultLogDir returns the default log directory under the XDG state home.
// Uses $XDG_STATE_HOME/framegate/logs, defaulting to ~/.local/state/framegate/logs.
func DefaultLogDir() string {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, "framegate", "logs")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "framegate", "logs")
	}
	return filepath.Join(home, ".local", "state", "framegate", "logs")
}

// NewLogger returns a logfmt logger writing to w, filtered to info or debug.
func NewLogger(w io.Writer, verbose bool) log.Logger {
	logger := log.NewLogfmtLogger(log.NewSyncWriter(w))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC)
	if verbose {
		return level.NewFilter(logger, level.AllowDebug())
	}
	return level.NewFilter(logger, level.AllowInfo())
}

// Logger owns the log file of a CLI run and the structured logger writing to it.
type Logger struct {
	logger   log.Logger
	file     *os.File
	filePath string
}

// Setup creates a new logger that writes to a timestamped log file.
// Returns nil if logging is disabled (noLog=true).
// cmdArgs should be os.Args to log the command that was run.
func Setup(logDir string, verbose, noLog bool, cmdArgs []string) (*Logger, error) {
	if noLog {
		return nil, nil
	}

	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w", logDir, err)
	}

	timestamp := time.Now().Format("20060102_150405")
	filePath := filepath.Join(logDir, fmt.Sprintf("framegate_run_%s.log", timestamp))

	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create log file %s: %w", filePath, err)
	}

	l := &Logger{
		logger:   NewLogger(file, verbose),
		file:     file,
		filePath: filePath,
	}

	l.Info("framegate starting", "command", strings.Join(cmdArgs, " "), "log_file", filePath)
	if verbose {
		l.Info("debug level logging enabled")
	}

	return l, nil
}

// Kit returns the structured logger, or a no-op logger when l is nil.
func (l *Logger) Kit() log.Logger {
	if l == nil {
		return log.NewNopLogger()
	}
	return l.logger
}

// Path returns the log file path.
func (l *Logger) Path() string {
	if l == nil {
		return ""
	}
	return l.filePath
}

// Close closes the log file.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Info logs an info-level message with optional key/value pairs.
func (l *Logger) Info(msg string, keyvals ...any) {
	if l == nil {
		return
	}
	_ = level.Info(l.logger).Log(append([]any{"msg", msg}, keyvals...)...)
}

// Debug logs a debug-level message (only if verbose mode is enabled).
func (l *Logger) Debug(msg string, keyvals ...any) {
	if l == nil {
		return
	}
	_ = level.Debug(l.logger).Log(append([]any{"msg", msg}, keyvals...)...)
}

// Writer returns an io.Writer that writes to the log file.
// Useful for redirecting other loggers or capturing output.
func (l *Logger) Writer() io.Writer {
	if l == nil || l.file == nil {
		return io.Discard
	}
	return l.file
}
