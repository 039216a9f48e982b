// Package logger provides the process-wide structured logger.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	globalLogger = slog.New(slog.NewTextHandler(io.Discard, nil))
	logFile      *os.File
	writer       io.Writer = io.Discard
	mu           sync.Mutex
)

// Options controls where and how records are written.
type Options struct {
	Path   string // Log file; empty writes to stderr
	Level  string // debug, info, warn, error
	Format string // text or json
}

// Init initializes the global logger with the specified log file path.
func Init(logPath string) error {
	return Setup(Options{Path: logPath, Level: "debug"})
}

// Setup initializes the global logger from opts.
func Setup(opts Options) error {
	mu.Lock()
	defer mu.Unlock()

	// Close previous log file if exists
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}

	var w io.Writer = os.Stderr
	if opts.Path != "" {
		f, err := os.OpenFile(opts.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("failed to create log file: %w", err)
		}
		logFile = f
		w = f
	}

	hopts := &slog.HandlerOptions{Level: ParseLevel(opts.Level)}
	var h slog.Handler
	if strings.EqualFold(opts.Format, "json") {
		h = slog.NewJSONHandler(w, hopts)
	} else {
		h = slog.NewTextHandler(w, hopts)
	}

	writer = w
	globalLogger = slog.New(h)
	slog.SetDefault(globalLogger)
	return nil
}

// ParseLevel maps a level name to slog.Level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Close closes the log file.
func Close() {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
	writer = io.Discard
	globalLogger = slog.New(slog.NewTextHandler(io.Discard, nil))
}

func current() *slog.Logger {
	mu.Lock()
	defer mu.Unlock()
	return globalLogger
}

func logf(level slog.Level, format string, v ...interface{}) {
	l := current()
	if !l.Enabled(context.Background(), level) {
		return
	}
	l.Log(context.Background(), level, fmt.Sprintf(format, v...))
}

// Info logs an info message.
func Info(format string, v ...interface{}) {
	logf(slog.LevelInfo, format, v...)
}

// Debug logs a debug message.
func Debug(format string, v ...interface{}) {
	logf(slog.LevelDebug, format, v...)
}

// Error logs an error message.
func Error(format string, v ...interface{}) {
	logf(slog.LevelError, format, v...)
}

// Warn logs a warning message.
func Warn(format string, v ...interface{}) {
	logf(slog.LevelWarn, format, v...)
}

// With returns a structured logger carrying attrs, e.g. run_id and device.
func With(args ...any) *slog.Logger {
	return current().With(args...)
}

// GetWriter returns the underlying writer for use by subprocess output.
func GetWriter() io.Writer {
	mu.Lock()
	defer mu.Unlock()
	return writer
}
