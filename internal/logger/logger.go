// Package logger provides structured logging for the dashboard and the mock backend.
package logger

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/tuanbt/vickyboard/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

// NewSystemLogger creates a logger writing JSON to a rotated file and to stdout.
// name is the log file name without extension, e.g. "mock".
func NewSystemLogger(cfg *config.Config, name string) (*slog.Logger, io.Closer, error) {
	file, err := newRotatingFile(cfg, name)
	if err != nil {
		return nil, nil, err
	}

	handler := slog.NewJSONHandler(io.MultiWriter(os.Stdout, file), &slog.HandlerOptions{
		Level: ParseLevel(cfg.LogLevel),
	})
	return slog.New(handler), file, nil
}

// NewEmbeddedLogger creates a logger that ONLY writes to file (for the TUI, which owns the terminal).
func NewEmbeddedLogger(cfg *config.Config, name string) (*slog.Logger, io.Closer, error) {
	file, err := newRotatingFile(cfg, name)
	if err != nil {
		return nil, nil, err
	}

	handler := slog.NewJSONHandler(file, &slog.HandlerOptions{
		Level: ParseLevel(cfg.LogLevel),
	})
	return slog.New(handler), file, nil
}

// NewConsoleLogger creates a simple console-only logger on stderr, leaving stdout to command output.
func NewConsoleLogger(cfg *config.Config) *slog.Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: ParseLevel(cfg.LogLevel),
	})
	return slog.New(handler)
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newRotatingFile(cfg *config.Config, name string) (*lumberjack.Logger, error) {
	if err := os.MkdirAll(cfg.LogDirectory, 0755); err != nil {
		return nil, err
	}
	return &lumberjack.Logger{
		Filename:   filepath.Join(cfg.LogDirectory, name+".log"),
		MaxSize:    cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		Compress:   true,
	}, nil
}

// ParseLevel converts a string log level to slog.Level.
func ParseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
