package main

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	defaultLogSizeMB  = 10
	defaultLogBackups = 5
	defaultLogAgeDays = 14
)

// newLogger builds the application logger. Records always go to stderr, and to a rotated file when
// one is configured. The returned closer flushes and closes that file.
func newLogger(cfg logConfig) (*slog.Logger, io.Closer, error) {
	level, err := cfg.level()
	if err != nil {
		return nil, nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	logPath := strings.TrimSpace(cfg.File)
	if logPath == "" {
		return slog.New(newHandler(cfg.Format, os.Stderr, opts)), io.NopCloser(nil), nil
	}
	if err := os.MkdirAll(filepath.Dir(logPath), 0700); err != nil {
		return nil, nil, err
	}

	writer := &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    orDefault(cfg.MaxSizeMB, defaultLogSizeMB),
		MaxBackups: orDefault(cfg.MaxBackups, defaultLogBackups),
		MaxAge:     orDefault(cfg.MaxAgeDays, defaultLogAgeDays),
		Compress:   true,
	}

	out := io.MultiWriter(os.Stderr, writer)
	return slog.New(newHandler(cfg.Format, out, opts)), writer, nil
}

func newHandler(format string, out io.Writer, opts *slog.HandlerOptions) slog.Handler {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		return slog.NewJSONHandler(out, opts)
	default:
		return slog.NewTextHandler(out, opts)
	}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
