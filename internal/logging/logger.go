package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"stockwatch/internal/config"
)

const (
	ansiReset  = "\x1b[0m"
	ansiBlue   = "\x1b[34m"
	ansiYellow = "\x1b[33m"
	ansiRed    = "\x1b[31m"
	ansiGray   = "\x1b[90m"
)

// New builds a logger for configured sinks and returns a cleanup function.
// Params: cfg contains console/file sink settings.
// Returns: slog logger, cleanup callback, and setup error.
func New(cfg config.LogConfig) (*slog.Logger, func(), error) {
	return newWithConsole(cfg, os.Stdout)
}

// newWithConsole builds logger with explicit console destination.
func newWithConsole(cfg config.LogConfig, console io.Writer) (*slog.Logger, func(), error) {
	var (
		handlers []slog.Handler
		closers  []io.Closer
	)
	closeAll := func() {
		for _, closer := range closers {
			_ = closer.Close()
		}
	}

	if cfg.Console.Enabled {
		handler, err := newHandler("console", cfg.Console, console, true)
		if err != nil {
			return nil, nil, err
		}
		handlers = append(handlers, handler)
	}

	if cfg.File.Enabled {
		file, err := openLogFile(cfg.File.Path)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, file)
		handler, err := newHandler("file", cfg.File, file, false)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		handlers = append(handlers, handler)
	}

	switch len(handlers) {
	case 0:
		return nil, nil, errors.New("no log sinks enabled")
	case 1:
		return slog.New(handlers[0]), closeAll, nil
	default:
		return slog.New(teeHandler{handlers: handlers}), closeAll, nil
	}
}

// newHandler renders one sink into an slog handler.
// Params: sink name for errors, sink settings, destination, and console flag.
// Returns: handler or configuration error.
func newHandler(name string, sink config.LogSinkConfig, dst io.Writer, console bool) (slog.Handler, error) {
	level, err := parseLevel(sink.Level)
	if err != nil {
		return nil, fmt.Errorf("build %s handler: %w", name, err)
	}

	opts := &slog.HandlerOptions{Level: level}
	if console {
		// Console output is read live; timestamps only add noise.
		opts.ReplaceAttr = func(_ []string, attr slog.Attr) slog.Attr {
			if attr.Key == slog.TimeKey {
				return slog.Attr{}
			}
			return attr
		}
	}

	switch strings.ToLower(strings.TrimSpace(sink.Format)) {
	case "line", "text":
		if console {
			dst = &colorLineWriter{dst: dst}
		}
		return slog.NewTextHandler(dst, opts), nil
	case "json":
		return slog.NewJSONHandler(dst, opts), nil
	default:
		return nil, fmt.Errorf("build %s handler: unsupported format %q", name, sink.Format)
	}
}

// openLogFile opens path for appending, creating parent directories.
func openLogFile(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log dir %q: %w", dir, err)
		}
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %q: %w", path, err)
	}
	return file, nil
}

// parseLevel converts configuration level into slog.Level.
// Params: value is log level name.
// Returns: slog level or error.
func parseLevel(value string) (slog.Level, error) {
	switch strings.TrimSpace(strings.ToLower(value)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unsupported level %q", value)
	}
}

// teeHandler fan-outs one record to multiple handlers.
type teeHandler struct {
	handlers []slog.Handler
}

// Enabled checks if at least one downstream handler is enabled.
func (t teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range t.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle forwards the record to all enabled downstream handlers.
// Params: ctx context and record to write.
// Returns: joined sink errors.
func (t teeHandler) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, handler := range t.handlers {
		if !handler.Enabled(ctx, record.Level) {
			continue
		}
		if err := handler.Handle(ctx, record.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// WithAttrs applies attrs to each downstream handler.
func (t teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, 0, len(t.handlers))
	for _, handler := range t.handlers {
		next = append(next, handler.WithAttrs(attrs))
	}
	return teeHandler{handlers: next}
}

// WithGroup applies group to each downstream handler.
func (t teeHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, 0, len(t.handlers))
	for _, handler := range t.handlers {
		next = append(next, handler.WithGroup(name))
	}
	return teeHandler{handlers: next}
}

// colorLineWriter wraps console line logs with level-based color.
type colorLineWriter struct {
	dst io.Writer
}

// Write colors one rendered line according to its level marker.
// Params: payload is rendered slog line.
// Returns: bytes of payload consumed or write error.
func (w *colorLineWriter) Write(payload []byte) (int, error) {
	tone := levelColor(string(payload))
	if tone == "" {
		return w.dst.Write(payload)
	}

	line := strings.TrimRight(string(payload), "\n")
	if _, err := io.WriteString(w.dst, tone+line+ansiReset+"\n"); err != nil {
		return 0, err
	}
	return len(payload), nil
}

// levelColor maps rendered level token to ANSI code.
// Params: line is one rendered slog line.
// Returns: ANSI color sequence or empty string.
func levelColor(line string) string {
	switch {
	case strings.Contains(line, "level=DEBUG"):
		return ansiGray
	case strings.Contains(line, "level=INFO"):
		return ansiBlue
	case strings.Contains(line, "level=WARN"):
		return ansiYellow
	case strings.Contains(line, "level=ERROR"):
		return ansiRed
	default:
		return ""
	}
}
