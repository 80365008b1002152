package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Logging owns the handlers behind the application logger: a console handler
// that can be silenced while the TUI owns the terminal, and an optional
// rotating file.
type Logging struct {
	Logger *slog.Logger

	quiet *atomic.Bool
	file  *lumberjack.Logger
}

// NewLogger constructs the application logger writing to stderr and, when file
// is set, to a rotating log file.
// Supported levels: debug, info, warn, error.
// Supported formats: text (default), json.
func NewLogger(level, format, file string) (*Logging, error) {
	return newLogging(os.Stderr, level, format, file)
}

func newLogging(console io.Writer, level, format, file string) (*Logging, error) {
	lvl, err := parseLevel(level)
	if err != nil {
		return nil, err
	}

	l := &Logging{quiet: new(atomic.Bool)}

	consoleHandler, err := newHandler(console, format, lvl)
	if err != nil {
		return nil, err
	}
	handlers := []slog.Handler{&quietHandler{inner: consoleHandler, quiet: l.quiet}}

	if file = strings.TrimSpace(file); file != "" {
		if err := os.MkdirAll(filepath.Dir(file), 0o750); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		l.file = &lumberjack.Logger{
			Filename:   file,
			MaxSize:    5,
			MaxBackups: 3,
			MaxAge:     30,
		}
		// The file always records debug output.
		fileHandler, err := newHandler(l.file, format, slog.LevelDebug)
		if err != nil {
			return nil, err
		}
		handlers = append(handlers, fileHandler)
	}

	var handler slog.Handler = handlers[0]
	if len(handlers) > 1 {
		handler = &multiHandler{handlers: handlers}
	}

	l.Logger = slog.New(handler).With("component", "auto-rebase")
	return l, nil
}

// SetQuiet silences the console handler. File output is unaffected.
func (l *Logging) SetQuiet(quiet bool) {
	l.quiet.Store(quiet)
}

// Close flushes and closes the log file, if any.
func (l *Logging) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}

func newHandler(w io.Writer, format string, lvl slog.Leveler) (slog.Handler, error) {
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		return slog.NewTextHandler(w, opts), nil
	case "json":
		return slog.NewJSONHandler(w, opts), nil
	default:
		return nil, fmt.Errorf("unsupported log format %q", format)
	}
}

func parseLevel(level string) (*slog.LevelVar, error) {
	var lvl slog.LevelVar

	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl.Set(slog.LevelDebug)
	case "info", "":
		lvl.Set(slog.LevelInfo)
	case "warn", "warning":
		lvl.Set(slog.LevelWarn)
	case "error":
		lvl.Set(slog.LevelError)
	default:
		return nil, fmt.Errorf("unsupported log level %q", level)
	}

	return &lvl, nil
}

type quietHandler struct {
	inner slog.Handler
	quiet *atomic.Bool
}

func (h *quietHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return !h.quiet.Load() && h.inner.Enabled(ctx, level)
}

func (h *quietHandler) Handle(ctx context.Context, record slog.Record) error {
	if h.quiet.Load() {
		return nil
	}
	return h.inner.Handle(ctx, record)
}

func (h *quietHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &quietHandler{inner: h.inner.WithAttrs(attrs), quiet: h.quiet}
}

func (h *quietHandler) WithGroup(name string) slog.Handler {
	return &quietHandler{inner: h.inner.WithGroup(name), quiet: h.quiet}
}

// multiHandler fans records out to every enabled handler.
type multiHandler struct {
	handlers []slog.Handler
}

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *multiHandler) Handle(ctx context.Context, record slog.Record) error {
	for _, handler := range h.handlers {
		if !handler.Enabled(ctx, record.Level) {
			continue
		}
		if err := handler.Handle(ctx, record.Clone()); err != nil {
			return err
		}
	}
	return nil
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		next[i] = handler.WithAttrs(attrs)
	}
	return &multiHandler{handlers: next}
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		next[i] = handler.WithGroup(name)
	}
	return &multiHandler{handlers: next}
}
