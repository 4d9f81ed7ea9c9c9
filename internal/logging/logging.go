// Package logging wraps log/slog behind a small interface so components can
// take a logger without caring how it is configured.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Field is one structured attribute.
type Field struct {
	Key   string
	Value any
}

func (f Field) attr() slog.Attr { return slog.Any(f.Key, f.Value) }

func String(key, value string) Field                 { return Field{key, value} }
func Int(key string, value int) Field                { return Field{key, value} }
func Int64(key string, value int64) Field            { return Field{key, value} }
func Float(key string, value float64) Field          { return Field{key, value} }
func Bool(key string, value bool) Field              { return Field{key, value} }
func Duration(key string, value time.Duration) Field { return Field{key, value.String()} }
func Any(key string, value any) Field                { return Field{key, value} }

// Err records err under "error"; nil logs as an empty string.
func Err(err error) Field {
	if err == nil {
		return Field{"error", ""}
	}
	return Field{"error", err.Error()}
}

// Logger is what components depend on.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...Field)
	Info(ctx context.Context, msg string, fields ...Field)
	Warn(ctx context.Context, msg string, fields ...Field)
	Error(ctx context.Context, msg string, fields ...Field)
	With(fields ...Field) Logger
}

// Config selects level, encoding and destination.
type Config struct {
	Level     string // debug, info, warn, error
	Format    string // json or text
	AddSource bool
	Output    io.Writer // os.Stdout when nil
}

// New builds a slog-backed Logger.
func New(cfg Config) Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	opts := &slog.HandlerOptions{Level: levelOf(cfg.Level), AddSource: cfg.AddSource}

	var h slog.Handler = slog.NewTextHandler(out, opts)
	if strings.EqualFold(cfg.Format, "json") {
		h = slog.NewJSONHandler(out, opts)
	}
	return slogLogger{base: slog.New(h)}
}

// NewFromEnv reads LOG_LEVEL and LOG_FORMAT; unset means info and text.
func NewFromEnv() Logger {
	return New(Config{
		Level:     os.Getenv("LOG_LEVEL"),
		Format:    os.Getenv("LOG_FORMAT"),
		AddSource: true,
	})
}

// Noop discards everything.
func Noop() Logger { return discard{} }

// OrNoop returns l, or Noop when l is nil.
func OrNoop(l Logger) Logger {
	if l == nil {
		return discard{}
	}
	return l
}

func levelOf(s string) slog.Level {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		return slog.LevelWarn
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

type slogLogger struct {
	base *slog.Logger
}

func (l slogLogger) Debug(ctx context.Context, msg string, fields ...Field) {
	l.emit(ctx, slog.LevelDebug, msg, fields)
}

func (l slogLogger) Info(ctx context.Context, msg string, fields ...Field) {
	l.emit(ctx, slog.LevelInfo, msg, fields)
}

func (l slogLogger) Warn(ctx context.Context, msg string, fields ...Field) {
	l.emit(ctx, slog.LevelWarn, msg, fields)
}

func (l slogLogger) Error(ctx context.Context, msg string, fields ...Field) {
	l.emit(ctx, slog.LevelError, msg, fields)
}

func (l slogLogger) With(fields ...Field) Logger {
	args := make([]any, len(fields))
	for i, f := range fields {
		args[i] = f.attr()
	}
	return slogLogger{base: l.base.With(args...)}
}

// emit appends the request id carried by ctx, if any.
func (l slogLogger) emit(ctx context.Context, level slog.Level, msg string, fields []Field) {
	if ctx == nil {
		ctx = context.Background()
	}
	if !l.base.Enabled(ctx, level) {
		return
	}
	attrs := make([]slog.Attr, 0, len(fields)+1)
	for _, f := range fields {
		attrs = append(attrs, f.attr())
	}
	if id := RequestIDFromContext(ctx); id != "" {
		attrs = append(attrs, slog.String(requestIDAttr, id))
	}
	l.base.LogAttrs(ctx, level, msg, attrs...)
}

type discard struct{}

func (discard) Debug(context.Context, string, ...Field) {}
func (discard) Info(context.Context, string, ...Field)  {}
func (discard) Warn(context.Context, string, ...Field)  {}
func (discard) Error(context.Context, string, ...Field) {}
func (discard) With(...Field) Logger                    { return discard{} }
