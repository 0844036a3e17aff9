// Package logging supplies a global, structured logger built on
// log/slog, following the teacher's pattern of a single package-level
// default logger configurable once at startup and retrievable
// anywhere via context-carried fields.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

type loggingConfig struct {
	enableCaller bool
	output       io.Writer
}

// Option configures Init.
type Option func(*loggingConfig)

// WithOutput sets the log output.
func WithOutput(w io.Writer) Option {
	return func(lc *loggingConfig) {
		lc.output = w
	}
}

// WithCaller sets whether the calling source should be logged, since
// the operation is computationally expensive.
func WithCaller(b bool) Option {
	return func(lc *loggingConfig) {
		lc.enableCaller = b
	}
}

// Init initializes the global logger. encoding selects "json" for
// machine consumption or "logfmt" for console output.
func Init(version, logLevel, encoding string, opts ...Option) error {
	level := new(slog.Level)
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return fmt.Errorf("unsupported log level %q: %w", logLevel, err)
	}

	replaceFunc := func(groups []string, a slog.Attr) slog.Attr {
		switch a.Key {
		case slog.TimeKey:
			a.Key = "ts"
		case slog.LevelKey:
			a.Value = slog.StringValue(strings.ToLower(a.Value.String()))
		case slog.SourceKey:
			a.Key = "caller"
			dir, file := filepath.Split(a.Value.String())
			a.Value = slog.StringValue(filepath.Join(filepath.Base(dir), file))
		}
		return a
	}

	cfg := &loggingConfig{
		enableCaller: true,
		output:       os.Stdout,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	hopts := slog.HandlerOptions{
		Level:       level,
		AddSource:   cfg.enableCaller,
		ReplaceAttr: replaceFunc,
	}
	var th slog.Handler
	switch strings.ToLower(encoding) {
	case "json":
		th = slog.NewJSONHandler(cfg.output, &hopts)
	case "logfmt":
		th = slog.NewTextHandler(cfg.output, &hopts)
	default:
		return fmt.Errorf("unknown encoding %q", encoding)
	}

	logger := slog.New(th.WithAttrs([]slog.Attr{slog.String("version", version)}))
	slog.SetDefault(logger)

	return nil
}

// Logger returns the global logger.
func Logger() *slog.Logger {
	return slog.Default()
}

type loggerKeyType int

const fieldsKey loggerKeyType = iota

type loggerFields struct {
	mu     *sync.RWMutex
	fields map[string]any
}

func newLoggerFields() loggerFields {
	return loggerFields{
		mu:     &sync.RWMutex{},
		fields: make(map[string]any),
	}
}

func getFields(ctx context.Context) (loggerFields, bool) {
	lf, ok := ctx.Value(fieldsKey).(loggerFields)
	return lf, ok
}

// NewContext returns a context carrying fields on top of any already
// attached to ctx, for use with WithContext downstream.
func NewContext(ctx context.Context, fields ...any) context.Context {
	logCtx := ctx
	if logCtx == nil {
		logCtx = context.Background()
	}
	newFields := newLoggerFields()

	if !(len(fields) >= 2 && len(fields)%2 == 0) {
		return logCtx
	}

	if lf, ok := getFields(ctx); ok {
		lf.mu.RLock()
		copyMap(lf.fields, newFields.fields)
		lf.mu.RUnlock()
	}

	for i := 1; i < len(fields); i += 2 {
		keyStr, ok := fields[i-1].(string)
		if !ok {
			continue
		}
		newFields.fields[keyStr] = fields[i]
	}
	return context.WithValue(logCtx, fieldsKey, newFields)
}

// WithContext returns a logger enriched with every field NewContext
// attached to ctx.
func WithContext(ctx context.Context) *slog.Logger {
	if ctx == nil {
		return Logger()
	}
	ctxLoggerFields, ok := getFields(ctx)
	if !ok {
		return Logger()
	}

	ctxLoggerFields.mu.RLock()
	keys := make([]string, 0, len(ctxLoggerFields.fields))
	for k := range ctxLoggerFields.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var args []any
	for _, k := range keys {
		args = append(args, k, ctxLoggerFields.fields[k])
	}
	ctxLoggerFields.mu.RUnlock()

	return Logger().With(args...)
}

func copyMap(in, out map[string]any) {
	for k, v := range in {
		out[k] = v
	}
}
