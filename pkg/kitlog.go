package pkg

import (
	"context"
	"log/slog"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// kitHandler forwards slog records to a go-kit logger so that a binary
// configured with go-kit sees host stack records in the same stream.
type kitHandler struct {
	logger kitlog.Logger
	level  slog.Leveler
	prefix string
}

// NewKitHandler returns a [slog.Handler] writing to logger. Records below
// the given level are dropped; a nil leveler uses the package log level.
func NewKitHandler(logger kitlog.Logger, lvl slog.Leveler) slog.Handler {
	if lvl == nil {
		lvl = logLevel
	}
	return &kitHandler{logger: logger, level: lvl}
}

// NewKitLogger is shorthand for slog.New(NewKitHandler(logger, nil)).
func NewKitLogger(logger kitlog.Logger) *slog.Logger {
	return slog.New(NewKitHandler(logger, nil))
}

func (h *kitHandler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= h.level.Level()
}

func (h *kitHandler) Handle(_ context.Context, r slog.Record) error {
	kv := make([]any, 0, 2+2*r.NumAttrs())
	kv = append(kv, "msg", r.Message)
	r.Attrs(func(a slog.Attr) bool {
		kv = h.appendAttr(kv, a)
		return true
	})
	return kitLevel(h.logger, r.Level).Log(kv...)
}

func (h *kitHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	kv := make([]any, 0, 2*len(attrs))
	for _, a := range attrs {
		kv = h.appendAttr(kv, a)
	}
	return &kitHandler{
		logger: kitlog.With(h.logger, kv...),
		level:  h.level,
		prefix: h.prefix,
	}
}

func (h *kitHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &kitHandler{
		logger: h.logger,
		level:  h.level,
		prefix: h.prefix + name + ".",
	}
}

func (h *kitHandler) appendAttr(kv []any, a slog.Attr) []any {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return kv
	}
	if a.Value.Kind() == slog.KindGroup {
		sub := &kitHandler{prefix: h.prefix + a.Key + "."}
		if a.Key == "" {
			sub.prefix = h.prefix
		}
		for _, ga := range a.Value.Group() {
			kv = sub.appendAttr(kv, ga)
		}
		return kv
	}
	return append(kv, h.prefix+a.Key, a.Value.Any())
}

func kitLevel(logger kitlog.Logger, l slog.Level) kitlog.Logger {
	switch {
	case l >= slog.LevelError:
		return level.Error(logger)
	case l >= slog.LevelWarn:
		return level.Warn(logger)
	case l >= slog.LevelInfo:
		return level.Info(logger)
	default:
		return level.Debug(logger)
	}
}
