package logging

import (
	"context"
	"errors"
	"log/slog"
)

// MultiHandler sends each record to every handler that accepts its level.
// Stdout and Sentry each keep their own level filter.
func MultiHandler(handlers ...slog.Handler) slog.Handler {
	fan := fanout{}
	for _, handler := range handlers {
		if handler != nil {
			fan.handlers = append(fan.handlers, handler)
		}
	}
	if len(fan.handlers) == 1 {
		return fan.handlers[0]
	}
	return fan
}

type fanout struct {
	handlers []slog.Handler
}

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range f.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, handler := range f.handlers {
		if !handler.Enabled(ctx, record.Level) {
			continue
		}
		if err := handler.Handle(ctx, record.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	return f.each(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (f fanout) WithGroup(name string) slog.Handler {
	return f.each(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (f fanout) each(apply func(slog.Handler) slog.Handler) fanout {
	next := fanout{handlers: make([]slog.Handler, len(f.handlers))}
	for i, handler := range f.handlers {
		next.handlers[i] = apply(handler)
	}
	return next
}
