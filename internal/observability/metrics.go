package observability

import (
	"context"

	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"
)

type meterKey struct{}

// WithMeter stores meter in ctx. The request middleware calls it once with a
// meter already carrying the request and session attributes.
func WithMeter(ctx context.Context, meter sentry.Meter) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if meter == nil {
		meter = sentry.NewMeter(ctx)
	}
	return context.WithValue(ctx, meterKey{}, meter.WithCtx(ctx))
}

// MeterFromContext returns the request meter, or a fresh one outside a
// request (webhooks replayed from tests, background publishers).
func MeterFromContext(ctx context.Context) sentry.Meter {
	if ctx == nil {
		ctx = context.Background()
	}
	if meter, ok := ctx.Value(meterKey{}).(sentry.Meter); ok && meter != nil {
		return meter.WithCtx(ctx)
	}
	return sentry.NewMeter(ctx).WithCtx(ctx)
}

// Count increments name by one on the request meter.
func Count(ctx context.Context, name string, attrs ...attribute.Builder) {
	meter := MeterFromContext(ctx)
	if len(attrs) == 0 {
		meter.Count(name, 1)
		return
	}
	meter.Count(name, 1, sentry.WithAttributes(attrs...))
}
