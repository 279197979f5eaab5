package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/getsentry/sentry-go"

	"github.com/gitshopapp/grocer/internal/checkout"
	"github.com/gitshopapp/grocer/internal/logging"
	"github.com/gitshopapp/grocer/internal/observability"
)

// CheckoutService hands each buyer session its own orchestrator.
type CheckoutService struct {
	registry *checkout.Registry
	logger   *slog.Logger
}

func NewCheckoutService(registry *checkout.Registry, logger *slog.Logger) (*CheckoutService, error) {
	if registry == nil {
		return nil, fmt.Errorf("checkout registry is required")
	}
	return &CheckoutService{registry: registry, logger: logger}, nil
}

func (s *CheckoutService) loggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, s.logger)
}

func (s *CheckoutService) Orchestrator(sessionID, token string) *checkout.Orchestrator {
	return s.registry.Get(sessionID, token)
}

// State returns the session's checkout, loading it on first use.
func (s *CheckoutService) State(ctx context.Context, sessionID, token string) (checkout.State, error) {
	return s.Orchestrator(sessionID, token).EnsureLoaded(ctx)
}

func (s *CheckoutService) Reload(ctx context.Context, sessionID, token string) (checkout.State, error) {
	return s.Orchestrator(sessionID, token).Load(ctx)
}

func (s *CheckoutService) Submit(ctx context.Context, sessionID, token string) (checkout.Result, error) {
	span := sentry.StartSpan(
		ctx,
		"service.checkout.submit",
		sentry.WithOpName("service.checkout"),
		sentry.WithDescription("SubmitCheckout"),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx = span.Context()

	observability.MeterFromContext(ctx).Count("checkout.sessions.active", int64(s.registry.Len()))

	result, err := s.Orchestrator(sessionID, token).Submit(ctx)
	if err != nil && result.Order == nil {
		span.Status = sentry.SpanStatusInternalError
		return result, err
	}
	if err != nil {
		s.loggerFromContext(ctx).Warn("order placed without gateway redirect", "error", err, "order_id", result.Order.ID)
	}
	span.Status = sentry.SpanStatusOK
	return result, err
}

// Forget drops the session's checkout state, e.g. on logout.
func (s *CheckoutService) Forget(sessionID string) {
	s.registry.Forget(sessionID)
}
