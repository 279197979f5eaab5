package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	stripeapi "github.com/stripe/stripe-go/v84"

	"github.com/gitshopapp/grocer/internal/backend"
	"github.com/gitshopapp/grocer/internal/cache"
	"github.com/gitshopapp/grocer/internal/logging"
	"github.com/gitshopapp/grocer/internal/models"
	"github.com/gitshopapp/grocer/internal/stripe"
)

// webhookIdempotencyTTL is how long processed event IDs are remembered.
const webhookIdempotencyTTL = 24 * time.Hour

type PaymentNotifierBackend interface {
	NotifyPayment(ctx context.Context, notification backend.PaymentNotification) error
}

type SettlementNotifier interface {
	PaymentNotified(ctx context.Context, orderID models.ID, provider, status, reference string)
}

// PaymentService forwards gateway settlements to the backend exactly once.
type PaymentService struct {
	backend  PaymentNotifierBackend
	cache    cache.Provider
	notifier SettlementNotifier
	logger   *slog.Logger
}

func NewPaymentService(client PaymentNotifierBackend, cacheProvider cache.Provider, notifier SettlementNotifier, logger *slog.Logger) (*PaymentService, error) {
	if client == nil {
		return nil, fmt.Errorf("payment backend is required")
	}
	if cacheProvider == nil {
		return nil, fmt.Errorf("cache provider is required")
	}
	return &PaymentService{backend: client, cache: cacheProvider, notifier: notifier, logger: logger}, nil
}

func (s *PaymentService) loggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, s.logger)
}

// HandleStripeEvent reports a Checkout settlement to the backend. Duplicate
// deliveries and unrelated event types are acknowledged without side effects.
func (s *PaymentService) HandleStripeEvent(ctx context.Context, event *stripeapi.Event) error {
	logger := s.loggerFromContext(ctx)

	settlement, err := stripe.SettlementFromEvent(event)
	if errors.Is(err, stripe.ErrIgnoredEvent) {
		logger.Debug("ignoring stripe event", "reason", err)
		return nil
	}
	if err != nil {
		return err
	}

	key := cache.WebhookKey("stripe", settlement.EventID)
	claimed, err := s.cache.Claim(ctx, key, webhookIdempotencyTTL)
	if err != nil {
		return fmt.Errorf("failed to claim webhook event: %w", err)
	}
	if !claimed {
		logger.Info("webhook already processed", "event_id", settlement.EventID)
		return nil
	}

	err = s.backend.NotifyPayment(ctx, backend.PaymentNotification{
		OrderID:   settlement.OrderID,
		Provider:  "stripe",
		Status:    settlement.Status,
		Reference: settlement.Reference,
		Amount:    settlement.Amount,
	})
	if err != nil {
		if delErr := s.cache.Delete(ctx, key); delErr != nil {
			logger.Error("failed to release webhook claim", "error", delErr, "event_id", settlement.EventID)
		}
		return fmt.Errorf("failed to notify backend of payment: %w", err)
	}

	if s.notifier != nil {
		s.notifier.PaymentNotified(ctx, settlement.OrderID, "stripe", settlement.Status, settlement.Reference)
	}
	logger.Info("payment settlement forwarded",
		"event_id", settlement.EventID,
		"order_id", settlement.OrderID,
		"status", settlement.Status,
	)
	return nil
}
