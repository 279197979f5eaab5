package services

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/gitshopapp/grocer/internal/email"
	"github.com/gitshopapp/grocer/internal/events"
	"github.com/gitshopapp/grocer/internal/logging"
	"github.com/gitshopapp/grocer/internal/models"
)

type emailRenderer interface {
	Render(ctx context.Context, name string, data *email.OrderInfo) (*email.Email, error)
}

const defaultNotifyTimeout = 15 * time.Second

// OrderNotifier emails buyers and publishes lifecycle events. Every method
// returns at once: the work runs in the background on a context detached from
// the request, and failures are only logged.
type OrderNotifier struct {
	provider  email.Provider
	renderer  emailRenderer
	publisher events.Publisher
	baseURL   string
	timeout   time.Duration
	logger    *slog.Logger

	pending sync.WaitGroup
}

func NewOrderNotifier(provider email.Provider, renderer emailRenderer, publisher events.Publisher, baseURL string, logger *slog.Logger) *OrderNotifier {
	if provider == nil {
		provider = email.NoopProvider{}
	}
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &OrderNotifier{
		provider:  provider,
		renderer:  renderer,
		publisher: publisher,
		baseURL:   baseURL,
		timeout:   defaultNotifyTimeout,
		logger:    logger,
	}
}

// Wait blocks until every dispatched notification has finished or ctx ends.
func (n *OrderNotifier) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		n.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *OrderNotifier) dispatch(ctx context.Context, fn func(ctx context.Context)) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
	n.pending.Go(func() {
		defer cancel()
		fn(ctx)
	})
}

func (n *OrderNotifier) loggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, n.logger)
}

// OrderPlaced sends payment instructions for bank transfers, a receipt for
// gateway orders, and publishes order.created.
func (n *OrderNotifier) OrderPlaced(ctx context.Context, buyer models.Profile, order *models.Order) {
	if order == nil {
		return
	}
	snapshot := *order
	order = &snapshot
	template := email.TemplateOrderPlaced
	if order.AwaitingProof() {
		template = email.TemplatePaymentInstructions
	}

	n.dispatch(ctx, func(ctx context.Context) {
		n.publish(ctx, events.Event{
			Type:    events.OrderCreated,
			OrderID: order.ID,
			Actor:   buyer.ID.String(),
			Status:  order.Status,
			Attributes: map[string]string{
				"payment_method": string(order.PaymentMethod),
				"final_price":    strconv.FormatInt(order.FinalPrice, 10),
			},
		})
		n.send(ctx, template, buyer, order)
	})
}

func (n *OrderNotifier) ProofUploaded(ctx context.Context, buyer models.Profile, order *models.Order) {
	if order == nil {
		return
	}
	snapshot := *order
	order = &snapshot
	n.dispatch(ctx, func(ctx context.Context) {
		n.publish(ctx, events.Event{
			Type:    events.ProofUploaded,
			OrderID: order.ID,
			Actor:   buyer.ID.String(),
			Status:  order.Status,
		})
		n.send(ctx, email.TemplateProofReceived, buyer, order)
	})
}

func (n *OrderNotifier) AdminAction(ctx context.Context, actor, action string, previous models.OrderStatus, order *models.Order) {
	if order == nil {
		return
	}
	event := events.Event{
		Type:           events.AdminAction,
		OrderID:        order.ID,
		Actor:          actor,
		Status:         order.Status,
		PreviousStatus: &previous,
		Attributes:     map[string]string{"action": action},
	}
	n.dispatch(ctx, func(ctx context.Context) { n.publish(ctx, event) })
}

func (n *OrderNotifier) PaymentNotified(ctx context.Context, orderID models.ID, provider, status, reference string) {
	event := events.Event{
		Type:    events.PaymentNotified,
		OrderID: orderID,
		Actor:   provider,
		Status:  models.StatusUnknown,
		Attributes: map[string]string{
			"settlement": status,
			"reference":  reference,
		},
	}
	n.dispatch(ctx, func(ctx context.Context) { n.publish(ctx, event) })
}

func (n *OrderNotifier) publish(ctx context.Context, event events.Event) {
	if err := n.publisher.Publish(ctx, event); err != nil {
		n.loggerFromContext(ctx).Warn("failed to publish order event", "error", err, "type", event.Type, "order_id", event.OrderID)
	}
}

func (n *OrderNotifier) send(ctx context.Context, template string, buyer models.Profile, order *models.Order) {
	if n.renderer == nil {
		return
	}
	logger := n.loggerFromContext(ctx)

	info := email.NewOrderInfo(order, buyer, n.baseURL)
	if info.CustomerEmail == "" {
		logger.Debug("skipping order email without recipient", "order_id", order.ID, "template", template)
		return
	}

	msg, err := n.renderer.Render(ctx, template, info)
	if err != nil {
		logger.Error("failed to render order email", "error", err, "order_id", order.ID, "template", template)
		return
	}
	if err := n.provider.SendEmail(ctx, msg); err != nil {
		logger.Error("failed to send order email", "error", err, "order_id", order.ID, "template", template)
		return
	}
	logger.Info("order email sent", "order_id", order.ID, "template", template)
}
