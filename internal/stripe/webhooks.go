package stripe

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	stripeapi "github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/gitshopapp/grocer/internal/models"
)

// Stripe caps webhook payloads well below this.
const maxWebhookBytes = 1 << 20

var ErrIgnoredEvent = errors.New("stripe event ignored")

func ReadWebhookEvent(r *http.Request, secret string) (*stripeapi.Event, error) {
	signature := r.Header.Get("Stripe-Signature")
	if signature == "" {
		return nil, fmt.Errorf("missing stripe signature header")
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}

	event, err := webhook.ConstructEvent(payload, signature, secret)
	if err != nil {
		return nil, fmt.Errorf("webhook signature validation failed: %w", err)
	}

	return &event, nil
}

// Settlement is a completed or failed gateway payment for one order.
type Settlement struct {
	EventID   string
	OrderID   models.ID
	Status    string
	Reference string
	Amount    int64
}

const (
	SettlementPaid    = "PAID"
	SettlementExpired = "EXPIRED"
)

// SettlementFromEvent extracts the order settlement from a Checkout event.
// Events that do not settle an order return ErrIgnoredEvent.
func SettlementFromEvent(event *stripeapi.Event) (Settlement, error) {
	if event == nil || event.Data == nil {
		return Settlement{}, fmt.Errorf("%w: empty event", ErrIgnoredEvent)
	}

	var status string
	switch event.Type {
	case stripeapi.EventTypeCheckoutSessionCompleted, stripeapi.EventTypeCheckoutSessionAsyncPaymentSucceeded:
		status = SettlementPaid
	case stripeapi.EventTypeCheckoutSessionExpired, stripeapi.EventTypeCheckoutSessionAsyncPaymentFailed:
		status = SettlementExpired
	default:
		return Settlement{}, fmt.Errorf("%w: %s", ErrIgnoredEvent, event.Type)
	}

	var sess stripeapi.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return Settlement{}, fmt.Errorf("failed to decode checkout session: %w", err)
	}

	// Completed sessions for delayed payment methods settle later.
	if event.Type == stripeapi.EventTypeCheckoutSessionCompleted &&
		sess.PaymentStatus != stripeapi.CheckoutSessionPaymentStatusPaid {
		return Settlement{}, fmt.Errorf("%w: payment status %s", ErrIgnoredEvent, sess.PaymentStatus)
	}

	orderID := sess.Metadata[metadataOrderID]
	if orderID == "" {
		orderID = sess.ClientReferenceID
	}
	if orderID == "" {
		return Settlement{}, fmt.Errorf("%w: session %s has no order", ErrIgnoredEvent, sess.ID)
	}

	return Settlement{
		EventID:   event.ID,
		OrderID:   models.ID(orderID),
		Status:    status,
		Reference: sess.ID,
		Amount:    sess.AmountTotal / minorUnitsPerIDR,
	}, nil
}
