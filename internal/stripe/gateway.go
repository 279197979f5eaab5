// Package stripe opens hosted Stripe Checkout pages for gateway orders and
// validates the webhooks Stripe sends back.
package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"
	stripeapi "github.com/stripe/stripe-go/v84"

	"github.com/gitshopapp/grocer/internal/models"
	"github.com/gitshopapp/grocer/internal/observability"
)

const (
	currency         = "idr"
	metadataOrderID  = "order_id"
	metadataStoreID  = "store_id"
	minorUnitsPerIDR = 100
)

var ErrNotPayable = errors.New("order is not payable")

type createSessionFunc func(ctx context.Context, params *stripeapi.CheckoutSessionCreateParams) (*stripeapi.CheckoutSession, error)

// Gateway creates Checkout sessions for orders placed with a gateway payment
// method.
type Gateway struct {
	baseURL       string
	createSession createSessionFunc
}

func NewGateway(secretKey, baseURL string) *Gateway {
	client := stripeapi.NewClient(secretKey)
	return &Gateway{
		baseURL:       strings.TrimRight(baseURL, "/"),
		createSession: client.V1CheckoutSessions.Create,
	}
}

// RedirectURL returns the hosted payment page for the order.
func (g *Gateway) RedirectURL(ctx context.Context, order *models.Order) (string, error) {
	if order == nil || order.ID == "" {
		return "", fmt.Errorf("%w: missing order", ErrNotPayable)
	}
	if order.FinalPrice <= 0 {
		return "", fmt.Errorf("%w: order %s has no amount due", ErrNotPayable, order.ID)
	}

	span := sentry.StartSpan(
		ctx,
		"service.payment.gateway.redirect",
		sentry.WithOpName("service.payment"),
		sentry.WithDescription("CreateCheckoutSession"),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx = span.Context()

	meter := observability.MeterFromContext(ctx)
	meter.SetAttributes(attribute.String("provider", "stripe"))

	sess, err := g.createSession(ctx, g.sessionParams(order))
	if err != nil {
		span.Status = sentry.SpanStatusInternalError
		meter.Count("payment.gateway.session", 1, sentry.WithAttributes(attribute.String("result", "failed")))
		return "", fmt.Errorf("failed to create checkout session: %w", err)
	}
	if sess == nil || sess.URL == "" {
		span.Status = sentry.SpanStatusInternalError
		return "", fmt.Errorf("checkout session for order %s has no url", order.ID)
	}

	span.Status = sentry.SpanStatusOK
	meter.Count("payment.gateway.session", 1, sentry.WithAttributes(attribute.String("result", "created")))
	return sess.URL, nil
}

func (g *Gateway) sessionParams(order *models.Order) *stripeapi.CheckoutSessionCreateParams {
	orderURL := g.baseURL + order.Path()

	params := &stripeapi.CheckoutSessionCreateParams{
		Mode:              stripeapi.String(string(stripeapi.CheckoutSessionModePayment)),
		SuccessURL:        stripeapi.String(orderURL + "?payment=success"),
		CancelURL:         stripeapi.String(orderURL + "?payment=cancelled"),
		ClientReferenceID: stripeapi.String(order.ID.String()),
		Metadata: map[string]string{
			metadataOrderID: order.ID.String(),
			metadataStoreID: order.StoreID.String(),
		},
		PaymentIntentData: &stripeapi.CheckoutSessionCreatePaymentIntentDataParams{
			Metadata: map[string]string{metadataOrderID: order.ID.String()},
		},
	}
	if order.Buyer.Email != "" {
		params.CustomerEmail = stripeapi.String(order.Buyer.Email)
	}

	for _, item := range order.Items {
		if item.Quantity <= 0 {
			continue
		}
		params.LineItems = append(params.LineItems, lineItem(item.ProductName, item.UnitPrice, int64(item.Quantity)))
	}

	// Totals after coupons rarely match the item sum, so charge the final price
	// as a single line when they differ.
	if order.Discount != 0 || len(params.LineItems) == 0 {
		params.LineItems = []*stripeapi.CheckoutSessionCreateLineItemParams{
			lineItem(fmt.Sprintf("Order #%s", order.ID), order.FinalPrice, 1),
		}
		return params
	}

	if order.ShipmentCost > 0 {
		name := "Shipping"
		if order.Shipment != nil {
			name = fmt.Sprintf("Shipping (%s %s)", strings.ToUpper(order.Shipment.Courier), order.Shipment.Service)
		}
		params.ShippingOptions = []*stripeapi.CheckoutSessionCreateShippingOptionParams{
			{
				ShippingRateData: &stripeapi.CheckoutSessionCreateShippingOptionShippingRateDataParams{
					DisplayName: stripeapi.String(name),
					Type:        stripeapi.String(string(stripeapi.ShippingRateTypeFixedAmount)),
					FixedAmount: &stripeapi.CheckoutSessionCreateShippingOptionShippingRateDataFixedAmountParams{
						Amount:   stripeapi.Int64(order.ShipmentCost * minorUnitsPerIDR),
						Currency: stripeapi.String(currency),
					},
				},
			},
		}
	}
	return params
}

func lineItem(name string, rupiah, quantity int64) *stripeapi.CheckoutSessionCreateLineItemParams {
	return &stripeapi.CheckoutSessionCreateLineItemParams{
		PriceData: &stripeapi.CheckoutSessionCreateLineItemPriceDataParams{
			Currency: stripeapi.String(currency),
			ProductData: &stripeapi.CheckoutSessionCreateLineItemPriceDataProductDataParams{
				Name: stripeapi.String(name),
			},
			UnitAmount: stripeapi.Int64(rupiah * minorUnitsPerIDR),
		},
		Quantity: stripeapi.Int64(quantity),
	}
}
