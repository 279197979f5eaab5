package backend

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"

	"github.com/gitshopapp/grocer/internal/models"
)

const dateLayout = "2006-01-02"

func (c *Client) GetProfile(ctx context.Context) (*models.Profile, error) {
	var profile models.Profile
	if err := c.getJSON(ctx, "/users/profile", nil, &profile); err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return &profile, nil
}

func (c *Client) ListAddresses(ctx context.Context) ([]models.Address, error) {
	var addresses []models.Address
	if err := c.getJSON(ctx, "/users/addresses", nil, &addresses); err != nil {
		return nil, fmt.Errorf("list addresses: %w", err)
	}
	return addresses, nil
}

func (c *Client) GetCart(ctx context.Context) (*models.Cart, error) {
	var cart models.Cart
	if err := c.getJSON(ctx, "/carts", nil, &cart); err != nil {
		return nil, fmt.Errorf("get cart: %w", err)
	}
	return &cart, nil
}

func (c *Client) Checkout(ctx context.Context, req models.CheckoutRequest) (*models.Order, error) {
	if req.CouponCodes == nil {
		req.CouponCodes = []string{}
	}
	var order models.Order
	if err := c.sendJSON(ctx, http.MethodPost, "/orders/checkout", req, &order); err != nil {
		return nil, fmt.Errorf("checkout: %w", err)
	}
	if order.ID == "" {
		return nil, fmt.Errorf("checkout: backend returned an order without id")
	}
	return &order, nil
}

type gatewayPaymentResponse struct {
	RedirectURL string `json:"redirectUrl"`
	RedirectAlt string `json:"redirect_url"`
	Token       string `json:"token"`
}

// RedirectURL asks the backend to open a SNAP gateway transaction for the order.
func (c *Client) RedirectURL(ctx context.Context, order *models.Order) (string, error) {
	if order == nil || order.ID == "" {
		return "", fmt.Errorf("gateway payment: order is required")
	}
	var resp gatewayPaymentResponse
	path := "/orders/" + url.PathEscape(order.ID.String()) + "/payment/gateway"
	if err := c.sendJSON(ctx, http.MethodPost, path, nil, &resp); err != nil {
		return "", fmt.Errorf("gateway payment: %w", err)
	}
	redirect := resp.RedirectURL
	if redirect == "" {
		redirect = resp.RedirectAlt
	}
	if redirect == "" {
		return "", fmt.Errorf("gateway payment: backend returned no redirect url")
	}
	return redirect, nil
}

// UploadPaymentProof sends the image as the multipart field "image".
func (c *Client) UploadPaymentProof(ctx context.Context, orderID models.ID, image models.ProofImage) error {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename=%q`, image.Filename))
	header.Set("Content-Type", image.ContentType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return fmt.Errorf("upload payment proof: %w", err)
	}
	if _, err := part.Write(image.Data); err != nil {
		return fmt.Errorf("upload payment proof: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("upload payment proof: %w", err)
	}

	path := "/orders/" + url.PathEscape(orderID.String()) + "/payment-proof"
	if err := c.do(ctx, http.MethodPatch, path, nil, &body, writer.FormDataContentType(), nil); err != nil {
		return fmt.Errorf("upload payment proof: %w", err)
	}
	return nil
}

func (c *Client) GetOrder(ctx context.Context, orderID models.ID) (*models.Order, error) {
	var order models.Order
	if err := c.getJSON(ctx, "/orders/"+url.PathEscape(orderID.String()), nil, &order); err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	return &order, nil
}

func (c *Client) ListOrders(ctx context.Context, filter models.OrderFilter) ([]models.Order, error) {
	var orders []models.Order
	if err := c.getJSON(ctx, "/orders", filterQuery(filter), &orders); err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}

func (c *Client) CancelOrder(ctx context.Context, orderID models.ID) error {
	if err := c.sendJSON(ctx, http.MethodPatch, "/orders/"+url.PathEscape(orderID.String())+"/cancel", nil, nil); err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}
	return nil
}

func (c *Client) ConfirmOrder(ctx context.Context, orderID models.ID) error {
	if err := c.sendJSON(ctx, http.MethodPatch, "/orders/"+url.PathEscape(orderID.String())+"/confirm", nil, nil); err != nil {
		return fmt.Errorf("confirm order: %w", err)
	}
	return nil
}

// PaymentNotification reports a gateway settlement to the backend.
type PaymentNotification struct {
	OrderID   models.ID `json:"orderId"`
	Provider  string    `json:"provider"`
	Status    string    `json:"status"`
	Reference string    `json:"reference"`
	Amount    int64     `json:"amount,omitempty"`
}

func (c *Client) NotifyPayment(ctx context.Context, notification PaymentNotification) error {
	if err := c.sendJSON(ctx, http.MethodPost, "/payments/notifications", notification, nil); err != nil {
		return fmt.Errorf("notify payment: %w", err)
	}
	return nil
}

func filterQuery(filter models.OrderFilter) url.Values {
	query := url.Values{}
	if filter.OrderID != "" {
		query.Set("orderId", filter.OrderID)
	}
	if !filter.StartDate.IsZero() {
		query.Set("startDate", filter.StartDate.Format(dateLayout))
	}
	if !filter.EndDate.IsZero() {
		query.Set("endDate", filter.EndDate.Format(dateLayout))
	}
	if filter.Status != "" {
		query.Set("status", filter.Status)
	}
	if filter.StoreID != "" {
		query.Set("storeId", filter.StoreID)
	}
	if filter.Page > 0 {
		query.Set("page", strconv.Itoa(filter.Page))
	}
	if filter.Limit > 0 {
		query.Set("limit", strconv.Itoa(filter.Limit))
	}
	return query
}
