package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/gitshopapp/grocer/internal/models"
)

func adminOrderPath(orderID models.ID, suffix string) string {
	return "/admin/orders/" + url.PathEscape(orderID.String()) + suffix
}

func (c *Client) ListStoreOrders(ctx context.Context, filter models.OrderFilter) ([]models.Order, error) {
	var orders []models.Order
	if err := c.getJSON(ctx, "/admin/orders", filterQuery(filter), &orders); err != nil {
		return nil, fmt.Errorf("list store orders: %w", err)
	}
	return orders, nil
}

func (c *Client) GetStoreOrder(ctx context.Context, orderID models.ID) (*models.Order, error) {
	var order models.Order
	if err := c.getJSON(ctx, adminOrderPath(orderID, ""), nil, &order); err != nil {
		return nil, fmt.Errorf("get store order: %w", err)
	}
	return &order, nil
}

func (c *Client) ApprovePayment(ctx context.Context, orderID models.ID) error {
	if err := c.sendJSON(ctx, http.MethodPatch, adminOrderPath(orderID, "/payment/approve"), nil, nil); err != nil {
		return fmt.Errorf("approve payment: %w", err)
	}
	return nil
}

func (c *Client) DeclinePayment(ctx context.Context, orderID models.ID) error {
	if err := c.sendJSON(ctx, http.MethodPatch, adminOrderPath(orderID, "/payment/decline"), nil, nil); err != nil {
		return fmt.Errorf("decline payment: %w", err)
	}
	return nil
}

func (c *Client) CancelStoreOrder(ctx context.Context, orderID models.ID) error {
	if err := c.sendJSON(ctx, http.MethodPatch, adminOrderPath(orderID, "/cancel"), nil, nil); err != nil {
		return fmt.Errorf("cancel store order: %w", err)
	}
	return nil
}

func (c *Client) DeliverOrder(ctx context.Context, orderID models.ID) error {
	if err := c.sendJSON(ctx, http.MethodPatch, adminOrderPath(orderID, "/deliver"), nil, nil); err != nil {
		return fmt.Errorf("deliver order: %w", err)
	}
	return nil
}

func (c *Client) StatusLog(ctx context.Context, orderID models.ID) ([]models.StatusLogEntry, error) {
	var entries []models.StatusLogEntry
	if err := c.getJSON(ctx, adminOrderPath(orderID, "/status-logs"), nil, &entries); err != nil {
		return nil, fmt.Errorf("status log: %w", err)
	}
	return entries, nil
}
