package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gitshopapp/grocer/internal/logging"
	"github.com/gitshopapp/grocer/internal/shipping"
)

// providerErrorResponse echoes the provider's own error payload next to the
// message the buyer sees.
type providerErrorResponse struct {
	Message string          `json:"message"`
	Error   json.RawMessage `json:"error"`
}

// ShippingCost proxies a rate lookup to the provider. The provider payload is
// returned untouched; provider failures keep the provider's status and body.
func (h *Handlers) ShippingCost(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req shipping.Request
	if err := decodeJSON(r, &req); err != nil {
		writeError(ctx, w, err)
		return
	}

	payload, err := h.shippingService.Cost(ctx, req)
	if err != nil {
		h.metrics.RecordEvent("shipping.cost", "failed")
		writeShippingError(ctx, w, err)
		return
	}

	h.metrics.RecordEvent("shipping.cost", "ok")
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(payload); err != nil {
		h.loggerFromContext(ctx).Error("failed to write shipping payload", "error", err)
	}
}

func writeShippingError(ctx context.Context, w http.ResponseWriter, err error) {
	var providerErr *shipping.ProviderError
	if !errors.As(err, &providerErr) || len(providerErr.Body) == 0 || !json.Valid(providerErr.Body) {
		writeError(ctx, w, err)
		return
	}

	status := providerErr.HTTPStatus()
	logging.FromContext(ctx, nil).Debug("request rejected", "error", err, "status", status)
	writeJSON(ctx, w, status, providerErrorResponse{Message: providerErr.Error(), Error: providerErr.Body})
}
