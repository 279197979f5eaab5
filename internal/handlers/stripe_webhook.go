package handlers

import (
	"net/http"

	"github.com/gitshopapp/grocer/internal/services"
	stripewebhook "github.com/gitshopapp/grocer/internal/stripe"
)

func (h *Handlers) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.loggerFromContext(ctx)

	if h.paymentService == nil || h.config.StripeWebhookSecret == "" {
		logger.Error("stripe webhook received but stripe is not configured")
		writeError(ctx, w, services.ErrServiceUnavailable)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes)

	event, err := stripewebhook.ReadWebhookEvent(r, h.config.StripeWebhookSecret)
	if err != nil {
		logger.Error("failed to read Stripe webhook payload", "error", err)
		h.metrics.RecordEvent("webhook.stripe", "invalid")
		http.Error(w, "Invalid webhook", http.StatusBadRequest)
		return
	}

	if event == nil || event.ID == "" {
		logger.Error("missing Stripe event ID")
		http.Error(w, "Missing event ID", http.StatusBadRequest)
		return
	}

	if err := h.paymentService.HandleStripeEvent(ctx, event); err != nil {
		logger.Error("failed to process Stripe webhook", "error", err, "type", event.Type, "event_id", event.ID)
		h.metrics.RecordEvent("webhook.stripe", "failed")
		http.Error(w, "Processing failed", http.StatusInternalServerError)
		return
	}

	h.metrics.RecordEvent("webhook.stripe", "ok")
	w.WriteHeader(http.StatusOK)
}
