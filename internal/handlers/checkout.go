package handlers

import (
	"errors"
	"net/http"

	"github.com/gitshopapp/grocer/internal/checkout"
	"github.com/gitshopapp/grocer/internal/models"
)

type selectAddressRequest struct {
	AddressID models.ID `json:"addressId"`
}

type selectCourierRequest struct {
	Courier string `json:"courier"`
}

type selectShippingRequest struct {
	Service string `json:"service"`
}

type selectPaymentMethodRequest struct {
	PaymentMethod string `json:"paymentMethod"`
}

type submitResponse struct {
	Order       *models.Order `json:"order"`
	RedirectURL string        `json:"redirectUrl"`
	External    bool          `json:"external"`
	Warning     string        `json:"warning,omitempty"`
}

// Checkout returns the session's checkout, loading profile, cart and
// addresses on first use. ?reload=1 forces a fresh load.
func (h *Handlers) Checkout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess, token, ok := h.requestSession(w, r)
	if !ok {
		return
	}

	var (
		state checkout.State
		err   error
	)
	if r.URL.Query().Get("reload") == "1" {
		state, err = h.checkoutService.Reload(ctx, sess.ID, token)
	} else {
		state, err = h.checkoutService.State(ctx, sess.ID, token)
	}
	h.writeCheckoutState(w, r, state, err)
}

func (h *Handlers) CheckoutSelectAddress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess, token, ok := h.requestSession(w, r)
	if !ok {
		return
	}
	var req selectAddressRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(ctx, w, err)
		return
	}

	state, err := h.checkoutService.Orchestrator(sess.ID, token).SelectAddress(ctx, req.AddressID)
	h.writeCheckoutState(w, r, state, err)
}

func (h *Handlers) CheckoutSelectCourier(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess, token, ok := h.requestSession(w, r)
	if !ok {
		return
	}
	var req selectCourierRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(ctx, w, err)
		return
	}

	state, err := h.checkoutService.Orchestrator(sess.ID, token).SelectCourier(ctx, req.Courier)
	h.writeCheckoutState(w, r, state, err)
}

func (h *Handlers) CheckoutSelectShipping(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess, token, ok := h.requestSession(w, r)
	if !ok {
		return
	}
	var req selectShippingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(ctx, w, err)
		return
	}

	state, err := h.checkoutService.Orchestrator(sess.ID, token).SelectShippingOption(req.Service)
	h.writeCheckoutState(w, r, state, err)
}

func (h *Handlers) CheckoutSelectPaymentMethod(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess, token, ok := h.requestSession(w, r)
	if !ok {
		return
	}
	var req selectPaymentMethodRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(ctx, w, err)
		return
	}

	state, err := h.checkoutService.Orchestrator(sess.ID, token).SelectPaymentMethod(req.PaymentMethod)
	h.writeCheckoutState(w, r, state, err)
}

// CheckoutSubmit places the order. A gateway failure after the order exists
// still answers 201 with the order and a warning, so the buyer lands on the
// order page instead of retrying and creating a duplicate.
func (h *Handlers) CheckoutSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.loggerFromContext(ctx)
	sess, token, ok := h.requestSession(w, r)
	if !ok {
		return
	}

	result, err := h.checkoutService.Submit(ctx, sess.ID, token)
	if err != nil && result.Order == nil {
		h.metrics.RecordEvent("checkout.submit", "failed")
		writeError(ctx, w, err)
		return
	}

	resp := submitResponse{
		Order:       result.Order,
		RedirectURL: result.RedirectURL,
		External:    result.External,
	}
	outcome := "placed"
	if err != nil {
		outcome = "placed_without_gateway"
		resp.Warning = checkout.ErrGatewayUnavailable.Error()
	}
	h.metrics.RecordEvent("checkout.submit", outcome)
	logger.Info("order placed", "order_id", result.Order.ID, "payment_method", result.Order.PaymentMethod, "external", result.External)
	writeJSON(ctx, w, http.StatusCreated, resp)
}

// writeCheckoutState answers with the state on success. A failed shipping
// quote is part of the state (QuoteError), so it is not an error response.
func (h *Handlers) writeCheckoutState(w http.ResponseWriter, r *http.Request, state checkout.State, err error) {
	ctx := r.Context()
	if err != nil && !(state.QuoteError != "" && !isSelectionError(err)) {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, state)
}

func isSelectionError(err error) bool {
	for _, target := range []error{
		checkout.ErrNotAuthenticated,
		checkout.ErrNotLoaded,
		checkout.ErrAddressNotFound,
		checkout.ErrUnsupportedCourier,
		checkout.ErrShippingOptionNotFound,
		checkout.ErrInvalidPaymentMethod,
		checkout.ErrQuoteSuperseded,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
