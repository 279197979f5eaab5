package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gitshopapp/grocer/internal/auth"
	"github.com/gitshopapp/grocer/internal/backend"
	"github.com/gitshopapp/grocer/internal/checkout"
	"github.com/gitshopapp/grocer/internal/logging"
	"github.com/gitshopapp/grocer/internal/orderaction"
	"github.com/gitshopapp/grocer/internal/payment"
	"github.com/gitshopapp/grocer/internal/services"
	"github.com/gitshopapp/grocer/internal/session"
	"github.com/gitshopapp/grocer/internal/shipping"
)

const genericErrorMessage = "request failed"

var (
	errForbidden  = errors.New("admin role required")
	errBadRequest = errors.New("invalid request body")
)

type errorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

type statusMapping struct {
	err    error
	status int
}

// errorStatuses is checked in order; the first match wins and its text
// becomes the response message.
var errorStatuses = []statusMapping{
	{session.ErrNoSession, http.StatusUnauthorized},
	{session.ErrSessionExpired, http.StatusUnauthorized},
	{session.ErrStoreUnavailable, http.StatusServiceUnavailable},
	{auth.ErrMissingToken, http.StatusUnauthorized},
	{auth.ErrInvalidToken, http.StatusUnauthorized},
	{auth.ErrTokenExpired, http.StatusUnauthorized},
	{checkout.ErrNotAuthenticated, http.StatusUnauthorized},
	{backend.ErrUnauthorized, http.StatusUnauthorized},
	{errForbidden, http.StatusForbidden},
	{errCrossOrigin, http.StatusForbidden},
	{errBadRequest, http.StatusBadRequest},
	{errInvalidFilter, http.StatusBadRequest},

	{checkout.ErrAddressRequired, http.StatusUnprocessableEntity},
	{checkout.ErrShippingRequired, http.StatusUnprocessableEntity},
	{checkout.ErrNotLoaded, http.StatusConflict},
	{checkout.ErrQuoteSuperseded, http.StatusConflict},
	{checkout.ErrSubmitInProgress, http.StatusConflict},
	{checkout.ErrAddressNotFound, http.StatusNotFound},
	{checkout.ErrShippingOptionNotFound, http.StatusNotFound},
	{checkout.ErrUnsupportedCourier, http.StatusBadRequest},
	{checkout.ErrInvalidPaymentMethod, http.StatusBadRequest},
	{checkout.ErrOrderSubmission, http.StatusBadGateway},

	{shipping.ErrInvalidRequest, http.StatusBadRequest},
	{shipping.ErrUnsupportedCourier, http.StatusBadRequest},
	{shipping.ErrNoShippingOptions, http.StatusNotFound},

	{payment.ErrNotAwaitingProof, http.StatusConflict},
	{payment.ErrUploadExpired, http.StatusGone},
	{payment.ErrNoFileStaged, http.StatusBadRequest},
	{payment.ErrEmptyFile, http.StatusBadRequest},
	{payment.ErrNotAnImage, http.StatusBadRequest},
	{payment.ErrFileTooLarge, http.StatusRequestEntityTooLarge},
	{payment.ErrUploadInFlight, http.StatusConflict},
	{payment.ErrUploadFailed, http.StatusBadGateway},

	{orderaction.ErrUnknownAction, http.StatusBadRequest},
	{orderaction.ErrActionNotAllowed, http.StatusConflict},
	{orderaction.ErrActionBusy, http.StatusConflict},
	{orderaction.ErrNothingToConfirm, http.StatusConflict},
	{orderaction.ErrActionFailed, http.StatusBadGateway},

	{services.ErrOrderNotFound, http.StatusNotFound},
	{services.ErrOrderStatusConflict, http.StatusConflict},
	{services.ErrServiceUnavailable, http.StatusServiceUnavailable},
}

// errorStatus picks the response status and buyer-facing message for err.
func errorStatus(err error) (int, string) {
	var userErr services.UserError
	if errors.As(err, &userErr) {
		if userErr.Err == nil {
			return http.StatusBadRequest, userErr.Message
		}
		status, _ := errorStatus(userErr.Err)
		return status, userErr.Message
	}

	for _, m := range errorStatuses {
		if errors.Is(err, m.err) {
			return m.status, m.err.Error()
		}
	}

	var providerErr *shipping.ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.HTTPStatus(), providerErr.Error()
	}

	var apiErr *backend.APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 && apiErr.Message != "" {
			return apiErr.StatusCode, apiErr.Message
		}
		return http.StatusBadGateway, genericErrorMessage
	}

	return http.StatusInternalServerError, genericErrorMessage
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.FromContext(ctx, nil).Error("failed to encode response", "error", err)
	}
}

func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	status, message := errorStatus(err)
	logger := logging.FromContext(ctx, nil)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "error", err, "status", status)
	} else {
		logger.Debug("request rejected", "error", err, "status", status)
	}
	writeJSON(ctx, w, status, errorResponse{Message: message, Error: http.StatusText(status)})
}

func decodeJSON(r *http.Request, out any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxWebhookBodyBytes))
	if err := decoder.Decode(out); err != nil {
		return errors.Join(errBadRequest, err)
	}
	return nil
}
