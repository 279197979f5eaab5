package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/gitshopapp/grocer/internal/models"
	"github.com/gitshopapp/grocer/internal/payment"
	"github.com/gitshopapp/grocer/internal/services"
)

const (
	proofFormField         = "image"
	countdownTickInterval  = time.Second
	maxProofMultipartBytes = payment.MaxProofBytes + 1<<20
)

var errInvalidFilter = errors.New("invalid order filter")

type countdownEvent struct {
	RemainingSeconds int64  `json:"remainingSeconds"`
	Remaining        string `json:"remaining"`
	Expired          bool   `json:"expired"`
}

func (h *Handlers) ListOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	_, token, ok := h.requestSession(w, r)
	if !ok {
		return
	}
	filter, err := orderFilterFromQuery(r)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	orders, err := h.orderService.ListOrders(ctx, token, filter)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	if orders == nil {
		orders = []models.Order{}
	}
	writeJSON(ctx, w, http.StatusOK, map[string]any{"orders": orders})
}

func (h *Handlers) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess, token, ok := h.requestSession(w, r)
	if !ok {
		return
	}

	detail, err := h.orderService.GetOrder(ctx, sess.ID, token, orderIDFromRequest(r))
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, detail)
}

// OrderCountdown streams the payment window as server-sent events, one tick
// per second until it reaches zero or the client goes away.
func (h *Handlers) OrderCountdown(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.loggerFromContext(ctx)
	sess, token, ok := h.requestSession(w, r)
	if !ok {
		return
	}
	orderID := orderIDFromRequest(r)

	countdown, err := h.orderService.Countdown(ctx, sess.ID, token, orderID)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	err = countdown.Run(ctx, countdownTickInterval, func(remaining time.Duration) error {
		event := countdownEvent{
			RemainingSeconds: int64((remaining + time.Second - 1) / time.Second),
			Remaining:        payment.FormatRemaining(remaining),
			Expired:          remaining == 0,
		}
		payload, err := json.Marshal(event)
		if err != nil {
			return err
		}
		name := "tick"
		if event.Expired {
			name = "expired"
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, payload); err != nil {
			return err
		}
		return rc.Flush()
	})
	if err != nil && ctx.Err() == nil {
		logger.Warn("countdown stream ended", "error", err, "order_id", orderID)
	}
}

// UploadPaymentProof accepts a multipart "image" field. A request without
// the field retries the file staged by an earlier attempt.
func (h *Handlers) UploadPaymentProof(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.loggerFromContext(ctx)
	sess, token, ok := h.requestSession(w, r)
	if !ok {
		return
	}
	orderID := orderIDFromRequest(r)

	r.Body = http.MaxBytesReader(w, r.Body, maxProofMultipartBytes)
	var (
		filename string
		file     io.Reader
	)
	if err := r.ParseMultipartForm(payment.MaxProofBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(ctx, w, payment.ErrFileTooLarge)
			return
		}
		if !errors.Is(err, http.ErrNotMultipart) {
			writeError(ctx, w, errors.Join(errBadRequest, err))
			return
		}
	} else {
		defer func() {
			if err := r.MultipartForm.RemoveAll(); err != nil {
				logger.Warn("failed to remove multipart files", "error", err)
			}
		}()
		part, header, err := r.FormFile(proofFormField)
		switch {
		case err == nil:
			defer func() {
				_ = part.Close()
			}()
			filename = header.Filename
			file = part
		case errors.Is(err, http.ErrMissingFile):
		default:
			writeError(ctx, w, errors.Join(errBadRequest, err))
			return
		}
	}

	detail, err := h.orderService.UploadProof(ctx, sess.ID, token, orderID, filename, file)
	if err != nil {
		h.metrics.RecordEvent("payment.proof_upload", "failed")
		writeError(ctx, w, err)
		return
	}
	h.metrics.RecordEvent("payment.proof_upload", "ok")
	if detail == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(ctx, w, http.StatusOK, detail)
}

func (h *Handlers) CancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess, token, ok := h.requestSession(w, r)
	if !ok {
		return
	}

	detail, err := h.orderService.Cancel(ctx, sess.ID, token, orderIDFromRequest(r))
	h.writeOrderTransition(w, r, "order.cancel", detail, err)
}

func (h *Handlers) ConfirmOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess, token, ok := h.requestSession(w, r)
	if !ok {
		return
	}

	detail, err := h.orderService.ConfirmReceipt(ctx, sess.ID, token, orderIDFromRequest(r))
	h.writeOrderTransition(w, r, "order.confirm", detail, err)
}

func (h *Handlers) writeOrderTransition(w http.ResponseWriter, r *http.Request, event string, detail *services.OrderDetail, err error) {
	ctx := r.Context()
	if err != nil {
		h.metrics.RecordEvent(event, "failed")
		writeError(ctx, w, err)
		return
	}
	h.metrics.RecordEvent(event, "ok")
	writeJSON(ctx, w, http.StatusOK, detail)
}

func orderIDFromRequest(r *http.Request) models.ID {
	return models.ID(strings.TrimSpace(mux.Vars(r)["id"]))
}

// orderFilterFromQuery reads orderId, status, startDate, endDate, page and
// limit. Dates are YYYY-MM-DD or RFC 3339; a bare endDate covers the whole day.
func orderFilterFromQuery(r *http.Request) (models.OrderFilter, error) {
	query := r.URL.Query()
	filter := models.OrderFilter{
		OrderID: strings.TrimSpace(query.Get("orderId")),
		Status:  strings.TrimSpace(query.Get("status")),
		StoreID: strings.TrimSpace(query.Get("storeId")),
	}

	if filter.Status != "" {
		status, err := models.ParseOrderStatus(filter.Status)
		if err != nil {
			return filter, fmt.Errorf("%w: %v", errInvalidFilter, err)
		}
		filter.Status = status.String()
	}

	var err error
	if filter.StartDate, err = parseFilterDate(query.Get("startDate"), false); err != nil {
		return filter, err
	}
	if filter.EndDate, err = parseFilterDate(query.Get("endDate"), true); err != nil {
		return filter, err
	}
	if !filter.StartDate.IsZero() && !filter.EndDate.IsZero() && filter.EndDate.Before(filter.StartDate) {
		return filter, fmt.Errorf("%w: endDate is before startDate", errInvalidFilter)
	}

	if filter.Page, err = parsePositiveInt(query.Get("page")); err != nil {
		return filter, err
	}
	if filter.Limit, err = parsePositiveInt(query.Get("limit")); err != nil {
		return filter, err
	}
	return filter, nil
}

func parseFilterDate(raw string, endOfDay bool) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q", errInvalidFilter, raw)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

func parsePositiveInt(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%w: %q is not a positive number", errInvalidFilter, raw)
	}
	return n, nil
}
