package handlers

import (
	"net/http"

	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"
	"github.com/gorilla/mux"

	"github.com/gitshopapp/grocer/internal/observability"
)

// MetricsContext puts a meter in the context that already carries the
// request, buyer and order attributes, so services only add their own.
func (h *Handlers) MetricsContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		meter := sentry.NewMeter(ctx).WithCtx(ctx)
		meter.SetAttributes(h.requestAttributes(r)...)

		next.ServeHTTP(w, r.WithContext(observability.WithMeter(ctx, meter)))
	})
}

func (h *Handlers) requestAttributes(r *http.Request) []attribute.Builder {
	attrs := []attribute.Builder{
		attribute.String("http.request_id", requestIDFromRequest(r)),
		attribute.String("http.method", r.Method),
		attribute.String("network.client.ip", clientIP(r)),
	}
	if route := routeLabel(r); route != "" {
		attrs = append(attrs, attribute.String("http.route", route))
	}
	if orderID := mux.Vars(r)["id"]; orderID != "" {
		attrs = append(attrs, attribute.String("order.id", orderID))
	}

	sess := h.sessionFromRequest(r.Context(), r)
	if sess == nil {
		return attrs
	}
	for key, value := range map[string]string{
		"user.id":   sess.UserID,
		"user.role": sess.Role,
		"store.id":  sess.StoreID,
	} {
		if value != "" {
			attrs = append(attrs, attribute.String(key, value))
		}
	}
	return attrs
}
