package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/gitshopapp/grocer/internal/models"
	"github.com/gitshopapp/grocer/internal/orderaction"
	"github.com/gitshopapp/grocer/internal/services"
)

func (h *Handlers) AdminListOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.adminActor(w, r)
	if !ok {
		return
	}
	filter, err := orderFilterFromQuery(r)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	orders, err := h.adminService.ListOrders(ctx, actor.Token, filter)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	if orders == nil {
		orders = []models.Order{}
	}
	writeJSON(ctx, w, http.StatusOK, map[string]any{"orders": orders})
}

func (h *Handlers) AdminGetOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.adminActor(w, r)
	if !ok {
		return
	}

	detail, err := h.adminService.OrderDetail(ctx, actor, orderIDFromRequest(r))
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, detail)
}

// AdminRequestAction starts an action. Actions that need confirmation answer
// with the bar in its confirming phase and nothing is sent to the backend.
func (h *Handlers) AdminRequestAction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.adminActor(w, r)
	if !ok {
		return
	}
	action, err := orderaction.ParseAction(mux.Vars(r)["action"])
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	result, err := h.adminService.RequestAction(ctx, actor, orderIDFromRequest(r), action)
	h.writeActionResult(w, r, string(action), result, err)
}

func (h *Handlers) AdminConfirmAction(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.adminActor(w, r)
	if !ok {
		return
	}

	result, err := h.adminService.ConfirmAction(r.Context(), actor, orderIDFromRequest(r))
	action := "confirm"
	if result != nil && result.Outcome.Action != "" {
		action = string(result.Outcome.Action)
	}
	h.writeActionResult(w, r, action, result, err)
}

func (h *Handlers) AdminDismissAction(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.adminActor(w, r)
	if !ok {
		return
	}

	result, err := h.adminService.DismissAction(r.Context(), actor, orderIDFromRequest(r))
	h.writeActionResult(w, r, "dismiss", result, err)
}

func (h *Handlers) AdminStatusLog(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.adminActor(w, r)
	if !ok {
		return
	}

	history, err := h.adminService.History(ctx, actor.Token, orderIDFromRequest(r))
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, history)
}

func (h *Handlers) writeActionResult(w http.ResponseWriter, r *http.Request, action string, result *services.AdminActionResult, err error) {
	ctx := r.Context()
	if err != nil {
		h.metrics.RecordEvent("admin.action."+action, "failed")
		writeError(ctx, w, err)
		return
	}

	outcome := "requested"
	if result.Outcome.Performed {
		outcome = "performed"
		h.loggerFromContext(ctx).Info("admin action performed",
			"action", action,
			"order_id", result.Bar.OrderID,
			"status", result.Bar.Status.String(),
		)
	}
	h.metrics.RecordEvent("admin.action."+action, outcome)
	writeJSON(ctx, w, http.StatusOK, result)
}
