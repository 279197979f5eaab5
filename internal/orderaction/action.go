// Package orderaction gates admin order mutations by order status.
package orderaction

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gitshopapp/grocer/internal/models"
)

type Action string

const (
	Cancel         Action = "cancel"
	Deliver        Action = "deliver"
	ApprovePayment Action = "approve_payment"
	DeclinePayment Action = "decline_payment"
)

var ErrUnknownAction = errors.New("unknown order action")

var actionLabels = map[Action]string{
	Cancel:         "Cancel order",
	Deliver:        "Mark as delivered",
	ApprovePayment: "Approve payment",
	DeclinePayment: "Decline payment",
}

func Actions() []Action {
	return []Action{ApprovePayment, DeclinePayment, Deliver, Cancel}
}

// ParseAction accepts snake_case, kebab-case and camelCase names.
func ParseAction(raw string) (Action, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	switch normalized {
	case "cancel":
		return Cancel, nil
	case "deliver":
		return Deliver, nil
	case "approve_payment", "approvepayment", "approve":
		return ApprovePayment, nil
	case "decline_payment", "declinepayment", "decline":
		return DeclinePayment, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownAction, raw)
	}
}

func (a Action) Label() string {
	return actionLabels[a]
}

// RequiresConfirmation reports whether the action needs an explicit confirm
// step before the backend is contacted.
func (a Action) RequiresConfirmation() bool {
	return a == Cancel || a == Deliver
}

// Enabled reports whether an admin may perform action on an order in status.
func Enabled(status models.OrderStatus, action Action) bool {
	if status.AdminActionsLocked() {
		return false
	}
	switch action {
	case ApprovePayment, DeclinePayment:
		return status == models.StatusWaitingConfirmationPayment
	case Cancel, Deliver:
		return true
	default:
		return false
	}
}

// Available lists the enabled actions for status.
func Available(status models.OrderStatus) []Action {
	var actions []Action
	for _, action := range Actions() {
		if Enabled(status, action) {
			actions = append(actions, action)
		}
	}
	return actions
}

// TargetStatus is the status the backend is expected to move the order to.
func (a Action) TargetStatus() models.OrderStatus {
	switch a {
	case Cancel:
		return models.StatusCancelled
	case Deliver:
		return models.StatusDelivered
	case ApprovePayment:
		return models.StatusInProcess
	case DeclinePayment:
		return models.StatusWaitingForPayment
	default:
		return models.StatusUnknown
	}
}
