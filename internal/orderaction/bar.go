package orderaction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"

	"github.com/gitshopapp/grocer/internal/logging"
	"github.com/gitshopapp/grocer/internal/models"
	"github.com/gitshopapp/grocer/internal/observability"
)

var (
	ErrActionNotAllowed = errors.New("action is not allowed for the current order status")
	ErrActionBusy       = errors.New("another action is in progress")
	ErrNothingToConfirm = errors.New("no action is awaiting confirmation")
	ErrActionFailed     = errors.New("order action failed")
)

type Phase int

const (
	PhaseIdle Phase = iota
	PhaseConfirming
	PhaseInFlight
)

func (p Phase) String() string {
	switch p {
	case PhaseConfirming:
		return "CONFIRMING"
	case PhaseInFlight:
		return "IN_FLIGHT"
	default:
		return "IDLE"
	}
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

type Backend interface {
	GetStoreOrder(ctx context.Context, orderID models.ID) (*models.Order, error)
	ApprovePayment(ctx context.Context, orderID models.ID) error
	DeclinePayment(ctx context.Context, orderID models.ID) error
	CancelStoreOrder(ctx context.Context, orderID models.ID) error
	DeliverOrder(ctx context.Context, orderID models.ID) error
}

// Outcome reports what a Request or Confirm call did. Performed is set once
// the backend accepted the mutation; Order is the re-fetched order when
// Refreshed is set.
type Outcome struct {
	Action         Action             `json:"action"`
	Phase          Phase              `json:"phase"`
	Performed      bool               `json:"performed"`
	Refreshed      bool               `json:"refreshed"`
	PreviousStatus models.OrderStatus `json:"previousStatus"`
	Order          *models.Order      `json:"order,omitempty"`
}

type ActionView struct {
	Action               Action `json:"action"`
	Label                string `json:"label"`
	Enabled              bool   `json:"enabled"`
	RequiresConfirmation bool   `json:"requiresConfirmation"`
}

type View struct {
	OrderID models.ID          `json:"orderId"`
	Status  models.OrderStatus `json:"status"`
	Style   models.StatusStyle `json:"style"`
	Phase   Phase              `json:"phase"`
	Pending Action             `json:"pending,omitempty"`
	Actions []ActionView       `json:"actions"`
}

// Bar drives admin actions for one order: Idle → Confirming → InFlight → Idle
// for actions that need confirmation, Idle → InFlight → Idle otherwise.
type Bar struct {
	backend Backend
	logger  *slog.Logger

	mu      sync.Mutex
	order   models.Order
	phase   Phase
	pending Action
}

func NewBar(order models.Order, backend Backend, logger *slog.Logger) *Bar {
	return &Bar{
		backend: backend,
		logger:  logger,
		order:   order,
	}
}

func (b *Bar) loggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, b.logger)
}

func (b *Bar) Order() models.Order {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.order
}

func (b *Bar) View() View {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.viewLocked()
}

func (b *Bar) viewLocked() View {
	view := View{
		OrderID: b.order.ID,
		Status:  b.order.Status,
		Style:   models.StyleFor(b.order.Status),
		Phase:   b.phase,
		Pending: b.pending,
	}
	for _, action := range Actions() {
		view.Actions = append(view.Actions, ActionView{
			Action:               action,
			Label:                action.Label(),
			Enabled:              b.phase == PhaseIdle && Enabled(b.order.Status, action),
			RequiresConfirmation: action.RequiresConfirmation(),
		})
	}
	return view
}

// Request starts an action. Actions needing confirmation only move the bar to
// Confirming; the rest are sent to the backend right away.
func (b *Bar) Request(ctx context.Context, action Action) (Outcome, error) {
	b.mu.Lock()
	if b.phase != PhaseIdle {
		b.mu.Unlock()
		return Outcome{Action: action, Phase: b.phase}, ErrActionBusy
	}
	if !Enabled(b.order.Status, action) {
		status, orderID := b.order.Status, b.order.ID
		b.mu.Unlock()
		b.loggerFromContext(ctx).Warn("ignoring disallowed order action", "action", action, "status", status, "order_id", orderID)
		return Outcome{Action: action, Phase: PhaseIdle, PreviousStatus: status}, fmt.Errorf("%w: %s while %s", ErrActionNotAllowed, action, status)
	}
	if action.RequiresConfirmation() {
		b.phase = PhaseConfirming
		b.pending = action
		outcome := Outcome{Action: action, Phase: PhaseConfirming, PreviousStatus: b.order.Status}
		b.mu.Unlock()
		return outcome, nil
	}
	b.phase = PhaseInFlight
	b.pending = action
	b.mu.Unlock()

	return b.execute(ctx, action)
}

// Confirm sends the pending action. The status is checked again in case the
// order changed while the confirmation was open.
func (b *Bar) Confirm(ctx context.Context) (Outcome, error) {
	b.mu.Lock()
	if b.phase != PhaseConfirming {
		phase := b.phase
		b.mu.Unlock()
		return Outcome{Phase: phase}, ErrNothingToConfirm
	}
	action := b.pending
	if !Enabled(b.order.Status, action) {
		status := b.order.Status
		b.phase = PhaseIdle
		b.pending = ""
		b.mu.Unlock()
		return Outcome{Action: action, Phase: PhaseIdle, PreviousStatus: status}, fmt.Errorf("%w: %s while %s", ErrActionNotAllowed, action, status)
	}
	b.phase = PhaseInFlight
	b.mu.Unlock()

	return b.execute(ctx, action)
}

// Dismiss closes an open confirmation. It has no effect in any other phase.
func (b *Bar) Dismiss() View {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.phase == PhaseConfirming {
		b.phase = PhaseIdle
		b.pending = ""
	}
	return b.viewLocked()
}

// Refresh replaces the cached order with the backend's copy.
func (b *Bar) Refresh(ctx context.Context) (models.Order, error) {
	orderID := b.Order().ID
	order, err := b.backend.GetStoreOrder(ctx, orderID)
	if err != nil {
		return models.Order{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.order = *order
	return b.order, nil
}

func (b *Bar) execute(ctx context.Context, action Action) (Outcome, error) {
	span := sentry.StartSpan(
		ctx,
		"service.orderaction.execute",
		sentry.WithOpName("service.orderaction"),
		sentry.WithDescription(string(action)),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx = span.Context()

	logger := b.loggerFromContext(ctx)
	meter := observability.MeterFromContext(ctx)
	meter.SetAttributes(attribute.String("order.action", string(action)))

	b.mu.Lock()
	orderID := b.order.ID
	previous := b.order.Status
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.phase = PhaseIdle
		b.pending = ""
		b.mu.Unlock()
	}()

	if err := b.mutate(ctx, action, orderID); err != nil {
		meter.Count("order.action.failed", 1)
		logger.Error("order action failed", "error", err, "action", action, "order_id", orderID)
		return Outcome{Action: action, Phase: PhaseIdle, PreviousStatus: previous}, fmt.Errorf("%w: %w", ErrActionFailed, err)
	}
	meter.Count("order.action.performed", 1)
	logger.Info("order action performed", "action", action, "order_id", orderID, "previous_status", previous)

	outcome := Outcome{Action: action, Phase: PhaseIdle, Performed: true, PreviousStatus: previous}
	refreshed, err := b.Refresh(ctx)
	if err != nil {
		logger.Warn("failed to refresh order after action", "error", err, "order_id", orderID)
		span.Status = sentry.SpanStatusOK
		return outcome, nil
	}
	outcome.Refreshed = true
	outcome.Order = &refreshed
	span.Status = sentry.SpanStatusOK
	return outcome, nil
}

func (b *Bar) mutate(ctx context.Context, action Action, orderID models.ID) error {
	switch action {
	case Cancel:
		return b.backend.CancelStoreOrder(ctx, orderID)
	case Deliver:
		return b.backend.DeliverOrder(ctx, orderID)
	case ApprovePayment:
		return b.backend.ApprovePayment(ctx, orderID)
	case DeclinePayment:
		return b.backend.DeclinePayment(ctx, orderID)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownAction, action)
	}
}
