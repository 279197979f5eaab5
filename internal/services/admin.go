package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/gitshopapp/grocer/internal/backend"
	"github.com/gitshopapp/grocer/internal/db"
	"github.com/gitshopapp/grocer/internal/logging"
	"github.com/gitshopapp/grocer/internal/models"
	"github.com/gitshopapp/grocer/internal/orderaction"
)

type AdminBackend interface {
	orderaction.Backend
	ListStoreOrders(ctx context.Context, filter models.OrderFilter) ([]models.Order, error)
	StatusLog(ctx context.Context, orderID models.ID) ([]models.StatusLogEntry, error)
}

type AdminBackendFactory func(token string) AdminBackend

type AdminNotifier interface {
	AdminAction(ctx context.Context, actor, action string, previous models.OrderStatus, order *models.Order)
}

const defaultBarCapacity = 1024

// Actor identifies the admin performing an action.
type Actor struct {
	SessionID string
	UserID    string
	Token     string
}

type AdminOrderDetail struct {
	Order models.Order     `json:"order"`
	Bar   orderaction.View `json:"actionBar"`
}

type OrderHistory struct {
	StatusLog []models.StatusLogEntry `json:"statusLog"`
	Actions   []db.ActionLogEntry     `json:"actions"`
}

// AdminActionResult is returned by every action bar transition.
type AdminActionResult struct {
	Outcome orderaction.Outcome `json:"outcome"`
	Bar     orderaction.View    `json:"actionBar"`
}

// AdminService keeps one action bar per admin session and order so the
// confirmation step spans two requests.
type AdminService struct {
	backendFor AdminBackendFactory
	actionLog  db.ActionLog
	notifier   AdminNotifier
	logger     *slog.Logger

	mu   sync.Mutex
	bars *lru.Cache[string, *orderaction.Bar]
}

func NewAdminService(backendFor AdminBackendFactory, actionLog db.ActionLog, notifier AdminNotifier, logger *slog.Logger) (*AdminService, error) {
	if backendFor == nil {
		return nil, fmt.Errorf("admin backend factory is required")
	}
	if actionLog == nil {
		actionLog = db.NoopActionLog{}
	}
	bars, err := lru.New[string, *orderaction.Bar](defaultBarCapacity)
	if err != nil {
		return nil, fmt.Errorf("failed to create action bar cache: %w", err)
	}
	return &AdminService{
		backendFor: backendFor,
		actionLog:  actionLog,
		notifier:   notifier,
		logger:     logger,
		bars:       bars,
	}, nil
}

func (s *AdminService) loggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, s.logger)
}

func barKey(sessionID string, orderID models.ID) string {
	return sessionID + ":" + orderID.String()
}

func (s *AdminService) ListOrders(ctx context.Context, token string, filter models.OrderFilter) ([]models.Order, error) {
	orders, err := s.backendFor(token).ListStoreOrders(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list store orders: %w", err)
	}
	return orders, nil
}

// OrderDetail loads the order fresh from the backend and returns the action
// bar for it.
func (s *AdminService) OrderDetail(ctx context.Context, actor Actor, orderID models.ID) (*AdminOrderDetail, error) {
	bar, err := s.bar(ctx, actor, orderID)
	if err != nil {
		return nil, err
	}
	if bar.View().Phase == orderaction.PhaseIdle {
		if _, err := bar.Refresh(ctx); err != nil {
			return nil, adminLookupError(orderID, err)
		}
	}
	return &AdminOrderDetail{Order: bar.Order(), Bar: bar.View()}, nil
}

func (s *AdminService) RequestAction(ctx context.Context, actor Actor, orderID models.ID, action orderaction.Action) (*AdminActionResult, error) {
	bar, err := s.bar(ctx, actor, orderID)
	if err != nil {
		return nil, err
	}
	outcome, err := bar.Request(ctx, action)
	s.recordOutcome(ctx, actor, orderID, action, outcome, err)
	return &AdminActionResult{Outcome: outcome, Bar: bar.View()}, err
}

func (s *AdminService) ConfirmAction(ctx context.Context, actor Actor, orderID models.ID) (*AdminActionResult, error) {
	bar, ok := s.bars.Get(barKey(actor.SessionID, orderID))
	if !ok {
		return nil, orderaction.ErrNothingToConfirm
	}
	pending := bar.View().Pending
	outcome, err := bar.Confirm(ctx)
	s.recordOutcome(ctx, actor, orderID, pending, outcome, err)
	return &AdminActionResult{Outcome: outcome, Bar: bar.View()}, err
}

func (s *AdminService) DismissAction(ctx context.Context, actor Actor, orderID models.ID) (*AdminActionResult, error) {
	bar, err := s.bar(ctx, actor, orderID)
	if err != nil {
		return nil, err
	}
	view := bar.Dismiss()
	return &AdminActionResult{Outcome: orderaction.Outcome{Phase: view.Phase}, Bar: view}, nil
}

func (s *AdminService) History(ctx context.Context, token string, orderID models.ID) (*OrderHistory, error) {
	statusLog, err := s.backendFor(token).StatusLog(ctx, orderID)
	if err != nil {
		return nil, adminLookupError(orderID, err)
	}
	actions, err := s.actionLog.List(ctx, orderID, 50)
	if err != nil {
		s.loggerFromContext(ctx).Warn("failed to load admin action log", "error", err, "order_id", orderID)
	}
	return &OrderHistory{StatusLog: statusLog, Actions: actions}, nil
}

func (s *AdminService) bar(ctx context.Context, actor Actor, orderID models.ID) (*orderaction.Bar, error) {
	key := barKey(actor.SessionID, orderID)
	if bar, ok := s.bars.Get(key); ok {
		return bar, nil
	}

	client := s.backendFor(actor.Token)
	order, err := client.GetStoreOrder(ctx, orderID)
	if err != nil {
		return nil, adminLookupError(orderID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if bar, ok := s.bars.Get(key); ok {
		return bar, nil
	}
	bar := orderaction.NewBar(*order, client, s.logger)
	s.bars.Add(key, bar)
	return bar, nil
}

func (s *AdminService) recordOutcome(ctx context.Context, actor Actor, orderID models.ID, action orderaction.Action, outcome orderaction.Outcome, actionErr error) {
	logger := s.loggerFromContext(ctx)

	entry := db.ActionLogEntry{
		OrderID:    orderID,
		Action:     string(action),
		Actor:      actor.UserID,
		FromStatus: outcome.PreviousStatus,
		ToStatus:   action.TargetStatus(),
	}
	switch {
	case outcome.Performed:
		entry.Outcome = db.OutcomePerformed
		if outcome.Order != nil {
			entry.ToStatus = outcome.Order.Status
		}
	case errors.Is(actionErr, orderaction.ErrActionFailed):
		entry.Outcome = db.OutcomeFailed
		entry.Error = actionErr.Error()
	default:
		return
	}

	if err := s.actionLog.Record(ctx, entry); err != nil {
		logger.Warn("failed to record admin action", "error", err, "order_id", orderID, "action", action)
	}

	if outcome.Performed && s.notifier != nil {
		order := outcome.Order
		if order == nil {
			order = &models.Order{ID: orderID, Status: action.TargetStatus()}
		}
		s.notifier.AdminAction(ctx, actor.UserID, string(action), outcome.PreviousStatus, order)
	}
}

func adminLookupError(orderID models.ID, err error) error {
	if status, ok := backend.StatusCode(err); ok && status == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	return fmt.Errorf("failed to load order: %w", err)
}
