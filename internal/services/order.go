package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/gitshopapp/grocer/internal/backend"
	"github.com/gitshopapp/grocer/internal/logging"
	"github.com/gitshopapp/grocer/internal/models"
	"github.com/gitshopapp/grocer/internal/observability"
	"github.com/gitshopapp/grocer/internal/payment"
)

type BuyerBackend interface {
	GetOrder(ctx context.Context, orderID models.ID) (*models.Order, error)
	ListOrders(ctx context.Context, filter models.OrderFilter) ([]models.Order, error)
	CancelOrder(ctx context.Context, orderID models.ID) error
	ConfirmOrder(ctx context.Context, orderID models.ID) error
	UploadPaymentProof(ctx context.Context, orderID models.ID, image models.ProofImage) error
	GetProfile(ctx context.Context) (*models.Profile, error)
}

// BuyerBackendFactory binds the backend client to a buyer's bearer token.
type BuyerBackendFactory func(token string) BuyerBackend

type ProofNotifier interface {
	ProofUploaded(ctx context.Context, buyer models.Profile, order *models.Order)
}

const defaultUploadCapacity = 2048

type CountdownView struct {
	ExpiresAt        time.Time `json:"expiresAt"`
	RemainingSeconds int64     `json:"remainingSeconds"`
	Remaining        string    `json:"remaining"`
	State            string    `json:"state"`
}

func NewCountdownView(c *payment.Countdown) *CountdownView {
	remaining := c.Tick()
	return &CountdownView{
		ExpiresAt:        c.ExpiresAt(),
		RemainingSeconds: int64((remaining + time.Second - 1) / time.Second),
		Remaining:        payment.FormatRemaining(remaining),
		State:            c.State().String(),
	}
}

// OrderDetail is an order with the presentation hints the storefront renders.
type OrderDetail struct {
	Order         models.Order         `json:"order"`
	Style         models.StatusStyle   `json:"style"`
	PaymentStatus models.PaymentStatus `json:"paymentStatus"`
	Countdown     *CountdownView       `json:"countdown,omitempty"`
	StagedFile    string               `json:"stagedFile,omitempty"`
}

type uploadEntry struct {
	upload *payment.ProofUpload
	mu     sync.Mutex
	latest *models.Order
}

// OrderService serves the buyer's order pages. Proof uploads are kept per
// session and order so a failed submission can be retried with the staged
// file and the countdown latch survives between requests.
type OrderService struct {
	backendFor BuyerBackendFactory
	notifier   ProofNotifier
	now        payment.Clock
	logger     *slog.Logger

	mu      sync.Mutex
	uploads *lru.Cache[string, *uploadEntry]
}

func NewOrderService(backendFor BuyerBackendFactory, notifier ProofNotifier, logger *slog.Logger) (*OrderService, error) {
	if backendFor == nil {
		return nil, fmt.Errorf("buyer backend factory is required")
	}
	uploads, err := lru.New[string, *uploadEntry](defaultUploadCapacity)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload cache: %w", err)
	}
	return &OrderService{
		backendFor: backendFor,
		notifier:   notifier,
		now:        time.Now,
		logger:     logger,
		uploads:    uploads,
	}, nil
}

func (s *OrderService) loggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, s.logger)
}

func uploadKey(sessionID string, orderID models.ID) string {
	return sessionID + ":" + orderID.String()
}

func (s *OrderService) ListOrders(ctx context.Context, token string, filter models.OrderFilter) ([]models.Order, error) {
	orders, err := s.backendFor(token).ListOrders(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return orders, nil
}

func (s *OrderService) GetOrder(ctx context.Context, sessionID, token string, orderID models.ID) (*OrderDetail, error) {
	order, err := s.fetchOrder(ctx, token, orderID)
	if err != nil {
		return nil, err
	}

	detail := &OrderDetail{
		Order:         *order,
		Style:         models.StyleFor(order.Status),
		PaymentStatus: models.PaymentStatusFor(order.Status),
	}
	if !order.AwaitingProof() {
		s.uploads.Remove(uploadKey(sessionID, orderID))
		return detail, nil
	}

	entry, err := s.uploadFor(sessionID, token, order)
	if err != nil {
		return nil, err
	}
	detail.Countdown = NewCountdownView(entry.upload.Countdown())
	if staged, ok := entry.upload.Staged(); ok {
		detail.StagedFile = staged.Filename
	}
	return detail, nil
}

// Countdown returns the live countdown for an order awaiting its proof.
func (s *OrderService) Countdown(ctx context.Context, sessionID, token string, orderID models.ID) (*payment.Countdown, error) {
	if entry, ok := s.uploads.Get(uploadKey(sessionID, orderID)); ok {
		return entry.upload.Countdown(), nil
	}
	order, err := s.fetchOrder(ctx, token, orderID)
	if err != nil {
		return nil, err
	}
	entry, err := s.uploadFor(sessionID, token, order)
	if err != nil {
		return nil, err
	}
	return entry.upload.Countdown(), nil
}

// UploadProof stages the file when one is given and submits the staged file.
// With a nil file the previously staged one is retried. A file that is not an
// image is refused before the backend is contacted.
func (s *OrderService) UploadProof(ctx context.Context, sessionID, token string, orderID models.ID, filename string, file io.Reader) (*OrderDetail, error) {
	span := sentry.StartSpan(
		ctx,
		"service.order.upload_proof",
		sentry.WithOpName("service.order"),
		sentry.WithDescription("UploadProof"),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx = span.Context()

	logger := s.loggerFromContext(ctx).With("order_id", orderID)
	meter := observability.MeterFromContext(ctx)
	recordFailed := func(reason string) {
		span.Status = sentry.SpanStatusFailedPrecondition
		meter.Count("order.proof.rejected", 1, sentry.WithAttributes(attribute.String("reason", reason)))
	}

	var image models.ProofImage
	if file != nil {
		read, err := payment.ReadImage(filename, file)
		if err != nil {
			recordFailed("invalid_file")
			return nil, err
		}
		image = read
	}

	entry, ok := s.uploads.Get(uploadKey(sessionID, orderID))
	if !ok {
		order, err := s.fetchOrder(ctx, token, orderID)
		if err != nil {
			recordFailed("order_lookup_failed")
			return nil, err
		}
		entry, err = s.uploadFor(sessionID, token, order)
		if err != nil {
			recordFailed("not_awaiting_proof")
			return nil, err
		}
	}

	if file != nil {
		if _, err := entry.upload.Stage(image.Filename, image.Data); err != nil {
			recordFailed("stage_rejected")
			return nil, err
		}
	}

	if err := entry.upload.Submit(ctx); err != nil {
		switch {
		case errors.Is(err, payment.ErrUploadExpired):
			recordFailed("expired")
		case errors.Is(err, payment.ErrNoFileStaged):
			recordFailed("no_file")
		default:
			recordFailed("upload_failed")
			logger.Warn("payment proof upload failed", "error", err)
		}
		return nil, err
	}

	entry.mu.Lock()
	latest := entry.latest
	entry.mu.Unlock()
	s.uploads.Remove(uploadKey(sessionID, orderID))

	if latest == nil {
		fetched, err := s.fetchOrder(ctx, token, orderID)
		if err != nil {
			logger.Warn("failed to reload order after proof upload", "error", err)
			span.Status = sentry.SpanStatusOK
			return nil, nil
		}
		latest = fetched
	}

	if s.notifier != nil {
		buyer := s.buyerProfile(ctx, token, latest)
		s.notifier.ProofUploaded(ctx, buyer, latest)
	}

	span.Status = sentry.SpanStatusOK
	meter.Count("order.proof.uploaded", 1)
	logger.Info("payment proof uploaded")
	return &OrderDetail{
		Order:         *latest,
		Style:         models.StyleFor(latest.Status),
		PaymentStatus: models.PaymentStatusFor(latest.Status),
	}, nil
}

// Cancel is allowed while the buyer has not paid yet.
func (s *OrderService) Cancel(ctx context.Context, sessionID, token string, orderID models.ID) (*OrderDetail, error) {
	return s.transition(ctx, sessionID, token, orderID, models.StatusCancelled, func(client BuyerBackend) error {
		return client.CancelOrder(ctx, orderID)
	})
}

// ConfirmReceipt closes a delivered order.
func (s *OrderService) ConfirmReceipt(ctx context.Context, sessionID, token string, orderID models.ID) (*OrderDetail, error) {
	return s.transition(ctx, sessionID, token, orderID, models.StatusOrderConfirmation, func(client BuyerBackend) error {
		return client.ConfirmOrder(ctx, orderID)
	})
}

func (s *OrderService) transition(ctx context.Context, sessionID, token string, orderID models.ID, target models.OrderStatus, mutate func(BuyerBackend) error) (*OrderDetail, error) {
	client := s.backendFor(token)
	order, err := s.fetchOrder(ctx, token, orderID)
	if err != nil {
		return nil, err
	}
	if !buyerMayTransition(order.Status, target) {
		return nil, UserError{
			Message: buyerTransitionRefusal(target),
			Err:     fmt.Errorf("%w: %s to %s", ErrOrderStatusConflict, order.Status, target),
		}
	}
	if err := mutate(client); err != nil {
		if status, ok := backend.StatusCode(err); ok && status == http.StatusConflict {
			return nil, fmt.Errorf("%w: %w", ErrOrderStatusConflict, err)
		}
		return nil, fmt.Errorf("failed to update order: %w", err)
	}
	s.uploads.Remove(uploadKey(sessionID, orderID))
	return s.GetOrder(ctx, sessionID, token, orderID)
}

func buyerMayTransition(from, to models.OrderStatus) bool {
	switch to {
	case models.StatusCancelled:
		return from == models.StatusWaitingForPayment
	case models.StatusOrderConfirmation:
		return from == models.StatusDelivered
	default:
		return false
	}
}

func buyerTransitionRefusal(target models.OrderStatus) string {
	if target == models.StatusCancelled {
		return "only orders waiting for payment can be cancelled"
	}
	return "only delivered orders can be confirmed"
}

func (s *OrderService) fetchOrder(ctx context.Context, token string, orderID models.ID) (*models.Order, error) {
	order, err := s.backendFor(token).GetOrder(ctx, orderID)
	if err != nil {
		if status, ok := backend.StatusCode(err); ok && status == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
		}
		return nil, fmt.Errorf("failed to load order: %w", err)
	}
	return order, nil
}

func (s *OrderService) uploadFor(sessionID, token string, order *models.Order) (*uploadEntry, error) {
	key := uploadKey(sessionID, order.ID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.uploads.Get(key); ok {
		return entry, nil
	}

	client := s.backendFor(token)
	entry := &uploadEntry{}
	refresh := func(ctx context.Context) error {
		latest, err := client.GetOrder(ctx, order.ID)
		if err != nil {
			return err
		}
		entry.mu.Lock()
		entry.latest = latest
		entry.mu.Unlock()
		return nil
	}

	upload, err := payment.NewProofUpload(order, client, s.now, refresh, s.logger)
	if err != nil {
		return nil, err
	}
	entry.upload = upload
	s.uploads.Add(key, entry)
	return entry, nil
}

func (s *OrderService) buyerProfile(ctx context.Context, token string, order *models.Order) models.Profile {
	if order.Buyer.Email != "" {
		return models.Profile{Name: order.Buyer.Name, Email: order.Buyer.Email, Phone: order.Buyer.Phone}
	}
	profile, err := s.backendFor(token).GetProfile(ctx)
	if err != nil || profile == nil {
		s.loggerFromContext(ctx).Debug("buyer profile unavailable for notification", "error", err)
		return models.Profile{Name: order.Buyer.Name}
	}
	return *profile
}
