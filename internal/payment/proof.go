package payment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"

	"github.com/gitshopapp/grocer/internal/logging"
	"github.com/gitshopapp/grocer/internal/models"
	"github.com/gitshopapp/grocer/internal/observability"
)

const MaxProofBytes = 5 << 20

var (
	ErrNotAwaitingProof = errors.New("order is not awaiting a payment proof")
	ErrUploadExpired    = errors.New("payment window has expired")
	ErrNoFileStaged     = errors.New("select a payment proof image")
	ErrEmptyFile        = errors.New("payment proof file is empty")
	ErrFileTooLarge     = errors.New("payment proof must be 5MB or smaller")
	ErrNotAnImage       = errors.New("payment proof must be an image")
	ErrUploadInFlight   = errors.New("payment proof upload already in progress")
	ErrUploadFailed     = errors.New("failed to upload payment proof")
)

type Uploader interface {
	UploadPaymentProof(ctx context.Context, orderID models.ID, image models.ProofImage) error
}

// RefreshFunc reloads order state after a successful upload.
type RefreshFunc func(ctx context.Context) error

// ProofUpload stages and submits one proof image for an order. A staged file
// survives failed submissions so the buyer can retry.
type ProofUpload struct {
	orderID   models.ID
	countdown *Countdown
	uploader  Uploader
	refresh   RefreshFunc
	logger    *slog.Logger

	mu       sync.Mutex
	staged   *models.ProofImage
	inFlight bool
}

func NewProofUpload(order *models.Order, uploader Uploader, now Clock, refresh RefreshFunc, logger *slog.Logger) (*ProofUpload, error) {
	if order == nil || !order.AwaitingProof() {
		return nil, ErrNotAwaitingProof
	}
	return &ProofUpload{
		orderID:   order.ID,
		countdown: NewCountdown(*order.ExpiredAt, now),
		uploader:  uploader,
		refresh:   refresh,
		logger:    logger,
	}, nil
}

func (u *ProofUpload) OrderID() models.ID {
	return u.orderID
}

func (u *ProofUpload) Countdown() *Countdown {
	return u.countdown
}

func (u *ProofUpload) Staged() (models.ProofImage, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.staged == nil {
		return models.ProofImage{}, false
	}
	return *u.staged, true
}

// Stage checks the file content and replaces the staged file. A rejected file
// leaves the previously staged one in place.
func (u *ProofUpload) Stage(filename string, data []byte) (models.ProofImage, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if !u.countdown.Active() {
		return models.ProofImage{}, ErrUploadExpired
	}
	if u.inFlight {
		return models.ProofImage{}, ErrUploadInFlight
	}

	image, err := DetectImage(filename, data)
	if err != nil {
		return models.ProofImage{}, err
	}
	u.staged = &image
	return image, nil
}

// DetectImage validates that data holds an image no larger than MaxProofBytes.
func DetectImage(filename string, data []byte) (models.ProofImage, error) {
	if len(data) == 0 {
		return models.ProofImage{}, ErrEmptyFile
	}
	if len(data) > MaxProofBytes {
		return models.ProofImage{}, ErrFileTooLarge
	}
	detected := mimetype.Detect(data)
	if !strings.HasPrefix(detected.String(), "image/") {
		return models.ProofImage{}, fmt.Errorf("%w: got %s", ErrNotAnImage, detected.String())
	}

	filename = strings.TrimSpace(filename)
	if filename == "" {
		filename = "payment-proof" + detected.Extension()
	}
	return models.ProofImage{
		Filename:    filename,
		ContentType: detected.String(),
		Data:        append([]byte(nil), data...),
	}, nil
}

// ReadImage reads at most MaxProofBytes+1 bytes from r and validates them.
func ReadImage(filename string, r io.Reader) (models.ProofImage, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxProofBytes+1))
	if err != nil {
		return models.ProofImage{}, fmt.Errorf("read payment proof: %w", err)
	}
	return DetectImage(filename, data)
}

// Submit uploads the staged file. A request already in flight is allowed to
// finish even if the window closes meanwhile.
func (u *ProofUpload) Submit(ctx context.Context) error {
	span := sentry.StartSpan(
		ctx,
		"service.payment.submit_proof",
		sentry.WithOpName("service.payment"),
		sentry.WithDescription("SubmitProof"),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx = span.Context()

	logger := logging.FromContext(ctx, u.logger)
	meter := observability.MeterFromContext(ctx)
	recordFailed := func(reason string) {
		meter.Count("payment.proof.failed", 1, sentry.WithAttributes(
			attribute.String("reason", reason),
		))
	}

	u.mu.Lock()
	if u.inFlight {
		u.mu.Unlock()
		recordFailed("in_flight")
		return ErrUploadInFlight
	}
	if !u.countdown.Active() {
		u.mu.Unlock()
		recordFailed("expired")
		return ErrUploadExpired
	}
	if u.staged == nil {
		u.mu.Unlock()
		recordFailed("no_file")
		return ErrNoFileStaged
	}
	image := *u.staged
	u.inFlight = true
	u.mu.Unlock()

	err := u.uploader.UploadPaymentProof(ctx, u.orderID, image)

	u.mu.Lock()
	u.inFlight = false
	if err != nil {
		u.mu.Unlock()
		if rejectedAsExpired(err) {
			u.countdown.Expire()
			recordFailed("rejected_expired")
			logger.Info("backend rejected late payment proof", "order_id", u.orderID)
			return fmt.Errorf("%w: %w", ErrUploadExpired, err)
		}
		recordFailed("upload_failed")
		logger.Warn("payment proof upload failed", "error", err, "order_id", u.orderID)
		return fmt.Errorf("%w: %w", ErrUploadFailed, err)
	}
	u.staged = nil
	u.mu.Unlock()

	meter.Count("payment.proof.uploaded", 1)
	logger.Info("payment proof uploaded", "order_id", u.orderID, "content_type", image.ContentType, "bytes", len(image.Data))

	if u.refresh != nil {
		if err := u.refresh(ctx); err != nil {
			logger.Warn("failed to refresh order after proof upload", "error", err, "order_id", u.orderID)
		}
	}
	span.Status = sentry.SpanStatusOK
	return nil
}

// rejectedAsExpired reports whether the backend refused the upload because
// the payment window is closed on its clock.
func rejectedAsExpired(err error) bool {
	var statusErr interface{ HTTPStatus() int }
	if errors.As(err, &statusErr) {
		return statusErr.HTTPStatus() == http.StatusGone
	}
	return false
}
