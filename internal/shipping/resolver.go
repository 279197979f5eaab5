// Package shipping resolves courier rate quotes for checkout.
package shipping

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"
	"github.com/go-playground/validator/v10"

	"github.com/gitshopapp/grocer/internal/logging"
	"github.com/gitshopapp/grocer/internal/models"
	"github.com/gitshopapp/grocer/internal/observability"
)

var (
	ErrInvalidRequest     = errors.New("invalid shipping request")
	ErrUnsupportedCourier = errors.New("unsupported courier")
	ErrNoShippingOptions  = errors.New("no shipping options available")
)

type Resolver struct {
	source   RateSource
	catalog  *Catalog
	validate *validator.Validate
	logger   *slog.Logger
}

func NewResolver(source RateSource, catalog *Catalog, logger *slog.Logger) *Resolver {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	return &Resolver{
		source:   source,
		catalog:  catalog,
		validate: validator.New(),
		logger:   logger,
	}
}

func (r *Resolver) loggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, r.logger)
}

func (r *Resolver) SupportsCourier(code string) bool {
	return r.catalog.Allowed(code)
}

func (r *Resolver) DefaultCourier() string {
	return r.catalog.Default()
}

func (r *Resolver) Catalog() *Catalog {
	return r.catalog
}

// Validate normalizes req and checks it against the courier allow-list.
func (r *Resolver) Validate(req Request) (Request, error) {
	req.Origin = strings.TrimSpace(req.Origin)
	req.Destination = strings.TrimSpace(req.Destination)
	req.Courier = normalizeCode(req.Courier)

	if err := r.validate.Struct(req); err != nil {
		return req, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if !r.catalog.Allowed(req.Courier) {
		return req, fmt.Errorf("%w: %s", ErrUnsupportedCourier, req.Courier)
	}
	return req, nil
}

// Resolve issues exactly one provider lookup. Results are never cached and
// options with a negative cost are dropped.
func (r *Resolver) Resolve(ctx context.Context, req Request) ([]models.ShippingOption, error) {
	span := sentry.StartSpan(
		ctx,
		"service.shipping.resolve",
		sentry.WithOpName("service.shipping"),
		sentry.WithDescription("Resolve"),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx = span.Context()

	logger := r.loggerFromContext(ctx)
	meter := observability.MeterFromContext(ctx)
	meter.Count("shipping.quote.requested", 1, sentry.WithAttributes(attribute.String("courier", req.Courier)))
	recordFailed := func(reason string) {
		meter.Count("shipping.quote.failed", 1, sentry.WithAttributes(
			attribute.String("reason", reason),
		))
	}

	req, err := r.Validate(req)
	if err != nil {
		recordFailed("invalid_request")
		return nil, err
	}

	raw, err := r.source.Cost(ctx, req)
	if err != nil {
		recordFailed("provider_error")
		logger.Warn("shipping quote failed", "error", err, "courier", req.Courier, "destination", req.Destination)
		return nil, err
	}

	options, err := ParseOptions(raw)
	if err != nil {
		recordFailed("decode_failed")
		return nil, err
	}

	valid := options[:0]
	for _, option := range options {
		if option.Cost < 0 {
			logger.Warn("dropping shipping option with negative cost", "courier", option.Courier, "service", option.Service, "cost", option.Cost)
			continue
		}
		valid = append(valid, option)
	}
	if len(valid) == 0 {
		recordFailed("no_options")
		return nil, fmt.Errorf("%w for courier %s", ErrNoShippingOptions, req.Courier)
	}

	span.Status = sentry.SpanStatusOK
	return valid, nil
}
