package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/gitshopapp/grocer/internal/logging"
	"github.com/gitshopapp/grocer/internal/shipping"
)

type shippingValidator interface {
	Validate(req shipping.Request) (shipping.Request, error)
}

// ShippingService backs the shipping cost proxy: it validates the request and
// passes the provider payload through untouched.
type ShippingService struct {
	validator shippingValidator
	source    shipping.RateSource
	logger    *slog.Logger
}

func NewShippingService(validator shippingValidator, source shipping.RateSource, logger *slog.Logger) (*ShippingService, error) {
	if validator == nil || source == nil {
		return nil, fmt.Errorf("shipping validator and rate source are required")
	}
	return &ShippingService{validator: validator, source: source, logger: logger}, nil
}

func (s *ShippingService) Cost(ctx context.Context, req shipping.Request) (json.RawMessage, error) {
	validated, err := s.validator.Validate(req)
	if err != nil {
		return nil, err
	}

	payload, err := s.source.Cost(ctx, validated)
	if err != nil {
		logging.FromContext(ctx, s.logger).Warn("shipping provider request failed",
			"error", err,
			"origin", validated.Origin,
			"destination", validated.Destination,
			"courier", validated.Courier,
		)
		return nil, err
	}
	return payload, nil
}
