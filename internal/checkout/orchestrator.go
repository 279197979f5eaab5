// Package checkout coordinates address, courier, shipping option and payment
// method selection into an order submission for one buyer session.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/gitshopapp/grocer/internal/logging"
	"github.com/gitshopapp/grocer/internal/models"
	"github.com/gitshopapp/grocer/internal/observability"
	"github.com/gitshopapp/grocer/internal/shipping"
)

type Backend interface {
	GetProfile(ctx context.Context) (*models.Profile, error)
	ListAddresses(ctx context.Context) ([]models.Address, error)
	GetCart(ctx context.Context) (*models.Cart, error)
	Checkout(ctx context.Context, req models.CheckoutRequest) (*models.Order, error)
}

type Quoter interface {
	Resolve(ctx context.Context, req shipping.Request) ([]models.ShippingOption, error)
	SupportsCourier(code string) bool
	DefaultCourier() string
}

// PaymentGateway opens a hosted payment page for an order.
type PaymentGateway interface {
	RedirectURL(ctx context.Context, order *models.Order) (string, error)
}

// Notifier is told about every order placed through checkout, after the
// submit guard is released. Implementations handle their own failures and
// must not hold up the buyer's request.
type Notifier interface {
	OrderPlaced(ctx context.Context, buyer models.Profile, order *models.Order)
}

type Options struct {
	Token    string
	Backend  Backend
	Gateway  PaymentGateway
	Quoter   Quoter
	Notifier Notifier
	Logger   *slog.Logger
}

// State is a point-in-time copy of the orchestrator.
type State struct {
	Loaded           bool                    `json:"loaded"`
	Profile          *models.Profile         `json:"profile,omitempty"`
	Cart             *models.Cart            `json:"cart,omitempty"`
	Addresses        []models.Address        `json:"addresses"`
	SelectedAddress  *models.Address         `json:"selectedAddress"`
	Courier          string                  `json:"courier"`
	ShippingOptions  []models.ShippingOption `json:"shippingOptions"`
	SelectedShipping *models.ShippingOption  `json:"selectedShipping"`
	PaymentMethod    models.PaymentMethod    `json:"paymentMethod"`
	Quoting          bool                    `json:"quoting"`
	QuoteError       string                  `json:"quoteError,omitempty"`
	Submitting       bool                    `json:"submitting"`
}

// Result tells the caller where to send the buyer after a submission.
// External is set for gateway pages that need a full navigation.
type Result struct {
	Order       *models.Order
	RedirectURL string
	External    bool
}

type quoteTicket struct {
	generation uint64
	req        shipping.Request
}

type Orchestrator struct {
	token    string
	backend  Backend
	gateway  PaymentGateway
	quoter   Quoter
	notifier Notifier
	logger   *slog.Logger

	mu            sync.Mutex
	loaded        bool
	profile       *models.Profile
	cart          *models.Cart
	addresses     *AddressBook
	courier       string
	options       []models.ShippingOption
	shipping      *models.ShippingOption
	paymentMethod models.PaymentMethod
	quoting       bool
	quoteErr      error
	submitting    bool
	generation    uint64
}

func New(opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = noopNotifier{}
	}
	courier := ""
	if opts.Quoter != nil {
		courier = opts.Quoter.DefaultCourier()
	}
	return &Orchestrator{
		token:         strings.TrimSpace(opts.Token),
		backend:       opts.Backend,
		gateway:       opts.Gateway,
		quoter:        opts.Quoter,
		notifier:      notifier,
		logger:        logger,
		addresses:     NewAddressBook(nil),
		courier:       courier,
		paymentMethod: models.PaymentMethodBankTransfer,
	}
}

func (o *Orchestrator) loggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, o.logger)
}

func (o *Orchestrator) Snapshot() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

func (o *Orchestrator) snapshotLocked() State {
	state := State{
		Loaded:          o.loaded,
		Profile:         o.profile,
		Cart:            o.cart,
		Addresses:       o.addresses.Addresses(),
		Courier:         o.courier,
		ShippingOptions: append([]models.ShippingOption(nil), o.options...),
		PaymentMethod:   o.paymentMethod,
		Quoting:         o.quoting,
		Submitting:      o.submitting,
	}
	if address, ok := o.addresses.Selected(); ok {
		state.SelectedAddress = &address
	}
	if o.shipping != nil {
		selected := *o.shipping
		state.SelectedShipping = &selected
	}
	if o.quoteErr != nil {
		state.QuoteError = o.quoteErr.Error()
	}
	return state
}

// EnsureLoaded loads the checkout on first use.
func (o *Orchestrator) EnsureLoaded(ctx context.Context) (State, error) {
	o.mu.Lock()
	loaded := o.loaded
	o.mu.Unlock()
	if loaded {
		return o.Snapshot(), nil
	}
	return o.Load(ctx)
}

// Load fetches profile, addresses and cart concurrently, then selects a
// destination and requests a quote for it. A failed quote is reported through
// State.QuoteError rather than failing the load.
func (o *Orchestrator) Load(ctx context.Context) (State, error) {
	if o.token == "" {
		return o.Snapshot(), ErrNotAuthenticated
	}

	var (
		profile   *models.Profile
		addresses []models.Address
		cart      *models.Cart
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := o.backend.GetProfile(gctx)
		if err != nil {
			return err
		}
		profile = p
		return nil
	})
	g.Go(func() error {
		a, err := o.backend.ListAddresses(gctx)
		if err != nil {
			return err
		}
		addresses = a
		return nil
	})
	g.Go(func() error {
		c, err := o.backend.GetCart(gctx)
		if err != nil {
			return err
		}
		cart = c
		return nil
	})
	if err := g.Wait(); err != nil {
		return o.Snapshot(), fmt.Errorf("load checkout: %w", err)
	}

	o.mu.Lock()
	previous, hadPrevious := o.addresses.Selected()
	o.profile = profile
	o.cart = cart
	o.addresses = NewAddressBook(addresses)
	o.loaded = true

	selected := false
	if hadPrevious {
		if _, err := o.addresses.Select(previous.ID); err == nil {
			selected = true
		}
	}
	if !selected {
		_, selected = o.addresses.SelectFirst()
	}
	ticket, quote := o.beginQuoteLocked()
	o.mu.Unlock()

	if selected && quote {
		if err := o.runQuote(ctx, ticket); err != nil && !errors.Is(err, ErrQuoteSuperseded) {
			o.loggerFromContext(ctx).Warn("initial shipping quote failed", "error", err)
		}
	}
	return o.Snapshot(), nil
}

// SelectAddress switches the destination. The previous shipping option is
// cleared before the new quote is requested.
func (o *Orchestrator) SelectAddress(ctx context.Context, id models.ID) (State, error) {
	o.mu.Lock()
	if !o.loaded {
		o.mu.Unlock()
		return o.Snapshot(), ErrNotLoaded
	}
	if _, err := o.addresses.Select(id); err != nil {
		state := o.snapshotLocked()
		o.mu.Unlock()
		return state, err
	}
	ticket, quote := o.beginQuoteLocked()
	o.mu.Unlock()

	if quote {
		if err := o.runQuote(ctx, ticket); err != nil {
			return o.Snapshot(), err
		}
	}
	return o.Snapshot(), nil
}

// SelectCourier switches the courier and re-quotes for the current destination.
func (o *Orchestrator) SelectCourier(ctx context.Context, code string) (State, error) {
	code = strings.ToLower(strings.TrimSpace(code))
	if !o.quoter.SupportsCourier(code) {
		return o.Snapshot(), fmt.Errorf("%w: %s", ErrUnsupportedCourier, code)
	}

	o.mu.Lock()
	o.courier = code
	if !o.loaded {
		state := o.snapshotLocked()
		o.mu.Unlock()
		return state, nil
	}
	ticket, quote := o.beginQuoteLocked()
	o.mu.Unlock()

	if quote {
		if err := o.runQuote(ctx, ticket); err != nil {
			return o.Snapshot(), err
		}
	}
	return o.Snapshot(), nil
}

func (o *Orchestrator) SelectShippingOption(service string) (State, error) {
	service = strings.TrimSpace(service)

	o.mu.Lock()
	defer o.mu.Unlock()
	for _, option := range o.options {
		if strings.EqualFold(option.Service, service) {
			selected := option
			o.shipping = &selected
			return o.snapshotLocked(), nil
		}
	}
	return o.snapshotLocked(), fmt.Errorf("%w: %s", ErrShippingOptionNotFound, service)
}

func (o *Orchestrator) SelectPaymentMethod(raw string) (State, error) {
	method, err := models.ParsePaymentMethod(raw)
	if err != nil {
		return o.Snapshot(), fmt.Errorf("%w: %v", ErrInvalidPaymentMethod, err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.paymentMethod = method
	return o.snapshotLocked(), nil
}

// beginQuoteLocked invalidates the current quote and returns the request for
// the next one, tagged with a fresh generation.
func (o *Orchestrator) beginQuoteLocked() (quoteTicket, bool) {
	o.shipping = nil
	o.options = nil
	o.quoteErr = nil
	o.generation++

	address, ok := o.addresses.Selected()
	if !ok || o.cart == nil {
		o.quoting = false
		return quoteTicket{}, false
	}
	o.quoting = true
	return quoteTicket{
		generation: o.generation,
		req: shipping.Request{
			Origin:      o.cart.OriginDistrictID.String(),
			Destination: address.District.ID.String(),
			Weight:      shipping.Grams(o.cart.ShippingWeight()),
			Courier:     o.courier,
		},
	}, true
}

func (o *Orchestrator) runQuote(ctx context.Context, ticket quoteTicket) error {
	options, err := o.quoter.Resolve(ctx, ticket.req)

	o.mu.Lock()
	defer o.mu.Unlock()
	if ticket.generation != o.generation {
		o.loggerFromContext(ctx).Debug("discarding stale shipping quote",
			"generation", ticket.generation,
			"current_generation", o.generation,
			"courier", ticket.req.Courier,
		)
		return ErrQuoteSuperseded
	}
	o.quoting = false
	if err != nil {
		o.quoteErr = err
		return err
	}
	o.options = options
	return nil
}

// Submit creates the order. Preconditions are checked in order and fail
// without any network call. Selections survive a failed submission.
func (o *Orchestrator) Submit(ctx context.Context) (Result, error) {
	span := sentry.StartSpan(
		ctx,
		"service.checkout.submit",
		sentry.WithOpName("service.checkout"),
		sentry.WithDescription("Submit"),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx = span.Context()

	logger := o.loggerFromContext(ctx)
	meter := observability.MeterFromContext(ctx)
	meter.Count("checkout.submit.received", 1)
	recordFailed := func(reason string) {
		meter.Count("checkout.submit.failed", 1, sentry.WithAttributes(
			attribute.String("reason", reason),
		))
	}

	o.mu.Lock()
	if o.submitting {
		o.mu.Unlock()
		recordFailed("already_submitting")
		return Result{}, ErrSubmitInProgress
	}
	req, err := o.checkoutRequestLocked()
	if err != nil {
		o.mu.Unlock()
		recordFailed("precondition")
		return Result{}, err
	}
	var buyer models.Profile
	if o.profile != nil {
		buyer = *o.profile
	}
	o.submitting = true
	o.mu.Unlock()

	released := false
	release := func() {
		if released {
			return
		}
		released = true
		o.mu.Lock()
		o.submitting = false
		o.mu.Unlock()
	}
	defer release()

	meter.SetAttributes(attribute.String("payment.method", string(req.PaymentMethod)))

	order, err := o.backend.Checkout(ctx, req)
	if err != nil {
		recordFailed("checkout_failed")
		logger.Error("order submission failed", "error", err)
		return Result{}, fmt.Errorf("%w: %w", ErrOrderSubmission, err)
	}
	if order.PaymentMethod == "" {
		order.PaymentMethod = req.PaymentMethod
	}

	// The cart is consumed once the order exists; the next view reloads it.
	o.mu.Lock()
	o.shipping = nil
	o.options = nil
	o.loaded = false
	o.generation++
	o.mu.Unlock()

	logger.Info("order created", "order_id", order.ID, "payment_method", req.PaymentMethod)

	if req.PaymentMethod.IsGateway() {
		redirect, err := o.gateway.RedirectURL(ctx, order)
		if err != nil {
			recordFailed("gateway_failed")
			logger.Error("gateway payment could not be started", "error", err, "order_id", order.ID)
			return Result{Order: order, RedirectURL: order.Path()}, fmt.Errorf("%w: %w", ErrGatewayUnavailable, err)
		}
		release()
		o.notifier.OrderPlaced(ctx, buyer, order)
		meter.Count("checkout.submit.succeeded", 1)
		span.Status = sentry.SpanStatusOK
		return Result{Order: order, RedirectURL: redirect, External: true}, nil
	}

	release()
	o.notifier.OrderPlaced(ctx, buyer, order)
	meter.Count("checkout.submit.succeeded", 1)
	span.Status = sentry.SpanStatusOK
	return Result{Order: order, RedirectURL: order.Path()}, nil
}

func (o *Orchestrator) checkoutRequestLocked() (models.CheckoutRequest, error) {
	if o.token == "" {
		return models.CheckoutRequest{}, ErrNotAuthenticated
	}
	address, ok := o.addresses.Selected()
	if !ok {
		return models.CheckoutRequest{}, ErrAddressRequired
	}
	if o.shipping == nil {
		return models.CheckoutRequest{}, ErrShippingRequired
	}
	if o.cart == nil {
		return models.CheckoutRequest{}, ErrNotLoaded
	}
	return models.CheckoutRequest{
		StoreID:       o.cart.StoreID,
		CouponCodes:   []string{},
		PaymentMethod: o.paymentMethod,
		Shipment:      models.ShipmentFromOption(*o.shipping),
		AddressID:     address.ID,
	}, nil
}

type noopNotifier struct{}

func (noopNotifier) OrderPlaced(context.Context, models.Profile, *models.Order) {}
