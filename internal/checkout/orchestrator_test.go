package checkout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gitshopapp/grocer/internal/models"
	"github.com/gitshopapp/grocer/internal/shipping"
)

type fakeBackend struct {
	mu sync.Mutex

	profile   *models.Profile
	addresses []models.Address
	cart      *models.Cart
	loadErr   error

	order       *models.Order
	checkoutErr error
	lastRequest models.CheckoutRequest

	checkoutStarted chan struct{}
	checkoutGate    chan struct{}

	calls         int
	checkoutCalls int
}

func (f *fakeBackend) count() {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
}

func (f *fakeBackend) GetProfile(context.Context) (*models.Profile, error) {
	f.count()
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return f.profile, nil
}

func (f *fakeBackend) ListAddresses(context.Context) ([]models.Address, error) {
	f.count()
	return f.addresses, nil
}

func (f *fakeBackend) GetCart(context.Context) (*models.Cart, error) {
	f.count()
	return f.cart, nil
}

func (f *fakeBackend) Checkout(_ context.Context, req models.CheckoutRequest) (*models.Order, error) {
	f.mu.Lock()
	f.calls++
	f.checkoutCalls++
	f.lastRequest = req
	started, gate := f.checkoutStarted, f.checkoutGate
	f.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	if f.checkoutErr != nil {
		return nil, f.checkoutErr
	}
	order := *f.order
	return &order, nil
}

func (f *fakeBackend) networkCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeQuoter struct {
	mu       sync.Mutex
	requests []shipping.Request
	options  map[string][]models.ShippingOption
	err      error
	gates    map[string]chan struct{}
	started  chan string
}

func (q *fakeQuoter) Resolve(_ context.Context, req shipping.Request) ([]models.ShippingOption, error) {
	q.mu.Lock()
	q.requests = append(q.requests, req)
	gate := q.gates[req.Courier]
	options := q.options[req.Courier]
	err := q.err
	q.mu.Unlock()

	if gate != nil {
		q.started <- req.Courier
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return options, nil
}

func (q *fakeQuoter) SupportsCourier(code string) bool {
	switch code {
	case "jne", "jnt", "pos":
		return true
	default:
		return false
	}
}

func (q *fakeQuoter) DefaultCourier() string {
	return "jne"
}

func (q *fakeQuoter) requestLog() []shipping.Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]shipping.Request(nil), q.requests...)
}

type fakeGateway struct {
	url   string
	err   error
	calls int
}

func (g *fakeGateway) RedirectURL(context.Context, *models.Order) (string, error) {
	g.calls++
	return g.url, g.err
}

type recordingNotifier struct {
	mu     sync.Mutex
	orders []models.ID
}

func (n *recordingNotifier) OrderPlaced(_ context.Context, _ models.Profile, order *models.Order) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.orders = append(n.orders, order.ID)
}

// guardNotifier records whether the submit guard was still held when the
// order notification went out.
type guardNotifier struct {
	o    *Orchestrator
	held []bool
}

func (n *guardNotifier) OrderPlaced(context.Context, models.Profile, *models.Order) {
	n.o.mu.Lock()
	defer n.o.mu.Unlock()
	n.held = append(n.held, n.o.submitting)
}

func testBackend() *fakeBackend {
	return &fakeBackend{
		profile: &models.Profile{ID: "u1", Name: "Sari", Email: "sari@example.com"},
		addresses: []models.Address{
			{ID: "a1", District: models.Location{ID: "D1", Name: "Menteng"}},
			{ID: "a2", District: models.Location{ID: "D2", Name: "Gambir"}},
		},
		cart: &models.Cart{
			StoreID:          "s1",
			OriginDistrictID: "O1",
			TotalWeightGrams: 2000,
		},
		order: &models.Order{ID: "42", Status: models.StatusWaitingForPayment},
	}
}

func testQuoter() *fakeQuoter {
	return &fakeQuoter{
		options: map[string][]models.ShippingOption{
			"jne": {
				{Courier: "jne", Service: "REG", Cost: 18000, ETD: "2-3 days"},
				{Courier: "jne", Service: "YES", Cost: 30000, ETD: "1 days"},
			},
			"jnt": {{Courier: "jnt", Service: "EZ", Cost: 17000, ETD: "2-4 days"}},
			"pos": {{Courier: "pos", Service: "Kilat", Cost: 15000, ETD: "3 days"}},
		},
	}
}

func newTestOrchestrator(token string, backend *fakeBackend, quoter *fakeQuoter, gateway *fakeGateway, notifier Notifier) *Orchestrator {
	return New(Options{
		Token:    token,
		Backend:  backend,
		Gateway:  gateway,
		Quoter:   quoter,
		Notifier: notifier,
	})
}

func TestLoadSelectsFirstAddressAndQuotes(t *testing.T) {
	t.Parallel()

	backend := testBackend()
	quoter := testQuoter()
	o := newTestOrchestrator("token", backend, quoter, &fakeGateway{}, nil)

	state, err := o.Load(t.Context())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if state.SelectedAddress == nil || state.SelectedAddress.ID != "a1" {
		t.Fatalf("expected first address selected, got %+v", state.SelectedAddress)
	}
	if len(state.ShippingOptions) != 2 {
		t.Fatalf("expected 2 shipping options, got %d", len(state.ShippingOptions))
	}
	if state.PaymentMethod != models.PaymentMethodBankTransfer {
		t.Fatalf("expected bank transfer default, got %s", state.PaymentMethod)
	}

	requests := quoter.requestLog()
	if len(requests) != 1 {
		t.Fatalf("expected one quote, got %d", len(requests))
	}
	want := shipping.Request{Origin: "O1", Destination: "D1", Weight: 2000, Courier: "jne"}
	if requests[0] != want {
		t.Fatalf("expected quote %+v, got %+v", want, requests[0])
	}
	if requests[0].Weight.String() != "2000" {
		t.Fatalf("expected weight to format as 2000, got %q", requests[0].Weight.String())
	}
}

func TestLoadWithoutAddressesSkipsQuote(t *testing.T) {
	t.Parallel()

	backend := testBackend()
	backend.addresses = nil
	quoter := testQuoter()
	o := newTestOrchestrator("token", backend, quoter, &fakeGateway{}, nil)

	state, err := o.Load(t.Context())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if state.SelectedAddress != nil {
		t.Fatalf("expected no selected address, got %+v", state.SelectedAddress)
	}
	if len(quoter.requestLog()) != 0 {
		t.Fatal("expected no quote without a destination")
	}
}

func TestLoadRequiresToken(t *testing.T) {
	t.Parallel()

	backend := testBackend()
	o := newTestOrchestrator("", backend, testQuoter(), &fakeGateway{}, nil)

	if _, err := o.Load(t.Context()); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
	if backend.networkCalls() != 0 {
		t.Fatalf("expected no backend calls, got %d", backend.networkCalls())
	}
}

func TestLoadPropagatesBackendFailure(t *testing.T) {
	t.Parallel()

	backend := testBackend()
	backend.loadErr = errors.New("profile unavailable")
	o := newTestOrchestrator("token", backend, testQuoter(), &fakeGateway{}, nil)

	state, err := o.Load(t.Context())
	if err == nil {
		t.Fatal("expected load error")
	}
	if state.Loaded {
		t.Fatal("expected checkout to remain unloaded")
	}
}

func TestLoadReportsQuoteFailureInState(t *testing.T) {
	t.Parallel()

	quoter := testQuoter()
	quoter.err = &shipping.ProviderError{Status: 400, Message: "Invalid destination"}
	o := newTestOrchestrator("token", testBackend(), quoter, &fakeGateway{}, nil)

	state, err := o.Load(t.Context())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if state.QuoteError != "Invalid destination" {
		t.Fatalf("expected quote error in state, got %q", state.QuoteError)
	}
	if state.Quoting {
		t.Fatal("expected quoting to finish")
	}
}

func TestCourierChangeClearsSelectionAndRequotes(t *testing.T) {
	t.Parallel()

	quoter := testQuoter()
	o := newTestOrchestrator("token", testBackend(), quoter, &fakeGateway{}, nil)
	if _, err := o.Load(t.Context()); err != nil {
		t.Fatalf("Load: %v", err)
	}

	state, err := o.SelectShippingOption("REG")
	if err != nil {
		t.Fatalf("SelectShippingOption: %v", err)
	}
	if state.SelectedShipping == nil || state.SelectedShipping.Service != "REG" {
		t.Fatalf("expected REG selected, got %+v", state.SelectedShipping)
	}

	state, err = o.SelectCourier(t.Context(), "JNT")
	if err != nil {
		t.Fatalf("SelectCourier: %v", err)
	}
	if state.SelectedShipping != nil {
		t.Fatalf("expected shipping selection cleared, got %+v", state.SelectedShipping)
	}
	if state.Courier != "jnt" {
		t.Fatalf("expected courier jnt, got %q", state.Courier)
	}

	requests := quoter.requestLog()
	last := requests[len(requests)-1]
	if last.Courier != "jnt" || last.Destination != "D1" || last.Weight != 2000 {
		t.Fatalf("unexpected quote after courier change: %+v", last)
	}
	if len(state.ShippingOptions) != 1 || state.ShippingOptions[0].Service != "EZ" {
		t.Fatalf("expected jnt options, got %+v", state.ShippingOptions)
	}
}

func TestSelectCourierRejectsUnknownCourier(t *testing.T) {
	t.Parallel()

	quoter := testQuoter()
	o := newTestOrchestrator("token", testBackend(), quoter, &fakeGateway{}, nil)
	if _, err := o.Load(t.Context()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := o.SelectShippingOption("REG"); err != nil {
		t.Fatalf("SelectShippingOption: %v", err)
	}

	state, err := o.SelectCourier(t.Context(), "dhl")
	if !errors.Is(err, ErrUnsupportedCourier) {
		t.Fatalf("expected ErrUnsupportedCourier, got %v", err)
	}
	if state.Courier != "jne" || state.SelectedShipping == nil {
		t.Fatalf("expected state untouched, got %+v", state)
	}
	if len(quoter.requestLog()) != 1 {
		t.Fatal("expected no additional quote")
	}
}

func TestAddressChangeClearsShippingBeforeQuoteResolves(t *testing.T) {
	t.Parallel()

	quoter := testQuoter()
	o := newTestOrchestrator("token", testBackend(), quoter, &fakeGateway{}, nil)
	if _, err := o.Load(t.Context()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := o.SelectShippingOption("YES"); err != nil {
		t.Fatalf("SelectShippingOption: %v", err)
	}

	gate := make(chan struct{})
	quoter.mu.Lock()
	quoter.gates = map[string]chan struct{}{"jne": gate}
	quoter.started = make(chan string, 1)
	quoter.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		_, err := o.SelectAddress(context.Background(), "a2")
		done <- err
	}()

	<-quoter.started
	state := o.Snapshot()
	if state.SelectedShipping != nil {
		t.Fatalf("expected shipping cleared while quote is pending, got %+v", state.SelectedShipping)
	}
	if !state.Quoting {
		t.Fatal("expected quoting in progress")
	}
	if state.SelectedAddress == nil || state.SelectedAddress.ID != "a2" {
		t.Fatalf("expected a2 selected, got %+v", state.SelectedAddress)
	}

	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("SelectAddress: %v", err)
	}
	requests := quoter.requestLog()
	if got := requests[len(requests)-1].Destination; got != "D2" {
		t.Fatalf("expected quote for D2, got %s", got)
	}
}

func TestStaleQuoteIsDiscarded(t *testing.T) {
	t.Parallel()

	quoter := testQuoter()
	o := newTestOrchestrator("token", testBackend(), quoter, &fakeGateway{}, nil)
	if _, err := o.Load(t.Context()); err != nil {
		t.Fatalf("Load: %v", err)
	}

	gate := make(chan struct{})
	quoter.mu.Lock()
	quoter.gates = map[string]chan struct{}{"pos": gate}
	quoter.started = make(chan string, 1)
	quoter.mu.Unlock()

	stale := make(chan error, 1)
	go func() {
		_, err := o.SelectCourier(context.Background(), "pos")
		stale <- err
	}()
	<-quoter.started

	state, err := o.SelectCourier(t.Context(), "jnt")
	if err != nil {
		t.Fatalf("SelectCourier jnt: %v", err)
	}
	if len(state.ShippingOptions) != 1 || state.ShippingOptions[0].Courier != "jnt" {
		t.Fatalf("expected jnt options, got %+v", state.ShippingOptions)
	}

	close(gate)
	if err := <-stale; !errors.Is(err, ErrQuoteSuperseded) {
		t.Fatalf("expected ErrQuoteSuperseded for the older quote, got %v", err)
	}

	state = o.Snapshot()
	if state.Courier != "jnt" {
		t.Fatalf("expected courier jnt, got %q", state.Courier)
	}
	if len(state.ShippingOptions) != 1 || state.ShippingOptions[0].Courier != "jnt" {
		t.Fatalf("stale quote overwrote options: %+v", state.ShippingOptions)
	}
}

func TestSelectAddressUnknownLeavesState(t *testing.T) {
	t.Parallel()

	o := newTestOrchestrator("token", testBackend(), testQuoter(), &fakeGateway{}, nil)
	if _, err := o.Load(t.Context()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := o.SelectShippingOption("REG"); err != nil {
		t.Fatalf("SelectShippingOption: %v", err)
	}

	state, err := o.SelectAddress(t.Context(), "missing")
	if !errors.Is(err, ErrAddressNotFound) {
		t.Fatalf("expected ErrAddressNotFound, got %v", err)
	}
	if state.SelectedShipping == nil || state.SelectedAddress.ID != "a1" {
		t.Fatalf("expected selection untouched, got %+v", state)
	}
}

func TestSelectAddressBeforeLoad(t *testing.T) {
	t.Parallel()

	o := newTestOrchestrator("token", testBackend(), testQuoter(), &fakeGateway{}, nil)
	if _, err := o.SelectAddress(t.Context(), "a1"); !errors.Is(err, ErrNotLoaded) {
		t.Fatalf("expected ErrNotLoaded, got %v", err)
	}
}

func TestSelectPaymentMethod(t *testing.T) {
	t.Parallel()

	o := newTestOrchestrator("token", testBackend(), testQuoter(), &fakeGateway{}, nil)

	state, err := o.SelectPaymentMethod("snap")
	if err != nil {
		t.Fatalf("SelectPaymentMethod: %v", err)
	}
	if state.PaymentMethod != models.PaymentMethodSnap {
		t.Fatalf("expected SNAP, got %s", state.PaymentMethod)
	}
	if _, err := o.SelectPaymentMethod("cash"); !errors.Is(err, ErrInvalidPaymentMethod) {
		t.Fatalf("expected ErrInvalidPaymentMethod, got %v", err)
	}
	if got := o.Snapshot().PaymentMethod; got != models.PaymentMethodSnap {
		t.Fatalf("expected method unchanged after invalid input, got %s", got)
	}
}

func TestSubmitPreconditionsMakeNoNetworkCalls(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		token   string
		prepare func(t *testing.T, o *Orchestrator, quoter *fakeQuoter)
		wantErr error
	}{
		{
			name:    "not authenticated",
			token:   "",
			prepare: func(*testing.T, *Orchestrator, *fakeQuoter) {},
			wantErr: ErrNotAuthenticated,
		},
		{
			name:    "no address",
			token:   "token",
			prepare: func(*testing.T, *Orchestrator, *fakeQuoter) {},
			wantErr: ErrAddressRequired,
		},
		{
			name:  "no shipping option",
			token: "token",
			prepare: func(t *testing.T, o *Orchestrator, _ *fakeQuoter) {
				if _, err := o.Load(t.Context()); err != nil {
					t.Fatalf("Load: %v", err)
				}
			},
			wantErr: ErrShippingRequired,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			backend := testBackend()
			quoter := testQuoter()
			gateway := &fakeGateway{url: "https://pay.example.com/x"}
			o := newTestOrchestrator(tt.token, backend, quoter, gateway, nil)
			tt.prepare(t, o, quoter)

			callsBefore := backend.networkCalls()
			quotesBefore := len(quoter.requestLog())

			_, err := o.Submit(t.Context())
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if err.Error() != tt.wantErr.Error() {
				t.Fatalf("expected message %q, got %q", tt.wantErr.Error(), err.Error())
			}
			if backend.networkCalls() != callsBefore || len(quoter.requestLog()) != quotesBefore || gateway.calls != 0 {
				t.Fatal("expected no network calls on precondition failure")
			}
		})
	}
}

func readyOrchestrator(t *testing.T, backend *fakeBackend, gateway *fakeGateway, notifier Notifier) *Orchestrator {
	t.Helper()

	o := newTestOrchestrator("token", backend, testQuoter(), gateway, notifier)
	if _, err := o.Load(t.Context()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := o.SelectShippingOption("REG"); err != nil {
		t.Fatalf("SelectShippingOption: %v", err)
	}
	return o
}

func TestSubmitBankTransferNavigatesToOrder(t *testing.T) {
	t.Parallel()

	backend := testBackend()
	gateway := &fakeGateway{url: "https://pay.example.com/x"}
	notifier := &recordingNotifier{}
	o := readyOrchestrator(t, backend, gateway, notifier)

	result, err := o.Submit(t.Context())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if result.RedirectURL != "/orders/42" || result.External {
		t.Fatalf("expected in-app navigation to /orders/42, got %+v", result)
	}
	if gateway.calls != 0 {
		t.Fatal("expected no gateway call for bank transfer")
	}

	req := backend.lastRequest
	if req.StoreID != "s1" || req.AddressID != "a1" || req.PaymentMethod != models.PaymentMethodBankTransfer {
		t.Fatalf("unexpected checkout request: %+v", req)
	}
	if req.CouponCodes == nil || len(req.CouponCodes) != 0 {
		t.Fatalf("expected empty coupon list, got %#v", req.CouponCodes)
	}
	wantShipment := models.Shipment{Courier: "jne", Service: "REG", Cost: 18000, Days: "2-3 days"}
	if req.Shipment != wantShipment {
		t.Fatalf("expected shipment %+v, got %+v", wantShipment, req.Shipment)
	}
	if len(notifier.orders) != 1 || notifier.orders[0] != "42" {
		t.Fatalf("expected notification for order 42, got %v", notifier.orders)
	}
	if o.Snapshot().Loaded {
		t.Fatal("expected checkout to reload after a placed order")
	}
}

func TestSubmitNotifiesAfterReleasingGuard(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		gateway *fakeGateway
		method  string
	}{
		{name: "bank transfer", gateway: &fakeGateway{}},
		{name: "gateway", gateway: &fakeGateway{url: "https://pay.example.com/snap/abc"}, method: "SNAP"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			notifier := &guardNotifier{}
			o := readyOrchestrator(t, testBackend(), tt.gateway, notifier)
			notifier.o = o
			if tt.method != "" {
				if _, err := o.SelectPaymentMethod(tt.method); err != nil {
					t.Fatalf("SelectPaymentMethod: %v", err)
				}
			}

			if _, err := o.Submit(t.Context()); err != nil {
				t.Fatalf("Submit: %v", err)
			}
			if len(notifier.held) != 1 {
				t.Fatalf("expected one notification, got %d", len(notifier.held))
			}
			if notifier.held[0] {
				t.Fatal("expected the submit guard to be released before notifying")
			}
		})
	}
}

func TestSubmitGatewayRedirectsExternally(t *testing.T) {
	t.Parallel()

	backend := testBackend()
	gateway := &fakeGateway{url: "https://pay.example.com/snap/abc"}
	o := readyOrchestrator(t, backend, gateway, nil)
	if _, err := o.SelectPaymentMethod("SNAP"); err != nil {
		t.Fatalf("SelectPaymentMethod: %v", err)
	}

	result, err := o.Submit(t.Context())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !result.External || result.RedirectURL != "https://pay.example.com/snap/abc" {
		t.Fatalf("expected external gateway redirect, got %+v", result)
	}
	if gateway.calls != 1 {
		t.Fatalf("expected one gateway call, got %d", gateway.calls)
	}
	if backend.lastRequest.PaymentMethod != models.PaymentMethodSnap {
		t.Fatalf("expected SNAP payment method, got %s", backend.lastRequest.PaymentMethod)
	}
}

func TestSubmitGatewayFailureReturnsOrder(t *testing.T) {
	t.Parallel()

	gateway := &fakeGateway{err: errors.New("gateway down")}
	o := readyOrchestrator(t, testBackend(), gateway, nil)
	if _, err := o.SelectPaymentMethod("SNAP"); err != nil {
		t.Fatalf("SelectPaymentMethod: %v", err)
	}

	result, err := o.Submit(t.Context())
	if !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("expected ErrGatewayUnavailable, got %v", err)
	}
	if result.Order == nil || result.RedirectURL != "/orders/42" || result.External {
		t.Fatalf("expected fallback to order page, got %+v", result)
	}
}

func TestSubmitFailurePreservesSelections(t *testing.T) {
	t.Parallel()

	backend := testBackend()
	backend.checkoutErr = errors.New("connection reset")
	o := readyOrchestrator(t, backend, &fakeGateway{}, nil)

	_, err := o.Submit(t.Context())
	if !errors.Is(err, ErrOrderSubmission) {
		t.Fatalf("expected ErrOrderSubmission, got %v", err)
	}

	state := o.Snapshot()
	if state.SelectedAddress == nil || state.SelectedShipping == nil || !state.Loaded {
		t.Fatalf("expected selections intact after failure, got %+v", state)
	}
	if state.Submitting {
		t.Fatal("expected submitting flag cleared")
	}
}

func TestSubmitRejectsConcurrentSubmission(t *testing.T) {
	t.Parallel()

	backend := testBackend()
	backend.checkoutStarted = make(chan struct{}, 1)
	backend.checkoutGate = make(chan struct{})
	o := readyOrchestrator(t, backend, &fakeGateway{}, nil)

	first := make(chan error, 1)
	go func() {
		_, err := o.Submit(context.Background())
		first <- err
	}()

	select {
	case <-backend.checkoutStarted:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for first submission")
	}

	if !o.Snapshot().Submitting {
		t.Fatal("expected submitting flag while in flight")
	}
	if _, err := o.Submit(t.Context()); !errors.Is(err, ErrSubmitInProgress) {
		t.Fatalf("expected ErrSubmitInProgress, got %v", err)
	}

	close(backend.checkoutGate)
	if err := <-first; err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	if backend.checkoutCalls != 1 {
		t.Fatalf("expected exactly one checkout call, got %d", backend.checkoutCalls)
	}
}

func TestRegistryReusesOrchestratorPerSession(t *testing.T) {
	t.Parallel()

	built := 0
	registry, err := NewRegistry(2, func(token string) *Orchestrator {
		built++
		return newTestOrchestrator(token, testBackend(), testQuoter(), &fakeGateway{}, nil)
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	first := registry.Get("session-1", "token-a")
	if again := registry.Get("session-1", "token-a"); again != first {
		t.Fatal("expected the same orchestrator for the same session")
	}
	if relogin := registry.Get("session-1", "token-b"); relogin == first {
		t.Fatal("expected a fresh orchestrator after the token changed")
	}

	registry.Get("session-2", "token-c")
	registry.Get("session-3", "token-d")
	if registry.Len() != 2 {
		t.Fatalf("expected capacity-bound registry, got %d entries", registry.Len())
	}

	registry.Forget("session-3")
	if registry.Len() != 1 {
		t.Fatalf("expected 1 entry after Forget, got %d", registry.Len())
	}
	if built != 4 {
		t.Fatalf("expected 4 orchestrators built, got %d", built)
	}
}

func TestNewRegistryRequiresFactory(t *testing.T) {
	t.Parallel()

	if _, err := NewRegistry(1, nil); err == nil {
		t.Fatal("expected error for nil factory")
	}
}
