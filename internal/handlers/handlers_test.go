package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"github.com/gitshopapp/grocer/internal/auth"
	"github.com/gitshopapp/grocer/internal/backend"
	"github.com/gitshopapp/grocer/internal/checkout"
	"github.com/gitshopapp/grocer/internal/config"
	"github.com/gitshopapp/grocer/internal/crypto"
	"github.com/gitshopapp/grocer/internal/models"
	"github.com/gitshopapp/grocer/internal/payment"
	"github.com/gitshopapp/grocer/internal/services"
	"github.com/gitshopapp/grocer/internal/session"
	"github.com/gitshopapp/grocer/internal/shipping"
)

const (
	testEncryptionKey = "0123456789abcdef0123456789abcdef"
	ratesPayload      = `{"rajaongkir":{"status":{"code":200,"description":"OK"},"results":[{"code":"jne","costs":[{"service":"REG","description":"Layanan Reguler","cost":[{"value":18000,"etd":"2-3"}]}]}]}}`
)

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00\x1f\x15\xc4\x89")

type fakeBackend struct {
	mu       sync.Mutex
	profile  models.Profile
	orders   map[models.ID]*models.Order
	uploads  []models.ProofImage
	placed   []models.CheckoutRequest
	mutation []string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		profile: models.Profile{ID: "u-1", Name: "Sari", Email: "sari@example.com"},
		orders:  map[models.ID]*models.Order{},
	}
}

func (f *fakeBackend) put(order *models.Order) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders[order.ID] = order
}

func (f *fakeBackend) GetProfile(context.Context) (*models.Profile, error) {
	profile := f.profile
	return &profile, nil
}

func (f *fakeBackend) ListAddresses(context.Context) ([]models.Address, error) {
	return []models.Address{{
		ID:        "addr-1",
		District:  models.Location{ID: "152", Name: "Menteng"},
		Address:   "Jl. Cikini Raya 10",
		IsDefault: true,
	}}, nil
}

func (f *fakeBackend) GetCart(context.Context) (*models.Cart, error) {
	return &models.Cart{
		StoreID:          "store-1",
		OriginDistrictID: "501",
		Items:            []models.CartItem{{ProductID: "p-1", ProductName: "Beras", Quantity: 1, UnitPrice: 75000, Subtotal: 75000, WeightGrams: 5000}},
	}, nil
}

func (f *fakeBackend) Checkout(_ context.Context, req models.CheckoutRequest) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placed = append(f.placed, req)
	expiry := time.Now().Add(24 * time.Hour)
	order := &models.Order{
		ID:            "77",
		StoreID:       req.StoreID,
		Status:        models.StatusWaitingForPayment,
		PaymentMethod: req.PaymentMethod,
		FinalPrice:    93000,
		ExpiredAt:     &expiry,
	}
	f.orders[order.ID] = order
	return order, nil
}

func (f *fakeBackend) GetOrder(_ context.Context, id models.ID) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	order, ok := f.orders[id]
	if !ok {
		return nil, &backend.APIError{StatusCode: http.StatusNotFound, Message: "order not found"}
	}
	copied := *order
	return &copied, nil
}

func (f *fakeBackend) ListOrders(context.Context, models.OrderFilter) ([]models.Order, error) {
	return nil, nil
}

func (f *fakeBackend) setStatus(id models.ID, status models.OrderStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mutation = append(f.mutation, id.String()+":"+status.String())
	order, ok := f.orders[id]
	if !ok {
		return services.ErrOrderNotFound
	}
	order.Status = status
	return nil
}

func (f *fakeBackend) CancelOrder(_ context.Context, id models.ID) error {
	return f.setStatus(id, models.StatusCancelled)
}

func (f *fakeBackend) ConfirmOrder(_ context.Context, id models.ID) error {
	return f.setStatus(id, models.StatusOrderConfirmation)
}

func (f *fakeBackend) UploadPaymentProof(_ context.Context, id models.ID, image models.ProofImage) error {
	f.mu.Lock()
	f.uploads = append(f.uploads, image)
	f.mu.Unlock()
	return f.setStatus(id, models.StatusWaitingConfirmationPayment)
}

func (f *fakeBackend) GetStoreOrder(ctx context.Context, id models.ID) (*models.Order, error) {
	return f.GetOrder(ctx, id)
}

func (f *fakeBackend) ApprovePayment(_ context.Context, id models.ID) error {
	return f.setStatus(id, models.StatusInProcess)
}

func (f *fakeBackend) DeclinePayment(_ context.Context, id models.ID) error {
	return f.setStatus(id, models.StatusWaitingForPayment)
}

func (f *fakeBackend) CancelStoreOrder(_ context.Context, id models.ID) error {
	return f.setStatus(id, models.StatusCancelled)
}

func (f *fakeBackend) DeliverOrder(_ context.Context, id models.ID) error {
	return f.setStatus(id, models.StatusDelivered)
}

func (f *fakeBackend) ListStoreOrders(context.Context, models.OrderFilter) ([]models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	orders := make([]models.Order, 0, len(f.orders))
	for _, order := range f.orders {
		orders = append(orders, *order)
	}
	return orders, nil
}

func (f *fakeBackend) StatusLog(context.Context, models.ID) ([]models.StatusLogEntry, error) {
	return []models.StatusLogEntry{}, nil
}

type fakeRates struct {
	payload json.RawMessage
	err     error
}

func (f fakeRates) Cost(context.Context, shipping.Request) (json.RawMessage, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.payload, nil
}

func newTestHandlers(t *testing.T, fake *fakeBackend, rates shipping.RateSource) *Handlers {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	resolver := shipping.NewResolver(rates, nil, logger)

	registry, err := checkout.NewRegistry(16, func(token string) *checkout.Orchestrator {
		return checkout.New(checkout.Options{Token: token, Backend: fake, Quoter: resolver, Logger: logger})
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	checkoutService, err := services.NewCheckoutService(registry, logger)
	if err != nil {
		t.Fatalf("NewCheckoutService: %v", err)
	}
	shippingService, err := services.NewShippingService(resolver, rates, logger)
	if err != nil {
		t.Fatalf("NewShippingService: %v", err)
	}
	orderService, err := services.NewOrderService(func(string) services.BuyerBackend { return fake }, nil, logger)
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}
	adminService, err := services.NewAdminService(func(string) services.AdminBackend { return fake }, nil, nil, logger)
	if err != nil {
		t.Fatalf("NewAdminService: %v", err)
	}

	store, err := session.NewMemoryStore(16)
	if err != nil {
		t.Fatalf("NewMemoryStore: %v", err)
	}
	sealer, err := crypto.NewSealer(testEncryptionKey)
	if err != nil {
		t.Fatalf("NewSealer: %v", err)
	}

	h, err := New(Dependencies{
		Config:          &config.Config{BaseURL: "https://shop.grocer.test"},
		Verifier:        auth.NewVerifier(""),
		Profiles:        func(string) ProfileFetcher { return fake },
		SessionManager:  session.NewManager(store, sealer, true),
		CheckoutService: checkoutService,
		ShippingService: shippingService,
		OrderService:    orderService,
		AdminService:    adminService,
		Logger:          logger,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return h
}

// login creates a session and returns its cookie.
func login(t *testing.T, h *Handlers, role string) *http.Cookie {
	t.Helper()

	rec := httptest.NewRecorder()
	if _, err := h.sessionManager.CreateSession(t.Context(), rec, &session.Data{UserID: "u-1", Role: role}, "tok-"+role, time.Time{}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == session.CookieName {
			return cookie
		}
	}
	t.Fatal("session cookie not set")
	return nil
}

func newRequest(method, target string, body io.Reader, cookie *http.Cookie, vars map[string]string) *http.Request {
	req := httptest.NewRequest(method, target, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	if vars != nil {
		req = mux.SetURLVars(req, vars)
	}
	return req
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestErrorStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantMsg    string
	}{
		{name: "no session", err: session.ErrNoSession, wantStatus: http.StatusUnauthorized, wantMsg: "no session"},
		{name: "address required", err: checkout.ErrAddressRequired, wantStatus: http.StatusUnprocessableEntity, wantMsg: "select shipping address"},
		{name: "wrapped expiry", err: errors.Join(errors.New("upload"), payment.ErrUploadExpired), wantStatus: http.StatusGone, wantMsg: payment.ErrUploadExpired.Error()},
		{name: "too large", err: payment.ErrFileTooLarge, wantStatus: http.StatusRequestEntityTooLarge, wantMsg: payment.ErrFileTooLarge.Error()},
		{name: "provider status", err: &shipping.ProviderError{Status: http.StatusBadRequest, Message: "Invalid key"}, wantStatus: http.StatusBadRequest, wantMsg: "Invalid key"},
		{name: "provider without status", err: &shipping.ProviderError{Message: "request failed"}, wantStatus: http.StatusInternalServerError, wantMsg: "request failed"},
		{name: "order not found", err: services.ErrOrderNotFound, wantStatus: http.StatusNotFound, wantMsg: "order not found"},
		{name: "refused transition", err: services.UserError{Message: "only delivered orders can be confirmed", Err: fmt.Errorf("%w: IN_PROCESS", services.ErrOrderStatusConflict)}, wantStatus: http.StatusConflict, wantMsg: "only delivered orders can be confirmed"},
		{name: "plain user error", err: services.UserError{Message: "pick a store"}, wantStatus: http.StatusBadRequest, wantMsg: "pick a store"},
		{name: "session store down", err: fmt.Errorf("create session: %w", session.ErrStoreUnavailable), wantStatus: http.StatusServiceUnavailable, wantMsg: session.ErrStoreUnavailable.Error()},
		{name: "unknown", err: errors.New("boom"), wantStatus: http.StatusInternalServerError, wantMsg: genericErrorMessage},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			status, msg := errorStatus(tt.err)
			if status != tt.wantStatus || msg != tt.wantMsg {
				t.Fatalf("errorStatus(%v) = %d %q, want %d %q", tt.err, status, msg, tt.wantStatus, tt.wantMsg)
			}
		})
	}
}

func TestOrderFilterFromQuery(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		query   string
		wantErr bool
		check   func(t *testing.T, f models.OrderFilter)
	}{
		{
			name:  "dates and id",
			query: "orderId=42&startDate=2026-03-01&endDate=2026-03-02",
			check: func(t *testing.T, f models.OrderFilter) {
				if f.OrderID != "42" {
					t.Fatalf("unexpected order id %q", f.OrderID)
				}
				wantEnd := time.Date(2026, 3, 2, 23, 59, 59, int(time.Second-time.Nanosecond), time.UTC)
				if !f.StartDate.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)) || !f.EndDate.Equal(wantEnd) {
					t.Fatalf("unexpected range %s - %s", f.StartDate, f.EndDate)
				}
			},
		},
		{
			name:  "status normalized",
			query: "status=in_process",
			check: func(t *testing.T, f models.OrderFilter) {
				if f.Status != "IN_PROCESS" {
					t.Fatalf("unexpected status %q", f.Status)
				}
			},
		},
		{name: "bad date", query: "startDate=yesterday", wantErr: true},
		{name: "reversed range", query: "startDate=2026-03-02&endDate=2026-03-01", wantErr: true},
		{name: "unknown status", query: "status=SHIPPED", wantErr: true},
		{name: "bad page", query: "page=0", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodGet, "/api/orders?"+tt.query, nil)
			filter, err := orderFilterFromQuery(req)
			if tt.wantErr {
				if !errors.Is(err, errInvalidFilter) {
					t.Fatalf("expected errInvalidFilter, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			tt.check(t, filter)
		})
	}
}

func TestCreateSessionSetsCookie(t *testing.T) {
	t.Parallel()

	fake := newFakeBackend()
	fake.profile.Role = "STORE_ADMIN"
	h := newTestHandlers(t, fake, fakeRates{payload: json.RawMessage(ratesPayload)})

	rec := httptest.NewRecorder()
	h.CreateSession(rec, newRequest(http.MethodPost, "/auth/session", strings.NewReader(`{"token":"opaque-token"}`), nil, nil))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeBody[sessionResponse](t, rec)
	if resp.UserID != "u-1" || !resp.Admin {
		t.Fatalf("unexpected session response: %+v", resp)
	}

	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == session.CookieName {
			cookie = c
		}
	}
	if cookie == nil || !cookie.HttpOnly || !cookie.Secure {
		t.Fatalf("expected secure http-only session cookie, got %+v", cookie)
	}

	sess, err := h.sessionManager.GetSession(t.Context(), newRequest(http.MethodGet, "/", nil, cookie, nil))
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	token, err := h.sessionManager.Token(sess)
	if err != nil || token != "opaque-token" {
		t.Fatalf("expected sealed token round trip, got %q err=%v", token, err)
	}
}

type unavailableSessionStore struct{}

func (unavailableSessionStore) Get(context.Context, string) (*session.Data, bool) { return nil, false }

func (unavailableSessionStore) Set(context.Context, string, *session.Data, time.Duration) error {
	return session.ErrStoreUnavailable
}

func (unavailableSessionStore) Delete(context.Context, string) error {
	return session.ErrStoreUnavailable
}

func (unavailableSessionStore) Close() error { return nil }

func TestCreateSessionStoreUnavailable(t *testing.T) {
	t.Parallel()

	h := newTestHandlers(t, newFakeBackend(), fakeRates{})
	sealer, err := crypto.NewSealer(testEncryptionKey)
	if err != nil {
		t.Fatalf("NewSealer: %v", err)
	}
	h.sessionManager = session.NewManager(unavailableSessionStore{}, sealer, true)

	rec := httptest.NewRecorder()
	h.CreateSession(rec, newRequest(http.MethodPost, "/auth/session", strings.NewReader(`{"token":"opaque-token"}`), nil, nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d: %s", rec.Code, rec.Body.String())
	}
	for _, c := range rec.Result().Cookies() {
		if c.Name == session.CookieName {
			t.Fatalf("expected no session cookie, got %+v", c)
		}
	}
}

func TestCreateSessionRejectsMissingToken(t *testing.T) {
	t.Parallel()

	h := newTestHandlers(t, newFakeBackend(), fakeRates{})
	rec := httptest.NewRecorder()
	h.CreateSession(rec, newRequest(http.MethodPost, "/auth/session", strings.NewReader(`{}`), nil, nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestRequireAdmin(t *testing.T) {
	t.Parallel()

	h := newTestHandlers(t, newFakeBackend(), fakeRates{})
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	tests := []struct {
		name   string
		role   string
		want   int
		cookie bool
	}{
		{name: "anonymous", want: http.StatusUnauthorized},
		{name: "buyer", role: "BUYER", cookie: true, want: http.StatusForbidden},
		{name: "admin", role: "ADMIN", cookie: true, want: http.StatusNoContent},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var cookie *http.Cookie
			if tt.cookie {
				cookie = login(t, h, tt.role)
			}
			rec := httptest.NewRecorder()
			h.RequireAdmin(next).ServeHTTP(rec, newRequest(http.MethodGet, "/api/admin/orders", nil, cookie, nil))
			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, rec.Code)
			}
		})
	}
}

func TestCheckoutFlow(t *testing.T) {
	t.Parallel()

	fake := newFakeBackend()
	h := newTestHandlers(t, fake, fakeRates{payload: json.RawMessage(ratesPayload)})
	cookie := login(t, h, "BUYER")

	rec := httptest.NewRecorder()
	h.CheckoutSubmit(rec, newRequest(http.MethodPost, "/api/checkout/submit", nil, cookie, nil))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 before checkout is loaded, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.Checkout(rec, newRequest(http.MethodGet, "/api/checkout", nil, cookie, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	state := decodeBody[checkout.State](t, rec)
	if !state.Loaded || state.SelectedAddress == nil || len(state.ShippingOptions) != 1 {
		t.Fatalf("expected loaded state with one option, got %+v", state)
	}

	rec = httptest.NewRecorder()
	h.CheckoutSubmit(rec, newRequest(http.MethodPost, "/api/checkout/submit", nil, cookie, nil))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 without shipping option, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.CheckoutSelectShipping(rec, newRequest(http.MethodPost, "/api/checkout/shipping", strings.NewReader(`{"service":"OKE"}`), cookie, nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown service, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.CheckoutSelectShipping(rec, newRequest(http.MethodPost, "/api/checkout/shipping", strings.NewReader(`{"service":"REG"}`), cookie, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 selecting REG, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.CheckoutSubmit(rec, newRequest(http.MethodPost, "/api/checkout/submit", nil, cookie, nil))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeBody[submitResponse](t, rec)
	if resp.RedirectURL != "/orders/77" || resp.External {
		t.Fatalf("unexpected submit response: %+v", resp)
	}
	if len(fake.placed) != 1 || fake.placed[0].AddressID != "addr-1" || fake.placed[0].Shipment.Service != "REG" {
		t.Fatalf("unexpected checkout request: %+v", fake.placed)
	}
}

func TestCheckoutKeepsStateWhenQuoteFails(t *testing.T) {
	t.Parallel()

	rates := fakeRates{err: &shipping.ProviderError{Status: http.StatusBadGateway, Message: "upstream down"}}
	h := newTestHandlers(t, newFakeBackend(), rates)
	cookie := login(t, h, "BUYER")

	rec := httptest.NewRecorder()
	h.Checkout(rec, newRequest(http.MethodGet, "/api/checkout", nil, cookie, nil))

	rec = httptest.NewRecorder()
	h.CheckoutSelectCourier(rec, newRequest(http.MethodPost, "/api/checkout/courier", strings.NewReader(`{"courier":"tiki"}`), cookie, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with quote error in state, got %d: %s", rec.Code, rec.Body.String())
	}
	state := decodeBody[checkout.State](t, rec)
	if state.QuoteError == "" || state.Courier != "tiki" {
		t.Fatalf("expected quote error for tiki, got %+v", state)
	}

	rec = httptest.NewRecorder()
	h.CheckoutSelectCourier(rec, newRequest(http.MethodPost, "/api/checkout/courier", strings.NewReader(`{"courier":"gojek"}`), cookie, nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unsupported courier, got %d", rec.Code)
	}
}

func TestShippingCostProxy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		rates      fakeRates
		body       string
		wantStatus int
		wantBody   string
	}{
		{name: "passes payload", rates: fakeRates{payload: json.RawMessage(ratesPayload)}, body: `{"origin":"501","destination":"152","weight":1000,"courier":"jne"}`, wantStatus: http.StatusOK, wantBody: `"service":"REG"`},
		{name: "provider status", rates: fakeRates{err: &shipping.ProviderError{Status: http.StatusBadRequest, Message: "Invalid key"}}, body: `{"origin":"501","destination":"152","weight":1000,"courier":"jne"}`, wantStatus: http.StatusBadRequest, wantBody: "Invalid key"},
		{name: "provider payload", rates: fakeRates{err: &shipping.ProviderError{Status: http.StatusBadRequest, Message: "Invalid key", Body: json.RawMessage(`{"rajaongkir":{"status":{"code":400,"description":"Invalid key"}}}`)}}, body: `{"origin":"501","destination":"152","weight":1000,"courier":"jne"}`, wantStatus: http.StatusBadRequest, wantBody: `"error":{"rajaongkir":{"status":{"code":400,"description":"Invalid key"}}}`},
		{name: "provider unreachable", rates: fakeRates{err: &shipping.ProviderError{Message: "shipping provider unavailable"}}, body: `{"origin":"501","destination":"152","weight":1000,"courier":"jne"}`, wantStatus: http.StatusInternalServerError, wantBody: `"error":"Internal Server Error"`},
		{name: "missing weight", rates: fakeRates{payload: json.RawMessage(ratesPayload)}, body: `{"origin":"501","destination":"152","courier":"jne"}`, wantStatus: http.StatusBadRequest},
		{name: "unsupported courier", rates: fakeRates{payload: json.RawMessage(ratesPayload)}, body: `{"origin":"501","destination":"152","weight":1000,"courier":"gojek"}`, wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newTestHandlers(t, newFakeBackend(), tt.rates)
			rec := httptest.NewRecorder()
			h.ShippingCost(rec, newRequest(http.MethodPost, "/api/shipping/cost", strings.NewReader(tt.body), nil, nil))
			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
			if tt.wantBody != "" && !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Fatalf("expected body to contain %q, got %s", tt.wantBody, rec.Body.String())
			}
		})
	}
}

func awaitingOrder(id models.ID) *models.Order {
	expiry := time.Now().Add(2 * time.Hour)
	return &models.Order{
		ID:            id,
		Status:        models.StatusWaitingForPayment,
		PaymentMethod: models.PaymentMethodBankTransfer,
		FinalPrice:    93000,
		ExpiredAt:     &expiry,
	}
}

func TestGetOrderIncludesCountdown(t *testing.T) {
	t.Parallel()

	fake := newFakeBackend()
	fake.put(awaitingOrder("5"))
	h := newTestHandlers(t, fake, fakeRates{})
	cookie := login(t, h, "BUYER")

	rec := httptest.NewRecorder()
	h.GetOrder(rec, newRequest(http.MethodGet, "/api/orders/5", nil, cookie, map[string]string{"id": "5"}))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	detail := decodeBody[services.OrderDetail](t, rec)
	if detail.Countdown == nil || detail.Countdown.RemainingSeconds <= 0 || detail.Countdown.State != "COUNTDOWN_ACTIVE" {
		t.Fatalf("expected active countdown, got %+v", detail.Countdown)
	}

	rec = httptest.NewRecorder()
	h.GetOrder(rec, newRequest(http.MethodGet, "/api/orders/404", nil, cookie, map[string]string{"id": "404"}))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing order, got %d", rec.Code)
	}
}

func multipartBody(t *testing.T, field, filename string, data []byte) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return &buf, writer.FormDataContentType()
}

func TestUploadPaymentProof(t *testing.T) {
	t.Parallel()

	fake := newFakeBackend()
	fake.put(awaitingOrder("5"))
	h := newTestHandlers(t, fake, fakeRates{})
	cookie := login(t, h, "BUYER")

	body, contentType := multipartBody(t, "image", "notes.txt", []byte("not an image"))
	req := newRequest(http.MethodPatch, "/api/orders/5/payment-proof", body, cookie, map[string]string{"id": "5"})
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.UploadPaymentProof(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-image, got %d: %s", rec.Code, rec.Body.String())
	}

	body, contentType = multipartBody(t, "image", "receipt.png", pngBytes)
	req = newRequest(http.MethodPatch, "/api/orders/5/payment-proof", body, cookie, map[string]string{"id": "5"})
	req.Header.Set("Content-Type", contentType)
	rec = httptest.NewRecorder()
	h.UploadPaymentProof(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	detail := decodeBody[services.OrderDetail](t, rec)
	if detail.Order.Status != models.StatusWaitingConfirmationPayment {
		t.Fatalf("expected WAITING_CONFIRMATION_PAYMENT, got %s", detail.Order.Status)
	}
	if len(fake.uploads) != 1 || fake.uploads[0].ContentType != "image/png" {
		t.Fatalf("unexpected uploads: %+v", fake.uploads)
	}
}

func TestBuyerOrderTransitions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  models.OrderStatus
		handler func(h *Handlers) http.HandlerFunc
		want    int
		message string
	}{
		{name: "cancel waiting", status: models.StatusWaitingForPayment, handler: func(h *Handlers) http.HandlerFunc { return h.CancelOrder }, want: http.StatusOK},
		{name: "cancel delivered", status: models.StatusDelivered, handler: func(h *Handlers) http.HandlerFunc { return h.CancelOrder }, want: http.StatusConflict, message: "only orders waiting for payment can be cancelled"},
		{name: "confirm delivered", status: models.StatusDelivered, handler: func(h *Handlers) http.HandlerFunc { return h.ConfirmOrder }, want: http.StatusOK},
		{name: "confirm in process", status: models.StatusInProcess, handler: func(h *Handlers) http.HandlerFunc { return h.ConfirmOrder }, want: http.StatusConflict, message: "only delivered orders can be confirmed"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			fake := newFakeBackend()
			fake.put(&models.Order{ID: "9", Status: tt.status, PaymentMethod: models.PaymentMethodSnap})
			h := newTestHandlers(t, fake, fakeRates{})
			cookie := login(t, h, "BUYER")

			rec := httptest.NewRecorder()
			tt.handler(h)(rec, newRequest(http.MethodPatch, "/api/orders/9", nil, cookie, map[string]string{"id": "9"}))
			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
			if tt.want != http.StatusOK && len(fake.mutation) != 0 {
				t.Fatalf("expected no backend mutation, got %v", fake.mutation)
			}
			if tt.message != "" {
				resp := decodeBody[errorResponse](t, rec)
				if resp.Message != tt.message {
					t.Fatalf("expected message %q, got %q", tt.message, resp.Message)
				}
			}
		})
	}
}

// actionResultBody mirrors the action result JSON; phases are encoded as text.
type actionResultBody struct {
	Outcome struct {
		Performed bool `json:"performed"`
	} `json:"outcome"`
	Bar struct {
		Status  models.OrderStatus `json:"status"`
		Phase   string             `json:"phase"`
		Pending string             `json:"pending"`
	} `json:"actionBar"`
}

func TestAdminActionNeedsConfirmation(t *testing.T) {
	t.Parallel()

	fake := newFakeBackend()
	fake.put(&models.Order{ID: "3", Status: models.StatusInProcess})
	h := newTestHandlers(t, fake, fakeRates{})
	cookie := login(t, h, "ADMIN")
	vars := map[string]string{"id": "3", "action": "deliver"}

	rec := httptest.NewRecorder()
	h.AdminRequestAction(rec, newRequest(http.MethodPost, "/api/admin/orders/3/actions/deliver", nil, cookie, vars))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	result := decodeBody[actionResultBody](t, rec)
	if result.Outcome.Performed || result.Bar.Pending != "deliver" {
		t.Fatalf("expected pending confirmation, got %+v", result)
	}
	if len(fake.mutation) != 0 {
		t.Fatalf("backend called before confirmation: %v", fake.mutation)
	}

	rec = httptest.NewRecorder()
	h.AdminConfirmAction(rec, newRequest(http.MethodPost, "/api/admin/orders/3/actions/confirm", nil, cookie, vars))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	result = decodeBody[actionResultBody](t, rec)
	if !result.Outcome.Performed || result.Bar.Status != models.StatusDelivered {
		t.Fatalf("expected delivered order, got %+v", result)
	}

	rec = httptest.NewRecorder()
	h.AdminConfirmAction(rec, newRequest(http.MethodPost, "/api/admin/orders/3/actions/confirm", nil, cookie, vars))
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 with nothing to confirm, got %d", rec.Code)
	}
}

func TestAdminRequestActionRejectsUnknownAction(t *testing.T) {
	t.Parallel()

	fake := newFakeBackend()
	fake.put(&models.Order{ID: "3", Status: models.StatusInProcess})
	h := newTestHandlers(t, fake, fakeRates{})
	cookie := login(t, h, "ADMIN")

	rec := httptest.NewRecorder()
	h.AdminRequestAction(rec, newRequest(http.MethodPost, "/api/admin/orders/3/actions/refund", nil, cookie, map[string]string{"id": "3", "action": "refund"}))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestStripeWebhookNotConfigured(t *testing.T) {
	t.Parallel()

	h := newTestHandlers(t, newFakeBackend(), fakeRates{})
	rec := httptest.NewRecorder()
	h.StripeWebhook(rec, newRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(`{}`), nil, nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestHealthWithoutDatabase(t *testing.T) {
	t.Parallel()

	h := newTestHandlers(t, newFakeBackend(), fakeRates{})
	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "healthy") {
		t.Fatalf("unexpected health response %d %s", rec.Code, rec.Body.String())
	}
}
