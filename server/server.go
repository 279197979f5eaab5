package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/gitshopapp/grocer/internal/config"
	"github.com/gitshopapp/grocer/internal/handlers"
)

type Server struct {
	cfg        *config.Config
	logger     *slog.Logger
	handlers   *handlers.Handlers
	httpServer *http.Server
}

func New(cfg *config.Config, logger *slog.Logger, h *handlers.Handlers) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if h == nil {
		return nil, fmt.Errorf("handlers are required")
	}

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		handlers: h,
	}

	router := s.buildRouter()
	// WriteTimeout stays zero: the countdown stream outlives any fixed write
	// deadline and ends on its own when the window closes.
	s.httpServer = &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	return s, nil
}

func (s *Server) Run() error {
	s.logger.Info("server starting", "port", s.cfg.Port)

	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Close(ctx context.Context) error {
	if s == nil || s.httpServer == nil {
		return nil
	}

	s.logger.Info("server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return err
	}
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) buildRouter() *mux.Router {
	h := s.handlers

	r := mux.NewRouter()
	r.Use(h.RequestLogger)
	r.Use(h.SecurityHeaders)
	r.Use(h.SessionMiddleware)
	r.Use(h.MetricsContext)
	r.HandleFunc("/health", h.Health).Methods("GET").Name("health")
	r.Handle("/metrics", h.Metrics()).Methods("GET").Name("metrics")
	r.HandleFunc("/webhooks/stripe", h.StripeWebhook).Methods("POST").Name("webhooks.stripe")

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"not found","error":"Not Found"}` + "\n"))
	})

	authRouter := r.PathPrefix("/auth").Subrouter()
	authRouter.Use(h.RequireSameOrigin)
	authRouter.HandleFunc("/session", h.CreateSession).Methods("POST").Name("auth.session.create")
	authRouter.HandleFunc("/session", h.CurrentSession).Methods("GET").Name("auth.session.current")
	authRouter.HandleFunc("/session", h.DestroySession).Methods("DELETE").Name("auth.session.destroy")

	api := r.PathPrefix("/api").Subrouter()
	api.Use(h.RequireSession)
	api.Use(h.RequireSameOrigin)

	api.HandleFunc("/checkout", h.Checkout).Methods("GET").Name("checkout.get")
	api.HandleFunc("/checkout/address", h.CheckoutSelectAddress).Methods("POST").Name("checkout.address")
	api.HandleFunc("/checkout/courier", h.CheckoutSelectCourier).Methods("POST").Name("checkout.courier")
	api.HandleFunc("/checkout/shipping", h.CheckoutSelectShipping).Methods("POST").Name("checkout.shipping")
	api.HandleFunc("/checkout/payment-method", h.CheckoutSelectPaymentMethod).Methods("POST").Name("checkout.payment_method")
	api.HandleFunc("/checkout/submit", h.CheckoutSubmit).Methods("POST").Name("checkout.submit")

	api.HandleFunc("/shipping/cost", h.ShippingCost).Methods("POST").Name("shipping.cost")

	api.HandleFunc("/orders", h.ListOrders).Methods("GET").Name("orders.list")
	api.HandleFunc("/orders/{id}", h.GetOrder).Methods("GET").Name("orders.get")
	api.HandleFunc("/orders/{id}/countdown", h.OrderCountdown).Methods("GET").Name("orders.countdown")
	api.HandleFunc("/orders/{id}/payment-proof", h.UploadPaymentProof).Methods("PATCH").Name("orders.payment_proof")
	api.HandleFunc("/orders/{id}/cancel", h.CancelOrder).Methods("PATCH").Name("orders.cancel")
	api.HandleFunc("/orders/{id}/confirm", h.ConfirmOrder).Methods("PATCH").Name("orders.confirm")

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(h.RequireAdmin)
	admin.HandleFunc("/orders", h.AdminListOrders).Methods("GET").Name("admin.orders.list")
	admin.HandleFunc("/orders/{id}", h.AdminGetOrder).Methods("GET").Name("admin.orders.get")
	admin.HandleFunc("/orders/{id}/status-log", h.AdminStatusLog).Methods("GET").Name("admin.orders.status_log")
	admin.HandleFunc("/orders/{id}/actions/confirm", h.AdminConfirmAction).Methods("POST").Name("admin.orders.actions.confirm")
	admin.HandleFunc("/orders/{id}/actions/dismiss", h.AdminDismissAction).Methods("POST").Name("admin.orders.actions.dismiss")
	admin.HandleFunc("/orders/{id}/actions/{action}", h.AdminRequestAction).Methods("POST").Name("admin.orders.actions.request")

	return r
}
