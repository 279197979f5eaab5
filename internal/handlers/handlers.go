package handlers

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/gitshopapp/grocer/internal/auth"
	"github.com/gitshopapp/grocer/internal/config"
	"github.com/gitshopapp/grocer/internal/logging"
	"github.com/gitshopapp/grocer/internal/models"
	"github.com/gitshopapp/grocer/internal/observability"
	"github.com/gitshopapp/grocer/internal/services"
	"github.com/gitshopapp/grocer/internal/session"
)

const maxWebhookBodyBytes = 1 << 20 // 1 MB

// ProfileFetcher loads the profile behind a bearer token.
type ProfileFetcher interface {
	GetProfile(ctx context.Context) (*models.Profile, error)
}

type ProfileSource func(token string) ProfileFetcher

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers serves the storefront and admin JSON API.
type Handlers struct {
	config          *config.Config
	db              Pinger
	verifier        *auth.Verifier
	profiles        ProfileSource
	sessionManager  *session.Manager
	checkoutService *services.CheckoutService
	shippingService *services.ShippingService
	orderService    *services.OrderService
	adminService    *services.AdminService
	paymentService  *services.PaymentService
	metrics         *observability.HTTPMetrics
	logger          *slog.Logger
}

type Dependencies struct {
	Config          *config.Config
	DB              Pinger
	Verifier        *auth.Verifier
	Profiles        ProfileSource
	SessionManager  *session.Manager
	CheckoutService *services.CheckoutService
	ShippingService *services.ShippingService
	OrderService    *services.OrderService
	AdminService    *services.AdminService
	PaymentService  *services.PaymentService
	Metrics         *observability.HTTPMetrics
	Logger          *slog.Logger
}

func New(deps Dependencies) (*Handlers, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if deps.Config == nil {
		return nil, fmt.Errorf("handlers dependencies: config is required")
	}
	if deps.Verifier == nil {
		return nil, fmt.Errorf("handlers dependencies: verifier is required")
	}
	if deps.Profiles == nil {
		return nil, fmt.Errorf("handlers dependencies: profiles is required")
	}
	if deps.SessionManager == nil {
		return nil, fmt.Errorf("handlers dependencies: sessionManager is required")
	}
	if deps.CheckoutService == nil {
		return nil, fmt.Errorf("handlers dependencies: checkoutService is required")
	}
	if deps.ShippingService == nil {
		return nil, fmt.Errorf("handlers dependencies: shippingService is required")
	}
	if deps.OrderService == nil {
		return nil, fmt.Errorf("handlers dependencies: orderService is required")
	}
	if deps.AdminService == nil {
		return nil, fmt.Errorf("handlers dependencies: adminService is required")
	}

	return &Handlers{
		config:          deps.Config,
		db:              deps.DB,
		verifier:        deps.Verifier,
		profiles:        deps.Profiles,
		sessionManager:  deps.SessionManager,
		checkoutService: deps.CheckoutService,
		shippingService: deps.ShippingService,
		orderService:    deps.OrderService,
		adminService:    deps.AdminService,
		paymentService:  deps.PaymentService,
		metrics:         deps.Metrics,
		logger:          logger.With("component", "handlers"),
	}, nil
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.loggerFromContext(ctx)

	if h.db != nil {
		if err := h.db.Ping(ctx); err != nil {
			logger.Error("database health check failed", "error", err)
			writeJSON(ctx, w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
			return
		}
	}

	writeJSON(ctx, w, http.StatusOK, map[string]string{"status": "healthy"})
}

// Metrics exposes the Prometheus registry.
func (h *Handlers) Metrics() http.Handler {
	return h.metrics.Handler()
}

// SessionMiddleware adds session data to the request context.
func (h *Handlers) SessionMiddleware(next http.Handler) http.Handler {
	return h.sessionManager.Middleware(next)
}

func (h *Handlers) loggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, h.logger)
}

func SecureCookiesFromConfig(cfg *config.Config) bool {
	if cfg == nil {
		return false
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL != "" {
		if parsed, err := url.Parse(baseURL); err == nil {
			return strings.EqualFold(parsed.Scheme, "https")
		}
	}

	return cfg.Port == "443" || cfg.Port == "8443"
}
