package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	sentryslog "github.com/getsentry/sentry-go/slog"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lmittmann/tint"

	"github.com/gitshopapp/grocer/internal/auth"
	"github.com/gitshopapp/grocer/internal/backend"
	"github.com/gitshopapp/grocer/internal/cache"
	"github.com/gitshopapp/grocer/internal/checkout"
	"github.com/gitshopapp/grocer/internal/config"
	"github.com/gitshopapp/grocer/internal/crypto"
	"github.com/gitshopapp/grocer/internal/db"
	"github.com/gitshopapp/grocer/internal/email"
	"github.com/gitshopapp/grocer/internal/events"
	"github.com/gitshopapp/grocer/internal/handlers"
	"github.com/gitshopapp/grocer/internal/logging"
	"github.com/gitshopapp/grocer/internal/observability"
	"github.com/gitshopapp/grocer/internal/services"
	"github.com/gitshopapp/grocer/internal/session"
	"github.com/gitshopapp/grocer/internal/shipping"
	"github.com/gitshopapp/grocer/internal/stripe"
)

type App struct {
	Config         *config.Config
	Logger         *slog.Logger
	DB             *pgxpool.Pool
	CacheProvider  cache.Provider
	SessionManager *session.Manager
	Publisher      events.Publisher
	Notifier       *services.OrderNotifier
	Handlers       *handlers.Handlers
}

func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	if err := initSentry(cfg); err != nil {
		return nil, err
	}
	logger := newLogger(cfg)

	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startupCancel()

	a := &App{Config: cfg, Logger: logger}
	if err := a.wire(startupCtx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context) error {
	cfg := a.Config
	logger := a.Logger

	backendClient, err := backend.NewClient(
		cfg.BackendBaseURL,
		observability.NewHTTPClient(cfg.BackendTimeout, cfg.BackendBaseURL),
		logger.With("component", "backend_client"),
	)
	if err != nil {
		return fmt.Errorf("failed to initialize backend client: %w", err)
	}

	catalog, err := shipping.LoadCatalog(cfg.CourierCatalog)
	if err != nil {
		return fmt.Errorf("failed to load courier catalog: %w", err)
	}
	rates := shipping.NewRajaOngkirClient(
		cfg.RajaOngkirBaseURL,
		cfg.RajaOngkirAPIKey,
		observability.NewHTTPClient(cfg.BackendTimeout),
		logger.With("component", "rajaongkir_client"),
	)
	resolver := shipping.NewResolver(rates, catalog, logger.With("component", "shipping_resolver"))

	emailProvider, err := email.NewProvider(email.Config{
		Provider: cfg.EmailProvider,
		APIKey:   cfg.ResendAPIKey,
		From:     cfg.EmailFrom,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize email provider: %w", err)
	}
	renderer, err := email.NewRenderer()
	if err != nil {
		return fmt.Errorf("failed to parse email templates: %w", err)
	}
	a.Publisher = events.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger.With("component", "event_publisher"))
	notifier := services.NewOrderNotifier(emailProvider, renderer, a.Publisher, cfg.BaseURL, logger.With("component", "order_notifier"))
	a.Notifier = notifier

	var stripeGateway *stripe.Gateway
	if cfg.PaymentGateway == "stripe" {
		stripeGateway = stripe.NewGateway(cfg.StripeSecretKey, cfg.BaseURL)
	}
	orchestratorLogger := logger.With("component", "checkout")
	registry, err := checkout.NewRegistry(cfg.CheckoutSessionCapacity, func(token string) *checkout.Orchestrator {
		client := backendClient.WithToken(token)
		var gateway checkout.PaymentGateway = client
		if stripeGateway != nil {
			gateway = stripeGateway
		}
		return checkout.New(checkout.Options{
			Token:    token,
			Backend:  client,
			Gateway:  gateway,
			Quoter:   resolver,
			Notifier: notifier,
			Logger:   orchestratorLogger,
		})
	})
	if err != nil {
		return fmt.Errorf("failed to initialize checkout registry: %w", err)
	}

	a.CacheProvider, err = cache.NewProvider(ctx, cache.Config{
		Provider:              cfg.CacheProvider,
		RedisConnectionString: cfg.RedisConnectionString,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize cache provider: %w", err)
	}

	sessionStore, err := session.NewStore(ctx, session.Config{
		Provider:              cfg.SessionStoreProvider,
		RedisConnectionString: cfg.RedisConnectionString,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize session store: %w", err)
	}
	sealer, err := crypto.NewSealer(cfg.EncryptionKey)
	if err != nil {
		closeStore(logger, sessionStore)
		return fmt.Errorf("failed to initialize token sealer: %w", err)
	}
	a.SessionManager = session.NewManager(sessionStore, sealer, handlers.SecureCookiesFromConfig(cfg))

	var actionLog db.ActionLog = db.NoopActionLog{}
	var pinger handlers.Pinger
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		a.DB, err = db.Connect(ctx, cfg.DatabaseURL, logger.With("component", "db"))
		if err != nil {
			return err
		}
		store := db.NewActionLogStore(a.DB)
		if err := store.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("failed to prepare action log schema: %w", err)
		}
		actionLog = store
		pinger = a.DB
	} else {
		logger.Info("DATABASE_URL not set, admin action audit log disabled")
	}

	checkoutService, err := services.NewCheckoutService(registry, logger.With("component", "checkout_service"))
	if err != nil {
		return fmt.Errorf("failed to initialize checkout service: %w", err)
	}
	shippingService, err := services.NewShippingService(resolver, rates, logger.With("component", "shipping_service"))
	if err != nil {
		return fmt.Errorf("failed to initialize shipping service: %w", err)
	}
	orderService, err := services.NewOrderService(
		func(token string) services.BuyerBackend { return backendClient.WithToken(token) },
		notifier,
		logger.With("component", "order_service"),
	)
	if err != nil {
		return fmt.Errorf("failed to initialize order service: %w", err)
	}
	adminService, err := services.NewAdminService(
		func(token string) services.AdminBackend { return backendClient.WithToken(token) },
		actionLog,
		notifier,
		logger.With("component", "admin_service"),
	)
	if err != nil {
		return fmt.Errorf("failed to initialize admin service: %w", err)
	}

	var paymentService *services.PaymentService
	if stripeGateway != nil {
		paymentService, err = services.NewPaymentService(
			backendClient.WithToken(cfg.BackendServiceToken),
			a.CacheProvider,
			notifier,
			logger.With("component", "payment_service"),
		)
		if err != nil {
			return fmt.Errorf("failed to initialize payment service: %w", err)
		}
	}

	a.Handlers, err = handlers.New(handlers.Dependencies{
		Config:          cfg,
		DB:              pinger,
		Verifier:        auth.NewVerifier(cfg.AuthJWTSecret),
		Profiles:        func(token string) handlers.ProfileFetcher { return backendClient.WithToken(token) },
		SessionManager:  a.SessionManager,
		CheckoutService: checkoutService,
		ShippingService: shippingService,
		OrderService:    orderService,
		AdminService:    adminService,
		PaymentService:  paymentService,
		Metrics:         observability.NewHTTPMetrics("bff"),
		Logger:          logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize handlers: %w", err)
	}
	return nil
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.SessionManager != nil {
		closeSessionManager(a.Logger, a.SessionManager)
	}
	if a.CacheProvider != nil {
		closeCacheProvider(a.Logger, a.CacheProvider)
	}
	if a.Notifier != nil {
		drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := a.Notifier.Wait(drainCtx); err != nil && a.Logger != nil {
			a.Logger.Warn("order notifications still pending at shutdown", "error", err)
		}
		cancel()
	}
	if a.Publisher != nil {
		if err := a.Publisher.Close(); err != nil && a.Logger != nil {
			a.Logger.Warn("failed to close event publisher", "error", err)
		}
	}
	if a.DB != nil {
		a.DB.Close()
	}
	sentry.Flush(2 * time.Second)
}

func initSentry(cfg *config.Config) error {
	if strings.TrimSpace(cfg.SentryDSN) == "" {
		return nil
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.SentryDSN,
		Environment:      cfg.SentryEnvironment,
		EnableTracing:    true,
		TracesSampleRate: cfg.SentryTracesSampleRate,
		EnableLogs:       true,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize sentry: %w", err)
	}
	return nil
}

// newLogger writes to stdout and, when Sentry is configured, also forwards
// warnings as logs and errors as events.
func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch strings.ToLower(strings.TrimSpace(cfg.LogFormat)) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = tint.NewHandler(os.Stdout, &tint.Options{Level: cfg.LogLevel})
	}

	if strings.TrimSpace(cfg.SentryDSN) != "" {
		sentryHandler := sentryslog.Option{
			EventLevel: []slog.Level{slog.LevelError},
			LogLevel:   []slog.Level{slog.LevelWarn, slog.LevelInfo},
		}.NewSentryHandler(context.Background())
		handler = logging.MultiHandler(handler, sentryHandler)
	}
	return slog.New(handler)
}

func closeStore(logger *slog.Logger, store session.Store) {
	if err := store.Close(); err != nil && logger != nil {
		logger.Warn("failed to close session store", "error", err)
	}
}

func closeSessionManager(logger *slog.Logger, manager *session.Manager) {
	if manager == nil {
		return
	}
	if err := manager.Close(); err != nil && logger != nil {
		logger.Warn("failed to close session manager", "error", err)
	}
}

func closeCacheProvider(logger *slog.Logger, provider cache.Provider) {
	if provider == nil {
		return
	}
	if err := provider.Close(); err != nil && logger != nil {
		logger.Warn("failed to close cache provider", "error", err)
	}
}
