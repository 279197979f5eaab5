package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

type Config struct {
	BackendBaseURL      string        `env:"BACKEND_BASE_URL,required" validate:"required,url"`
	BackendServiceToken string        `env:"BACKEND_SERVICE_TOKEN"`
	BackendTimeout      time.Duration `env:"BACKEND_TIMEOUT" envDefault:"15s" validate:"gt=0"`

	RajaOngkirBaseURL string `env:"RAJAONGKIR_BASE_URL" envDefault:"https://api.rajaongkir.com/starter" validate:"required,url"`
	RajaOngkirAPIKey  string `env:"RAJAONGKIR_API_KEY,required" validate:"required"`
	CourierCatalog    string `env:"COURIER_CATALOG_PATH"`

	PaymentGateway      string `env:"PAYMENT_GATEWAY" envDefault:"snap" validate:"oneof=snap stripe"`
	StripeSecretKey     string `env:"STRIPE_SECRET_KEY" validate:"required_if=PaymentGateway stripe"`
	StripeWebhookSecret string `env:"STRIPE_WEBHOOK_SECRET" validate:"required_if=PaymentGateway stripe"`
	BaseURL             string `env:"BASE_URL" validate:"omitempty,url"`

	DatabaseURL string `env:"DATABASE_URL"`

	CacheProvider         string `env:"CACHE_PROVIDER" envDefault:"memory" validate:"omitempty,oneof=memory redis"`
	SessionStoreProvider  string `env:"SESSION_STORE_PROVIDER" envDefault:"memory" validate:"omitempty,oneof=memory redis"`
	RedisConnectionString string `env:"REDIS_CONNECTION_STRING" envDefault:"redis://localhost:6379/0" validate:"required_if=CacheProvider redis,required_if=SessionStoreProvider redis"`

	EncryptionKey string `env:"ENCRYPTION_KEY,required" validate:"required,len=32"`
	AuthJWTSecret string `env:"AUTH_JWT_SECRET"`

	EmailProvider string `env:"EMAIL_PROVIDER" envDefault:"none" validate:"oneof=none resend"`
	ResendAPIKey  string `env:"RESEND_API_KEY" validate:"required_if=EmailProvider resend"`
	EmailFrom     string `env:"EMAIL_FROM" validate:"required_if=EmailProvider resend"`

	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"KAFKA_TOPIC" envDefault:"grocer.orders"`

	SentryDSN              string  `env:"SENTRY_DSN"`
	SentryEnvironment      string  `env:"SENTRY_ENVIRONMENT" envDefault:"development"`
	SentryTracesSampleRate float64 `env:"SENTRY_TRACES_SAMPLE_RATE" envDefault:"0.1" validate:"gte=0,lte=1"`

	CheckoutSessionCapacity int `env:"CHECKOUT_SESSION_CAPACITY" envDefault:"5000" validate:"gt=0"`

	LogLevel  slog.Level `env:"LOG_LEVEL" envDefault:"INFO"`
	LogFormat string     `env:"LOG_FORMAT" envDefault:"text" validate:"omitempty,oneof=text json"`
	Port      string     `env:"PORT" envDefault:"8080"`
}

var configValidator = validator.New()

func Load() (*Config, error) {
	var cfg Config

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if err := configValidator.Struct(c); err != nil {
		return err
	}

	baseURL := strings.TrimSpace(c.BaseURL)
	if c.PaymentGateway == "stripe" && baseURL == "" {
		return fmt.Errorf("BASE_URL is required when PAYMENT_GATEWAY is stripe")
	}

	if baseURL != "" {
		parsed, err := url.Parse(baseURL)
		if err != nil || parsed.Hostname() == "" {
			return fmt.Errorf("BASE_URL must be a valid absolute URL")
		}
		if !isLocalHost(parsed.Hostname()) && !strings.EqualFold(parsed.Scheme, "https") {
			return fmt.Errorf("BASE_URL must use https outside local development")
		}
	}

	for _, broker := range c.KafkaBrokers {
		if strings.TrimSpace(broker) == "" {
			return fmt.Errorf("KAFKA_BROKERS must not contain empty entries")
		}
	}
	if len(c.KafkaBrokers) > 0 && strings.TrimSpace(c.KafkaTopic) == "" {
		return fmt.Errorf("KAFKA_TOPIC is required when KAFKA_BROKERS is set")
	}

	return nil
}

// SecureCookies reports whether session cookies should carry the Secure flag.
func (c *Config) SecureCookies() bool {
	parsed, err := url.Parse(strings.TrimSpace(c.BaseURL))
	if err != nil || parsed.Hostname() == "" {
		return false
	}
	return strings.EqualFold(parsed.Scheme, "https")
}

func isLocalHost(host string) bool {
	switch strings.ToLower(strings.TrimSpace(host)) {
	case "localhost", "127.0.0.1", "::1":
		return true
	default:
		return false
	}
}
