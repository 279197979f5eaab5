// Package email sends transactional order emails.
package email

import (
	"context"
	"fmt"
)

type Provider interface {
	SendEmail(ctx context.Context, email *Email) error
}

type Email struct {
	To      string
	Subject string
	Text    string
	HTML    string
	Tags    map[string]string
}

type Config struct {
	Provider string
	APIKey   string
	From     string
}

func NewProvider(config Config) (Provider, error) {
	switch config.Provider {
	case "", "none":
		return NoopProvider{}, nil
	case "resend":
		return NewResendProvider(config.APIKey, config.From), nil
	default:
		return nil, fmt.Errorf("EMAIL_PROVIDER must be either 'none' or 'resend'")
	}
}

type NoopProvider struct{}

func (NoopProvider) SendEmail(context.Context, *Email) error { return nil }
