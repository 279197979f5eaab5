package observability

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	sentryhttpclient "github.com/getsentry/sentry-go/httpclient"
)

var defaultTracePropagationTargets = []string{
	"api.stripe.com",
}

// WrapRoundTripper traces outbound requests and propagates trace headers to
// the given hosts in addition to the defaults.
func WrapRoundTripper(base http.RoundTripper, propagateTo ...string) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	targets := append([]string{}, defaultTracePropagationTargets...)
	for _, target := range propagateTo {
		if host := hostOf(target); host != "" {
			targets = append(targets, host)
		}
	}
	return sentryhttpclient.NewSentryRoundTripper(
		base,
		sentryhttpclient.WithTracePropagationTargets(targets),
	)
}

func NewHTTPClient(timeout time.Duration, propagateTo ...string) *http.Client {
	client := &http.Client{
		Transport: WrapRoundTripper(http.DefaultTransport, propagateTo...),
	}
	if timeout > 0 {
		client.Timeout = timeout
	}
	return client
}

func hostOf(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		return raw
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return parsed.Hostname()
}
