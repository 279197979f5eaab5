package shipping

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gitshopapp/grocer/internal/logging"
	"github.com/gitshopapp/grocer/internal/models"
)

const (
	maxProviderResponseBytes = 1 << 20
	genericProviderMessage   = "request failed"
)

// Grams is a positive weight. The storefront sends it as a string ("2000"),
// other callers as a number; both decode.
type Grams int

func (g *Grams) UnmarshalJSON(data []byte) error {
	trimmed := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if trimmed == "" || trimmed == "null" {
		*g = 0
		return nil
	}
	n, err := strconv.Atoi(trimmed)
	if err != nil {
		return fmt.Errorf("weight must be an integer number of grams: %w", err)
	}
	*g = Grams(n)
	return nil
}

func (g Grams) String() string {
	return strconv.Itoa(int(g))
}

// Request is a rate lookup for one route, weight and courier.
type Request struct {
	Origin      string `json:"origin" validate:"required"`
	Destination string `json:"destination" validate:"required"`
	Weight      Grams  `json:"weight" validate:"gt=0"`
	Courier     string `json:"courier" validate:"required"`
}

// ProviderError carries the rate provider's failure to the caller.
// Status is the provider's HTTP status, zero when none was received.
type ProviderError struct {
	Status  int
	Message string
	Body    json.RawMessage
	Err     error
}

func (e *ProviderError) Error() string {
	if e.Message == "" {
		return genericProviderMessage
	}
	return e.Message
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// HTTPStatus is the status the proxy answers with: the provider's, or 500.
func (e *ProviderError) HTTPStatus() int {
	if e.Status < 400 || e.Status > 599 {
		return http.StatusInternalServerError
	}
	return e.Status
}

// RateSource returns the provider's raw cost payload.
type RateSource interface {
	Cost(ctx context.Context, req Request) (json.RawMessage, error)
}

// RajaOngkirClient queries the RajaOngkir cost endpoint with a server-side key.
type RajaOngkirClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewRajaOngkirClient(baseURL, apiKey string, httpClient *http.Client, logger *slog.Logger) *RajaOngkirClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &RajaOngkirClient{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:     apiKey,
		httpClient: httpClient,
		logger:     logger,
	}
}

func (c *RajaOngkirClient) Cost(ctx context.Context, req Request) (json.RawMessage, error) {
	logger := logging.FromContext(ctx, c.logger)

	form := url.Values{}
	form.Set("origin", req.Origin)
	form.Set("originType", "subdistrict")
	form.Set("destination", req.Destination)
	form.Set("destinationType", "subdistrict")
	form.Set("weight", req.Weight.String())
	form.Set("courier", req.Courier)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/cost", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &ProviderError{Message: genericProviderMessage, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		logger.Warn("shipping provider request failed", "error", err, "courier", req.Courier)
		return nil, &ProviderError{Message: genericProviderMessage, Err: err}
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			logger.Warn("failed to close shipping provider response", "error", closeErr)
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProviderResponseBytes))
	if err != nil {
		return nil, &ProviderError{Status: resp.StatusCode, Message: genericProviderMessage, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newProviderError(resp.StatusCode, body)
	}
	if status := embeddedStatus(body); status != 0 && status != http.StatusOK {
		return nil, newProviderError(status, body)
	}
	return json.RawMessage(body), nil
}

type providerStatus struct {
	Code        int    `json:"code"`
	Description string `json:"description"`
}

type rajaOngkirEnvelope struct {
	RajaOngkir struct {
		Status  providerStatus `json:"status"`
		Results []struct {
			Code  string `json:"code"`
			Name  string `json:"name"`
			Costs []struct {
				Service     string `json:"service"`
				Description string `json:"description"`
				Cost        []struct {
					Value int64  `json:"value"`
					ETD   string `json:"etd"`
				} `json:"cost"`
			} `json:"costs"`
		} `json:"results"`
	} `json:"rajaongkir"`
	Message string `json:"message"`
	Meta    struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"meta"`
}

func embeddedStatus(body []byte) int {
	var env rajaOngkirEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return 0
	}
	if env.RajaOngkir.Status.Code != 0 {
		return env.RajaOngkir.Status.Code
	}
	return env.Meta.Code
}

func newProviderError(status int, body []byte) *ProviderError {
	providerErr := &ProviderError{Status: status, Message: genericProviderMessage}
	trimmed := bytes.TrimSpace(body)
	if json.Valid(trimmed) {
		providerErr.Body = json.RawMessage(trimmed)
	}

	var env rajaOngkirEnvelope
	if err := json.Unmarshal(trimmed, &env); err == nil {
		for _, candidate := range []string{env.RajaOngkir.Status.Description, env.Meta.Message, env.Message} {
			if strings.TrimSpace(candidate) != "" {
				providerErr.Message = strings.TrimSpace(candidate)
				break
			}
		}
	}
	return providerErr
}

// ParseOptions flattens a provider payload into shipping options.
func ParseOptions(raw json.RawMessage) ([]models.ShippingOption, error) {
	var env rajaOngkirEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("failed to decode shipping options: %w", err)
	}

	var options []models.ShippingOption
	for _, result := range env.RajaOngkir.Results {
		for _, cost := range result.Costs {
			if len(cost.Cost) == 0 {
				continue
			}
			quote := cost.Cost[0]
			options = append(options, models.ShippingOption{
				Courier:     normalizeCode(result.Code),
				Service:     strings.TrimSpace(cost.Service),
				Description: strings.TrimSpace(cost.Description),
				Cost:        quote.Value,
				ETD:         formatETD(quote.ETD),
			})
		}
	}
	return options, nil
}

func formatETD(raw string) string {
	etd := strings.TrimSpace(raw)
	lower := strings.ToLower(etd)
	for _, suffix := range []string{"hari", "days", "day"} {
		if strings.HasSuffix(lower, suffix) {
			etd = strings.TrimSpace(etd[:len(etd)-len(suffix)])
			break
		}
	}
	if etd == "" {
		return ""
	}
	return etd + " days"
}
