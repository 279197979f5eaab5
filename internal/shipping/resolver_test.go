package shipping

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

type fakeRateSource struct {
	calls    int
	last     Request
	response string
	err      error
}

func (f *fakeRateSource) Cost(_ context.Context, req Request) (json.RawMessage, error) {
	f.calls++
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return json.RawMessage(f.response), nil
}

func TestResolverValidatesBeforeCallingProvider(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		req     Request
		wantErr error
	}{
		{name: "missing origin", req: Request{Destination: "D1", Weight: 100, Courier: "jne"}, wantErr: ErrInvalidRequest},
		{name: "blank destination", req: Request{Origin: "O1", Destination: "  ", Weight: 100, Courier: "jne"}, wantErr: ErrInvalidRequest},
		{name: "zero weight", req: Request{Origin: "O1", Destination: "D1", Weight: 0, Courier: "jne"}, wantErr: ErrInvalidRequest},
		{name: "negative weight", req: Request{Origin: "O1", Destination: "D1", Weight: -5, Courier: "jne"}, wantErr: ErrInvalidRequest},
		{name: "courier not allowed", req: Request{Origin: "O1", Destination: "D1", Weight: 100, Courier: "dhl"}, wantErr: ErrUnsupportedCourier},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			source := &fakeRateSource{response: jneResponse}
			resolver := NewResolver(source, nil, nil)

			_, err := resolver.Resolve(t.Context(), tt.req)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if source.calls != 0 {
				t.Fatalf("expected no provider call, got %d", source.calls)
			}
		})
	}
}

func TestResolverReturnsOptions(t *testing.T) {
	t.Parallel()

	source := &fakeRateSource{response: jneResponse}
	resolver := NewResolver(source, nil, nil)

	options, err := resolver.Resolve(t.Context(), Request{Origin: " O1 ", Destination: "D1", Weight: 2000, Courier: "JNE"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(options) != 2 {
		t.Fatalf("expected 2 options, got %d", len(options))
	}
	if source.calls != 1 {
		t.Fatalf("expected exactly one provider call, got %d", source.calls)
	}
	if source.last.Courier != "jne" || source.last.Origin != "O1" {
		t.Fatalf("expected normalized request, got %+v", source.last)
	}
}

func TestResolverDropsNegativePrices(t *testing.T) {
	t.Parallel()

	response := `{"rajaongkir":{"status":{"code":200},"results":[{"code":"jne","costs":[{"service":"BAD","cost":[{"value":-1,"etd":"1"}]},{"service":"REG","cost":[{"value":9000,"etd":"1-2"}]}]}]}}`
	resolver := NewResolver(&fakeRateSource{response: response}, nil, nil)

	options, err := resolver.Resolve(t.Context(), Request{Origin: "O1", Destination: "D1", Weight: 1, Courier: "jne"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	for _, option := range options {
		if option.Cost < 0 {
			t.Fatalf("negative option leaked: %+v", option)
		}
	}
	if len(options) != 1 || options[0].Service != "REG" {
		t.Fatalf("unexpected options %+v", options)
	}
}

func TestResolverEmptyResultIsAnError(t *testing.T) {
	t.Parallel()

	response := `{"rajaongkir":{"status":{"code":200},"results":[{"code":"jne","costs":[{"service":"BAD","cost":[{"value":-100,"etd":"1"}]}]}]}}`
	resolver := NewResolver(&fakeRateSource{response: response}, nil, nil)

	_, err := resolver.Resolve(t.Context(), Request{Origin: "O1", Destination: "D1", Weight: 1, Courier: "jne"})
	if !errors.Is(err, ErrNoShippingOptions) {
		t.Fatalf("expected ErrNoShippingOptions, got %v", err)
	}
}

func TestResolverPropagatesProviderError(t *testing.T) {
	t.Parallel()

	providerErr := &ProviderError{Status: 503, Message: "maintenance"}
	resolver := NewResolver(&fakeRateSource{err: providerErr}, nil, nil)

	_, err := resolver.Resolve(t.Context(), Request{Origin: "O1", Destination: "D1", Weight: 1, Courier: "jne"})
	var got *ProviderError
	if !errors.As(err, &got) || got.Message != "maintenance" || got.HTTPStatus() != 503 {
		t.Fatalf("expected provider error to propagate, got %v", err)
	}
}
