package core

import (
	"errors"
	"net/http"
	"testing"
	"time"
)

func TestGatewayError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *GatewayError
		expected string
	}{
		{
			name: "error with provider",
			err: &GatewayError{
				Kind:     KindTransient,
				Message:  "upstream error",
				Provider: "openai",
			},
			expected: "[openai] transient_provider_error: upstream error",
		},
		{
			name: "error without provider",
			err: &GatewayError{
				Kind:    KindPermanent,
				Message: "bad request",
			},
			expected: "permanent_provider_error: bad request",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestGatewayError_Unwrap(t *testing.T) {
	originalErr := errors.New("original error")
	gatewayErr := NewTransientError("openai", 500, "wrapped", originalErr)

	if unwrapped := gatewayErr.Unwrap(); unwrapped != originalErr {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, originalErr)
	}
	if !errors.Is(gatewayErr, originalErr) {
		t.Error("errors.Is should find the original error")
	}
}

func TestGatewayError_Retryable(t *testing.T) {
	tests := []struct {
		kind      ErrorKind
		retryable bool
	}{
		{KindTransient, true},
		{KindMalformedUpstream, true},
		{KindPermanent, false},
		{KindAuth, false},
		{KindToolExecution, false},
		{KindBudgetExhausted, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			err := &GatewayError{Kind: tt.kind}
			if got := err.Retryable(); got != tt.retryable {
				t.Errorf("Retryable() = %v, want %v", got, tt.retryable)
			}
		})
	}
}

func TestParseProviderError(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		body       string
		header     http.Header
		wantKind   ErrorKind
		wantRetry  time.Duration
	}{
		{
			name:       "401 is auth",
			statusCode: http.StatusUnauthorized,
			body:       `{"error":{"message":"bad key"}}`,
			wantKind:   KindAuth,
		},
		{
			name:       "403 is auth",
			statusCode: http.StatusForbidden,
			wantKind:   KindAuth,
		},
		{
			name:       "429 is transient with retry-after",
			statusCode: http.StatusTooManyRequests,
			header:     http.Header{"Retry-After": []string{"30"}},
			wantKind:   KindTransient,
			wantRetry:  30 * time.Second,
		},
		{
			name:       "400 is permanent",
			statusCode: http.StatusBadRequest,
			body:       `{"error":{"message":"unknown model"}}`,
			wantKind:   KindPermanent,
		},
		{
			name:       "404 is permanent",
			statusCode: http.StatusNotFound,
			wantKind:   KindPermanent,
		},
		{
			name:       "500 is transient",
			statusCode: http.StatusInternalServerError,
			wantKind:   KindTransient,
		},
		{
			name:       "503 is transient",
			statusCode: http.StatusServiceUnavailable,
			wantKind:   KindTransient,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ParseProviderError("openai", tt.statusCode, []byte(tt.body), tt.header)
			if err.Kind != tt.wantKind {
				t.Errorf("Kind = %v, want %v", err.Kind, tt.wantKind)
			}
			if err.StatusCode != tt.statusCode {
				t.Errorf("StatusCode = %d, want %d", err.StatusCode, tt.statusCode)
			}
			if err.Provider != "openai" {
				t.Errorf("Provider = %q, want openai", err.Provider)
			}
			if err.RetryAfter != tt.wantRetry {
				t.Errorf("RetryAfter = %v, want %v", err.RetryAfter, tt.wantRetry)
			}
		})
	}
}

func TestKindOf(t *testing.T) {
	if got := KindOf(NewAuthError("openai", "bad key")); got != KindAuth {
		t.Errorf("KindOf(auth) = %v", got)
	}
	// Unknown errors are treated as transient so failover gets a chance.
	if got := KindOf(errors.New("connection reset")); got != KindTransient {
		t.Errorf("KindOf(plain) = %v, want transient", got)
	}
}

func TestRetryAfterOf(t *testing.T) {
	err := ParseProviderError("groq", 429, nil, http.Header{"Retry-After": []string{"12"}})
	if got := RetryAfterOf(err); got != 12*time.Second {
		t.Errorf("RetryAfterOf = %v, want 12s", got)
	}
	if got := RetryAfterOf(errors.New("nope")); got != 0 {
		t.Errorf("RetryAfterOf(plain) = %v, want 0", got)
	}
}
