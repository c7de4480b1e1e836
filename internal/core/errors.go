package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// ErrorKind classifies a gateway error for failover decisions.
type ErrorKind string

const (
	// KindTransient covers 429, 5xx, connection failures, and malformed
	// upstream bodies: recoverable by trying another candidate.
	KindTransient ErrorKind = "transient_provider_error"
	// KindPermanent covers invalid requests and decommissioned models: the
	// candidate is skipped but other models on the provider remain usable.
	KindPermanent ErrorKind = "permanent_provider_error"
	// KindAuth covers invalid or missing credentials: the whole provider is
	// excluded for the rest of the exchange.
	KindAuth ErrorKind = "auth_error"
	// KindToolExecution covers tool executor failures: folded into history,
	// never fatal.
	KindToolExecution ErrorKind = "tool_execution_error"
	// KindBudgetExhausted means no untried candidate remains.
	KindBudgetExhausted ErrorKind = "budget_exhausted"
	// KindMalformedUpstream means the body failed to parse as the expected
	// streaming format. Treated as transient for failover purposes.
	KindMalformedUpstream ErrorKind = "malformed_upstream_response"
)

// GatewayError is the canonical error type for all gateway failures.
type GatewayError struct {
	Kind       ErrorKind     `json:"kind"`
	Message    string        `json:"message"`
	StatusCode int           `json:"status_code,omitempty"`
	Provider   string        `json:"provider,omitempty"`
	Model      string        `json:"model,omitempty"`
	RetryAfter time.Duration `json:"-"`
	Err        error         `json:"-"`
}

func (e *GatewayError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Provider, e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the error should trigger failover to another
// candidate rather than terminating the exchange.
func (e *GatewayError) Retryable() bool {
	return e.Kind == KindTransient || e.Kind == KindMalformedUpstream
}

// HTTPStatusCode returns the status code to use when the error must be
// surfaced before a stream has been opened.
func (e *GatewayError) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}
	switch e.Kind {
	case KindTransient, KindMalformedUpstream:
		return http.StatusBadGateway
	case KindPermanent:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindBudgetExhausted:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ToJSON converts the error to the wire error payload shape.
func (e *GatewayError) ToJSON() map[string]any {
	return map[string]any{
		"error": map[string]any{
			"kind":    e.Kind,
			"message": e.Message,
		},
	}
}

// NewTransientError creates a transient provider error (429, 5xx, network).
func NewTransientError(provider string, statusCode int, message string, err error) *GatewayError {
	return &GatewayError{
		Kind:       KindTransient,
		Message:    message,
		StatusCode: statusCode,
		Provider:   provider,
		Err:        err,
	}
}

// NewPermanentError creates a permanent provider error (bad request, gone model).
func NewPermanentError(provider string, statusCode int, message string, err error) *GatewayError {
	return &GatewayError{
		Kind:       KindPermanent,
		Message:    message,
		StatusCode: statusCode,
		Provider:   provider,
		Err:        err,
	}
}

// NewAuthError creates an authentication error for the given provider.
func NewAuthError(provider string, message string) *GatewayError {
	return &GatewayError{
		Kind:       KindAuth,
		Message:    message,
		StatusCode: http.StatusUnauthorized,
		Provider:   provider,
	}
}

// NewToolExecutionError wraps a tool executor failure.
func NewToolExecutionError(toolName string, message string, err error) *GatewayError {
	return &GatewayError{
		Kind:    KindToolExecution,
		Message: fmt.Sprintf("tool %s: %s", toolName, message),
		Err:     err,
	}
}

// NewBudgetExhaustedError is returned when no untried candidate remains.
func NewBudgetExhaustedError(message string) *GatewayError {
	return &GatewayError{
		Kind:       KindBudgetExhausted,
		Message:    message,
		StatusCode: http.StatusServiceUnavailable,
	}
}

// NewMalformedUpstreamError wraps a body that failed to parse as the expected
// streaming format.
func NewMalformedUpstreamError(provider string, message string, err error) *GatewayError {
	return &GatewayError{
		Kind:       KindMalformedUpstream,
		Message:    message,
		StatusCode: http.StatusBadGateway,
		Provider:   provider,
		Err:        err,
	}
}

// KindOf extracts the ErrorKind from an error chain. Unknown errors are
// classified transient so they participate in failover rather than aborting
// the exchange outright.
func KindOf(err error) ErrorKind {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return KindTransient
}

// RetryAfterOf extracts the retry-after hint from an error chain, or zero.
func RetryAfterOf(err error) time.Duration {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge.RetryAfter
	}
	return 0
}

// ParseProviderError converts a non-2xx provider response into the
// appropriate GatewayError. The response header is consulted for a
// retry-after hint on 429s.
func ParseProviderError(provider string, statusCode int, body []byte, header http.Header) *GatewayError {
	var errorResponse struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    string `json:"code"`
		} `json:"error"`
	}

	message := string(body)
	if err := json.Unmarshal(body, &errorResponse); err == nil && errorResponse.Error.Message != "" {
		message = errorResponse.Error.Message
	}

	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return NewAuthError(provider, message)
	case statusCode == http.StatusTooManyRequests:
		e := NewTransientError(provider, statusCode, message, nil)
		e.RetryAfter = parseRetryAfter(header)
		return e
	case statusCode >= 400 && statusCode < 500:
		return NewPermanentError(provider, statusCode, message, nil)
	default:
		return NewTransientError(provider, statusCode, message, nil)
	}
}

// parseRetryAfter reads the Retry-After header as delay seconds.
// HTTP-date values are ignored; providers in practice send seconds.
func parseRetryAfter(header http.Header) time.Duration {
	if header == nil {
		return 0
	}
	v := header.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}
