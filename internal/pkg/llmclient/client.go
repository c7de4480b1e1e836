// Package llmclient provides the shared HTTP plumbing for LLM providers:
// request building, authentication decoration, standardized error parsing,
// and SSE stream scanning. Failure recovery is deliberately left to the
// orchestrator's failover loop; this client never retries.
package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"llmgate/internal/core"
)

// defaultTimeout bounds non-streaming round trips. Streaming requests rely on
// context cancellation instead.
const defaultTimeout = 120 * time.Second

// Decorator mutates an outgoing request to apply vendor authentication.
// It may set headers or append query parameters.
type Decorator func(req *http.Request)

// Config holds configuration for the LLM client.
type Config struct {
	// ProviderName identifies the provider in error messages.
	ProviderName string

	// BaseURL is the API base URL.
	BaseURL string
}

// Client is the base HTTP client for LLM providers.
type Client struct {
	httpClient *http.Client
	config     Config
	decorator  Decorator
}

// New creates a new LLM client.
func New(config Config, decorator Decorator) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		config:     config,
		decorator:  decorator,
	}
}

// NewWithHTTPClient creates a new LLM client with a custom HTTP client.
// If httpClient is nil, http.DefaultClient is used.
func NewWithHTTPClient(httpClient *http.Client, config Config, decorator Decorator) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		httpClient: httpClient,
		config:     config,
		decorator:  decorator,
	}
}

// SetBaseURL updates the base URL.
func (c *Client) SetBaseURL(url string) {
	c.config.BaseURL = url
}

// Request represents an HTTP request to be made.
type Request struct {
	Method   string
	Endpoint string
	Body     any // JSON marshaled if not nil
	Headers  map[string]string
}

// Response represents a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// StreamResponse holds an open streaming response body. The caller must
// close Body.
type StreamResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// Do executes a request and unmarshals the response body into result.
// The returned Response carries status and headers for rate-limit tracking.
func (c *Client) Do(ctx context.Context, req Request, result any) (*Response, error) {
	resp, err := c.DoRaw(ctx, req)
	if err != nil {
		return nil, err
	}

	if result != nil {
		if err := json.Unmarshal(resp.Body, result); err != nil {
			return nil, core.NewMalformedUpstreamError(c.config.ProviderName,
				"failed to unmarshal response: "+err.Error(), err)
		}
	}

	return resp, nil
}

// DoRaw executes a request and returns the raw response. Non-2xx statuses
// are converted into GatewayErrors; the error carries any retry-after hint.
func (c *Client) DoRaw(ctx context.Context, req Request) (*Response, error) {
	httpReq, err := c.buildRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, core.NewTransientError(c.config.ProviderName, 0,
			"failed to send request: "+err.Error(), err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, core.NewTransientError(c.config.ProviderName, 0,
			"failed to read response: "+err.Error(), err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, core.ParseProviderError(c.config.ProviderName, resp.StatusCode, body, resp.Header)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

// DoStream executes a streaming request, returning the open response body.
func (c *Client) DoStream(ctx context.Context, req Request) (*StreamResponse, error) {
	httpReq, err := c.buildRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, core.NewTransientError(c.config.ProviderName, 0,
			"failed to send request: "+err.Error(), err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			body = []byte("failed to read error response")
		}
		_ = resp.Body.Close()
		return nil, core.ParseProviderError(c.config.ProviderName, resp.StatusCode, body, resp.Header)
	}

	return &StreamResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
	}, nil
}

// buildRequest creates an HTTP request from a Request.
func (c *Client) buildRequest(ctx context.Context, req Request) (*http.Request, error) {
	url := c.config.BaseURL + req.Endpoint

	var bodyReader io.Reader
	if req.Body != nil {
		bodyBytes, err := json.Marshal(req.Body)
		if err != nil {
			return nil, core.NewPermanentError(c.config.ProviderName, http.StatusBadRequest,
				"failed to marshal request", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, url, bodyReader)
	if err != nil {
		return nil, core.NewPermanentError(c.config.ProviderName, http.StatusBadRequest,
			"failed to create request", err)
	}

	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	if c.decorator != nil {
		c.decorator(httpReq)
	}

	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}

	return httpReq, nil
}
