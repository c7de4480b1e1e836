// Package anthropic provides Anthropic API integration for the gateway.
package anthropic

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"llmgate/internal/core"
	"llmgate/internal/pkg/llmclient"
	"llmgate/internal/providers"
)

const (
	defaultBaseURL = "https://api.anthropic.com/v1"
	apiVersion     = "2023-06-01"
)

func init() {
	providers.Register("anthropic", func(cfg core.ProviderConfig) (core.Provider, error) {
		return New(cfg), nil
	})
}

// Provider implements core.Provider for Anthropic.
type Provider struct {
	client *llmclient.Client
}

// New creates an Anthropic provider from a credential pool entry.
// Authentication is the x-api-key header plus a pinned API version.
func New(cfg core.ProviderConfig) *Provider {
	baseURL := defaultBaseURL
	if cfg.EndpointOverride != "" {
		baseURL = cfg.EndpointOverride
	}
	p := &Provider{}
	p.client = llmclient.New(llmclient.Config{
		ProviderName: "anthropic",
		BaseURL:      baseURL,
	}, func(req *http.Request) {
		req.Header.Set("x-api-key", cfg.Credential)
		req.Header.Set("anthropic-version", apiVersion)
	})
	return p
}

// NewWithHTTPClient creates an Anthropic provider with a custom HTTP client,
// used by tests.
func NewWithHTTPClient(cfg core.ProviderConfig, httpClient *http.Client) *Provider {
	p := New(cfg)
	baseURL := defaultBaseURL
	if cfg.EndpointOverride != "" {
		baseURL = cfg.EndpointOverride
	}
	p.client = llmclient.NewWithHTTPClient(httpClient, llmclient.Config{
		ProviderName: "anthropic",
		BaseURL:      baseURL,
	}, func(req *http.Request) {
		req.Header.Set("x-api-key", cfg.Credential)
		req.Header.Set("anthropic-version", apiVersion)
	})
	return p
}

// Type returns the provider type string.
func (p *Provider) Type() string {
	return "anthropic"
}

// ChatCompletion sends a non-streaming messages request.
func (p *Provider) ChatCompletion(ctx context.Context, req *core.ChatRequest) (*core.ChatResult, error) {
	var wire messagesResponse
	resp, err := p.client.Do(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/messages",
		Body:     toWireRequest(req),
	}, &wire)
	if err != nil {
		return nil, err
	}

	out := fromWireResponse(&wire)
	if out.Model == "" {
		out.Model = req.Model
	}
	out.StatusCode = resp.StatusCode
	out.Header = normalizeHeaders(resp.Header)
	return out, nil
}

// StreamChatCompletion sends a streaming messages request, emitting canonical
// chunks as events arrive.
func (p *Provider) StreamChatCompletion(ctx context.Context, req *core.ChatRequest, emit core.ChunkHandler) (*core.ChatResult, error) {
	stream, err := p.client.DoStream(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/messages",
		Body:     toWireRequest(req.WithStreaming()),
	})
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = stream.Body.Close()
	}()

	result, err := assembleStream(stream.Body, req.Model, emit)
	if err != nil {
		return nil, err
	}
	result.StatusCode = stream.StatusCode
	result.Header = normalizeHeaders(stream.Header)
	return result, nil
}

// normalizeHeaders maps Anthropic's rate-limit header names onto the
// x-ratelimit-* names the tracker reads. Anthropic sends reset values as
// RFC3339 timestamps; they are converted to relative seconds.
func normalizeHeaders(h http.Header) http.Header {
	if h == nil {
		return nil
	}
	out := h.Clone()

	copyHeader(out, h, "anthropic-ratelimit-requests-remaining", "x-ratelimit-remaining-requests")
	copyHeader(out, h, "anthropic-ratelimit-tokens-remaining", "x-ratelimit-remaining-tokens")
	copyResetHeader(out, h, "anthropic-ratelimit-requests-reset", "x-ratelimit-reset-requests")
	copyResetHeader(out, h, "anthropic-ratelimit-tokens-reset", "x-ratelimit-reset-tokens")

	return out
}

func copyHeader(dst, src http.Header, from, to string) {
	if v := src.Get(from); v != "" && dst.Get(to) == "" {
		dst.Set(to, v)
	}
}

func copyResetHeader(dst, src http.Header, from, to string) {
	v := src.Get(from)
	if v == "" || dst.Get(to) != "" {
		return
	}
	at, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return
	}
	secs := time.Until(at).Seconds()
	if secs < 0 {
		secs = 0
	}
	dst.Set(to, strconv.FormatFloat(secs, 'f', 3, 64))
}
