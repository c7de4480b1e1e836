// Package openai provides OpenAI API integration for the gateway, and the
// shared implementation for OpenAI-compatible vendors.
package openai

import (
	"context"
	"net/http"

	"llmgate/internal/core"
	"llmgate/internal/pkg/llmclient"
	"llmgate/internal/providers"
)

const defaultBaseURL = "https://api.openai.com/v1"

func init() {
	providers.Register("openai", func(cfg core.ProviderConfig) (core.Provider, error) {
		return New(cfg), nil
	})
}

// Provider implements core.Provider for OpenAI and compatible endpoints.
type Provider struct {
	client       *llmclient.Client
	providerType string
}

// New creates an OpenAI provider from a credential pool entry.
func New(cfg core.ProviderConfig) *Provider {
	return NewCompat("openai", defaultBaseURL, cfg)
}

// NewCompat creates a provider for any OpenAI-compatible endpoint.
// Authentication is a Bearer token in the Authorization header.
func NewCompat(providerType, baseURL string, cfg core.ProviderConfig) *Provider {
	if cfg.EndpointOverride != "" {
		baseURL = cfg.EndpointOverride
	}
	p := &Provider{providerType: providerType}
	p.client = llmclient.New(llmclient.Config{
		ProviderName: providerType,
		BaseURL:      baseURL,
	}, func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+cfg.Credential)
		if id := core.GetExchangeID(req.Context()); id != "" {
			req.Header.Set("X-Client-Request-Id", id)
		}
	})
	return p
}

// NewCompatWithHTTPClient is like NewCompat with a custom HTTP client,
// used by tests.
func NewCompatWithHTTPClient(providerType, baseURL string, cfg core.ProviderConfig, httpClient *http.Client) *Provider {
	p := NewCompat(providerType, baseURL, cfg)
	p.client = llmclient.NewWithHTTPClient(httpClient, llmclient.Config{
		ProviderName: providerType,
		BaseURL:      baseURL,
	}, func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+cfg.Credential)
	})
	if cfg.EndpointOverride != "" {
		p.client.SetBaseURL(cfg.EndpointOverride)
	}
	return p
}

// Type returns the provider type string.
func (p *Provider) Type() string {
	return p.providerType
}

// ChatCompletion sends a non-streaming chat completion request.
func (p *Provider) ChatCompletion(ctx context.Context, req *core.ChatRequest) (*core.ChatResult, error) {
	var wire chatResponse
	resp, err := p.client.Do(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/chat/completions",
		Body:     toWireRequest(req),
	}, &wire)
	if err != nil {
		return nil, err
	}

	out := fromWireResponse(&wire, p.providerType)
	if out.Model == "" {
		out.Model = req.Model
	}
	out.StatusCode = resp.StatusCode
	out.Header = resp.Header
	return out, nil
}

// StreamChatCompletion sends a streaming request, emitting canonical chunks
// as SSE events arrive, and returns the assembled result.
func (p *Provider) StreamChatCompletion(ctx context.Context, req *core.ChatRequest, emit core.ChunkHandler) (*core.ChatResult, error) {
	stream, err := p.client.DoStream(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/chat/completions",
		Body:     toWireRequest(req.WithStreaming()),
	})
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = stream.Body.Close()
	}()

	result, err := assembleStream(stream.Body, p.providerType, req.Model, emit)
	if err != nil {
		return nil, err
	}
	result.StatusCode = stream.StatusCode
	result.Header = stream.Header
	return result, nil
}
