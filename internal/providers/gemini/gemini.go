// Package gemini provides Google Gemini API integration for the gateway.
// Gemini authenticates with the API key as a query parameter rather than a
// header, and streams whole response fragments instead of deltas.
package gemini

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"

	"llmgate/internal/core"
	"llmgate/internal/pkg/llmclient"
	"llmgate/internal/providers"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

func init() {
	providers.Register("gemini", func(cfg core.ProviderConfig) (core.Provider, error) {
		return New(cfg), nil
	})
}

// Provider implements core.Provider for Gemini.
type Provider struct {
	client *llmclient.Client
}

// New creates a Gemini provider from a credential pool entry.
func New(cfg core.ProviderConfig) *Provider {
	baseURL := defaultBaseURL
	if cfg.EndpointOverride != "" {
		baseURL = cfg.EndpointOverride
	}
	p := &Provider{}
	p.client = llmclient.New(llmclient.Config{
		ProviderName: "gemini",
		BaseURL:      baseURL,
	}, queryKeyDecorator(cfg.Credential))
	return p
}

// NewWithHTTPClient creates a Gemini provider with a custom HTTP client,
// used by tests.
func NewWithHTTPClient(cfg core.ProviderConfig, httpClient *http.Client) *Provider {
	baseURL := defaultBaseURL
	if cfg.EndpointOverride != "" {
		baseURL = cfg.EndpointOverride
	}
	p := &Provider{}
	p.client = llmclient.NewWithHTTPClient(httpClient, llmclient.Config{
		ProviderName: "gemini",
		BaseURL:      baseURL,
	}, queryKeyDecorator(cfg.Credential))
	return p
}

// queryKeyDecorator appends the API key as a query parameter.
func queryKeyDecorator(credential string) llmclient.Decorator {
	return func(req *http.Request) {
		q := req.URL.Query()
		q.Set("key", credential)
		req.URL.RawQuery = q.Encode()
	}
}

// Type returns the provider type string.
func (p *Provider) Type() string {
	return "gemini"
}

// ChatCompletion sends a non-streaming generateContent request.
func (p *Provider) ChatCompletion(ctx context.Context, req *core.ChatRequest) (*core.ChatResult, error) {
	var wire generateResponse
	resp, err := p.client.Do(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/models/" + url.PathEscape(req.Model) + ":generateContent",
		Body:     toWireRequest(req),
	}, &wire)
	if err != nil {
		return nil, err
	}

	out := fromWireResponse(&wire, req.Model)
	out.StatusCode = resp.StatusCode
	out.Header = resp.Header
	return out, nil
}

// StreamChatCompletion sends a streamGenerateContent request with alt=sse.
// Each SSE event carries a response fragment whose text parts are deltas.
func (p *Provider) StreamChatCompletion(ctx context.Context, req *core.ChatRequest, emit core.ChunkHandler) (*core.ChatResult, error) {
	stream, err := p.client.DoStream(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/models/" + url.PathEscape(req.Model) + ":streamGenerateContent?alt=sse",
		Body:     toWireRequest(req),
	})
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = stream.Body.Close()
	}()

	result, err := p.assembleStream(stream.Body, req.Model, emit)
	if err != nil {
		return nil, err
	}
	result.StatusCode = stream.StatusCode
	result.Header = stream.Header
	return result, nil
}

// assembleStream folds streamed response fragments into one result.
func (p *Provider) assembleStream(body io.Reader, model string, emit core.ChunkHandler) (*core.ChatResult, error) {
	result := &core.ChatResult{
		Model:    model,
		Provider: "gemini",
	}
	sawData := false

	scanner := llmclient.NewSSEScanner(body)
	for {
		ev, err := scanner.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, core.NewTransientError("gemini", 0, "stream read failed: "+err.Error(), err)
		}
		if len(ev.Data) == 0 {
			continue
		}

		var fragment generateResponse
		if err := json.Unmarshal(ev.Data, &fragment); err != nil {
			return nil, core.NewMalformedUpstreamError("gemini", "unparseable stream fragment", err)
		}
		sawData = true

		partial := fromWireResponse(&fragment, model)
		if partial.ID != "" {
			result.ID = partial.ID
		}
		if partial.Model != "" {
			result.Model = partial.Model
		}
		if partial.FinishReason != "" {
			result.FinishReason = partial.FinishReason
		}

		if partial.Content != "" {
			result.Content += partial.Content
			if err := emit(core.StreamChunk{ContentDelta: partial.Content}); err != nil {
				return nil, err
			}
		}

		for _, tc := range partial.ToolCalls {
			idx := len(result.ToolCalls)
			result.ToolCalls = append(result.ToolCalls, tc)
			if err := emit(core.StreamChunk{ToolCallDelta: &core.ToolCallDelta{
				Index:          idx,
				ID:             tc.ID,
				Name:           tc.Name,
				ArgumentsDelta: tc.Arguments,
			}}); err != nil {
				return nil, err
			}
		}

		if fragment.UsageMetadata != nil {
			result.Usage = core.Usage{
				PromptTokens:     fragment.UsageMetadata.PromptTokenCount,
				CompletionTokens: fragment.UsageMetadata.CandidatesTokenCount,
				TotalTokens:      fragment.UsageMetadata.TotalTokenCount,
			}
		}
	}

	if !sawData {
		return nil, core.NewMalformedUpstreamError("gemini", "stream ended without any data events", nil)
	}

	if len(result.ToolCalls) > 0 {
		result.FinishReason = "tool_calls"
	}
	if result.Usage.TotalTokens > 0 {
		u := result.Usage
		if err := emit(core.StreamChunk{Usage: &u}); err != nil {
			return nil, err
		}
	}

	return result, nil
}
