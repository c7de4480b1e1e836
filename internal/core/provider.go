// Package core defines the shared types, error model, and provider contract
// for the gateway.
package core

import "context"

// ChunkHandler receives canonical stream chunks in generation order.
// Returning an error aborts the stream; the provider must stop promptly.
type ChunkHandler func(StreamChunk) error

// Provider is the uniform call interface over one LLM vendor. Implementations
// hide vendor-specific authentication placement and payload shape, and return
// results in canonical form. All failures are wrapped as *GatewayError.
type Provider interface {
	// Type returns the provider type string ("openai", "anthropic", ...).
	Type() string

	// ChatCompletion executes a non-streaming chat completion request.
	ChatCompletion(ctx context.Context, req *ChatRequest) (*ChatResult, error)

	// StreamChatCompletion executes a streaming request, invoking emit for
	// every canonical chunk as it arrives, and returns the assembled result
	// once the upstream stream ends.
	StreamChatCompletion(ctx context.Context, req *ChatRequest, emit ChunkHandler) (*ChatResult, error)
}
