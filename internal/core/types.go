package core

import (
	"encoding/json"
	"net/http"
)

// Message roles used in conversation history.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message represents a single turn in the conversation history.
// Assistant turns may carry tool calls; tool turns carry the result of one
// tool call and reference it via ToolCallID.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a structured request emitted by a model asking the gateway to
// invoke an external capability. Arguments is the raw JSON argument object.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolDefinition describes a tool the model may call. Parameters is a JSON
// Schema object passed through to the provider untouched.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ChatRequest is the canonical upstream request after normalization.
// Model is always the raw upstream model ID, without provider prefix.
type ChatRequest struct {
	Model       string           `json:"model"`
	Messages    []Message        `json:"messages"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	Temperature *float64         `json:"temperature,omitempty"`
	MaxTokens   *int             `json:"max_tokens,omitempty"`
	Stream      bool             `json:"stream,omitempty"`
}

// WithStreaming returns a shallow copy of the request with Stream set to true.
// This avoids mutating the caller's request object.
func (r *ChatRequest) WithStreaming() *ChatRequest {
	cp := *r
	cp.Stream = true
	return &cp
}

// Usage represents token usage reported by a provider.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatResult is the canonical form of one completed upstream round trip,
// regardless of which vendor produced it. StatusCode and Header are retained
// so callers can feed rate-limit state and iteration records.
type ChatResult struct {
	ID           string      `json:"id"`
	Model        string      `json:"model"`
	Provider     string      `json:"provider"`
	Content      string      `json:"content"`
	ToolCalls    []ToolCall  `json:"tool_calls,omitempty"`
	FinishReason string      `json:"finish_reason"`
	Usage        Usage       `json:"usage"`
	Created      int64       `json:"created"`
	StatusCode   int         `json:"-"`
	Header       http.Header `json:"-"`
}

// StreamChunk is one canonical delta from an upstream stream.
// Exactly one of ContentDelta / ToolCallDelta / Usage is meaningful per chunk.
type StreamChunk struct {
	ContentDelta  string
	ToolCallDelta *ToolCallDelta
	Usage         *Usage
}

// ToolCallDelta is a partial tool call emitted mid-stream. Vendors emit the
// ID and name once, then argument fragments keyed by Index.
type ToolCallDelta struct {
	Index          int    `json:"index"`
	ID             string `json:"id,omitempty"`
	Name           string `json:"name,omitempty"`
	ArgumentsDelta string `json:"arguments,omitempty"`
}

// ProviderConfig is one entry in the caller-supplied credential pool.
// It is immutable for the lifetime of the request; credentials are never
// persisted by the gateway.
type ProviderConfig struct {
	Type             string `json:"provider_type"`
	Credential       string `json:"credential"`
	EndpointOverride string `json:"endpoint_override,omitempty"`
	Enabled          bool   `json:"enabled"`
	Priority         int    `json:"priority"`
}
