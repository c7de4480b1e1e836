package gemini

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"llmgate/internal/core"
)

func testConfig() core.ProviderConfig {
	return core.ProviderConfig{
		Type:       "gemini",
		Credential: "gm-test-key",
		Enabled:    true,
	}
}

func TestToWireRequest(t *testing.T) {
	req := &core.ChatRequest{
		Model: "gemini-2.0-flash",
		Messages: []core.Message{
			{Role: core.RoleSystem, Content: "be terse"},
			{Role: core.RoleUser, Content: "hi"},
			{Role: core.RoleAssistant, ToolCalls: []core.ToolCall{
				{ID: "call_1", Name: "lookup", Arguments: `{"q":"x"}`},
			}},
			{Role: core.RoleTool, Name: "lookup", ToolCallID: "call_1", Content: `{"answer":42}`},
		},
		Tools: []core.ToolDefinition{
			{Name: "lookup", Parameters: json.RawMessage(`{"type":"object"}`)},
		},
	}

	wire := toWireRequest(req)

	if wire.SystemInstruction == nil || wire.SystemInstruction.Parts[0].Text != "be terse" {
		t.Errorf("SystemInstruction = %+v", wire.SystemInstruction)
	}
	if len(wire.Contents) != 3 {
		t.Fatalf("Contents = %+v", wire.Contents)
	}
	if wire.Contents[1].Role != "model" || wire.Contents[1].Parts[0].FunctionCall == nil {
		t.Errorf("assistant turn = %+v", wire.Contents[1])
	}

	fr := wire.Contents[2].Parts[0].FunctionResponse
	if fr == nil || fr.Name != "lookup" {
		t.Fatalf("tool result turn = %+v", wire.Contents[2])
	}
	if string(fr.Response) != `{"answer":42}` {
		t.Errorf("Response = %s", fr.Response)
	}
	if len(wire.Tools) != 1 || wire.Tools[0].FunctionDeclarations[0].Name != "lookup" {
		t.Errorf("Tools = %+v", wire.Tools)
	}
}

func TestWrapResponse(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"object passes through", `{"a":1}`, `{"a":1}`},
		{"plain text is wrapped", "it worked", `{"content":"it worked"}`},
		{"array is wrapped", `[1,2]`, `{"content":"[1,2]"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := string(wrapResponse(tt.in)); got != tt.want {
				t.Errorf("wrapResponse(%q) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestFromWireResponse_MintsToolCallIDs(t *testing.T) {
	resp := &generateResponse{
		Candidates: []candidate{{
			Content: geminiContent{Role: "model", Parts: []geminiPart{
				{FunctionCall: &functionCall{Name: "lookup", Args: json.RawMessage(`{"q":"x"}`)}},
				{FunctionCall: &functionCall{Name: "ping"}},
			}},
			FinishReason: "STOP",
		}},
	}

	out := fromWireResponse(resp, "gemini-2.0-flash")

	if len(out.ToolCalls) != 2 {
		t.Fatalf("ToolCalls = %+v", out.ToolCalls)
	}
	if out.ToolCalls[0].ID == "" || out.ToolCalls[0].ID == out.ToolCalls[1].ID {
		t.Error("tool calls need unique minted IDs")
	}
	if out.ToolCalls[1].Arguments != "{}" {
		t.Errorf("empty args should become an object: %q", out.ToolCalls[1].Arguments)
	}
	if out.FinishReason != "tool_calls" {
		t.Errorf("FinishReason = %q, tool calls take precedence over STOP", out.FinishReason)
	}
}

func TestMapFinishReason(t *testing.T) {
	tests := []struct {
		in           string
		hasToolCalls bool
		want         string
	}{
		{"STOP", false, "stop"},
		{"STOP", true, "tool_calls"},
		{"MAX_TOKENS", false, "length"},
	}
	for _, tt := range tests {
		if got := mapFinishReason(tt.in, tt.hasToolCalls); got != tt.want {
			t.Errorf("mapFinishReason(%q, %v) = %q, want %q", tt.in, tt.hasToolCalls, got, tt.want)
		}
	}
}

func TestChatCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/models/gemini-2.0-flash:generateContent") {
			t.Errorf("path = %s", r.URL.Path)
		}
		// Credential travels as a query parameter, not a header.
		if got := r.URL.Query().Get("key"); got != "gm-test-key" {
			t.Errorf("key = %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "" {
			t.Errorf("unexpected Authorization header %q", got)
		}
		w.Write([]byte(`{
			"responseId": "resp-1",
			"modelVersion": "gemini-2.0-flash",
			"candidates": [{
				"content": {"role": "model", "parts": [{"text": "hello"}]},
				"finishReason": "STOP"
			}],
			"usageMetadata": {"promptTokenCount": 4, "candidatesTokenCount": 1, "totalTokenCount": 5}
		}`))
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.EndpointOverride = srv.URL
	p := NewWithHTTPClient(cfg, srv.Client())

	result, err := p.ChatCompletion(context.Background(), &core.ChatRequest{
		Model:    "gemini-2.0-flash",
		Messages: []core.Message{{Role: core.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("ChatCompletion() failed: %v", err)
	}

	if result.Content != "hello" || result.FinishReason != "stop" {
		t.Errorf("result = %+v", result)
	}
	if result.Usage.TotalTokens != 5 {
		t.Errorf("Usage = %+v", result.Usage)
	}
}

func TestStreamChatCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, ":streamGenerateContent") {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("alt"); got != "sse" {
			t.Errorf("alt = %q", got)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(
			`data: {"candidates":[{"content":{"role":"model","parts":[{"text":"Hel"}]}}]}` + "\n\n" +
				`data: {"candidates":[{"content":{"role":"model","parts":[{"text":"lo"}]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":3,"candidatesTokenCount":2,"totalTokenCount":5}}` + "\n\n"))
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.EndpointOverride = srv.URL
	p := NewWithHTTPClient(cfg, srv.Client())

	var deltas []string
	result, err := p.StreamChatCompletion(context.Background(), &core.ChatRequest{
		Model:    "gemini-2.0-flash",
		Messages: []core.Message{{Role: core.RoleUser, Content: "hi"}},
	}, func(chunk core.StreamChunk) error {
		if chunk.ContentDelta != "" {
			deltas = append(deltas, chunk.ContentDelta)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("StreamChatCompletion() failed: %v", err)
	}

	if result.Content != "Hello" || result.FinishReason != "stop" {
		t.Errorf("result = %+v", result)
	}
	if len(deltas) != 2 {
		t.Errorf("deltas = %v", deltas)
	}
	if result.Usage.TotalTokens != 5 {
		t.Errorf("Usage = %+v", result.Usage)
	}
}
