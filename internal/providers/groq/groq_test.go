package groq

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"llmgate/internal/core"
)

func TestChatCompletion_SpeaksOpenAIWireFormat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer gsk-test" {
			t.Errorf("Authorization = %q", got)
		}
		w.Write([]byte(`{
			"id": "chatcmpl-groq-1",
			"model": "llama-3.3-70b-versatile",
			"choices": [{
				"index": 0,
				"message": {"role": "assistant", "content": "fast"},
				"finish_reason": "stop"
			}]
		}`))
	}))
	defer srv.Close()

	p := New(core.ProviderConfig{
		Type:             "groq",
		Credential:       "gsk-test",
		EndpointOverride: srv.URL,
		Enabled:          true,
	})

	if p.Type() != "groq" {
		t.Errorf("Type() = %q", p.Type())
	}

	result, err := p.ChatCompletion(context.Background(), &core.ChatRequest{
		Model:    "llama-3.3-70b-versatile",
		Messages: []core.Message{{Role: core.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("ChatCompletion() failed: %v", err)
	}

	if result.Content != "fast" || result.Provider != "groq" {
		t.Errorf("result = %+v", result)
	}
}
