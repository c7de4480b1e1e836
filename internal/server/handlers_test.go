package server

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"llmgate/internal/catalog"
	"llmgate/internal/orchestrator"
	"llmgate/internal/ratelimit"

	_ "llmgate/internal/providers/anthropic"
	_ "llmgate/internal/providers/gemini"
	_ "llmgate/internal/providers/groq"
	_ "llmgate/internal/providers/openai"
)

func newTestServer(t *testing.T, cfg *Config) *Server {
	t.Helper()
	cat, err := catalog.Load()
	if err != nil {
		t.Fatalf("catalog.Load() failed: %v", err)
	}
	orch := orchestrator.New(cat, ratelimit.New(), orchestrator.Config{}, slog.New(slog.DiscardHandler))
	return New(orch, cat, cfg)
}

// fakeUpstream mimics the OpenAI chat completions endpoint.
func fakeUpstream(t *testing.T, content string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /chat/completions", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); !strings.HasPrefix(got, "Bearer ") {
			t.Errorf("Authorization = %q", got)
		}
		var req struct {
			Model  string `json:"model"`
			Stream bool   `json:"stream"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding upstream request: %v", err)
		}

		if req.Stream {
			w.Header().Set("Content-Type", "text/event-stream")
			chunk := fmt.Sprintf(`{"id":"c1","model":%q,"choices":[{"index":0,"delta":{"role":"assistant","content":%q}}]}`, req.Model, content)
			final := fmt.Sprintf(`{"id":"c1","model":%q,"choices":[{"index":0,"delta":{},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`, req.Model)
			fmt.Fprintf(w, "data: %s\n\ndata: %s\n\ndata: [DONE]\n\n", chunk, final)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		resp := fmt.Sprintf(`{"id":"r1","model":%q,"choices":[{"index":0,"message":{"role":"assistant","content":%q},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`, req.Model, content)
		fmt.Fprint(w, resp)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func exchangeBody(upstreamURL string, stream bool) string {
	return fmt.Sprintf(`{
		"messages": [{"role": "user", "content": "hello"}],
		"tier": "small",
		"stream": %v,
		"providers": [{"provider_type": "openai", "credential": "test-key", "enabled": true, "endpoint_override": %q}]
	}`, stream, upstreamURL)
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestListModels(t *testing.T) {
	srv := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Models []struct {
			ID       string `json:"id"`
			Provider string `json:"provider"`
			Tier     string `json:"tier"`
		} `json:"models"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if len(body.Models) == 0 {
		t.Fatal("no models listed")
	}
	for _, m := range body.Models {
		if m.ID == "" || m.Provider == "" || m.Tier == "" {
			t.Errorf("incomplete model entry: %+v", m)
		}
	}
}

func TestExchange_ValidationErrors(t *testing.T) {
	srv := newTestServer(t, nil)

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{
			"malformed json",
			`{"messages": [`,
			http.StatusBadRequest,
		},
		{
			"no messages",
			`{"providers": [{"provider_type": "openai", "credential": "k", "enabled": true}]}`,
			http.StatusBadRequest,
		},
		{
			"no enabled providers",
			`{"messages": [{"role": "user", "content": "hi"}], "providers": []}`,
			http.StatusBadRequest,
		},
		{
			"unknown tier",
			`{"messages": [{"role": "user", "content": "hi"}], "tier": "gigantic",
			  "providers": [{"provider_type": "openai", "credential": "k", "enabled": true}]}`,
			http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/exchange", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()
			srv.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
			}
			var body struct {
				Error struct {
					Kind    string `json:"kind"`
					Message string `json:"message"`
				} `json:"error"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decoding error body: %v", err)
			}
			if body.Error.Message == "" {
				t.Errorf("error body = %s", rec.Body.String())
			}
		})
	}
}

func TestExchange_EndToEnd(t *testing.T) {
	upstream := fakeUpstream(t, "the answer is 42")
	srv := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/exchange", strings.NewReader(exchangeBody(upstream.URL, false)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var res struct {
		ExchangeID   string `json:"exchange_id"`
		Provider     string `json:"provider"`
		Model        string `json:"model"`
		Content      string `json:"content"`
		FinishReason string `json:"finish_reason"`
		Usage        struct {
			TotalTokens int `json:"total_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	if res.Content != "the answer is 42" || res.Provider != "openai" {
		t.Errorf("result = %+v", res)
	}
	if res.FinishReason != "stop" || res.Usage.TotalTokens != 5 {
		t.Errorf("result = %+v", res)
	}
	if res.ExchangeID == "" {
		t.Error("missing exchange id")
	}
}

func TestExchange_EndToEndStreaming(t *testing.T) {
	upstream := fakeUpstream(t, "streamed answer")
	srv := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/exchange", strings.NewReader(exchangeBody(upstream.URL, true)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("Content-Type = %q, body = %s", ct, rec.Body.String())
	}

	var types []string
	var sawText string
	scanner := bufio.NewScanner(rec.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev struct {
			Type    string `json:"type"`
			Payload struct {
				Text string `json:"text"`
			} `json:"payload"`
		}
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			t.Fatalf("decoding event %q: %v", line, err)
		}
		types = append(types, ev.Type)
		sawText += ev.Payload.Text
	}

	if len(types) == 0 {
		t.Fatal("no events received")
	}
	if types[0] != "request-issued" {
		t.Errorf("first event = %q", types[0])
	}
	if types[len(types)-1] != "exchange-complete" {
		t.Errorf("last event = %q, all = %v", types[len(types)-1], types)
	}
	if !strings.Contains(sawText, "streamed answer") {
		t.Errorf("assembled deltas = %q", sawText)
	}
	for _, typ := range types[:len(types)-1] {
		if typ == "exchange-failed" || typ == "exchange-complete" {
			t.Errorf("terminal event before the end: %v", types)
		}
	}
}

func TestExchange_UpstreamErrorSurfacesAsJSON(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /chat/completions", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error"}}`)
	})
	upstream := httptest.NewServer(mux)
	t.Cleanup(upstream.Close)

	srv := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/exchange", strings.NewReader(exchangeBody(upstream.URL, false)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	// The only provider's credentials were rejected, so the pool is empty
	// and the exchange fails with budget exhaustion.
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Error struct {
			Kind string `json:"kind"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding error body: %v", err)
	}
	if body.Error.Kind != "budget_exhausted" {
		t.Errorf("kind = %q", body.Error.Kind)
	}
}

func TestServerAuthAppliesToAPIRoutes(t *testing.T) {
	srv := newTestServer(t, &Config{MasterKey: "gate-key"})

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("health status = %d", rec.Code)
	}
}
