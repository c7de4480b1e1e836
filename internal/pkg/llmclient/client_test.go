package llmclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"llmgate/internal/core"
)

func newTestClient(baseURL string) *Client {
	return NewWithHTTPClient(http.DefaultClient, Config{
		ProviderName: "testvendor",
		BaseURL:      baseURL,
	}, func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer test-key")
	})
}

func TestClient_Do_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Errorf("Content-Type = %q", got)
		}
		w.Header().Set("x-ratelimit-remaining-requests", "99")
		w.Write([]byte(`{"id":"resp-1"}`))
	}))
	defer srv.Close()

	var result struct {
		ID string `json:"id"`
	}
	resp, err := newTestClient(srv.URL).Do(context.Background(), Request{
		Method:   http.MethodPost,
		Endpoint: "/chat/completions",
		Body:     map[string]string{"model": "m"},
	}, &result)
	if err != nil {
		t.Fatalf("Do() failed: %v", err)
	}
	if result.ID != "resp-1" {
		t.Errorf("ID = %q", result.ID)
	}
	if resp.Header.Get("x-ratelimit-remaining-requests") != "99" {
		t.Error("rate-limit headers must be preserved")
	}
}

func TestClient_Do_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		header     http.Header
		wantKind   core.ErrorKind
		wantRetry  time.Duration
	}{
		{"unauthorized", 401, nil, core.KindAuth, 0},
		{"rate limited", 429, http.Header{"Retry-After": []string{"7"}}, core.KindTransient, 7 * time.Second},
		{"bad request", 400, nil, core.KindPermanent, 0},
		{"server error", 502, nil, core.KindTransient, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				for k, vals := range tt.header {
					for _, v := range vals {
						w.Header().Add(k, v)
					}
				}
				w.WriteHeader(tt.statusCode)
				w.Write([]byte(`{"error":{"message":"upstream says no"}}`))
			}))
			defer srv.Close()

			_, err := newTestClient(srv.URL).Do(context.Background(), Request{
				Method:   http.MethodPost,
				Endpoint: "/chat/completions",
			}, nil)
			if err == nil {
				t.Fatal("expected error")
			}

			var ge *core.GatewayError
			if !errors.As(err, &ge) {
				t.Fatalf("expected GatewayError, got %T", err)
			}
			if ge.Kind != tt.wantKind {
				t.Errorf("Kind = %v, want %v", ge.Kind, tt.wantKind)
			}
			if ge.StatusCode != tt.statusCode {
				t.Errorf("StatusCode = %d, want %d", ge.StatusCode, tt.statusCode)
			}
			if ge.RetryAfter != tt.wantRetry {
				t.Errorf("RetryAfter = %v, want %v", ge.RetryAfter, tt.wantRetry)
			}
		})
	}
}

func TestClient_Do_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id": truncated`))
	}))
	defer srv.Close()

	var result map[string]any
	_, err := newTestClient(srv.URL).Do(context.Background(), Request{
		Method:   http.MethodPost,
		Endpoint: "/x",
	}, &result)

	if got := core.KindOf(err); got != core.KindMalformedUpstream {
		t.Errorf("KindOf = %v, want malformed_upstream_response", got)
	}
}

func TestClient_Do_ConnectionFailure(t *testing.T) {
	// Reserved port that nothing listens on.
	c := newTestClient("http://127.0.0.1:1")

	_, err := c.Do(context.Background(), Request{Method: http.MethodGet, Endpoint: "/x"}, nil)
	var ge *core.GatewayError
	if !errors.As(err, &ge) {
		t.Fatalf("expected GatewayError, got %T", err)
	}
	if ge.Kind != core.KindTransient || ge.StatusCode != 0 {
		t.Errorf("got kind=%v status=%d, want transient status 0", ge.Kind, ge.StatusCode)
	}
}

func TestClient_DoStream_SetsAcceptHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Accept"); got != "text/event-stream" {
			t.Errorf("Accept = %q", got)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("data: {}\n\n"))
	}))
	defer srv.Close()

	resp, err := newTestClient(srv.URL).DoStream(context.Background(), Request{
		Method:   http.MethodPost,
		Endpoint: "/stream",
	})
	if err != nil {
		t.Fatalf("DoStream() failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d", resp.StatusCode)
	}
}

func TestClient_DoStream_ErrorBeforeStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"slow down"}}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).DoStream(context.Background(), Request{
		Method:   http.MethodPost,
		Endpoint: "/stream",
	})
	if got := core.KindOf(err); got != core.KindTransient {
		t.Errorf("KindOf = %v, want transient", got)
	}
}
