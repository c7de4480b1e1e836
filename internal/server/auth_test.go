package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func newAuthEcho(masterKey string, skipPaths []string) *echo.Echo {
	e := echo.New()
	e.Use(AuthMiddleware(masterKey, skipPaths))
	ok := func(c echo.Context) error { return c.String(http.StatusOK, "ok") }
	e.GET("/health", ok)
	e.GET("/v1/models", ok)
	return e
}

func TestAuthMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		authHeader string
		wantStatus int
	}{
		{"missing header", "/v1/models", "", http.StatusUnauthorized},
		{"wrong scheme", "/v1/models", "Basic c2VjcmV0", http.StatusUnauthorized},
		{"wrong key", "/v1/models", "Bearer not-the-key", http.StatusUnauthorized},
		{"correct key", "/v1/models", "Bearer secret-key", http.StatusOK},
		{"skip path needs no key", "/health", "", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newAuthEcho("secret-key", []string{"/health"})

			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestAuthMiddleware_EmptyKeyDisablesAuth(t *testing.T) {
	e := newAuthEcho("", nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}
