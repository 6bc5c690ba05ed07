package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alfredjeanlab/listings/internal/logger"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestAuthMiddleware(t *testing.T) {
	for _, tc := range []struct {
		name   string
		token  string
		method string
		path   string
		auth   string
		want   int
	}{
		{"Disabled", "", "POST", "/v1/runs", "", http.StatusOK},
		{"NoHeader", "secret", "POST", "/v1/runs", "", http.StatusUnauthorized},
		{"WrongToken", "secret", "POST", "/v1/runs", "Bearer nope", http.StatusUnauthorized},
		{"InvalidScheme", "secret", "POST", "/v1/runs", "Basic c2VjcmV0", http.StatusUnauthorized},
		{"CorrectToken", "secret", "POST", "/v1/runs", "Bearer secret", http.StatusOK},
		{"HealthExempt", "secret", "GET", "/v1/health", "", http.StatusOK},
		{"MetricsExempt", "secret", "GET", "/metrics", "", http.StatusOK},
		{"ListingsGuarded", "secret", "GET", "/v1/listings", "", http.StatusUnauthorized},
	} {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.path, nil)
			if tc.auth != "" {
				req.Header.Set("Authorization", tc.auth)
			}
			rec := httptest.NewRecorder()
			AuthMiddleware(tc.token, okHandler).ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	panicking := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") })
	rec := httptest.NewRecorder()
	RecoveryMiddleware(logger.Nop(), panicking).ServeHTTP(rec, httptest.NewRequest("GET", "/v1/health", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestLoggingMiddleware_KeepsStatusAndFlusher(t *testing.T) {
	var flushable bool
	h := LoggingMiddleware(logger.Nop(), http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, flushable = w.(http.Flusher)
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	if rec.Code != http.StatusTeapot || !flushable {
		t.Fatalf("status %d flushable %v", rec.Code, flushable)
	}
}
