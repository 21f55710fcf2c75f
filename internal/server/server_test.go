package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/exambook/apiserver/config"
)

func memoryConfig() config.Config {
	return config.Config{
		Env: "test",
		Server: config.ServerConfig{
			AllowedOrigins:    []string{"http://localhost:5173"},
			RateLimitRequests: 2,
			RateLimitWindow:   time.Minute,
		},
		Database: config.DatabaseConfig{Backend: "memory"},
		Auth: config.AuthConfig{
			AccessSecret:  "access",
			RefreshSecret: "refresh",
			ResetSecret:   "reset",
		},
		Media: config.MediaConfig{Backend: "memory"},
		Mail:  config.MailConfig{Transport: "smtp", SMTPHost: "localhost", SMTPPort: 2525},
	}
}

func newTestServer(t *testing.T, cfg config.Config) *Server {
	t.Helper()

	srv, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	t.Cleanup(func() {
		_ = srv.Shutdown(context.Background())
	})
	return srv
}

func TestNewRequiresSecrets(t *testing.T) {
	cfg := memoryConfig()
	cfg.Auth.RefreshSecret = ""
	if _, err := New(context.Background(), cfg); err == nil {
		t.Fatalf("expected missing refresh secret to fail")
	}
}

func TestNewRejectsUnknownStore(t *testing.T) {
	cfg := memoryConfig()
	cfg.Database.Backend = "mongo"
	if _, err := New(context.Background(), cfg); err == nil {
		t.Fatalf("expected unknown store backend to fail")
	}
}

func TestRoutesAndMiddleware(t *testing.T) {
	srv := newTestServer(t, memoryConfig())

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz: %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "http_requests_total") {
		t.Fatalf("metrics endpoint missing request series: %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/books/books", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("list books: %d %s", rec.Code, rec.Body.String())
	}

	req := httptest.NewRequest(http.MethodOptions, "/api/books/books", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "http://localhost:5173" {
		t.Fatalf("expected cors headers, got %v", rec.Header())
	}
	if rec.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Fatalf("expected credentialed cors")
	}
}

func TestLoginIsRateLimited(t *testing.T) {
	srv := newTestServer(t, memoryConfig())

	var last int
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/user/login", strings.NewReader(`{}`))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "203.0.113.7:5000"
		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, req)
		last = rec.Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("expected third login to be throttled, got %d", last)
	}
}

func TestRedisRevokerIsUsedWhenConfigured(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := memoryConfig()
	cfg.Redis.Addr = mr.Addr()

	srv := newTestServer(t, cfg)
	if srv.redis == nil {
		t.Fatalf("expected redis client to be opened")
	}
}

func TestQueueTransportOpensBroker(t *testing.T) {
	cfg := memoryConfig()
	cfg.Mail.Transport = "queue"
	cfg.Mail.Queue = "mail"
	cfg.MQ.Backend = "memory"

	srv := newTestServer(t, cfg)
	if srv.queue == nil {
		t.Fatalf("expected mail queue to be opened")
	}
}
