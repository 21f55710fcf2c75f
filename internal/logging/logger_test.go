package logging

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()

	previous := Logger()
	prevLevel := zerolog.GlobalLevel()
	t.Cleanup(func() {
		SetLogger(previous)
		zerolog.SetGlobalLevel(prevLevel)
	})

	var buf bytes.Buffer
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	SetLogger(zerolog.New(&buf))
	return &buf
}

func TestRequestLoggerLevels(t *testing.T) {
	cases := []struct {
		status int
		level  string
	}{
		{http.StatusOK, `"level":"info"`},
		{http.StatusNotFound, `"level":"warn"`},
		{http.StatusInternalServerError, `"level":"error"`},
	}

	for _, tc := range cases {
		buf := captureLogs(t)

		handler := middleware.RequestID(RequestLogger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		})))

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/books/books", nil))

		out := buf.String()
		if !strings.Contains(out, tc.level) {
			t.Fatalf("status %d: expected %s in %s", tc.status, tc.level, out)
		}
		if !strings.Contains(out, `"request_id"`) {
			t.Fatalf("expected request id in %s", out)
		}
		if !strings.Contains(out, `"path":"/api/books/books"`) {
			t.Fatalf("expected path in %s", out)
		}
	}
}

func TestParseLevel(t *testing.T) {
	if parseLevel("WARN") != zerolog.WarnLevel {
		t.Fatalf("expected warn level")
	}
	if parseLevel("nonsense") != zerolog.InfoLevel {
		t.Fatalf("expected info fallback")
	}
}
