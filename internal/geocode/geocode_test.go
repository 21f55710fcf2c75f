package geocode

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestReverse(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		if r.URL.Query().Get("key") != "test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[{"formatted":"MG Road, Bengaluru, India"}]}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-key")
	got := client.Reverse(context.Background(), 12.9, 77.6)

	if got != "MG Road, Bengaluru, India" {
		t.Fatalf("unexpected address: %q", got)
	}
	if gotQuery != "12.9 77.6" {
		t.Fatalf("expected latitude first in query, got %q", gotQuery)
	}
}

func TestReverseFallbacks(t *testing.T) {
	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results":[]}`))
	}))
	defer empty.Close()

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
	}))
	defer failing.Close()

	garbage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer garbage.Close()

	cases := []struct {
		name   string
		client *Client
		want   string
	}{
		{"no results", NewClient(empty.URL, "k"), UnknownLocation},
		{"error status", NewClient(failing.URL, "k"), LookupFailed},
		{"bad body", NewClient(garbage.URL, "k"), LookupFailed},
		{"no key", NewClient(empty.URL, ""), UnknownLocation},
		{"unreachable", NewClient("http://127.0.0.1:1", "k"), LookupFailed},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.client.Reverse(context.Background(), 1, 2); got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}
