package httpx

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	clierr "github.com/ncastellan/flare-portfolio/internal/errors"
)

func TestGetJSONRetriesServerError(t *testing.T) {
	var count int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&count, 1)
		if n == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"x"}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	client := New(2*time.Second, 1)
	var out map[string]any
	if _, err := GetJSON(context.Background(), client, srv.URL, &out); err != nil {
		t.Fatalf("GetJSON failed: %v", err)
	}
	if out["ok"] != true {
		t.Fatalf("unexpected response: %#v", out)
	}
}

func TestGetJSONRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := New(2*time.Second, 0)
	_, err := GetJSON(context.Background(), client, srv.URL, nil)
	if err == nil {
		t.Fatalf("expected error")
	}
	cliErr, ok := clierr.As(err)
	if !ok || cliErr.Code != clierr.CodeRateLimited {
		t.Fatalf("expected rate-limited error, got %v", err)
	}
}

func TestGetJSONNonRetryableClientError(t *testing.T) {
	var count int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&count, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	client := New(2*time.Second, 3)
	if _, err := GetJSON(context.Background(), client, srv.URL, nil); err == nil {
		t.Fatalf("expected error")
	}
	if atomic.LoadInt32(&count) != 1 {
		t.Fatalf("4xx must not be retried, got %d attempts", count)
	}
}
