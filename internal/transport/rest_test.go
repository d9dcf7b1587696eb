package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/openfolio/venuelink/errs"
	"github.com/openfolio/venuelink/internal/ratelimit"
	"github.com/openfolio/venuelink/internal/retry"
)

func fastPolicy() retry.Policy {
	return retry.Policy{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestDoReturnsBodyOnSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := NewClient("binance", srv.Client(), nil, fastPolicy())
	body, err := c.Do(context.Background(), Get(srv.URL))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(body) != `{"ok":true}` {
		t.Fatalf("body = %s", body)
	}
}

func TestDoClassifiesClientErrorWithoutRetry(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, `{"code":-1102,"msg":"bad param"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient("binance", srv.Client(), nil, fastPolicy())
	_, err := c.Do(context.Background(), Get(srv.URL))
	if err == nil {
		t.Fatal("expected error")
	}
	if got := errs.ClassOf(err); got != errs.ClassClient {
		t.Fatalf("class = %s, want client", got)
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("server hit %d times, want 1 (client errors must not retry)", n)
	}
}

func TestDoRetriesServerErrorsThenSucceeds(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) <= 2 {
			http.Error(w, "maintenance", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := NewClient("okx", srv.Client(), nil, fastPolicy())
	body, err := c.Do(context.Background(), Get(srv.URL))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(body) != "ok" {
		t.Fatalf("body = %s", body)
	}
	if n := calls.Load(); n != 3 {
		t.Fatalf("server hit %d times, want 3", n)
	}
}

func TestDoPropagatesRetryAfterHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient("binance", srv.Client(), nil, retry.Policy{MaxRetries: 0, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond})
	_, err := c.Do(context.Background(), Get(srv.URL))
	if err == nil {
		t.Fatal("expected error")
	}
	if got := errs.ClassOf(err); got != errs.ClassRateLimit {
		t.Fatalf("class = %s, want rate_limit", got)
	}
	if got := errs.RetryAfterOf(err); got != 7*time.Second {
		t.Fatalf("retry-after = %s, want 7s", got)
	}
}

func TestDoAppliesAdmissionControl(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	limiter := ratelimit.NewWindow(ratelimit.Limit{MaxRequests: 1, Window: 150 * time.Millisecond}, nil)
	c := NewClient("binance", srv.Client(), limiter, fastPolicy())

	start := time.Now()
	if _, err := c.Do(context.Background(), Get(srv.URL)); err != nil {
		t.Fatalf("first call: %v", err)
	}
	if _, err := c.Do(context.Background(), Get(srv.URL)); err != nil {
		t.Fatalf("second call: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 130*time.Millisecond {
		t.Fatalf("second call completed after %s, want blocked until window reset", elapsed)
	}
}
