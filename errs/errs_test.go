package errs

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestErrorFormattingIncludesClassAndRawFields(t *testing.T) {
	err := New(
		"binance",
		ClassClient,
		WithHTTP(400),
		WithMessage("invalid request payload"),
		WithRawCode("-1102"),
		WithRawMessage("Mandatory parameter was not sent"),
		WithCause(errors.New("binance http 400")),
	)

	out := err.Error()
	if !strings.Contains(out, "venue=binance") {
		t.Fatalf("expected venue marker in error string: %s", out)
	}
	if !strings.Contains(out, "class=client") {
		t.Fatalf("expected class marker in error string: %s", out)
	}
	if !strings.Contains(out, "raw_code=\"-1102\"") {
		t.Fatalf("expected raw code in error string: %s", out)
	}
	if !strings.Contains(out, "cause=\"binance http 400\"") {
		t.Fatalf("expected wrapped cause in error string: %s", out)
	}
}

func TestRetryableClasses(t *testing.T) {
	cases := map[Class]bool{
		ClassAuth:      false,
		ClassRateLimit: true,
		ClassNetwork:   true,
		ClassTimeout:   true,
		ClassServer:    true,
		ClassClient:    false,
		ClassUnknown:   false,
	}
	for class, want := range cases {
		if got := Retryable(class); got != want {
			t.Fatalf("Retryable(%s) = %v, want %v", class, got, want)
		}
	}
}

func TestClassOfUnwrapsThroughWrapping(t *testing.T) {
	inner := New("okx", ClassServer, WithHTTP(503))
	wrapped := fmt.Errorf("fetch balances: %w", inner)
	if got := ClassOf(wrapped); got != ClassServer {
		t.Fatalf("ClassOf(wrapped) = %s, want server", got)
	}
	if got := ClassOf(errors.New("plain")); got != ClassUnknown {
		t.Fatalf("ClassOf(plain) = %s, want unknown", got)
	}
}

func TestRetryAfterRoundTrip(t *testing.T) {
	err := New("binance", ClassRateLimit, WithRetryAfter(2*time.Second))
	wrapped := fmt.Errorf("spot balances: %w", err)
	if got := RetryAfterOf(wrapped); got != 2*time.Second {
		t.Fatalf("RetryAfterOf = %s, want 2s", got)
	}
	if RetryAfterOf(errors.New("plain")) != 0 {
		t.Fatal("expected zero retry-after for unclassified error")
	}
}

func TestFromHTTPStatus(t *testing.T) {
	cases := map[int]Class{
		200: ClassUnknown,
		401: ClassAuth,
		403: ClassAuth,
		408: ClassTimeout,
		418: ClassRateLimit,
		429: ClassRateLimit,
		400: ClassClient,
		404: ClassClient,
		500: ClassServer,
		503: ClassServer,
	}
	for status, want := range cases {
		if got := FromHTTPStatus(status); got != want {
			t.Fatalf("FromHTTPStatus(%d) = %s, want %s", status, got, want)
		}
	}
}

func TestInvalidCredentialsIsAuthClass(t *testing.T) {
	err := InvalidCredentials("upbit", errors.New("jwt verification failed"))
	if err.Class != ClassAuth {
		t.Fatalf("expected auth class, got %s", err.Class)
	}
	if IsRetryable(err) {
		t.Fatal("invalid credentials must not be retryable")
	}
}
