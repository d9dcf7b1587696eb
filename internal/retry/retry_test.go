package retry

import (
	"context"
	"testing"
	"time"

	"github.com/openfolio/venuelink/errs"
)

func fastPolicy(maxRetries int) Policy {
	return Policy{MaxRetries: maxRetries, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestNonRetryableFailsOnFirstAttempt(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fastPolicy(3), func(context.Context) (string, error) {
		calls++
		return "", errs.New("binance", errs.ClassClient, errs.WithHTTP(400))
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Fatalf("client error invoked fn %d times, want exactly 1", calls)
	}
}

func TestAuthErrorNeverRetried(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fastPolicy(5), func(context.Context) (int, error) {
		calls++
		return 0, errs.InvalidCredentials("okx", nil)
	})
	if err == nil || calls != 1 {
		t.Fatalf("auth error invoked fn %d times (err=%v), want exactly 1", calls, err)
	}
}

func TestServerErrorRetriedUntilSuccess(t *testing.T) {
	calls := 0
	out, err := Do(context.Background(), fastPolicy(3), func(context.Context) (string, error) {
		calls++
		if calls <= 2 {
			return "", errs.New("binance", errs.ClassServer, errs.WithHTTP(503))
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("fn invoked %d times, want exactly 3", calls)
	}
	if out != "ok" {
		t.Fatalf("out = %q, want ok", out)
	}
}

func TestRetryBudgetExhausted(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fastPolicy(2), func(context.Context) (string, error) {
		calls++
		return "", errs.New("okx", errs.ClassNetwork)
	})
	if err == nil {
		t.Fatal("expected error after budget exhausted")
	}
	if calls != 3 {
		t.Fatalf("fn invoked %d times, want 3 (initial + 2 retries)", calls)
	}
}

func TestRetryAfterHintDelaysNextAttempt(t *testing.T) {
	calls := 0
	start := time.Now()
	_, err := Do(context.Background(), Policy{MaxRetries: 1, BaseDelay: time.Millisecond, MaxDelay: time.Second},
		func(context.Context) (string, error) {
			calls++
			if calls == 1 {
				return "", errs.New("binance", errs.ClassRateLimit, errs.WithRetryAfter(100*time.Millisecond))
			}
			return "ok", nil
		})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 90*time.Millisecond {
		t.Fatalf("retry fired after %s, want >= ~100ms per retry-after hint", elapsed)
	}
}

func TestContextCancelStopsRetries(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	calls := 0
	_, err := Do(ctx, Policy{MaxRetries: 5, BaseDelay: time.Second, MaxDelay: time.Second},
		func(context.Context) (string, error) {
			calls++
			return "", errs.New("okx", errs.ClassTimeout)
		})
	if err == nil {
		t.Fatal("expected context error")
	}
	if calls != 1 {
		t.Fatalf("fn invoked %d times, want 1 before context cancel", calls)
	}
}
