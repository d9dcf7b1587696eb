// Package transport wraps venue REST calls with admission control, retry,
// error classification, and telemetry. Every adapter pull query goes through
// a Client.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/openfolio/venuelink/errs"
	"github.com/openfolio/venuelink/internal/ratelimit"
	"github.com/openfolio/venuelink/internal/retry"
	"github.com/openfolio/venuelink/internal/telemetry"
)

const maxErrorBodyBytes = 4 << 10

// RequestBuilder constructs a fresh request for each attempt. Builders must
// regenerate signatures and timestamps on every call, otherwise retried
// requests carry stale signing material.
type RequestBuilder func(ctx context.Context) (*http.Request, error)

// Client executes venue REST requests with fixed-window admission and
// classification-aware retry.
type Client struct {
	venue   string
	http    *http.Client
	limiter *ratelimit.Window
	policy  retry.Policy

	requests metric.Int64Counter
	failures metric.Int64Counter
}

// NewClient constructs a transport client for one adapter instance. The
// limiter must be owned exclusively by that instance.
func NewClient(venue string, httpClient *http.Client, limiter *ratelimit.Window, policy retry.Policy) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	c := &Client{
		venue:    venue,
		http:     httpClient,
		limiter:  limiter,
		policy:   policy,
		requests: nil,
		failures: nil,
	}
	meter := telemetry.Meter("transport")
	c.requests, _ = meter.Int64Counter("venuelink_rest_requests_total",
		metric.WithDescription("REST requests issued per venue"),
		metric.WithUnit("{request}"))
	c.failures, _ = meter.Int64Counter("venuelink_rest_failures_total",
		metric.WithDescription("REST requests that exhausted retries per venue"),
		metric.WithUnit("{request}"))
	return c
}

// Do executes the request with admission control and retry, returning the
// response body on success. Non-2xx responses and transport failures come
// back as classified *errs.E values.
func (c *Client) Do(ctx context.Context, build RequestBuilder) ([]byte, error) {
	return c.DoChecked(ctx, build, nil)
}

// DoChecked behaves like Do but additionally runs check on each attempt's
// body inside the retry loop. Venues that report failures inside HTTP 200
// envelopes use check to surface classified errors so retryable venue codes
// still retry.
func (c *Client) DoChecked(ctx context.Context, build RequestBuilder, check func([]byte) error) ([]byte, error) {
	body, err := retry.Do(ctx, c.policy, func(ctx context.Context) ([]byte, error) {
		payload, err := c.once(ctx, build)
		if err != nil {
			return nil, err
		}
		if check != nil {
			if err := check(payload); err != nil {
				return nil, err
			}
		}
		return payload, nil
	})
	if err != nil {
		c.count(ctx, c.failures)
		return nil, err
	}
	return body, nil
}

func (c *Client) once(ctx context.Context, build RequestBuilder) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, errs.New(c.venue, errs.ClassTimeout, WithCancellation(err))
		}
	}
	req, err := build(ctx)
	if err != nil {
		return nil, errs.New(c.venue, errs.ClassClient,
			errs.WithMessage("build request"), errs.WithCause(err))
	}
	c.count(ctx, c.requests)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyTransportError(c.venue, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		opts := []errs.Option{
			errs.WithHTTP(resp.StatusCode),
			errs.WithRawMessage(strings.TrimSpace(string(snippet))),
		}
		if after := parseRetryAfter(resp.Header.Get("Retry-After")); after > 0 {
			opts = append(opts, errs.WithRetryAfter(after))
		}
		return nil, errs.New(c.venue, errs.FromHTTPStatus(resp.StatusCode), opts...)
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.New(c.venue, errs.ClassNetwork,
			errs.WithMessage("read response body"), errs.WithCause(err))
	}
	return payload, nil
}

func (c *Client) count(ctx context.Context, counter metric.Int64Counter) {
	if counter == nil {
		return
	}
	counter.Add(ctx, 1, metric.WithAttributes(
		telemetry.AttrVenue.String(c.venue),
		telemetry.AttrEnvironment.String(telemetry.Environment()),
	))
}

// WithCancellation tags a context cancellation on the envelope so blocked
// admission reads as a timeout rather than an unknown failure.
func WithCancellation(err error) errs.Option {
	return errs.WithCause(err)
}

func classifyTransportError(venue string, err error) *errs.E {
	class := errs.ClassNetwork
	if errors.Is(err, context.DeadlineExceeded) {
		class = errs.ClassTimeout
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		class = errs.ClassTimeout
	}
	return errs.New(venue, class, errs.WithCause(err))
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(header); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

// Get is a convenience builder for unauthenticated GET probes.
func Get(url string) RequestBuilder {
	return func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		return req, nil
	}
}
