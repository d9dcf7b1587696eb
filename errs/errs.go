// Package errs provides structured error types shared across venue adapters
// and chain providers.
package errs

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

// Class identifies a failure category. The set is closed: every venue or
// chain error must be folded into one of these values exactly once, at the
// transport boundary.
type Class string

const (
	// ClassAuth indicates invalid or expired credentials, or clock skew
	// beyond the venue's tolerance. Never retryable.
	ClassAuth Class = "auth"
	// ClassRateLimit indicates the venue rejected the request for exceeding
	// rate limits.
	ClassRateLimit Class = "rate_limit"
	// ClassNetwork indicates a transport-level failure before a response
	// was received.
	ClassNetwork Class = "network"
	// ClassTimeout indicates the request or its context deadline expired.
	ClassTimeout Class = "timeout"
	// ClassServer indicates a venue-side failure (HTTP 5xx or equivalent).
	ClassServer Class = "server"
	// ClassClient indicates a malformed or otherwise invalid request
	// (HTTP 4xx other than auth/rate-limit). Never retryable.
	ClassClient Class = "client"
	// ClassUnknown captures failures that fit no other class.
	ClassUnknown Class = "unknown"
)

// Retryable reports whether a failure class may succeed on a repeat attempt.
func Retryable(class Class) bool {
	switch class {
	case ClassRateLimit, ClassNetwork, ClassTimeout, ClassServer:
		return true
	default:
		return false
	}
}

// E captures structured error information produced across the integration
// layer.
type E struct {
	Venue      string
	Class      Class
	HTTP       int
	RawCode    string
	RawMsg     string
	Message    string
	RetryAfter time.Duration

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the venue and failure class.
func New(venue string, class Class, opts ...Option) *E {
	e := &E{
		Venue:      strings.TrimSpace(venue),
		Class:      class,
		HTTP:       0,
		RawCode:    "",
		RawMsg:     "",
		Message:    "",
		RetryAfter: 0,
		cause:      nil,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithHTTP records the associated HTTP status code.
func WithHTTP(status int) Option {
	return func(e *E) {
		e.HTTP = status
	}
}

// WithRawCode captures the raw venue error code.
func WithRawCode(code string) Option {
	trimmed := strings.TrimSpace(code)
	return func(e *E) {
		e.RawCode = trimmed
	}
}

// WithRawMessage captures the raw venue error message.
func WithRawMessage(msg string) Option {
	return func(e *E) {
		e.RawMsg = msg
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

// WithRetryAfter records a venue-supplied retry-after hint.
func WithRetryAfter(d time.Duration) Option {
	return func(e *E) {
		if d > 0 {
			e.RetryAfter = d
		}
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	venue := strings.TrimSpace(e.Venue)
	if venue == "" {
		venue = "unknown"
	}
	parts = append(parts, "venue="+venue)

	class := strings.TrimSpace(string(e.Class))
	if class == "" {
		class = string(ClassUnknown)
	}
	parts = append(parts, "class="+class)

	if e.HTTP > 0 {
		parts = append(parts, "http="+strconv.Itoa(e.HTTP))
	}
	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if e.RawCode != "" {
		parts = append(parts, "raw_code="+strconv.Quote(e.RawCode))
	}
	if e.RawMsg != "" {
		parts = append(parts, "raw_msg="+strconv.Quote(e.RawMsg))
	}
	if e.RetryAfter > 0 {
		parts = append(parts, "retry_after="+e.RetryAfter.String())
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// ClassOf extracts the failure class from err, unwrapping as needed.
// Errors that never passed through the transport boundary classify as
// unknown.
func ClassOf(err error) Class {
	var e *E
	if errors.As(err, &e) && e != nil {
		if strings.TrimSpace(string(e.Class)) != "" {
			return e.Class
		}
	}
	return ClassUnknown
}

// RetryAfterOf extracts a venue-supplied retry-after hint, or zero.
func RetryAfterOf(err error) time.Duration {
	var e *E
	if errors.As(err, &e) && e != nil {
		return e.RetryAfter
	}
	return 0
}

// IsRetryable reports whether err belongs to a retryable class.
func IsRetryable(err error) bool {
	return Retryable(ClassOf(err))
}

// FromHTTPStatus folds an HTTP status code into a failure class.
func FromHTTPStatus(status int) Class {
	switch {
	case status == 401 || status == 403:
		return ClassAuth
	case status == 408:
		return ClassTimeout
	case status == 429 || status == 418:
		return ClassRateLimit
	case status >= 500:
		return ClassServer
	case status >= 400:
		return ClassClient
	default:
		return ClassUnknown
	}
}

// NotSupported returns a standardized error for operations a venue does not
// offer. Callers should consult ExchangeInfo capabilities instead of relying
// on this error.
func NotSupported(venue, op string) *E {
	return New(venue, ClassClient, WithMessage(op+" not supported"))
}

// InvalidCredentials returns the standardized connect-failure error.
func InvalidCredentials(venue string, cause error) *E {
	return New(venue, ClassAuth, WithMessage("invalid credentials"), WithCause(cause))
}
