// Package errs provides structured error types shared across perpgate services.
package errs

import (
	"errors"
	"strconv"
	"strings"
)

// Code identifies a gateway error category.
type Code string

const (
	// CodeConnection indicates a transport-level failure; handled by reconnect.
	CodeConnection Code = "connection"
	// CodeAuth indicates a rejected handshake or signature.
	CodeAuth Code = "auth"
	// CodeValidation indicates a local precondition failure, never sent to the venue.
	CodeValidation Code = "validation"
	// CodeOrderRejected indicates the venue declined a specific request.
	CodeOrderRejected Code = "order_rejected"
	// CodeNonce indicates the venue rejected a request sequence number.
	CodeNonce Code = "nonce"
	// CodeStale indicates reconciler-detected staleness.
	CodeStale Code = "stale_data"
	// CodeUnsupported indicates the venue lacks the requested capability.
	CodeUnsupported Code = "unsupported"
	// CodeRateLimited indicates the request exceeded venue rate limits.
	CodeRateLimited Code = "rate_limited"
	// CodeExchange indicates an uncategorized venue-side failure.
	CodeExchange Code = "exchange_error"
)

// E captures structured error information produced across the gateway stack.
type E struct {
	Venue   string
	Code    Code
	HTTP    int
	RawCode string
	RawMsg  string
	Message string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the venue and error code.
func New(venue string, code Code, opts ...Option) *E {
	e := &E{Venue: strings.TrimSpace(venue), Code: code}
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

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

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
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// CodeOf extracts the gateway error code from err, or empty when err carries no envelope.
func CodeOf(err error) Code {
	var e *E
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries the given gateway code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// NotSupported returns a standardized error for unsupported capabilities.
func NotSupported(venue, msg string) *E {
	return New(venue, CodeUnsupported, WithMessage(msg))
}
