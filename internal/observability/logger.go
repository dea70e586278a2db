// Package observability defines shared logging primitives.
package observability

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Logger captures structured logging behaviours shared across layers.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Error(msg string, fields ...Field)
}

// Field represents a key/value pair for structured logging.
type Field struct {
	Key   string
	Value any
}

// F constructs a field.
func F(key string, value any) Field {
	return Field{Key: key, Value: value}
}

var defaultLogger Logger = noopLogger{}

// SetLogger overrides the global logger used by the system.
func SetLogger(logger Logger) {
	if logger == nil {
		defaultLogger = noopLogger{}
		return
	}
	defaultLogger = logger
}

// Log returns the current global logger instance.
func Log() Logger {
	return defaultLogger
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...Field) {}
func (noopLogger) Info(string, ...Field)  {}
func (noopLogger) Error(string, ...Field) {}

// Throttled wraps a logger so error output during an outage is emitted at
// most once per interval instead of once per occurrence. Suppressed calls
// are counted and surfaced on the next emitted line.
type Throttled struct {
	inner   Logger
	limiter *rate.Limiter

	mu         sync.Mutex
	suppressed int64
}

// NewThrottled builds a rate-limited logger emitting at most one error per
// interval with a burst of one.
func NewThrottled(inner Logger, interval time.Duration) *Throttled {
	return &Throttled{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
	}
}

func (t *Throttled) Debug(msg string, fields ...Field) { t.inner.Debug(msg, fields...) }
func (t *Throttled) Info(msg string, fields ...Field)  { t.inner.Info(msg, fields...) }

// Error forwards to the wrapped logger when the limiter permits, otherwise
// the call is dropped and counted.
func (t *Throttled) Error(msg string, fields ...Field) {
	t.mu.Lock()
	if !t.limiter.Allow() {
		t.suppressed++
		t.mu.Unlock()
		return
	}
	if t.suppressed > 0 {
		fields = append(fields, F("suppressed", t.suppressed))
		t.suppressed = 0
	}
	t.mu.Unlock()
	t.inner.Error(msg, fields...)
}
