package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/perpgate/perpgate/internal/observability"
)

// Initializer memoizes a one-time setup routine. The first caller runs it;
// concurrent callers share that attempt's outcome instead of starting their
// own. After a failure, new calls within the backoff window fail immediately
// with the previous error, and repeated failure logs are debounced.
type Initializer struct {
	run func(ctx context.Context) error
	bo  *backoff.ExponentialBackOff
	log observability.Logger
	now func() time.Time

	mu      sync.Mutex
	ready   bool
	attempt chan struct{}
	lastErr error
	nextTry time.Time
}

// NewInitializer wraps run with shared-attempt semantics. errorDebounce
// bounds how often failures are logged.
func NewInitializer(run func(ctx context.Context) error, errorDebounce time.Duration) *Initializer {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 30 * time.Second
	return &Initializer{
		run: run,
		bo:  bo,
		log: observability.NewThrottled(observability.Log(), errorDebounce),
		now: time.Now,
	}
}

// Ensure returns nil once initialization has succeeded, running it if needed.
func (i *Initializer) Ensure(ctx context.Context) error {
	for {
		i.mu.Lock()
		if i.ready {
			i.mu.Unlock()
			return nil
		}
		if i.attempt != nil {
			wait := i.attempt
			i.mu.Unlock()
			select {
			case <-wait:
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		if i.lastErr != nil && i.now().Before(i.nextTry) {
			err := i.lastErr
			i.mu.Unlock()
			return err
		}
		done := make(chan struct{})
		i.attempt = done
		i.mu.Unlock()

		err := i.run(ctx)

		i.mu.Lock()
		i.attempt = nil
		if err == nil {
			i.ready = true
			i.lastErr = nil
			i.bo.Reset()
		} else {
			i.lastErr = err
			i.nextTry = i.now().Add(i.bo.NextBackOff())
			i.log.Error("gateway initialization failed",
				observability.F("error", err.Error()))
		}
		i.mu.Unlock()
		close(done)
		return err
	}
}

// Ready reports whether initialization has completed successfully.
func (i *Initializer) Ready() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.ready
}
