package gateway

import (
	"sync"

	"github.com/perpgate/perpgate/internal/observability"
)

// Status is the session lifecycle state of a venue gateway.
type Status string

const (
	// StatusUninitialized means no session work has started.
	StatusUninitialized Status = "uninitialized"
	// StatusInitializing means the first session setup is in flight.
	StatusInitializing Status = "initializing"
	// StatusReady means streams are live and mutating operations may proceed.
	StatusReady Status = "ready"
	// StatusDegraded means the session is up but one or more streams are stale.
	StatusDegraded Status = "degraded"
	// StatusReconnecting means the transport dropped and recovery is in flight.
	StatusReconnecting Status = "reconnecting"
	// StatusFailed means initialization failed; a later call may retry.
	StatusFailed Status = "failed"
	// StatusClosed means the gateway was shut down and will not recover.
	StatusClosed Status = "closed"
)

var statusTransitions = map[Status][]Status{
	StatusUninitialized: {StatusInitializing, StatusClosed},
	// A transport drop can land while setup is still in flight.
	StatusInitializing: {StatusReady, StatusReconnecting, StatusFailed, StatusClosed},
	StatusReady:        {StatusDegraded, StatusReconnecting, StatusClosed},
	StatusDegraded:     {StatusReady, StatusReconnecting, StatusClosed},
	// Staleness can escalate while a reconnect is still in flight.
	StatusReconnecting: {StatusReady, StatusDegraded, StatusClosed},
	StatusFailed:        {StatusInitializing, StatusClosed},
	StatusClosed:        {},
}

// StatusTracker enforces legal lifecycle transitions. An illegal transition
// is refused and logged rather than corrupting the state.
type StatusTracker struct {
	venue string
	log   observability.Logger

	mu      sync.Mutex
	current Status
}

// NewStatusTracker starts a tracker in the uninitialized state.
func NewStatusTracker(venue string) *StatusTracker {
	return &StatusTracker{venue: venue, log: observability.Log(), current: StatusUninitialized}
}

// Current returns the present state.
func (t *StatusTracker) Current() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// To attempts the transition and reports whether it was legal.
func (t *StatusTracker) To(next Status) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == next {
		return true
	}
	for _, allowed := range statusTransitions[t.current] {
		if allowed == next {
			t.log.Debug("gateway state transition",
				observability.F("venue", t.venue),
				observability.F("from", string(t.current)),
				observability.F("to", string(next)))
			t.current = next
			return true
		}
	}
	t.log.Error("illegal gateway state transition refused",
		observability.F("venue", t.venue),
		observability.F("from", string(t.current)),
		observability.F("to", string(next)))
	return false
}
