package reconcile

import (
	"sync"
	"time"
)

// Stream identifies a monitored data stream for freshness tracking.
type Stream string

const (
	StreamDepth   Stream = "depth"
	StreamTicker  Stream = "ticker"
	StreamOrders  Stream = "orders"
	StreamAccount Stream = "account"
)

// Freshness tracks per-stream last-update timestamps and signals staleness
// escalation when a stream exceeds its configured max age. The facade
// translates the signal into a forced reconnect or a trading halt.
type Freshness struct {
	mu      sync.Mutex
	maxAge  map[string]time.Duration
	updated map[Stream]time.Time
	stale   map[Stream]bool
	clock   func() time.Time
	onStale func(Stream, time.Duration)
}

// NewFreshness constructs a tracker from the per-stream max age table.
func NewFreshness(maxAge map[string]time.Duration) *Freshness {
	return &Freshness{
		maxAge:  maxAge,
		updated: make(map[Stream]time.Time),
		stale:   make(map[Stream]bool),
		clock:   time.Now,
	}
}

// WithClock overrides the internal clock, primarily for testing.
func (f *Freshness) WithClock(clock func() time.Time) *Freshness {
	f.mu.Lock()
	defer f.mu.Unlock()
	if clock != nil {
		f.clock = clock
	}
	return f
}

// OnStale registers the escalation callback invoked once per stale
// transition (not per check).
func (f *Freshness) OnStale(fn func(stream Stream, age time.Duration)) {
	f.mu.Lock()
	f.onStale = fn
	f.mu.Unlock()
}

// Touch records an authoritative update for the stream.
func (f *Freshness) Touch(stream Stream) {
	f.mu.Lock()
	f.updated[stream] = f.clock()
	f.stale[stream] = false
	f.mu.Unlock()
}

// Check evaluates every touched stream against its max age, firing the
// escalation callback for fresh-to-stale transitions. It returns the streams
// currently stale.
func (f *Freshness) Check() []Stream {
	f.mu.Lock()
	now := f.clock()
	var escalate []struct {
		stream Stream
		age    time.Duration
	}
	var staleList []Stream
	for stream, at := range f.updated {
		maxAge, ok := f.maxAge[string(stream)]
		if !ok || maxAge <= 0 {
			continue
		}
		age := now.Sub(at)
		if age <= maxAge {
			continue
		}
		staleList = append(staleList, stream)
		if !f.stale[stream] {
			f.stale[stream] = true
			escalate = append(escalate, struct {
				stream Stream
				age    time.Duration
			}{stream, age})
		}
	}
	fn := f.onStale
	f.mu.Unlock()

	if fn != nil {
		for _, e := range escalate {
			fn(e.stream, e.age)
		}
	}
	return staleList
}

// AllFresh reports whether no monitored stream is currently stale.
func (f *Freshness) AllFresh() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, isStale := range f.stale {
		if isStale {
			return false
		}
	}
	return true
}
