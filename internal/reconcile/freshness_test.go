package reconcile

import (
	"testing"
	"time"
)

func TestFreshnessEscalatesOncePerTransition(t *testing.T) {
	t0 := time.Unix(1700000000, 0)
	now := t0
	tracker := NewFreshness(map[string]time.Duration{
		"depth":  5 * time.Second,
		"ticker": 10 * time.Second,
	}).WithClock(func() time.Time { return now })

	var escalations []Stream
	tracker.OnStale(func(stream Stream, _ time.Duration) {
		escalations = append(escalations, stream)
	})

	tracker.Touch(StreamDepth)
	tracker.Touch(StreamTicker)

	now = t0.Add(6 * time.Second)
	stale := tracker.Check()
	if len(stale) != 1 || stale[0] != StreamDepth {
		t.Fatalf("expected only depth stale, got %v", stale)
	}
	if tracker.AllFresh() {
		t.Fatalf("tracker must report staleness")
	}

	// Second check without recovery: no duplicate escalation.
	tracker.Check()
	if len(escalations) != 1 {
		t.Fatalf("expected 1 escalation, got %d", len(escalations))
	}

	// A fresh update clears the stale flag and re-arms escalation.
	tracker.Touch(StreamDepth)
	if !tracker.AllFresh() {
		t.Fatalf("touch must clear staleness")
	}
	now = now.Add(6 * time.Second)
	tracker.Check()
	if len(escalations) != 2 {
		t.Fatalf("expected re-escalation after recovery, got %d", len(escalations))
	}
}

func TestFreshnessIgnoresUnconfiguredStreams(t *testing.T) {
	now := time.Unix(1700000000, 0)
	tracker := NewFreshness(map[string]time.Duration{"depth": time.Second}).
		WithClock(func() time.Time { return now })
	tracker.Touch(StreamAccount)
	now = now.Add(time.Hour)
	if stale := tracker.Check(); len(stale) != 0 {
		t.Fatalf("unconfigured stream must not go stale: %v", stale)
	}
}
