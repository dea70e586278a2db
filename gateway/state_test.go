package gateway

import "testing"

func TestStatusLifecycle(t *testing.T) {
	tracker := NewStatusTracker("binancef")

	steps := []Status{StatusInitializing, StatusReady, StatusDegraded, StatusReady, StatusReconnecting, StatusReady}
	for _, next := range steps {
		if !tracker.To(next) {
			t.Fatalf("legal transition to %s refused from %s", next, tracker.Current())
		}
	}
	if tracker.Current() != StatusReady {
		t.Fatalf("expected ready, got %s", tracker.Current())
	}
}

func TestStatusIllegalTransitionRefused(t *testing.T) {
	tracker := NewStatusTracker("binancef")

	if tracker.To(StatusReady) {
		t.Fatalf("ready must not be reachable from uninitialized")
	}
	if tracker.Current() != StatusUninitialized {
		t.Fatalf("state mutated by refused transition: %s", tracker.Current())
	}
}

func TestStatusDropDuringStartupReconnects(t *testing.T) {
	tracker := NewStatusTracker("binancef")
	tracker.To(StatusInitializing)

	if !tracker.To(StatusReconnecting) {
		t.Fatalf("transport drop during startup must enter reconnecting")
	}
}

func TestStatusStaleEscalationMidReconnect(t *testing.T) {
	tracker := NewStatusTracker("binancef")
	tracker.To(StatusInitializing)
	tracker.To(StatusReady)
	tracker.To(StatusReconnecting)

	if !tracker.To(StatusDegraded) {
		t.Fatalf("staleness must be reportable while reconnecting")
	}
	if !tracker.To(StatusReady) {
		t.Fatalf("recovery from degraded after reconnect refused")
	}
}

func TestStatusFailedAllowsRetry(t *testing.T) {
	tracker := NewStatusTracker("binancef")
	tracker.To(StatusInitializing)
	tracker.To(StatusFailed)

	if !tracker.To(StatusInitializing) {
		t.Fatalf("failed state must allow a retry")
	}
}

func TestStatusClosedIsTerminal(t *testing.T) {
	tracker := NewStatusTracker("binancef")
	tracker.To(StatusClosed)

	if tracker.To(StatusInitializing) {
		t.Fatalf("closed state must be terminal")
	}
}

func TestStatusSelfTransitionAllowed(t *testing.T) {
	tracker := NewStatusTracker("binancef")
	tracker.To(StatusInitializing)
	if !tracker.To(StatusInitializing) {
		t.Fatalf("self transition should be a no-op success")
	}
}
