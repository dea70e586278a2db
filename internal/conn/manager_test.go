package conn

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/perpgate/perpgate/errs"
	"github.com/perpgate/perpgate/internal/config"
)

type fakeTransport struct {
	in        chan []byte
	closeOnce sync.Once
	closed    chan struct{}

	mu     sync.Mutex
	writes [][]byte
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		in:     make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (t *fakeTransport) Read(ctx context.Context) ([]byte, error) {
	select {
	case payload := <-t.in:
		return payload, nil
	case <-t.closed:
		return nil, errors.New("transport closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *fakeTransport) Write(_ context.Context, payload []byte) error {
	select {
	case <-t.closed:
		return errors.New("transport closed")
	default:
	}
	t.mu.Lock()
	t.writes = append(t.writes, payload)
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) Close(string) error {
	t.closeOnce.Do(func() { close(t.closed) })
	return nil
}

type fakeDialer struct {
	mu         sync.Mutex
	transports []*fakeTransport
	dials      int
}

func (d *fakeDialer) Dial(context.Context, string) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dials >= len(d.transports) {
		return nil, errors.New("no transport available")
	}
	transport := d.transports[d.dials]
	d.dials++
	return transport, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func testConnConfig() config.ConnConfig {
	return config.ConnConfig{
		HandshakeTimeout:  2 * time.Second,
		RequestTimeout:    200 * time.Millisecond,
		HeartbeatInterval: 10 * time.Millisecond,
		StaleMultiplier:   5,
		BackoffBase:       time.Millisecond,
		BackoffCeiling:    10 * time.Millisecond,
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v: %s", timeout, msg)
}

func TestStartWaitsForSessionSetup(t *testing.T) {
	transport := newFakeTransport()
	dialer := &fakeDialer{transports: []*fakeTransport{transport}}

	var sessions int
	var mu sync.Mutex
	manager := NewManager("test", "ws://venue", testConnConfig(), dialer, Hooks{
		OnSession: func(context.Context, Writer) error {
			mu.Lock()
			sessions++
			mu.Unlock()
			return nil
		},
	})
	defer manager.Stop()

	if err := manager.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	mu.Lock()
	got := sessions
	mu.Unlock()
	if got != 1 {
		t.Fatalf("expected session hook to run before ready, ran %d times", got)
	}
}

func TestReconnectRunsSessionHookAgain(t *testing.T) {
	first := newFakeTransport()
	second := newFakeTransport()
	dialer := &fakeDialer{transports: []*fakeTransport{first, second}}

	var mu sync.Mutex
	var sessions int
	manager := NewManager("test", "ws://venue", testConnConfig(), dialer, Hooks{
		OnSession: func(context.Context, Writer) error {
			mu.Lock()
			sessions++
			mu.Unlock()
			return nil
		},
	})
	defer manager.Stop()

	if err := manager.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	_ = first.Close("simulated drop")

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return sessions == 2
	}, "session hook after reconnect")
	if dialer.dialCount() != 2 {
		t.Fatalf("expected 2 dials, got %d", dialer.dialCount())
	}
}

func TestStaleConnectionIsForciblyTerminated(t *testing.T) {
	// Neither transport ever delivers a frame, so the watchdog must cut the
	// first connection after the stale threshold elapses.
	first := newFakeTransport()
	second := newFakeTransport()
	dialer := &fakeDialer{transports: []*fakeTransport{first, second}}

	manager := NewManager("test", "ws://venue", testConnConfig(), dialer, Hooks{})
	defer manager.Stop()

	if err := manager.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		return dialer.dialCount() == 2
	}, "stale watchdog reconnect")

	select {
	case <-first.closed:
	default:
		t.Fatalf("expected first transport to be force-closed")
	}
}

func TestLifecycleEventsOnReconnect(t *testing.T) {
	first := newFakeTransport()
	second := newFakeTransport()
	dialer := &fakeDialer{transports: []*fakeTransport{first, second}}

	manager := NewManager("test", "ws://venue", testConnConfig(), dialer, Hooks{})
	defer manager.Stop()

	if err := manager.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	_ = first.Close("simulated drop")

	seen := make(map[State]bool)
	deadline := time.After(2 * time.Second)
	for !(seen[StateConnected] && seen[StateDisconnected] && seen[StateReconnected]) {
		select {
		case ev := <-manager.Events():
			seen[ev.State] = true
		case <-deadline:
			t.Fatalf("lifecycle events incomplete: %+v", seen)
		}
	}
}

func TestRequestCorrelation(t *testing.T) {
	transport := newFakeTransport()
	dialer := &fakeDialer{transports: []*fakeTransport{transport}}

	type frame struct {
		ID string `json:"id"`
	}
	manager := NewManager("test", "ws://venue", testConnConfig(), dialer, Hooks{
		CorrelateID: func(payload []byte) (string, bool) {
			var f frame
			if err := json.Unmarshal(payload, &f); err != nil || f.ID == "" {
				return "", false
			}
			return f.ID, true
		},
	})
	defer manager.Stop()

	if err := manager.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		transport.in <- []byte(`{"id":"req-1","result":"ok"}`)
	}()

	payload, err := manager.Request(context.Background(), "req-1", []byte(`{"id":"req-1"}`))
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	if string(payload) != `{"id":"req-1","result":"ok"}` {
		t.Fatalf("unexpected correlated payload: %s", payload)
	}
}

func TestPendingRequestsRejectedOnClose(t *testing.T) {
	transport := newFakeTransport()
	dialer := &fakeDialer{transports: []*fakeTransport{transport}}

	manager := NewManager("test", "ws://venue", testConnConfig(), dialer, Hooks{
		CorrelateID: func([]byte) (string, bool) { return "", false },
	})
	defer manager.Stop()

	if err := manager.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = transport.Close("simulated drop")
	}()

	_, err := manager.Request(context.Background(), "req-9", []byte(`{"id":"req-9"}`))
	if err == nil {
		t.Fatalf("expected pending request to be rejected on socket closure")
	}
	if !errs.IsCode(err, errs.CodeConnection) {
		t.Fatalf("expected connection error, got %v", err)
	}
}
