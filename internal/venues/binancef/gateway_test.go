package binancef

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/perpgate/perpgate/internal/config"
	"github.com/perpgate/perpgate/internal/conn"
)

type countingFailDialer struct {
	mu    sync.Mutex
	dials int
}

func (d *countingFailDialer) Dial(context.Context, string) (conn.Transport, error) {
	d.mu.Lock()
	d.dials++
	d.mu.Unlock()
	return nil, errors.New("dial refused")
}

func (d *countingFailDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func TestInitializeStopsDialLoopOnStartTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"symbols":[]}`))
	}))
	defer srv.Close()

	dialer := &countingFailDialer{}
	cfg := config.VenueConfig{
		Name:        Venue,
		RESTBaseURL: srv.URL,
		WSBaseURL:   "ws://127.0.0.1:1",
		Conn: config.ConnConfig{
			HandshakeTimeout:  50 * time.Millisecond,
			RequestTimeout:    200 * time.Millisecond,
			HeartbeatInterval: 10 * time.Millisecond,
			StaleMultiplier:   5,
			BackoffBase:       time.Millisecond,
			BackoffCeiling:    5 * time.Millisecond,
		},
		Reconcile: config.ReconcileConfig{
			PositionEpsilon: "0.0000001",
			DefenseWindow:   time.Second,
			StaleCeiling:    time.Minute,
		},
		Order: config.OrderConfig{
			MinNotional:       config.MinNotionalReject,
			NonceRefreshMin:   time.Minute,
			InitErrorDebounce: time.Second,
		},
	}

	g := New(Options{Config: cfg, Dialer: dialer})
	defer g.Close()

	if err := g.ensureInit(context.Background()); err == nil {
		t.Fatalf("expected startup failure without a reachable websocket")
	}
	if g.manager != nil {
		t.Fatalf("failed startup must not leave a connection manager behind")
	}

	// The dial loop must be stopped, not left retrying toward a zombie
	// session that a later retry would orphan.
	settled := dialer.count()
	time.Sleep(30 * time.Millisecond)
	if got := dialer.count(); got != settled {
		t.Fatalf("dial loop still running after failed startup: %d then %d", settled, got)
	}
}
