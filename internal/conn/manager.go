package conn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/perpgate/perpgate/errs"
	"github.com/perpgate/perpgate/internal/config"
	"github.com/perpgate/perpgate/internal/observability"
)

// State labels connection lifecycle transitions.
type State string

const (
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateReconnecting State = "reconnecting"
	StateReconnected  State = "reconnected"
)

// Event is a lifecycle notification consumed by the gateway facade.
type Event struct {
	State State
	Err   error
	At    time.Time
}

// Hooks customize per-venue connection behaviour.
type Hooks struct {
	// OnSession runs after each successful dial, before the connection is
	// considered ready: protocol handshake, auth, and subscription replay
	// belong here. A failure tears the connection down and schedules a
	// reconnect.
	OnSession func(ctx context.Context, w Writer) error
	// OnFrame receives every inbound frame not claimed by a pending request.
	OnFrame func(payload []byte) error
	// CorrelateID extracts a request id from an inbound frame, claiming it
	// for a pending Request call. Optional.
	CorrelateID func(payload []byte) (string, bool)
	// KeepAlive is invoked on every heartbeat tick while connected, for
	// venues that require protocol-level pings. Optional.
	KeepAlive func(ctx context.Context, w Writer) error
}

// Writer sends outbound frames on the live transport.
type Writer interface {
	Write(ctx context.Context, payload []byte) error
}

// Manager owns one persistent connection: it dials, runs the session hook,
// watches inbound traffic for staleness, and reconnects with exponential
// backoff on any failure.
type Manager struct {
	venue  string
	url    string
	cfg    config.ConnConfig
	dialer Dialer
	hooks  Hooks
	log    observability.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	transport   Transport
	lastInbound time.Time
	pending     map[string]chan correlated

	ready     chan struct{}
	readyOnce sync.Once
	events    chan Event
	done      chan struct{}
}

type correlated struct {
	payload []byte
	err     error
}

// NewManager constructs a manager for one venue connection.
func NewManager(venue, url string, cfg config.ConnConfig, dialer Dialer, hooks Hooks) *Manager {
	if dialer == nil {
		dialer = WebsocketDialer{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		venue:   venue,
		url:     url,
		cfg:     cfg,
		dialer:  dialer,
		hooks:   hooks,
		log:     observability.Log(),
		ctx:     ctx,
		cancel:  cancel,
		pending: make(map[string]chan correlated),
		ready:   make(chan struct{}),
		events:  make(chan Event, 16),
		done:    make(chan struct{}),
	}
}

// Events exposes lifecycle notifications. The channel is buffered; stale
// events are dropped rather than blocking the connection loop.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// Start launches the connect loop and waits for the first usable connection.
func (m *Manager) Start() error {
	go m.run()

	select {
	case <-m.ready:
		return nil
	case <-time.After(m.cfg.HandshakeTimeout):
		return errs.New(m.venue, errs.CodeConnection,
			errs.WithMessage("timeout waiting for initial connection"))
	case <-m.ctx.Done():
		return errs.New(m.venue, errs.CodeConnection,
			errs.WithMessage("manager stopped during startup"),
			errs.WithCause(m.ctx.Err()))
	}
}

// Stop terminates the connection and the reconnect loop.
func (m *Manager) Stop() {
	m.cancel()
	m.mu.Lock()
	if m.transport != nil {
		_ = m.transport.Close("shutdown")
		m.transport = nil
	}
	m.mu.Unlock()
	<-m.done
}

// Send writes one frame on the live transport under the request timeout.
func (m *Manager) Send(ctx context.Context, payload []byte) error {
	m.mu.Lock()
	transport := m.transport
	m.mu.Unlock()
	if transport == nil {
		return errs.New(m.venue, errs.CodeConnection, errs.WithMessage("not connected"))
	}
	writeCtx, cancel := context.WithTimeout(ctx, m.cfg.RequestTimeout)
	defer cancel()
	if err := transport.Write(writeCtx, payload); err != nil {
		return errs.New(m.venue, errs.CodeConnection,
			errs.WithMessage("write frame"), errs.WithCause(err))
	}
	return nil
}

// Request sends a frame and blocks until a frame correlated to id arrives,
// the request times out, or the socket closes. Pending requests are rejected
// immediately on socket closure rather than left hanging.
func (m *Manager) Request(ctx context.Context, id string, payload []byte) ([]byte, error) {
	ch := make(chan correlated, 1)
	m.mu.Lock()
	m.pending[id] = ch
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.pending, id)
		m.mu.Unlock()
	}()

	if err := m.Send(ctx, payload); err != nil {
		return nil, err
	}

	timer := time.NewTimer(m.cfg.RequestTimeout)
	defer timer.Stop()
	select {
	case res := <-ch:
		return res.payload, res.err
	case <-timer.C:
		return nil, errs.New(m.venue, errs.CodeConnection,
			errs.WithMessage(fmt.Sprintf("request %s timed out", id)))
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// run maintains the connection with automatic reconnection and exponential
// backoff, resetting the backoff after every successful session.
func (m *Manager) run() {
	defer close(m.done)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = m.cfg.BackoffBase
	bo.MaxInterval = m.cfg.BackoffCeiling
	firstSession := true

	for {
		select {
		case <-m.ctx.Done():
			return
		default:
		}

		dialCtx, cancel := context.WithTimeout(m.ctx, m.cfg.HandshakeTimeout)
		transport, err := m.dialer.Dial(dialCtx, m.url)
		cancel()
		if err != nil {
			m.emit(StateReconnecting, fmt.Errorf("dial %s: %w", m.url, err))
			if !m.sleep(bo.NextBackOff()) {
				return
			}
			continue
		}

		if m.hooks.OnSession != nil {
			sessionCtx, cancel := context.WithTimeout(m.ctx, m.cfg.HandshakeTimeout)
			err = m.hooks.OnSession(sessionCtx, transport)
			cancel()
			if err != nil {
				_ = transport.Close("session setup failed")
				m.emit(StateReconnecting, fmt.Errorf("session setup: %w", err))
				if !m.sleep(bo.NextBackOff()) {
					return
				}
				continue
			}
		}

		m.mu.Lock()
		m.transport = transport
		m.lastInbound = time.Now()
		m.mu.Unlock()

		bo.Reset()
		m.readyOnce.Do(func() { close(m.ready) })
		if firstSession {
			firstSession = false
			m.emit(StateConnected, nil)
		} else {
			m.emit(StateReconnected, nil)
		}

		err = m.serve(transport)

		m.mu.Lock()
		m.transport = nil
		m.rejectPendingLocked(err)
		m.mu.Unlock()

		if errors.Is(err, context.Canceled) || m.ctx.Err() != nil {
			m.emit(StateDisconnected, nil)
			return
		}
		m.emit(StateDisconnected, err)
		m.emit(StateReconnecting, nil)
		if !m.sleep(bo.NextBackOff()) {
			return
		}
	}
}

// serve pumps inbound frames and runs the heartbeat watchdog until the
// transport fails or goes silent past the stale threshold.
func (m *Manager) serve(transport Transport) error {
	serveCtx, cancel := context.WithCancel(m.ctx)
	defer cancel()

	watchdogErr := make(chan error, 1)
	go func() {
		ticker := time.NewTicker(m.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-serveCtx.Done():
				return
			case <-ticker.C:
				m.mu.Lock()
				silent := time.Since(m.lastInbound)
				m.mu.Unlock()
				if silent > m.cfg.StaleThreshold() {
					_ = transport.Close("stale connection")
					watchdogErr <- errs.New(m.venue, errs.CodeStale,
						errs.WithMessage(fmt.Sprintf("no inbound traffic for %s", silent.Truncate(time.Millisecond))))
					return
				}
				if m.hooks.KeepAlive != nil {
					if err := m.hooks.KeepAlive(serveCtx, transport); err != nil {
						m.log.Error("keepalive failed",
							observability.F("venue", m.venue),
							observability.F("error", err.Error()))
					}
				}
			}
		}
	}()

	for {
		payload, err := transport.Read(serveCtx)
		if err != nil {
			select {
			case werr := <-watchdogErr:
				return werr
			default:
			}
			if serveCtx.Err() != nil {
				return context.Canceled
			}
			return fmt.Errorf("read: %w", err)
		}

		m.mu.Lock()
		m.lastInbound = time.Now()
		m.mu.Unlock()

		if m.dispatchCorrelated(payload) {
			continue
		}
		if m.hooks.OnFrame != nil {
			if err := m.hooks.OnFrame(payload); err != nil {
				m.log.Error("frame handler failed",
					observability.F("venue", m.venue),
					observability.F("error", err.Error()))
			}
		}
	}
}

func (m *Manager) dispatchCorrelated(payload []byte) bool {
	if m.hooks.CorrelateID == nil {
		return false
	}
	id, ok := m.hooks.CorrelateID(payload)
	if !ok {
		return false
	}
	m.mu.Lock()
	ch, waiting := m.pending[id]
	if waiting {
		delete(m.pending, id)
	}
	m.mu.Unlock()
	if !waiting {
		return false
	}
	ch <- correlated{payload: payload}
	return true
}

func (m *Manager) rejectPendingLocked(cause error) {
	for id, ch := range m.pending {
		ch <- correlated{err: errs.New(m.venue, errs.CodeConnection,
			errs.WithMessage("socket closed with request in flight"),
			errs.WithCause(cause))}
		delete(m.pending, id)
	}
}

func (m *Manager) emit(state State, err error) {
	event := Event{State: state, Err: err, At: time.Now()}
	select {
	case m.events <- event:
	default:
	}
}

func (m *Manager) sleep(d time.Duration) bool {
	select {
	case <-m.ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
