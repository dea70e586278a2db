// Package subs tracks which logical streams should be subscribed right now
// and replays them after reconnects.
package subs

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/perpgate/perpgate/internal/observability"
)

// Key names a logical stream (depth:SYMBOL, orders:ACCOUNT, ...).
type Key string

// DepthKey returns the stream key for order book depth on a symbol.
func DepthKey(symbol string) Key { return Key("depth:" + symbol) }

// TickerKey returns the stream key for the symbol ticker.
func TickerKey(symbol string) Key { return Key("ticker:" + symbol) }

// OrdersKey returns the stream key for order updates on an account.
func OrdersKey(account string) Key { return Key("orders:" + account) }

// AccountKey returns the stream key for account snapshots.
func AccountKey(account string) Key { return Key("account:" + account) }

// KlinesKey returns the stream key for candles on a symbol and interval.
func KlinesKey(symbol, interval string) Key { return Key("klines:" + symbol + ":" + interval) }

// FundingKey returns the stream key for funding rate updates on a symbol.
func FundingKey(symbol string) Key { return Key("funding:" + symbol) }

// Sender issues wire-level subscribe and unsubscribe messages. Implementations
// are venue bindings; a nil Sender disables wire traffic (useful in tests and
// for venues whose streams are implicit).
type Sender interface {
	SendSubscribe(ctx context.Context, keys []Key) error
	SendUnsubscribe(ctx context.Context, keys []Key) error
}

// Registry is the idempotent bookkeeping of active streams. Wire subscribes
// are issued only while the transport is open; on reconnect the connection
// manager calls Replay before reporting ready.
type Registry struct {
	mu        sync.Mutex
	refs      map[Key]int
	connected bool
	sender    Sender
	log       observability.Logger
}

// NewRegistry creates a registry issuing wire messages through sender.
func NewRegistry(sender Sender) *Registry {
	return &Registry{
		refs:   make(map[Key]int),
		sender: sender,
		log:    observability.Log(),
	}
}

// SetConnected records transport availability. Wire messages are suppressed
// while disconnected; Replay restores them.
func (r *Registry) SetConnected(connected bool) {
	r.mu.Lock()
	r.connected = connected
	r.mu.Unlock()
}

// Subscribe records interest in key. The wire subscribe is sent only for the
// first listener while the transport is open; later calls are no-ops.
func (r *Registry) Subscribe(ctx context.Context, key Key) error {
	r.mu.Lock()
	r.refs[key]++
	first := r.refs[key] == 1
	send := first && r.connected && r.sender != nil
	r.mu.Unlock()

	if !send {
		return nil
	}
	if err := r.sender.SendSubscribe(ctx, []Key{key}); err != nil {
		return fmt.Errorf("subscribe %s: %w", key, err)
	}
	return nil
}

// Unsubscribe drops one listener for key. When the last listener is removed a
// best-effort wire unsubscribe is issued; failures are logged and swallowed
// since the stream is simply ignored thereafter.
func (r *Registry) Unsubscribe(ctx context.Context, key Key) {
	r.mu.Lock()
	count, ok := r.refs[key]
	if !ok {
		r.mu.Unlock()
		return
	}
	count--
	last := count <= 0
	if last {
		delete(r.refs, key)
	} else {
		r.refs[key] = count
	}
	send := last && r.connected && r.sender != nil
	r.mu.Unlock()

	if !send {
		return
	}
	if err := r.sender.SendUnsubscribe(ctx, []Key{key}); err != nil {
		r.log.Error("wire unsubscribe failed",
			observability.F("stream", string(key)),
			observability.F("error", err.Error()))
	}
}

// Active returns the sorted set of streams that should be live.
func (r *Registry) Active() []Key {
	r.mu.Lock()
	keys := make([]Key, 0, len(r.refs))
	for key := range r.refs {
		keys = append(keys, key)
	}
	r.mu.Unlock()
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Replay re-issues a wire subscribe for every active stream in one batch.
// The connection manager calls this after each successful (re)connection,
// before the connection is considered ready.
func (r *Registry) Replay(ctx context.Context) error {
	keys := r.Active()
	r.SetConnected(true)
	if len(keys) == 0 || r.sender == nil {
		return nil
	}
	if err := r.sender.SendSubscribe(ctx, keys); err != nil {
		return fmt.Errorf("replay %d streams: %w", len(keys), err)
	}
	return nil
}
