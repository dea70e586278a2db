// Package gateway defines the venue-neutral trading façade. Callers hold a
// Gateway and never touch venue wire formats; each venue binding translates
// canonical requests into its own REST and websocket protocols.
package gateway

import (
	"context"

	"github.com/perpgate/perpgate/internal/conn"
	"github.com/perpgate/perpgate/internal/schema"
)

// Subscription is the disposer handle returned by every Watch operation.
// Unsubscribe is idempotent.
type Subscription interface {
	Unsubscribe()
}

// Gateway is the per-venue trading surface. All Watch operations lazily
// initialize the venue session on first use; mutating operations require a
// Ready session and fail fast otherwise.
type Gateway interface {
	// Name identifies the venue binding, e.g. "binancef".
	Name() string
	// Status reports the session lifecycle state.
	Status() Status

	WatchDepth(ctx context.Context, symbol string, fn func(schema.Depth)) (Subscription, error)
	WatchTicker(ctx context.Context, symbol string, fn func(schema.Ticker)) (Subscription, error)
	WatchKlines(ctx context.Context, symbol, interval string, fn func(schema.Kline)) (Subscription, error)
	WatchFundingRate(ctx context.Context, symbol string, fn func(schema.FundingRate)) (Subscription, error)
	WatchOrders(ctx context.Context, fn func(schema.Order)) (Subscription, error)
	WatchAccount(ctx context.Context, fn func(schema.AccountSnapshot)) (Subscription, error)

	CreateOrder(ctx context.Context, params CreateOrderParams) (schema.Order, error)
	CancelOrder(ctx context.Context, params CancelOrderParams) error
	CancelOrders(ctx context.Context, params []CancelOrderParams) error
	CancelAllOrders(ctx context.Context, symbol string) error

	// Precision returns cached metadata for symbol. It never fails; an
	// unknown symbol yields a zero value the caller can detect through an
	// empty Symbol field.
	Precision(symbol string) schema.MarketMetadata

	Close() error
}

// Optional capabilities. A venue binding advertises each by implementing the
// interface; callers probe with a type assertion and degrade gracefully when
// the assertion fails.

// ConnectionEventSource exposes transport lifecycle transitions.
type ConnectionEventSource interface {
	WatchConnection(fn func(conn.Event)) Subscription
}

// RESTHealthSource tracks venue REST reachability. RESTHealth probes once on
// demand; WatchRESTHealth signals transitions after consecutive probe
// failures and again on recovery.
type RESTHealthSource interface {
	RESTHealth(ctx context.Context) error
	WatchRESTHealth(fn func(healthy bool)) Subscription
}

// OrderQuerier fetches a single order's authoritative state over REST.
type OrderQuerier interface {
	QueryOrder(ctx context.Context, symbol, clientOrderID string) (schema.Order, error)
}

// AccountQuerier fetches the authoritative account snapshot over REST.
type AccountQuerier interface {
	QueryAccount(ctx context.Context) (schema.AccountSnapshot, error)
}

// MarginModeChanger switches a symbol between cross and isolated margin.
type MarginModeChanger interface {
	SetMarginMode(ctx context.Context, symbol string, isolated bool) error
}

// VerifiedCanceller cancels an order and confirms the terminal state against
// the venue before returning.
type VerifiedCanceller interface {
	CancelOrderVerified(ctx context.Context, params CancelOrderParams) (schema.Order, error)
}
