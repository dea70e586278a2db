// Package postgres persists the order journal in PostgreSQL.
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/perpgate/perpgate/internal/schema"
)

// Store writes order lifecycle rows through a pgx pool. The orders table
// holds the latest known state per (venue, client_order_id); every update
// also lands in the append-only order_transitions log.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore constructs a Store backed by the provided pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const (
	placementInsertSQL = `
INSERT INTO orders (
    venue,
    client_order_id,
    order_id,
    symbol,
    side,
    order_type,
    status,
    price,
    orig_qty,
    executed_qty,
    stop_price,
    time_in_force,
    reduce_only,
    placed_at,
    created_at,
    updated_at
)
VALUES (
    @venue,
    @client_order_id,
    @order_id,
    @symbol,
    @side,
    @order_type,
    @status,
    @price,
    @orig_qty,
    @executed_qty,
    @stop_price,
    @time_in_force,
    @reduce_only,
    to_timestamp(@placed_at_ms / 1000.0),
    NOW(),
    NOW()
)
ON CONFLICT (venue, client_order_id) DO NOTHING;
`

	transitionUpsertSQL = `
INSERT INTO orders (
    venue,
    client_order_id,
    order_id,
    symbol,
    side,
    order_type,
    status,
    price,
    orig_qty,
    executed_qty,
    stop_price,
    time_in_force,
    reduce_only,
    placed_at,
    created_at,
    updated_at
)
VALUES (
    @venue,
    @client_order_id,
    @order_id,
    @symbol,
    @side,
    @order_type,
    @status,
    @price,
    @orig_qty,
    @executed_qty,
    @stop_price,
    @time_in_force,
    @reduce_only,
    to_timestamp(@event_at_ms / 1000.0),
    NOW(),
    NOW()
)
ON CONFLICT (venue, client_order_id) DO UPDATE SET
    order_id = COALESCE(NULLIF(EXCLUDED.order_id, ''), orders.order_id),
    status = EXCLUDED.status,
    executed_qty = EXCLUDED.executed_qty,
    updated_at = NOW();
`

	transitionLogSQL = `
INSERT INTO order_transitions (
    venue,
    client_order_id,
    order_id,
    status,
    executed_qty,
    event_at,
    created_at
)
VALUES (
    @venue,
    @client_order_id,
    @order_id,
    @status,
    @executed_qty,
    to_timestamp(@event_at_ms / 1000.0),
    NOW()
);
`
)

// RecordPlacement implements journal.Recorder.
func (s *Store) RecordPlacement(ctx context.Context, venue string, order schema.Order) error {
	if strings.TrimSpace(order.ClientOrderID) == "" {
		return fmt.Errorf("order journal: client order id required")
	}
	if _, err := s.pool.Exec(ctx, placementInsertSQL, orderArgs(venue, order)); err != nil {
		return fmt.Errorf("order journal: insert placement: %w", err)
	}
	return nil
}

// RecordTransition implements journal.Recorder. Replayed transitions update
// the latest-state row idempotently but still append to the log.
func (s *Store) RecordTransition(ctx context.Context, venue string, order schema.Order) error {
	if strings.TrimSpace(order.ClientOrderID) == "" {
		return fmt.Errorf("order journal: client order id required")
	}
	args := orderArgs(venue, order)
	if _, err := s.pool.Exec(ctx, transitionUpsertSQL, args); err != nil {
		return fmt.Errorf("order journal: upsert order: %w", err)
	}
	if _, err := s.pool.Exec(ctx, transitionLogSQL, args); err != nil {
		return fmt.Errorf("order journal: append transition: %w", err)
	}
	return nil
}

func orderArgs(venue string, order schema.Order) pgx.NamedArgs {
	placedAt := order.Time
	if placedAt.IsZero() {
		placedAt = order.UpdateTime
	}
	eventAt := order.UpdateTime
	if eventAt.IsZero() {
		eventAt = order.Time
	}
	return pgx.NamedArgs{
		"venue":           strings.TrimSpace(venue),
		"client_order_id": strings.TrimSpace(order.ClientOrderID),
		"order_id":        strings.TrimSpace(order.OrderID),
		"symbol":          order.Symbol,
		"side":            string(order.Side),
		"order_type":      string(order.Type),
		"status":          string(order.Status),
		"price":           order.Price.String(),
		"orig_qty":        order.OrigQty.String(),
		"executed_qty":    order.ExecutedQty.String(),
		"stop_price":      order.StopPrice.String(),
		"time_in_force":   string(order.TimeInForce),
		"reduce_only":     order.ReduceOnly,
		"placed_at_ms":    placedAt.UnixMilli(),
		"event_at_ms":     eventAt.UnixMilli(),
	}
}
