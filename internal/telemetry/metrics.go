package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// Metrics bundles the counters a gateway reports. All methods are safe on a
// nil receiver so unwired call sites stay cheap.
type Metrics struct {
	environment string

	ordersPlaced   metric.Int64Counter
	ordersCanceled metric.Int64Counter
	ordersFilled   metric.Int64Counter
	ordersRejected metric.Int64Counter
	reconnects     metric.Int64Counter
	staleStreams   metric.Int64Counter
	droppedDeltas  metric.Int64Counter
}

// NewMetrics registers gateway instruments on the provided meter.
func NewMetrics(meter metric.Meter, environment string) (*Metrics, error) {
	m := &Metrics{environment: environment}
	var err error
	if m.ordersPlaced, err = meter.Int64Counter("gateway.orders.placed",
		metric.WithDescription("Orders submitted to the venue")); err != nil {
		return nil, fmt.Errorf("register orders.placed: %w", err)
	}
	if m.ordersCanceled, err = meter.Int64Counter("gateway.orders.canceled",
		metric.WithDescription("Orders canceled by the caller")); err != nil {
		return nil, fmt.Errorf("register orders.canceled: %w", err)
	}
	if m.ordersFilled, err = meter.Int64Counter("gateway.orders.filled",
		metric.WithDescription("Orders observed reaching FILLED")); err != nil {
		return nil, fmt.Errorf("register orders.filled: %w", err)
	}
	if m.ordersRejected, err = meter.Int64Counter("gateway.orders.rejected",
		metric.WithDescription("Orders declined by the venue")); err != nil {
		return nil, fmt.Errorf("register orders.rejected: %w", err)
	}
	if m.reconnects, err = meter.Int64Counter("gateway.connection.reconnects",
		metric.WithDescription("Transport reconnect attempts")); err != nil {
		return nil, fmt.Errorf("register connection.reconnects: %w", err)
	}
	if m.staleStreams, err = meter.Int64Counter("gateway.streams.stale",
		metric.WithDescription("Stream staleness escalations")); err != nil {
		return nil, fmt.Errorf("register streams.stale: %w", err)
	}
	if m.droppedDeltas, err = meter.Int64Counter("gateway.book.dropped_deltas",
		metric.WithDescription("Order book deltas dropped by sequence discipline")); err != nil {
		return nil, fmt.Errorf("register book.dropped_deltas: %w", err)
	}
	return m, nil
}

// OrderPlaced records a successful order submission.
func (m *Metrics) OrderPlaced(ctx context.Context, venue, symbol, side, orderType string) {
	if m == nil {
		return
	}
	m.ordersPlaced.Add(ctx, 1, metric.WithAttributes(
		OrderAttributes(m.environment, venue, symbol, side, orderType, "")...))
}

// OrderCanceled records a cancel acknowledgment.
func (m *Metrics) OrderCanceled(ctx context.Context, venue, symbol string) {
	if m == nil {
		return
	}
	m.ordersCanceled.Add(ctx, 1, metric.WithAttributes(
		VenueAttributes(m.environment, venue, symbol)...))
}

// OrderFilled records a terminal fill.
func (m *Metrics) OrderFilled(ctx context.Context, venue, symbol string) {
	if m == nil {
		return
	}
	m.ordersFilled.Add(ctx, 1, metric.WithAttributes(
		VenueAttributes(m.environment, venue, symbol)...))
}

// OrderRejected records a venue-side rejection.
func (m *Metrics) OrderRejected(ctx context.Context, venue, symbol string) {
	if m == nil {
		return
	}
	m.ordersRejected.Add(ctx, 1, metric.WithAttributes(
		VenueAttributes(m.environment, venue, symbol)...))
}

// Reconnect records a reconnect attempt.
func (m *Metrics) Reconnect(ctx context.Context, venue string) {
	if m == nil {
		return
	}
	m.reconnects.Add(ctx, 1, metric.WithAttributes(
		VenueAttributes(m.environment, venue, "")...))
}

// StaleStream records a staleness escalation for the named stream.
func (m *Metrics) StaleStream(ctx context.Context, venue, stream string) {
	if m == nil {
		return
	}
	m.staleStreams.Add(ctx, 1, metric.WithAttributes(
		StreamAttributes(m.environment, venue, stream)...))
}

// DroppedDelta records an out-of-order or duplicate book delta drop.
func (m *Metrics) DroppedDelta(ctx context.Context, venue, symbol string) {
	if m == nil {
		return
	}
	m.droppedDeltas.Add(ctx, 1, metric.WithAttributes(
		VenueAttributes(m.environment, venue, symbol)...))
}
