// Package telemetry provides OpenTelemetry initialization and gateway metrics.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Semantic convention attribute keys for gateway telemetry.

const (
	// AttrVenue identifies which venue produced the signal.
	AttrVenue = attribute.Key("venue")
	// AttrSymbol captures the tradable instrument symbol (e.g. BTC-USDT).
	AttrSymbol = attribute.Key("symbol")
	// AttrStream labels per-stream signals (depth, ticker, orders, account).
	AttrStream = attribute.Key("stream")
	// AttrOrderSide labels order telemetry with Buy/Sell intent.
	AttrOrderSide = attribute.Key("order.side")
	// AttrOrderType distinguishes limit vs market orders in execution metrics.
	AttrOrderType = attribute.Key("order.type")
	// AttrOrderState captures the lifecycle state reported (NEW, FILLED, ...).
	AttrOrderState = attribute.Key("order.state")
	// AttrConnectionState labels connection lifecycle signals.
	AttrConnectionState = attribute.Key("connection.state")
	// AttrErrorCode categorizes failures by gateway error code.
	AttrErrorCode = attribute.Key("error.code")
	// AttrEnvironment specifies the deployment environment for every metric.
	AttrEnvironment = attribute.Key("environment")
)

// VenueAttributes returns the common attribute set for venue-scoped metrics.
func VenueAttributes(environment, venue, symbol string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrVenue.String(venue),
	}
	if symbol != "" {
		attrs = append(attrs, AttrSymbol.String(symbol))
	}
	return attrs
}

// OrderAttributes returns attributes for order-related metrics.
func OrderAttributes(environment, venue, symbol, side, orderType, state string) []attribute.KeyValue {
	attrs := VenueAttributes(environment, venue, symbol)
	if side != "" {
		attrs = append(attrs, AttrOrderSide.String(side))
	}
	if orderType != "" {
		attrs = append(attrs, AttrOrderType.String(orderType))
	}
	if state != "" {
		attrs = append(attrs, AttrOrderState.String(state))
	}
	return attrs
}

// StreamAttributes returns attributes for per-stream freshness metrics.
func StreamAttributes(environment, venue, stream string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrVenue.String(venue),
		AttrStream.String(stream),
	}
}
