package gateway

import (
	"context"

	"github.com/perpgate/perpgate/errs"
	"github.com/perpgate/perpgate/internal/schema"
)

// Capability helpers wrap the optional-interface type assertion so callers
// get a uniform unsupported error instead of repeating it.

// QueryOrder fetches authoritative order state through the optional
// capability on g.
func QueryOrder(ctx context.Context, g Gateway, symbol, clientOrderID string) (schema.Order, error) {
	querier, ok := g.(OrderQuerier)
	if !ok {
		return schema.Order{}, errs.NotSupported(g.Name(), "order query not supported")
	}
	return querier.QueryOrder(ctx, symbol, clientOrderID)
}

// QueryAccount fetches the authoritative account snapshot through the
// optional capability on g.
func QueryAccount(ctx context.Context, g Gateway) (schema.AccountSnapshot, error) {
	querier, ok := g.(AccountQuerier)
	if !ok {
		return schema.AccountSnapshot{}, errs.NotSupported(g.Name(), "account query not supported")
	}
	return querier.QueryAccount(ctx)
}

// SetMarginMode switches margin mode through the optional capability on g.
func SetMarginMode(ctx context.Context, g Gateway, symbol string, isolated bool) error {
	changer, ok := g.(MarginModeChanger)
	if !ok {
		return errs.NotSupported(g.Name(), "margin mode change not supported")
	}
	return changer.SetMarginMode(ctx, symbol, isolated)
}

// CancelOrderVerified cancels and confirms through the optional capability on
// g, degrading to a plain unverified cancel when the venue cannot confirm.
func CancelOrderVerified(ctx context.Context, g Gateway, params CancelOrderParams) (schema.Order, error) {
	canceller, ok := g.(VerifiedCanceller)
	if !ok {
		return schema.Order{}, g.CancelOrder(ctx, params)
	}
	return canceller.CancelOrderVerified(ctx, params)
}
