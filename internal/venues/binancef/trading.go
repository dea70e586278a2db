package binancef

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/perpgate/perpgate/errs"
	"github.com/perpgate/perpgate/gateway"
	"github.com/perpgate/perpgate/internal/observability"
	"github.com/perpgate/perpgate/internal/schema"
)

// requireTradable rejects mutating operations unless the session is live.
// Degraded sessions still trade; the caller decided freshness risk by then.
func (g *Gateway) requireTradable() error {
	switch g.status.Current() {
	case gateway.StatusReady, gateway.StatusDegraded:
		return nil
	default:
		return errs.New(Venue, errs.CodeConnection,
			errs.WithMessage("session not ready for trading"))
	}
}

// CreateOrder implements gateway.Gateway: validation, quantization, tracked
// identity, then serialized submission on the signing key's queue.
func (g *Gateway) CreateOrder(ctx context.Context, params gateway.CreateOrderParams) (schema.Order, error) {
	if err := g.ensureInit(ctx); err != nil {
		return schema.Order{}, err
	}
	if err := params.Validate(Venue); err != nil {
		return schema.Order{}, err
	}
	if err := g.requireTradable(); err != nil {
		return schema.Order{}, err
	}
	md, err := g.meta.Get(params.Symbol)
	if err != nil {
		return schema.Order{}, err
	}

	price, qty, err := g.meta.Quantize(params.Symbol, params.Price, params.Quantity, g.cfg.Order.MinNotional)
	if err != nil {
		return schema.Order{}, err
	}

	clientID := params.ClientOrderID
	if clientID == "" {
		clientID = uuid.NewString()
	}

	// Track before submission so a push racing the REST ack still
	// consolidates onto this identity.
	g.ident.Track(schema.Order{
		ClientOrderID: clientID,
		Symbol:        params.Symbol,
		Side:          params.Side,
		Type:          params.Type,
		Status:        schema.OrderStatusNew,
		Price:         price,
		OrigQty:       qty,
		TimeInForce:   params.TimeInForce,
		ReduceOnly:    params.ReduceOnly,
		ClosePosition: params.ClosePosition,
		Time:          time.Now().UTC(),
	})

	var ack schema.Order
	err = g.signer.Enqueue(ctx, g.cfg.Credentials.APIKey, func(opCtx context.Context, nonce uint64) error {
		placed, placeErr := g.rest.PlaceOrder(opCtx, PlaceOrderRequest{
			ExchangeSymbol: md.ExchangeSymbolID,
			Side:           params.Side,
			Type:           params.Type,
			TimeInForce:    params.TimeInForce,
			Quantity:       qty,
			Price:          price,
			StopPrice:      params.StopPrice,
			CallbackRate:   params.CallbackRate,
			ClientOrderID:  clientID,
			ReduceOnly:     params.ReduceOnly,
			ClosePosition:  params.ClosePosition,
			Nonce:          nonce,
		})
		if placeErr != nil {
			return placeErr
		}
		ack = placed
		return nil
	})
	if err != nil {
		g.ident.Remove(clientID)
		if g.metrics != nil && errs.IsCode(err, errs.CodeOrderRejected) {
			g.metrics.OrderRejected(g.runCtx, Venue, params.Symbol)
		}
		return schema.Order{}, err
	}

	merged, _ := g.ident.Apply(ack)
	if g.metrics != nil {
		g.metrics.OrderPlaced(g.runCtx, Venue, params.Symbol, string(params.Side), string(params.Type))
	}
	if jerr := g.journal.RecordPlacement(g.runCtx, Venue, merged); jerr != nil {
		g.log.Error("journal placement failed",
			observability.F("venue", Venue),
			observability.F("clientOrderID", clientID),
			observability.F("error", jerr.Error()))
	}
	return merged, nil
}

// CancelOrder implements gateway.Gateway. The live entry is removed
// optimistically on acknowledgement; a late fill push for the order simply
// re-enters through identity resolution.
func (g *Gateway) CancelOrder(ctx context.Context, params gateway.CancelOrderParams) error {
	if err := g.ensureInit(ctx); err != nil {
		return err
	}
	if err := params.Validate(Venue); err != nil {
		return err
	}
	if err := g.requireTradable(); err != nil {
		return err
	}
	md, err := g.meta.Get(params.Symbol)
	if err != nil {
		return err
	}

	orderID := params.OrderID
	if orderID == "" {
		if resolved := g.ident.Resolve(params.ClientOrderID); resolved != params.ClientOrderID {
			orderID = resolved
		}
	}

	var ack schema.Order
	err = g.signer.Enqueue(ctx, g.cfg.Credentials.APIKey, func(opCtx context.Context, nonce uint64) error {
		canceled, cancelErr := g.rest.CancelOrder(opCtx, md.ExchangeSymbolID, params.ClientOrderID, orderID, nonce)
		if cancelErr != nil {
			return cancelErr
		}
		ack = canceled
		return nil
	})
	if err != nil {
		return err
	}

	if ack.ClientOrderID != "" {
		g.ident.Remove(ack.ClientOrderID)
	} else if params.ClientOrderID != "" {
		g.ident.Remove(params.ClientOrderID)
	}
	if g.metrics != nil {
		g.metrics.OrderCanceled(g.runCtx, Venue, params.Symbol)
	}
	if jerr := g.journal.RecordTransition(g.runCtx, Venue, ack); jerr != nil {
		g.log.Error("journal transition failed",
			observability.F("venue", Venue),
			observability.F("clientOrderID", ack.ClientOrderID),
			observability.F("error", jerr.Error()))
	}
	return nil
}

// CancelOrders implements gateway.Gateway: sequential per-order cancels with
// aggregated failures, so one rejection does not abort the batch.
func (g *Gateway) CancelOrders(ctx context.Context, params []gateway.CancelOrderParams) error {
	var failures []error
	for _, p := range params {
		if err := g.CancelOrder(ctx, p); err != nil {
			failures = append(failures, err)
		}
	}
	return errors.Join(failures...)
}

// CancelAllOrders implements gateway.Gateway.
func (g *Gateway) CancelAllOrders(ctx context.Context, symbol string) error {
	if err := g.ensureInit(ctx); err != nil {
		return err
	}
	if err := g.requireTradable(); err != nil {
		return err
	}
	md, err := g.meta.Get(symbol)
	if err != nil {
		return err
	}
	if err := g.signer.Enqueue(ctx, g.cfg.Credentials.APIKey, func(opCtx context.Context, _ uint64) error {
		return g.rest.CancelAllOrders(opCtx, md.ExchangeSymbolID)
	}); err != nil {
		return err
	}
	for _, order := range g.ident.Live() {
		if order.Symbol == symbol && order.ClientOrderID != "" {
			g.ident.Remove(order.ClientOrderID)
		}
	}
	if g.metrics != nil {
		g.metrics.OrderCanceled(g.runCtx, Venue, symbol)
	}
	return nil
}

// Precision implements gateway.Gateway. Unknown symbols yield a zero value.
func (g *Gateway) Precision(symbol string) schema.MarketMetadata {
	md, err := g.meta.Get(symbol)
	if err != nil {
		return schema.MarketMetadata{}
	}
	return md
}

// RESTHealth implements gateway.RESTHealthSource.
func (g *Gateway) RESTHealth(ctx context.Context) error {
	return g.rest.Ping(ctx)
}

// QueryOrder implements gateway.OrderQuerier.
func (g *Gateway) QueryOrder(ctx context.Context, symbol, clientOrderID string) (schema.Order, error) {
	if err := g.ensureInit(ctx); err != nil {
		return schema.Order{}, err
	}
	md, err := g.meta.Get(symbol)
	if err != nil {
		return schema.Order{}, err
	}
	orderID := ""
	if resolved := g.ident.Resolve(clientOrderID); resolved != clientOrderID {
		orderID = resolved
	}
	return g.rest.QueryOrder(ctx, md.ExchangeSymbolID, clientOrderID, orderID)
}

// QueryAccount implements gateway.AccountQuerier.
func (g *Gateway) QueryAccount(ctx context.Context) (schema.AccountSnapshot, error) {
	if err := g.ensureInit(ctx); err != nil {
		return schema.AccountSnapshot{}, err
	}
	return g.rest.Account(ctx)
}

// SetMarginMode implements gateway.MarginModeChanger.
func (g *Gateway) SetMarginMode(ctx context.Context, symbol string, isolated bool) error {
	if err := g.ensureInit(ctx); err != nil {
		return err
	}
	md, err := g.meta.Get(symbol)
	if err != nil {
		return err
	}
	return g.rest.SetMarginType(ctx, md.ExchangeSymbolID, isolated)
}

// CancelOrderVerified implements gateway.VerifiedCanceller: cancel, then
// confirm the terminal state against the venue before reporting success.
func (g *Gateway) CancelOrderVerified(ctx context.Context, params gateway.CancelOrderParams) (schema.Order, error) {
	if err := g.CancelOrder(ctx, params); err != nil {
		return schema.Order{}, err
	}
	order, err := g.QueryOrder(ctx, params.Symbol, params.ClientOrderID)
	if err != nil {
		return schema.Order{}, err
	}
	if !order.Status.Terminal() {
		return order, errs.New(Venue, errs.CodeExchange,
			errs.WithMessage("cancel acknowledged but order still live"))
	}
	return order, nil
}
