package gateway

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/perpgate/perpgate/errs"
	"github.com/perpgate/perpgate/internal/schema"
)

// CreateOrderParams carries a canonical order request. Price and StopPrice
// are interpreted per Type; quantization to venue precision happens after
// validation.
type CreateOrderParams struct {
	Symbol        string
	Side          schema.Side
	Type          schema.OrderType
	TimeInForce   schema.TimeInForce
	Price         decimal.Decimal
	Quantity      decimal.Decimal
	StopPrice     decimal.Decimal
	CallbackRate  decimal.Decimal
	ClientOrderID string
	ReduceOnly    bool
	ClosePosition bool
}

// Validate checks structural consistency before any venue translation.
func (p CreateOrderParams) Validate(venue string) error {
	if err := schema.ValidateSymbol(p.Symbol); err != nil {
		return errs.New(venue, errs.CodeValidation, errs.WithMessage(err.Error()))
	}
	switch p.Side {
	case schema.SideBuy, schema.SideSell:
	default:
		return errs.New(venue, errs.CodeValidation, errs.WithMessage("missing or unknown order side"))
	}
	if !p.Quantity.IsPositive() {
		return errs.New(venue, errs.CodeValidation, errs.WithMessage("quantity must be positive"))
	}
	switch p.Type {
	case schema.OrderTypeLimit:
		if !p.Price.IsPositive() {
			return errs.New(venue, errs.CodeValidation, errs.WithMessage("missing price for LIMIT order"))
		}
	case schema.OrderTypeMarket:
		if p.Price.IsPositive() {
			return errs.New(venue, errs.CodeValidation, errs.WithMessage("price not allowed for MARKET order"))
		}
	case schema.OrderTypeStopMarket:
		if !p.StopPrice.IsPositive() {
			return errs.New(venue, errs.CodeValidation, errs.WithMessage("missing stop price for STOP_MARKET order"))
		}
	case schema.OrderTypeTrailingMarket:
		if !p.CallbackRate.IsPositive() {
			return errs.New(venue, errs.CodeValidation, errs.WithMessage("missing callback rate for TRAILING_STOP_MARKET order"))
		}
	default:
		return errs.New(venue, errs.CodeValidation, errs.WithMessage("missing or unknown order type"))
	}
	return nil
}

// CancelOrderParams identifies an order by either identifier. At least one of
// ClientOrderID or OrderID must be set.
type CancelOrderParams struct {
	Symbol        string
	ClientOrderID string
	OrderID       string
}

// Validate checks that the cancel target is addressable.
func (p CancelOrderParams) Validate(venue string) error {
	if err := schema.ValidateSymbol(p.Symbol); err != nil {
		return errs.New(venue, errs.CodeValidation, errs.WithMessage(err.Error()))
	}
	if strings.TrimSpace(p.ClientOrderID) == "" && strings.TrimSpace(p.OrderID) == "" {
		return errs.New(venue, errs.CodeValidation, errs.WithMessage("cancel requires a client or exchange order id"))
	}
	return nil
}
