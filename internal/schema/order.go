// Package schema defines the canonical, venue-agnostic data model shared by
// every gateway binding.
package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side identifies order direction.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType identifies the canonical order type vocabulary.
type OrderType string

const (
	OrderTypeLimit          OrderType = "LIMIT"
	OrderTypeMarket         OrderType = "MARKET"
	OrderTypeStopMarket     OrderType = "STOP_MARKET"
	OrderTypeTrailingMarket OrderType = "TRAILING_STOP_MARKET"
)

// TimeInForce captures order lifetime hints.
type TimeInForce string

const (
	TIFGoodTillCancel    TimeInForce = "GTC"
	TIFImmediateOrCancel TimeInForce = "IOC"
	TIFFillOrKill        TimeInForce = "FOK"
	TIFPostOnly          TimeInForce = "GTX"
)

// OrderStatus captures the canonical order lifecycle state.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
	OrderStatusRejected        OrderStatus = "REJECTED"
)

// Terminal reports whether the status removes the order from live tracking.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusExpired, OrderStatusRejected:
		return true
	default:
		return false
	}
}

// Order represents a single live or historical order in canonical form.
// OrderID is the venue-assigned identifier once known; ClientOrderID is
// assigned locally before submission.
type Order struct {
	OrderID       string
	ClientOrderID string
	Symbol        string
	Side          Side
	Type          OrderType
	Status        OrderStatus
	Price         decimal.Decimal
	OrigQty       decimal.Decimal
	ExecutedQty   decimal.Decimal
	StopPrice     decimal.Decimal
	TimeInForce   TimeInForce
	ReduceOnly    bool
	ClosePosition bool
	Time          time.Time
	UpdateTime    time.Time
}

// Clone returns an independent copy of the order.
func (o Order) Clone() Order {
	return o
}

// Newer reports whether the update time of o is strictly after other's.
func (o Order) Newer(other Order) bool {
	return o.UpdateTime.After(other.UpdateTime)
}
