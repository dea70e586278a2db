package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceLevel is a single order book level.
type PriceLevel struct {
	Price decimal.Decimal
	Qty   decimal.Decimal
}

// Depth is a full order book snapshot. Bids are sorted descending by price,
// asks ascending; zero-quantity levels never appear.
type Depth struct {
	Symbol       string
	Bids         []PriceLevel
	Asks         []PriceLevel
	LastUpdateID uint64
	EventTime    time.Time
}

// Clone returns a deep copy of the depth snapshot.
func (d Depth) Clone() Depth {
	out := d
	if len(d.Bids) > 0 {
		out.Bids = make([]PriceLevel, len(d.Bids))
		copy(out.Bids, d.Bids)
	}
	if len(d.Asks) > 0 {
		out.Asks = make([]PriceLevel, len(d.Asks))
		copy(out.Asks, d.Asks)
	}
	return out
}

// BestBid returns the highest bid, or a zero level when the book side is empty.
func (d Depth) BestBid() (PriceLevel, bool) {
	if len(d.Bids) == 0 {
		return PriceLevel{}, false
	}
	return d.Bids[0], true
}

// BestAsk returns the lowest ask, or a zero level when the book side is empty.
func (d Depth) BestAsk() (PriceLevel, bool) {
	if len(d.Asks) == 0 {
		return PriceLevel{}, false
	}
	return d.Asks[0], true
}
