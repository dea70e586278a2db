package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// MarginType identifies the margining mode of a position.
type MarginType string

const (
	MarginCross    MarginType = "CROSS"
	MarginIsolated MarginType = "ISOLATED"
)

// Position represents a single open position. PositionAmt is signed: positive
// for long, negative for short.
type Position struct {
	Symbol           string
	PositionAmt      decimal.Decimal
	EntryPrice       decimal.Decimal
	UnrealizedProfit decimal.Decimal
	MarkPrice        decimal.Decimal
	MarginType       MarginType
	UpdateTime       time.Time
}

// Flat reports whether the position amount is within epsilon of zero and the
// position is therefore considered closed.
func (p Position) Flat(epsilon decimal.Decimal) bool {
	return p.PositionAmt.Abs().LessThanOrEqual(epsilon)
}

// Asset captures a single wallet balance entry.
type Asset struct {
	Asset            string
	WalletBalance    decimal.Decimal
	AvailableBalance decimal.Decimal
	UpdateTime       time.Time
}

// AccountSnapshot aggregates positions, balances and trading permissions.
// Snapshots are immutable values: every reconciliation pass builds a fresh
// one, so a listener holding a reference never observes tearing.
type AccountSnapshot struct {
	Positions  []Position
	Assets     []Asset
	CanTrade   bool
	CanDeposit bool
	UpdateTime time.Time
}

// Clone returns a deep copy of the snapshot.
func (s AccountSnapshot) Clone() AccountSnapshot {
	out := s
	if len(s.Positions) > 0 {
		out.Positions = make([]Position, len(s.Positions))
		copy(out.Positions, s.Positions)
	}
	if len(s.Assets) > 0 {
		out.Assets = make([]Asset, len(s.Assets))
		copy(out.Assets, s.Assets)
	}
	return out
}
