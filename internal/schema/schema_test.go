package schema

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestOrderStatusTerminal(t *testing.T) {
	cases := []struct {
		status   OrderStatus
		terminal bool
	}{
		{OrderStatusNew, false},
		{OrderStatusPartiallyFilled, false},
		{OrderStatusFilled, true},
		{OrderStatusCanceled, true},
		{OrderStatusExpired, true},
		{OrderStatusRejected, true},
	}
	for _, tc := range cases {
		if got := tc.status.Terminal(); got != tc.terminal {
			t.Fatalf("Terminal(%s) = %v, want %v", tc.status, got, tc.terminal)
		}
	}
}

func TestAccountSnapshotCloneIsIndependent(t *testing.T) {
	snap := AccountSnapshot{
		Positions: []Position{{Symbol: "BTC-USDT", PositionAmt: decimal.NewFromInt(1)}},
		Assets:    []Asset{{Asset: "USDT", WalletBalance: decimal.NewFromInt(100)}},
		CanTrade:  true,
	}
	clone := snap.Clone()
	clone.Positions[0].Symbol = "ETH-USDT"
	clone.Assets[0].Asset = "BUSD"

	if snap.Positions[0].Symbol != "BTC-USDT" {
		t.Fatalf("clone mutation leaked into source positions")
	}
	if snap.Assets[0].Asset != "USDT" {
		t.Fatalf("clone mutation leaked into source assets")
	}
}

func TestPositionFlat(t *testing.T) {
	eps := decimal.RequireFromString("0.0000001")
	p := Position{PositionAmt: decimal.RequireFromString("0.00000005")}
	if !p.Flat(eps) {
		t.Fatalf("position below epsilon should be flat")
	}
	p.PositionAmt = decimal.RequireFromString("-0.5")
	if p.Flat(eps) {
		t.Fatalf("short position should not be flat")
	}
}

func TestDepthCloneAndBest(t *testing.T) {
	d := Depth{
		Symbol:       "BTC-USDT",
		Bids:         []PriceLevel{{Price: decimal.NewFromInt(100), Qty: decimal.NewFromInt(1)}},
		Asks:         []PriceLevel{{Price: decimal.NewFromInt(101), Qty: decimal.NewFromInt(2)}},
		LastUpdateID: 7,
		EventTime:    time.Unix(1700000000, 0),
	}
	clone := d.Clone()
	clone.Bids[0].Price = decimal.NewFromInt(1)
	if !d.Bids[0].Price.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("clone mutation leaked into source book")
	}
	bid, ok := d.BestBid()
	if !ok || !bid.Price.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("unexpected best bid: %+v ok=%v", bid, ok)
	}
	if _, ok := (Depth{}).BestAsk(); ok {
		t.Fatalf("empty book should report no best ask")
	}
}

func TestValidateSymbol(t *testing.T) {
	if err := ValidateSymbol("BTC-USDT"); err != nil {
		t.Fatalf("ValidateSymbol(BTC-USDT) error = %v", err)
	}
	for _, bad := range []string{"", "BTCUSDT", "btc-usdt", "BTC-", "-USDT", "A-B-C"} {
		if err := ValidateSymbol(bad); err == nil {
			t.Fatalf("ValidateSymbol(%q) expected error", bad)
		}
	}
}
