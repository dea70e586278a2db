package reconcile

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/perpgate/perpgate/internal/schema"
)

func bar(open int64, close string) schema.Kline {
	return schema.Kline{
		Symbol:   "BTC-USDT",
		Interval: "1m",
		OpenTime: time.Unix(open, 0),
		Close:    decimal.RequireFromString(close),
	}
}

func TestKlineWindowAppendsAndEvicts(t *testing.T) {
	window := NewKlineWindow(3)
	for i := int64(0); i < 5; i++ {
		if !window.Apply(bar(i*60, "100")) {
			t.Fatalf("bar %d rejected", i)
		}
	}
	bars := window.Snapshot()
	if len(bars) != 3 {
		t.Fatalf("expected window capped at 3, got %d", len(bars))
	}
	if !bars[0].OpenTime.Equal(time.Unix(120, 0)) {
		t.Fatalf("oldest bar not evicted, window starts at %v", bars[0].OpenTime)
	}
}

func TestKlineWindowReplacesOpenBar(t *testing.T) {
	window := NewKlineWindow(10)
	window.Apply(bar(0, "100"))
	window.Apply(bar(0, "101"))
	bars := window.Snapshot()
	if len(bars) != 1 {
		t.Fatalf("same open time must replace, got %d bars", len(bars))
	}
	if !bars[0].Close.Equal(decimal.RequireFromString("101")) {
		t.Fatalf("expected latest close, got %s", bars[0].Close)
	}
}

func TestKlineWindowDropsOlderBars(t *testing.T) {
	window := NewKlineWindow(10)
	window.Apply(bar(60, "100"))
	if window.Apply(bar(0, "99")) {
		t.Fatalf("bar older than newest must be dropped")
	}
	if window.Len() != 1 {
		t.Fatalf("expected 1 bar, got %d", window.Len())
	}
}

func TestKlineWindowSeed(t *testing.T) {
	window := NewKlineWindow(2)
	window.Seed([]schema.Kline{bar(0, "1"), bar(60, "2"), bar(120, "3")})
	bars := window.Snapshot()
	if len(bars) != 2 {
		t.Fatalf("seed must respect capacity, got %d", len(bars))
	}
	if !bars[1].Close.Equal(decimal.RequireFromString("3")) {
		t.Fatalf("seed must keep newest bars")
	}
}
