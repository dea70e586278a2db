package binancef

import (
	"testing"

	"github.com/perpgate/perpgate/internal/subs"
)

func TestSymbolTranslation(t *testing.T) {
	if got := exchangeSymbol("btc-usdt"); got != "BTCUSDT" {
		t.Fatalf("exchangeSymbol = %q", got)
	}
	if got := streamSymbol("BTC-USDT"); got != "btcusdt" {
		t.Fatalf("streamSymbol = %q", got)
	}
	if got := canonicalFromAssets(" btc ", "usdt"); got != "BTC-USDT" {
		t.Fatalf("canonicalFromAssets = %q", got)
	}
	if got := canonicalFromAssets("", "USDT"); got != "" {
		t.Fatalf("missing base must yield empty, got %q", got)
	}
}

func TestValidInterval(t *testing.T) {
	for _, interval := range []string{"1m", "1h", "1d", "1M"} {
		if !ValidInterval(interval) {
			t.Fatalf("interval %q should be valid", interval)
		}
	}
	for _, interval := range []string{"7m", "1月", "", "2d"} {
		if ValidInterval(interval) {
			t.Fatalf("interval %q should be invalid", interval)
		}
	}
}

func TestStreamsForMapsMarketKeys(t *testing.T) {
	streams := streamsFor([]subs.Key{
		subs.DepthKey("BTC-USDT"),
		subs.TickerKey("ETH-USDT"),
		subs.KlinesKey("BTC-USDT", "1m"),
		subs.FundingKey("BTC-USDT"),
	})
	want := []string{
		"btcusdt@depth@100ms",
		"ethusdt@ticker",
		"btcusdt@kline_1m",
		"btcusdt@markPrice@1s",
	}
	if len(streams) != len(want) {
		t.Fatalf("streams = %v", streams)
	}
	for i := range want {
		if streams[i] != want[i] {
			t.Fatalf("streams[%d] = %q, want %q", i, streams[i], want[i])
		}
	}
}

func TestStreamsForSkipsUserStreamKeys(t *testing.T) {
	streams := streamsFor([]subs.Key{
		subs.OrdersKey("acct"),
		subs.AccountKey("acct"),
	})
	if len(streams) != 0 {
		t.Fatalf("user stream keys must not emit control traffic, got %v", streams)
	}
}

func TestCorrelateControlID(t *testing.T) {
	id, ok := correlateControlID([]byte(`{"result":null,"id":12}`))
	if !ok || id != "ctl-12" {
		t.Fatalf("correlate = %q, %v", id, ok)
	}
	if _, ok := correlateControlID([]byte(`{"e":"depthUpdate","s":"BTCUSDT"}`)); ok {
		t.Fatal("market frames must not correlate")
	}
	if _, ok := correlateControlID([]byte(`not json`)); ok {
		t.Fatal("malformed frames must not correlate")
	}
}
