// Package binancef binds the gateway façade to Binance USD-M perpetual
// futures. All venue wire knowledge lives here; callers only see the
// canonical model.
package binancef

import (
	"fmt"
	"strings"
)

// Venue is the binding's canonical name.
const Venue = "binancef"

// REST endpoint paths relative to the configured base URL.
const (
	pathExchangeInfo  = "/fapi/v1/exchangeInfo"
	pathDepth         = "/fapi/v1/depth"
	pathKlines        = "/fapi/v1/klines"
	pathPremiumIndex  = "/fapi/v1/premiumIndex"
	pathListenKey     = "/fapi/v1/listenKey"
	pathOrder         = "/fapi/v1/order"
	pathAllOpenOrders = "/fapi/v1/allOpenOrders"
	pathOpenOrders    = "/fapi/v1/openOrders"
	pathAccount       = "/fapi/v2/account"
	pathMarginType    = "/fapi/v1/marginType"
	pathPing          = "/fapi/v1/ping"
)

var validIntervals = map[string]struct{}{
	"1m": {}, "3m": {}, "5m": {}, "15m": {}, "30m": {},
	"1h": {}, "2h": {}, "4h": {}, "6h": {}, "8h": {}, "12h": {},
	"1d": {}, "3d": {}, "1w": {}, "1M": {},
}

// ValidInterval reports whether the venue accepts the kline interval.
func ValidInterval(interval string) bool {
	_, ok := validIntervals[interval]
	return ok
}

// exchangeSymbol converts canonical BASE-QUOTE into the venue's BASEQUOTE.
func exchangeSymbol(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(symbol), "-", ""))
}

// streamSymbol is the lowercase form used in stream names.
func streamSymbol(symbol string) string {
	return strings.ToLower(exchangeSymbol(symbol))
}

// canonicalFromAssets builds the canonical symbol from venue asset legs.
func canonicalFromAssets(base, quote string) string {
	base = strings.ToUpper(strings.TrimSpace(base))
	quote = strings.ToUpper(strings.TrimSpace(quote))
	if base == "" || quote == "" {
		return ""
	}
	return base + "-" + quote
}

// Stream name builders for the combined market stream.

func depthStream(symbol string) string {
	return fmt.Sprintf("%s@depth@100ms", streamSymbol(symbol))
}

func tickerStream(symbol string) string {
	return fmt.Sprintf("%s@ticker", streamSymbol(symbol))
}

func klineStream(symbol, interval string) string {
	return fmt.Sprintf("%s@kline_%s", streamSymbol(symbol), interval)
}

func markPriceStream(symbol string) string {
	return fmt.Sprintf("%s@markPrice@1s", streamSymbol(symbol))
}
