package binancef

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/perpgate/perpgate/errs"
	"github.com/perpgate/perpgate/internal/schema"
)

func TestFetchMarketsFiltersNonTradable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != pathExchangeInfo {
			t.Fatalf("path = %q", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"symbols":[
			{"symbol":"BTCUSDT","status":"TRADING","contractType":"PERPETUAL",
			 "baseAsset":"BTC","quoteAsset":"USDT",
			 "pricePrecision":2,"quantityPrecision":3,
			 "filters":[
				{"filterType":"PRICE_FILTER","tickSize":"0.10"},
				{"filterType":"LOT_SIZE","stepSize":"0.001","minQty":"0.001"},
				{"filterType":"MIN_NOTIONAL","notional":"5"}]},
			{"symbol":"ETHUSDT_230929","status":"TRADING","contractType":"CURRENT_QUARTER",
			 "baseAsset":"ETH","quoteAsset":"USDT","filters":[]},
			{"symbol":"XRPUSDT","status":"SETTLING","contractType":"PERPETUAL",
			 "baseAsset":"XRP","quoteAsset":"USDT","filters":[]}]}`))
	}))
	defer srv.Close()

	client := NewRESTClient(srv.URL, "", "", time.Second)
	markets, err := client.FetchMarkets(context.Background())
	if err != nil {
		t.Fatalf("fetch markets: %v", err)
	}
	if len(markets) != 1 {
		t.Fatalf("expected only the tradable perpetual, got %d markets", len(markets))
	}
	md, ok := markets["BTC-USDT"]
	if !ok {
		t.Fatalf("missing BTC-USDT, have %v", markets)
	}
	if md.ExchangeSymbolID != "BTCUSDT" {
		t.Fatalf("exchange symbol = %q", md.ExchangeSymbolID)
	}
	if !md.PriceTick.Equal(decimal.RequireFromString("0.10")) {
		t.Fatalf("tick = %s", md.PriceTick)
	}
	if !md.MinQuoteAmount.Equal(decimal.RequireFromString("5")) {
		t.Fatalf("min notional = %s", md.MinQuoteAmount)
	}
}

func TestPlaceOrderSignsWithProvidedNonce(t *testing.T) {
	const secret = "test-secret"
	var gotQuery url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-MBX-APIKEY") != "test-key" {
			t.Fatalf("api key header = %q", r.Header.Get("X-MBX-APIKEY"))
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		gotQuery = r.PostForm
		_, _ = w.Write([]byte(`{"orderId":42,"clientOrderId":"cid-1","symbol":"BTCUSDT",
			"side":"BUY","type":"LIMIT","status":"NEW","price":"50000","origQty":"0.010",
			"executedQty":"0","timeInForce":"GTC","updateTime":1700000000000}`))
	}))
	defer srv.Close()

	client := NewRESTClient(srv.URL, "test-key", secret, time.Second)
	order, err := client.PlaceOrder(context.Background(), PlaceOrderRequest{
		ExchangeSymbol: "BTCUSDT",
		Side:           schema.SideBuy,
		Type:           schema.OrderTypeLimit,
		TimeInForce:    schema.TIFGoodTillCancel,
		Quantity:       decimal.RequireFromString("0.010"),
		Price:          decimal.RequireFromString("50000"),
		ClientOrderID:  "cid-1",
		Nonce:          1700000000999,
	})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	if order.OrderID != "42" || order.Status != schema.OrderStatusNew {
		t.Fatalf("ack = %+v", order)
	}

	if got := gotQuery.Get("timestamp"); got != "1700000000999" {
		t.Fatalf("timestamp = %q, want serialized nonce", got)
	}
	signature := gotQuery.Get("signature")
	if signature == "" {
		t.Fatal("missing signature")
	}
	signed := url.Values{}
	for key, vals := range gotQuery {
		if key == "signature" {
			continue
		}
		signed[key] = vals
	}
	if want := signPayload(signed.Encode(), secret); signature != want {
		t.Fatalf("signature = %q, want %q", signature, want)
	}
}

func TestSignedStampsTimestampWhenAbsent(t *testing.T) {
	var gotTimestamp string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTimestamp = r.URL.Query().Get("timestamp")
		_, _ = w.Write([]byte(`{"canTrade":true,"assets":[],"positions":[]}`))
	}))
	defer srv.Close()

	client := NewRESTClient(srv.URL, "k", "s", time.Second)
	fixed := time.UnixMilli(1700000000500)
	client.clock = func() time.Time { return fixed }

	if _, err := client.Account(context.Background()); err != nil {
		t.Fatalf("account: %v", err)
	}
	if gotTimestamp != strconv.FormatInt(fixed.UnixMilli(), 10) {
		t.Fatalf("timestamp = %q", gotTimestamp)
	}
}

func TestKlinesDecodesArrayRows(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[
			[1700000000000,"50000","50200","49900","50100","12.5",1700000059999,"x"],
			[1700000060000,"50100","50300","50000","50250","8.1",1700000119999,"x"]]`))
	}))
	defer srv.Close()

	client := NewRESTClient(srv.URL, "", "", time.Second)
	klines, err := client.Klines(context.Background(), "BTCUSDT", "1m", 2)
	if err != nil {
		t.Fatalf("klines: %v", err)
	}
	if len(klines) != 2 {
		t.Fatalf("rows = %d", len(klines))
	}
	if klines[0].OpenTime.UnixMilli() != 1700000000000 {
		t.Fatalf("open time = %v", klines[0].OpenTime)
	}
	if !klines[1].Close.Equal(decimal.RequireFromString("50250")) {
		t.Fatalf("close = %s", klines[1].Close)
	}
}

func TestKlinesRejectsUnknownInterval(t *testing.T) {
	client := NewRESTClient("http://localhost:0", "", "", time.Second)
	if _, err := client.Klines(context.Background(), "BTCUSDT", "7m", 1); !errs.IsCode(err, errs.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestMapAPIErrorTaxonomy(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   errs.Code
	}{
		{"timestamp drift", 400, `{"code":-1021,"msg":"Timestamp for this request is outside of the recvWindow."}`, errs.CodeNonce},
		{"bad signature", 400, `{"code":-1022,"msg":"Signature for this request is not valid."}`, errs.CodeNonce},
		{"bad api key", 401, `{"code":-2014,"msg":"API-key format invalid."}`, errs.CodeAuth},
		{"rejected key", 400, `{"code":-2015,"msg":"Invalid API-key, IP, or permissions for action."}`, errs.CodeAuth},
		{"rate limited", 429, `{"code":-1003,"msg":"Too many requests."}`, errs.CodeRateLimited},
		{"ip ban", 418, `{"code":-1003,"msg":"Way too many requests."}`, errs.CodeRateLimited},
		{"insufficient balance", 400, `{"code":-2019,"msg":"Margin is insufficient."}`, errs.CodeOrderRejected},
		{"filter failure", 400, `{"code":-4164,"msg":"Order's notional must be no smaller than 5."}`, errs.CodeOrderRejected},
		{"bad parameter", 400, `{"code":-1102,"msg":"Mandatory parameter was not sent."}`, errs.CodeValidation},
		{"server error", 500, `{"code":-1000,"msg":"An unknown error occurred."}`, errs.CodeExchange},
		{"opaque body", 503, `service unavailable`, errs.CodeExchange},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := mapAPIError(tc.status, []byte(tc.body))
			if !errs.IsCode(err, tc.want) {
				t.Fatalf("code = %v, want %v (err %v)", err, tc.want, tc.want)
			}
		})
	}
}

func TestMapAPIErrorKeepsVenueDetail(t *testing.T) {
	err := mapAPIError(400, []byte(`{"code":-2019,"msg":"Margin is insufficient."}`))
	var venueErr *errs.E
	if !errors.As(err, &venueErr) {
		t.Fatalf("expected *errs.E, got %T", err)
	}
	if venueErr.HTTP != 400 {
		t.Fatalf("http status = %d", venueErr.HTTP)
	}
	if venueErr.RawCode != "-2019" {
		t.Fatalf("raw code = %q", venueErr.RawCode)
	}
	if venueErr.RawMsg != "Margin is insufficient." {
		t.Fatalf("raw message = %q", venueErr.RawMsg)
	}
}
