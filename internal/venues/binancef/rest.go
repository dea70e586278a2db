package binancef

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/perpgate/perpgate/errs"
	"github.com/perpgate/perpgate/internal/schema"
)

// RESTClient issues signed and public requests against the futures REST API.
// All symbols crossing this boundary are venue-native; the gateway translates
// to and from the canonical form.
type RESTClient struct {
	baseURL   string
	apiKey    string
	apiSecret string
	http      *http.Client
	clock     func() time.Time
	canonical func(exchangeSymbol string) string
}

// NewRESTClient constructs a client for baseURL with the given credentials.
func NewRESTClient(baseURL, apiKey, apiSecret string, timeout time.Duration) *RESTClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RESTClient{
		baseURL:   strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:    apiKey,
		apiSecret: apiSecret,
		http:      &http.Client{Timeout: timeout},
		clock:     time.Now,
		canonical: func(s string) string { return s },
	}
}

// SetSymbolResolver installs the exchange-to-canonical symbol translation,
// available once market metadata has loaded.
func (c *RESTClient) SetSymbolResolver(canonical func(string) string) {
	if canonical != nil {
		c.canonical = canonical
	}
}

type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

type exchangeInfoResponse struct {
	Symbols []exchangeInfoSymbol `json:"symbols"`
}

type exchangeInfoSymbol struct {
	Symbol            string               `json:"symbol"`
	Status            string               `json:"status"`
	ContractType      string               `json:"contractType"`
	BaseAsset         string               `json:"baseAsset"`
	QuoteAsset        string               `json:"quoteAsset"`
	PricePrecision    int32                `json:"pricePrecision"`
	QuantityPrecision int32                `json:"quantityPrecision"`
	Filters           []exchangeInfoFilter `json:"filters"`
}

type exchangeInfoFilter struct {
	FilterType string `json:"filterType"`
	TickSize   string `json:"tickSize"`
	StepSize   string `json:"stepSize"`
	MinQty     string `json:"minQty"`
	Notional   string `json:"notional"`
}

// FetchMarkets loads tradable perpetual instruments, keyed by canonical
// symbol. Non-perpetual contracts and halted symbols are skipped.
func (c *RESTClient) FetchMarkets(ctx context.Context) (map[string]schema.MarketMetadata, error) {
	var payload exchangeInfoResponse
	if err := c.public(ctx, pathExchangeInfo, nil, &payload); err != nil {
		return nil, err
	}

	markets := make(map[string]schema.MarketMetadata, len(payload.Symbols))
	for _, sym := range payload.Symbols {
		contract := strings.ToUpper(strings.TrimSpace(sym.ContractType))
		if contract != "" && contract != "PERPETUAL" {
			continue
		}
		if !strings.EqualFold(sym.Status, "TRADING") {
			continue
		}
		canonical := canonicalFromAssets(sym.BaseAsset, sym.QuoteAsset)
		if canonical == "" {
			continue
		}
		md := schema.MarketMetadata{
			Symbol:           canonical,
			ExchangeSymbolID: strings.ToUpper(strings.TrimSpace(sym.Symbol)),
			PriceDecimals:    sym.PricePrecision,
			SizeDecimals:     sym.QuantityPrecision,
		}
		for _, filter := range sym.Filters {
			switch strings.ToUpper(strings.TrimSpace(filter.FilterType)) {
			case "PRICE_FILTER":
				md.PriceTick = parseDecimal(filter.TickSize)
			case "LOT_SIZE":
				md.QtyStep = parseDecimal(filter.StepSize)
				md.MinBaseAmount = parseDecimal(filter.MinQty)
			case "MIN_NOTIONAL":
				md.MinQuoteAmount = parseDecimal(filter.Notional)
			}
		}
		markets[canonical] = md
	}
	return markets, nil
}

type depthSnapshotResponse struct {
	LastUpdateID int64      `json:"lastUpdateId"`
	EventTime    int64      `json:"E"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

// DepthSnapshot fetches the REST order book for a venue symbol.
func (c *RESTClient) DepthSnapshot(ctx context.Context, exchangeSymbol string, limit int) (schema.Depth, error) {
	if limit <= 0 {
		limit = 500
	}
	params := url.Values{}
	params.Set("symbol", exchangeSymbol)
	params.Set("limit", strconv.Itoa(limit))

	var payload depthSnapshotResponse
	if err := c.public(ctx, pathDepth, params, &payload); err != nil {
		return schema.Depth{}, err
	}
	bids, err := toPriceLevels(payload.Bids)
	if err != nil {
		return schema.Depth{}, err
	}
	asks, err := toPriceLevels(payload.Asks)
	if err != nil {
		return schema.Depth{}, err
	}
	return schema.Depth{
		Symbol:       c.canonical(exchangeSymbol),
		Bids:         bids,
		Asks:         asks,
		LastUpdateID: uint64(payload.LastUpdateID),
		EventTime:    time.UnixMilli(payload.EventTime).UTC(),
	}, nil
}

// Klines fetches up to limit historical candles, oldest first.
func (c *RESTClient) Klines(ctx context.Context, exchangeSymbol, interval string, limit int) ([]schema.Kline, error) {
	if !ValidInterval(interval) {
		return nil, errs.New(Venue, errs.CodeValidation,
			errs.WithMessage(fmt.Sprintf("unknown kline interval %q", interval)))
	}
	if limit <= 0 {
		limit = 200
	}
	params := url.Values{}
	params.Set("symbol", exchangeSymbol)
	params.Set("interval", interval)
	params.Set("limit", strconv.Itoa(limit))

	var rows [][]json.RawMessage
	if err := c.public(ctx, pathKlines, params, &rows); err != nil {
		return nil, err
	}
	symbol := c.canonical(exchangeSymbol)
	out := make([]schema.Kline, 0, len(rows))
	for _, row := range rows {
		if len(row) < 7 {
			continue
		}
		kline := schema.Kline{Symbol: symbol, Interval: interval, Closed: true}
		var openTime, closeTime int64
		var open, high, low, closePrice, volume string
		if err := json.Unmarshal(row[0], &openTime); err != nil {
			continue
		}
		_ = json.Unmarshal(row[1], &open)
		_ = json.Unmarshal(row[2], &high)
		_ = json.Unmarshal(row[3], &low)
		_ = json.Unmarshal(row[4], &closePrice)
		_ = json.Unmarshal(row[5], &volume)
		_ = json.Unmarshal(row[6], &closeTime)
		kline.OpenTime = time.UnixMilli(openTime).UTC()
		kline.CloseTime = time.UnixMilli(closeTime).UTC()
		kline.Open = parseDecimal(open)
		kline.High = parseDecimal(high)
		kline.Low = parseDecimal(low)
		kline.Close = parseDecimal(closePrice)
		kline.Volume = parseDecimal(volume)
		out = append(out, kline)
	}
	return out, nil
}

type premiumIndexResponse struct {
	Symbol          string `json:"symbol"`
	MarkPrice       string `json:"markPrice"`
	LastFundingRate string `json:"lastFundingRate"`
	NextFundingTime int64  `json:"nextFundingTime"`
	Time            int64  `json:"time"`
}

// PremiumIndex fetches the current funding snapshot for a venue symbol.
func (c *RESTClient) PremiumIndex(ctx context.Context, exchangeSymbol string) (schema.FundingRate, error) {
	params := url.Values{}
	params.Set("symbol", exchangeSymbol)

	var payload premiumIndexResponse
	if err := c.public(ctx, pathPremiumIndex, params, &payload); err != nil {
		return schema.FundingRate{}, err
	}
	return schema.FundingRate{
		Symbol:          c.canonical(payload.Symbol),
		Rate:            parseDecimal(payload.LastFundingRate),
		MarkPrice:       parseDecimal(payload.MarkPrice),
		NextFundingTime: time.UnixMilli(payload.NextFundingTime).UTC(),
		EventTime:       time.UnixMilli(payload.Time).UTC(),
	}, nil
}

// Ping probes REST reachability without authentication.
func (c *RESTClient) Ping(ctx context.Context) error {
	var payload struct{}
	return c.public(ctx, pathPing, nil, &payload)
}

type listenKeyResponse struct {
	ListenKey string `json:"listenKey"`
}

// CreateListenKey opens a user data stream credential.
func (c *RESTClient) CreateListenKey(ctx context.Context) (string, error) {
	var payload listenKeyResponse
	if err := c.keyed(ctx, http.MethodPost, pathListenKey, nil, &payload); err != nil {
		return "", err
	}
	if strings.TrimSpace(payload.ListenKey) == "" {
		return "", errs.New(Venue, errs.CodeAuth, errs.WithMessage("empty listen key"))
	}
	return payload.ListenKey, nil
}

// KeepAliveListenKey extends the user stream credential's validity.
func (c *RESTClient) KeepAliveListenKey(ctx context.Context) error {
	var payload struct{}
	return c.keyed(ctx, http.MethodPut, pathListenKey, nil, &payload)
}

type accountResponse struct {
	CanTrade   bool  `json:"canTrade"`
	CanDeposit bool  `json:"canDeposit"`
	UpdateTime int64 `json:"updateTime"`
	Assets     []struct {
		Asset            string `json:"asset"`
		WalletBalance    string `json:"walletBalance"`
		AvailableBalance string `json:"availableBalance"`
		UpdateTime       int64  `json:"updateTime"`
	} `json:"assets"`
	Positions []struct {
		Symbol           string `json:"symbol"`
		PositionAmt      string `json:"positionAmt"`
		EntryPrice       string `json:"entryPrice"`
		UnrealizedProfit string `json:"unrealizedProfit"`
		Isolated         bool   `json:"isolated"`
		UpdateTime       int64  `json:"updateTime"`
	} `json:"positions"`
}

// Account fetches the authoritative account snapshot.
func (c *RESTClient) Account(ctx context.Context) (schema.AccountSnapshot, error) {
	var payload accountResponse
	if err := c.signed(ctx, http.MethodGet, pathAccount, nil, &payload); err != nil {
		return schema.AccountSnapshot{}, err
	}
	snapshot := schema.AccountSnapshot{
		CanTrade:   payload.CanTrade,
		CanDeposit: payload.CanDeposit,
		UpdateTime: time.UnixMilli(payload.UpdateTime).UTC(),
	}
	for _, asset := range payload.Assets {
		name := strings.ToUpper(strings.TrimSpace(asset.Asset))
		if name == "" {
			continue
		}
		snapshot.Assets = append(snapshot.Assets, schema.Asset{
			Asset:            name,
			WalletBalance:    parseDecimal(asset.WalletBalance),
			AvailableBalance: parseDecimal(asset.AvailableBalance),
			UpdateTime:       time.UnixMilli(asset.UpdateTime).UTC(),
		})
	}
	for _, pos := range payload.Positions {
		marginType := schema.MarginCross
		if pos.Isolated {
			marginType = schema.MarginIsolated
		}
		snapshot.Positions = append(snapshot.Positions, schema.Position{
			Symbol:           c.canonical(pos.Symbol),
			PositionAmt:      parseDecimal(pos.PositionAmt),
			EntryPrice:       parseDecimal(pos.EntryPrice),
			UnrealizedProfit: parseDecimal(pos.UnrealizedProfit),
			MarginType:       marginType,
			UpdateTime:       time.UnixMilli(pos.UpdateTime).UTC(),
		})
	}
	return snapshot, nil
}

type orderResponse struct {
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	Status        string `json:"status"`
	Price         string `json:"price"`
	OrigQty       string `json:"origQty"`
	ExecutedQty   string `json:"executedQty"`
	StopPrice     string `json:"stopPrice"`
	TimeInForce   string `json:"timeInForce"`
	ReduceOnly    bool   `json:"reduceOnly"`
	ClosePosition bool   `json:"closePosition"`
	Time          int64  `json:"time"`
	UpdateTime    int64  `json:"updateTime"`
}

func (c *RESTClient) toOrder(resp orderResponse) schema.Order {
	order := schema.Order{
		OrderID:       formatOrderID(resp.OrderID),
		ClientOrderID: strings.TrimSpace(resp.ClientOrderID),
		Symbol:        c.canonical(resp.Symbol),
		Side:          schema.Side(resp.Side),
		Type:          schema.OrderType(resp.Type),
		Status:        mapOrderStatus(resp.Status),
		Price:         parseDecimal(resp.Price),
		OrigQty:       parseDecimal(resp.OrigQty),
		ExecutedQty:   parseDecimal(resp.ExecutedQty),
		StopPrice:     parseDecimal(resp.StopPrice),
		TimeInForce:   schema.TimeInForce(resp.TimeInForce),
		ReduceOnly:    resp.ReduceOnly,
		ClosePosition: resp.ClosePosition,
	}
	if resp.Time > 0 {
		order.Time = time.UnixMilli(resp.Time).UTC()
	}
	if resp.UpdateTime > 0 {
		order.UpdateTime = time.UnixMilli(resp.UpdateTime).UTC()
	}
	return order
}

// OpenOrders lists working orders, optionally scoped to one venue symbol.
func (c *RESTClient) OpenOrders(ctx context.Context, exchangeSymbol string) ([]schema.Order, error) {
	params := url.Values{}
	if exchangeSymbol != "" {
		params.Set("symbol", exchangeSymbol)
	}
	var payload []orderResponse
	if err := c.signed(ctx, http.MethodGet, pathOpenOrders, params, &payload); err != nil {
		return nil, err
	}
	out := make([]schema.Order, 0, len(payload))
	for _, resp := range payload {
		out = append(out, c.toOrder(resp))
	}
	return out, nil
}

// QueryOrder fetches a single order's authoritative state.
func (c *RESTClient) QueryOrder(ctx context.Context, exchangeSymbol, clientOrderID, orderID string) (schema.Order, error) {
	params := url.Values{}
	params.Set("symbol", exchangeSymbol)
	if orderID != "" {
		params.Set("orderId", orderID)
	} else {
		params.Set("origClientOrderId", clientOrderID)
	}
	var payload orderResponse
	if err := c.signed(ctx, http.MethodGet, pathOrder, params, &payload); err != nil {
		return schema.Order{}, err
	}
	return c.toOrder(payload), nil
}

// PlaceOrderRequest is a fully quantized, venue-native order submission.
type PlaceOrderRequest struct {
	ExchangeSymbol string
	Side           schema.Side
	Type           schema.OrderType
	TimeInForce    schema.TimeInForce
	Quantity       decimal.Decimal
	Price          decimal.Decimal
	StopPrice      decimal.Decimal
	CallbackRate   decimal.Decimal
	ClientOrderID  string
	ReduceOnly     bool
	ClosePosition  bool
	// Nonce, when set, becomes the signed request timestamp. The request
	// serializer assigns strictly increasing values per signing key.
	Nonce uint64
}

// PlaceOrder submits a new order and returns the venue acknowledgement.
func (c *RESTClient) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (schema.Order, error) {
	params := url.Values{}
	params.Set("symbol", req.ExchangeSymbol)
	params.Set("side", string(req.Side))
	params.Set("type", string(req.Type))
	params.Set("quantity", req.Quantity.String())
	params.Set("newClientOrderId", req.ClientOrderID)
	params.Set("newOrderRespType", "RESULT")
	switch req.Type {
	case schema.OrderTypeLimit:
		params.Set("price", req.Price.String())
		tif := req.TimeInForce
		if tif == "" {
			tif = schema.TIFGoodTillCancel
		}
		params.Set("timeInForce", string(tif))
	case schema.OrderTypeStopMarket:
		params.Set("stopPrice", req.StopPrice.String())
	case schema.OrderTypeTrailingMarket:
		params.Set("callbackRate", req.CallbackRate.String())
	}
	if req.ReduceOnly {
		params.Set("reduceOnly", "true")
	}
	if req.ClosePosition {
		params.Set("closePosition", "true")
	}
	if req.Nonce > 0 {
		params.Set("timestamp", strconv.FormatUint(req.Nonce, 10))
	}
	var payload orderResponse
	if err := c.signed(ctx, http.MethodPost, pathOrder, params, &payload); err != nil {
		return schema.Order{}, err
	}
	return c.toOrder(payload), nil
}

// CancelOrder cancels by either identifier and returns the final ack. A
// non-zero nonce becomes the signed request timestamp.
func (c *RESTClient) CancelOrder(ctx context.Context, exchangeSymbol, clientOrderID, orderID string, nonce uint64) (schema.Order, error) {
	params := url.Values{}
	params.Set("symbol", exchangeSymbol)
	if nonce > 0 {
		params.Set("timestamp", strconv.FormatUint(nonce, 10))
	}
	if orderID != "" {
		params.Set("orderId", orderID)
	} else {
		params.Set("origClientOrderId", clientOrderID)
	}
	var payload orderResponse
	if err := c.signed(ctx, http.MethodDelete, pathOrder, params, &payload); err != nil {
		return schema.Order{}, err
	}
	return c.toOrder(payload), nil
}

// CancelAllOrders cancels every working order on a venue symbol.
func (c *RESTClient) CancelAllOrders(ctx context.Context, exchangeSymbol string) error {
	params := url.Values{}
	params.Set("symbol", exchangeSymbol)
	var payload apiError
	return c.signed(ctx, http.MethodDelete, pathAllOpenOrders, params, &payload)
}

// SetMarginType switches a symbol between cross and isolated margin.
func (c *RESTClient) SetMarginType(ctx context.Context, exchangeSymbol string, isolated bool) error {
	marginType := "CROSSED"
	if isolated {
		marginType = "ISOLATED"
	}
	params := url.Values{}
	params.Set("symbol", exchangeSymbol)
	params.Set("marginType", marginType)
	var payload apiError
	return c.signed(ctx, http.MethodPost, pathMarginType, params, &payload)
}

func (c *RESTClient) public(ctx context.Context, path string, params url.Values, out any) error {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return errs.New(Venue, errs.CodeConnection,
			errs.WithMessage("build request"), errs.WithCause(err))
	}
	return c.do(req, out)
}

// keyed sends an API-key-authenticated request without a signature, as the
// listen key endpoints require.
func (c *RESTClient) keyed(ctx context.Context, method, path string, params url.Values, out any) error {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return errs.New(Venue, errs.CodeConnection,
			errs.WithMessage("build request"), errs.WithCause(err))
	}
	req.Header.Set("X-MBX-APIKEY", c.apiKey)
	return c.do(req, out)
}

func (c *RESTClient) signed(ctx context.Context, method, path string, params url.Values, out any) error {
	if params == nil {
		params = url.Values{}
	}
	// Serialized operations carry their own monotonic timestamp.
	if params.Get("timestamp") == "" {
		params.Set("timestamp", strconv.FormatInt(c.clock().UTC().UnixMilli(), 10))
	}
	query := params.Encode()
	query += "&signature=" + signPayload(query, c.apiSecret)

	var req *http.Request
	var err error
	if method == http.MethodGet || method == http.MethodDelete {
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path+"?"+query, nil)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, strings.NewReader(query))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return errs.New(Venue, errs.CodeConnection,
			errs.WithMessage("build request"), errs.WithCause(err))
	}
	req.Header.Set("X-MBX-APIKEY", c.apiKey)
	return c.do(req, out)
}

func (c *RESTClient) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return errs.New(Venue, errs.CodeConnection,
			errs.WithMessage("rest request failed"), errs.WithCause(err))
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return errs.New(Venue, errs.CodeConnection,
			errs.WithMessage("read rest response"), errs.WithCause(err))
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return mapAPIError(resp.StatusCode, body)
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return errs.New(Venue, errs.CodeExchange,
			errs.WithMessage("decode rest response"), errs.WithCause(err))
	}
	return nil
}

// mapAPIError translates a venue rejection into the canonical taxonomy,
// preserving the native code and message for diagnostics.
func mapAPIError(status int, body []byte) error {
	var venueErr apiError
	_ = json.Unmarshal(body, &venueErr)
	msg := strings.TrimSpace(venueErr.Msg)
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}

	code := errs.CodeExchange
	switch {
	case venueErr.Code == -1021 || venueErr.Code == -1022:
		code = errs.CodeNonce
	case venueErr.Code == -2014 || venueErr.Code == -2015 || status == http.StatusUnauthorized || status == http.StatusForbidden:
		code = errs.CodeAuth
	case status == http.StatusTooManyRequests || status == 418:
		code = errs.CodeRateLimited
	case venueErr.Code <= -2010 && venueErr.Code >= -2038:
		code = errs.CodeOrderRejected
	case venueErr.Code <= -4000:
		code = errs.CodeOrderRejected
	case status >= http.StatusBadRequest && status < http.StatusInternalServerError:
		code = errs.CodeValidation
	}

	return errs.New(Venue, code,
		errs.WithMessage(msg),
		errs.WithHTTP(status),
		errs.WithRawCode(strconv.Itoa(venueErr.Code)),
		errs.WithRawMessage(strings.TrimSpace(venueErr.Msg)))
}

func signPayload(payload, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
