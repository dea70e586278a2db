package binancef

import (
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/perpgate/perpgate/errs"
	"github.com/perpgate/perpgate/internal/reconcile"
	"github.com/perpgate/perpgate/internal/schema"
)

// Event is a parsed websocket frame expressed in the canonical model.
type Event interface{ venueEvent() }

// DepthEvent carries an order book delta.
type DepthEvent struct {
	Symbol string
	Delta  reconcile.BookDelta
}

// TickerEvent carries a ticker replacement.
type TickerEvent struct{ Ticker schema.Ticker }

// KlineEvent carries a candle update.
type KlineEvent struct{ Kline schema.Kline }

// FundingEvent carries a mark price and funding snapshot.
type FundingEvent struct{ Funding schema.FundingRate }

// OrderEvent carries an order lifecycle push from the user stream.
type OrderEvent struct{ Order schema.Order }

// AccountEvent carries the position and balance legs of an account push.
type AccountEvent struct {
	Positions []schema.Position
	Assets    []schema.Asset
	EventTime time.Time
}

// ListenKeyExpiredEvent signals that the user stream credential lapsed and
// the session must be rebuilt.
type ListenKeyExpiredEvent struct{}

func (DepthEvent) venueEvent()            {}
func (TickerEvent) venueEvent()           {}
func (KlineEvent) venueEvent()            {}
func (FundingEvent) venueEvent()          {}
func (OrderEvent) venueEvent()            {}
func (AccountEvent) venueEvent()          {}
func (ListenKeyExpiredEvent) venueEvent() {}

type wsEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type depthUpdate struct {
	EventTime     int64      `json:"E"`
	Symbol        string     `json:"s"`
	FirstUpdateID int64      `json:"U"`
	FinalUpdateID int64      `json:"u"`
	Bids          [][]string `json:"b"`
	Asks          [][]string `json:"a"`
}

type tickerUpdate struct {
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	LastPrice string `json:"c"`
	Volume    string `json:"v"`
	BestBid   string `json:"b"`
	BestAsk   string `json:"a"`
}

type klineUpdate struct {
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Kline     struct {
		OpenTime  int64  `json:"t"`
		CloseTime int64  `json:"T"`
		Interval  string `json:"i"`
		Open      string `json:"o"`
		Close     string `json:"c"`
		High      string `json:"h"`
		Low       string `json:"l"`
		Volume    string `json:"v"`
		Closed    bool   `json:"x"`
	} `json:"k"`
}

type markPriceUpdate struct {
	EventTime       int64  `json:"E"`
	Symbol          string `json:"s"`
	MarkPrice       string `json:"p"`
	FundingRate     string `json:"r"`
	NextFundingTime int64  `json:"T"`
}

type orderTradeUpdate struct {
	EventTime int64 `json:"E"`
	Order     struct {
		Symbol        string `json:"s"`
		ClientOrderID string `json:"c"`
		Side          string `json:"S"`
		OrderType     string `json:"o"`
		TimeInForce   string `json:"f"`
		OrigQty       string `json:"q"`
		Price         string `json:"p"`
		AvgPrice      string `json:"ap"`
		StopPrice     string `json:"sp"`
		Status        string `json:"X"`
		OrderID       int64  `json:"i"`
		FilledQty     string `json:"z"`
		TradeTime     int64  `json:"T"`
		ReduceOnly    bool   `json:"R"`
		ClosePosition bool   `json:"cp"`
	} `json:"o"`
}

type accountUpdate struct {
	EventTime int64 `json:"E"`
	Data      struct {
		Balances []struct {
			Asset         string `json:"a"`
			WalletBalance string `json:"wb"`
			CrossWallet   string `json:"cw"`
		} `json:"B"`
		Positions []struct {
			Symbol        string `json:"s"`
			PositionAmt   string `json:"pa"`
			EntryPrice    string `json:"ep"`
			UnrealizedPnl string `json:"up"`
			MarginType    string `json:"mt"`
		} `json:"P"`
	} `json:"a"`
}

// Parser normalizes venue frames into canonical events. Symbol translation
// goes through the metadata cache's reverse index, built at load time.
type Parser struct {
	canonical func(exchangeSymbol string) string
}

// NewParser constructs a parser resolving venue symbols through canonical.
func NewParser(canonical func(string) string) *Parser {
	if canonical == nil {
		canonical = func(s string) string { return s }
	}
	return &Parser{canonical: canonical}
}

// Parse converts one websocket frame. Control acknowledgements and unknown
// stream types return (nil, nil) so the caller can skip them quietly.
func (p *Parser) Parse(frame []byte) (Event, error) {
	var envelope wsEnvelope
	if err := json.Unmarshal(frame, &envelope); err != nil {
		return nil, errs.New(Venue, errs.CodeExchange,
			errs.WithMessage("malformed ws frame"), errs.WithCause(err))
	}
	data := envelope.Data
	if len(data) == 0 {
		// Raw (non-combined) frames carry the payload at the top level.
		data = frame
	}

	var header struct {
		EventType string `json:"e"`
	}
	if err := json.Unmarshal(data, &header); err != nil {
		return nil, errs.New(Venue, errs.CodeExchange,
			errs.WithMessage("malformed ws payload"), errs.WithCause(err))
	}

	switch header.EventType {
	case "depthUpdate":
		return p.parseDepth(data)
	case "24hrTicker":
		return p.parseTicker(data)
	case "kline":
		return p.parseKline(data)
	case "markPriceUpdate":
		return p.parseMarkPrice(data)
	case "ORDER_TRADE_UPDATE":
		return p.parseOrderUpdate(data)
	case "ACCOUNT_UPDATE":
		return p.parseAccountUpdate(data)
	case "listenKeyExpired":
		return ListenKeyExpiredEvent{}, nil
	case "":
		// Subscription acks and other control responses.
		return nil, nil
	default:
		return nil, nil
	}
}

func (p *Parser) parseDepth(data []byte) (Event, error) {
	var payload depthUpdate
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, errs.New(Venue, errs.CodeExchange,
			errs.WithMessage("decode depth update"), errs.WithCause(err))
	}
	bids, err := toPriceLevels(payload.Bids)
	if err != nil {
		return nil, err
	}
	asks, err := toPriceLevels(payload.Asks)
	if err != nil {
		return nil, err
	}
	return DepthEvent{
		Symbol: p.canonical(payload.Symbol),
		Delta: reconcile.BookDelta{
			SequenceID: uint64(payload.FinalUpdateID),
			Bids:       bids,
			Asks:       asks,
			EventTime:  time.UnixMilli(payload.EventTime).UTC(),
		},
	}, nil
}

func (p *Parser) parseTicker(data []byte) (Event, error) {
	var payload tickerUpdate
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, errs.New(Venue, errs.CodeExchange,
			errs.WithMessage("decode ticker"), errs.WithCause(err))
	}
	tk := schema.Ticker{
		Symbol:    p.canonical(payload.Symbol),
		LastPrice: parseDecimal(payload.LastPrice),
		BidPrice:  parseDecimal(payload.BestBid),
		AskPrice:  parseDecimal(payload.BestAsk),
		Volume24h: parseDecimal(payload.Volume),
		EventTime: time.UnixMilli(payload.EventTime).UTC(),
	}
	return TickerEvent{Ticker: tk}, nil
}

func (p *Parser) parseKline(data []byte) (Event, error) {
	var payload klineUpdate
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, errs.New(Venue, errs.CodeExchange,
			errs.WithMessage("decode kline"), errs.WithCause(err))
	}
	k := payload.Kline
	return KlineEvent{Kline: schema.Kline{
		Symbol:    p.canonical(payload.Symbol),
		Interval:  k.Interval,
		OpenTime:  time.UnixMilli(k.OpenTime).UTC(),
		CloseTime: time.UnixMilli(k.CloseTime).UTC(),
		Open:      parseDecimal(k.Open),
		High:      parseDecimal(k.High),
		Low:       parseDecimal(k.Low),
		Close:     parseDecimal(k.Close),
		Volume:    parseDecimal(k.Volume),
		Closed:    k.Closed,
	}}, nil
}

func (p *Parser) parseMarkPrice(data []byte) (Event, error) {
	var payload markPriceUpdate
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, errs.New(Venue, errs.CodeExchange,
			errs.WithMessage("decode mark price"), errs.WithCause(err))
	}
	return FundingEvent{Funding: schema.FundingRate{
		Symbol:          p.canonical(payload.Symbol),
		Rate:            parseDecimal(payload.FundingRate),
		MarkPrice:       parseDecimal(payload.MarkPrice),
		NextFundingTime: time.UnixMilli(payload.NextFundingTime).UTC(),
		EventTime:       time.UnixMilli(payload.EventTime).UTC(),
	}}, nil
}

func (p *Parser) parseOrderUpdate(data []byte) (Event, error) {
	var payload orderTradeUpdate
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, errs.New(Venue, errs.CodeExchange,
			errs.WithMessage("decode order update"), errs.WithCause(err))
	}
	o := payload.Order
	order := schema.Order{
		OrderID:       formatOrderID(o.OrderID),
		ClientOrderID: strings.TrimSpace(o.ClientOrderID),
		Symbol:        p.canonical(o.Symbol),
		Side:          schema.Side(o.Side),
		Type:          schema.OrderType(o.OrderType),
		Status:        mapOrderStatus(o.Status),
		Price:         parseDecimal(o.Price),
		OrigQty:       parseDecimal(o.OrigQty),
		ExecutedQty:   parseDecimal(o.FilledQty),
		StopPrice:     parseDecimal(o.StopPrice),
		TimeInForce:   schema.TimeInForce(o.TimeInForce),
		ReduceOnly:    o.ReduceOnly,
		ClosePosition: o.ClosePosition,
		UpdateTime:    time.UnixMilli(payload.EventTime).UTC(),
	}
	if o.TradeTime > 0 {
		order.UpdateTime = time.UnixMilli(o.TradeTime).UTC()
	}
	return OrderEvent{Order: order}, nil
}

func (p *Parser) parseAccountUpdate(data []byte) (Event, error) {
	var payload accountUpdate
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, errs.New(Venue, errs.CodeExchange,
			errs.WithMessage("decode account update"), errs.WithCause(err))
	}
	eventTime := time.UnixMilli(payload.EventTime).UTC()
	evt := AccountEvent{EventTime: eventTime}
	for _, b := range payload.Data.Balances {
		asset := strings.ToUpper(strings.TrimSpace(b.Asset))
		if asset == "" {
			continue
		}
		evt.Assets = append(evt.Assets, schema.Asset{
			Asset:            asset,
			WalletBalance:    parseDecimal(b.WalletBalance),
			AvailableBalance: parseDecimal(b.CrossWallet),
			UpdateTime:       eventTime,
		})
	}
	for _, pos := range payload.Data.Positions {
		evt.Positions = append(evt.Positions, schema.Position{
			Symbol:           p.canonical(pos.Symbol),
			PositionAmt:      parseDecimal(pos.PositionAmt),
			EntryPrice:       parseDecimal(pos.EntryPrice),
			UnrealizedProfit: parseDecimal(pos.UnrealizedPnl),
			MarginType:       mapMarginType(pos.MarginType),
			UpdateTime:       eventTime,
		})
	}
	return evt, nil
}

func toPriceLevels(raw [][]string) ([]schema.PriceLevel, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make([]schema.PriceLevel, 0, len(raw))
	for _, level := range raw {
		if len(level) < 2 {
			return nil, errs.New(Venue, errs.CodeExchange,
				errs.WithMessage(fmt.Sprintf("malformed price level %v", level)))
		}
		out = append(out, schema.PriceLevel{
			Price: parseDecimal(level[0]),
			Qty:   parseDecimal(level[1]),
		})
	}
	return out, nil
}

func parseDecimal(raw string) decimal.Decimal {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero
	}
	return value
}

func formatOrderID(id int64) string {
	if id <= 0 {
		return ""
	}
	return fmt.Sprintf("%d", id)
}

func mapOrderStatus(raw string) schema.OrderStatus {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "NEW":
		return schema.OrderStatusNew
	case "PARTIALLY_FILLED":
		return schema.OrderStatusPartiallyFilled
	case "FILLED":
		return schema.OrderStatusFilled
	case "CANCELED":
		return schema.OrderStatusCanceled
	case "EXPIRED", "EXPIRED_IN_MATCH":
		return schema.OrderStatusExpired
	case "REJECTED":
		return schema.OrderStatusRejected
	default:
		return schema.OrderStatus(strings.ToUpper(strings.TrimSpace(raw)))
	}
}

func mapMarginType(raw string) schema.MarginType {
	if strings.EqualFold(strings.TrimSpace(raw), "isolated") {
		return schema.MarginIsolated
	}
	return schema.MarginCross
}
