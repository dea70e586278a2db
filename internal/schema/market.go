package schema

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/perpgate/perpgate/errs"
)

// Ticker is the latest trade/mark information for a symbol. Replaced
// wholesale on every update.
type Ticker struct {
	Symbol    string
	LastPrice decimal.Decimal
	BidPrice  decimal.Decimal
	AskPrice  decimal.Decimal
	Volume24h decimal.Decimal
	EventTime time.Time
}

// Kline is a single candle keyed by open time.
type Kline struct {
	Symbol    string
	Interval  string
	OpenTime  time.Time
	CloseTime time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
	Closed    bool
}

// FundingRate is the current funding snapshot for a perpetual symbol.
type FundingRate struct {
	Symbol          string
	Rate            decimal.Decimal
	MarkPrice       decimal.Decimal
	NextFundingTime time.Time
	EventTime       time.Time
}

// MarketMetadata captures per-symbol precision used to quantize orders.
// Loaded once at startup and cached for the gateway lifetime.
type MarketMetadata struct {
	Symbol           string
	ExchangeSymbolID string
	PriceTick        decimal.Decimal
	QtyStep          decimal.Decimal
	PriceDecimals    int32
	SizeDecimals     int32
	MinBaseAmount    decimal.Decimal
	MinQuoteAmount   decimal.Decimal
}

// ValidateSymbol verifies the canonical instrument representation (BASE-QUOTE).
func ValidateSymbol(symbol string) error {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return errs.New("schema", errs.CodeValidation, errs.WithMessage("symbol required"))
	}
	parts := strings.Split(symbol, "-")
	if len(parts) != 2 {
		return errs.New("schema", errs.CodeValidation, errs.WithMessage("symbol requires base-quote"))
	}
	for _, part := range parts {
		if part == "" {
			return errs.New("schema", errs.CodeValidation, errs.WithMessage("symbol contains empty leg"))
		}
		if strings.ToUpper(part) != part {
			return errs.New("schema", errs.CodeValidation, errs.WithMessage("symbol must be uppercase"))
		}
	}
	return nil
}
