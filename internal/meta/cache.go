// Package meta caches per-symbol market metadata and quantizes order
// parameters to venue precision before submission.
package meta

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/perpgate/perpgate/errs"
	"github.com/perpgate/perpgate/internal/config"
	"github.com/perpgate/perpgate/internal/schema"
)

// Source fetches the venue's instrument definitions.
type Source interface {
	FetchMarkets(ctx context.Context) (map[string]schema.MarketMetadata, error)
}

// Cache holds instrument precision for the gateway lifetime. Metadata is
// loaded once and refreshed only on demand; lookups never touch the network.
type Cache struct {
	venue  string
	source Source

	mu      sync.RWMutex
	markets map[string]schema.MarketMetadata
}

// NewCache constructs an empty cache for venue backed by source.
func NewCache(venue string, source Source) *Cache {
	return &Cache{venue: venue, source: source, markets: make(map[string]schema.MarketMetadata)}
}

// Load fetches instrument definitions and replaces the cached set.
func (c *Cache) Load(ctx context.Context) error {
	markets, err := c.source.FetchMarkets(ctx)
	if err != nil {
		return errs.New(c.venue, errs.CodeExchange,
			errs.WithMessage("market metadata load failed"), errs.WithCause(err))
	}
	c.mu.Lock()
	c.markets = markets
	c.mu.Unlock()
	return nil
}

// Get returns the metadata for a canonical symbol.
func (c *Cache) Get(symbol string) (schema.MarketMetadata, error) {
	c.mu.RLock()
	md, ok := c.markets[symbol]
	c.mu.RUnlock()
	if !ok {
		return schema.MarketMetadata{}, errs.New(c.venue, errs.CodeValidation,
			errs.WithMessage(fmt.Sprintf("unknown symbol %q", symbol)))
	}
	return md, nil
}

// Symbols lists cached canonical symbols.
func (c *Cache) Symbols() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.markets))
	for symbol := range c.markets {
		out = append(out, symbol)
	}
	return out
}

// ExchangeSymbol maps a canonical symbol to the venue's native identifier.
func (c *Cache) ExchangeSymbol(symbol string) (string, error) {
	md, err := c.Get(symbol)
	if err != nil {
		return "", err
	}
	return md.ExchangeSymbolID, nil
}

// Quantize snaps price to the symbol's tick and quantity to its step, then
// enforces the venue minimums per policy: raise bumps quantity up to the
// minimum, reject fails the order locally.
func (c *Cache) Quantize(symbol string, price, qty decimal.Decimal, policy config.MinNotionalPolicy) (decimal.Decimal, decimal.Decimal, error) {
	md, err := c.Get(symbol)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}

	if md.PriceTick.IsPositive() {
		price = snapDown(price, md.PriceTick)
	}
	if md.QtyStep.IsPositive() {
		qty = snapDown(qty, md.QtyStep)
	}

	if md.MinBaseAmount.IsPositive() && qty.LessThan(md.MinBaseAmount) {
		switch policy {
		case config.MinNotionalRaise:
			qty = md.MinBaseAmount
		default:
			return decimal.Zero, decimal.Zero, errs.New(c.venue, errs.CodeValidation,
				errs.WithMessage(fmt.Sprintf("quantity %s below minimum %s for %s",
					qty, md.MinBaseAmount, symbol)))
		}
	}
	if md.MinQuoteAmount.IsPositive() && price.IsPositive() {
		notional := price.Mul(qty)
		if notional.LessThan(md.MinQuoteAmount) {
			switch policy {
			case config.MinNotionalRaise:
				qty = snapUp(md.MinQuoteAmount.Div(price), md.QtyStep)
			default:
				return decimal.Zero, decimal.Zero, errs.New(c.venue, errs.CodeValidation,
					errs.WithMessage(fmt.Sprintf("notional %s below minimum %s for %s",
						notional, md.MinQuoteAmount, symbol)))
			}
		}
	}
	return price, qty, nil
}

// snapDown rounds value to the nearest multiple of step toward zero.
func snapDown(value, step decimal.Decimal) decimal.Decimal {
	return value.Div(step).Floor().Mul(step)
}

// snapUp rounds value up to the next multiple of step.
func snapUp(value, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return value
	}
	return value.Div(step).Ceil().Mul(step)
}
