package binancef

import (
	"context"
	"sync"

	"github.com/perpgate/perpgate/errs"
	"github.com/perpgate/perpgate/gateway"
	"github.com/perpgate/perpgate/internal/conn"
	"github.com/perpgate/perpgate/internal/observability"
	"github.com/perpgate/perpgate/internal/reconcile"
	"github.com/perpgate/perpgate/internal/schema"
	"github.com/perpgate/perpgate/internal/subs"
)

// streamSub couples a feed listener with its registry reference so disposal
// releases both exactly once.
type streamSub struct {
	inner   gateway.Subscription
	release func()
	once    sync.Once
}

func (s *streamSub) Unsubscribe() {
	s.once.Do(func() {
		s.inner.Unsubscribe()
		if s.release != nil {
			s.release()
		}
	})
}

// WatchDepth implements gateway.Gateway. The first watcher on a symbol
// triggers the REST snapshot seed; the book then follows streamed deltas.
func (g *Gateway) WatchDepth(ctx context.Context, symbol string, fn func(schema.Depth)) (gateway.Subscription, error) {
	if err := g.ensureInit(ctx); err != nil {
		return nil, err
	}
	if _, err := g.meta.Get(symbol); err != nil {
		return nil, err
	}

	g.mu.Lock()
	feed, ok := g.depthFeeds[symbol]
	if !ok {
		feed = gateway.NewFeed[schema.Depth]("depth:" + symbol)
		g.depthFeeds[symbol] = feed
	}
	_, seeded := g.books[symbol]
	if !seeded {
		g.books[symbol] = reconcile.NewBookAssembler(symbol, 0)
	}
	g.mu.Unlock()

	inner := feed.Subscribe(fn)
	key := subs.DepthKey(symbol)
	if err := g.registry.Subscribe(ctx, key); err != nil {
		inner.Unsubscribe()
		if !seeded {
			// The assembler registered above must not outlive the failed
			// subscription or the poll loop keeps REST-seeding it.
			g.mu.Lock()
			delete(g.books, symbol)
			g.mu.Unlock()
		}
		return nil, err
	}
	if !seeded {
		g.tasks.Go(func() { g.seedBook(symbol) })
	}
	return &streamSub{inner: inner, release: func() {
		g.registry.Unsubscribe(context.Background(), key)
	}}, nil
}

// WatchTicker implements gateway.Gateway.
func (g *Gateway) WatchTicker(ctx context.Context, symbol string, fn func(schema.Ticker)) (gateway.Subscription, error) {
	if err := g.ensureInit(ctx); err != nil {
		return nil, err
	}
	if _, err := g.meta.Get(symbol); err != nil {
		return nil, err
	}

	g.mu.Lock()
	feed, ok := g.tickerFeeds[symbol]
	if !ok {
		feed = gateway.NewFeed[schema.Ticker]("ticker:" + symbol)
		g.tickerFeeds[symbol] = feed
	}
	g.mu.Unlock()

	inner := feed.Subscribe(fn)
	key := subs.TickerKey(symbol)
	if err := g.registry.Subscribe(ctx, key); err != nil {
		inner.Unsubscribe()
		return nil, err
	}
	return &streamSub{inner: inner, release: func() {
		g.registry.Unsubscribe(context.Background(), key)
	}}, nil
}

// WatchKlines implements gateway.Gateway. The retained window is seeded with
// a REST backfill so late subscribers see history immediately.
func (g *Gateway) WatchKlines(ctx context.Context, symbol, interval string, fn func(schema.Kline)) (gateway.Subscription, error) {
	if err := g.ensureInit(ctx); err != nil {
		return nil, err
	}
	if !ValidInterval(interval) {
		return nil, errs.New(Venue, errs.CodeValidation,
			errs.WithMessage("unknown kline interval "+interval))
	}
	md, err := g.meta.Get(symbol)
	if err != nil {
		return nil, err
	}

	windowKey := symbol + "|" + interval
	g.mu.Lock()
	feed, ok := g.klineFeeds[windowKey]
	if !ok {
		feed = gateway.NewFeed[schema.Kline]("klines:" + windowKey)
		g.klineFeeds[windowKey] = feed
	}
	window, hadWindow := g.klines[windowKey]
	if !hadWindow {
		window = reconcile.NewKlineWindow(g.cfg.Reconcile.KlineWindow)
		g.klines[windowKey] = window
	}
	g.mu.Unlock()

	inner := feed.Subscribe(fn)
	key := subs.KlinesKey(symbol, interval)
	if err := g.registry.Subscribe(ctx, key); err != nil {
		inner.Unsubscribe()
		return nil, err
	}
	if !hadWindow {
		g.tasks.Go(func() {
			bars, err := g.rest.Klines(g.runCtx, md.ExchangeSymbolID, interval, g.cfg.Reconcile.KlineWindow)
			if err != nil {
				g.log.Error("kline backfill failed",
					observability.F("symbol", symbol),
					observability.F("error", err.Error()))
				return
			}
			window.Seed(bars)
			if len(bars) > 0 {
				feed.Publish(bars[len(bars)-1])
			}
		})
	}
	return &streamSub{inner: inner, release: func() {
		g.registry.Unsubscribe(context.Background(), key)
	}}, nil
}

// WatchFundingRate implements gateway.Gateway. An immediate REST snapshot
// covers the gap until the first streamed mark price update.
func (g *Gateway) WatchFundingRate(ctx context.Context, symbol string, fn func(schema.FundingRate)) (gateway.Subscription, error) {
	if err := g.ensureInit(ctx); err != nil {
		return nil, err
	}
	md, err := g.meta.Get(symbol)
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	feed, ok := g.fundingFeeds[symbol]
	if !ok {
		feed = gateway.NewFeed[schema.FundingRate]("funding:" + symbol)
		g.fundingFeeds[symbol] = feed
	}
	g.mu.Unlock()

	inner := feed.Subscribe(fn)
	key := subs.FundingKey(symbol)
	if err := g.registry.Subscribe(ctx, key); err != nil {
		inner.Unsubscribe()
		return nil, err
	}
	if !ok {
		g.tasks.Go(func() {
			funding, err := g.rest.PremiumIndex(g.runCtx, md.ExchangeSymbolID)
			if err != nil {
				return
			}
			feed.Publish(funding)
		})
	}
	return &streamSub{inner: inner, release: func() {
		g.registry.Unsubscribe(context.Background(), key)
	}}, nil
}

// WatchOrders implements gateway.Gateway. Order pushes ride the user stream
// joined at session setup; the registry entry only tracks listener interest.
func (g *Gateway) WatchOrders(ctx context.Context, fn func(schema.Order)) (gateway.Subscription, error) {
	if err := g.ensureInit(ctx); err != nil {
		return nil, err
	}
	if !g.hasCredentials() {
		return nil, errs.New(Venue, errs.CodeAuth, errs.WithMessage("order stream requires credentials"))
	}
	inner := g.orderFeed.Subscribe(fn)
	key := subs.OrdersKey(g.cfg.Credentials.APIKey)
	if err := g.registry.Subscribe(ctx, key); err != nil {
		inner.Unsubscribe()
		return nil, err
	}
	return &streamSub{inner: inner, release: func() {
		g.registry.Unsubscribe(context.Background(), key)
	}}, nil
}

// WatchAccount implements gateway.Gateway.
func (g *Gateway) WatchAccount(ctx context.Context, fn func(schema.AccountSnapshot)) (gateway.Subscription, error) {
	if err := g.ensureInit(ctx); err != nil {
		return nil, err
	}
	if !g.hasCredentials() {
		return nil, errs.New(Venue, errs.CodeAuth, errs.WithMessage("account stream requires credentials"))
	}
	inner := g.accountFeed.Subscribe(fn)
	key := subs.AccountKey(g.cfg.Credentials.APIKey)
	if err := g.registry.Subscribe(ctx, key); err != nil {
		inner.Unsubscribe()
		return nil, err
	}
	return &streamSub{inner: inner, release: func() {
		g.registry.Unsubscribe(context.Background(), key)
	}}, nil
}

// WatchConnection implements gateway.ConnectionEventSource.
func (g *Gateway) WatchConnection(fn func(conn.Event)) gateway.Subscription {
	return g.connFeed.Subscribe(fn)
}

func (g *Gateway) lookupTickerFeed(symbol string) *gateway.Feed[schema.Ticker] {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.tickerFeeds[symbol]
}

func (g *Gateway) lookupFundingFeed(symbol string) *gateway.Feed[schema.FundingRate] {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.fundingFeeds[symbol]
}
