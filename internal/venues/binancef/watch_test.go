package binancef

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/perpgate/perpgate/errs"
	"github.com/perpgate/perpgate/gateway"
	"github.com/perpgate/perpgate/internal/meta"
	"github.com/perpgate/perpgate/internal/observability"
	"github.com/perpgate/perpgate/internal/reconcile"
	"github.com/perpgate/perpgate/internal/schema"
	"github.com/perpgate/perpgate/internal/subs"
)

type staticMarketSource map[string]schema.MarketMetadata

func (s staticMarketSource) FetchMarkets(context.Context) (map[string]schema.MarketMetadata, error) {
	return s, nil
}

type failingSubSender struct{ err error }

func (s failingSubSender) SendSubscribe(context.Context, []subs.Key) error   { return s.err }
func (s failingSubSender) SendUnsubscribe(context.Context, []subs.Key) error { return nil }

// watchTestGateway builds a gateway whose session bootstrap is already done,
// wired to the given wire sender. REST and websocket paths stay unset, so
// only flows that never reach them may run.
func watchTestGateway(t *testing.T, sender subs.Sender) *Gateway {
	t.Helper()

	cache := meta.NewCache(Venue, staticMarketSource{
		"BTC-USDT": {
			Symbol:           "BTC-USDT",
			ExchangeSymbolID: "BTCUSDT",
			PriceTick:        decimal.RequireFromString("0.1"),
			QtyStep:          decimal.RequireFromString("0.001"),
		},
	})
	if err := cache.Load(context.Background()); err != nil {
		t.Fatalf("cache.Load() error = %v", err)
	}

	registry := subs.NewRegistry(sender)
	registry.SetConnected(true)

	g := &Gateway{
		log:        observability.Log(),
		meta:       cache,
		boot:       gateway.NewInitializer(func(context.Context) error { return nil }, time.Second),
		registry:   registry,
		books:      make(map[string]*reconcile.BookAssembler),
		depthFeeds: make(map[string]*gateway.Feed[schema.Depth]),
	}
	return g
}

func TestWatchDepthFailureRemovesBookAssembler(t *testing.T) {
	sendErr := errs.New(Venue, errs.CodeConnection, errs.WithMessage("not connected"))
	g := watchTestGateway(t, failingSubSender{err: sendErr})

	_, err := g.WatchDepth(context.Background(), "BTC-USDT", func(schema.Depth) {})
	if err == nil {
		t.Fatalf("expected subscribe failure to propagate")
	}

	g.mu.Lock()
	_, tracked := g.books["BTC-USDT"]
	g.mu.Unlock()
	if tracked {
		t.Fatalf("assembler must not stay registered after a failed subscription")
	}
}

func TestWatchDepthFailureKeepsEstablishedBook(t *testing.T) {
	g := watchTestGateway(t, failingSubSender{err: errs.New(Venue, errs.CodeConnection)})

	// A book seeded by an earlier, healthy watcher stays when a later
	// watcher's wire subscribe fails.
	g.mu.Lock()
	g.books["BTC-USDT"] = reconcile.NewBookAssembler("BTC-USDT", 0)
	g.mu.Unlock()
	_ = g.registry.Subscribe(context.Background(), subs.DepthKey("BTC-USDT"))

	if _, err := g.WatchDepth(context.Background(), "BTC-USDT", func(schema.Depth) {}); err != nil {
		t.Fatalf("refcounted subscribe must not resend: %v", err)
	}

	g.mu.Lock()
	_, tracked := g.books["BTC-USDT"]
	g.mu.Unlock()
	if !tracked {
		t.Fatalf("established book removed by a later watcher")
	}
}
