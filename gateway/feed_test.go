package gateway

import (
	"sync"
	"testing"

	"github.com/perpgate/perpgate/internal/schema"
)

func TestFeedDeliversToAllListeners(t *testing.T) {
	feed := NewFeed[schema.Ticker]("ticker")

	var mu sync.Mutex
	var got []string
	for _, id := range []string{"a", "b", "c"} {
		id := id
		feed.Subscribe(func(schema.Ticker) {
			mu.Lock()
			got = append(got, id)
			mu.Unlock()
		})
	}

	feed.Publish(schema.Ticker{Symbol: "BTC-USDT"})

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 3 {
		t.Fatalf("expected 3 deliveries, got %d", len(got))
	}
}

func TestFeedPanicIsolation(t *testing.T) {
	feed := NewFeed[schema.Ticker]("ticker")

	feed.Subscribe(func(schema.Ticker) { panic("listener bug") })
	var mu sync.Mutex
	delivered := 0
	feed.Subscribe(func(schema.Ticker) {
		mu.Lock()
		delivered++
		mu.Unlock()
	})

	feed.Publish(schema.Ticker{Symbol: "BTC-USDT"})
	feed.Publish(schema.Ticker{Symbol: "BTC-USDT"})

	mu.Lock()
	defer mu.Unlock()
	if delivered != 2 {
		t.Fatalf("healthy listener missed events after peer panic: got %d", delivered)
	}
}

func TestFeedReplaysSnapshotToLateListener(t *testing.T) {
	feed := NewFeed[schema.Ticker]("ticker")
	feed.Publish(schema.Ticker{Symbol: "ETH-USDT"})

	var got schema.Ticker
	feed.Subscribe(func(tk schema.Ticker) { got = tk })

	if got.Symbol != "ETH-USDT" {
		t.Fatalf("expected snapshot replay on subscribe, got %+v", got)
	}
}

func TestFeedUnsubscribeIdempotent(t *testing.T) {
	feed := NewFeed[schema.Ticker]("ticker")
	count := 0
	sub := feed.Subscribe(func(schema.Ticker) { count++ })

	sub.Unsubscribe()
	sub.Unsubscribe()

	feed.Publish(schema.Ticker{})
	if count != 0 {
		t.Fatalf("unsubscribed listener still delivered: %d", count)
	}
	if feed.Len() != 0 {
		t.Fatalf("expected empty feed, got %d listeners", feed.Len())
	}
}
