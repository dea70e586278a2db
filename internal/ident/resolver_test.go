package ident

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/perpgate/perpgate/internal/schema"
)

func TestIdentityConsolidation(t *testing.T) {
	resolver := NewResolver()
	t0 := time.Unix(1700000000, 0)

	// createOrder assigns client id C before the venue id is known.
	resolver.Track(schema.Order{
		ClientOrderID: "C",
		Symbol:        "BTC-USDT",
		Side:          schema.SideBuy,
		Type:          schema.OrderTypeLimit,
		Status:        schema.OrderStatusNew,
		OrigQty:       decimal.NewFromInt(1),
		UpdateTime:    t0,
	})

	// A fast push referencing only venue id E races the create response and
	// lands as a second entry.
	resolver.Apply(schema.Order{
		OrderID:    "E",
		Symbol:     "BTC-USDT",
		Status:     schema.OrderStatusNew,
		UpdateTime: t0.Add(time.Millisecond),
	})
	if resolver.LiveCount() != 2 {
		t.Fatalf("expected transient ghost entry, live = %d", resolver.LiveCount())
	}

	// The next update embeds the identifier pair: entries consolidate.
	merged, live := resolver.Apply(schema.Order{
		OrderID:       "E",
		ClientOrderID: "C",
		Symbol:        "BTC-USDT",
		Status:        schema.OrderStatusPartiallyFilled,
		ExecutedQty:   decimal.RequireFromString("0.5"),
		UpdateTime:    t0.Add(2 * time.Millisecond),
	})
	if !live {
		t.Fatalf("order should still be live")
	}
	if resolver.LiveCount() != 1 {
		t.Fatalf("expected exactly one live entry after consolidation, got %d", resolver.LiveCount())
	}
	if merged.Side != schema.SideBuy || merged.Type != schema.OrderTypeLimit {
		t.Fatalf("consolidation lost create-side fields: %+v", merged)
	}

	// A later update referencing only C still resolves to the same entry.
	resolver.Apply(schema.Order{
		ClientOrderID: "C",
		Status:        schema.OrderStatusPartiallyFilled,
		ExecutedQty:   decimal.RequireFromString("0.7"),
		UpdateTime:    t0.Add(3 * time.Millisecond),
	})
	if resolver.LiveCount() != 1 {
		t.Fatalf("client-id update duplicated the entry: %d", resolver.LiveCount())
	}
	order, ok := resolver.Get("C")
	if !ok || !order.ExecutedQty.Equal(decimal.RequireFromString("0.7")) {
		t.Fatalf("lookup by client id failed: %+v ok=%v", order, ok)
	}
}

func TestTerminalStatusForgetsBothDirections(t *testing.T) {
	resolver := NewResolver()
	resolver.Track(schema.Order{ClientOrderID: "C", Status: schema.OrderStatusNew})
	resolver.Apply(schema.Order{
		ClientOrderID: "C",
		OrderID:       "E",
		Status:        schema.OrderStatusFilled,
		UpdateTime:    time.Unix(1700000001, 0),
	})

	if resolver.LiveCount() != 0 {
		t.Fatalf("terminal order must leave live tracking, live = %d", resolver.LiveCount())
	}
	if got := resolver.Resolve("C"); got != "C" {
		t.Fatalf("mapping must be forgotten after terminal status, Resolve(C) = %q", got)
	}
	if got := resolver.Resolve("E"); got != "E" {
		t.Fatalf("reverse mapping must be forgotten, Resolve(E) = %q", got)
	}
}

func TestResolveFallsBackToCanonical(t *testing.T) {
	resolver := NewResolver()
	if got := resolver.Resolve("12345"); got != "12345" {
		t.Fatalf("unknown id must pass through, got %q", got)
	}
	resolver.Apply(schema.Order{ClientOrderID: "C", OrderID: "E", Status: schema.OrderStatusNew})
	if got := resolver.Resolve("C"); got != "E" {
		t.Fatalf("Resolve(C) = %q, want E", got)
	}
}

func TestStaleUpdateDoesNotRegressState(t *testing.T) {
	resolver := NewResolver()
	t0 := time.Unix(1700000000, 0)
	resolver.Apply(schema.Order{
		ClientOrderID: "C",
		OrderID:       "E",
		Status:        schema.OrderStatusPartiallyFilled,
		ExecutedQty:   decimal.RequireFromString("0.5"),
		UpdateTime:    t0.Add(time.Second),
	})
	merged, live := resolver.Apply(schema.Order{
		OrderID:     "E",
		Status:      schema.OrderStatusNew,
		ExecutedQty: decimal.Zero,
		UpdateTime:  t0,
	})
	if !live {
		t.Fatalf("order should stay live")
	}
	if merged.Status != schema.OrderStatusPartiallyFilled {
		t.Fatalf("older update must not regress status, got %s", merged.Status)
	}
}

func TestRemoveOnCancelAck(t *testing.T) {
	resolver := NewResolver()
	resolver.Apply(schema.Order{ClientOrderID: "C", OrderID: "E", Status: schema.OrderStatusNew})
	resolver.Remove("C")
	if resolver.LiveCount() != 0 {
		t.Fatalf("optimistic removal failed, live = %d", resolver.LiveCount())
	}
}
