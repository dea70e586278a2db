package postgres

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/perpgate/perpgate/internal/schema"
)

func TestOrderArgsMapping(t *testing.T) {
	placed := time.UnixMilli(1700000000000).UTC()
	updated := time.UnixMilli(1700000005000).UTC()
	args := orderArgs("binancef", schema.Order{
		OrderID:       " 42 ",
		ClientOrderID: "cid-1",
		Symbol:        "BTC-USDT",
		Side:          schema.SideBuy,
		Type:          schema.OrderTypeLimit,
		Status:        schema.OrderStatusPartiallyFilled,
		Price:         decimal.RequireFromString("50000"),
		OrigQty:       decimal.RequireFromString("0.010"),
		ExecutedQty:   decimal.RequireFromString("0.004"),
		TimeInForce:   schema.TIFGoodTillCancel,
		ReduceOnly:    true,
		Time:          placed,
		UpdateTime:    updated,
	})

	if args["venue"] != "binancef" || args["client_order_id"] != "cid-1" {
		t.Fatalf("ids = %v / %v", args["venue"], args["client_order_id"])
	}
	if args["order_id"] != "42" {
		t.Fatalf("order id = %v", args["order_id"])
	}
	if args["status"] != "PARTIALLY_FILLED" {
		t.Fatalf("status = %v", args["status"])
	}
	if args["placed_at_ms"] != placed.UnixMilli() {
		t.Fatalf("placed_at_ms = %v", args["placed_at_ms"])
	}
	if args["event_at_ms"] != updated.UnixMilli() {
		t.Fatalf("event_at_ms = %v", args["event_at_ms"])
	}
	if args["reduce_only"] != true {
		t.Fatalf("reduce_only = %v", args["reduce_only"])
	}
}

func TestOrderArgsFallsBackBetweenTimestamps(t *testing.T) {
	only := time.UnixMilli(1700000000000).UTC()

	args := orderArgs("binancef", schema.Order{ClientOrderID: "a", UpdateTime: only})
	if args["placed_at_ms"] != only.UnixMilli() {
		t.Fatalf("placed_at_ms should fall back to update time, got %v", args["placed_at_ms"])
	}

	args = orderArgs("binancef", schema.Order{ClientOrderID: "a", Time: only})
	if args["event_at_ms"] != only.UnixMilli() {
		t.Fatalf("event_at_ms should fall back to placement time, got %v", args["event_at_ms"])
	}
}
