// Package reconcile merges push-delivered deltas with poll-delivered
// snapshots into canonical state and decides what is current.
package reconcile

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/perpgate/perpgate/internal/schema"
)

// ErrSnapshotIDRequired indicates a snapshot was offered without a sequence id.
var ErrSnapshotIDRequired = errors.New("reconcile: snapshot sequence id required")

// BookDelta is a single order book diff with its sequencing metadata.
// A zero quantity level is a deletion.
type BookDelta struct {
	SequenceID uint64
	Bids       []schema.PriceLevel
	Asks       []schema.PriceLevel
	EventTime  time.Time
}

// BookAssembler maintains an in-memory order book by combining REST snapshots
// with streaming deltas. Deltas arriving before the snapshot are buffered;
// deltas at or below the last applied sequence are dropped, never applied
// twice.
type BookAssembler struct {
	mu          sync.Mutex
	symbol      string
	depth       int
	initialized bool
	bids        map[string]decimal.Decimal
	asks        map[string]decimal.Decimal
	pending     []BookDelta
	lastSeq     uint64
	lastUpdate  time.Time
}

// NewBookAssembler constructs an assembler emitting at most depth levels per
// side (<=0 keeps full depth).
func NewBookAssembler(symbol string, depth int) *BookAssembler {
	return &BookAssembler{
		symbol: symbol,
		depth:  depth,
		bids:   make(map[string]decimal.Decimal),
		asks:   make(map[string]decimal.Decimal),
	}
}

// HasSnapshot reports whether an initial snapshot has been applied.
func (a *BookAssembler) HasSnapshot() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.initialized
}

// LastSequence returns the sequence id of the most recently applied update.
func (a *BookAssembler) LastSequence() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastSeq
}

// ApplySnapshot resets book state from a REST snapshot, then drains any
// buffered deltas strictly newer than the snapshot in sequence order.
func (a *BookAssembler) ApplySnapshot(snapshot schema.Depth) (schema.Depth, error) {
	if snapshot.LastUpdateID == 0 {
		return schema.Depth{}, ErrSnapshotIDRequired
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	pending := a.pending
	a.pending = nil
	a.resetLocked()
	replaceSide(a.bids, snapshot.Bids)
	replaceSide(a.asks, snapshot.Asks)
	a.initialized = true
	a.lastSeq = snapshot.LastUpdateID
	if !snapshot.EventTime.IsZero() {
		a.lastUpdate = snapshot.EventTime
	} else {
		a.lastUpdate = time.Now()
	}

	result := a.buildLocked()
	if len(pending) == 0 {
		return result, nil
	}

	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].SequenceID < pending[j].SequenceID
	})
	for _, delta := range pending {
		if delta.SequenceID <= a.lastSeq {
			continue
		}
		result = a.applyDeltaLocked(delta)
	}
	return result, nil
}

// ApplyDelta merges one delta. It returns the resulting snapshot and whether
// the delta was applied; stale or duplicate deltas report false.
func (a *BookAssembler) ApplyDelta(delta BookDelta) (schema.Depth, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.initialized {
		a.pending = append(a.pending, delta)
		return schema.Depth{}, false
	}
	if delta.SequenceID == 0 || delta.SequenceID <= a.lastSeq {
		return schema.Depth{}, false
	}
	return a.applyDeltaLocked(delta), true
}

func (a *BookAssembler) applyDeltaLocked(delta BookDelta) schema.Depth {
	updateSide(a.bids, delta.Bids)
	updateSide(a.asks, delta.Asks)
	a.lastSeq = delta.SequenceID
	if !delta.EventTime.IsZero() {
		a.lastUpdate = delta.EventTime
	} else {
		a.lastUpdate = time.Now()
	}
	return a.buildLocked()
}

func (a *BookAssembler) resetLocked() {
	clear(a.bids)
	clear(a.asks)
	a.pending = a.pending[:0]
	a.initialized = false
}

func replaceSide(target map[string]decimal.Decimal, levels []schema.PriceLevel) {
	clear(target)
	for _, level := range levels {
		if level.Qty.Sign() <= 0 {
			continue
		}
		target[level.Price.String()] = level.Qty
	}
}

func updateSide(target map[string]decimal.Decimal, updates []schema.PriceLevel) {
	for _, update := range updates {
		key := update.Price.String()
		if update.Qty.Sign() <= 0 {
			delete(target, key)
			continue
		}
		target[key] = update.Qty
	}
}

func (a *BookAssembler) buildLocked() schema.Depth {
	return schema.Depth{
		Symbol:       a.symbol,
		Bids:         buildSide(a.bids, true, a.depth),
		Asks:         buildSide(a.asks, false, a.depth),
		LastUpdateID: a.lastSeq,
		EventTime:    a.lastUpdate,
	}
}

func buildSide(source map[string]decimal.Decimal, descending bool, depth int) []schema.PriceLevel {
	if len(source) == 0 {
		return nil
	}
	levels := make([]schema.PriceLevel, 0, len(source))
	for key, qty := range source {
		price, err := decimal.NewFromString(key)
		if err != nil {
			continue
		}
		levels = append(levels, schema.PriceLevel{Price: price, Qty: qty})
	}
	sort.Slice(levels, func(i, j int) bool {
		if descending {
			return levels[i].Price.GreaterThan(levels[j].Price)
		}
		return levels[i].Price.LessThan(levels[j].Price)
	})
	if depth > 0 && len(levels) > depth {
		levels = levels[:depth]
	}
	return levels
}
