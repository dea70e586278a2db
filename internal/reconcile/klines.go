package reconcile

import (
	"sync"

	"github.com/perpgate/perpgate/internal/schema"
)

// KlineWindow keeps an ordered-by-open-time candle sequence capped at a
// bounded size: newest appended, oldest evicted, same-open-time replaced.
type KlineWindow struct {
	mu    sync.Mutex
	cap   int
	bars  []schema.Kline
}

// NewKlineWindow constructs a window retaining at most capacity bars.
func NewKlineWindow(capacity int) *KlineWindow {
	if capacity <= 0 {
		capacity = 500
	}
	return &KlineWindow{cap: capacity}
}

// Apply merges one candle. An update for the currently open bar replaces it
// in place; a bar older than the newest retained one is dropped.
func (w *KlineWindow) Apply(bar schema.Kline) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	n := len(w.bars)
	if n > 0 {
		newest := w.bars[n-1]
		switch {
		case bar.OpenTime.Equal(newest.OpenTime):
			w.bars[n-1] = bar
			return true
		case bar.OpenTime.Before(newest.OpenTime):
			return false
		}
	}
	w.bars = append(w.bars, bar)
	if len(w.bars) > w.cap {
		w.bars = w.bars[len(w.bars)-w.cap:]
	}
	return true
}

// Seed replaces the window with a historical backfill, oldest first.
func (w *KlineWindow) Seed(bars []schema.Kline) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(bars) > w.cap {
		bars = bars[len(bars)-w.cap:]
	}
	w.bars = make([]schema.Kline, len(bars))
	copy(w.bars, bars)
}

// Snapshot returns an independent copy of the retained bars, oldest first.
func (w *KlineWindow) Snapshot() []schema.Kline {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]schema.Kline, len(w.bars))
	copy(out, w.bars)
	return out
}

// Len returns the number of retained bars.
func (w *KlineWindow) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.bars)
}
