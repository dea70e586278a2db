package reconcile

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/perpgate/perpgate/internal/schema"
)

// PositionTable reconciles push position events with periodic REST polls.
// Push updates are authoritative; a REST poll reporting zero positions while
// push-confirmed non-zero state is still fresh is treated as a transient
// anomaly and ignored, so a flaky snapshot endpoint cannot wipe local state.
type PositionTable struct {
	mu            sync.Mutex
	epsilon       decimal.Decimal
	defenseWindow time.Duration
	staleCeiling  time.Duration
	clock         func() time.Time

	positions     map[string]schema.Position
	lastConfirmed map[string]time.Time
	defended      map[string]struct{}
}

// NewPositionTable constructs a table with the given flat-position epsilon and
// defense policy windows.
func NewPositionTable(epsilon decimal.Decimal, defenseWindow, staleCeiling time.Duration) *PositionTable {
	return &PositionTable{
		epsilon:       epsilon,
		defenseWindow: defenseWindow,
		staleCeiling:  staleCeiling,
		clock:         time.Now,
		positions:     make(map[string]schema.Position),
		lastConfirmed: make(map[string]time.Time),
		defended:      make(map[string]struct{}),
	}
}

// WithClock overrides the internal clock, primarily for testing.
func (t *PositionTable) WithClock(clock func() time.Time) *PositionTable {
	t.mu.Lock()
	defer t.mu.Unlock()
	if clock != nil {
		t.clock = clock
	}
	return t
}

// ApplyPush merges a push-delivered position update. Flat positions are
// removed from the table.
func (t *PositionTable) ApplyPush(position schema.Position) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock()
	if position.Flat(t.epsilon) {
		delete(t.positions, position.Symbol)
		delete(t.lastConfirmed, position.Symbol)
		return
	}
	t.positions[position.Symbol] = position
	t.lastConfirmed[position.Symbol] = now
	delete(t.defended, position.Symbol)
}

// ApplyPoll merges a full REST position snapshot. Positions present in the
// payload replace local state and refresh confirmation. A position absent
// from the payload is pruned only once its last push confirmation exceeds
// the hard staleness ceiling; omissions older than the defense window are
// flagged as defended, younger ones ignored entirely.
func (t *PositionTable) ApplyPoll(positions []schema.Position) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock()

	present := make(map[string]struct{}, len(positions))
	for _, position := range positions {
		if position.Flat(t.epsilon) {
			delete(t.positions, position.Symbol)
			delete(t.lastConfirmed, position.Symbol)
			delete(t.defended, position.Symbol)
			continue
		}
		present[position.Symbol] = struct{}{}
		t.positions[position.Symbol] = position
		t.lastConfirmed[position.Symbol] = now
		delete(t.defended, position.Symbol)
	}

	for symbol := range t.positions {
		if _, ok := present[symbol]; ok {
			continue
		}
		age := now.Sub(t.lastConfirmed[symbol])
		switch {
		case age > t.staleCeiling:
			delete(t.positions, symbol)
			delete(t.lastConfirmed, symbol)
			delete(t.defended, symbol)
		case age > t.defenseWindow:
			t.defended[symbol] = struct{}{}
		}
	}
}

// DefendedCount reports how many positions are currently held only by the
// empty-payload defense, for staleness escalation and operator visibility.
func (t *PositionTable) DefendedCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.defended)
}

// Prune drops positions not confirmed within the hard staleness ceiling.
// Called on the reconciler's timer so defended state cannot live forever.
func (t *PositionTable) Prune() {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock()
	for symbol, confirmed := range t.lastConfirmed {
		if now.Sub(confirmed) > t.staleCeiling {
			delete(t.positions, symbol)
			delete(t.lastConfirmed, symbol)
			delete(t.defended, symbol)
		}
	}
}

// Snapshot returns the current positions as an independent slice.
func (t *PositionTable) Snapshot() []schema.Position {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]schema.Position, 0, len(t.positions))
	for _, position := range t.positions {
		out = append(out, position)
	}
	return out
}

// Get returns the position for symbol.
func (t *PositionTable) Get(symbol string) (schema.Position, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	position, ok := t.positions[symbol]
	return position, ok
}
