// Package ident maps locally generated client order identifiers to
// venue-assigned identifiers and maintains the single live-order table.
package ident

import (
	"sync"

	"github.com/perpgate/perpgate/internal/schema"
)

// Resolver tracks the {clientID <-> exchangeID} mapping and deduplicates
// racing updates that refer to the same logical order. Exactly one live
// entry exists per logical order, keyed by the venue id once known and by
// the client id until then. Terminal statuses remove the entry and both
// mapping directions.
type Resolver struct {
	mu         sync.Mutex
	byClient   map[string]string
	byExchange map[string]string
	live       map[string]schema.Order
}

// NewResolver constructs an empty resolver.
func NewResolver() *Resolver {
	return &Resolver{
		byClient:   make(map[string]string),
		byExchange: make(map[string]string),
		live:       make(map[string]schema.Order),
	}
}

// Track registers an order at submission time, before the venue id is known.
func (r *Resolver) Track(order schema.Order) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.applyLocked(order)
}

// Apply merges an update referencing either identifier. It returns the
// canonical projection after the merge and whether the order is still live.
func (r *Resolver) Apply(update schema.Order) (schema.Order, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.applyLocked(update)
}

func (r *Resolver) applyLocked(update schema.Order) (schema.Order, bool) {
	// Link the identifier pair as soon as an update carries both.
	if update.ClientOrderID != "" && update.OrderID != "" {
		r.byClient[update.ClientOrderID] = update.OrderID
		r.byExchange[update.OrderID] = update.ClientOrderID
	}

	// Find every live entry this update could refer to: one keyed by the
	// client id (from the create call) and one keyed by the venue id (from
	// a fast push that won the race). Consolidate them into one.
	merged := update
	for _, key := range r.candidateKeysLocked(update) {
		entry, ok := r.live[key]
		if !ok {
			continue
		}
		delete(r.live, key)
		merged = mergeOrders(entry, merged)
	}

	if merged.Status.Terminal() {
		r.forgetLocked(merged)
		return merged, false
	}

	r.live[r.canonicalKeyLocked(merged)] = merged
	return merged, true
}

// candidateKeysLocked lists every key the update's order may be living under.
func (r *Resolver) candidateKeysLocked(update schema.Order) []string {
	var keys []string
	if update.OrderID != "" {
		keys = append(keys, update.OrderID)
		if client, ok := r.byExchange[update.OrderID]; ok && client != "" {
			keys = append(keys, client)
		}
	}
	if update.ClientOrderID != "" {
		keys = append(keys, update.ClientOrderID)
		if venue, ok := r.byClient[update.ClientOrderID]; ok && venue != "" {
			keys = append(keys, venue)
		}
	}
	return keys
}

func (r *Resolver) canonicalKeyLocked(order schema.Order) string {
	if order.OrderID != "" {
		return order.OrderID
	}
	return order.ClientOrderID
}

func (r *Resolver) forgetLocked(order schema.Order) {
	client := order.ClientOrderID
	venue := order.OrderID
	if client == "" {
		client = r.byExchange[venue]
	}
	if venue == "" {
		venue = r.byClient[client]
	}
	if client != "" {
		delete(r.byClient, client)
		delete(r.live, client)
	}
	if venue != "" {
		delete(r.byExchange, venue)
		delete(r.live, venue)
	}
}

// mergeOrders overlays the newer update on the prior entry, keeping whichever
// identifiers are known on either side.
func mergeOrders(prior, update schema.Order) schema.Order {
	newer, older := update, prior
	if prior.Newer(update) {
		newer, older = prior, update
	}
	if newer.OrderID == "" {
		newer.OrderID = older.OrderID
	}
	if newer.ClientOrderID == "" {
		newer.ClientOrderID = older.ClientOrderID
	}
	if newer.Symbol == "" {
		newer.Symbol = older.Symbol
	}
	if newer.Side == "" {
		newer.Side = older.Side
	}
	if newer.Type == "" {
		newer.Type = older.Type
	}
	if newer.Time.IsZero() {
		newer.Time = older.Time
	}
	if newer.OrigQty.IsZero() {
		newer.OrigQty = older.OrigQty
	}
	if newer.Price.IsZero() {
		newer.Price = older.Price
	}
	return newer
}

// Resolve maps a local identifier to the venue identifier, treating the
// input as already canonical when no mapping exists.
func (r *Resolver) Resolve(localID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if venue, ok := r.byClient[localID]; ok && venue != "" {
		return venue
	}
	return localID
}

// Get returns the live order known under either identifier.
func (r *Resolver) Get(id string) (schema.Order, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if order, ok := r.live[id]; ok {
		return order, true
	}
	if venue, ok := r.byClient[id]; ok {
		if order, ok := r.live[venue]; ok {
			return order, true
		}
	}
	if client, ok := r.byExchange[id]; ok {
		if order, ok := r.live[client]; ok {
			return order, true
		}
	}
	return schema.Order{}, false
}

// Remove drops the order from live tracking, e.g. on a cancel acknowledgment.
// Later push updates for the same order are tolerated and re-dropped once the
// terminal status arrives.
func (r *Resolver) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.live[id]
	if !ok {
		if venue, mapped := r.byClient[id]; mapped {
			order, ok = r.live[venue]
		}
		if !ok {
			if client, mapped := r.byExchange[id]; mapped {
				order, ok = r.live[client]
			}
		}
	}
	if !ok {
		order = schema.Order{OrderID: id, ClientOrderID: id}
	}
	r.forgetLocked(order)
	delete(r.live, id)
}

// Live returns the live orders as an independent slice.
func (r *Resolver) Live() []schema.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]schema.Order, 0, len(r.live))
	for _, order := range r.live {
		out = append(out, order)
	}
	return out
}

// LiveCount reports the number of live entries.
func (r *Resolver) LiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}
