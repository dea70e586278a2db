// Package journal persists the order lifecycle for audit and recovery. The
// gateway writes through the Recorder interface; the postgres subpackage is
// the production implementation.
package journal

import (
	"context"

	"github.com/perpgate/perpgate/internal/schema"
)

// Recorder receives order lifecycle writes. Implementations must tolerate
// duplicate transitions: pushes may replay after reconnects.
type Recorder interface {
	// RecordPlacement stores the initial acknowledgement of a new order.
	RecordPlacement(ctx context.Context, venue string, order schema.Order) error
	// RecordTransition stores a state change pushed by the venue.
	RecordTransition(ctx context.Context, venue string, order schema.Order) error
}

// Nop discards all writes. Used when the journal is disabled.
type Nop struct{}

func (Nop) RecordPlacement(context.Context, string, schema.Order) error  { return nil }
func (Nop) RecordTransition(context.Context, string, schema.Order) error { return nil }
