// Package sign serializes signed, nonce-ordered requests so concurrent order
// operations cannot corrupt a venue's sequencing requirements.
package sign

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/perpgate/perpgate/errs"
	"github.com/perpgate/perpgate/internal/observability"
)

// Operation is a mutating request dispatched under an assigned nonce.
type Operation func(ctx context.Context, nonce uint64) error

// NonceSource resynchronizes a signing key's counter from the venue's source
// of truth.
type NonceSource interface {
	FetchNonce(ctx context.Context, keyID string) (uint64, error)
}

// NonceFloorSource optionally supplies a lower bound recomputed before every
// operation. Venues whose nonce doubles as a timestamp need the counter to
// track the clock after idle gaps, not just increment.
type NonceFloorSource interface {
	NonceFloor(keyID string) uint64
}

// Serializer guarantees that all operations for one signing key execute
// strictly one at a time in submission order, while operations for different
// keys run concurrently. An invalid-nonce rejection triggers a throttled
// counter resync before the next operation proceeds; a failed operation is
// reported to its caller and never blocks the queue.
type Serializer struct {
	source     NonceSource
	refreshMin time.Duration
	log        observability.Logger

	mu     sync.Mutex
	queues map[string]*keyQueue
	closed bool
}

type keyQueue struct {
	keyID   string
	jobs    chan job
	quit    chan struct{}
	limiter *rate.Limiter
	serial  *Serializer
	nonce   uint64
	synced  bool
}

type job struct {
	ctx  context.Context
	op   Operation
	done chan error
}

// NewSerializer constructs a serializer resyncing nonces through source at
// most once per refreshMin.
func NewSerializer(source NonceSource, refreshMin time.Duration) *Serializer {
	return &Serializer{
		source:     source,
		refreshMin: refreshMin,
		log:        observability.Log(),
		queues:     make(map[string]*keyQueue),
	}
}

// Enqueue submits op on the signing key's queue and blocks until the
// operation completes or ctx is canceled while still queued.
func (s *Serializer) Enqueue(ctx context.Context, keyID string, op Operation) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errs.New("", errs.CodeConnection, errs.WithMessage("serializer closed"))
	}
	queue, ok := s.queues[keyID]
	if !ok {
		queue = &keyQueue{
			keyID:   keyID,
			jobs:    make(chan job, 64),
			quit:    make(chan struct{}),
			limiter: rate.NewLimiter(rate.Every(s.refreshMin), 1),
			serial:  s,
		}
		s.queues[keyID] = queue
		go queue.run()
	}

	// The send happens under the lock Close holds, so a job is either
	// admitted before shutdown and drained, or refused above. The channel
	// is never closed, so the send cannot panic.
	j := job{ctx: ctx, op: op, done: make(chan error, 1)}
	select {
	case queue.jobs <- j:
		s.mu.Unlock()
	case <-ctx.Done():
		s.mu.Unlock()
		return ctx.Err()
	}
	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops all key queues. Queued operations still drain.
func (s *Serializer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for _, queue := range s.queues {
		// The jobs channel stays open so a racing Enqueue cannot panic;
		// the quit channel stops the worker after it drains.
		close(queue.quit)
	}
}

func (q *keyQueue) run() {
	for {
		select {
		case j := <-q.jobs:
			q.serve(j)
		case <-q.quit:
			for {
				select {
				case j := <-q.jobs:
					q.serve(j)
				default:
					return
				}
			}
		}
	}
}

func (q *keyQueue) serve(j job) {
	if err := j.ctx.Err(); err != nil {
		j.done <- err
		return
	}
	j.done <- q.execute(j)
}

func (q *keyQueue) execute(j job) error {
	if !q.synced {
		if err := q.refresh(j.ctx, true); err != nil {
			return err
		}
	}

	nonce := q.nonce
	if floors, ok := q.serial.source.(NonceFloorSource); ok {
		if floor := floors.NonceFloor(q.keyID); floor > nonce {
			nonce = floor
		}
	}
	q.nonce = nonce + 1
	err := j.op(j.ctx, nonce)
	if err == nil {
		return nil
	}

	if errs.IsCode(err, errs.CodeNonce) {
		// Resync before the next operation; the rejection itself is still
		// the caller's to handle, a transparent retry is not guaranteed.
		if rerr := q.refresh(context.Background(), false); rerr != nil {
			q.serial.log.Error("nonce refresh failed",
				observability.F("key", q.keyID),
				observability.F("error", rerr.Error()))
		}
	}
	return err
}

// refresh resynchronizes the counter, throttled to one fetch per refreshMin
// unless forced by an initial sync.
func (q *keyQueue) refresh(ctx context.Context, force bool) error {
	if !force && !q.limiter.Allow() {
		return nil
	}
	if q.serial.source == nil {
		q.synced = true
		return nil
	}
	nonce, err := q.serial.source.FetchNonce(ctx, q.keyID)
	if err != nil {
		return errs.New("", errs.CodeNonce,
			errs.WithMessage("nonce resync failed"), errs.WithCause(err))
	}
	q.nonce = nonce
	q.synced = true
	return nil
}
