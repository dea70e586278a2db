package gateway

import (
	"runtime"
	"sync"

	"github.com/sourcegraph/conc/pool"

	"github.com/perpgate/perpgate/internal/observability"
)

// Feed fans one stream of canonical events out to registered listeners. A
// panicking listener is logged and skipped for that event; other listeners
// still receive it. Listeners registering after the first event immediately
// receive the latest snapshot.
type Feed[T any] struct {
	name       string
	log        observability.Logger
	maxWorkers int

	mu        sync.Mutex
	listeners map[uint64]func(T)
	nextID    uint64
	last      T
	hasLast   bool
}

// NewFeed constructs a named feed. The name only appears in log fields.
func NewFeed[T any](name string) *Feed[T] {
	return &Feed[T]{
		name:       name,
		log:        observability.Log(),
		maxWorkers: runtime.GOMAXPROCS(0),
		listeners:  make(map[uint64]func(T)),
	}
}

// Subscribe registers fn and replays the latest snapshot when one exists.
func (f *Feed[T]) Subscribe(fn func(T)) Subscription {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.listeners[id] = fn
	replay, hasReplay := f.last, f.hasLast
	f.mu.Unlock()

	if hasReplay {
		f.deliver(fn, replay)
	}
	return &feedSubscription[T]{feed: f, id: id}
}

// Publish delivers v to every listener and records it as the new snapshot.
// Delivery completes before Publish returns, preserving per-feed ordering.
func (f *Feed[T]) Publish(v T) {
	f.mu.Lock()
	f.last = v
	f.hasLast = true
	targets := make([]func(T), 0, len(f.listeners))
	for _, fn := range f.listeners {
		targets = append(targets, fn)
	}
	f.mu.Unlock()

	switch len(targets) {
	case 0:
	case 1:
		f.deliver(targets[0], v)
	default:
		workers := f.maxWorkers
		if workers > len(targets) {
			workers = len(targets)
		}
		p := pool.New().WithMaxGoroutines(workers)
		for _, fn := range targets {
			fn := fn
			p.Go(func() { f.deliver(fn, v) })
		}
		p.Wait()
	}
}

// Len reports the active listener count.
func (f *Feed[T]) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners)
}

func (f *Feed[T]) deliver(fn func(T), v T) {
	defer func() {
		if r := recover(); r != nil {
			f.log.Error("listener panic",
				observability.F("feed", f.name),
				observability.F("panic", r))
		}
	}()
	fn(v)
}

type feedSubscription[T any] struct {
	feed *Feed[T]
	id   uint64
	once sync.Once
}

func (s *feedSubscription[T]) Unsubscribe() {
	s.once.Do(func() {
		s.feed.mu.Lock()
		delete(s.feed.listeners, s.id)
		s.feed.mu.Unlock()
	})
}
