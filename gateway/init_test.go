package gateway

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestInitializerMemoizesSuccess(t *testing.T) {
	var runs atomic.Int32
	init := NewInitializer(func(context.Context) error {
		runs.Add(1)
		return nil
	}, time.Second)

	for i := 0; i < 3; i++ {
		if err := init.Ensure(context.Background()); err != nil {
			t.Fatalf("ensure: %v", err)
		}
	}
	if got := runs.Load(); got != 1 {
		t.Fatalf("expected one initialization run, got %d", got)
	}
	if !init.Ready() {
		t.Fatalf("expected ready after success")
	}
}

func TestInitializerSharesConcurrentAttempt(t *testing.T) {
	var runs atomic.Int32
	gate := make(chan struct{})
	init := NewInitializer(func(context.Context) error {
		runs.Add(1)
		<-gate
		return nil
	}, time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := init.Ensure(context.Background()); err != nil {
				t.Errorf("ensure: %v", err)
			}
		}()
	}
	time.Sleep(10 * time.Millisecond)
	close(gate)
	wg.Wait()

	if got := runs.Load(); got != 1 {
		t.Fatalf("expected a single shared attempt, got %d", got)
	}
}

func TestInitializerDebouncesRetries(t *testing.T) {
	var runs atomic.Int32
	boom := errors.New("listen key rejected")
	init := NewInitializer(func(context.Context) error {
		runs.Add(1)
		return boom
	}, time.Second)

	if err := init.Ensure(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected init error, got %v", err)
	}
	// Immediate retries inside the backoff window reuse the failure.
	for i := 0; i < 4; i++ {
		if err := init.Ensure(context.Background()); !errors.Is(err, boom) {
			t.Fatalf("expected cached failure, got %v", err)
		}
	}
	if got := runs.Load(); got != 1 {
		t.Fatalf("expected debounced retries, got %d runs", got)
	}
}

func TestInitializerRetriesAfterBackoffWindow(t *testing.T) {
	var runs atomic.Int32
	init := NewInitializer(func(context.Context) error {
		if runs.Add(1) == 1 {
			return errors.New("transient")
		}
		return nil
	}, time.Millisecond)

	now := time.Now()
	init.now = func() time.Time { return now }

	if err := init.Ensure(context.Background()); err == nil {
		t.Fatalf("expected first attempt to fail")
	}

	now = now.Add(time.Minute)
	if err := init.Ensure(context.Background()); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if got := runs.Load(); got != 2 {
		t.Fatalf("expected 2 runs, got %d", got)
	}
}

func TestInitializerWaiterHonorsContext(t *testing.T) {
	gate := make(chan struct{})
	init := NewInitializer(func(context.Context) error {
		<-gate
		return nil
	}, time.Second)

	go init.Ensure(context.Background())
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := init.Ensure(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
	close(gate)
}
