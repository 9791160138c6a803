package resilience

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestThrottle_SpacesCalls(t *testing.T) {
	th := NewThrottle(20 * time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 4; i++ {
		if err := th.Wait(ctx); err != nil {
			t.Fatalf("wait: %v", err)
		}
	}
	// First call is immediate, the next three each wait one interval.
	if elapsed := time.Since(start); elapsed < 55*time.Millisecond {
		t.Errorf("expected >= 60ms of pacing, got %v", elapsed)
	}
}

func TestThrottle_SharedAcrossGoroutines(t *testing.T) {
	th := NewThrottle(15 * time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = th.Wait(ctx)
		}()
	}
	wg.Wait()

	if elapsed := time.Since(start); elapsed < 55*time.Millisecond {
		t.Errorf("expected concurrent callers to be serialized (>= 60ms), got %v", elapsed)
	}
}

func TestThrottle_Disabled(t *testing.T) {
	th := NewThrottle(0)
	start := time.Now()
	for i := 0; i < 100; i++ {
		if err := th.Wait(context.Background()); err != nil {
			t.Fatalf("wait: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("disabled throttle should not sleep, took %v", elapsed)
	}
	if th.Interval() != 0 {
		t.Errorf("expected zero interval, got %v", th.Interval())
	}
}

func TestThrottle_ContextCancelled(t *testing.T) {
	th := NewThrottle(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())

	if err := th.Wait(ctx); err != nil {
		t.Fatalf("first wait should pass: %v", err)
	}
	cancel()
	if err := th.Wait(ctx); err == nil {
		t.Fatal("expected error from cancelled context")
	}
}
