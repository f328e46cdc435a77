package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestLimiter_GrantsWithinBudget(t *testing.T) {
	l := New(Budget{Name: "test", Max: 3, Window: time.Second})
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := l.Acquire(ctx, "test"); err != nil {
			t.Fatalf("acquire %d failed: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("first 3 acquires should be immediate, took %v", elapsed)
	}

	used, max, err := l.Utilization("test")
	if err != nil {
		t.Fatal(err)
	}
	if used != 3 || max != 3 {
		t.Errorf("expected utilization 3/3, got %d/%d", used, max)
	}
}

func TestLimiter_ThirdAcquireDelayed(t *testing.T) {
	// 2 requests per 300ms window: the third must wait roughly the
	// remaining window time, never be rejected outright.
	window := 300 * time.Millisecond
	l := New(Budget{Name: "test", Max: 2, Window: window})
	ctx := context.Background()

	if err := l.Acquire(ctx, "test"); err != nil {
		t.Fatal(err)
	}
	if err := l.Acquire(ctx, "test"); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	if err := l.Acquire(ctx, "test"); err != nil {
		t.Fatalf("third acquire failed: %v", err)
	}
	elapsed := time.Since(start)

	if elapsed < window/2 {
		t.Errorf("third acquire completed too fast: %v (window %v)", elapsed, window)
	}
	if elapsed > 2*window {
		t.Errorf("third acquire waited too long: %v (window %v)", elapsed, window)
	}
}

func TestLimiter_WindowBoundNeverExceeded(t *testing.T) {
	// Property: at any instant, grants within the trailing window <= max.
	const max = 5
	window := 200 * time.Millisecond
	l := New(Budget{Name: "test", Max: max, Window: window})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var mu sync.Mutex
	var grants []time.Time

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if err := l.Acquire(ctx, "test"); err != nil {
					return
				}
				mu.Lock()
				grants = append(grants, time.Now())
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	for i := range grants {
		inWindow := 0
		for j := 0; j <= i; j++ {
			if grants[i].Sub(grants[j]) < window {
				inWindow++
			}
		}
		// Allow one extra for timer jitter right at the window edge.
		if inWindow > max+1 {
			t.Fatalf("window bound violated: %d grants within %v at grant %d", inWindow, window, i)
		}
	}
}

func TestLimiter_MultipleBudgetsSerial(t *testing.T) {
	// The tighter budget throttles even if the looser one has room.
	l := New(
		Budget{Name: "tight", Max: 1, Window: 250 * time.Millisecond},
		Budget{Name: "loose", Max: 100, Window: time.Second},
	)
	ctx := context.Background()

	if err := l.Acquire(ctx, "tight", "loose"); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	if err := l.Acquire(ctx, "tight", "loose"); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Errorf("tight budget should have throttled, elapsed %v", elapsed)
	}
}

func TestLimiter_CancelInterruptsWait(t *testing.T) {
	l := New(Budget{Name: "test", Max: 1, Window: 10 * time.Second})
	if err := l.Acquire(context.Background(), "test"); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- l.Acquire(ctx, "test")
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != context.Canceled {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("acquire did not return promptly after cancel")
	}
}

func TestLimiter_UnknownBudget(t *testing.T) {
	l := New(Budget{Name: "known", Max: 1, Window: time.Second})
	if err := l.Acquire(context.Background(), "missing"); err == nil {
		t.Error("expected error for unknown budget")
	}
}

func TestLimiter_NextSlot(t *testing.T) {
	l := New(Budget{Name: "test", Max: 1, Window: time.Second})

	d, err := l.NextSlot("test")
	if err != nil {
		t.Fatal(err)
	}
	if d != 0 {
		t.Errorf("expected immediate slot, got %v", d)
	}

	if err := l.Acquire(context.Background(), "test"); err != nil {
		t.Fatal(err)
	}
	d, err = l.NextSlot("test")
	if err != nil {
		t.Fatal(err)
	}
	if d <= 0 || d > time.Second {
		t.Errorf("expected wait within (0, 1s], got %v", d)
	}
}
