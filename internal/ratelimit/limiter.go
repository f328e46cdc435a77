// Package ratelimit provides sliding-window admission control for outbound
// provider calls across multiple named budgets (per-minute, per-hour, ...).
//
// A caller that is subject to several budgets acquires them serially in the
// order given, so the tightest applicable constraint throttles it.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Budget is one named request allowance: at most Max grants within any
// trailing Window.
type Budget struct {
	Name   string
	Max    int
	Window time.Duration
}

type windowState struct {
	mu    sync.Mutex
	max   int
	win   time.Duration
	stamp []time.Time // grant timestamps, oldest first
}

// Limiter coordinates admission across named budgets.
type Limiter struct {
	mu      sync.RWMutex
	budgets map[string]*windowState

	// OnWait is called with the budget name and computed wait whenever an
	// acquisition has to sleep. Optional metrics hook.
	OnWait func(budget string, wait time.Duration)
}

// New creates a Limiter with the given budgets.
func New(budgets ...Budget) *Limiter {
	l := &Limiter{budgets: make(map[string]*windowState, len(budgets))}
	for _, b := range budgets {
		l.budgets[b.Name] = &windowState{max: b.Max, win: b.Window}
	}
	return l
}

// Acquire blocks until one slot is granted in every named budget, checked
// serially in the order given. The wait per attempt is bounded by the
// budget's window; cancellation via ctx interrupts any in-flight wait.
func (l *Limiter) Acquire(ctx context.Context, names ...string) error {
	for _, name := range names {
		st, err := l.state(name)
		if err != nil {
			return err
		}
		if err := st.acquire(ctx, name, l.OnWait); err != nil {
			return err
		}
	}
	return nil
}

// acquire grants one slot in this budget, sleeping as needed.
// Implemented as a bounded loop: one wait computation per attempt.
func (st *windowState) acquire(ctx context.Context, name string, onWait func(string, time.Duration)) error {
	for {
		now := time.Now()

		st.mu.Lock()
		st.evict(now)
		if len(st.stamp) < st.max {
			st.stamp = append(st.stamp, now)
			st.mu.Unlock()
			return nil
		}
		wait := st.stamp[0].Add(st.win).Sub(now)
		st.mu.Unlock()

		if wait <= 0 {
			continue // oldest entry expired between evict and here
		}
		if onWait != nil {
			onWait(name, wait)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// evict drops timestamps older than the trailing window. Caller holds mu.
func (st *windowState) evict(now time.Time) {
	cutoff := now.Add(-st.win)
	i := 0
	for i < len(st.stamp) && !st.stamp[i].After(cutoff) {
		i++
	}
	if i > 0 {
		st.stamp = st.stamp[i:]
	}
}

// Utilization returns (in-window grants, budget max) for observability.
func (l *Limiter) Utilization(name string) (used, max int, err error) {
	st, err := l.state(name)
	if err != nil {
		return 0, 0, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	st.evict(time.Now())
	return len(st.stamp), st.max, nil
}

// NextSlot returns how long until the next slot frees up. Zero means a
// grant would succeed immediately.
func (l *Limiter) NextSlot(name string) (time.Duration, error) {
	st, err := l.state(name)
	if err != nil {
		return 0, err
	}
	now := time.Now()
	st.mu.Lock()
	defer st.mu.Unlock()
	st.evict(now)
	if len(st.stamp) < st.max {
		return 0, nil
	}
	d := st.stamp[0].Add(st.win).Sub(now)
	if d < 0 {
		d = 0
	}
	return d, nil
}

func (l *Limiter) state(name string) (*windowState, error) {
	l.mu.RLock()
	st, ok := l.budgets[name]
	l.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("ratelimit: unknown budget %q", name)
	}
	return st, nil
}
