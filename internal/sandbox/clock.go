// Package sandbox implements the simulated trading environment: a virtual
// clock replaying historical candles, an execution engine modelling slippage
// and commission, and performance analytics over the resulting ledger.
package sandbox

import (
	"sync"
	"time"
)

// ClockState is the replay clock's lifecycle state.
type ClockState string

const (
	ClockStopped ClockState = "STOPPED"
	ClockRunning ClockState = "RUNNING"
	ClockPaused  ClockState = "PAUSED"
)

const (
	MinSpeed = 1.0
	MaxSpeed = 100.0
)

// Clock is a virtual clock decoupled from wall time. While running, the
// current sandbox time is derived as simStart + elapsedWall*speed, so pausing
// freezes elapsed-time accumulation exactly rather than drifting by ticks.
type Clock struct {
	mu sync.Mutex

	state    ClockState
	simStart time.Time     // sandbox time when the run (or last jump) began
	runFrom  time.Time     // wall time accumulation restarted at
	elapsed  time.Duration // wall time accumulated before runFrom
	speed    float64
	end      time.Time

	now func() time.Time // wall clock, swappable in tests
}

// NewClock creates a stopped clock bounded by end. Speed is clamped to
// [1,100].
func NewClock(speed float64, end time.Time) *Clock {
	return &Clock{
		state: ClockStopped,
		speed: clampSpeed(speed),
		end:   end,
		now:   time.Now,
	}
}

func clampSpeed(s float64) float64 {
	if s < MinSpeed {
		return MinSpeed
	}
	if s > MaxSpeed {
		return MaxSpeed
	}
	return s
}

// Start transitions stopped→running, seeding sandbox time from the given
// start. Start on a non-stopped clock is a no-op.
func (c *Clock) Start(from time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != ClockStopped {
		return
	}
	c.simStart = from
	c.elapsed = 0
	c.runFrom = c.now()
	c.state = ClockRunning
}

// Pause freezes time accumulation. No-op unless running.
func (c *Clock) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != ClockRunning {
		return
	}
	c.elapsed += c.now().Sub(c.runFrom)
	c.state = ClockPaused
}

// Resume continues a paused clock. No-op unless paused.
func (c *Clock) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != ClockPaused {
		return
	}
	c.runFrom = c.now()
	c.state = ClockRunning
}

// Stop halts the clock from any state, freezing CurrentTime at its last
// computed value.
func (c *Clock) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == ClockRunning {
		c.elapsed += c.now().Sub(c.runFrom)
	}
	c.state = ClockStopped
	c.simStart = c.currentLocked()
	c.elapsed = 0
}

// SetSpeed changes the playback multiplier without disturbing the current
// sandbox time.
func (c *Clock) SetSpeed(speed float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	// Rebase so already-elapsed scaled time is preserved.
	c.simStart = c.currentLocked()
	c.elapsed = 0
	if c.state == ClockRunning {
		c.runFrom = c.now()
	}
	c.speed = clampSpeed(speed)
}

// SetTime jumps the sandbox clock to t (clamped to the end bound).
func (c *Clock) SetTime(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.After(c.end) {
		t = c.end
	}
	c.simStart = t
	c.elapsed = 0
	if c.state == ClockRunning {
		c.runFrom = c.now()
	}
}

// Advance jumps the sandbox clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.currentLocked().Add(d)
	if t.After(c.end) {
		t = c.end
	}
	c.simStart = t
	c.elapsed = 0
	if c.state == ClockRunning {
		c.runFrom = c.now()
	}
}

// CurrentTime returns the sandbox time, clamped to the end bound.
func (c *Clock) CurrentTime() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentLocked()
}

func (c *Clock) currentLocked() time.Time {
	elapsed := c.elapsed
	if c.state == ClockRunning {
		elapsed += c.now().Sub(c.runFrom)
	}
	t := c.simStart.Add(time.Duration(float64(elapsed) * c.speed))
	if t.After(c.end) {
		return c.end
	}
	return t
}

// AtEnd reports whether the clock has reached its end bound.
func (c *Clock) AtEnd() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.currentLocked().Before(c.end)
}

// State returns the clock's lifecycle state.
func (c *Clock) State() ClockState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Speed returns the playback multiplier.
func (c *Clock) Speed() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speed
}

// Cadence is how often the replay loop should re-evaluate the current time:
// faster playback polls tighter, floored at 10ms.
func (c *Clock) Cadence() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	d := time.Duration(float64(time.Second) / c.speed)
	if d < 10*time.Millisecond {
		d = 10 * time.Millisecond
	}
	return d
}
