package command

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"airbridge/internal/clock"
)

// DefaultCoalesceWindow is the quiet period after which the latest submitted
// value is applied.
const DefaultCoalesceWindow = 100 * time.Millisecond

// ApplyFunc issues the coalesced write and reports its outcome through done.
type ApplyFunc func(value int64, done CompletionFunc)

// Coalescer debounces a continuous-valued write so bursts (a UI slider) do
// not flood the device. Each Submit reschedules the pending apply with the
// new value; the apply runs once the window passes with no further submits.
// Only the caller whose value wins receives a completion; superseded callers
// hear nothing, their request was replaced.
type Coalescer struct {
	apply  ApplyFunc
	window time.Duration
	clk    clock.Clock
	logger *zap.Logger

	mu      sync.Mutex
	timer   clock.Timer
	gen     uint64
	stopped bool
}

// NewCoalescer wraps apply with a quiet window. A window of zero or less
// takes DefaultCoalesceWindow.
func NewCoalescer(apply ApplyFunc, window time.Duration, clk clock.Clock, logger *zap.Logger) *Coalescer {
	if window <= 0 {
		window = DefaultCoalesceWindow
	}
	return &Coalescer{
		apply:  apply,
		window: window,
		clk:    clk,
		logger: logger.Named("coalescer"),
	}
}

// Submit schedules apply(value) after the quiet window, cancelling any
// previously scheduled value. done may be nil.
func (c *Coalescer) Submit(value int64, done CompletionFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return
	}
	c.gen++
	gen := c.gen
	if c.timer != nil {
		c.timer.Stop()
		c.logger.Debug("Superseding pending write", zap.Int64("value", value))
	}
	c.timer = c.clk.AfterFunc(c.window, func() {
		c.fire(gen, value, done)
	})
}

// fire runs on timer expiry. A timer can expire concurrently with a Submit
// that supersedes it, in which case Stop reports false and the callback still
// runs; the generation check makes such a callback a no-op so it neither
// applies the stale value nor clears the newer submit's timer.
func (c *Coalescer) fire(gen uint64, value int64, done CompletionFunc) {
	c.mu.Lock()
	if c.stopped || gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.mu.Unlock()

	c.apply(value, done)
}

// Stop cancels any pending apply. The pending caller receives no completion.
// Safe to call repeatedly.
func (c *Coalescer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopped = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}
