// Package clock abstracts timer scheduling so the poll loop, the write
// coalescer, and the mode gate can be driven by a mock clock in tests.
package clock

import (
	"sync"
	"time"
)

// Clock schedules timers. RealClock delegates to the time package; MockClock
// only advances when told to.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the time once d has elapsed.
	After(d time.Duration) <-chan time.Time

	// AfterFunc calls f in its own goroutine once d has elapsed. The
	// returned Timer can cancel the call before it fires.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a single pending callback.
type Timer interface {
	// Stop cancels the timer. It reports whether the call prevented the
	// timer from firing.
	Stop() bool
}

// RealClock implements Clock with the standard time package.
type RealClock struct{}

// NewRealClock returns the production clock.
func NewRealClock() *RealClock {
	return &RealClock{}
}

func (c *RealClock) Now() time.Time {
	return time.Now()
}

func (c *RealClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

func (c *RealClock) AfterFunc(d time.Duration, f func()) Timer {
	return &realTimer{t: time.AfterFunc(d, f)}
}

type realTimer struct {
	t *time.Timer
}

func (t *realTimer) Stop() bool {
	return t.t.Stop()
}

// MockClock is a manually driven Clock for tests. Timers fire only when
// Advance moves the clock past their deadline, and they fire on the caller's
// goroutine so tests observe effects synchronously.
type MockClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*mockTimer
}

type mockTimer struct {
	deadline time.Time
	f        func()
	fired    bool
	stopped  bool
}

// NewMockClock returns a MockClock starting at start.
func NewMockClock(start time.Time) *MockClock {
	return &MockClock{now: start}
}

func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *MockClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	c.AfterFunc(d, func() {
		c.mu.Lock()
		t := c.now
		c.mu.Unlock()
		ch <- t
	})
	return ch
}

func (c *MockClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &mockTimer{deadline: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return &mockHandle{clock: c, timer: t}
}

// Advance moves the clock forward by d, firing every expired timer in
// deadline order. A timer callback may schedule further timers; those fire
// too if their deadline falls within the advanced window.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var next *mockTimer
		for _, t := range c.timers {
			if t.fired || t.stopped || t.deadline.After(target) {
				continue
			}
			if next == nil || t.deadline.Before(next.deadline) {
				next = t
			}
		}
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		next.fired = true
		if next.deadline.After(c.now) {
			c.now = next.deadline
		}
		f := next.f
		c.mu.Unlock()
		f()
	}
}

type mockHandle struct {
	clock *MockClock
	timer *mockTimer
}

func (h *mockHandle) Stop() bool {
	h.clock.mu.Lock()
	defer h.clock.mu.Unlock()
	if h.timer.fired || h.timer.stopped {
		return false
	}
	h.timer.stopped = true
	return true
}
