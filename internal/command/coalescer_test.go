package command

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"airbridge/internal/clock"
)

// recordingApply records applied values and completes immediately.
type recordingApply struct {
	mu     sync.Mutex
	values []int64
	err    error
}

func (r *recordingApply) apply(value int64, done CompletionFunc) {
	r.mu.Lock()
	r.values = append(r.values, value)
	err := r.err
	r.mu.Unlock()
	if done != nil {
		done(err)
	}
}

func (r *recordingApply) applied() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.values...)
}

func TestCoalescer_BurstCollapsesToLastValue(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	clk := clock.NewMockClock(time.Unix(0, 0))
	rec := &recordingApply{}
	c := NewCoalescer(rec.apply, 100*time.Millisecond, clk, logger)

	var completions []int64
	doneFor := func(v int64) CompletionFunc {
		return func(err error) {
			assert.NoError(t, err)
			completions = append(completions, v)
		}
	}

	c.Submit(1, doneFor(1))
	clk.Advance(30 * time.Millisecond)
	c.Submit(2, doneFor(2))
	clk.Advance(30 * time.Millisecond)
	c.Submit(3, doneFor(3))

	// Still inside the quiet window: nothing applied yet.
	assert.Empty(t, rec.applied())

	clk.Advance(100 * time.Millisecond)

	// Exactly one apply, with the last value; only its caller completes.
	assert.Equal(t, []int64{3}, rec.applied())
	assert.Equal(t, []int64{3}, completions)
}

func TestCoalescer_SeparateQuietPeriods(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	clk := clock.NewMockClock(time.Unix(0, 0))
	rec := &recordingApply{}
	c := NewCoalescer(rec.apply, 100*time.Millisecond, clk, logger)

	c.Submit(5, nil)
	clk.Advance(100 * time.Millisecond)
	c.Submit(9, nil)
	clk.Advance(100 * time.Millisecond)

	assert.Equal(t, []int64{5, 9}, rec.applied())
}

func TestCoalescer_FailureReachesWinner(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	clk := clock.NewMockClock(time.Unix(0, 0))
	rec := &recordingApply{err: errors.New("device rejected")}
	c := NewCoalescer(rec.apply, 100*time.Millisecond, clk, logger)

	var got error
	c.Submit(7, func(err error) { got = err })
	clk.Advance(100 * time.Millisecond)

	assert.EqualError(t, got, "device rejected")
}

func TestCoalescer_StopCancelsPending(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	clk := clock.NewMockClock(time.Unix(0, 0))
	rec := &recordingApply{}
	c := NewCoalescer(rec.apply, 100*time.Millisecond, clk, logger)

	completed := false
	c.Submit(4, func(error) { completed = true })
	c.Stop()
	c.Stop()
	clk.Advance(time.Second)

	assert.Empty(t, rec.applied())
	assert.False(t, completed)

	// Submits after Stop are dropped.
	c.Submit(8, nil)
	clk.Advance(time.Second)
	assert.Empty(t, rec.applied())
}

// scriptedClock hands out timers the test expires and fires by hand, so the
// real-clock gap between a timer expiring and its callback running can be
// reproduced deterministically.
type scriptedClock struct {
	mu     sync.Mutex
	timers []*scriptedTimer
}

type scriptedTimer struct {
	mu      sync.Mutex
	fn      func()
	expired bool
	stopped bool
}

func (c *scriptedClock) Now() time.Time { return time.Unix(0, 0) }

func (c *scriptedClock) After(time.Duration) <-chan time.Time {
	return make(chan time.Time)
}

func (c *scriptedClock) AfterFunc(_ time.Duration, f func()) clock.Timer {
	t := &scriptedTimer{fn: f}
	c.mu.Lock()
	c.timers = append(c.timers, t)
	c.mu.Unlock()
	return t
}

func (c *scriptedClock) timer(i int) *scriptedTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timers[i]
}

// expire marks the timer as committed to firing; Stop now reports false, as
// time.Timer.Stop does once the callback is already scheduled.
func (t *scriptedTimer) expire() {
	t.mu.Lock()
	t.expired = true
	t.mu.Unlock()
}

// run invokes the callback, as the runtime would after expiry.
func (t *scriptedTimer) run() { t.fn() }

func (t *scriptedTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.expired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

func (t *scriptedTimer) wasStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

func TestCoalescer_SubmitDuringExpiredCallbackGap(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	clk := &scriptedClock{}
	rec := &recordingApply{}
	c := NewCoalescer(rec.apply, 100*time.Millisecond, clk, logger)

	var completions []int64
	doneFor := func(v int64) CompletionFunc {
		return func(error) { completions = append(completions, v) }
	}

	c.Submit(1, doneFor(1))
	t1 := clk.timer(0)

	// The first timer expires; before its callback acquires the lock, a new
	// submit lands. Stop cannot cancel a committed timer, so the callback
	// still runs afterwards.
	t1.expire()
	c.Submit(2, doneFor(2))
	t1.run()

	// The stale callback applies nothing and leaves the second submit's
	// timer in place, so the next submit can still cancel it.
	assert.Empty(t, rec.applied())

	c.Submit(3, doneFor(3))
	assert.True(t, clk.timer(1).wasStopped())

	t3 := clk.timer(2)
	t3.expire()
	t3.run()

	// Only the most recent value reaches the device; superseded callers
	// receive no completion.
	assert.Equal(t, []int64{3}, rec.applied())
	assert.Equal(t, []int64{3}, completions)
}

func TestCoalescer_DefaultWindow(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	clk := clock.NewMockClock(time.Unix(0, 0))
	rec := &recordingApply{}
	c := NewCoalescer(rec.apply, 0, clk, logger)

	c.Submit(1, nil)
	clk.Advance(DefaultCoalesceWindow)
	assert.Equal(t, []int64{1}, rec.applied())
}
