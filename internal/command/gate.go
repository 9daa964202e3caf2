package command

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"airbridge/internal/clock"
)

// DefaultSettleDelay is the wait after a mode switch before the dependent
// command is issued.
const DefaultSettleDelay = 300 * time.Millisecond

// Gate sequences commands that are only meaningful in a particular device
// mode: switch mode first if needed, wait a settle delay for the device to
// apply it internally, then issue the target command. A failed mode switch
// aborts the sequence; the target command is never issued after one.
type Gate struct {
	currentMode func() string
	switchMode  func(mode string) error
	settle      time.Duration
	clk         clock.Clock
	logger      *zap.Logger

	mu      sync.Mutex
	pending map[clock.Timer]struct{}
	stopped bool
}

// NewGate creates a gate. currentMode reports the last-known device mode;
// switchMode issues the mode-switch command. A settle of zero or less takes
// DefaultSettleDelay.
func NewGate(currentMode func() string, switchMode func(mode string) error, settle time.Duration, clk clock.Clock, logger *zap.Logger) *Gate {
	if settle <= 0 {
		settle = DefaultSettleDelay
	}
	return &Gate{
		currentMode: currentMode,
		switchMode:  switchMode,
		settle:      settle,
		clk:         clk,
		logger:      logger.Named("gate"),
	}
}

// EnsureModeThenApply issues apply once the device is in requiredMode. If the
// device is already there, apply runs immediately. Otherwise the mode switch
// is issued, the settle delay elapses, then apply runs. done receives the
// outcome of whichever step ended the sequence; it may be nil.
func (g *Gate) EnsureModeThenApply(requiredMode string, apply func() error, done CompletionFunc) {
	g.mu.Lock()
	if g.stopped {
		g.mu.Unlock()
		return
	}
	g.mu.Unlock()

	if g.currentMode() == requiredMode {
		complete(done, apply())
		return
	}

	if err := g.switchMode(requiredMode); err != nil {
		seqErr := &SequenceError{Mode: requiredMode, Err: err}
		g.logger.Warn("Mode switch failed, aborting sequence", zap.Error(seqErr))
		complete(done, seqErr)
		return
	}

	g.mu.Lock()
	if g.stopped {
		g.mu.Unlock()
		return
	}
	var timer clock.Timer
	timer = g.clk.AfterFunc(g.settle, func() {
		g.mu.Lock()
		delete(g.pending, timer)
		stopped := g.stopped
		g.mu.Unlock()
		if stopped {
			return
		}
		complete(done, apply())
	})
	if g.pending == nil {
		g.pending = make(map[clock.Timer]struct{})
	}
	g.pending[timer] = struct{}{}
	g.mu.Unlock()
}

// Stop cancels any sequences waiting out their settle delay. Safe to call
// repeatedly.
func (g *Gate) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.stopped = true
	for timer := range g.pending {
		timer.Stop()
	}
	g.pending = nil
}

func complete(done CompletionFunc, err error) {
	if done != nil {
		done(err)
	}
}
