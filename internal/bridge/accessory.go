// Package bridge composes one device accessory: the poll loop that turns
// device state into facet updates, and the command entry points the
// presentation layer calls to write state back.
package bridge

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"airbridge/internal/clock"
	"airbridge/internal/command"
	"airbridge/internal/device"
	"airbridge/internal/miio"
	"airbridge/pkg/sink"
)

// Options tunes one accessory instance.
type Options struct {
	PollInterval   time.Duration
	ChunkSize      int
	CoalesceWindow time.Duration
	ModeSettle     time.Duration
	LED            bool
	Buzzer         bool
}

// Accessory bridges one purifier. Reads flow device -> poller -> sink; writes
// flow entry points -> coalescer/gate -> device.
type Accessory struct {
	client miio.Client
	store  *device.Store
	poller *device.Poller
	speed  *command.Coalescer
	gate   *command.Gate
	logger *zap.Logger

	release     func()
	releaseOnce sync.Once
}

// New assembles an accessory over an already-connected client. release is
// invoked exactly once on Stop to give back the shared transport; it may be
// nil.
func New(client miio.Client, out sink.Sink, clk clock.Clock, opts Options, release func(), logger *zap.Logger) *Accessory {
	logger = logger.Named("accessory")

	store := device.NewStore()
	fetcher := device.NewFetcher(client, opts.ChunkSize)

	table := device.DefaultTable()
	if !opts.LED {
		table.Remove(device.PropLED)
	}
	if !opts.Buzzer {
		table.Remove(device.PropBuzzer)
	}

	a := &Accessory{
		client:  client,
		store:   store,
		poller:  device.NewPoller(fetcher, store, table, out, clk, opts.PollInterval, logger),
		logger:  logger,
		release: release,
	}

	a.gate = command.NewGate(
		func() string { return store.Current().Str(device.PropMode) },
		func(mode string) error { return client.Send("set_mode", []any{mode}) },
		opts.ModeSettle, clk, logger,
	)
	a.speed = command.NewCoalescer(a.applySpeed, opts.CoalesceWindow, clk, logger)
	return a
}

// Start begins polling the device.
func (a *Accessory) Start() {
	a.poller.Start()
}

// Stop halts polling, cancels pending write timers, and releases the
// transport handle. Safe to call repeatedly and before Start.
func (a *Accessory) Stop() {
	a.poller.Stop()
	a.speed.Stop()
	a.gate.Stop()
	a.releaseOnce.Do(func() {
		if a.release != nil {
			a.release()
		}
	})
}

// Current returns the last-accepted device snapshot.
func (a *Accessory) Current() device.Snapshot {
	return a.store.Current()
}

// SetPower switches the device on or off.
func (a *Accessory) SetPower(on bool, done command.CompletionFunc) {
	a.sendAsync("set_power", []any{onOff(on)}, done)
}

// SetMode selects the target mode: "auto" runs the device's automatic
// program, "manual" switches to favorite mode so speed writes take effect.
func (a *Accessory) SetMode(target string, done command.CompletionFunc) {
	mode := device.ModeAuto
	if target == "manual" {
		mode = device.ModeFavorite
	}
	a.sendAsync("set_mode", []any{mode}, done)
}

// SetLock enables or disables the physical child lock.
func (a *Accessory) SetLock(locked bool, done command.CompletionFunc) {
	a.sendAsync("set_child_lock", []any{onOff(locked)}, done)
}

// SetLED switches the status display.
func (a *Accessory) SetLED(on bool, done command.CompletionFunc) {
	a.sendAsync("set_led", []any{onOff(on)}, done)
}

// SetBuzzer switches the audible feedback.
func (a *Accessory) SetBuzzer(on bool, done command.CompletionFunc) {
	a.sendAsync("set_buzzer", []any{onOff(on)}, done)
}

// SetSpeed requests a fan speed as a 0-100 percentage. Bursts coalesce over
// the quiet window; only the final value is written, after the device is
// gated into favorite mode. Superseded callers receive no completion.
func (a *Accessory) SetSpeed(percent float64, done command.CompletionFunc) {
	a.speed.Submit(device.PercentToLevel(percent), done)
}

// applySpeed is the coalescer's downstream: gate into favorite mode, then
// write the level.
func (a *Accessory) applySpeed(level int64, done command.CompletionFunc) {
	a.gate.EnsureModeThenApply(device.ModeFavorite, func() error {
		if err := a.client.Send("set_level_favorite", []any{level}); err != nil {
			return &command.CommandError{Method: "set_level_favorite", Err: err}
		}
		return nil
	}, done)
}

// sendAsync issues one set command off the caller's goroutine and reports
// the outcome through done, which may be nil.
func (a *Accessory) sendAsync(method string, params []any, done command.CompletionFunc) {
	go func() {
		var err error
		if sendErr := a.client.Send(method, params); sendErr != nil {
			err = &command.CommandError{Method: method, Err: sendErr}
			a.logger.Warn("Command failed", zap.String("method", method), zap.Error(sendErr))
		}
		if done != nil {
			done(err)
		}
	}()
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
