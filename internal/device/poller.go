package device

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"airbridge/internal/clock"
	"airbridge/pkg/sink"
)

// DefaultPollInterval is the fixed period between poll cycles.
const DefaultPollInterval = 5 * time.Second

// Poller drives the recurring fetch-diff-dispatch cycle. One cycle runs at a
// time; a cycle that fails to fetch is skipped and the next tick retries
// naturally.
type Poller struct {
	fetcher  *Fetcher
	store    *Store
	table    *Table
	out      sink.Sink
	clk      clock.Clock
	interval time.Duration
	logger   *zap.Logger

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	done     chan struct{}
}

// NewPoller creates a poller. An interval of zero or less takes
// DefaultPollInterval.
func NewPoller(fetcher *Fetcher, store *Store, table *Table, out sink.Sink, clk clock.Clock, interval time.Duration, logger *zap.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		fetcher:  fetcher,
		store:    store,
		table:    table,
		out:      out,
		clk:      clk,
		interval: interval,
		logger:   logger.Named("poller"),
	}
}

// Start begins the poll loop. Calling Start on a running poller is a no-op.
func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}
	p.running = true
	p.stopChan = make(chan struct{})
	p.done = make(chan struct{})

	p.logger.Info("Starting poll loop", zap.Duration("interval", p.interval))
	go p.loop(p.stopChan, p.done)
}

// Stop halts the poll loop and waits for any in-progress cycle to finish.
// Safe to call repeatedly and before Start.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	stopChan, done := p.stopChan, p.done
	p.mu.Unlock()

	close(stopChan)
	<-done
	p.logger.Info("Poll loop stopped")
}

func (p *Poller) loop(stopChan <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-stopChan:
			return
		case <-p.clk.After(p.interval):
			p.RunCycle()
		}
	}
}

// RunCycle performs one fetch-diff-dispatch cycle: fetch a full snapshot,
// diff it against the store's current one, accept it, then invoke the
// actions resolved from the changed keys, synchronously and in the changed
// keys' declaration order.
func (p *Poller) RunCycle() {
	snap, err := p.fetcher.Fetch()
	if err != nil {
		p.logger.Warn("Poll cycle skipped", zap.Error(err))
		return
	}

	changed := Diff(p.store.Current(), snap)
	p.store.Accept(snap)
	if len(changed) == 0 {
		p.logger.Debug("Poll cycle complete, no changes")
		return
	}

	resolved := p.table.Resolve(changed)
	p.logger.Debug("Poll cycle complete",
		zap.Int("changed_keys", len(changed)),
		zap.Int("actions", len(resolved)))

	for _, id := range resolved {
		action := ActionFunc(id)
		if action == nil {
			p.logger.Warn("No implementation for action", zap.String("action", string(id)))
			continue
		}
		action(snap, p.out)
	}
}
