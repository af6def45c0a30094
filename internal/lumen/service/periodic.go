package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Periodic runs fn immediately and then on every interval until stopped.
// It is the in-process stand-in for an external scheduler.
type Periodic struct {
	name     string
	interval time.Duration
	fn       func(ctx context.Context) error
	clock    clockwork.Clock
	logger   *slog.Logger

	once   sync.Once
	cancel context.CancelFunc
	done   chan struct{}
}

func NewPeriodic(name string, interval time.Duration, fn func(ctx context.Context) error, opts ...Option) *Periodic {
	o := newOptions(name, opts)
	return &Periodic{
		name:     name,
		interval: interval,
		fn:       fn,
		clock:    o.clock,
		logger:   o.logger,
		done:     make(chan struct{}),
	}
}

// Start begins the loop. An interval of 0 disables the job; Stop still
// returns immediately.
func (p *Periodic) Start(ctx context.Context) {
	p.once.Do(func() {
		if p.interval <= 0 {
			p.logger.Info("periodic job disabled")
			close(p.done)
			return
		}
		ctx, p.cancel = context.WithCancel(ctx)
		go p.loop(ctx)
		p.logger.Info("periodic job started", "interval", p.interval)
	})
}

// Stop signals the loop to exit and waits for it. Safe to call repeatedly.
func (p *Periodic) Stop() {
	// Never started: nothing to wait for, and a later Start is a no-op.
	p.once.Do(func() { close(p.done) })
	if p.cancel != nil {
		p.cancel()
	}
	<-p.done
}

// Run blocks until ctx is cancelled. Convenient under an errgroup.
func (p *Periodic) Run(ctx context.Context) error {
	p.Start(ctx)
	<-ctx.Done()
	p.Stop()
	return nil
}

func (p *Periodic) loop(ctx context.Context) {
	defer close(p.done)

	p.runOnce(ctx)

	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			p.runOnce(ctx)
		}
	}
}

func (p *Periodic) runOnce(ctx context.Context) {
	if err := p.fn(ctx); err != nil && ctx.Err() == nil {
		p.logger.Error("periodic job failed", "err", err)
	}
}
