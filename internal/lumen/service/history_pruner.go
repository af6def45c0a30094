package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/BrandonDHaskell/Lumen/server/internal/lumen/store"
)

// HistoryPruner deletes history entries older than a retention period on
// a fixed interval. A retention of 0 disables pruning.
type HistoryPruner struct {
	store     store.HistoryStore
	retention time.Duration
	job       *Periodic

	clock    clockwork.Clock
	logger   *slog.Logger
	observer Observer
}

type PrunerConfig struct {
	// RetentionDays is how many days of history to keep. 0 keeps everything.
	RetentionDays int

	// Interval is how often the pruner runs. Defaults to 6h.
	Interval time.Duration
}

const (
	DefaultRetentionDays = 90
	DefaultPruneInterval = 6 * time.Hour
)

func NewHistoryPruner(s store.HistoryStore, cfg PrunerConfig, opts ...Option) *HistoryPruner {
	o := newOptions("history-pruner", opts)
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultPruneInterval
	}
	p := &HistoryPruner{
		store:     s,
		retention: time.Duration(cfg.RetentionDays) * 24 * time.Hour,
		clock:     o.clock,
		logger:    o.logger,
		observer:  o.observer,
	}
	if p.retention <= 0 {
		interval = 0
	}
	p.job = NewPeriodic("history-pruner", interval, func(ctx context.Context) error {
		_, err := p.Prune(ctx)
		return err
	}, append(opts, WithClock(o.clock))...)
	return p
}

// Start prunes once immediately, then on every interval.
func (p *HistoryPruner) Start(ctx context.Context) { p.job.Start(ctx) }

// Stop signals the pruner to exit and waits for it to finish.
func (p *HistoryPruner) Stop() { p.job.Stop() }

func (p *HistoryPruner) Run(ctx context.Context) error { return p.job.Run(ctx) }

// Prune runs one retention pass and returns the number of rows deleted.
func (p *HistoryPruner) Prune(ctx context.Context) (int64, error) {
	if p.retention <= 0 {
		return 0, nil
	}
	cutoff := p.clock.Now().UTC().Add(-p.retention)
	deleted, err := p.store.PruneOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	p.observer.HistoryPruned(deleted)
	if deleted > 0 {
		p.logger.Info("history pruned", "deleted", deleted, "cutoff", cutoff.Format(time.RFC3339))
	}
	return deleted, nil
}
