// Package debounce coalesces bursts of sensor updates into one effective
// update per sensor after a quiescence window.
package debounce

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	DefaultWindow       = 2 * time.Second
	DefaultMaxAge       = 60 * time.Second
	DefaultApplyTimeout = 10 * time.Second
)

// Update is one reported state for a sensor.
type Update struct {
	SensorID int64
	RoomID   int64
	State    string
	Source   string
	At       time.Time
}

// ApplyFunc persists and broadcasts the effective update for a key.
type ApplyFunc func(ctx context.Context, u Update) error

type Option func(*Debouncer)

func WithWindow(d time.Duration) Option {
	return func(db *Debouncer) {
		if d > 0 {
			db.window = d
		}
	}
}

func WithMaxAge(d time.Duration) Option {
	return func(db *Debouncer) {
		if d > 0 {
			db.maxAge = d
		}
	}
}

func WithClock(c clockwork.Clock) Option {
	return func(db *Debouncer) { db.clock = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(db *Debouncer) { db.logger = l }
}

// Debouncer holds pending updates per sensor id. Each key has its own lock,
// so unrelated sensors never contend; append, expiry and flush on the same
// key are mutually exclusive, and the apply callback runs under that lock.
type Debouncer struct {
	apply  ApplyFunc
	clock  clockwork.Clock
	logger *slog.Logger

	window       time.Duration
	maxAge       time.Duration
	applyTimeout time.Duration

	mu   sync.Mutex
	keys map[int64]*pending
}

type pending struct {
	mu      sync.Mutex
	updates []Update
	timer   clockwork.Timer
	// gen is bumped whenever the armed timer is cancelled or replaced, so a
	// timer that fires after cancellation finds a stale generation and
	// does nothing.
	gen  uint64
	dead bool
}

func New(apply ApplyFunc, opts ...Option) *Debouncer {
	d := &Debouncer{
		apply:        apply,
		clock:        clockwork.NewRealClock(),
		logger:       slog.Default(),
		window:       DefaultWindow,
		maxAge:       DefaultMaxAge,
		applyTimeout: DefaultApplyTimeout,
		keys:         make(map[int64]*pending),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Submit queues u and arms the key's timer if none is armed. The window is
// not extended by later submissions.
func (d *Debouncer) Submit(u Update) {
	if u.At.IsZero() {
		u.At = d.clock.Now()
	}
	key := u.SensorID

	for {
		p := d.entry(key)
		p.mu.Lock()
		if p.dead {
			// Swept between lookup and lock; take a fresh entry.
			p.mu.Unlock()
			continue
		}
		p.updates = append(p.updates, u)
		if p.timer == nil {
			p.gen++
			gen := p.gen
			p.timer = d.clock.AfterFunc(d.window, func() { d.expire(key, p, gen) })
		}
		p.mu.Unlock()
		return
	}
}

// Flush cancels key's timer and applies its latest pending update
// synchronously. It reports false, without calling apply, when nothing is
// pending.
func (d *Debouncer) Flush(ctx context.Context, key int64) (Update, bool, error) {
	d.mu.Lock()
	p := d.keys[key]
	d.mu.Unlock()
	if p == nil {
		return Update{}, false, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelLocked()
	latest, ok := p.takeLatestLocked()
	if !ok {
		return Update{}, false, nil
	}
	return latest, true, d.run(ctx, key, latest)
}

// FlushAll flushes every key with pending updates.
func (d *Debouncer) FlushAll(ctx context.Context) error {
	d.mu.Lock()
	keys := make([]int64, 0, len(d.keys))
	for k := range d.keys {
		keys = append(keys, k)
	}
	d.mu.Unlock()

	var errs []error
	for _, k := range keys {
		if _, _, err := d.Flush(ctx, k); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Sweep drops pending updates older than the max age without applying them
// and forgets idle keys. It returns the number of updates dropped. Keys busy
// applying are skipped until the next sweep.
func (d *Debouncer) Sweep() int {
	cutoff := d.clock.Now().Add(-d.maxAge)

	d.mu.Lock()
	defer d.mu.Unlock()

	var dropped int
	for key, p := range d.keys {
		if !p.mu.TryLock() {
			continue
		}
		kept := p.updates[:0]
		for _, u := range p.updates {
			if u.At.Before(cutoff) {
				dropped++
				continue
			}
			kept = append(kept, u)
		}
		p.updates = kept
		if len(p.updates) == 0 {
			p.cancelLocked()
			p.dead = true
			delete(d.keys, key)
		}
		p.mu.Unlock()
	}

	if dropped > 0 {
		d.logger.Warn("debounce sweep dropped stale updates", "dropped", dropped, "max_age", d.maxAge)
	}
	return dropped
}

// Run sweeps every max age until ctx is cancelled, then drains every
// pending key.
func (d *Debouncer) Run(ctx context.Context) error {
	ticker := d.clock.NewTicker(d.maxAge)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.Background(), d.applyTimeout)
			defer cancel()
			if err := d.FlushAll(drainCtx); err != nil {
				d.logger.Error("debounce drain failed", "err", err)
			}
			return nil
		case <-ticker.Chan():
			d.Sweep()
		}
	}
}

type Stats struct {
	Keys    int
	Pending int
	Armed   int
}

func (d *Debouncer) Stats() Stats {
	d.mu.Lock()
	entries := make([]*pending, 0, len(d.keys))
	for _, p := range d.keys {
		entries = append(entries, p)
	}
	d.mu.Unlock()

	var s Stats
	for _, p := range entries {
		p.mu.Lock()
		if n := len(p.updates); n > 0 {
			s.Keys++
			s.Pending += n
		}
		if p.timer != nil {
			s.Armed++
		}
		p.mu.Unlock()
	}
	return s
}

// Pending returns the number of queued updates across all keys.
func (d *Debouncer) Pending() int {
	return d.Stats().Pending
}

// PendingFor returns the number of queued updates for key.
func (d *Debouncer) PendingFor(key int64) int {
	d.mu.Lock()
	p := d.keys[key]
	d.mu.Unlock()
	if p == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.updates)
}

func (d *Debouncer) entry(key int64) *pending {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.keys[key]
	if !ok {
		p = &pending{}
		d.keys[key] = p
	}
	return p
}

func (d *Debouncer) expire(key int64, p *pending, gen uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gen != gen || p.timer == nil {
		return
	}
	p.timer = nil
	latest, ok := p.takeLatestLocked()
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.applyTimeout)
	defer cancel()
	_ = d.run(ctx, key, latest)
}

// run calls apply. On failure the update is already gone from the pending
// list; nothing retries it.
func (d *Debouncer) run(ctx context.Context, key int64, u Update) error {
	if err := d.apply(ctx, u); err != nil {
		d.logger.Error("debounced apply failed, pending updates discarded",
			"sensor_id", key, "state", u.State, "err", err)
		return err
	}
	return nil
}

func (p *pending) cancelLocked() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.gen++
}

// takeLatestLocked returns the update with the latest arrival time and
// clears the list. Ties go to the one appended last.
func (p *pending) takeLatestLocked() (Update, bool) {
	if len(p.updates) == 0 {
		return Update{}, false
	}
	latest := p.updates[0]
	for _, u := range p.updates[1:] {
		if !u.At.Before(latest.At) {
			latest = u
		}
	}
	p.updates = nil
	return latest, true
}
