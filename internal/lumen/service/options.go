package service

import (
	"context"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/BrandonDHaskell/Lumen/server/internal/lumen/store"
)

// Broadcaster fans a message out to a room's live sessions.
type Broadcaster interface {
	Broadcast(room int64, msg any) int
}

// HistorySink receives every history entry after it is committed. Publish
// must not block the caller for long; failures are the sink's to log.
type HistorySink interface {
	Publish(ctx context.Context, entries ...store.HistoryEntry)
}

// Observer is notified of service outcomes, for metrics.
type Observer interface {
	SensorChanged(kind store.ChangeKind)
	CommandsDerived(n int)
	ShutdownEvaluated(res ShutdownResult)
	ConnectivityChecked(res ConnectivityResult)
	HistoryPruned(n int64)
}

type options struct {
	clock    clockwork.Clock
	logger   *slog.Logger
	sink     HistorySink
	observer Observer
}

type Option func(*options)

func WithClock(c clockwork.Clock) Option {
	return func(o *options) { o.clock = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func WithHistorySink(s HistorySink) Option {
	return func(o *options) { o.sink = s }
}

func WithObserver(obs Observer) Option {
	return func(o *options) { o.observer = obs }
}

func newOptions(component string, opts []Option) options {
	o := options{
		clock:    clockwork.NewRealClock(),
		logger:   slog.Default(),
		sink:     nopSink{},
		observer: nopObserver{},
	}
	for _, fn := range opts {
		fn(&o)
	}
	o.logger = o.logger.With("component", component)
	return o
}

type nopSink struct{}

func (nopSink) Publish(context.Context, ...store.HistoryEntry) {}

type nopObserver struct{}

func (nopObserver) SensorChanged(store.ChangeKind) {}
func (nopObserver) CommandsDerived(int) {}
func (nopObserver) ShutdownEvaluated(ShutdownResult) {}
func (nopObserver) ConnectivityChecked(ConnectivityResult) {}
func (nopObserver) HistoryPruned(int64) {}
