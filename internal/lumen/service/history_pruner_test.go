package service_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/Lumen/server/internal/lumen/service"
	"github.com/BrandonDHaskell/Lumen/server/internal/lumen/store"
)

func TestHistoryPruner_DisabledWhenRetentionZero(t *testing.T) {
	f := newFixture(t)
	pruner := service.NewHistoryPruner(f.store, service.PrunerConfig{RetentionDays: 0}, f.opts...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pruner.Start(ctx)
	// Stop should return immediately.
	pruner.Stop()

	n, err := pruner.Prune(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestHistoryPruner_PrunesOldEntries(t *testing.T) {
	f := newFixture(t)
	f.store.AppendHistory(store.HistoryEntry{SensorID: 7, RoomID: 1, Kind: store.ChangeManual, CreatedAt: t0.AddDate(0, 0, -100)})
	f.store.AppendHistory(store.HistoryEntry{SensorID: 7, RoomID: 1, Kind: store.ChangeManual, CreatedAt: t0.AddDate(0, 0, -1)})

	pruner := service.NewHistoryPruner(f.store, service.PrunerConfig{RetentionDays: service.DefaultRetentionDays}, f.opts...)
	n, err := pruner.Prune(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(1), n)
	left := f.history(t, store.HistoryFilter{})
	require.Len(t, left, 1)
	assert.True(t, left[0].CreatedAt.Equal(t0.AddDate(0, 0, -1)))
}

func TestHistoryPruner_StopIsIdempotent(t *testing.T) {
	f := newFixture(t)
	pruner := service.NewHistoryPruner(f.store, service.PrunerConfig{RetentionDays: 30, Interval: time.Hour}, f.opts...)

	ctx, cancel := context.WithCancel(context.Background())
	pruner.Start(ctx)

	cancel()
	pruner.Stop()
	pruner.Stop()
}

func TestPeriodic_RunsImmediatelyThenOnInterval(t *testing.T) {
	f := newFixture(t)
	var calls atomic.Int32
	job := service.NewPeriodic("test", time.Minute, func(context.Context) error {
		calls.Add(1)
		return nil
	}, f.opts...)

	job.Start(context.Background())
	defer job.Stop()

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, f.clock.BlockUntilContext(context.Background(), 1))
	f.clock.Advance(time.Minute)
	require.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestPeriodic_StopWithoutStart(t *testing.T) {
	job := service.NewPeriodic("idle", time.Minute, func(context.Context) error { return nil })
	job.Stop()
	job.Start(context.Background()) // no-op after Stop
	job.Stop()
}
