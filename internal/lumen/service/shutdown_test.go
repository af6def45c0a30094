package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/Lumen/server/internal/lumen/service"
	"github.com/BrandonDHaskell/Lumen/server/internal/lumen/store"
	"github.com/BrandonDHaskell/Lumen/server/internal/lumen/store/memory"
)

// idleRoom puts room 1 into the state of a room that should shut down at
// t0: motion last seen 40 minutes ago, lights 7 and 8 on.
func idleRoom(f *fixture) {
	f.store.PutSensor(store.Sensor{ID: 7, RoomID: 1, Type: store.Light, State: store.StateOn, UpdatedAt: t0.Add(-2 * time.Hour)})
	f.store.PutSensor(store.Sensor{ID: 8, RoomID: 1, Type: store.Light, State: store.StateOn, UpdatedAt: t0.Add(-2 * time.Hour)})
	f.store.PutSensor(store.Sensor{ID: 9, RoomID: 1, Type: store.Motion, State: store.StateOff, UpdatedAt: t0.Add(-40 * time.Minute)})
	f.store.PutPolicy(workdayPolicy(1))
}

func (f *fixture) evaluator(s store.Store) *service.ShutdownEvaluator {
	if s == nil {
		s = f.store
	}
	return service.NewShutdownEvaluator(s, f.out, time.UTC, f.opts...)
}

func (f *fixture) policy(t *testing.T, roomID int64) store.ShutdownPolicy {
	t.Helper()
	p, err := f.store.GetPolicy(context.Background(), roomID)
	require.NoError(t, err)
	return p
}

// ── Evaluate ─────────────────────────────────────────────────────────────

func TestEvaluate_IdleRoomShutsDown(t *testing.T) {
	f := newFixture(t)
	idleRoom(f)

	res, err := f.evaluator(nil).Evaluate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, res.RoomsEvaluated)
	assert.Equal(t, 1, res.RoomsShutDown)
	assert.Equal(t, 2, res.LightsOff)
	assert.Zero(t, res.Errors)

	assert.Equal(t, store.StateOff, f.sensor(t, 7).State)
	assert.Equal(t, store.StateOff, f.sensor(t, 8).State)

	h := f.history(t, store.HistoryFilter{RoomID: 1, Kind: store.ChangeAutomatic})
	require.Len(t, h, 2)
	for _, e := range h {
		assert.Equal(t, store.StateOn, e.Previous)
		assert.Equal(t, store.StateOff, e.Next)
		assert.Contains(t, e.Note, "30 minutes")
	}

	p := f.policy(t, 1)
	assert.Equal(t, 1, p.CountToday)
	require.NotNil(t, p.LastShutdown)
	assert.True(t, p.LastShutdown.Equal(t0))

	assert.Len(t, f.out.updates(1), 2)
}

func TestEvaluate_SecondPassIsNoop(t *testing.T) {
	f := newFixture(t)
	idleRoom(f)
	ev := f.evaluator(nil)

	_, err := ev.Evaluate(context.Background())
	require.NoError(t, err)
	res, err := ev.Evaluate(context.Background())
	require.NoError(t, err)

	assert.Zero(t, res.LightsOff)
	assert.Equal(t, 1, f.policy(t, 1).CountToday)
}

func TestEvaluate_SkipReasons(t *testing.T) {
	cases := map[string]func(f *fixture){
		"recent motion": func(f *fixture) {
			f.store.PutSensor(store.Sensor{ID: 9, RoomID: 1, Type: store.Motion, State: store.StateOff, UpdatedAt: t0.Add(-10 * time.Minute)})
		},
		"no motion sensor": func(f *fixture) {
			f.store.PutSensor(store.Sensor{ID: 9, RoomID: 1, Type: store.Window, State: "closed", UpdatedAt: t0.Add(-time.Hour)})
		},
		"no lights on": func(f *fixture) {
			f.store.PutSensor(store.Sensor{ID: 7, RoomID: 1, Type: store.Light, State: store.StateOff})
			f.store.PutSensor(store.Sensor{ID: 8, RoomID: 1, Type: store.Light, State: "0"})
		},
		"policy disabled": func(f *fixture) {
			p := workdayPolicy(1)
			p.Enabled = false
			f.store.PutPolicy(p)
		},
		"room auto shutdown off": func(f *fixture) {
			f.store.PutRoom(store.Room{ID: 1, Address: "10.0.0.1", InactivityTimeoutMin: 30})
		},
		"outside work hours": func(f *fixture) {
			f.clock.Advance(9 * time.Hour) // 19:00
		},
		"weekend": func(f *fixture) {
			f.clock.Advance(5 * 24 * time.Hour) // Saturday
		},
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			idleRoom(f)
			mutate(f)

			res, err := f.evaluator(nil).Evaluate(context.Background())
			require.NoError(t, err)
			assert.Zero(t, res.LightsOff)
			assert.Zero(t, res.Errors)
			assert.Empty(t, f.history(t, store.HistoryFilter{Kind: store.ChangeAutomatic}))
		})
	}
}

func TestEvaluate_WorkHoursOffIgnoresSchedule(t *testing.T) {
	f := newFixture(t)
	idleRoom(f)
	p := workdayPolicy(1)
	p.WorkHoursOnly = false
	f.store.PutPolicy(p)
	f.clock.Advance(5*24*time.Hour + 12*time.Hour) // Saturday 22:00

	// Keep motion idle relative to the new time.
	f.store.PutSensor(store.Sensor{ID: 9, RoomID: 1, Type: store.Motion, State: store.StateOff, UpdatedAt: f.clock.Now().Add(-time.Hour)})

	res, err := f.evaluator(nil).Evaluate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.LightsOff)
}

func TestEvaluate_QuotaBlocksUntilNextDay(t *testing.T) {
	f := newFixture(t)
	idleRoom(f)
	p := workdayPolicy(1)
	p.DailyQuota = 2
	p.CountToday = 2
	f.store.PutPolicy(p)
	ev := f.evaluator(nil)

	res, err := ev.Evaluate(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.LightsOff)
	assert.Equal(t, 2, f.policy(t, 1).CountToday)

	// Next morning: the count resets on first touch and the room shuts down.
	f.clock.Advance(24 * time.Hour)
	res, err = ev.Evaluate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.LightsOff)

	got := f.policy(t, 1)
	assert.Equal(t, 1, got.CountToday)
	assert.Equal(t, "2026-03-03", got.LastResetDate)
}

func TestEvaluate_QuotaResetPersistsEvenWhenSkipped(t *testing.T) {
	f := newFixture(t)
	idleRoom(f)
	p := workdayPolicy(1)
	p.CountToday = 4
	p.LastResetDate = "2026-03-01"
	f.store.PutPolicy(p)
	// Recent motion: the room is skipped after the gate.
	f.store.PutSensor(store.Sensor{ID: 9, RoomID: 1, Type: store.Motion, State: store.StateOn, UpdatedAt: t0})

	_, err := f.evaluator(nil).Evaluate(context.Background())
	require.NoError(t, err)

	got := f.policy(t, 1)
	assert.Zero(t, got.CountToday)
	assert.Equal(t, "2026-03-02", got.LastResetDate)
}

// failingShutdown fails ApplyShutdown for one room.
type failingShutdown struct {
	*memory.Store
	room int64
}

func (s failingShutdown) ApplyShutdown(ctx context.Context, b store.ShutdownBatch) ([]store.HistoryEntry, error) {
	if b.RoomID == s.room {
		return nil, errors.New("disk full")
	}
	return s.Store.ApplyShutdown(ctx, b)
}

func TestEvaluate_FailureIsolatedToOneRoom(t *testing.T) {
	f := newFixture(t)
	idleRoom(f)
	f.store.PutSensor(store.Sensor{ID: 21, RoomID: 2, Type: store.Motion, State: store.StateOff, UpdatedAt: t0.Add(-time.Hour)})
	f.store.PutPolicy(workdayPolicy(2))

	res, err := f.evaluator(failingShutdown{Store: f.store, room: 1}).Evaluate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, res.RoomsEvaluated)
	assert.Equal(t, 1, res.Errors)
	assert.Equal(t, 1, res.LightsOff)

	assert.Equal(t, store.StateOn, f.sensor(t, 7).State)
	assert.Equal(t, store.StateOn, f.sensor(t, 8).State)
	assert.Equal(t, store.StateOff, f.sensor(t, 20).State)
	assert.Zero(t, f.policy(t, 1).CountToday)
	assert.Empty(t, f.out.updates(1))
}

// ── CanShutdown ──────────────────────────────────────────────────────────

func TestCanShutdown(t *testing.T) {
	base := workdayPolicy(1)

	assert.True(t, service.CanShutdown(base, t0))

	disabled := base
	disabled.Enabled = false
	assert.False(t, service.CanShutdown(disabled, t0))

	assert.True(t, service.CanShutdown(base, time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)), "start is inclusive")
	assert.True(t, service.CanShutdown(base, time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC)), "end is inclusive")
	assert.False(t, service.CanShutdown(base, time.Date(2026, 3, 2, 18, 1, 0, 0, time.UTC)))
	assert.False(t, service.CanShutdown(base, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)), "sunday")

	full := base
	full.DailyQuota = 2
	full.CountToday = 2
	assert.False(t, service.CanShutdown(full, t0))
	assert.True(t, service.CanShutdown(full, t0.Add(24*time.Hour)), "stale count resets")

	unlimited := base
	unlimited.DailyQuota = 0
	unlimited.CountToday = 1000
	assert.True(t, service.CanShutdown(unlimited, t0))
}
