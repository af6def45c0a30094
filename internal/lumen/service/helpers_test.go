package service_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/BrandonDHaskell/Lumen/server/internal/lumen/service"
	"github.com/BrandonDHaskell/Lumen/server/internal/lumen/store"
	"github.com/BrandonDHaskell/Lumen/server/internal/lumen/store/memory"
	"github.com/BrandonDHaskell/Lumen/server/internal/lumen/types"
)

// Monday, inside default work hours.
var t0 = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type sent struct {
	room int64
	msg  any
}

// fanout records broadcasts instead of delivering them.
type fanout struct {
	mu   sync.Mutex
	sent []sent
}

func (f *fanout) Broadcast(room int64, msg any) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{room: room, msg: msg})
	return 1
}

func (f *fanout) updates(room int64) []types.SensorUpdate {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.SensorUpdate
	for _, s := range f.sent {
		if u, ok := s.msg.(types.SensorUpdate); ok && s.room == room {
			out = append(out, u)
		}
	}
	return out
}

func (f *fanout) heartbeats(room int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int
	for _, s := range f.sent {
		if _, ok := s.msg.(types.AulaHeartbeat); ok && s.room == room {
			n++
		}
	}
	return n
}

type fixture struct {
	store *memory.Store
	clock *clockwork.FakeClock
	out   *fanout
	queue *service.CommandQueue
	opts  []service.Option
}

// newFixture seeds two rooms:
//
//	room 1 (10.0.0.1): light 7 off, light 8 on, motion 9 on, window 11
//	room 2 (10.0.0.2): light 20 on, motion 21 off
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ms := memory.New()
	ms.PutRoom(store.Room{ID: 1, Name: "Aula 101", Address: "10.0.0.1", InactivityTimeoutMin: 30, AutoShutdown: true})
	ms.PutRoom(store.Room{ID: 2, Name: "Aula 203", Address: "10.0.0.2", InactivityTimeoutMin: 45, AutoShutdown: true})

	earlier := t0.Add(-time.Hour)
	for _, sn := range []store.Sensor{
		{ID: 7, RoomID: 1, Type: store.Light, State: store.StateOff, UpdatedAt: earlier},
		{ID: 8, RoomID: 1, Type: store.Light, State: store.StateOn, UpdatedAt: earlier},
		{ID: 9, RoomID: 1, Type: store.Motion, State: store.StateOn, UpdatedAt: earlier},
		{ID: 11, RoomID: 1, Type: store.Window, State: "closed", UpdatedAt: earlier},
		{ID: 20, RoomID: 2, Type: store.Light, State: store.StateOn, UpdatedAt: earlier},
		{ID: 21, RoomID: 2, Type: store.Motion, State: store.StateOff, UpdatedAt: earlier},
	} {
		ms.PutSensor(sn)
	}

	clock := clockwork.NewFakeClockAt(t0)
	return &fixture{
		store: ms,
		clock: clock,
		out:   &fanout{},
		queue: service.NewCommandQueue(0),
		opts:  []service.Option{service.WithClock(clock), service.WithLogger(silentLogger())},
	}
}

func (f *fixture) sensors() *service.SensorService {
	return service.NewSensorService(f.store, f.out, f.queue, f.opts...)
}

func (f *fixture) ingest() *service.IngestService {
	return service.NewIngestService(f.store, f.sensors(), f.out, f.queue,
		service.NewConnectivityCache(time.Minute), service.IngestConfig{}, f.opts...)
}

func (f *fixture) sensor(t *testing.T, id int64) store.Sensor {
	t.Helper()
	sn, err := f.store.GetSensor(context.Background(), id)
	if err != nil {
		t.Fatalf("GetSensor(%d): %v", id, err)
	}
	return sn
}

func (f *fixture) history(t *testing.T, filter store.HistoryFilter) []store.HistoryEntry {
	t.Helper()
	h, err := f.store.ListHistory(context.Background(), filter)
	if err != nil {
		t.Fatalf("ListHistory: %v", err)
	}
	return h
}

// workdayPolicy is enabled, 30 minutes of inactivity, 08:00-18:00 Mon-Fri.
func workdayPolicy(roomID int64) store.ShutdownPolicy {
	return store.ShutdownPolicy{
		RoomID:        roomID,
		Enabled:       true,
		InactivityMin: 30,
		WorkHoursOnly: true,
		WorkStart:     store.NewTimeOfDay(8, 0),
		WorkEnd:       store.NewTimeOfDay(18, 0),
		Weekdays:      store.WorkWeek(),
		GraceMin:      5,
		DailyQuota:    10,
		LastResetDate: t0.Format(store.DateLayout),
	}
}
