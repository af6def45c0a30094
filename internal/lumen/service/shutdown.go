package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/BrandonDHaskell/Lumen/server/internal/lumen/store"
)

// ShutdownSource is recorded as the history source of automatic changes.
const ShutdownSource = "auto-shutdown"

type ShutdownResult struct {
	RoomsEvaluated int
	RoomsShutDown  int
	LightsOff      int
	Errors         int
	At             time.Time
}

// ShutdownEvaluator turns lights off in rooms whose motion sensors have been
// idle longer than the room's policy allows. Each Evaluate call is one pass;
// something else decides when to call it.
type ShutdownEvaluator struct {
	store  store.Store
	router Broadcaster
	loc    *time.Location

	clock    clockwork.Clock
	logger   *slog.Logger
	sink     HistorySink
	observer Observer
}

// NewShutdownEvaluator evaluates work hours and calendar days in loc
// (time.Local when nil).
func NewShutdownEvaluator(s store.Store, router Broadcaster, loc *time.Location, opts ...Option) *ShutdownEvaluator {
	o := newOptions("shutdown", opts)
	if loc == nil {
		loc = time.Local
	}
	return &ShutdownEvaluator{
		store:    s,
		router:   router,
		loc:      loc,
		clock:    o.clock,
		logger:   o.logger,
		sink:     o.sink,
		observer: o.observer,
	}
}

// Evaluate runs one pass over every room with an enabled policy. A failure
// in one room is logged and counted; the pass goes on.
func (e *ShutdownEvaluator) Evaluate(ctx context.Context) (ShutdownResult, error) {
	now := e.clock.Now().In(e.loc)
	res := ShutdownResult{At: now}

	policies, err := e.store.ListEnabledPolicies(ctx)
	if err != nil {
		return res, fmt.Errorf("list policies: %w", err)
	}

	for _, p := range policies {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.RoomsEvaluated++
		n, err := e.evaluateRoom(ctx, p, now)
		if err != nil {
			res.Errors++
			e.logger.Error("shutdown evaluation failed", "room_id", p.RoomID, "err", err)
			continue
		}
		if n > 0 {
			res.RoomsShutDown++
			res.LightsOff += n
		}
	}

	e.observer.ShutdownEvaluated(res)
	e.logger.Info("shutdown pass complete",
		"rooms", res.RoomsEvaluated, "rooms_shut_down", res.RoomsShutDown,
		"lights_off", res.LightsOff, "errors", res.Errors)
	return res, nil
}

// CanShutdown is the schedule and quota gate for p at now. The daily count
// is treated as zero when p was last reset on an earlier date.
func CanShutdown(p store.ShutdownPolicy, now time.Time) bool {
	p.ResetIfNewDay(now)
	return p.Enabled && p.WithinSchedule(now) && !p.QuotaExhausted()
}

func (e *ShutdownEvaluator) evaluateRoom(ctx context.Context, p store.ShutdownPolicy, now time.Time) (int, error) {
	if !p.Enabled {
		return 0, nil
	}
	room, err := e.store.GetRoom(ctx, p.RoomID)
	if err != nil {
		return 0, fmt.Errorf("get room: %w", err)
	}
	if !room.AutoShutdown {
		return 0, nil
	}

	if p.ResetIfNewDay(now) {
		if err := e.store.ResetDailyCount(ctx, p.RoomID, p.LastResetDate); err != nil {
			return 0, fmt.Errorf("reset daily count: %w", err)
		}
	}
	if !p.WithinSchedule(now) || p.QuotaExhausted() {
		return 0, nil
	}

	sensors, err := e.store.ListSensors(ctx, p.RoomID)
	if err != nil {
		return 0, fmt.Errorf("list sensors: %w", err)
	}

	var (
		lastMotion time.Time
		hasMotion  bool
		on         []store.Sensor
	)
	for _, sn := range sensors {
		switch {
		case sn.Type == store.Motion:
			hasMotion = true
			if sn.UpdatedAt.After(lastMotion) {
				lastMotion = sn.UpdatedAt
			}
		case sn.Type.Switchable() && sn.IsOn():
			on = append(on, sn)
		}
	}
	if !hasMotion {
		return 0, nil
	}
	if lastMotion.After(now.Add(-p.Inactivity())) {
		return 0, nil
	}
	if len(on) == 0 {
		return 0, nil
	}

	note := fmt.Sprintf("automatic shutdown after %d minutes of inactivity", p.InactivityMin)
	at := now.UTC()
	batch := store.ShutdownBatch{RoomID: p.RoomID, At: at}
	for _, sn := range on {
		batch.Changes = append(batch.Changes, store.SensorChange{
			SensorID: sn.ID,
			Previous: sn.State,
			Next:     store.StateOff,
			Kind:     store.ChangeAutomatic,
			Source:   ShutdownSource,
			Note:     note,
			At:       at,
		})
	}

	entries, err := e.store.ApplyShutdown(ctx, batch)
	if err != nil {
		return 0, fmt.Errorf("apply shutdown: %w", err)
	}

	e.sink.Publish(ctx, entries...)
	for _, entry := range entries {
		e.observer.SensorChanged(store.ChangeAutomatic)
		e.router.Broadcast(p.RoomID, sensorUpdate(p.RoomID, entry, "auto_off", false))
	}
	e.logger.Info("room shut down", "room_id", p.RoomID, "lights", len(entries),
		"idle_since", lastMotion, "inactivity_min", p.InactivityMin)
	return len(entries), nil
}
