package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/BrandonDHaskell/Lumen/server/internal/lumen/debounce"
	"github.com/BrandonDHaskell/Lumen/server/internal/lumen/store"
	"github.com/BrandonDHaskell/Lumen/server/internal/lumen/types"
)

// SensorService is the single apply path for sensor state changes that come
// from people or devices: persist with history, then broadcast.
type SensorService struct {
	sensors store.SensorStore
	router  Broadcaster
	queue   *CommandQueue

	clock    clockwork.Clock
	logger   *slog.Logger
	sink     HistorySink
	observer Observer
}

func NewSensorService(s store.SensorStore, router Broadcaster, queue *CommandQueue, opts ...Option) *SensorService {
	o := newOptions("sensors", opts)
	return &SensorService{
		sensors:  s,
		router:   router,
		queue:    queue,
		clock:    o.clock,
		logger:   o.logger,
		sink:     o.sink,
		observer: o.observer,
	}
}

// CommandOutcome is what a manual command changed.
type CommandOutcome struct {
	Entry  store.HistoryEntry
	Update types.SensorUpdate
}

// Command applies a manual set or toggle to a sensor in roomID. A sensor
// that belongs to another room is reported as not found.
func (s *SensorService) Command(ctx context.Context, id Identity, roomID, sensorID int64, verb, value string) (CommandOutcome, error) {
	if err := AuthorizeCommand(id); err != nil {
		return CommandOutcome{}, err
	}
	verb = strings.ToLower(strings.TrimSpace(verb))
	if verb != types.ActionSet && verb != types.ActionToggle {
		return CommandOutcome{}, validation("action must be %q or %q", types.ActionSet, types.ActionToggle)
	}
	if sensorID <= 0 {
		return CommandOutcome{}, validation("sensor_id is required")
	}

	sn, err := s.sensors.GetSensor(ctx, sensorID)
	if err != nil {
		return CommandOutcome{}, notFound(err)
	}
	if sn.RoomID != roomID {
		return CommandOutcome{}, fmt.Errorf("%w: sensor %d in room %d", ErrNotFound, sensorID, roomID)
	}

	next, err := nextState(sn, verb, value)
	if err != nil {
		return CommandOutcome{}, err
	}

	now := s.clock.Now().UTC()
	entry, err := s.sensors.ApplyChange(ctx, store.SensorChange{
		SensorID: sn.ID,
		Previous: sn.State,
		Next:     next,
		Kind:     store.ChangeManual,
		Source:   id.Subject,
		At:       now,
	})
	if err != nil {
		return CommandOutcome{}, notFound(err)
	}
	s.observer.SensorChanged(store.ChangeManual)
	s.sink.Publish(ctx, entry)

	if s.queue != nil && sn.Type.Switchable() {
		s.queue.Enqueue(roomID, types.Command{
			SensorID: sn.ID,
			Action:   verb,
			Value:    commandValue(next),
			Origin:   types.OriginManual,
			QueuedAt: types.Timestamp(now),
		})
	}

	upd := sensorUpdate(roomID, entry, verb, commandValue(next))
	n := s.router.Broadcast(roomID, upd)
	s.logger.Info("sensor command applied",
		"room_id", roomID, "sensor_id", sn.ID, "action", verb,
		"from", sn.State, "to", next, "subject", id.Subject, "delivered", n)

	return CommandOutcome{Entry: entry, Update: upd}, nil
}

// ApplyReported applies a device-reported state. It is the debouncer's apply
// callback. An unchanged state is a no-op.
func (s *SensorService) ApplyReported(ctx context.Context, u debounce.Update) error {
	sn, err := s.sensors.GetSensor(ctx, u.SensorID)
	if err != nil {
		return notFound(err)
	}
	if u.RoomID != 0 && sn.RoomID != u.RoomID {
		return fmt.Errorf("%w: sensor %d in room %d", ErrNotFound, u.SensorID, u.RoomID)
	}
	_, _, err = s.applyDeviceState(ctx, sn, u.State, u.Source, u.At)
	return err
}

// applyDeviceState persists a device-reported state and broadcasts it. It
// reports false without writing when the state is unchanged.
func (s *SensorService) applyDeviceState(ctx context.Context, sn store.Sensor, next, source string, at time.Time) (store.HistoryEntry, bool, error) {
	if sn.State == next {
		return store.HistoryEntry{}, false, nil
	}
	if at.IsZero() {
		at = s.clock.Now()
	}
	entry, err := s.sensors.ApplyChange(ctx, store.SensorChange{
		SensorID: sn.ID,
		Previous: sn.State,
		Next:     next,
		Kind:     store.ChangeDeviceReported,
		Source:   source,
		At:       at.UTC(),
	})
	if err != nil {
		return store.HistoryEntry{}, false, notFound(err)
	}
	s.observer.SensorChanged(store.ChangeDeviceReported)
	s.sink.Publish(ctx, entry)

	s.router.Broadcast(sn.RoomID, sensorUpdate(sn.RoomID, entry, "report", commandValue(next)))
	s.logger.Debug("device state applied", "room_id", sn.RoomID, "sensor_id", sn.ID, "from", sn.State, "to", next)
	return entry, true, nil
}

func nextState(sn store.Sensor, verb, value string) (string, error) {
	value = strings.TrimSpace(value)
	if verb == types.ActionToggle && sn.Type.Switchable() {
		if on, ok := store.ParseBool(sn.State); ok {
			return store.FormatBool(!on), nil
		}
	}
	if value == "" {
		return "", validation("value is required for %s on a %s sensor", verb, sn.Type)
	}
	return value, nil
}

// commandValue renders boolean-like states as JSON booleans for devices.
func commandValue(state string) any {
	if on, ok := store.ParseBool(state); ok && state != "" {
		return on
	}
	return state
}

func sensorUpdate(roomID int64, e store.HistoryEntry, action string, value any) types.SensorUpdate {
	return types.SensorUpdate{
		Type:           types.MsgSensorUpdate,
		AulaID:         roomID,
		SensorID:       e.SensorID,
		Action:         action,
		Value:          value,
		EstadoAnterior: e.Previous,
		EstadoNuevo:    e.Next,
		TipoCambio:     string(e.Kind),
		Timestamp:      types.Timestamp(e.CreatedAt),
	}
}
