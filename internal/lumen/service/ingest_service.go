package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/BrandonDHaskell/Lumen/server/internal/lumen/store"
	"github.com/BrandonDHaskell/Lumen/server/internal/lumen/types"
)

const DefaultHeartbeatInterval = 30 * time.Second

// IngestService handles controllers that report over plain request/response
// instead of a live session.
type IngestService struct {
	rooms   store.RoomStore
	sensors *SensorService
	router  Broadcaster
	queue   *CommandQueue
	conn    *ConnectivityCache
	rules   []Rule

	heartbeatInterval time.Duration

	clock    clockwork.Clock
	logger   *slog.Logger
	observer Observer
}

type IngestConfig struct {
	Rules             []Rule // nil means DefaultRules
	HeartbeatInterval time.Duration
}

func NewIngestService(rooms store.RoomStore, sensors *SensorService, router Broadcaster, queue *CommandQueue, conn *ConnectivityCache, cfg IngestConfig, opts ...Option) *IngestService {
	o := newOptions("ingest", opts)
	rules := cfg.Rules
	if rules == nil {
		rules = DefaultRules
	}
	interval := cfg.HeartbeatInterval
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	return &IngestService{
		rooms:             rooms,
		sensors:           sensors,
		router:            router,
		queue:             queue,
		conn:              conn,
		rules:             rules,
		heartbeatInterval: interval,
		clock:             o.clock,
		logger:            o.logger,
		observer:          o.observer,
	}
}

// Heartbeat records a batched report: every changed sensor is persisted
// with history, the rule table derives commands from each transition, and
// the response carries those commands followed by any queued manual ones.
// Sensors that do not belong to the reporting room are ignored.
func (s *IngestService) Heartbeat(ctx context.Context, req types.HeartbeatRequest) (types.HeartbeatResult, error) {
	ip := strings.TrimSpace(req.IP)
	if ip == "" || req.Sensores == nil {
		return types.HeartbeatResult{}, validation("ip and sensores are required")
	}
	for i, r := range req.Sensores {
		if r.ID <= 0 || r.Estado == "" {
			return types.HeartbeatResult{}, validation("sensores[%d]: id and estado are required", i)
		}
	}

	room, now, err := s.touch(ctx, ip)
	if err != nil {
		return types.HeartbeatResult{}, err
	}

	current, err := s.sensors.sensors.ListSensors(ctx, room.ID)
	if err != nil {
		return types.HeartbeatResult{}, fmt.Errorf("list sensors: %w", err)
	}
	idx := make(map[int64]int, len(current))
	for i, sn := range current {
		idx[sn.ID] = i
	}

	// A failed sensor does not abort the batch; sensors already persisted
	// still get their derived commands. Only a batch where nothing applied
	// reports the failure.
	var (
		derived = []types.Command{}
		applied int
		failed  error
	)
	for _, r := range req.Sensores {
		i, ok := idx[r.ID]
		if !ok {
			s.logger.Debug("ignoring sensor not in room", "room_id", room.ID, "sensor_id", r.ID)
			continue
		}
		sn := current[i]
		next := r.Estado.String()
		_, changed, err := s.sensors.applyDeviceState(ctx, sn, next, ip, now)
		if err != nil {
			s.logger.Error("heartbeat: apply sensor state", "room_id", room.ID, "sensor_id", sn.ID, "err", err)
			if failed == nil {
				failed = err
			}
			continue
		}
		if !changed {
			continue
		}
		applied++
		prev := sn.State
		current[i].State = next
		current[i].UpdatedAt = now
		derived = append(derived, DeriveCommands(s.rules, prev, current[i], current)...)
	}

	if failed != nil && applied == 0 {
		return types.HeartbeatResult{}, failed
	}

	s.broadcastHeartbeat(room.ID, now)
	for _, cmd := range derived {
		s.router.Broadcast(room.ID, derivedUpdate(room.ID, cmd, current, idx, now))
	}
	s.observer.CommandsDerived(len(derived))

	commands := derived
	if s.queue != nil {
		commands = append(commands, s.queue.Drain(room.ID)...)
	}

	return types.HeartbeatResult{
		AulaID:             room.ID,
		Commands:           commands,
		HeartbeatInterval:  int(s.heartbeatInterval / time.Second),
		TimeoutInactividad: room.InactivityTimeoutMin,
	}, nil
}

// ReportSensor records one sensor's state without rule evaluation.
func (s *IngestService) ReportSensor(ctx context.Context, req types.SensorReportRequest) (types.SensorReportResult, error) {
	ip := strings.TrimSpace(req.IP)
	if ip == "" || req.SensorID <= 0 || req.NuevoEstado == "" {
		return types.SensorReportResult{}, validation("ip, sensor_id and nuevo_estado are required")
	}

	room, now, err := s.touch(ctx, ip)
	if err != nil {
		return types.SensorReportResult{}, err
	}

	sn, err := s.sensors.sensors.GetSensor(ctx, req.SensorID)
	if err != nil {
		return types.SensorReportResult{}, notFound(err)
	}
	if sn.RoomID != room.ID {
		return types.SensorReportResult{}, fmt.Errorf("%w: sensor %d in room %d", ErrNotFound, req.SensorID, room.ID)
	}

	next := req.NuevoEstado.String()
	if _, _, err := s.sensors.applyDeviceState(ctx, sn, next, ip, now); err != nil {
		return types.SensorReportResult{}, err
	}
	s.broadcastHeartbeat(room.ID, now)

	return types.SensorReportResult{SensorID: sn.ID, EstadoActual: next}, nil
}

// touch resolves the room by controller address and records the signal.
func (s *IngestService) touch(ctx context.Context, ip string) (store.Room, time.Time, error) {
	room, err := s.rooms.GetRoomByAddress(ctx, ip)
	if err != nil {
		return store.Room{}, time.Time{}, notFound(err)
	}
	now := s.clock.Now().UTC()
	if err := s.rooms.TouchRoom(ctx, room.ID, now); err != nil {
		return store.Room{}, time.Time{}, notFound(err)
	}
	room.LastSignal = &now
	if s.conn != nil {
		s.conn.MarkOnline(room.ID)
	}
	return room, now, nil
}

func (s *IngestService) broadcastHeartbeat(roomID int64, now time.Time) {
	s.router.Broadcast(roomID, types.AulaHeartbeat{
		Type:      types.MsgAulaHeartbeat,
		AulaID:    roomID,
		Timestamp: types.Timestamp(now),
		Estado:    string(store.Online),
	})
}

// derivedUpdate describes a derived command to sessions. The target state is
// not persisted here; the controller applies it and reports back.
func derivedUpdate(roomID int64, cmd types.Command, room []store.Sensor, idx map[int64]int, now time.Time) types.SensorUpdate {
	var prev string
	if i, ok := idx[cmd.SensorID]; ok {
		prev = room[i].State
	}
	next := fmt.Sprint(cmd.Value)
	return types.SensorUpdate{
		Type:           types.MsgSensorUpdate,
		AulaID:         roomID,
		SensorID:       cmd.SensorID,
		Action:         cmd.Action,
		Value:          cmd.Value,
		EstadoAnterior: prev,
		EstadoNuevo:    next,
		TipoCambio:     cmd.Origin,
		Timestamp:      types.Timestamp(now),
	}
}
