package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a room, sensor or policy does not exist.
var ErrNotFound = errors.New("not found")

// DefaultHistoryLimit caps ListHistory when the filter sets no limit.
const DefaultHistoryLimit = 100

type RoomStore interface {
	GetRoom(ctx context.Context, id int64) (Room, error)
	GetRoomByAddress(ctx context.Context, address string) (Room, error)
	ListRooms(ctx context.Context) ([]Room, error)
	TouchRoom(ctx context.Context, id int64, t time.Time) error
}

type SensorStore interface {
	GetSensor(ctx context.Context, id int64) (Sensor, error)
	ListSensors(ctx context.Context, roomID int64) ([]Sensor, error)
	ApplyChange(ctx context.Context, change SensorChange) (HistoryEntry, error)
}

type PolicyStore interface {
	GetPolicy(ctx context.Context, roomID int64) (ShutdownPolicy, error)
	ListEnabledPolicies(ctx context.Context) ([]ShutdownPolicy, error)
	ResetDailyCount(ctx context.Context, roomID int64, date string) error
}

type ShutdownStore interface {
	// ApplyShutdown sets every change, appends one history entry per change,
	// increments the policy's CountToday by one and stamps LastShutdown.
	// Either everything is applied or nothing is.
	ApplyShutdown(ctx context.Context, batch ShutdownBatch) ([]HistoryEntry, error)
}

type HistoryStore interface {
	ListHistory(ctx context.Context, f HistoryFilter) ([]HistoryEntry, error)
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type Store interface {
	RoomStore
	SensorStore
	PolicyStore
	ShutdownStore
	HistoryStore
}
