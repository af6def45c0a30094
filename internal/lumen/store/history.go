package store

import (
	"time"
)

type ChangeKind string

const (
	ChangeManual         ChangeKind = "manual"
	ChangeAutomatic      ChangeKind = "automatic"
	ChangeDeviceReported ChangeKind = "device_reported"
)

// HistoryEntry records one sensor state transition. Entries are never
// updated; the retention pruner is the only thing that deletes them.
type HistoryEntry struct {
	ID        int64
	SensorID  int64
	RoomID    int64
	Previous  string
	Next      string
	Kind      ChangeKind
	Source    string // origin ip or subject, optional
	Note      string
	CreatedAt time.Time
}

// SensorChange is a single state mutation. Stores persist the new state and
// append the matching HistoryEntry atomically.
type SensorChange struct {
	SensorID int64
	Previous string
	Next     string
	Kind     ChangeKind
	Source   string
	Note     string
	At       time.Time
}

// ShutdownBatch is the all-or-nothing unit applied by the shutdown
// evaluator for one room.
type ShutdownBatch struct {
	RoomID  int64
	Changes []SensorChange
	At      time.Time
}

type HistoryFilter struct {
	RoomID   int64 // 0 = any
	SensorID int64 // 0 = any
	Kind     ChangeKind
	Limit    int // 0 = store default
}
