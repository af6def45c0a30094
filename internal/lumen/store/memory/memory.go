package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BrandonDHaskell/Lumen/server/internal/lumen/store"
)

// Store is an in-memory implementation of store.Store. It is intended for
// tests and dev environments. Every read returns copies.
type Store struct {
	mu       sync.RWMutex
	rooms    map[int64]store.Room
	sensors  map[int64]store.Sensor
	policies map[int64]store.ShutdownPolicy
	history  []store.HistoryEntry
	nextHist int64
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		rooms:    make(map[int64]store.Room),
		sensors:  make(map[int64]store.Sensor),
		policies: make(map[int64]store.ShutdownPolicy),
	}
}

// PutRoom inserts or replaces a room. Test and seeding helper.
func (s *Store) PutRoom(r store.Room) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[r.ID] = r
}

// PutSensor inserts or replaces a sensor. Test and seeding helper.
func (s *Store) PutSensor(sn store.Sensor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sensors[sn.ID] = sn
}

// PutPolicy inserts or replaces a policy. Test and seeding helper.
func (s *Store) PutPolicy(p store.ShutdownPolicy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies[p.RoomID] = p
}

// AppendHistory adds an entry as-is. Used by tests to build history for
// retention checks.
func (s *Store) AppendHistory(e store.HistoryEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextHist++
	e.ID = s.nextHist
	s.history = append(s.history, e)
}

// ── Rooms ────────────────────────────────────────────────────────────────────

func (s *Store) GetRoom(_ context.Context, id int64) (store.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[id]
	if !ok {
		return store.Room{}, fmt.Errorf("room %d: %w", id, store.ErrNotFound)
	}
	return r, nil
}

func (s *Store) GetRoomByAddress(_ context.Context, address string) (store.Room, error) {
	address = strings.TrimSpace(address)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.rooms {
		if r.Address == address {
			return r, nil
		}
	}
	return store.Room{}, fmt.Errorf("room at %s: %w", address, store.ErrNotFound)
}

func (s *Store) ListRooms(_ context.Context) ([]store.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) TouchRoom(_ context.Context, id int64, t time.Time) error {
	if t.IsZero() {
		t = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[id]
	if !ok {
		return fmt.Errorf("room %d: %w", id, store.ErrNotFound)
	}
	r.LastSignal = &t
	s.rooms[id] = r
	return nil
}

// ── Sensors ──────────────────────────────────────────────────────────────────

func (s *Store) GetSensor(_ context.Context, id int64) (store.Sensor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sn, ok := s.sensors[id]
	if !ok {
		return store.Sensor{}, fmt.Errorf("sensor %d: %w", id, store.ErrNotFound)
	}
	return sn, nil
}

func (s *Store) ListSensors(_ context.Context, roomID int64) ([]store.Sensor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.Sensor
	for _, sn := range s.sensors {
		if sn.RoomID == roomID {
			out = append(out, sn)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ApplyChange(_ context.Context, c store.SensorChange) (store.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sensors[c.SensorID]; !ok {
		return store.HistoryEntry{}, fmt.Errorf("sensor %d: %w", c.SensorID, store.ErrNotFound)
	}
	return s.applyLocked(c), nil
}

// applyLocked assumes the sensor exists and s.mu is held for writing.
func (s *Store) applyLocked(c store.SensorChange) store.HistoryEntry {
	if c.At.IsZero() {
		c.At = time.Now().UTC()
	}
	sn := s.sensors[c.SensorID]
	sn.State = c.Next
	sn.UpdatedAt = c.At
	s.sensors[c.SensorID] = sn

	s.nextHist++
	e := store.HistoryEntry{
		ID:        s.nextHist,
		SensorID:  c.SensorID,
		RoomID:    sn.RoomID,
		Previous:  c.Previous,
		Next:      c.Next,
		Kind:      c.Kind,
		Source:    c.Source,
		Note:      c.Note,
		CreatedAt: c.At,
	}
	s.history = append(s.history, e)
	return e
}

// ── Policies ─────────────────────────────────────────────────────────────────

func (s *Store) GetPolicy(_ context.Context, roomID int64) (store.ShutdownPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.policies[roomID]
	if !ok {
		return store.ShutdownPolicy{}, fmt.Errorf("policy for room %d: %w", roomID, store.ErrNotFound)
	}
	return p, nil
}

func (s *Store) ListEnabledPolicies(_ context.Context) ([]store.ShutdownPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.ShutdownPolicy
	for _, p := range s.policies {
		if p.Enabled {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoomID < out[j].RoomID })
	return out, nil
}

func (s *Store) ResetDailyCount(_ context.Context, roomID int64, date string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.policies[roomID]
	if !ok {
		return fmt.Errorf("policy for room %d: %w", roomID, store.ErrNotFound)
	}
	p.CountToday = 0
	p.LastResetDate = date
	s.policies[roomID] = p
	return nil
}

func (s *Store) ApplyShutdown(_ context.Context, b store.ShutdownBatch) ([]store.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Validate everything before touching anything.
	p, ok := s.policies[b.RoomID]
	if !ok {
		return nil, fmt.Errorf("policy for room %d: %w", b.RoomID, store.ErrNotFound)
	}
	for _, c := range b.Changes {
		if _, ok := s.sensors[c.SensorID]; !ok {
			return nil, fmt.Errorf("sensor %d: %w", c.SensorID, store.ErrNotFound)
		}
	}

	at := b.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	entries := make([]store.HistoryEntry, 0, len(b.Changes))
	for _, c := range b.Changes {
		if c.At.IsZero() {
			c.At = at
		}
		entries = append(entries, s.applyLocked(c))
	}
	p.CountToday++
	p.LastShutdown = &at
	s.policies[b.RoomID] = p
	return entries, nil
}

// ── History ──────────────────────────────────────────────────────────────────

func (s *Store) ListHistory(_ context.Context, f store.HistoryFilter) ([]store.HistoryEntry, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = store.DefaultHistoryLimit
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []store.HistoryEntry
	// Newest first.
	for i := len(s.history) - 1; i >= 0 && len(out) < limit; i-- {
		e := s.history[i]
		if f.RoomID != 0 && e.RoomID != f.RoomID {
			continue
		}
		if f.SensorID != 0 && e.SensorID != f.SensorID {
			continue
		}
		if f.Kind != "" && e.Kind != f.Kind {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *Store) PruneOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.history[:0]
	var deleted int64
	for _, e := range s.history {
		if e.CreatedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	s.history = kept
	return deleted, nil
}
