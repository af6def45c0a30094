package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/BrandonDHaskell/Lumen/server/internal/lumen/store"
)

const sensorColumns = `sensor_id, room_id, kind, description, state, updated_at_ms`

func scanSensor(row scanner) (store.Sensor, error) {
	var (
		sn      store.Sensor
		kind    string
		updated int64
	)
	if err := row.Scan(&sn.ID, &sn.RoomID, &kind, &sn.Description, &sn.State, &updated); err != nil {
		return store.Sensor{}, err
	}
	sn.Type = store.SensorType(kind)
	sn.UpdatedAt = fromMs(updated)
	return sn, nil
}

func (s *Store) GetSensor(ctx context.Context, id int64) (store.Sensor, error) {
	sn, err := scanSensor(s.db.QueryRowContext(ctx,
		`SELECT `+sensorColumns+` FROM sensors WHERE sensor_id = ?;`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return store.Sensor{}, fmt.Errorf("sensor %d: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return store.Sensor{}, fmt.Errorf("GetSensor: %w", err)
	}
	return sn, nil
}

func (s *Store) ListSensors(ctx context.Context, roomID int64) ([]store.Sensor, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sensorColumns+` FROM sensors WHERE room_id = ? ORDER BY sensor_id;`, roomID)
	if err != nil {
		return nil, fmt.Errorf("ListSensors: %w", err)
	}
	defer rows.Close()

	var out []store.Sensor
	for rows.Next() {
		sn, err := scanSensor(rows)
		if err != nil {
			return nil, fmt.Errorf("ListSensors scan: %w", err)
		}
		out = append(out, sn)
	}
	return out, rows.Err()
}

func (s *Store) ApplyChange(ctx context.Context, c store.SensorChange) (store.HistoryEntry, error) {
	if c.At.IsZero() {
		c.At = time.Now().UTC()
	}

	var entry store.HistoryEntry
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		entry, err = applyChange(ctx, tx, c)
		return err
	})
	return entry, err
}

// applyChange updates the sensor row and appends its history entry. Must be
// called inside an existing transaction.
func applyChange(ctx context.Context, tx *sql.Tx, c store.SensorChange) (store.HistoryEntry, error) {
	var roomID int64
	err := tx.QueryRowContext(ctx, `SELECT room_id FROM sensors WHERE sensor_id = ?;`, c.SensorID).Scan(&roomID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.HistoryEntry{}, fmt.Errorf("sensor %d: %w", c.SensorID, store.ErrNotFound)
	}
	if err != nil {
		return store.HistoryEntry{}, fmt.Errorf("applyChange resolve room: %w", err)
	}

	ms := toMs(c.At)
	if _, err := tx.ExecContext(ctx, `
UPDATE sensors
SET state = ?,
    updated_at_ms = ?
WHERE sensor_id = ?;
`, c.Next, ms, c.SensorID); err != nil {
		return store.HistoryEntry{}, fmt.Errorf("applyChange update sensor: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
INSERT INTO sensor_history(
  sensor_id, room_id, previous, next, change_kind, source, note, created_at_ms
) VALUES (?, ?, ?, ?, ?, ?, ?, ?);
`, c.SensorID, roomID, c.Previous, c.Next, string(c.Kind), c.Source, c.Note, ms)
	if err != nil {
		return store.HistoryEntry{}, fmt.Errorf("applyChange insert history: %w", err)
	}
	id, _ := res.LastInsertId()

	return store.HistoryEntry{
		ID:        id,
		SensorID:  c.SensorID,
		RoomID:    roomID,
		Previous:  c.Previous,
		Next:      c.Next,
		Kind:      c.Kind,
		Source:    c.Source,
		Note:      c.Note,
		CreatedAt: fromMs(ms),
	}, nil
}
