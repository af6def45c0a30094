package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BrandonDHaskell/Lumen/server/internal/lumen/store"
)

const roomColumns = `room_id, name, address, last_signal_at_ms, inactivity_timeout_min, auto_shutdown`

func scanRoom(row scanner) (store.Room, error) {
	var (
		r          store.Room
		lastSignal sql.NullInt64
		auto       int
	)
	if err := row.Scan(&r.ID, &r.Name, &r.Address, &lastSignal, &r.InactivityTimeoutMin, &auto); err != nil {
		return store.Room{}, err
	}
	r.LastSignal = nullableTime(lastSignal)
	r.AutoShutdown = auto == 1
	return r, nil
}

func (s *Store) GetRoom(ctx context.Context, id int64) (store.Room, error) {
	r, err := scanRoom(s.db.QueryRowContext(ctx,
		`SELECT `+roomColumns+` FROM rooms WHERE room_id = ?;`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return store.Room{}, fmt.Errorf("room %d: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return store.Room{}, fmt.Errorf("GetRoom: %w", err)
	}
	return r, nil
}

func (s *Store) GetRoomByAddress(ctx context.Context, address string) (store.Room, error) {
	address = strings.TrimSpace(address)
	r, err := scanRoom(s.db.QueryRowContext(ctx,
		`SELECT `+roomColumns+` FROM rooms WHERE address = ?;`, address))
	if errors.Is(err, sql.ErrNoRows) {
		return store.Room{}, fmt.Errorf("room at %s: %w", address, store.ErrNotFound)
	}
	if err != nil {
		return store.Room{}, fmt.Errorf("GetRoomByAddress: %w", err)
	}
	return r, nil
}

func (s *Store) ListRooms(ctx context.Context) ([]store.Room, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+roomColumns+` FROM rooms ORDER BY room_id;`)
	if err != nil {
		return nil, fmt.Errorf("ListRooms: %w", err)
	}
	defer rows.Close()

	var out []store.Room
	for rows.Next() {
		r, err := scanRoom(rows)
		if err != nil {
			return nil, fmt.Errorf("ListRooms scan: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) TouchRoom(ctx context.Context, id int64, t time.Time) error {
	if t.IsZero() {
		t = time.Now().UTC()
	}
	ms := toMs(t)

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
UPDATE rooms
SET last_signal_at_ms = ?,
    updated_at_ms     = ?
WHERE room_id = ?;
`, ms, ms, id)
		if err != nil {
			return fmt.Errorf("TouchRoom: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("room %d: %w", id, store.ErrNotFound)
		}
		return nil
	})
}
