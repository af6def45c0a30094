package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/BrandonDHaskell/Lumen/server/internal/lumen/store"
)

func (s *Store) ListHistory(ctx context.Context, f store.HistoryFilter) ([]store.HistoryEntry, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = store.DefaultHistoryLimit
	}

	var (
		where []string
		args  []any
	)
	if f.RoomID != 0 {
		where = append(where, "room_id = ?")
		args = append(args, f.RoomID)
	}
	if f.SensorID != 0 {
		where = append(where, "sensor_id = ?")
		args = append(args, f.SensorID)
	}
	if f.Kind != "" {
		where = append(where, "change_kind = ?")
		args = append(args, string(f.Kind))
	}

	q := `SELECT history_id, sensor_id, room_id, previous, next, change_kind, source, note, created_at_ms
FROM sensor_history`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at_ms DESC, history_id DESC LIMIT ?;"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("ListHistory: %w", err)
	}
	defer rows.Close()

	var out []store.HistoryEntry
	for rows.Next() {
		var (
			e       store.HistoryEntry
			kind    string
			created int64
		)
		if err := rows.Scan(&e.ID, &e.SensorID, &e.RoomID, &e.Previous, &e.Next, &kind,
			&e.Source, &e.Note, &created); err != nil {
			return nil, fmt.Errorf("ListHistory scan: %w", err)
		}
		e.Kind = store.ChangeKind(kind)
		e.CreatedAt = fromMs(created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// PruneOlderThan deletes history rows created before cutoff and returns how
// many were removed. Uses idx_history_time for the range scan.
func (s *Store) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	cutoffMs := toMs(cutoff)

	var deleted int64
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
DELETE FROM sensor_history
WHERE created_at_ms < ?;
`, cutoffMs)
		if err != nil {
			return fmt.Errorf("PruneOlderThan: %w", err)
		}
		deleted, _ = res.RowsAffected()
		return nil
	})
	return deleted, err
}
