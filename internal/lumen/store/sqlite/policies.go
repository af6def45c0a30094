package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/BrandonDHaskell/Lumen/server/internal/lumen/store"
)

const policyColumns = `room_id, enabled, inactivity_min, work_hours_only, work_start_min, work_end_min,
  weekday_mask, grace_min, daily_quota, count_today, last_reset_date, last_shutdown_ms`

func scanPolicy(row scanner) (store.ShutdownPolicy, error) {
	var (
		p                  store.ShutdownPolicy
		enabled, workHours int
		start, end, mask   int
		lastShutdown       sql.NullInt64
	)
	if err := row.Scan(&p.RoomID, &enabled, &p.InactivityMin, &workHours, &start, &end,
		&mask, &p.GraceMin, &p.DailyQuota, &p.CountToday, &p.LastResetDate, &lastShutdown); err != nil {
		return store.ShutdownPolicy{}, err
	}
	p.Enabled = enabled == 1
	p.WorkHoursOnly = workHours == 1
	p.WorkStart = store.TimeOfDay(start)
	p.WorkEnd = store.TimeOfDay(end)
	for d := range p.Weekdays {
		p.Weekdays[d] = mask&(1<<d) != 0
	}
	p.LastShutdown = nullableTime(lastShutdown)
	return p, nil
}

func (s *Store) GetPolicy(ctx context.Context, roomID int64) (store.ShutdownPolicy, error) {
	p, err := scanPolicy(s.db.QueryRowContext(ctx,
		`SELECT `+policyColumns+` FROM shutdown_policies WHERE room_id = ?;`, roomID))
	if errors.Is(err, sql.ErrNoRows) {
		return store.ShutdownPolicy{}, fmt.Errorf("policy for room %d: %w", roomID, store.ErrNotFound)
	}
	if err != nil {
		return store.ShutdownPolicy{}, fmt.Errorf("GetPolicy: %w", err)
	}
	return p, nil
}

func (s *Store) ListEnabledPolicies(ctx context.Context) ([]store.ShutdownPolicy, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+policyColumns+` FROM shutdown_policies WHERE enabled = 1 ORDER BY room_id;`)
	if err != nil {
		return nil, fmt.Errorf("ListEnabledPolicies: %w", err)
	}
	defer rows.Close()

	var out []store.ShutdownPolicy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, fmt.Errorf("ListEnabledPolicies scan: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) ResetDailyCount(ctx context.Context, roomID int64, date string) error {
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
UPDATE shutdown_policies
SET count_today = 0,
    last_reset_date = ?
WHERE room_id = ?;
`, date, roomID)
		if err != nil {
			return fmt.Errorf("ResetDailyCount: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("policy for room %d: %w", roomID, store.ErrNotFound)
		}
		return nil
	})
}

// ApplyShutdown runs the whole batch in one transaction; any failure rolls
// back every sensor change, history row and the quota increment.
func (s *Store) ApplyShutdown(ctx context.Context, b store.ShutdownBatch) ([]store.HistoryEntry, error) {
	at := b.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	var entries []store.HistoryEntry
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		entries = entries[:0]
		for _, c := range b.Changes {
			if c.At.IsZero() {
				c.At = at
			}
			e, err := applyChange(ctx, tx, c)
			if err != nil {
				return err
			}
			entries = append(entries, e)
		}

		res, err := tx.ExecContext(ctx, `
UPDATE shutdown_policies
SET count_today = count_today + 1,
    last_shutdown_ms = ?
WHERE room_id = ?;
`, toMs(at), b.RoomID)
		if err != nil {
			return fmt.Errorf("ApplyShutdown update policy: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("policy for room %d: %w", b.RoomID, store.ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}
