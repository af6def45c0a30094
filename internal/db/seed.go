package db

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed seed_dev.yaml
var devSeed []byte

// SeedFile describes rooms, their sensors and shutdown policies. It is how
// dev environments and fresh installs get an initial layout; day-to-day
// changes go through the admin surface.
type SeedFile struct {
	Rooms []SeedRoom `yaml:"rooms"`
}

type SeedRoom struct {
	ID                   int64        `yaml:"id"`
	Name                 string       `yaml:"name"`
	Address              string       `yaml:"address"`
	InactivityTimeoutMin int          `yaml:"timeout_min"`
	AutoShutdown         bool         `yaml:"auto_shutdown"`
	Sensors              []SeedSensor `yaml:"sensors"`
	Policy               *SeedPolicy  `yaml:"policy"`
}

type SeedSensor struct {
	ID          int64  `yaml:"id"`
	Type        string `yaml:"type"`
	Description string `yaml:"description"`
	State       string `yaml:"state"`
}

type SeedPolicy struct {
	Enabled       bool   `yaml:"enabled"`
	InactivityMin int    `yaml:"inactivity_min"`
	WorkHoursOnly bool   `yaml:"work_hours_only"`
	WorkStart     string `yaml:"work_start"` // HH:MM
	WorkEnd       string `yaml:"work_end"`
	Weekdays      []bool `yaml:"weekdays"` // Sunday first
	GraceMin      int    `yaml:"grace_min"`
	DailyQuota    int    `yaml:"daily_quota"`
}

// SeedDev loads the embedded development layout.
func SeedDev(ctx context.Context, db *sql.DB) error {
	var f SeedFile
	if err := yaml.Unmarshal(devSeed, &f); err != nil {
		return fmt.Errorf("parse dev seed: %w", err)
	}
	return Seed(ctx, db, f)
}

// LoadSeed decodes a seed file.
func LoadSeed(r io.Reader) (SeedFile, error) {
	var f SeedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return SeedFile{}, fmt.Errorf("decode seed: %w", err)
	}
	return f, nil
}

// Seed upserts every room, sensor and policy in f. Existing sensor states,
// last signals and quota counters are left untouched.
func Seed(ctx context.Context, db *sql.DB, f SeedFile) error {
	now := time.Now().UTC().UnixMilli()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("seed begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, r := range f.Rooms {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO rooms(room_id, name, address, inactivity_timeout_min, auto_shutdown, created_at_ms, updated_at_ms)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(room_id) DO UPDATE SET
  name = excluded.name,
  address = excluded.address,
  inactivity_timeout_min = excluded.inactivity_timeout_min,
  auto_shutdown = excluded.auto_shutdown,
  updated_at_ms = excluded.updated_at_ms;
`, r.ID, r.Name, r.Address, r.InactivityTimeoutMin, boolInt(r.AutoShutdown), now, now); err != nil {
			return fmt.Errorf("seed room %d: %w", r.ID, err)
		}

		for _, s := range r.Sensors {
			if _, err := tx.ExecContext(ctx, `
INSERT INTO sensors(sensor_id, room_id, kind, description, state, updated_at_ms)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(sensor_id) DO UPDATE SET
  room_id = excluded.room_id,
  kind = excluded.kind,
  description = excluded.description;
`, s.ID, r.ID, s.Type, s.Description, s.State, now); err != nil {
				return fmt.Errorf("seed sensor %d: %w", s.ID, err)
			}
		}

		if r.Policy != nil {
			if err := seedPolicy(ctx, tx, r.ID, *r.Policy); err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}

func seedPolicy(ctx context.Context, tx *sql.Tx, roomID int64, p SeedPolicy) error {
	start, err := parseClock(p.WorkStart, 8*60)
	if err != nil {
		return fmt.Errorf("seed policy %d work_start: %w", roomID, err)
	}
	end, err := parseClock(p.WorkEnd, 18*60)
	if err != nil {
		return fmt.Errorf("seed policy %d work_end: %w", roomID, err)
	}
	mask := 0b0111110 // Monday-Friday
	if len(p.Weekdays) > 0 {
		mask = 0
		for i, on := range p.Weekdays {
			if on && i < 7 {
				mask |= 1 << i
			}
		}
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO shutdown_policies(
  room_id, enabled, inactivity_min, work_hours_only, work_start_min, work_end_min,
  weekday_mask, grace_min, daily_quota
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(room_id) DO UPDATE SET
  enabled = excluded.enabled,
  inactivity_min = excluded.inactivity_min,
  work_hours_only = excluded.work_hours_only,
  work_start_min = excluded.work_start_min,
  work_end_min = excluded.work_end_min,
  weekday_mask = excluded.weekday_mask,
  grace_min = excluded.grace_min,
  daily_quota = excluded.daily_quota;
`, roomID, boolInt(p.Enabled), p.InactivityMin, boolInt(p.WorkHoursOnly), start, end,
		mask, p.GraceMin, p.DailyQuota); err != nil {
		return fmt.Errorf("seed policy %d: %w", roomID, err)
	}
	return nil
}

func parseClock(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
