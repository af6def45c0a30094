package store

import (
	"fmt"
	"time"
)

// TimeOfDay is a wall-clock time without a date, stored as minutes since
// midnight.
type TimeOfDay int

func NewTimeOfDay(hour, minute int) TimeOfDay {
	return TimeOfDay(hour*60 + minute)
}

// ParseTimeOfDay parses "HH:MM".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("parse time of day %q: %w", s, err)
	}
	return NewTimeOfDay(t.Hour(), t.Minute()), nil
}

func TimeOfDayOf(t time.Time) TimeOfDay {
	return NewTimeOfDay(t.Hour(), t.Minute())
}

func (d TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(d)/60, int(d)%60)
}

func (d TimeOfDay) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *TimeOfDay) UnmarshalText(b []byte) error {
	v, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// DateLayout is the layout of ShutdownPolicy.LastResetDate.
const DateLayout = "2006-01-02"

// Weekdays is indexed by time.Weekday (Sunday = 0).
type Weekdays [7]bool

// WorkWeek enables Monday through Friday.
func WorkWeek() Weekdays {
	return Weekdays{false, true, true, true, true, true, false}
}

func (w Weekdays) Enabled(d time.Weekday) bool { return w[d] }

type ShutdownPolicy struct {
	RoomID  int64
	Enabled bool

	InactivityMin int

	WorkHoursOnly bool
	WorkStart     TimeOfDay
	WorkEnd       TimeOfDay
	Weekdays      Weekdays

	GraceMin   int
	DailyQuota int // 0 = unlimited
	CountToday int

	LastResetDate string // DateLayout; empty if never reset
	LastShutdown  *time.Time
}

func (p ShutdownPolicy) Inactivity() time.Duration {
	return time.Duration(p.InactivityMin) * time.Minute
}

// WithinSchedule reports whether now falls on an enabled weekday inside
// [WorkStart, WorkEnd]. Always true when WorkHoursOnly is off.
func (p ShutdownPolicy) WithinSchedule(now time.Time) bool {
	if !p.WorkHoursOnly {
		return true
	}
	if !p.Weekdays.Enabled(now.Weekday()) {
		return false
	}
	tod := TimeOfDayOf(now)
	return tod >= p.WorkStart && tod <= p.WorkEnd
}

// ResetIfNewDay zeroes CountToday when the stored reset date is not today.
// It returns true when a reset happened.
func (p *ShutdownPolicy) ResetIfNewDay(now time.Time) bool {
	today := now.Format(DateLayout)
	if p.LastResetDate == today {
		return false
	}
	p.CountToday = 0
	p.LastResetDate = today
	return true
}

// QuotaExhausted assumes ResetIfNewDay has already run for today.
func (p ShutdownPolicy) QuotaExhausted() bool {
	return p.DailyQuota > 0 && p.CountToday >= p.DailyQuota
}
