package store

import (
	"strings"
	"time"
)

type SensorType string

const (
	Light  SensorType = "light"
	Motion SensorType = "motion"
	Window SensorType = "window"
	Relay  SensorType = "relay"
)

func (t SensorType) Valid() bool {
	switch t {
	case Light, Motion, Window, Relay:
		return true
	}
	return false
}

// Switchable reports whether the sensor drives a load that can be toggled.
func (t SensorType) Switchable() bool {
	return t == Light || t == Relay
}

const (
	StateOn  = "true"
	StateOff = "false"
)

type Sensor struct {
	ID          int64
	RoomID      int64
	Type        SensorType
	Description string
	State       string
	UpdatedAt   time.Time
}

// IsOn interprets the sensor's state as a boolean. Controllers report a mix
// of "true"/"false", "1"/"0" and "on"/"off".
func (s Sensor) IsOn() bool {
	on, _ := ParseBool(s.State)
	return on
}

// ParseBool accepts the boolean-like spellings devices use. ok is false for
// anything else.
func ParseBool(v string) (on bool, ok bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "on":
		return true, true
	case "false", "0", "off", "":
		return false, true
	}
	return false, false
}

func FormatBool(on bool) string {
	if on {
		return StateOn
	}
	return StateOff
}
