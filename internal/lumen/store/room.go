package store

import (
	"time"
)

// Connectivity is the derived liveness of a room controller.
type Connectivity string

const (
	Online  Connectivity = "online"
	Offline Connectivity = "offline"
	Unknown Connectivity = "unknown"
)

type Room struct {
	ID      int64
	Name    string
	Address string // controller IP, unique

	// LastSignal is nil until the controller has been heard from.
	LastSignal *time.Time

	InactivityTimeoutMin int
	AutoShutdown         bool
}

// ConnectivityAt derives the room's connectivity from its last signal and
// inactivity timeout. It is never stored.
func (r Room) ConnectivityAt(now time.Time) Connectivity {
	return ConnectivityOf(r.LastSignal, r.InactivityTimeout(), now)
}

func (r Room) InactivityTimeout() time.Duration {
	return time.Duration(r.InactivityTimeoutMin) * time.Minute
}

// ConnectivityOf is online iff now-lastSignal <= timeout.
func ConnectivityOf(lastSignal *time.Time, timeout time.Duration, now time.Time) Connectivity {
	if lastSignal == nil || lastSignal.IsZero() {
		return Unknown
	}
	if now.Sub(*lastSignal) <= timeout {
		return Online
	}
	return Offline
}
