package service

import (
	"github.com/BrandonDHaskell/Lumen/server/internal/lumen/store"
	"github.com/BrandonDHaskell/Lumen/server/internal/lumen/types"
)

type Edge int

const (
	EdgeRising Edge = iota + 1
	EdgeFalling
)

func (e Edge) String() string {
	switch e {
	case EdgeRising:
		return "rising"
	case EdgeFalling:
		return "falling"
	}
	return "unknown"
}

// Rule derives device commands from a sensor transition: when a Trigger
// sensor changes along Edge, every Affects sensor in the room whose on-state
// equals WhenOn gets Action with Value.
type Rule struct {
	Trigger store.SensorType
	Edge    Edge
	Affects store.SensorType
	WhenOn  bool
	Action  string
	Value   bool
}

// DefaultRules turns lights on when motion starts and off when it stops.
var DefaultRules = []Rule{
	{Trigger: store.Motion, Edge: EdgeRising, Affects: store.Light, WhenOn: false, Action: types.ActionToggle, Value: true},
	{Trigger: store.Motion, Edge: EdgeFalling, Affects: store.Light, WhenOn: true, Action: types.ActionToggle, Value: false},
}

// edgeOf classifies a state transition. Non boolean-like states have no edge.
func edgeOf(prev, next string) (Edge, bool) {
	was, ok1 := store.ParseBool(prev)
	is, ok2 := store.ParseBool(next)
	if !ok1 || !ok2 || was == is {
		return 0, false
	}
	if is {
		return EdgeRising, true
	}
	return EdgeFalling, true
}

// DeriveCommands evaluates rules for one transition of changed (from prev to
// changed.State) against the room's current sensors.
func DeriveCommands(rules []Rule, prev string, changed store.Sensor, room []store.Sensor) []types.Command {
	edge, ok := edgeOf(prev, changed.State)
	if !ok {
		return nil
	}

	var out []types.Command
	for _, r := range rules {
		if r.Trigger != changed.Type || r.Edge != edge {
			continue
		}
		for _, sn := range room {
			if sn.Type != r.Affects || sn.ID == changed.ID {
				continue
			}
			if sn.IsOn() != r.WhenOn {
				continue
			}
			out = append(out, types.Command{
				SensorID: sn.ID,
				Action:   r.Action,
				Value:    r.Value,
				Origin:   types.OriginRule,
			})
		}
	}
	return out
}
