package position

import (
	"time"

	"github.com/signalsfoundry/geofence/model"
)

// Motion yields the simulated position at a point in simulation time.
type Motion interface {
	Position(t time.Time) model.Coordinate
}

// StaticMotion stays at one coordinate.
type StaticMotion struct {
	At model.Coordinate
}

// Position returns m.At.
func (m StaticMotion) Position(time.Time) model.Coordinate {
	return m.At
}

// WaypointMotion walks straight legs between waypoints, spending Leg on each.
// With Loop set the walk returns to the first waypoint and repeats; otherwise
// it parks on the last one.
type WaypointMotion struct {
	Start     time.Time
	Waypoints []model.Coordinate
	Leg       time.Duration
	Loop      bool
}

// Position interpolates linearly along the current leg.
func (m WaypointMotion) Position(t time.Time) model.Coordinate {
	n := len(m.Waypoints)
	switch {
	case n == 0:
		return model.Coordinate{}
	case n == 1 || m.Leg <= 0 || !t.After(m.Start):
		return m.Waypoints[0]
	}

	legs := n - 1
	if m.Loop {
		legs = n
	}
	elapsed := t.Sub(m.Start)
	leg := int(elapsed / m.Leg)
	if leg >= legs {
		if !m.Loop {
			return m.Waypoints[n-1]
		}
		leg %= legs
	}
	frac := float64(elapsed%m.Leg) / float64(m.Leg)

	from := m.Waypoints[leg]
	to := m.Waypoints[(leg+1)%n]
	return model.Coordinate{
		Lat: from.Lat + (to.Lat-from.Lat)*frac,
		Lng: from.Lng + (to.Lng-from.Lng)*frac,
	}
}
