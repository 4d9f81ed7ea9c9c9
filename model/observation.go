package model

import (
	"time"

	"github.com/google/uuid"
)

// Observation is the result of evaluating one position sample against the
// known areas. Coordinate and Area are meaningful only when Err is empty.
type Observation struct {
	Coordinate Coordinate `json:"coordinate"`
	Area       *Area      `json:"area,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
	Err        ErrorKind  `json:"error,omitempty"`
}

// Inside reports whether the observation places the point in an area.
func (o Observation) Inside() bool {
	return o.Err == ErrorKindNone && o.Area != nil
}

// Fresh reports whether the observation is younger than maxAge at now.
// A non-positive maxAge disables the age check.
func (o Observation) Fresh(now time.Time, maxAge time.Duration) bool {
	if o.Timestamp.IsZero() {
		return false
	}
	if maxAge <= 0 {
		return true
	}
	return now.Sub(o.Timestamp) <= maxAge
}

// Registration records a presence registration accepted inside an area.
// AreaName is copied at creation time; later edits to the area do not
// rewrite history.
type Registration struct {
	ID         uuid.UUID  `json:"id"`
	Name       string     `json:"name"`
	Coordinate Coordinate `json:"coordinate"`
	AreaID     int64      `json:"areaId"`
	AreaName   string     `json:"areaName"`
	Timestamp  time.Time  `json:"timestamp"`
}
