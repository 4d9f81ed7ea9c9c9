package model

import (
	"encoding/json"
	"fmt"
	"math"
)

// Coordinate is a planar (latitude, longitude) pair in degrees.
//
// Coordinates travel on the wire as a two element array `[lat, lng]`, the
// same order the map surface and the collaborator screens use.
type Coordinate struct {
	Lat float64
	Lng float64
}

// Valid reports whether both components are finite.
func (c Coordinate) Valid() bool {
	return finite(c.Lat) && finite(c.Lng)
}

func (c Coordinate) String() string {
	return fmt.Sprintf("(%.6f, %.6f)", c.Lat, c.Lng)
}

// MarshalJSON encodes the coordinate as [lat, lng].
func (c Coordinate) MarshalJSON() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCoordinate, c)
	}
	return json.Marshal([2]float64{c.Lat, c.Lng})
}

// UnmarshalJSON decodes a [lat, lng] pair.
func (c *Coordinate) UnmarshalJSON(data []byte) error {
	var pair []float64
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCoordinate, err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("%w: want [lat, lng], got %d values", ErrInvalidCoordinate, len(pair))
	}
	c.Lat, c.Lng = pair[0], pair[1]
	return nil
}

// ValidateCoordinates returns ErrInvalidCoordinate naming the first offending
// vertex, or nil when every coordinate is finite.
func ValidateCoordinates(coords []Coordinate) error {
	for i, c := range coords {
		if !c.Valid() {
			return fmt.Errorf("%w: vertex %d is %v", ErrInvalidCoordinate, i, c)
		}
	}
	return nil
}

// CloneBoundary returns a copy of b so callers never alias registry storage.
func CloneBoundary(b []Coordinate) []Coordinate {
	if b == nil {
		return nil
	}
	out := make([]Coordinate, len(b))
	copy(out, b)
	return out
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
