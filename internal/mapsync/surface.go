// Package mapsync projects the area registry, the tracked position and
// registrations onto a rendering surface. It owns no geometry, only the
// mapping from domain objects to overlay handles.
package mapsync

import (
	"context"

	"github.com/signalsfoundry/geofence/model"
)

// Handle is an opaque overlay reference issued by a Surface.
type Handle string

// Style is how an area polygon is drawn.
type Style struct {
	StrokeColor  string  `json:"strokeColor"`
	StrokeWeight int     `json:"strokeWeight"`
	FillColor    string  `json:"fillColor"`
	FillOpacity  float64 `json:"fillOpacity"`
}

// Polygon styling defaults shared by every area overlay.
const (
	DefaultStrokeWeight = 2
	DefaultFillOpacity  = 0.4
)

// AreaStyle derives the overlay style of a.
func AreaStyle(a model.Area) Style {
	return Style{
		StrokeColor:  a.StrokeColor,
		StrokeWeight: DefaultStrokeWeight,
		FillColor:    a.FillColor,
		FillOpacity:  DefaultFillOpacity,
	}
}

// MarkerKind tells a surface what a marker stands for.
type MarkerKind string

const (
	MarkerCurrentLocation MarkerKind = "current-location"
	MarkerLastClick       MarkerKind = "last-click"
	MarkerRegistration    MarkerKind = "registration"
)

// MarkerStyle is how a point marker is drawn.
type MarkerStyle struct {
	Kind  MarkerKind `json:"kind"`
	Label string     `json:"label,omitempty"`
}

// Surface is the rendering capability the adapter drives. Implementations may
// reject malformed input with an error; the adapter isolates such failures
// per overlay.
type Surface interface {
	DrawPolygon(ctx context.Context, boundary []model.Coordinate, style Style) (Handle, error)
	DrawMarker(ctx context.Context, at model.Coordinate, style MarkerStyle) (Handle, error)
	RemoveOverlay(ctx context.Context, h Handle) error
	FitBounds(ctx context.Context, boundaries [][]model.Coordinate) error
}

// EventSource delivers user interactions from the rendering surface.
type EventSource interface {
	OnPolygonDrawn(fn func(boundary []model.Coordinate))
	OnMapClicked(fn func(at model.Coordinate))
}
