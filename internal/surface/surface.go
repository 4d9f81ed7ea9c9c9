// Package surface is an in-memory rendering surface that keeps every overlay
// as a GeoJSON feature. The HTTP API serves it to map clients, which render
// the features and post clicks and finished drawings back.
package surface

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/signalsfoundry/geofence/core"
	"github.com/signalsfoundry/geofence/internal/mapsync"
	"github.com/signalsfoundry/geofence/model"
)

// Initial view shown before any area exists.
var DefaultCenter = model.Coordinate{Lat: 18.0254, Lng: -102.2070}

const DefaultZoom = 16

// ErrUnknownOverlay is returned when removing a handle the surface never issued.
var ErrUnknownOverlay = errors.New("unknown overlay")

// View is the viewport requested by the last FitBounds call.
type View struct {
	Center model.Coordinate `json:"center"`
	Zoom   int              `json:"zoom,omitempty"`
	Bound  *orb.Bound       `json:"-"`
}

// GeoJSON implements mapsync.Surface and mapsync.EventSource.
type GeoJSON struct {
	mu       sync.RWMutex
	features map[mapsync.Handle]*geojson.Feature
	order    []mapsync.Handle
	view     View

	listenMu sync.RWMutex
	drawn    []func([]model.Coordinate)
	clicked  []func(model.Coordinate)
}

var (
	_ mapsync.Surface     = (*GeoJSON)(nil)
	_ mapsync.EventSource = (*GeoJSON)(nil)
)

// New creates an empty surface centred on DefaultCenter.
func New() *GeoJSON {
	return &GeoJSON{
		features: make(map[mapsync.Handle]*geojson.Feature),
		view:     View{Center: DefaultCenter, Zoom: DefaultZoom},
	}
}

// DrawPolygon adds an area polygon. Boundaries that are not valid polygons
// are rejected.
func (s *GeoJSON) DrawPolygon(_ context.Context, boundary []model.Coordinate, style mapsync.Style) (mapsync.Handle, error) {
	if !core.ValidBoundary(boundary) {
		return "", fmt.Errorf("%w: %d vertices", model.ErrInvalidBoundary, len(boundary))
	}
	f := geojson.NewFeature(orb.Polygon{core.Ring(boundary)})
	f.Properties["overlay"] = "area"
	f.Properties["stroke"] = style.StrokeColor
	f.Properties["stroke-width"] = style.StrokeWeight
	f.Properties["fill"] = style.FillColor
	f.Properties["fill-opacity"] = style.FillOpacity
	return s.insert(f), nil
}

// DrawMarker adds a point marker.
func (s *GeoJSON) DrawMarker(_ context.Context, at model.Coordinate, style mapsync.MarkerStyle) (mapsync.Handle, error) {
	if !at.Valid() {
		return "", fmt.Errorf("%w: %s", model.ErrInvalidCoordinate, at)
	}
	f := geojson.NewFeature(orb.Point{at.Lng, at.Lat})
	f.Properties["overlay"] = "marker"
	f.Properties["marker-kind"] = string(style.Kind)
	if style.Label != "" {
		f.Properties["title"] = style.Label
	}
	return s.insert(f), nil
}

func (s *GeoJSON) insert(f *geojson.Feature) mapsync.Handle {
	h := mapsync.Handle(uuid.NewString())
	f.ID = string(h)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.features[h] = f
	s.order = append(s.order, h)
	return h
}

// RemoveOverlay deletes a feature.
func (s *GeoJSON) RemoveOverlay(_ context.Context, h mapsync.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.features[h]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownOverlay, h)
	}
	delete(s.features, h)
	for i, o := range s.order {
		if o == h {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// FitBounds moves the view to cover every valid boundary.
func (s *GeoJSON) FitBounds(_ context.Context, boundaries [][]model.Coordinate) error {
	bound, ok := core.Bounds(boundaries...)
	if !ok {
		return fmt.Errorf("%w: nothing to fit", model.ErrInvalidBoundary)
	}
	c := bound.Center()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.view = View{Center: model.Coordinate{Lat: c.Y(), Lng: c.X()}, Bound: &bound}
	return nil
}

// View returns the current viewport.
func (s *GeoJSON) View() View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view
}

// Len returns the number of overlays on the surface.
func (s *GeoJSON) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.features)
}

// FeatureCollection returns the overlays in drawing order. The collection's
// bbox is the fitted view, when one has been requested.
func (s *GeoJSON) FeatureCollection() *geojson.FeatureCollection {
	s.mu.RLock()
	defer s.mu.RUnlock()

	fc := geojson.NewFeatureCollection()
	for _, h := range s.order {
		f := *s.features[h]
		props := make(geojson.Properties, len(f.Properties))
		for k, v := range f.Properties {
			props[k] = v
		}
		f.Properties = props
		fc.Append(&f)
	}
	if s.view.Bound != nil {
		fc.BBox = geojson.NewBBox(*s.view.Bound)
	}
	fc.ExtraMembers = geojson.Properties{
		"center": s.view.Center,
	}
	if s.view.Zoom > 0 {
		fc.ExtraMembers["zoom"] = s.view.Zoom
	}
	return fc
}

// OnPolygonDrawn registers a listener for finished drawings.
func (s *GeoJSON) OnPolygonDrawn(fn func([]model.Coordinate)) {
	s.listenMu.Lock()
	defer s.listenMu.Unlock()
	s.drawn = append(s.drawn, fn)
}

// OnMapClicked registers a listener for clicks.
func (s *GeoJSON) OnMapClicked(fn func(model.Coordinate)) {
	s.listenMu.Lock()
	defer s.listenMu.Unlock()
	s.clicked = append(s.clicked, fn)
}

// Click reports a click from a map client to every listener.
func (s *GeoJSON) Click(at model.Coordinate) {
	s.listenMu.RLock()
	fns := append([]func(model.Coordinate){}, s.clicked...)
	s.listenMu.RUnlock()
	for _, fn := range fns {
		fn(at)
	}
}

// Draw reports a finished drawing from a map client to every listener.
func (s *GeoJSON) Draw(boundary []model.Coordinate) {
	s.listenMu.RLock()
	fns := append([]func([]model.Coordinate){}, s.drawn...)
	s.listenMu.RUnlock()
	for _, fn := range fns {
		fn(model.CloneBoundary(boundary))
	}
}
