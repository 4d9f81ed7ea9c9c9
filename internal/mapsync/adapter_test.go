package mapsync

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/geofence/core"
	"github.com/signalsfoundry/geofence/model"
)

type call struct {
	op       string
	handle   Handle
	boundary []model.Coordinate
	marker   MarkerStyle
}

// fakeSurface records every call and can be told to reject polygons whose
// first vertex matches failOn.
type fakeSurface struct {
	mu      sync.Mutex
	calls   []call
	next    int
	failOn  *model.Coordinate
	fitErr  error
	fitted  [][][]model.Coordinate
	removed map[Handle]int
}

func newFakeSurface() *fakeSurface {
	return &fakeSurface{removed: map[Handle]int{}}
}

func (f *fakeSurface) DrawPolygon(_ context.Context, boundary []model.Coordinate, _ Style) (Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn != nil && boundary[0] == *f.failOn {
		return "", errors.New("malformed polygon")
	}
	f.next++
	h := Handle(fmt.Sprintf("poly-%d", f.next))
	f.calls = append(f.calls, call{op: "draw", handle: h, boundary: boundary})
	return h, nil
}

func (f *fakeSurface) DrawMarker(_ context.Context, at model.Coordinate, style MarkerStyle) (Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	h := Handle(fmt.Sprintf("marker-%d", f.next))
	f.calls = append(f.calls, call{op: "marker", handle: h, marker: style, boundary: []model.Coordinate{at}})
	return h, nil
}

func (f *fakeSurface) RemoveOverlay(_ context.Context, h Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed[h]++
	f.calls = append(f.calls, call{op: "remove", handle: h})
	return nil
}

func (f *fakeSurface) FitBounds(_ context.Context, boundaries [][]model.Coordinate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fitted = append(f.fitted, boundaries)
	return f.fitErr
}

func (f *fakeSurface) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
	f.fitted = nil
	f.removed = map[Handle]int{}
}

func (f *fakeSurface) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.op == op {
			n++
		}
	}
	return n
}

type fakeMetrics struct {
	mu       sync.Mutex
	failures map[string]int
	syncs    int
}

func (m *fakeMetrics) OverlayFailure(op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failures == nil {
		m.failures = map[string]int{}
	}
	m.failures[op]++
}

func (m *fakeMetrics) ObserveSync(time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncs++
}

func sq(lat, lng float64) []model.Coordinate {
	return []model.Coordinate{
		{Lat: lat, Lng: lng}, {Lat: lat, Lng: lng + 1}, {Lat: lat + 1, Lng: lng + 1}, {Lat: lat + 1, Lng: lng},
	}
}

func add(t *testing.T, reg *core.AreaRegistry, name string, boundary []model.Coordinate) model.Area {
	t.Helper()
	a, err := reg.Add(model.AreaSpec{Name: name, Boundary: boundary})
	require.NoError(t, err)
	return a
}

func TestAdapter_RemovingAreaRemovesExactlyItsOverlay(t *testing.T) {
	reg := core.NewAreaRegistry()
	surface := newFakeSurface()
	a := NewAdapter(surface, core.NewZoneResolver(reg))
	defer a.Follow(reg)()

	add(t, reg, "A", sq(0, 0))
	b := add(t, reg, "B", sq(5, 5))
	add(t, reg, "C", sq(10, 10))

	bHandle := a.Status().Areas[b.ID]
	require.NotEmpty(t, bHandle)

	surface.reset()
	require.NoError(t, reg.Remove(b.ID))

	assert.Equal(t, 1, surface.removed[bHandle])
	assert.Equal(t, 1, surface.count("remove"))
	assert.Zero(t, surface.count("draw"))
	_, ok := a.Status().Areas[b.ID]
	assert.False(t, ok)
}

func TestAdapter_SyncDrawsValidAreasAndFits(t *testing.T) {
	reg := core.NewAreaRegistry()
	add(t, reg, "A", sq(0, 0))
	add(t, reg, "Inert", []model.Coordinate{{Lat: 0, Lng: 0}, {Lat: 1, Lng: 1}})
	add(t, reg, "B", sq(5, 5))

	surface := newFakeSurface()
	metrics := &fakeMetrics{}
	a := NewAdapter(surface, nil, WithMetrics(metrics))

	report := a.Sync(context.Background(), reg.Snapshot())
	assert.Equal(t, []int64{1, 3}, report.Drawn)
	assert.True(t, report.Fitted)
	require.Len(t, surface.fitted, 1)
	assert.Len(t, surface.fitted[0], 2)

	// A second pass over the same snapshot changes nothing.
	surface.reset()
	report = a.Sync(context.Background(), reg.Snapshot())
	assert.Empty(t, report.Drawn)
	assert.Empty(t, report.Removed)
	assert.Zero(t, surface.count("draw"))
	assert.Equal(t, 2, metrics.syncs)
}

func TestAdapter_UpdatedAreaIsRedrawn(t *testing.T) {
	reg := core.NewAreaRegistry()
	surface := newFakeSurface()
	a := NewAdapter(surface, nil)
	defer a.Follow(reg)()

	area := add(t, reg, "A", sq(0, 0))
	old := a.Status().Areas[area.ID]

	surface.reset()
	moved := sq(3, 3)
	_, err := reg.Update(area.ID, model.AreaPatch{Boundary: &moved})
	require.NoError(t, err)

	assert.Equal(t, 1, surface.removed[old])
	assert.Equal(t, 1, surface.count("draw"))
	assert.NotEqual(t, old, a.Status().Areas[area.ID])

	// An edit that breaks the boundary removes the overlay and draws nothing.
	surface.reset()
	broken := moved[:2]
	_, err = reg.Update(area.ID, model.AreaPatch{Boundary: &broken})
	require.NoError(t, err)
	assert.Equal(t, 1, surface.count("remove"))
	assert.Zero(t, surface.count("draw"))
	assert.Empty(t, surface.fitted, "no valid areas, no fit")
}

func TestAdapter_IsolatesPerAreaFailures(t *testing.T) {
	reg := core.NewAreaRegistry()
	add(t, reg, "A", sq(0, 0))
	add(t, reg, "Bad", sq(5, 5))
	add(t, reg, "C", sq(10, 10))

	surface := newFakeSurface()
	surface.failOn = &model.Coordinate{Lat: 5, Lng: 5}
	metrics := &fakeMetrics{}
	a := NewAdapter(surface, nil, WithMetrics(metrics))

	report := a.Sync(context.Background(), reg.Snapshot())
	assert.Equal(t, []int64{1, 3}, report.Drawn)
	assert.Equal(t, []int64{2}, report.Failed)
	assert.True(t, report.Fitted)
	assert.Equal(t, 1, metrics.failures["draw_polygon"])

	// The failed area is retried on the next pass.
	surface.failOn = nil
	report = a.Sync(context.Background(), reg.Snapshot())
	assert.Equal(t, []int64{2}, report.Drawn)
}

func TestAdapter_IgnoresOlderSnapshots(t *testing.T) {
	reg := core.NewAreaRegistry()
	add(t, reg, "A", sq(0, 0))
	old := reg.Snapshot()
	add(t, reg, "B", sq(5, 5))

	surface := newFakeSurface()
	a := NewAdapter(surface, nil)
	a.Sync(context.Background(), reg.Snapshot())

	surface.reset()
	report := a.Sync(context.Background(), old)
	assert.True(t, report.Skipped)
	assert.Empty(t, surface.calls)
	assert.Len(t, a.Status().Areas, 2)
}

func TestAdapter_SelectionClearedOnDelete(t *testing.T) {
	reg := core.NewAreaRegistry()
	surface := newFakeSurface()
	a := NewAdapter(surface, nil)
	defer a.Follow(reg)()

	area := add(t, reg, "A", sq(0, 0))
	add(t, reg, "B", sq(5, 5))

	surface.reset()
	require.NoError(t, a.Select(context.Background(), area.ID))
	require.Len(t, surface.fitted, 1)
	assert.Equal(t, [][]model.Coordinate{area.Boundary}, surface.fitted[0])
	id, ok := a.Selected()
	assert.True(t, ok)
	assert.Equal(t, area.ID, id)

	require.NoError(t, reg.Remove(area.ID))
	_, ok = a.Selected()
	assert.False(t, ok)

	err := a.Select(context.Background(), area.ID)
	assert.True(t, errors.Is(err, model.ErrUnknownAreaID))
}

func TestAdapter_SelectInertArea(t *testing.T) {
	reg := core.NewAreaRegistry()
	a := NewAdapter(newFakeSurface(), nil)
	defer a.Follow(reg)()

	area := add(t, reg, "Inert", []model.Coordinate{{Lat: 0, Lng: 0}})
	err := a.Select(context.Background(), area.ID)
	assert.True(t, errors.Is(err, model.ErrInvalidBoundary))
}

func TestAdapter_ProbeMovesLastClickMarker(t *testing.T) {
	reg := core.NewAreaRegistry()
	add(t, reg, "A", sq(0, 0))
	surface := newFakeSurface()
	a := NewAdapter(surface, core.NewZoneResolver(reg))

	res, err := a.Probe(context.Background(), model.Coordinate{Lat: 0.5, Lng: 0.5})
	require.NoError(t, err)
	require.NotNil(t, res.Area)
	assert.Equal(t, "A", res.Area.Name)
	first := a.Status().Markers[string(MarkerLastClick)]

	res, err = a.Probe(context.Background(), model.Coordinate{Lat: 9, Lng: 9})
	require.NoError(t, err)
	assert.Nil(t, res.Area)
	assert.Equal(t, 1, surface.removed[first])
	assert.Len(t, a.Status().Markers, 1)

	_, err = a.Probe(context.Background(), model.Coordinate{Lat: math.Inf(1), Lng: 0})
	assert.True(t, errors.Is(err, model.ErrInvalidCoordinate))
}

func TestAdapter_ObservationAndRegistrationMarkers(t *testing.T) {
	surface := newFakeSurface()
	a := NewAdapter(surface, nil)
	ctx := context.Background()

	area := model.NewArea(1, model.AreaSpec{Name: "A", Boundary: sq(0, 0)})
	a.ShowObservation(ctx, model.Observation{Coordinate: model.Coordinate{Lat: 0.5, Lng: 0.5}, Area: &area})
	require.Contains(t, a.Status().Markers, string(MarkerCurrentLocation))

	a.ShowObservation(ctx, model.Observation{Err: model.ErrorKindTimeout})
	assert.NotContains(t, a.Status().Markers, string(MarkerCurrentLocation))

	reg := model.Registration{ID: uuid.New(), Name: "Alice", Coordinate: model.Coordinate{Lat: 0.5, Lng: 0.5}}
	a.ShowRegistration(ctx, reg)
	assert.Contains(t, a.Status().Markers, "registration:"+reg.ID.String())
}

type fakeEvents struct {
	drawn   func([]model.Coordinate)
	clicked func(model.Coordinate)
}

func (f *fakeEvents) OnPolygonDrawn(fn func([]model.Coordinate)) { f.drawn = fn }
func (f *fakeEvents) OnMapClicked(fn func(model.Coordinate))     { f.clicked = fn }

func TestAdapter_AttachRoutesEvents(t *testing.T) {
	surface := newFakeSurface()
	a := NewAdapter(surface, nil)
	events := &fakeEvents{}

	var drawn []model.Coordinate
	a.Attach(events, func(b []model.Coordinate) { drawn = b })

	require.NotNil(t, events.clicked)
	require.NotNil(t, events.drawn)
	events.clicked(model.Coordinate{Lat: 1, Lng: 1})
	assert.Contains(t, a.Status().Markers, string(MarkerLastClick))

	events.drawn(sq(0, 0))
	assert.Equal(t, sq(0, 0), drawn)
}
