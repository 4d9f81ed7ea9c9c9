package position

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/geofence/model"
	"github.com/signalsfoundry/geofence/timectrl"
)

func TestWaypointMotion(t *testing.T) {
	start := time.Unix(0, 0)
	m := WaypointMotion{
		Start: start,
		Waypoints: []model.Coordinate{
			{Lat: 0, Lng: 0}, {Lat: 0, Lng: 10}, {Lat: 10, Lng: 10},
		},
		Leg: 10 * time.Second,
	}

	assert.Equal(t, model.Coordinate{Lat: 0, Lng: 0}, m.Position(start.Add(-time.Second)))
	assert.Equal(t, model.Coordinate{Lat: 0, Lng: 5}, m.Position(start.Add(5*time.Second)))
	assert.Equal(t, model.Coordinate{Lat: 5, Lng: 10}, m.Position(start.Add(15*time.Second)))
	assert.Equal(t, model.Coordinate{Lat: 10, Lng: 10}, m.Position(start.Add(time.Hour)), "parks on last waypoint")

	m.Loop = true
	// Third leg returns from the last waypoint to the first.
	assert.Equal(t, model.Coordinate{Lat: 5, Lng: 5}, m.Position(start.Add(25*time.Second)))
	assert.Equal(t, model.Coordinate{Lat: 0, Lng: 5}, m.Position(start.Add(35*time.Second)))
}

func TestSimulatedSource_TicksDeliverSamples(t *testing.T) {
	clock := timectrl.NewTimeController(time.Unix(0, 0), time.Second, timectrl.Accelerated)
	motion := WaypointMotion{
		Start:     time.Unix(0, 0),
		Waypoints: []model.Coordinate{{Lat: 0, Lng: 0}, {Lat: 0, Lng: 4}},
		Leg:       4 * time.Second,
	}
	s := NewSimulatedSource(clock, motion)

	c, err := s.CurrentPosition(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, model.Coordinate{Lat: 0, Lng: 0}, c)

	var got []model.Coordinate
	id, err := s.Watch(Options{}, func(c model.Coordinate) { got = append(got, c) }, nil)
	require.NoError(t, err)

	clock.Advance(time.Second)
	clock.Advance(time.Second)
	s.ClearWatch(id)
	clock.Advance(time.Second)

	assert.Equal(t, []model.Coordinate{{Lat: 0, Lng: 1}, {Lat: 0, Lng: 2}}, got)
}

func TestSimulatedSource_Fail(t *testing.T) {
	clock := timectrl.NewTimeController(time.Unix(0, 0), time.Second, timectrl.Accelerated)
	s := NewSimulatedSource(clock, StaticMotion{At: model.Coordinate{Lat: 1, Lng: 1}})

	var errs []error
	_, err := s.Watch(Options{}, func(model.Coordinate) { t.Fatal("unexpected sample") }, func(err error) { errs = append(errs, err) })
	require.NoError(t, err)

	s.Fail(model.ErrPositionUnavailable)
	clock.Advance(time.Second)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], model.ErrPositionUnavailable)

	_, err = s.CurrentPosition(context.Background(), Options{})
	assert.ErrorIs(t, err, model.ErrPositionUnavailable)
}
