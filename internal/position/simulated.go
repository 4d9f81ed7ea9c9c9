package position

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/signalsfoundry/geofence/model"
	"github.com/signalsfoundry/geofence/timectrl"
)

// SimulatedSource emits a sample from a Motion on every tick of a
// TimeController. One-shot requests compute the position at the controller's
// current time, so no sample is ever served from a cache.
type SimulatedSource struct {
	clock  *timectrl.TimeController
	motion Motion

	mu       sync.Mutex
	watchers map[WatchID]watcher
	removers map[WatchID]func()
	nextID   WatchID
	failure  error
}

// NewSimulatedSource binds motion to clock.
func NewSimulatedSource(clock *timectrl.TimeController, motion Motion) *SimulatedSource {
	return &SimulatedSource{
		clock:    clock,
		motion:   motion,
		watchers: make(map[WatchID]watcher),
		removers: make(map[WatchID]func()),
		nextID:   1,
	}
}

// Fail makes every later request and tick report err, simulating a device
// that lost its fix. Fail(nil) recovers.
func (s *SimulatedSource) Fail(err error) {
	s.mu.Lock()
	s.failure = err
	s.mu.Unlock()
}

// CurrentPosition returns the position at the controller's current time.
func (s *SimulatedSource) CurrentPosition(ctx context.Context, _ Options) (model.Coordinate, error) {
	if err := ctx.Err(); err != nil {
		return model.Coordinate{}, err
	}
	s.mu.Lock()
	failure := s.failure
	s.mu.Unlock()
	if failure != nil {
		return model.Coordinate{}, failure
	}
	return s.motion.Position(s.clock.Now()), nil
}

// Watch registers a tick listener on the controller.
func (s *SimulatedSource) Watch(_ Options, onSample func(model.Coordinate), onError func(error)) (WatchID, error) {
	if onSample == nil {
		return 0, fmt.Errorf("position: watch requires a sample callback")
	}

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = watcher{onSample: onSample, onError: onError}
	s.mu.Unlock()

	remove := s.clock.AddListener(func(now time.Time) { s.tick(id, now) })

	s.mu.Lock()
	if _, ok := s.watchers[id]; ok {
		s.removers[id] = remove
		remove = nil
	}
	s.mu.Unlock()
	if remove != nil {
		// Cleared before the listener was recorded.
		remove()
	}
	return id, nil
}

func (s *SimulatedSource) tick(id WatchID, now time.Time) {
	s.mu.Lock()
	w, ok := s.watchers[id]
	failure := s.failure
	s.mu.Unlock()
	if !ok {
		return
	}
	if failure != nil {
		if w.onError != nil {
			w.onError(failure)
		}
		return
	}
	w.onSample(s.motion.Position(now))
}

// ClearWatch removes the subscription and its tick listener.
func (s *SimulatedSource) ClearWatch(id WatchID) {
	s.mu.Lock()
	delete(s.watchers, id)
	remove := s.removers[id]
	delete(s.removers, id)
	s.mu.Unlock()
	if remove != nil {
		remove()
	}
}
