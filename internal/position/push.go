package position

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/signalsfoundry/geofence/model"
	"github.com/signalsfoundry/geofence/timectrl"
)

type reading struct {
	coord model.Coordinate
	err   error
}

// PushSource is a Source fed externally, typically by a device posting its
// fixes to the HTTP API. Every pushed sample or error is fanned out to all
// open watches and to pending one-shot requests.
type PushSource struct {
	clock timectrl.Clock

	mu       sync.Mutex
	watchers map[WatchID]watcher
	nextID   WatchID
	waiters  []chan reading
	last     model.Coordinate
	lastAt   time.Time
}

// NewPushSource creates an empty push source. A nil clock uses wall time.
func NewPushSource(clock timectrl.Clock) *PushSource {
	if clock == nil {
		clock = timectrl.WallClock{}
	}
	return &PushSource{
		clock:    clock,
		watchers: make(map[WatchID]watcher),
		nextID:   1,
	}
}

// Push delivers a sample. Invalid coordinates are forwarded as-is; the
// tracker is responsible for dropping them.
func (s *PushSource) Push(c model.Coordinate) {
	s.mu.Lock()
	if c.Valid() {
		s.last, s.lastAt = c, s.clock.Now()
	}
	ws, waiters := s.drainLocked()
	s.mu.Unlock()

	for _, ch := range waiters {
		ch <- reading{coord: c}
	}
	for _, w := range ws {
		w.onSample(c)
	}
}

// PushError reports a source failure to every open watch and pending request.
func (s *PushSource) PushError(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	ws, waiters := s.drainLocked()
	s.mu.Unlock()

	for _, ch := range waiters {
		ch <- reading{err: err}
	}
	for _, w := range ws {
		if w.onError != nil {
			w.onError(err)
		}
	}
}

func (s *PushSource) drainLocked() ([]watcher, []chan reading) {
	ws := make([]watcher, 0, len(s.watchers))
	for id := WatchID(1); id < s.nextID; id++ {
		if w, ok := s.watchers[id]; ok {
			ws = append(ws, w)
		}
	}
	waiters := s.waiters
	s.waiters = nil
	return ws, waiters
}

// CurrentPosition returns a cached sample only when opts.MaximumAge allows
// it; otherwise it waits for the next push, up to opts.Timeout.
func (s *PushSource) CurrentPosition(ctx context.Context, opts Options) (model.Coordinate, error) {
	ch := make(chan reading, 1)

	s.mu.Lock()
	if opts.MaximumAge > 0 && !s.lastAt.IsZero() && s.clock.Now().Sub(s.lastAt) <= opts.MaximumAge {
		c := s.last
		s.mu.Unlock()
		return c, nil
	}
	s.waiters = append(s.waiters, ch)
	s.mu.Unlock()

	var timeout <-chan time.Time
	if opts.Timeout > 0 {
		timer := time.NewTimer(opts.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case r := <-ch:
		return r.coord, r.err
	case <-timeout:
		s.dropWaiter(ch)
		return model.Coordinate{}, fmt.Errorf("%w: no sample within %s", model.ErrPositionTimeout, opts.Timeout)
	case <-ctx.Done():
		s.dropWaiter(ch)
		return model.Coordinate{}, ctx.Err()
	}
}

func (s *PushSource) dropWaiter(ch chan reading) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, w := range s.waiters {
		if w == ch {
			s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
			return
		}
	}
}

// Watch registers a continuous subscription.
func (s *PushSource) Watch(_ Options, onSample func(model.Coordinate), onError func(error)) (WatchID, error) {
	if onSample == nil {
		return 0, fmt.Errorf("position: watch requires a sample callback")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = watcher{onSample: onSample, onError: onError}
	return id, nil
}

// ClearWatch removes a subscription.
func (s *PushSource) ClearWatch(id WatchID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.watchers, id)
}

// Watchers returns the number of open watches.
func (s *PushSource) Watchers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watchers)
}
