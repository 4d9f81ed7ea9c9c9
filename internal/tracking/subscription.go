package tracking

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/signalsfoundry/geofence/internal/logging"
	"github.com/signalsfoundry/geofence/internal/position"
	"github.com/signalsfoundry/geofence/model"
)

type event struct {
	coord model.Coordinate
	err   error
}

// Subscription is the handle of one tracking session.
type Subscription struct {
	t        *Tracker
	onSample func(model.Observation)
	onError  func(error)

	events chan event
	quit   chan struct{}
	done   chan struct{}
	cancel context.CancelFunc

	stopOnce sync.Once

	watchMu  sync.Mutex
	watchID  position.WatchID
	watching bool
}

// Stop cancels the subscription and waits for the dispatcher to exit. After
// Stop returns no callback of this subscription runs again. Stop is
// idempotent and safe for concurrent use, but it must not be called from
// inside the subscription's own callbacks: it would wait for itself.
func (s *Subscription) Stop() {
	if s == nil {
		return
	}
	s.stopOnce.Do(func() {
		close(s.quit)
		s.cancel()
	})
	<-s.done
}

// Done is closed once the subscription has ended, whether by Stop, context
// cancellation or failure.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

func (s *Subscription) stopping() bool {
	select {
	case <-s.quit:
		return true
	default:
		return false
	}
}

// enqueue hands a source callback to the dispatcher. It gives up once the
// subscription is stopping so a source is never blocked by a dead consumer.
func (s *Subscription) enqueue(ev event) {
	select {
	case s.events <- ev:
	case <-s.quit:
	case <-s.done:
	}
}

func (s *Subscription) run(ctx context.Context) {
	t := s.t
	defer close(s.done)
	defer s.clearWatch()

	opts := t.options()

	reqCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	c, err := t.source.CurrentPosition(reqCtx, opts)
	cancel()

	if s.stopping() || ctx.Err() != nil {
		t.detach(s)
		return
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: initial position request exceeded %s", model.ErrPositionTimeout, opts.Timeout)
		}
		s.fail(ctx, err)
		return
	}
	s.deliver(ctx, c)

	id, err := t.source.Watch(opts,
		func(c model.Coordinate) { s.enqueue(event{coord: c}) },
		func(err error) { s.enqueue(event{err: err}) },
	)
	if err != nil {
		s.fail(ctx, err)
		return
	}
	s.watchMu.Lock()
	s.watchID, s.watching = id, true
	s.watchMu.Unlock()

	for {
		select {
		case <-s.quit:
			t.detach(s)
			return
		case <-ctx.Done():
			t.detach(s)
			return
		case ev := <-s.events:
			if s.stopping() {
				t.detach(s)
				return
			}
			if ev.err != nil {
				s.fail(ctx, ev.err)
				return
			}
			s.deliver(ctx, ev.coord)
		}
	}
}

func (s *Subscription) deliver(ctx context.Context, c model.Coordinate) {
	obs, ok := s.t.publish(ctx, s, c)
	if !ok || s.onSample == nil || s.stopping() {
		return
	}
	s.onSample(obs)
}

func (s *Subscription) fail(ctx context.Context, err error) {
	t := s.t
	t.mu.Lock()
	kind := t.failLocked(s, err)
	t.mu.Unlock()
	t.notifyState()

	t.log.Warn(ctx, "position tracking failed",
		logging.String("reason", string(kind)),
		logging.Err(err),
	)
	if s.onError != nil && !s.stopping() {
		s.onError(err)
	}
}

func (s *Subscription) clearWatch() {
	s.watchMu.Lock()
	id, ok := s.watchID, s.watching
	s.watching = false
	s.watchMu.Unlock()
	if ok {
		s.t.source.ClearWatch(id)
	}
}
