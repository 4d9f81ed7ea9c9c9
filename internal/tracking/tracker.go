// Package tracking turns a position source into a stream of observations
// resolved against the area registry.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/signalsfoundry/geofence/internal/logging"
	"github.com/signalsfoundry/geofence/internal/position"
	"github.com/signalsfoundry/geofence/model"
	"github.com/signalsfoundry/geofence/timectrl"
)

// State is the tracker lifecycle state.
type State int

const (
	Idle State = iota
	Requesting
	Active
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Requesting:
		return "requesting"
	case Active:
		return "active"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// DefaultTimeout bounds the initial one-shot position request.
const DefaultTimeout = 5 * time.Second

// ErrTrackerFailed is returned by Start while a previous failure has not been
// cleared with ClearError.
var ErrTrackerFailed = errors.New("tracker failed")

// Resolver maps a coordinate to its containing area.
type Resolver interface {
	Locate(p model.Coordinate) (model.Area, uint64, bool)
}

// MetricsRecorder receives tracker measurements.
type MetricsRecorder interface {
	// ObserveSample counts a sample; result is inside, outside or invalid.
	ObserveSample(result string)
	// TrackerError counts a failure by error kind.
	TrackerError(kind model.ErrorKind)
}

// Option customises a Tracker.
type Option func(*Tracker)

// WithClock sets the clock used to timestamp observations.
func WithClock(c timectrl.Clock) Option {
	return func(t *Tracker) {
		if c != nil {
			t.clock = c
		}
	}
}

// WithLogger sets the tracker logger.
func WithLogger(l logging.Logger) Option {
	return func(t *Tracker) { t.log = logging.OrNoop(l) }
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(t *Tracker) { t.metrics = m }
}

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.timeout = d
		}
	}
}

// WithStateListener registers fn to be told about state changes. Calls are
// serialised and always carry the state current at the time of the call.
func WithStateListener(fn func(State)) Option {
	return func(t *Tracker) { t.onState = fn }
}

// Tracker owns at most one subscription to a position source and is the only
// writer of the latest observation.
type Tracker struct {
	source   position.Source
	resolver Resolver
	clock    timectrl.Clock
	log      logging.Logger
	metrics  MetricsRecorder
	timeout  time.Duration
	onState  func(State)

	mu        sync.Mutex
	state     State
	reason    model.ErrorKind
	sub       *Subscription
	latest    model.Observation
	hasLatest bool

	stateMu sync.Mutex
}

// New creates an idle tracker. A nil source makes every Start fail with
// model.ErrPositionUnsupported.
func New(source position.Source, resolver Resolver, opts ...Option) *Tracker {
	t := &Tracker{
		source:   source,
		resolver: resolver,
		clock:    timectrl.WallClock{},
		log:      logging.Noop(),
		timeout:  DefaultTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t
}

// State returns the current state and, when Failed, the failure reason.
func (t *Tracker) State() (State, model.ErrorKind) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state, t.reason
}

// Latest returns the most recent observation, including failed ones.
func (t *Tracker) Latest() (model.Observation, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.hasLatest {
		return model.Observation{}, false
	}
	return cloneObservation(t.latest), true
}

// Start begins tracking. It returns immediately; the initial request and the
// watch run on a dispatcher goroutine owned by the returned Subscription, and
// every callback is invoked from that goroutine.
//
// When tracking is already Requesting or Active the existing subscription is
// returned and the new callbacks are ignored. A Failed tracker refuses to
// start until ClearError is called. Cancelling ctx stops the subscription.
func (t *Tracker) Start(ctx context.Context, onSample func(model.Observation), onError func(error)) (*Subscription, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	t.mu.Lock()
	switch t.state {
	case Requesting, Active:
		sub := t.sub
		t.mu.Unlock()
		return sub, nil
	case Failed:
		reason := t.reason
		t.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrTrackerFailed, reason)
	}

	if t.source == nil {
		err := fmt.Errorf("%w: no position source configured", model.ErrPositionUnsupported)
		t.failLocked(nil, err)
		t.mu.Unlock()
		t.notifyState()
		if onError != nil {
			onError(err)
		}
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		t:        t,
		onSample: onSample,
		onError:  onError,
		events:   make(chan event, 16),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		cancel:   cancel,
	}
	t.sub = sub
	t.state = Requesting
	t.reason = model.ErrorKindNone
	t.mu.Unlock()
	t.notifyState()

	go sub.run(runCtx)
	return sub, nil
}

// ClearError moves a Failed tracker back to Idle so it can be restarted.
// It reports whether the tracker was Failed.
func (t *Tracker) ClearError() bool {
	t.mu.Lock()
	if t.state != Failed {
		t.mu.Unlock()
		return false
	}
	t.state = Idle
	t.reason = model.ErrorKindNone
	t.mu.Unlock()
	t.notifyState()
	return true
}

func (t *Tracker) options() position.Options {
	return position.Options{HighAccuracy: true, Timeout: t.timeout, MaximumAge: 0}
}

// publish resolves c and stores the observation. It returns false for
// coordinates that must be dropped.
func (t *Tracker) publish(ctx context.Context, s *Subscription, c model.Coordinate) (model.Observation, bool) {
	if !c.Valid() {
		t.log.Warn(ctx, "dropping invalid position sample",
			logging.Float("lat", c.Lat),
			logging.Float("lng", c.Lng),
		)
		if t.metrics != nil {
			t.metrics.ObserveSample("invalid")
		}
		return model.Observation{}, false
	}

	obs := model.Observation{Coordinate: c, Timestamp: t.clock.Now()}
	result := "outside"
	if t.resolver != nil {
		if area, _, ok := t.resolver.Locate(c); ok {
			obs.Area = &area
			result = "inside"
		}
	}

	t.mu.Lock()
	if t.sub != s {
		t.mu.Unlock()
		return model.Observation{}, false
	}
	promoted := t.state == Requesting
	t.state = Active
	t.latest, t.hasLatest = obs, true
	t.mu.Unlock()
	if promoted {
		t.notifyState()
	}

	if t.metrics != nil {
		t.metrics.ObserveSample(result)
	}
	return cloneObservation(obs), true
}

// failLocked records err as the failure of s. Callers hold t.mu.
func (t *Tracker) failLocked(s *Subscription, err error) model.ErrorKind {
	kind := model.PositionErrorKind(err)
	if kind == model.ErrorKindNone {
		kind = model.ErrorKindUnknown
	}
	if t.sub != s {
		return kind
	}
	t.sub = nil
	t.state = Failed
	t.reason = kind
	t.latest = model.Observation{Timestamp: t.clock.Now(), Err: kind}
	t.hasLatest = true
	if t.metrics != nil {
		t.metrics.TrackerError(kind)
	}
	return kind
}

// detach returns the tracker to Idle if s is still its subscription.
func (t *Tracker) detach(s *Subscription) {
	t.mu.Lock()
	if t.sub != s {
		t.mu.Unlock()
		return
	}
	t.sub = nil
	t.state = Idle
	t.mu.Unlock()
	t.notifyState()
}

func (t *Tracker) notifyState() {
	if t.onState == nil {
		return
	}
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	state, _ := t.State()
	t.onState(state)
}

func cloneObservation(o model.Observation) model.Observation {
	if o.Area != nil {
		a := o.Area.Clone()
		o.Area = &a
	}
	return o
}
