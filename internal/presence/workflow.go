// Package presence gates presence registrations on the latest tracked
// observation: a person can only register while inside a department area.
package presence

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/signalsfoundry/geofence/internal/logging"
	"github.com/signalsfoundry/geofence/model"
	"github.com/signalsfoundry/geofence/timectrl"
)

const tracerName = "github.com/signalsfoundry/geofence/internal/presence"

// DefaultMaxObservationAge is how old an observation may be and still gate a
// registration.
const DefaultMaxObservationAge = 30 * time.Second

// State is the registration workflow state.
type State int

const (
	Blocked State = iota
	Eligible
	AwaitingInput
	Committed
)

func (s State) String() string {
	switch s {
	case Blocked:
		return "blocked"
	case Eligible:
		return "eligible"
	case AwaitingInput:
		return "awaiting_input"
	case Committed:
		return "committed"
	default:
		return "unknown"
	}
}

// MetricsRecorder counts registration attempts by outcome: committed,
// not_eligible or invalid.
type MetricsRecorder interface {
	RecordRegistration(outcome string)
}

// Option customises a Workflow.
type Option func(*Workflow)

// WithClock sets the clock used for staleness checks and timestamps.
func WithClock(c timectrl.Clock) Option {
	return func(w *Workflow) {
		if c != nil {
			w.clock = c
		}
	}
}

// WithMaxObservationAge overrides DefaultMaxObservationAge. A non-positive
// value disables the staleness check.
func WithMaxObservationAge(d time.Duration) Option {
	return func(w *Workflow) { w.maxAge = d }
}

// WithLogger sets the workflow logger.
func WithLogger(l logging.Logger) Option {
	return func(w *Workflow) { w.log = logging.OrNoop(l) }
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(w *Workflow) { w.metrics = m }
}

// WithCommitHook registers fn to run after every accepted registration,
// outside the workflow lock.
func WithCommitHook(fn func(model.Registration)) Option {
	return func(w *Workflow) { w.onCommit = fn }
}

// Workflow is the registration state machine. It only reads observations;
// the tracker remains their sole producer.
type Workflow struct {
	clock    timectrl.Clock
	maxAge   time.Duration
	log      logging.Logger
	metrics  MetricsRecorder
	onCommit func(model.Registration)
	entries  *Log

	mu        sync.Mutex
	state     State
	latest    model.Observation
	hasLatest bool
}

// NewWorkflow creates a Blocked workflow that appends to log.
func NewWorkflow(log *Log, opts ...Option) *Workflow {
	if log == nil {
		log = NewLog()
	}
	w := &Workflow{
		clock:   timectrl.WallClock{},
		maxAge:  DefaultMaxObservationAge,
		log:     logging.Noop(),
		entries: log,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w
}

// Log returns the registration log the workflow appends to.
func (w *Workflow) Log() *Log { return w.entries }

// Observe feeds the latest observation. An open form is closed the moment the
// point leaves every area.
func (w *Workflow) Observe(obs model.Observation) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.latest, w.hasLatest = obs, true

	ok := w.eligible(obs, w.clock.Now())
	switch {
	case !ok:
		w.state = Blocked
	case w.state == AwaitingInput:
	default:
		w.state = Eligible
	}
}

// State returns the current state, demoting to Blocked when the latest
// observation has gone stale.
func (w *Workflow) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.currentLocked()
}

func (w *Workflow) currentLocked() State {
	if (w.state == Eligible || w.state == AwaitingInput) && !w.latestEligible() {
		w.state = Blocked
	}
	return w.state
}

// CanRegister reports whether the latest observation is fresh and inside an
// area.
func (w *Workflow) CanRegister() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.latestEligible()
}

// Latest returns the observation the workflow currently gates on.
func (w *Workflow) Latest() (model.Observation, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.latest, w.hasLatest
}

// Begin opens the registration form.
func (w *Workflow) Begin() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.latestEligible() {
		w.state = Blocked
		return fmt.Errorf("%w: no current observation inside an area", model.ErrNotEligible)
	}
	w.state = AwaitingInput
	return nil
}

// Cancel closes an open form without registering.
func (w *Workflow) Cancel() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != AwaitingInput {
		return
	}
	if w.latestEligible() {
		w.state = Eligible
	} else {
		w.state = Blocked
	}
}

// Submit registers name at the area of obs. Eligibility is checked again
// here, against obs and against anything newer the workflow has observed, so
// a stale form cannot register someone who has since walked out.
//
// On success the area name and coordinate are copied from obs; later edits
// to the area do not change the registration.
func (w *Workflow) Submit(ctx context.Context, name string, obs model.Observation) (model.Registration, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "presence.Submit")
	defer span.End()

	reg, outcome, err := w.submit(name, obs)
	if w.metrics != nil {
		w.metrics.RecordRegistration(outcome)
	}
	span.SetAttributes(attribute.String("presence.outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		w.log.Info(ctx, "registration rejected", logging.String("outcome", outcome), logging.Err(err))
		return model.Registration{}, err
	}

	span.SetAttributes(
		attribute.String("presence.registration_id", reg.ID.String()),
		attribute.Int64("presence.area_id", reg.AreaID),
	)
	w.log.Info(ctx, "registration accepted",
		logging.String("id", reg.ID.String()),
		logging.String("area", reg.AreaName),
	)
	if w.onCommit != nil {
		w.onCommit(reg)
	}
	return reg, nil
}

func (w *Workflow) submit(name string, obs model.Observation) (model.Registration, string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.clock.Now()
	if !w.eligible(obs, now) {
		return model.Registration{}, "not_eligible", fmt.Errorf("%w: observation is not inside a current area", model.ErrNotEligible)
	}
	if w.hasLatest && w.latest.Timestamp.After(obs.Timestamp) && !w.eligible(w.latest, now) {
		return model.Registration{}, "not_eligible", fmt.Errorf("%w: a newer observation is outside every area", model.ErrNotEligible)
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return model.Registration{}, "invalid", fmt.Errorf("%w: name is required", model.ErrValidation)
	}

	reg := model.Registration{
		ID:         uuid.New(),
		Name:       name,
		Coordinate: obs.Coordinate,
		AreaID:     obs.Area.ID,
		AreaName:   obs.Area.Name,
		Timestamp:  now,
	}
	w.entries.append(reg)
	w.state = Committed
	return reg, "committed", nil
}

func (w *Workflow) latestEligible() bool {
	return w.hasLatest && w.eligible(w.latest, w.clock.Now())
}

func (w *Workflow) eligible(obs model.Observation, now time.Time) bool {
	return obs.Inside() && obs.Coordinate.Valid() && obs.Fresh(now, w.maxAge)
}
