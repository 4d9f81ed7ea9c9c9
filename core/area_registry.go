package core

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/signalsfoundry/geofence/model"
)

// ChangeKind identifies what happened to an area.
type ChangeKind int

const (
	AreaAdded ChangeKind = iota
	AreaUpdated
	AreaRemoved
)

func (k ChangeKind) String() string {
	switch k {
	case AreaAdded:
		return "added"
	case AreaUpdated:
		return "updated"
	case AreaRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// AreaChange is delivered to subscribers after every successful mutation.
// Area is the added or updated value, or the last value of a removed area.
type AreaChange struct {
	Kind     ChangeKind
	Area     model.Area
	Snapshot *AreaSnapshot
}

// AreaSnapshot is one immutable version of the registry contents.
//
// The Areas slice and everything it points to are shared between readers;
// callers MUST treat them as read-only. Use AreaRegistry.List for a copy
// that may be modified.
type AreaSnapshot struct {
	Version uint64
	Areas   []model.Area
}

// Find returns the area with the given id in this snapshot.
func (s *AreaSnapshot) Find(id int64) (model.Area, bool) {
	if s == nil {
		return model.Area{}, false
	}
	for _, a := range s.Areas {
		if a.ID == id {
			return a, true
		}
	}
	return model.Area{}, false
}

// AreaMetricsRecorder receives area counts after each mutation.
type AreaMetricsRecorder interface {
	SetAreaCounts(total, inert int)
}

// AreaRegistryOption customises AreaRegistry construction.
type AreaRegistryOption func(*AreaRegistry)

// WithAreaMetrics attaches a recorder for area gauges.
func WithAreaMetrics(m AreaMetricsRecorder) AreaRegistryOption {
	return func(r *AreaRegistry) {
		r.metrics = m
	}
}

// AreaRegistry is the authoritative ordered collection of department areas.
//
// Writers are serialised by mu and publish a fresh AreaSnapshot on every
// change; readers load the current snapshot without locking, so a resolver
// evaluating a sample never sees a half-applied edit.
//
// Subscribers run after the write lock is released, one change at a time and
// in version order. A subscriber must not mutate the registry from inside
// its callback.
type AreaRegistry struct {
	mu       sync.Mutex
	notifyMu sync.Mutex

	current atomic.Pointer[AreaSnapshot]

	subs    map[int]func(AreaChange)
	nextSub int

	metrics AreaMetricsRecorder
}

// NewAreaRegistry creates an empty registry.
func NewAreaRegistry(opts ...AreaRegistryOption) *AreaRegistry {
	r := &AreaRegistry{subs: make(map[int]func(AreaChange))}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	r.current.Store(&AreaSnapshot{})
	r.recordCounts(r.current.Load())
	return r
}

// Snapshot returns the current immutable version of the registry.
func (r *AreaRegistry) Snapshot() *AreaSnapshot {
	return r.current.Load()
}

// List returns a deep copy of all areas in insertion order.
func (r *AreaRegistry) List() []model.Area {
	snap := r.current.Load()
	out := make([]model.Area, len(snap.Areas))
	for i, a := range snap.Areas {
		out[i] = a.Clone()
	}
	return out
}

// Get returns a copy of the area with the given id.
func (r *AreaRegistry) Get(id int64) (model.Area, bool) {
	a, ok := r.current.Load().Find(id)
	if !ok {
		return model.Area{}, false
	}
	return a.Clone(), true
}

// Add appends a new area. Its ID is one more than the largest existing ID,
// or 1 for an empty registry.
//
// The boundary may be shorter than a polygon (the area is then inert) but
// every vertex must be finite.
func (r *AreaRegistry) Add(spec model.AreaSpec) (model.Area, error) {
	if strings.TrimSpace(spec.Name) == "" {
		return model.Area{}, fmt.Errorf("%w: name is required", model.ErrValidation)
	}
	if err := model.ValidateCoordinates(spec.Boundary); err != nil {
		return model.Area{}, err
	}

	r.mu.Lock()
	prev := r.current.Load()

	var maxID int64
	for _, a := range prev.Areas {
		if a.ID > maxID {
			maxID = a.ID
		}
	}
	area := model.NewArea(maxID+1, spec)

	areas := make([]model.Area, len(prev.Areas), len(prev.Areas)+1)
	copy(areas, prev.Areas)
	areas = append(areas, area)

	next, subs := r.publishLocked(prev, areas)
	r.notify(subs, AreaChange{Kind: AreaAdded, Area: area.Clone(), Snapshot: next})
	return area.Clone(), nil
}

// Update replaces the fields set in patch on the area with the given id.
// It returns model.ErrUnknownAreaID if no such area exists.
func (r *AreaRegistry) Update(id int64, patch model.AreaPatch) (model.Area, error) {
	if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
		return model.Area{}, fmt.Errorf("%w: name must not be empty", model.ErrValidation)
	}
	if patch.Boundary != nil {
		if err := model.ValidateCoordinates(*patch.Boundary); err != nil {
			return model.Area{}, err
		}
	}

	r.mu.Lock()
	prev := r.current.Load()

	idx := indexOf(prev.Areas, id)
	if idx < 0 {
		r.mu.Unlock()
		return model.Area{}, fmt.Errorf("%w: %d", model.ErrUnknownAreaID, id)
	}

	updated := prev.Areas[idx].Apply(patch)
	areas := make([]model.Area, len(prev.Areas))
	copy(areas, prev.Areas)
	areas[idx] = updated

	next, subs := r.publishLocked(prev, areas)
	r.notify(subs, AreaChange{Kind: AreaUpdated, Area: updated.Clone(), Snapshot: next})
	return updated.Clone(), nil
}

// Remove deletes the area with the given id. It returns
// model.ErrUnknownAreaID if no such area exists.
func (r *AreaRegistry) Remove(id int64) error {
	r.mu.Lock()
	prev := r.current.Load()

	idx := indexOf(prev.Areas, id)
	if idx < 0 {
		r.mu.Unlock()
		return fmt.Errorf("%w: %d", model.ErrUnknownAreaID, id)
	}

	removed := prev.Areas[idx]
	areas := make([]model.Area, 0, len(prev.Areas)-1)
	areas = append(areas, prev.Areas[:idx]...)
	areas = append(areas, prev.Areas[idx+1:]...)

	next, subs := r.publishLocked(prev, areas)
	r.notify(subs, AreaChange{Kind: AreaRemoved, Area: removed.Clone(), Snapshot: next})
	return nil
}

// Subscribe registers fn for change notifications and returns a function
// that removes it.
func (r *AreaRegistry) Subscribe(fn func(AreaChange)) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextSub
	r.nextSub++
	r.subs[id] = fn

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.subs, id)
	}
}

// publishLocked stores the new snapshot, captures the subscriber list and
// hands the notification lock to the caller before releasing mu, which keeps
// deliveries in version order. Callers must hold mu and must call notify
// afterwards.
func (r *AreaRegistry) publishLocked(prev *AreaSnapshot, areas []model.Area) (*AreaSnapshot, []func(AreaChange)) {
	next := &AreaSnapshot{Version: prev.Version + 1, Areas: areas}
	r.current.Store(next)
	r.recordCounts(next)

	subs := make([]func(AreaChange), 0, len(r.subs))
	for id := 0; id < r.nextSub; id++ {
		if fn, ok := r.subs[id]; ok {
			subs = append(subs, fn)
		}
	}

	r.notifyMu.Lock()
	r.mu.Unlock()
	return next, subs
}

// notify fans the change out to subscribers and releases notifyMu.
func (r *AreaRegistry) notify(subs []func(AreaChange), change AreaChange) {
	defer r.notifyMu.Unlock()
	for _, fn := range subs {
		fn(change)
	}
}

func (r *AreaRegistry) recordCounts(snap *AreaSnapshot) {
	if r.metrics == nil {
		return
	}
	inert := 0
	for _, a := range snap.Areas {
		if !a.HasValidBoundary() {
			inert++
		}
	}
	r.metrics.SetAreaCounts(len(snap.Areas), inert)
}

func indexOf(areas []model.Area, id int64) int {
	for i, a := range areas {
		if a.ID == id {
			return i
		}
	}
	return -1
}
