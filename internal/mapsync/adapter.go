package mapsync

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/signalsfoundry/geofence/core"
	"github.com/signalsfoundry/geofence/internal/logging"
	"github.com/signalsfoundry/geofence/model"
)

const tracerName = "github.com/signalsfoundry/geofence/internal/mapsync"

// Resolver maps a coordinate to its containing area.
type Resolver interface {
	Locate(p model.Coordinate) (model.Area, uint64, bool)
}

// MetricsRecorder receives reconciliation measurements.
type MetricsRecorder interface {
	// OverlayFailure counts a surface call that failed; op is draw_polygon,
	// draw_marker, remove or fit_bounds.
	OverlayFailure(op string)
	ObserveSync(d time.Duration)
}

// Option customises an Adapter.
type Option func(*Adapter)

// WithLogger sets the adapter logger.
func WithLogger(l logging.Logger) Option {
	return func(a *Adapter) { a.log = logging.OrNoop(l) }
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(a *Adapter) { a.metrics = m }
}

// SyncReport summarises one reconciliation pass.
type SyncReport struct {
	Version uint64  `json:"version"`
	Skipped bool    `json:"skipped"`
	Drawn   []int64 `json:"drawn,omitempty"`
	Removed []int64 `json:"removed,omitempty"`
	Failed  []int64 `json:"failed,omitempty"`
	Fitted  bool    `json:"fitted"`
}

// ProbeResult is the outcome of a click probe.
type ProbeResult struct {
	Coordinate model.Coordinate `json:"coordinate"`
	Area       *model.Area      `json:"area,omitempty"`
}

// Status describes what the adapter currently has on the surface.
type Status struct {
	Version  uint64            `json:"version"`
	Areas    map[int64]Handle  `json:"areas"`
	Markers  map[string]Handle `json:"markers"`
	Selected int64             `json:"selected,omitempty"`
}

type overlay struct {
	handle   Handle
	revision uint64
}

// Adapter reconciles registry snapshots and markers against a Surface.
// All surface calls are serialised by one mutex.
type Adapter struct {
	surface  Surface
	resolver Resolver
	log      logging.Logger
	metrics  MetricsRecorder

	mu       sync.Mutex
	synced   bool
	snap     *core.AreaSnapshot
	areas    map[int64]overlay
	markers  map[string]Handle
	selected int64
}

// NewAdapter creates an adapter drawing on surface. resolver backs click
// probes and may be nil when probes are not used.
func NewAdapter(surface Surface, resolver Resolver, opts ...Option) *Adapter {
	a := &Adapter{
		surface:  surface,
		resolver: resolver,
		log:      logging.Noop(),
		areas:    make(map[int64]overlay),
		markers:  make(map[string]Handle),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// Follow syncs the current registry contents and then every change. The
// returned function stops following.
func (a *Adapter) Follow(reg *core.AreaRegistry) (stop func()) {
	unsubscribe := reg.Subscribe(func(c core.AreaChange) {
		a.Sync(context.Background(), c.Snapshot)
	})
	a.Sync(context.Background(), reg.Snapshot())
	return unsubscribe
}

// Attach forwards surface interactions: clicks become probes and finished
// drawings go to onDrawn.
func (a *Adapter) Attach(events EventSource, onDrawn func([]model.Coordinate)) {
	if events == nil {
		return
	}
	events.OnMapClicked(func(at model.Coordinate) {
		if _, err := a.Probe(context.Background(), at); err != nil {
			a.log.Debug(context.Background(), "ignoring click", logging.Err(err))
		}
	})
	if onDrawn != nil {
		events.OnPolygonDrawn(onDrawn)
	}
}

// Sync reconciles the surface with snap. Overlays of areas that vanished,
// changed revision or lost a valid boundary are removed; new and changed
// valid areas are drawn; the view is fitted to all valid areas. A failure on
// one area is logged and counted without stopping the pass. Snapshots older
// than the last one synced are ignored.
func (a *Adapter) Sync(ctx context.Context, snap *core.AreaSnapshot) SyncReport {
	if snap == nil {
		return SyncReport{Skipped: true}
	}
	ctx, span := otel.Tracer(tracerName).Start(ctx, "mapsync.Sync")
	defer span.End()
	start := time.Now()

	a.mu.Lock()
	defer a.mu.Unlock()

	report := SyncReport{Version: snap.Version}
	if a.synced && snap.Version < a.snap.Version {
		report.Skipped = true
		span.SetAttributes(attribute.Bool("mapsync.skipped", true))
		return report
	}

	present := make(map[int64]model.Area, len(snap.Areas))
	for _, area := range snap.Areas {
		present[area.ID] = area
	}

	for _, id := range sortedIDs(a.areas) {
		ov := a.areas[id]
		area, ok := present[id]
		if ok && area.Revision == ov.revision && area.HasValidBoundary() {
			continue
		}
		delete(a.areas, id)
		report.Removed = append(report.Removed, id)
		if err := a.surface.RemoveOverlay(ctx, ov.handle); err != nil {
			a.failure(ctx, "remove", err, logging.Int64("area_id", id))
		}
	}

	var boundaries [][]model.Coordinate
	for _, area := range snap.Areas {
		if !area.HasValidBoundary() {
			continue
		}
		boundaries = append(boundaries, area.Boundary)
		if _, ok := a.areas[area.ID]; ok {
			continue
		}
		h, err := a.surface.DrawPolygon(ctx, area.Boundary, AreaStyle(area))
		if err != nil {
			report.Failed = append(report.Failed, area.ID)
			a.failure(ctx, "draw_polygon", err, logging.Int64("area_id", area.ID), logging.String("area", area.Name))
			continue
		}
		a.areas[area.ID] = overlay{handle: h, revision: area.Revision}
		report.Drawn = append(report.Drawn, area.ID)
	}

	if a.selected != 0 {
		if _, ok := present[a.selected]; !ok {
			a.selected = 0
		}
	}

	if len(boundaries) > 0 {
		if err := a.surface.FitBounds(ctx, boundaries); err != nil {
			a.failure(ctx, "fit_bounds", err)
		} else {
			report.Fitted = true
		}
	}

	a.snap, a.synced = snap, true

	span.SetAttributes(
		attribute.Int64("mapsync.version", int64(snap.Version)),
		attribute.Int("mapsync.drawn", len(report.Drawn)),
		attribute.Int("mapsync.removed", len(report.Removed)),
		attribute.Int("mapsync.failed", len(report.Failed)),
	)
	if a.metrics != nil {
		a.metrics.ObserveSync(time.Since(start))
	}
	return report
}

// Select fits the view to one area. The selection is dropped when that area
// is removed from the registry.
func (a *Adapter) Select(ctx context.Context, id int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	area, ok := a.snap.Find(id)
	if !ok {
		return fmt.Errorf("%w: %d", model.ErrUnknownAreaID, id)
	}
	if !area.HasValidBoundary() {
		return fmt.Errorf("%w: area %d", model.ErrInvalidBoundary, id)
	}
	if err := a.surface.FitBounds(ctx, [][]model.Coordinate{area.Boundary}); err != nil {
		a.failure(ctx, "fit_bounds", err, logging.Int64("area_id", id))
		return err
	}
	a.selected = id
	return nil
}

// Selected returns the selected area id, if any.
func (a *Adapter) Selected() (int64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.selected, a.selected != 0
}

// Probe resolves a clicked point and moves the last-click marker there.
func (a *Adapter) Probe(ctx context.Context, at model.Coordinate) (ProbeResult, error) {
	if !at.Valid() {
		return ProbeResult{}, fmt.Errorf("%w: %s", model.ErrInvalidCoordinate, at)
	}
	res := ProbeResult{Coordinate: at}
	label := "outside"
	if a.resolver != nil {
		if area, _, ok := a.resolver.Locate(at); ok {
			res.Area = &area
			label = area.Name
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.placeMarker(ctx, string(MarkerLastClick), at, MarkerStyle{Kind: MarkerLastClick, Label: label})
	return res, nil
}

// ShowObservation moves the current-location marker to obs, or removes it
// when obs carries an error.
func (a *Adapter) ShowObservation(ctx context.Context, obs model.Observation) {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := string(MarkerCurrentLocation)
	if obs.Err != model.ErrorKindNone || !obs.Coordinate.Valid() {
		a.removeMarker(ctx, key)
		return
	}
	label := "outside"
	if obs.Area != nil {
		label = obs.Area.Name
	}
	a.placeMarker(ctx, key, obs.Coordinate, MarkerStyle{Kind: MarkerCurrentLocation, Label: label})
}

// ShowRegistration adds a marker for an accepted registration.
func (a *Adapter) ShowRegistration(ctx context.Context, reg model.Registration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	key := string(MarkerRegistration) + ":" + reg.ID.String()
	a.placeMarker(ctx, key, reg.Coordinate, MarkerStyle{Kind: MarkerRegistration, Label: reg.Name})
}

// Status reports the overlays currently tracked.
func (a *Adapter) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	st := Status{
		Areas:    make(map[int64]Handle, len(a.areas)),
		Markers:  make(map[string]Handle, len(a.markers)),
		Selected: a.selected,
	}
	if a.snap != nil {
		st.Version = a.snap.Version
	}
	for id, ov := range a.areas {
		st.Areas[id] = ov.handle
	}
	for k, h := range a.markers {
		st.Markers[k] = h
	}
	return st
}

func (a *Adapter) placeMarker(ctx context.Context, key string, at model.Coordinate, style MarkerStyle) {
	a.removeMarker(ctx, key)
	h, err := a.surface.DrawMarker(ctx, at, style)
	if err != nil {
		a.failure(ctx, "draw_marker", err, logging.String("marker", key))
		return
	}
	a.markers[key] = h
}

func (a *Adapter) removeMarker(ctx context.Context, key string) {
	h, ok := a.markers[key]
	if !ok {
		return
	}
	delete(a.markers, key)
	if err := a.surface.RemoveOverlay(ctx, h); err != nil {
		a.failure(ctx, "remove", err, logging.String("marker", key))
	}
}

func (a *Adapter) failure(ctx context.Context, op string, err error, fields ...logging.Field) {
	fields = append(fields, logging.String("op", op), logging.Err(err))
	a.log.Warn(ctx, "surface call failed", fields...)
	if a.metrics != nil {
		a.metrics.OverlayFailure(op)
	}
}

func sortedIDs(m map[int64]overlay) []int64 {
	ids := make([]int64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
