// Package drawing turns a polygon drawn on the map into a new area once the
// user has named it.
package drawing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/signalsfoundry/geofence/core"
	"github.com/signalsfoundry/geofence/internal/logging"
	"github.com/signalsfoundry/geofence/model"
)

const tracerName = "github.com/signalsfoundry/geofence/internal/drawing"

// State is the capture state.
type State int

const (
	Inactive State = iota
	Drawing
	PendingMetadata
	// Committed holds while the registry add is in flight. It returns to
	// Inactive on success and to PendingMetadata on failure.
	Committed
)

func (s State) String() string {
	switch s {
	case Inactive:
		return "inactive"
	case Drawing:
		return "drawing"
	case PendingMetadata:
		return "pending_metadata"
	case Committed:
		return "committed"
	default:
		return "unknown"
	}
}

// ErrCaptureState is returned when an operation does not apply to the
// current state, including a cancel that lost the race against a commit.
var ErrCaptureState = errors.New("capture state does not allow this operation")

// Registry is the part of the area registry a capture writes to.
type Registry interface {
	Add(spec model.AreaSpec) (model.Area, error)
}

// Status is a point-in-time view of the capture.
type Status struct {
	State   string             `json:"state"`
	Pending []model.Coordinate `json:"pending,omitempty"`
	Last    *model.Area        `json:"lastCommitted,omitempty"`
}

// Capture is the drawing state machine. Commit and Cancel are mutually
// exclusive: whichever claims the pending boundary first wins.
type Capture struct {
	registry Registry
	log      logging.Logger

	mu      sync.Mutex
	state   State
	pending []model.Coordinate
	last    *model.Area
}

// NewCapture creates an inactive capture writing to registry.
func NewCapture(registry Registry, log logging.Logger) *Capture {
	return &Capture{registry: registry, log: logging.OrNoop(log)}
}

// State returns the current state.
func (c *Capture) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status returns the state together with the pending boundary.
func (c *Capture) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{State: c.state.String(), Pending: model.CloneBoundary(c.pending)}
	if c.last != nil {
		a := c.last.Clone()
		st.Last = &a
	}
	return st
}

// Begin enables drawing mode.
func (c *Capture) Begin() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case Inactive, Drawing:
		c.state = Drawing
		return nil
	default:
		return fmt.Errorf("%w: begin while %s", ErrCaptureState, c.state)
	}
}

// PolygonDrawn receives a finished drawing and holds it until Commit or
// Cancel. A new drawing replaces one still awaiting metadata. Invalid and
// self-intersecting boundaries are rejected and leave the state unchanged.
func (c *Capture) PolygonDrawn(boundary []model.Coordinate) error {
	if err := model.ValidateCoordinates(boundary); err != nil {
		return err
	}
	if !core.ValidBoundary(boundary) {
		return fmt.Errorf("%w: need at least %d vertices, got %d", model.ErrInvalidBoundary, model.MinBoundaryVertices, len(boundary))
	}
	if core.SelfIntersects(boundary) {
		return fmt.Errorf("%w: boundary crosses itself", model.ErrInvalidBoundary)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Committed {
		return fmt.Errorf("%w: commit in progress", ErrCaptureState)
	}
	c.pending = model.CloneBoundary(boundary)
	c.state = PendingMetadata
	return nil
}

// Commit names the pending boundary and adds it to the registry with default
// styling. A blank name keeps the capture pending.
func (c *Capture) Commit(ctx context.Context, name, description string) (model.Area, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "drawing.Commit")
	defer span.End()

	c.mu.Lock()
	if c.state != PendingMetadata {
		state := c.state
		c.mu.Unlock()
		return model.Area{}, fmt.Errorf("%w: commit while %s", ErrCaptureState, state)
	}
	if strings.TrimSpace(name) == "" {
		c.mu.Unlock()
		return model.Area{}, fmt.Errorf("%w: name is required", model.ErrValidation)
	}
	boundary := c.pending
	c.state = Committed
	c.mu.Unlock()

	area, err := c.registry.Add(model.AreaSpec{
		Name:        name,
		Description: description,
		Boundary:    boundary,
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.state = PendingMetadata
		span.RecordError(err)
		c.log.Warn(ctx, "drawn area rejected by registry", logging.Err(err))
		return model.Area{}, err
	}
	c.state = Inactive
	c.pending = nil
	last := area.Clone()
	c.last = &last

	span.SetAttributes(attribute.Int64("area.id", area.ID), attribute.String("area.name", area.Name))
	c.log.Info(ctx, "drawn area committed",
		logging.Int64("area_id", area.ID),
		logging.String("area", area.Name),
		logging.Int("vertices", len(area.Boundary)),
	)
	return area, nil
}

// Cancel discards the pending boundary without touching the registry. It
// fails with ErrCaptureState when a commit has already claimed it.
func (c *Capture) Cancel() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Committed {
		return fmt.Errorf("%w: commit in progress", ErrCaptureState)
	}
	c.state = Inactive
	c.pending = nil
	return nil
}
