package model

import "strings"

// Default display attributes applied when an area omits its own colours.
const (
	DefaultStrokeColor = "#0000FF"
	DefaultFillColor   = "#AAAADD"
)

// MinBoundaryVertices is the smallest vertex count of a usable polygon.
const MinBoundaryVertices = 3

// Area is a named polygonal department boundary.
//
// Boundary is an ordered ring; it does not need to repeat its first vertex.
// Revision starts at 1 and increases on every update so projections can tell
// a changed area from an untouched one.
type Area struct {
	ID          int64        `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Boundary    []Coordinate `json:"boundary"`
	StrokeColor string       `json:"strokeColor"`
	FillColor   string       `json:"fillColor"`
	Devices     []string     `json:"devices,omitempty"`
	Revision    uint64       `json:"revision"`
}

// HasValidBoundary reports whether the area takes part in containment and
// rendering. Areas with an invalid boundary stay in the registry as data.
func (a Area) HasValidBoundary() bool {
	if len(a.Boundary) < MinBoundaryVertices {
		return false
	}
	for _, c := range a.Boundary {
		if !c.Valid() {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of a.
func (a Area) Clone() Area {
	out := a
	out.Boundary = CloneBoundary(a.Boundary)
	if a.Devices != nil {
		out.Devices = append([]string(nil), a.Devices...)
	}
	return out
}

// AreaSpec carries the caller-supplied fields of a new area. The registry
// assigns ID and Revision.
type AreaSpec struct {
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Boundary    []Coordinate `json:"boundary"`
	StrokeColor string       `json:"strokeColor,omitempty"`
	FillColor   string       `json:"fillColor,omitempty"`
	Devices     []string     `json:"devices,omitempty"`
}

// AreaPatch lists the fields an update replaces. Nil fields are left as is.
type AreaPatch struct {
	Name        *string       `json:"name,omitempty"`
	Description *string       `json:"description,omitempty"`
	Boundary    *[]Coordinate `json:"boundary,omitempty"`
	StrokeColor *string       `json:"strokeColor,omitempty"`
	FillColor   *string       `json:"fillColor,omitempty"`
	Devices     *[]string     `json:"devices,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p AreaPatch) Empty() bool {
	return p.Name == nil && p.Description == nil && p.Boundary == nil &&
		p.StrokeColor == nil && p.FillColor == nil && p.Devices == nil
}

// NewArea builds an Area from spec with default styling filled in.
func NewArea(id int64, spec AreaSpec) Area {
	a := Area{
		ID:          id,
		Name:        strings.TrimSpace(spec.Name),
		Description: spec.Description,
		Boundary:    CloneBoundary(spec.Boundary),
		StrokeColor: spec.StrokeColor,
		FillColor:   spec.FillColor,
		Revision:    1,
	}
	if spec.Devices != nil {
		a.Devices = append([]string(nil), spec.Devices...)
	}
	a.applyStyleDefaults()
	return a
}

// Apply returns a copy of a with the patch applied and its revision bumped.
func (a Area) Apply(p AreaPatch) Area {
	out := a.Clone()
	if p.Name != nil {
		out.Name = strings.TrimSpace(*p.Name)
	}
	if p.Description != nil {
		out.Description = *p.Description
	}
	if p.Boundary != nil {
		out.Boundary = CloneBoundary(*p.Boundary)
	}
	if p.StrokeColor != nil {
		out.StrokeColor = *p.StrokeColor
	}
	if p.FillColor != nil {
		out.FillColor = *p.FillColor
	}
	if p.Devices != nil {
		out.Devices = append([]string(nil), (*p.Devices)...)
	}
	out.applyStyleDefaults()
	out.Revision++
	return out
}

func (a *Area) applyStyleDefaults() {
	if strings.TrimSpace(a.StrokeColor) == "" {
		a.StrokeColor = DefaultStrokeColor
	}
	if strings.TrimSpace(a.FillColor) == "" {
		a.FillColor = DefaultFillColor
	}
}
