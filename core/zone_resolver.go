package core

import "github.com/signalsfoundry/geofence/model"

// Resolve returns the first area, in list order, whose valid boundary
// contains p. Overlapping areas are not disambiguated further: the earlier
// area wins. Invalid points and inert areas simply never match.
func Resolve(p model.Coordinate, areas []model.Area) (model.Area, bool) {
	if !p.Valid() {
		return model.Area{}, false
	}
	for _, a := range areas {
		if PointInPolygon(p, a.Boundary) {
			return a, true
		}
	}
	return model.Area{}, false
}

// SnapshotSource yields the current registry snapshot.
type SnapshotSource interface {
	Snapshot() *AreaSnapshot
}

// ZoneResolver resolves points against the live registry. Every call works
// on exactly one snapshot, so concurrent edits are either fully visible or
// not visible at all.
type ZoneResolver struct {
	areas SnapshotSource
}

// NewZoneResolver binds a resolver to src.
func NewZoneResolver(src SnapshotSource) *ZoneResolver {
	return &ZoneResolver{areas: src}
}

// Locate returns a copy of the first area containing p and the version of
// the snapshot it was resolved against.
func (z *ZoneResolver) Locate(p model.Coordinate) (model.Area, uint64, bool) {
	snap := z.areas.Snapshot()
	if snap == nil {
		return model.Area{}, 0, false
	}
	a, ok := Resolve(p, snap.Areas)
	if !ok {
		return model.Area{}, snap.Version, false
	}
	return a.Clone(), snap.Version, true
}
