package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/signalsfoundry/geofence/internal/mapsync"
	"github.com/signalsfoundry/geofence/model"
)

type resolveResponse struct {
	Coordinate model.Coordinate `json:"coordinate"`
	Inside     bool             `json:"inside"`
	Area       *model.Area      `json:"area,omitempty"`
	Version    uint64           `json:"version"`
}

// handleResolve answers which area contains ?lat=&lng=.
func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	p, err := queryCoordinate(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	area, version, ok := s.Resolver.Locate(p)
	resp := resolveResponse{Coordinate: p, Inside: ok, Version: version}
	if ok {
		resp.Area = &area
	}
	writeJSON(w, http.StatusOK, resp)
}

type clickRequest struct {
	Coordinate model.Coordinate `json:"coordinate"`
}

// handleMapClick raises a click on the surface, which moves the last-click
// marker through the adapter, and answers with the area under the point.
func (s *Server) handleMapClick(w http.ResponseWriter, r *http.Request) {
	var req clickRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	at := req.Coordinate
	if !at.Valid() {
		s.writeError(w, r, fmt.Errorf("%w: %s", model.ErrInvalidCoordinate, at))
		return
	}
	s.Surface.Click(at)

	res := mapsync.ProbeResult{Coordinate: at}
	if area, _, ok := s.Resolver.Locate(at); ok {
		res.Area = &area
	}
	writeJSON(w, http.StatusOK, res)
}

type mapStatus struct {
	mapsync.Status
	View any `json:"view"`
}

// handleMap renders the surface as a GeoJSON feature collection, or the
// adapter's overlay bookkeeping when ?view=status.
func (s *Server) handleMap(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("view") == "status" {
		writeJSON(w, http.StatusOK, mapStatus{Status: s.Adapter.Status(), View: s.Surface.View()})
		return
	}
	body, err := s.Surface.FeatureCollection().MarshalJSON()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func queryCoordinate(r *http.Request) (model.Coordinate, error) {
	q := r.URL.Query()
	lat, err := strconv.ParseFloat(q.Get("lat"), 64)
	if err != nil {
		return model.Coordinate{}, fmt.Errorf("%w: lat: %v", errBadRequest, err)
	}
	lng, err := strconv.ParseFloat(q.Get("lng"), 64)
	if err != nil {
		return model.Coordinate{}, fmt.Errorf("%w: lng: %v", errBadRequest, err)
	}
	c := model.Coordinate{Lat: lat, Lng: lng}
	if !c.Valid() {
		return model.Coordinate{}, fmt.Errorf("%w: %s", model.ErrInvalidCoordinate, c)
	}
	return c, nil
}
