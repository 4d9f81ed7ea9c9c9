package api

import (
	"net/http"

	"github.com/signalsfoundry/geofence/model"
)

func (s *Server) handleDrawingStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Capture.Status())
}

func (s *Server) handleDrawingBegin(w http.ResponseWriter, r *http.Request) {
	if err := s.Capture.Begin(); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Capture.Status())
}

type polygonRequest struct {
	Boundary []model.Coordinate `json:"boundary"`
}

func (s *Server) handleDrawingPolygon(w http.ResponseWriter, r *http.Request) {
	var req polygonRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.Capture.PolygonDrawn(req.Boundary); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Capture.Status())
}

type commitRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (s *Server) handleDrawingCommit(w http.ResponseWriter, r *http.Request) {
	var req commitRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	area, err := s.Capture.Commit(r.Context(), req.Name, req.Description)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, area)
}

func (s *Server) handleDrawingCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.Capture.Cancel(); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Capture.Status())
}
