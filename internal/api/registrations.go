package api

import (
	"fmt"
	"net/http"

	"github.com/signalsfoundry/geofence/model"
)

func (s *Server) handleListRegistrations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"registrations": s.Presence.Log().List()})
}

func (s *Server) handleBeginRegistration(w http.ResponseWriter, r *http.Request) {
	if err := s.Presence.Begin(); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": s.Presence.State().String()})
}

func (s *Server) handleCancelRegistration(w http.ResponseWriter, r *http.Request) {
	s.Presence.Cancel()
	writeJSON(w, http.StatusOK, map[string]string{"state": s.Presence.State().String()})
}

type registrationRequest struct {
	Name string `json:"name"`
}

// handleSubmitRegistration registers name against the tracker's latest
// observation.
func (s *Server) handleSubmitRegistration(w http.ResponseWriter, r *http.Request) {
	var req registrationRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	obs, ok := s.Tracker.Latest()
	if !ok {
		s.writeError(w, r, fmt.Errorf("%w: no observation yet", model.ErrNotEligible))
		return
	}
	reg, err := s.Presence.Submit(r.Context(), req.Name, obs)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, reg)
}
