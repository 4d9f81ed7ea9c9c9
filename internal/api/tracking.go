package api

import (
	"fmt"
	"net/http"

	"github.com/signalsfoundry/geofence/model"
)

// positionRequest carries either a coordinate or a position error kind.
type positionRequest struct {
	Coordinate *model.Coordinate `json:"coordinate,omitempty"`
	Error      model.ErrorKind   `json:"error,omitempty"`
}

// handlePushPosition feeds a client-reported sample into the push source.
func (s *Server) handlePushPosition(w http.ResponseWriter, r *http.Request) {
	if s.Push == nil {
		s.writeError(w, r, errNoPushSource)
		return
	}
	var req positionRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	switch {
	case req.Error != model.ErrorKindNone && req.Coordinate != nil:
		s.writeError(w, r, fmt.Errorf("%w: coordinate and error are exclusive", errBadRequest))
		return
	case req.Error != model.ErrorKindNone:
		s.Push.PushError(req.Error.Err())
	case req.Coordinate != nil:
		if !req.Coordinate.Valid() {
			s.writeError(w, r, fmt.Errorf("%w: %s", model.ErrInvalidCoordinate, *req.Coordinate))
			return
		}
		s.Push.Push(*req.Coordinate)
	default:
		s.writeError(w, r, fmt.Errorf("%w: coordinate or error is required", errBadRequest))
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type observationResponse struct {
	Tracker       string             `json:"tracker"`
	Reason        model.ErrorKind    `json:"reason,omitempty"`
	Observation   *model.Observation `json:"observation,omitempty"`
	Presence      string             `json:"presence"`
	CanRegister   bool               `json:"canRegister"`
	Registrations int                `json:"registrations"`
}

func (s *Server) handleObservation(w http.ResponseWriter, r *http.Request) {
	state, reason := s.Tracker.State()
	resp := observationResponse{
		Tracker:       state.String(),
		Reason:        reason,
		Presence:      s.Presence.State().String(),
		CanRegister:   s.Presence.CanRegister(),
		Registrations: s.Presence.Log().Len(),
	}
	if obs, ok := s.Tracker.Latest(); ok {
		resp.Observation = &obs
	}
	writeJSON(w, http.StatusOK, resp)
}
