package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/signalsfoundry/geofence/internal/drawing"
	"github.com/signalsfoundry/geofence/internal/logging"
	"github.com/signalsfoundry/geofence/internal/tracking"
	"github.com/signalsfoundry/geofence/model"
)

var (
	errBadRequest   = errors.New("bad request")
	errUnauthorized = errors.New("unauthorized")
	errNoPushSource = errors.New("positions are not accepted from clients")
)

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// statusFor maps domain errors onto HTTP status codes and stable codes.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, errUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, model.ErrUnknownAreaID):
		return http.StatusNotFound, "unknown_area"
	case errors.Is(err, model.ErrValidation):
		return http.StatusUnprocessableEntity, "validation"
	case errors.Is(err, model.ErrInvalidCoordinate):
		return http.StatusUnprocessableEntity, "invalid_coordinate"
	case errors.Is(err, model.ErrInvalidBoundary):
		return http.StatusUnprocessableEntity, "invalid_boundary"
	case errors.Is(err, model.ErrNotEligible):
		return http.StatusConflict, "not_eligible"
	case errors.Is(err, drawing.ErrCaptureState):
		return http.StatusConflict, "capture_state"
	case errors.Is(err, tracking.ErrTrackerFailed):
		return http.StatusConflict, "tracker_failed"
	case errors.Is(err, errNoPushSource):
		return http.StatusConflict, "no_push_source"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status == http.StatusInternalServerError {
		s.log.Error(r.Context(), "request failed", logging.String("path", r.URL.Path), logging.Err(err))
	}
	writeJSON(w, status, errorBody{Error: err.Error(), Code: code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decode reads a JSON body into v, rejecting unknown fields.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, model.ErrInvalidCoordinate) {
			return err
		}
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}
