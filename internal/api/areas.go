package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"

	"github.com/signalsfoundry/geofence/internal/logging"
	"github.com/signalsfoundry/geofence/internal/observability"
	"github.com/signalsfoundry/geofence/model"
)

type areaList struct {
	Version uint64       `json:"version"`
	Areas   []model.Area `json:"areas"`
}

func (s *Server) handleListAreas(w http.ResponseWriter, r *http.Request) {
	snap := s.Registry.Snapshot()
	areas := make([]model.Area, len(snap.Areas))
	for i, a := range snap.Areas {
		areas[i] = a.Clone()
	}
	writeJSON(w, http.StatusOK, areaList{Version: snap.Version, Areas: areas})
}

func (s *Server) handleCreateArea(w http.ResponseWriter, r *http.Request) {
	var spec model.AreaSpec
	if err := decode(r, &spec); err != nil {
		s.writeError(w, r, err)
		return
	}
	ctx, span := observability.StartSpan(r.Context(), "areas.Add", "area", "")
	defer span.End()
	area, err := s.Registry.Add(spec)
	if err != nil {
		span.RecordError(err)
		s.writeError(w, r, err)
		return
	}
	span.SetAttributes(attribute.Int64("area.id", area.ID))
	s.log.Info(ctx, "area created",
		logging.Int64("area_id", area.ID),
		logging.String("area", area.Name),
		logging.Bool("inert", !area.HasValidBoundary()),
	)
	w.Header().Set("Location", fmt.Sprintf("/v1/areas/%d", area.ID))
	writeJSON(w, http.StatusCreated, area)
}

func (s *Server) handleGetArea(w http.ResponseWriter, r *http.Request) {
	id, err := areaID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	area, ok := s.Registry.Get(id)
	if !ok {
		s.writeError(w, r, fmt.Errorf("%w: %d", model.ErrUnknownAreaID, id))
		return
	}
	writeJSON(w, http.StatusOK, area)
}

func (s *Server) handleUpdateArea(w http.ResponseWriter, r *http.Request) {
	id, err := areaID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var patch model.AreaPatch
	if err := decode(r, &patch); err != nil {
		s.writeError(w, r, err)
		return
	}
	if patch.Empty() {
		s.writeError(w, r, fmt.Errorf("%w: patch changes nothing", model.ErrValidation))
		return
	}
	ctx, span := observability.StartSpan(r.Context(), "areas.Update", "area", strconv.FormatInt(id, 10))
	defer span.End()
	area, err := s.Registry.Update(id, patch)
	if err != nil {
		span.RecordError(err)
		s.writeError(w, r, err)
		return
	}
	s.log.Info(ctx, "area updated", logging.Int64("area_id", area.ID), logging.Any("revision", area.Revision))
	writeJSON(w, http.StatusOK, area)
}

func (s *Server) handleDeleteArea(w http.ResponseWriter, r *http.Request) {
	id, err := areaID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ctx, span := observability.StartSpan(r.Context(), "areas.Remove", "area", strconv.FormatInt(id, 10))
	defer span.End()
	if err := s.Registry.Remove(id); err != nil {
		span.RecordError(err)
		s.writeError(w, r, err)
		return
	}
	s.log.Info(ctx, "area removed", logging.Int64("area_id", id))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSelectArea(w http.ResponseWriter, r *http.Request) {
	id, err := areaID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.Adapter.Select(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Surface.View())
}

func areaID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid area id %q", errBadRequest, raw)
	}
	return id, nil
}
