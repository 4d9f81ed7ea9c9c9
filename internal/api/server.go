// Package api exposes the geofence engine to collaborators over HTTP: area
// CRUD, click probes, position pushes, presence registration, drawing
// capture and the rendered map.
package api

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/geofence/core"
	"github.com/signalsfoundry/geofence/internal/drawing"
	"github.com/signalsfoundry/geofence/internal/logging"
	"github.com/signalsfoundry/geofence/internal/mapsync"
	"github.com/signalsfoundry/geofence/internal/observability"
	"github.com/signalsfoundry/geofence/internal/position"
	"github.com/signalsfoundry/geofence/internal/presence"
	"github.com/signalsfoundry/geofence/internal/surface"
	"github.com/signalsfoundry/geofence/internal/tracking"
	"github.com/signalsfoundry/geofence/model"
)

const tracerName = "github.com/signalsfoundry/geofence/internal/api"

// Deps are the components the API serves. Push may be nil when positions come
// from another source; Metrics may be nil.
type Deps struct {
	Registry *core.AreaRegistry
	Resolver *core.ZoneResolver
	Tracker  *tracking.Tracker
	Push     *position.PushSource
	Presence *presence.Workflow
	Adapter  *mapsync.Adapter
	Surface  *surface.GeoJSON
	Capture  *drawing.Capture
	Metrics  *observability.Collector
	Logger   logging.Logger

	// AdminToken, when non-empty, is required as a bearer token on routes
	// that change areas or drive the drawing capture.
	AdminToken string
}

// Server holds the HTTP handlers.
type Server struct {
	Deps
	log logging.Logger
}

// NewServer validates deps and builds a server.
func NewServer(d Deps) (*Server, error) {
	switch {
	case d.Registry == nil:
		return nil, fmt.Errorf("api: registry is required")
	case d.Tracker == nil:
		return nil, fmt.Errorf("api: tracker is required")
	case d.Presence == nil:
		return nil, fmt.Errorf("api: presence workflow is required")
	case d.Adapter == nil || d.Surface == nil:
		return nil, fmt.Errorf("api: map adapter and surface are required")
	case d.Capture == nil:
		return nil, fmt.Errorf("api: drawing capture is required")
	}
	if d.Resolver == nil {
		d.Resolver = core.NewZoneResolver(d.Registry)
	}
	return &Server{Deps: d, log: logging.OrNoop(d.Logger)}, nil
}

// Observe fans a tracked observation out to the presence workflow and the
// map. It is the tracker's sample callback.
func (s *Server) Observe(obs model.Observation) {
	s.Presence.Observe(obs)
	s.Adapter.ShowObservation(context.Background(), obs)
}

// Router builds the chi router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(requestID)
	r.Use(s.instrument)

	r.Get("/healthz", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/areas", func(r chi.Router) {
			r.Get("/", s.handleListAreas)
			r.With(s.requireAdmin).Post("/", s.handleCreateArea)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetArea)
				r.With(s.requireAdmin).Patch("/", s.handleUpdateArea)
				r.With(s.requireAdmin).Delete("/", s.handleDeleteArea)
				r.Post("/select", s.handleSelectArea)
			})
		})

		r.Get("/zones/resolve", s.handleResolve)
		r.Post("/map/click", s.handleMapClick)
		r.Get("/map", s.handleMap)

		r.Post("/positions", s.handlePushPosition)
		r.Get("/observation", s.handleObservation)

		r.Route("/registrations", func(r chi.Router) {
			r.Get("/", s.handleListRegistrations)
			r.Post("/", s.handleSubmitRegistration)
			r.Post("/begin", s.handleBeginRegistration)
			r.Post("/cancel", s.handleCancelRegistration)
		})

		r.Route("/drawing", func(r chi.Router) {
			r.Get("/", s.handleDrawingStatus)
			r.Group(func(r chi.Router) {
				r.Use(s.requireAdmin)
				r.Post("/begin", s.handleDrawingBegin)
				r.Post("/polygon", s.handleDrawingPolygon)
				r.Post("/commit", s.handleDrawingCommit)
				r.Post("/cancel", s.handleDrawingCancel)
			})
		})
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	state, reason := s.Tracker.State()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"tracker":       state.String(),
		"trackerReason": string(reason),
		"areas":         len(s.Registry.Snapshot().Areas),
	})
}

// requestID takes X-Request-Id from the caller or generates one, stores it on
// the context for logging and echoes it back.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if incoming := r.Header.Get(observability.RequestIDHeader); incoming != "" {
			ctx = logging.ContextWithRequestID(ctx, incoming)
		}
		ctx, id := logging.EnsureRequestID(ctx)
		w.Header().Set(observability.RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// instrument wraps each request in a server span and records metrics
// labelled by the matched route pattern.
func (s *Server) instrument(next http.Handler) http.Handler {
	tracer := otel.Tracer(tracerName)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx, span := tracer.Start(r.Context(), "HTTP "+r.Method, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		route := ""
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		span.SetName(strings.TrimSpace("HTTP " + r.Method + " " + route))
		span.SetAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.route", route),
			attribute.Int("http.status_code", status),
			attribute.String("request_id", logging.RequestIDFromContext(ctx)),
		)
		s.Metrics.ObserveHTTP(r.Method, route, status, time.Since(start))
		s.log.Debug(ctx, "http request",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Int("status", status),
			logging.Duration("elapsed", time.Since(start)),
		)
	})
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.AdminToken == "" {
			next.ServeHTTP(w, r)
			return
		}
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), []byte(s.AdminToken)) != 1 {
			s.writeError(w, r, errUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
