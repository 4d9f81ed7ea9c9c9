package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/geofence/core"
	"github.com/signalsfoundry/geofence/internal/drawing"
	"github.com/signalsfoundry/geofence/internal/mapsync"
	"github.com/signalsfoundry/geofence/internal/observability"
	"github.com/signalsfoundry/geofence/internal/position"
	"github.com/signalsfoundry/geofence/internal/presence"
	"github.com/signalsfoundry/geofence/internal/surface"
	"github.com/signalsfoundry/geofence/internal/tracking"
	"github.com/signalsfoundry/geofence/model"
)

const testToken = "s3cret"

type harness struct {
	t       *testing.T
	srv     *Server
	http    *httptest.Server
	push    *position.PushSource
	tracker *tracking.Tracker
	metrics *observability.Collector
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	metrics, err := observability.NewCollector(prometheus.NewRegistry())
	require.NoError(t, err)

	reg := core.NewAreaRegistry(core.WithAreaMetrics(metrics))
	resolver := core.NewZoneResolver(reg)
	push := position.NewPushSource(nil)
	tracker := tracking.New(push, resolver, tracking.WithMetrics(metrics), tracking.WithTimeout(2*time.Second))
	surf := surface.New()
	adapter := mapsync.NewAdapter(surf, resolver, mapsync.WithMetrics(metrics))
	stop := adapter.Follow(reg)
	t.Cleanup(stop)

	pres := presence.NewWorkflow(presence.NewLog(),
		presence.WithMetrics(metrics),
		presence.WithCommitHook(func(r model.Registration) {
			adapter.ShowRegistration(context.Background(), r)
		}),
	)

	capture := drawing.NewCapture(reg, nil)
	adapter.Attach(surf, func(b []model.Coordinate) { _ = capture.PolygonDrawn(b) })

	srv, err := NewServer(Deps{
		Registry:   reg,
		Resolver:   resolver,
		Tracker:    tracker,
		Push:       push,
		Presence:   pres,
		Adapter:    adapter,
		Surface:    surf,
		Capture:    capture,
		Metrics:    metrics,
		AdminToken: testToken,
	})
	require.NoError(t, err)

	hs := httptest.NewServer(srv.Router())
	t.Cleanup(hs.Close)

	return &harness{t: t, srv: srv, http: hs, push: push, tracker: tracker, metrics: metrics}
}

func (h *harness) do(method, path string, body any, admin bool) *http.Response {
	h.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(h.t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, h.http.URL+path, &buf)
	require.NoError(h.t, err)
	req.Header.Set("Content-Type", "application/json")
	if admin {
		req.Header.Set("Authorization", "Bearer "+testToken)
	}
	resp, err := h.http.Client().Do(req)
	require.NoError(h.t, err)
	h.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func squareSpec(name string, minLat, minLng, maxLat, maxLng float64) model.AreaSpec {
	return model.AreaSpec{
		Name: name,
		Boundary: []model.Coordinate{
			{Lat: minLat, Lng: minLng},
			{Lat: minLat, Lng: maxLng},
			{Lat: maxLat, Lng: maxLng},
			{Lat: maxLat, Lng: minLng},
		},
	}
}

func TestNewServerRequiresDeps(t *testing.T) {
	_, err := NewServer(Deps{})
	require.Error(t, err)
}

func TestAreaCRUD(t *testing.T) {
	h := newHarness(t)

	resp := h.do(http.MethodPost, "/v1/areas/", squareSpec("Finance", 0, 0, 1, 1), false)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = h.do(http.MethodPost, "/v1/areas/", squareSpec("Finance", 0, 0, 1, 1), true)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "/v1/areas/1", resp.Header.Get("Location"))
	created := decodeBody[model.Area](t, resp)
	assert.Equal(t, int64(1), created.ID)
	assert.Equal(t, model.DefaultStrokeColor, created.StrokeColor)

	resp = h.do(http.MethodPost, "/v1/areas/", model.AreaSpec{Name: "  "}, true)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "validation", decodeBody[errorBody](t, resp).Code)

	resp = h.do(http.MethodGet, "/v1/areas/1", nil, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Finance", decodeBody[model.Area](t, resp).Name)

	name := "Treasury"
	resp = h.do(http.MethodPatch, "/v1/areas/1", model.AreaPatch{Name: &name}, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	updated := decodeBody[model.Area](t, resp)
	assert.Equal(t, "Treasury", updated.Name)
	assert.Equal(t, uint64(2), updated.Revision)

	resp = h.do(http.MethodPatch, "/v1/areas/1", model.AreaPatch{}, true)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp = h.do(http.MethodPatch, "/v1/areas/42", model.AreaPatch{Name: &name}, true)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = h.do(http.MethodGet, "/v1/areas/abc", nil, false)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = h.do(http.MethodGet, "/v1/areas/", nil, false)
	list := decodeBody[areaList](t, resp)
	assert.Equal(t, uint64(2), list.Version)
	require.Len(t, list.Areas, 1)

	resp = h.do(http.MethodDelete, "/v1/areas/1", nil, true)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = h.do(http.MethodDelete, "/v1/areas/1", nil, true)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	assert.Equal(t, float64(0), testutil.ToFloat64(h.metrics.Areas))
}

func TestResolveAndClick(t *testing.T) {
	h := newHarness(t)
	h.do(http.MethodPost, "/v1/areas/", squareSpec("North", 1, 0, 2, 1), true)
	h.do(http.MethodPost, "/v1/areas/", squareSpec("South", 0, 0, 1, 1), true)

	resp := h.do(http.MethodGet, "/v1/zones/resolve?lat=0.5&lng=0.5", nil, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := decodeBody[resolveResponse](t, resp)
	assert.True(t, res.Inside)
	require.NotNil(t, res.Area)
	assert.Equal(t, "South", res.Area.Name)

	resp = h.do(http.MethodGet, "/v1/zones/resolve?lat=5&lng=5", nil, false)
	res = decodeBody[resolveResponse](t, resp)
	assert.False(t, res.Inside)
	assert.Nil(t, res.Area)

	resp = h.do(http.MethodGet, "/v1/zones/resolve?lat=NaN&lng=0", nil, false)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	resp = h.do(http.MethodGet, "/v1/zones/resolve?lat=x", nil, false)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = h.do(http.MethodPost, "/v1/map/click", clickRequest{Coordinate: model.Coordinate{Lat: 1.5, Lng: 0.5}}, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	probe := decodeBody[mapsync.ProbeResult](t, resp)
	require.NotNil(t, probe.Area)
	assert.Equal(t, "North", probe.Area.Name)
	assert.Contains(t, h.srv.Adapter.Status().Markers, string(mapsync.MarkerLastClick))

	resp = h.do(http.MethodPost, "/v1/areas/2/select", nil, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	selected, ok := h.srv.Adapter.Selected()
	assert.True(t, ok)
	assert.Equal(t, int64(2), selected)

	resp = h.do(http.MethodPost, "/v1/areas/9/select", nil, false)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPresenceFlow(t *testing.T) {
	h := newHarness(t)
	h.do(http.MethodPost, "/v1/areas/", squareSpec("Finance", 0, 0, 1, 1), true)

	resp := h.do(http.MethodPost, "/v1/registrations/begin", nil, false)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp = h.do(http.MethodPost, "/v1/registrations/", registrationRequest{Name: "Ana"}, false)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub, err := h.tracker.Start(ctx, h.srv.Observe, nil)
	require.NoError(t, err)
	defer sub.Stop()

	inside := positionRequest{Coordinate: &model.Coordinate{Lat: 0.5, Lng: 0.5}}
	require.Eventually(t, func() bool {
		h.do(http.MethodPost, "/v1/positions", inside, false)
		return h.srv.Presence.CanRegister()
	}, 3*time.Second, 20*time.Millisecond)

	resp = h.do(http.MethodGet, "/v1/observation", nil, false)
	obs := decodeBody[observationResponse](t, resp)
	assert.Equal(t, "active", obs.Tracker)
	assert.True(t, obs.CanRegister)
	require.NotNil(t, obs.Observation)
	require.NotNil(t, obs.Observation.Area)
	assert.Equal(t, "Finance", obs.Observation.Area.Name)

	resp = h.do(http.MethodPost, "/v1/registrations/begin", nil, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = h.do(http.MethodPost, "/v1/registrations/", registrationRequest{Name: "Ana"}, false)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	reg := decodeBody[model.Registration](t, resp)
	assert.Equal(t, "Ana", reg.Name)
	assert.Equal(t, "Finance", reg.AreaName)

	resp = h.do(http.MethodGet, "/v1/registrations/", nil, false)
	list := decodeBody[map[string][]model.Registration](t, resp)
	assert.Len(t, list["registrations"], 1)
	assert.Contains(t, h.srv.Adapter.Status().Markers, string(mapsync.MarkerRegistration)+":"+reg.ID.String())

	resp = h.do(http.MethodPost, "/v1/registrations/", registrationRequest{Name: " "}, false)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	outside := positionRequest{Coordinate: &model.Coordinate{Lat: 5, Lng: 5}}
	require.Eventually(t, func() bool {
		h.do(http.MethodPost, "/v1/positions", outside, false)
		return !h.srv.Presence.CanRegister()
	}, 3*time.Second, 20*time.Millisecond)

	resp = h.do(http.MethodPost, "/v1/registrations/", registrationRequest{Name: "Ben"}, false)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, 1, h.srv.Presence.Log().Len())
}

func TestPushPositionValidation(t *testing.T) {
	h := newHarness(t)

	resp := h.do(http.MethodPost, "/v1/positions", positionRequest{}, false)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = h.do(http.MethodPost, "/v1/positions", positionRequest{
		Coordinate: &model.Coordinate{Lat: 1, Lng: 1},
		Error:      model.ErrorKindTimeout,
	}, false)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = h.do(http.MethodPost, "/v1/positions", map[string]any{"bogus": true}, false)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = h.do(http.MethodPost, "/v1/positions", positionRequest{Error: model.ErrorKindPermissionDenied}, false)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	deps := h.srv.Deps
	deps.Push = nil
	noPush, err := NewServer(deps)
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/positions", strings.NewReader(`{"coordinate":[1,1]}`))
	noPush.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "no_push_source", decodeBody[errorBody](t, rec.Result()).Code)
}

func TestTrackerFailureSurfacesReason(t *testing.T) {
	h := newHarness(t)

	errs := make(chan error, 1)
	sub, err := h.tracker.Start(context.Background(), h.srv.Observe, func(err error) { errs <- err })
	require.NoError(t, err)
	defer sub.Stop()

	require.Eventually(t, func() bool {
		h.do(http.MethodPost, "/v1/positions", positionRequest{Error: model.ErrorKindPermissionDenied}, false)
		select {
		case <-errs:
			return true
		default:
			return false
		}
	}, 3*time.Second, 20*time.Millisecond)

	resp := h.do(http.MethodGet, "/v1/observation", nil, false)
	obs := decodeBody[observationResponse](t, resp)
	assert.Equal(t, "failed", obs.Tracker)
	assert.Equal(t, model.ErrorKindPermissionDenied, obs.Reason)
	assert.False(t, obs.CanRegister)
}

func TestDrawingCapture(t *testing.T) {
	h := newHarness(t)

	resp := h.do(http.MethodPost, "/v1/drawing/begin", nil, false)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = h.do(http.MethodPost, "/v1/drawing/begin", nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "drawing", decodeBody[drawing.Status](t, resp).State)

	bowtie := polygonRequest{Boundary: []model.Coordinate{
		{Lat: 0, Lng: 0}, {Lat: 2, Lng: 2}, {Lat: 2, Lng: 0}, {Lat: 0, Lng: 2},
	}}
	resp = h.do(http.MethodPost, "/v1/drawing/polygon", bowtie, true)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "invalid_boundary", decodeBody[errorBody](t, resp).Code)

	resp = h.do(http.MethodPost, "/v1/drawing/commit", commitRequest{Name: "Early"}, true)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = h.do(http.MethodPost, "/v1/drawing/polygon", polygonRequest{Boundary: squareSpec("", 0, 0, 1, 1).Boundary}, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "pending_metadata", decodeBody[drawing.Status](t, resp).State)

	resp = h.do(http.MethodPost, "/v1/drawing/commit", commitRequest{Name: ""}, true)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp = h.do(http.MethodPost, "/v1/drawing/commit", commitRequest{Name: "Archive", Description: "basement"}, true)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	area := decodeBody[model.Area](t, resp)
	assert.Equal(t, "Archive", area.Name)
	assert.Equal(t, model.DefaultFillColor, area.FillColor)

	got, ok := h.srv.Registry.Get(area.ID)
	require.True(t, ok)
	assert.Equal(t, "basement", got.Description)

	resp = h.do(http.MethodGet, "/v1/drawing/", nil, false)
	status := decodeBody[drawing.Status](t, resp)
	assert.Equal(t, "inactive", status.State)
	require.NotNil(t, status.Last)
	assert.Equal(t, area.ID, status.Last.ID)

	resp = h.do(http.MethodPost, "/v1/drawing/cancel", nil, true)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMapRendersSyncedAreas(t *testing.T) {
	h := newHarness(t)
	h.do(http.MethodPost, "/v1/areas/", squareSpec("Finance", 0, 0, 1, 1), true)
	h.do(http.MethodPost, "/v1/areas/", model.AreaSpec{Name: "Inert", Boundary: []model.Coordinate{{Lat: 3, Lng: 3}}}, true)

	resp := h.do(http.MethodGet, "/v1/map", nil, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/geo+json", resp.Header.Get("Content-Type"))
	fc := decodeBody[map[string]any](t, resp)
	assert.Equal(t, "FeatureCollection", fc["type"])
	assert.Len(t, fc["features"], 1)

	resp = h.do(http.MethodGet, "/v1/map?view=status", nil, false)
	st := decodeBody[map[string]any](t, resp)
	assert.EqualValues(t, 2, st["version"])
	assert.Len(t, st["areas"], 1)
}

func TestRequestIDAndMetrics(t *testing.T) {
	h := newHarness(t)

	req, err := http.NewRequest(http.MethodGet, h.http.URL+"/healthz", nil)
	require.NoError(t, err)
	req.Header.Set(observability.RequestIDHeader, "req-123")
	resp, err := h.http.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "req-123", resp.Header.Get(observability.RequestIDHeader))

	resp = h.do(http.MethodGet, "/healthz", nil, false)
	assert.NotEmpty(t, resp.Header.Get(observability.RequestIDHeader))
	health := decodeBody[map[string]any](t, resp)
	assert.Equal(t, "idle", health["tracker"])

	assert.Equal(t, float64(2), testutil.ToFloat64(h.metrics.HTTPRequests.WithLabelValues(http.MethodGet, "/healthz", "200")))
}
